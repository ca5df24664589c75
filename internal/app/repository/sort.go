package repository

// SortKey is the closed set of orderings a link listing accepts.
type SortKey string

const (
	SortCreatedDesc SortKey = "created_desc"
	SortCreatedAsc  SortKey = "created_asc"
	SortClicksDesc  SortKey = "clicks_desc"
	SortClicksAsc   SortKey = "clicks_asc"
	SortCodeAsc     SortKey = "code_asc"
	SortCodeDesc    SortKey = "code_desc"
	SortOwnerAsc    SortKey = "owner_asc"
	SortOwnerDesc   SortKey = "owner_desc"
	SortTargetAsc   SortKey = "target_asc"
	SortTargetDesc  SortKey = "target_desc"
	SortDomainAsc   SortKey = "domain_asc"
	SortDomainDesc  SortKey = "domain_desc"
)

var sortOrders = map[SortKey][]string{
	SortCreatedDesc: {"links.created_at_utc DESC", "links.id DESC"},
	SortCreatedAsc:  {"links.created_at_utc ASC", "links.id ASC"},
	SortClicksDesc:  {"links.clicks DESC", "links.created_at_utc DESC", "links.id DESC"},
	SortClicksAsc:   {"links.clicks ASC", "links.created_at_utc DESC", "links.id DESC"},
	SortCodeAsc:     {"links.code ASC", "links.id ASC"},
	SortCodeDesc:    {"links.code DESC", "links.id DESC"},
	SortOwnerAsc:    {"owners.display_name ASC", "links.created_at_utc DESC", "links.id DESC"},
	SortOwnerDesc:   {"owners.display_name DESC", "links.created_at_utc DESC", "links.id DESC"},
	SortTargetAsc:   {"links.target_url ASC", "links.id ASC"},
	SortTargetDesc:  {"links.target_url DESC", "links.id DESC"},
	SortDomainAsc:   {"links.domain_key ASC", "links.code ASC", "links.id ASC"},
	SortDomainDesc:  {"links.domain_key DESC", "links.code ASC", "links.id DESC"},
}

// OwnerSortKey is the closed set of orderings an owner listing accepts.
type OwnerSortKey string

const (
	OwnerSortLinksDesc OwnerSortKey = "links_desc"
	OwnerSortLinksAsc  OwnerSortKey = "links_asc"
	OwnerSortNameAsc   OwnerSortKey = "name_asc"
	OwnerSortNameDesc  OwnerSortKey = "name_desc"
	OwnerSortEmailAsc  OwnerSortKey = "email_asc"
	OwnerSortEmailDesc OwnerSortKey = "email_desc"
)

var ownerSortOrders = map[OwnerSortKey][]string{
	OwnerSortLinksDesc: {"live_links DESC", "owners.updated_at_utc DESC", "owners.sub ASC"},
	OwnerSortLinksAsc:  {"live_links ASC", "owners.updated_at_utc DESC", "owners.sub ASC"},
	OwnerSortNameAsc:   {"owners.display_name ASC", "owners.updated_at_utc DESC", "owners.sub ASC"},
	OwnerSortNameDesc:  {"owners.display_name DESC", "owners.updated_at_utc DESC", "owners.sub ASC"},
	OwnerSortEmailAsc:  {"owners.email ASC", "owners.updated_at_utc DESC", "owners.sub ASC"},
	OwnerSortEmailDesc: {"owners.email DESC", "owners.updated_at_utc DESC", "owners.sub ASC"},
}

// ParseOwnerSortKey maps user input onto a known key, falling back to
// OwnerSortLinksDesc.
func ParseOwnerSortKey(s string) (OwnerSortKey, bool) {
	key := OwnerSortKey(s)
	if _, ok := ownerSortOrders[key]; ok {
		return key, true
	}
	return OwnerSortLinksDesc, false
}

func (k OwnerSortKey) orderClauses() []string {
	if clauses, ok := ownerSortOrders[k]; ok {
		return clauses
	}
	return ownerSortOrders[OwnerSortLinksDesc]
}

// ParseSortKey maps user input onto a known key. Unknown or empty input falls
// back to SortCreatedDesc and reports false.
func ParseSortKey(s string) (SortKey, bool) {
	key := SortKey(s)
	if _, ok := sortOrders[key]; ok {
		return key, true
	}
	return SortCreatedDesc, false
}

func (k SortKey) orderClauses() []string {
	if clauses, ok := sortOrders[k]; ok {
		return clauses
	}
	return sortOrders[SortCreatedDesc]
}
