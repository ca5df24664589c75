package view

import (
	"bytes"
	"html/template"
)

// NotFoundPageData fills the page shown to browsers when a short link does
// not resolve.
type NotFoundPageData struct {
	Host string
	Code string
}

var notFoundPageTmpl = template.Must(template.New("not_found_page").Parse(`<!DOCTYPE html>
<html lang="en">
<head>
	<meta charset="utf-8" />
	<meta name="viewport" content="width=device-width, initial-scale=1" />
	<meta name="robots" content="noindex" />
	<title>Link not found</title>
	<style>
		:root {
			--bg: #0b0d12;
			--card: rgba(255, 255, 255, 0.04);
			--border: rgba(255, 255, 255, 0.12);
			--text: #e5e9f5;
			--muted: #9aa4bb;
			font-family: -apple-system, BlinkMacSystemFont, "Segoe UI", sans-serif;
		}
		body {
			margin: 0;
			min-height: 100vh;
			display: flex;
			align-items: center;
			justify-content: center;
			background: var(--bg);
			color: var(--text);
		}
		.card {
			background: var(--card);
			border: 1px solid var(--border);
			border-radius: 16px;
			padding: 28px 32px;
			width: min(480px, 92vw);
		}
		h1 { font-size: 1.4rem; margin: 0 0 8px; }
		p { color: var(--muted); margin: 0; line-height: 1.5; }
		code { color: var(--text); word-break: break-all; }
	</style>
</head>
<body>
	<div class="card">
		<h1>Link not found</h1>
		<p>{{if .Host}}<code>{{.Host}}/{{.Code}}</code>{{else}}<code>/{{.Code}}</code>{{end}} does not point anywhere right now.
		It may have expired or been removed.</p>
	</div>
</body>
</html>
`))

// RenderNotFoundPage expands the not-found template.
func RenderNotFoundPage(data NotFoundPageData) (string, error) {
	var buf bytes.Buffer
	if err := notFoundPageTmpl.Execute(&buf, data); err != nil {
		return "", err
	}
	return buf.String(), nil
}
