// Command token mints identity tokens for the management API. The upstream
// auth proxy normally does this; the command covers local runs and scripts.
package main

import (
	"fmt"
	"os"
	"time"

	"github.com/pslib/urlshortener/config"
	httpUtil "github.com/pslib/urlshortener/internal/http/util"
	"github.com/spf13/pflag"
)

func main() {
	subject := pflag.StringP("subject", "s", "", "subject (user id) the token vouches for")
	admin := pflag.Bool("admin", false, "grant administrator rights")
	ttl := pflag.Duration("ttl", 24*time.Hour, "token lifetime")
	secret := pflag.String("secret", "", "signing secret (defaults to auth.secret from config)")
	pflag.Parse()

	if *subject == "" {
		fmt.Fprintln(os.Stderr, "token: --subject is required")
		pflag.Usage()
		os.Exit(2)
	}

	key := *secret
	if key == "" {
		cfg, err := config.Load()
		if err != nil {
			fmt.Fprintf(os.Stderr, "token: load config: %v\n", err)
			os.Exit(1)
		}
		key = cfg.Auth.Secret
	}

	token, err := httpUtil.NewTokenSigner([]byte(key)).Issue(*subject, *admin, *ttl)
	if err != nil {
		fmt.Fprintf(os.Stderr, "token: %v\n", err)
		os.Exit(1)
	}
	fmt.Println(token)
}
