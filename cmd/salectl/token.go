package main

import (
	"flag"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"crowdsale/crypto"
	"crowdsale/services/saled/server"
)

func runToken(args []string, out io.Writer) error {
	flags := flag.NewFlagSet("token", flag.ContinueOnError)
	secretEnv := flags.String("secret-env", defaultSecretEnv, "Environment variable containing the HMAC secret")
	subject := flags.String("sub", "", "Account address the token acts for")
	scopes := flags.String("scope", server.ScopeContribute, "Comma separated scopes (contribute, controller)")
	ttl := flags.Duration("ttl", time.Hour, "Token lifetime")
	issuer := flags.String("issuer", "", "Issuer claim")
	audience := flags.String("audience", "", "Audience claim")
	if err := flags.Parse(args); err != nil {
		return err
	}
	secret := os.Getenv(*secretEnv)
	if strings.TrimSpace(secret) == "" {
		return fmt.Errorf("%s is not set", *secretEnv)
	}
	addr, err := crypto.ParseAddress(*subject)
	if err != nil {
		return fmt.Errorf("-sub: %w", err)
	}
	token, err := server.IssueToken(secret, server.TokenRequest{
		Subject:  addr,
		Scopes:   splitScopes(*scopes),
		Issuer:   *issuer,
		Audience: *audience,
		TTL:      *ttl,
	}, time.Now())
	if err != nil {
		return err
	}
	fmt.Fprintln(out, token)
	return nil
}

func splitScopes(raw string) []string {
	fields := strings.FieldsFunc(raw, func(r rune) bool { return r == ',' || r == ' ' })
	out := make([]string, 0, len(fields))
	for _, field := range fields {
		if trimmed := strings.TrimSpace(field); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}
