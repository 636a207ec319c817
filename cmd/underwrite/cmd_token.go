package main

import (
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/gyaneshwarpardhi/underwriting/internal/api"
	"github.com/gyaneshwarpardhi/underwriting/internal/platform/settings"
)

var tokenFlags struct {
	subject string
	ttl     time.Duration
	key     string
	issuer  string
}

var tokenCmd = &cobra.Command{
	Use:   "token",
	Short: "Issue a bearer token for local testing",
	RunE:  runToken,
}

func init() {
	env := settings.FromEnv()
	f := tokenCmd.Flags()
	f.StringVar(&tokenFlags.subject, "subject", "", "Actor recorded on transitions (required)")
	f.DurationVar(&tokenFlags.ttl, "ttl", 8*time.Hour, "Token lifetime")
	f.StringVar(&tokenFlags.key, "jwt-signing-key", env.JWTSigningKey, "HS256 signing key")
	f.StringVar(&tokenFlags.issuer, "jwt-issuer", env.JWTIssuer, "Token issuer")
	_ = tokenCmd.MarkFlagRequired("subject")
}

func runToken(cmd *cobra.Command, _ []string) error {
	if tokenFlags.key == "" {
		return errors.New("a signing key is required (--jwt-signing-key or UW_JWT_SIGNING_KEY)")
	}
	token, err := api.NewAuthenticator(tokenFlags.key, tokenFlags.issuer).Issue(tokenFlags.subject, tokenFlags.ttl)
	if err != nil {
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), token)
	return nil
}
