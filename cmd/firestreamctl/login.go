package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/oauth2"

	"github.com/lumen-data/firestream/internal/credentials"
)

var loginCmd = &cobra.Command{
	Use:   "login",
	Short: "Run the interactive PKCE login flow and cache the resulting token",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}

		clientID := os.Getenv("FIRESTREAM_OAUTH_CLIENT_ID")
		if clientID == "" {
			return fmt.Errorf("firestreamctl: FIRESTREAM_OAUTH_CLIENT_ID is not set")
		}
		authURL := os.Getenv("FIRESTREAM_OAUTH_AUTH_URL")
		if authURL == "" {
			authURL = "https://accounts.google.com/o/oauth2/v2/auth"
		}
		tokenURL := os.Getenv("FIRESTREAM_OAUTH_TOKEN_URL")
		if tokenURL == "" {
			tokenURL = "https://oauth2.googleapis.com/token"
		}

		ctx, cancel := context.WithTimeout(cmd.Context(), 5*time.Minute)
		defer cancel()

		source, err := credentials.Login(ctx, credentials.LoginConfig{
			OAuth2Config: &oauth2.Config{
				ClientID:     clientID,
				ClientSecret: os.Getenv("FIRESTREAM_OAUTH_CLIENT_SECRET"),
				Endpoint:     oauth2.Endpoint{AuthURL: authURL, TokenURL: tokenURL},
				Scopes:       []string{"https://www.googleapis.com/auth/datastore"},
			},
			ListenAddr: "127.0.0.1:0",
		})
		if err != nil {
			return fmt.Errorf("firestreamctl: login: %w", err)
		}

		cachePath := cfg.TokenCachePath
		if cachePath == "" {
			cachePath = defaultTokenCachePath(cfg.Database.PersistenceKey)
		}
		provider, err := credentials.NewProvider(source, cachePath)
		if err != nil {
			return fmt.Errorf("firestreamctl: building token cache: %w", err)
		}
		defer provider.Close()

		type outcome struct {
			token string
			err   error
		}
		done := make(chan outcome, 1)
		provider.GetToken(true, func(token string, err error) { done <- outcome{token, err} })

		o := <-done
		if o.err != nil {
			return fmt.Errorf("firestreamctl: caching token: %w", o.err)
		}
		fmt.Printf("login complete; token cached at %s\n", cachePath)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(loginCmd)
}
