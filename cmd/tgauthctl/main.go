package main

import (
	"encoding/base64"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/medmarket/tgauth/client/api"
	"github.com/medmarket/tgauth/client/session"
	"github.com/medmarket/tgauth/client/tokenstore"
	"github.com/medmarket/tgauth/internal/pkg/log"
)

const (
	envBaseURL = "API_BASE_URL"
	envKey     = "TGAUTHCTL_KEY"
)

var version = "dev"

type globalFlags struct {
	baseURL  string
	stateDir string
	keyFile  string
	verbose  bool
}

func main() {
	var g globalFlags

	rootCmd := &cobra.Command{
		Use:           "tgauthctl",
		Short:         "Sign in to the marketplace API and manage the local session",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	rootCmd.PersistentFlags().StringVar(&g.baseURL, "api", os.Getenv(envBaseURL), "API base URL (env "+envBaseURL+")")
	rootCmd.PersistentFlags().StringVar(&g.stateDir, "state-dir", "", "session directory (default: user config dir)")
	rootCmd.PersistentFlags().StringVar(&g.keyFile, "key-file", "", "file holding the base64 token encryption key (default: env "+envKey+")")
	rootCmd.PersistentFlags().BoolVarP(&g.verbose, "verbose", "v", false, "debug logging")

	rootCmd.AddCommand(
		loginCmd(&g),
		refreshCmd(&g),
		logoutCmd(&g),
		statusCmd(&g),
		profileCmd(&g),
		signCmd(),
	)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "tgauthctl: %s\n", err)
		os.Exit(1)
	}
}

func (g *globalFlags) logger() *slog.Logger {
	if g.verbose {
		return log.New(log.EnvLocal, os.Stderr)
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn}))
}

// controller wires the API client and the on-disk token store into a session.
// Tokens go to an encrypted file; the profile goes to a plain JSON file.
func (g *globalFlags) controller() (*session.Controller, error) {
	logger := g.logger()

	client, err := api.New(api.Options{BaseURL: g.baseURL, Logger: logger})
	if err != nil {
		return nil, fmt.Errorf("%w (set --api or %s)", err, envBaseURL)
	}

	dir, err := g.dir()
	if err != nil {
		return nil, err
	}
	key, err := g.key()
	if err != nil {
		return nil, err
	}
	secure, err := tokenstore.NewEncryptedFileBackend(filepath.Join(dir, "tokens.enc.json"), key)
	if err != nil {
		return nil, err
	}
	store, err := tokenstore.New(tokenstore.Options{
		Secure: secure,
		Plain:  tokenstore.NewFileBackend(filepath.Join(dir, "session.json")),
		Logger: logger,
	})
	if err != nil {
		return nil, err
	}

	return session.New(session.Options{Store: store, Backend: client, Logger: logger})
}

func (g *globalFlags) dir() (string, error) {
	if g.stateDir != "" {
		return g.stateDir, nil
	}
	base, err := os.UserConfigDir()
	if err != nil {
		return "", fmt.Errorf("locate config dir: %w", err)
	}
	return filepath.Join(base, "tgauthctl"), nil
}

func (g *globalFlags) key() ([]byte, error) {
	raw := os.Getenv(envKey)
	if g.keyFile != "" {
		b, err := os.ReadFile(g.keyFile)
		if err != nil {
			return nil, fmt.Errorf("read key file: %w", err)
		}
		raw = string(b)
	}
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, errors.New("no encryption key: set " + envKey + " or --key-file (32 bytes, base64)")
	}
	key, err := base64.StdEncoding.DecodeString(raw)
	if err != nil {
		return nil, fmt.Errorf("decode key: %w", err)
	}
	return key, nil
}
