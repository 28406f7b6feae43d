package main

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"github.com/wmsync/backend/internal/infrastructure/auth"
	"github.com/wmsync/backend/internal/infrastructure/config"
)

//	@title			WMS Sync API
//	@version		1.0
//	@description	Mirrors warehouse management system data into canonical tables and exposes sync status.

//	@BasePath	/api/v1

//	@securityDefinitions.apikey	BearerAuth
//	@in							header
//	@name						Authorization
//	@description				Service token. Format: "Bearer {token}"

// version is set at build time with -ldflags "-X main.version=..."
var version = "dev"

type serveOptions struct {
	configDir string
	migrate   bool
}

type tokenOptions struct {
	configDir string
	tenantID  string
	subject   string
	scopes    string
	ttl       time.Duration
}

func main() {
	if err := newRootCommand().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	root := &cobra.Command{
		Use:          "server",
		Short:        "WMS sync and reconciliation service",
		SilenceUsage: true,
		Version:      version,
	}
	root.AddCommand(newServeCommand(), newTokenCommand())
	return root
}

func newServeCommand() *cobra.Command {
	opts := &serveOptions{}
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API, the webhook receiver and the sync scheduler",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return serve(cmd.Context(), opts)
		},
	}
	cmd.Flags().StringVar(&opts.configDir, "config", "", "directory containing config.toml (default: ., ./config, /etc/wmsync)")
	cmd.Flags().BoolVar(&opts.migrate, "migrate", false, "apply embedded migrations before serving")
	return cmd
}

func newTokenCommand() *cobra.Command {
	opts := &tokenOptions{}
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Issue a service token for the sync API",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			tenantID, err := uuid.Parse(opts.tenantID)
			if err != nil {
				return fmt.Errorf("invalid tenant id %q", opts.tenantID)
			}
			scopes, err := parseScopes(opts.scopes)
			if err != nil {
				return err
			}

			cfg, err := loadConfig(opts.configDir)
			if err != nil {
				return err
			}
			verifier, err := auth.NewServiceTokenVerifier(cfg.JWT)
			if err != nil {
				return err
			}
			token, expiresAt, err := verifier.Issue(auth.IssueInput{
				TenantID: tenantID,
				Subject:  opts.subject,
				Scopes:   scopes,
				TTL:      opts.ttl,
			})
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), token)
			fmt.Fprintf(cmd.ErrOrStderr(), "expires at %s\n", expiresAt.Format(time.RFC3339))
			return nil
		},
	}
	cmd.Flags().StringVar(&opts.configDir, "config", "", "directory containing config.toml")
	cmd.Flags().StringVar(&opts.tenantID, "tenant", "", "tenant id the token is bound to")
	cmd.Flags().StringVar(&opts.subject, "subject", "crud-app", "calling service name")
	cmd.Flags().StringVar(&opts.scopes, "scopes", "", "comma separated scopes (sync:read, sync:write); empty grants all")
	cmd.Flags().DurationVar(&opts.ttl, "ttl", 24*time.Hour, "token lifetime")
	_ = cmd.MarkFlagRequired("tenant")
	return cmd
}

func parseScopes(raw string) ([]string, error) {
	if strings.TrimSpace(raw) == "" {
		return nil, nil
	}
	var scopes []string
	for _, s := range strings.Split(raw, ",") {
		s = strings.TrimSpace(s)
		switch s {
		case "":
			continue
		case auth.ScopeSyncRead, auth.ScopeSyncWrite:
			scopes = append(scopes, s)
		default:
			return nil, fmt.Errorf("unknown scope %q", s)
		}
	}
	return scopes, nil
}

func newLoader(dir string) *config.Loader {
	if dir == "" {
		return config.NewLoader()
	}
	return config.NewLoader(dir)
}

func loadConfig(dir string) (*config.Config, error) {
	cfg, err := newLoader(dir).Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}
	return cfg, nil
}
