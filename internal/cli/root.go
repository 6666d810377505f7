// Package cli implements wachatctl, the operator's console for tenant
// diagnostics: resolve a code, check provider settings, evaluate a
// session window offline, and mint tenant tokens.
//
// Commands that touch the registry load the same configuration as
// cmd/web, including Vault references.  Output never contains database
// passwords or provider keys.
package cli

import (
	"context"
	"io"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/yanizio/wachat/internal/config"
	"github.com/yanizio/wachat/internal/logger"
	"github.com/yanizio/wachat/internal/provider"
	"github.com/yanizio/wachat/internal/tenant"
	"github.com/yanizio/wachat/internal/tenant/registry"
	"github.com/yanizio/wachat/internal/vault"
)

// Registry is what the registry commands need.
type Registry interface {
	Lookup(ctx context.Context, code string) (*registry.Result, error)
	provider.SettingsSource
}

// env carries state shared by subcommands.  Tests replace openRegistry.
type env struct {
	logLevel string
	log      *zap.SugaredLogger
	codes    tenant.Codes

	openRegistry func(ctx context.Context) (Registry, error)
}

func newRootCmd(e *env) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "wachatctl",
		Short: "wachatctl: tenant diagnostics for the WhatsApp console",
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			level := e.logLevel
			if level == "" {
				level = "warn"
			}
			if e.log == nil {
				e.log = logger.Console(level)
			}
			return nil
		},
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cmd.PersistentFlags().StringVar(&e.logLevel, "log-level", "", "log level (debug, info, warn, error)")
	cmd.PersistentFlags().StringVar(&e.codes.Prefix, "prefix", "spotty", "tenant code prefix for bare numbers")

	cmd.AddCommand(newResolveCmd(e))
	cmd.AddCommand(newSettingsCmd(e))
	cmd.AddCommand(newWindowCmd(e))
	cmd.AddCommand(newTokenCmd(e))
	return cmd
}

// Execute runs the root command against the configured registry.
func Execute(ctx context.Context, stdout io.Writer) error {
	e := &env{}
	e.openRegistry = func(ctx context.Context) (Registry, error) {
		return openRegistry(ctx, e.log)
	}
	cmd := newRootCmd(e)
	cmd.SetOut(stdout)
	return cmd.ExecuteContext(ctx)
}

// openRegistry loads config, resolves Vault references, and returns a
// Resolver.
func openRegistry(ctx context.Context, log *zap.SugaredLogger) (Registry, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	if cfg.Vault.Enabled || config.HasVaultRefs(cfg) {
		vc, err := vault.New(ctx, log)
		if err != nil {
			return nil, err
		}
		if err := config.ResolveSecrets(ctx, cfg, vc); err != nil {
			return nil, err
		}
	}
	return registry.FromConfig(cfg.Registry, cfg.TenantDB.ConnectTimeout, log), nil
}
