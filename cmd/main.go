// cmd/main.go is the application entry point.
// It wires together all layers behind the serve, migrate and drain commands.
package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/Shivanand-hulikatti/campaign-admission/internal/config"
	"github.com/Shivanand-hulikatti/campaign-admission/internal/database"
	"github.com/Shivanand-hulikatti/campaign-admission/internal/repository"
	"github.com/Shivanand-hulikatti/campaign-admission/internal/repository/memory"
	"github.com/Shivanand-hulikatti/campaign-admission/internal/repository/postgres"
	"github.com/Shivanand-hulikatti/campaign-admission/internal/telemetry"
)

// Build information injected via ldflags at build time.
var version = "dev"

func main() {
	if err := newRootCmd(os.Stderr).Execute(); err != nil {
		os.Exit(1)
	}
}

// app is the state shared by every command once configuration is loaded.
type app struct {
	v       *viper.Viper
	cfgFile string
	out     io.Writer

	cfg    config.Config
	logger *slog.Logger
}

func newRootCmd(out io.Writer) *cobra.Command {
	a := &app{v: viper.New(), out: out}

	root := &cobra.Command{
		Use:          "admission",
		Short:        "Capacity-bounded campaign admission service",
		Version:      version,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return a.load()
		},
	}
	root.PersistentFlags().StringVarP(&a.cfgFile, "config", "c", "", "config file (yaml, json or toml)")
	root.PersistentFlags().String("store", "", "storage backend: postgres or memory")
	root.PersistentFlags().String("log-level", "", "log level: debug, info, warn, error")
	_ = a.v.BindPFlag("store", root.PersistentFlags().Lookup("store"))
	_ = a.v.BindPFlag("log.level", root.PersistentFlags().Lookup("log-level"))

	root.AddCommand(newServeCmd(a), newMigrateCmd(a), newDrainCmd(a))
	return root
}

func (a *app) load() error {
	cfg, err := config.Load(a.v, a.cfgFile)
	if err != nil {
		return err
	}
	logger, err := telemetry.NewLogger(a.out, cfg.Log)
	if err != nil {
		return err
	}
	a.cfg = cfg
	a.logger = logger
	slog.SetDefault(logger)
	return nil
}

// openStore connects the configured backend.
func (a *app) openStore(ctx context.Context) (repository.Store, error) {
	switch a.cfg.Store {
	case "memory":
		a.logger.Warn("using in-memory store; data is lost on exit")
		return memory.NewStore(), nil
	case "postgres":
		pool, err := database.NewPool(ctx, a.cfg.DB, a.logger)
		if err != nil {
			return nil, err
		}
		a.logger.Info("connected to PostgreSQL", "host", a.cfg.DB.Host, "db", a.cfg.DB.Name)
		return postgres.NewStore(pool), nil
	default:
		return nil, fmt.Errorf("unknown store %q", a.cfg.Store)
	}
}
