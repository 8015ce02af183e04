package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/alecthomas/kong"

	"github.com/abhayyyy25/breast-cancer-detection/internal/app"
	"github.com/abhayyyy25/breast-cancer-detection/internal/config"
	"github.com/abhayyyy25/breast-cancer-detection/internal/obs"
)

var (
	version = "dev"
	commit  = "none"
	cli     struct {
		Config   string `help:"Path to a YAML configuration file." type:"path" env:"BCD_CONFIG"`
		Addr     string `help:"Listen address, overrides the configuration."`
		LogLevel string `help:"Log level, overrides the configuration."`
		Migrate  bool   `help:"Apply pending migrations before serving."`
		Version  kong.VersionFlag
	}
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	kctx := kong.Parse(&cli,
		kong.Name("bcd-api"),
		kong.Description("Authorization and audit API of the breast cancer detection platform."),
		kong.Vars{"version": version},
	)
	kctx.FatalIfErrorf(run(ctx))
}

func run(ctx context.Context) error {
	cfg, err := config.Load(cli.Config)
	if err != nil {
		return err
	}
	if cli.Addr != "" {
		cfg.Server.Addr = cli.Addr
	}
	if cli.LogLevel != "" {
		cfg.Logging.Level = cli.LogLevel
	}
	if cli.Migrate {
		cfg.Database.AutoMigrate = true
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	obs.Setup(cfg.Logging.Level, cfg.Logging.Dev)
	obs.SetBuildInfo(version, commit)
	log := obs.Logger()

	store, err := app.OpenStore(ctx, cfg.Database)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer store.Close()

	if cfg.Database.AutoMigrate {
		m, err := app.NewMigrator(store, cfg.Database.Driver)
		if err != nil {
			return err
		}
		applied, err := m.Up(ctx)
		if err != nil {
			return fmt.Errorf("migrate: %w", err)
		}
		log.Info().Strs("applied", applied).Msg("migrations applied")
	}

	svc, err := app.NewServices(cfg.Auth, store)
	if err != nil {
		return err
	}
	api, err := svc.API(cfg.Server, version)
	if err != nil {
		return err
	}

	log.Info().
		Str("version", version).
		Str("driver", cfg.Database.Driver).
		Dur("access_ttl", cfg.Auth.AccessTTL).
		Msg("starting bcd-api")
	if err := app.Serve(ctx, cfg, api); err != nil {
		return err
	}
	log.Info().Msg("stopped")
	return nil
}
