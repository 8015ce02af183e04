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
	"github.com/abhayyyy25/breast-cancer-detection/internal/migrate"
	"github.com/abhayyyy25/breast-cancer-detection/internal/obs"
	"github.com/abhayyyy25/breast-cancer-detection/internal/store/sqlstore"
)

var (
	version = "dev"
	cli     struct {
		Config  string `help:"Path to a YAML configuration file." type:"path" env:"BCD_CONFIG"`
		Driver  string `help:"Database driver (postgres or sqlite), overrides the configuration."`
		DSN     string `name:"dsn" help:"Database DSN or SQLite path, overrides the configuration."`
		Version kong.VersionFlag

		Up        upCmd        `cmd:"" help:"Apply pending migrations."`
		Down      downCmd      `cmd:"" help:"Roll back the latest migration."`
		Status    statusCmd    `cmd:"" help:"List applied migrations."`
		Pending   pendingCmd   `cmd:"" help:"List migrations not yet applied."`
		Seed      seedCmd      `cmd:"" help:"Apply SQL seed files from a directory."`
		Bootstrap bootstrapCmd `cmd:"" help:"Create the first super admin."`
	}
)

type env struct {
	cfg   *config.Config
	store *sqlstore.Store
}

func (e *env) migrator(opts ...migrate.Option) (*migrate.Manager, error) {
	return app.NewMigrator(e.store, e.cfg.Database.Driver, opts...)
}

type upCmd struct{}

func (upCmd) Run(ctx context.Context, e *env) error {
	m, err := e.migrator()
	if err != nil {
		return err
	}
	applied, err := m.Up(ctx)
	if err != nil {
		return err
	}
	if len(applied) == 0 {
		fmt.Println("no pending migrations")
	}
	for _, name := range applied {
		fmt.Println("applied", name)
	}
	return nil
}

type downCmd struct{}

func (downCmd) Run(ctx context.Context, e *env) error {
	m, err := e.migrator()
	if err != nil {
		return err
	}
	name, err := m.Down(ctx)
	if err != nil {
		return err
	}
	if name == "" {
		fmt.Println("nothing to roll back")
		return nil
	}
	fmt.Println("rolled back", name)
	return nil
}

type statusCmd struct{}

func (statusCmd) Run(ctx context.Context, e *env) error {
	m, err := e.migrator()
	if err != nil {
		return err
	}
	history, err := m.Status(ctx)
	if err != nil {
		return err
	}
	for _, item := range history {
		fmt.Println(item)
	}
	return nil
}

type pendingCmd struct{}

func (pendingCmd) Run(ctx context.Context, e *env) error {
	m, err := e.migrator()
	if err != nil {
		return err
	}
	pending, err := m.Pending(ctx)
	if err != nil {
		return err
	}
	for _, name := range pending {
		fmt.Println(name)
	}
	return nil
}

type seedCmd struct {
	Dir string `arg:"" type:"existingdir" help:"Directory holding *.sql seed files."`
}

func (c seedCmd) Run(ctx context.Context, e *env) error {
	m, err := e.migrator(migrate.WithSeeds(os.DirFS(c.Dir)))
	if err != nil {
		return err
	}
	return m.Seed(ctx)
}

type bootstrapCmd struct {
	Username string `required:"" help:"Login name of the super admin."`
	Email    string `required:"" help:"Email address of the super admin."`
	Password string `env:"BCD_BOOTSTRAP_PASSWORD" help:"Initial password; a temporary one is generated when empty."`
}

func (c bootstrapCmd) Run(ctx context.Context, e *env) error {
	svc, err := app.NewServices(e.cfg.Auth, e.store)
	if err != nil {
		return err
	}
	p, password, err := svc.Bootstrap(ctx, app.SuperAdmin{Username: c.Username, Email: c.Email, Password: c.Password})
	if err != nil {
		return err
	}
	fmt.Printf("created super admin %s (%s)\n", p.Username, p.ID)
	if c.Password == "" {
		fmt.Printf("temporary password: %s\n", password)
	}
	return nil
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	kctx := kong.Parse(&cli,
		kong.Name("bcd-migrate"),
		kong.Description("Schema migrations and bootstrap for the breast cancer detection platform."),
		kong.Vars{"version": version},
		kong.BindTo(ctx, (*context.Context)(nil)),
	)

	cfg, err := config.Load(cli.Config)
	kctx.FatalIfErrorf(err)
	if cli.Driver != "" {
		cfg.Database.Driver = cli.Driver
	}
	if cli.DSN != "" {
		cfg.Database.DSN = cli.DSN
	}
	kctx.FatalIfErrorf(cfg.Validate())
	obs.Setup(cfg.Logging.Level, cfg.Logging.Dev)

	store, err := app.OpenStore(ctx, cfg.Database)
	kctx.FatalIfErrorf(err)
	defer store.Close()

	kctx.FatalIfErrorf(kctx.Run(&env{cfg: cfg, store: store}))
}
