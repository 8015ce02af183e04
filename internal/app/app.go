// Package app wires configuration, storage and the auth services into a
// runnable API.
package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/abhayyyy25/breast-cancer-detection/internal/audit"
	"github.com/abhayyyy25/breast-cancer-detection/internal/auth"
	"github.com/abhayyyy25/breast-cancer-detection/internal/config"
	"github.com/abhayyyy25/breast-cancer-detection/internal/httpapi"
	"github.com/abhayyyy25/breast-cancer-detection/internal/migrate"
	"github.com/abhayyyy25/breast-cancer-detection/internal/obs"
	"github.com/abhayyyy25/breast-cancer-detection/internal/store/pg"
	"github.com/abhayyyy25/breast-cancer-detection/internal/store/sqlite"
	"github.com/abhayyyy25/breast-cancer-detection/internal/store/sqlstore"
	"github.com/abhayyyy25/breast-cancer-detection/migrations"
)

// OpenStore connects to the configured backend.
func OpenStore(ctx context.Context, cfg config.DatabaseConfig) (*sqlstore.Store, error) {
	switch cfg.Driver {
	case "postgres":
		return pg.Open(ctx, cfg.DSN, pg.PoolConfig{
			MaxOpenConns:    cfg.MaxOpenConns,
			MaxIdleConns:    cfg.MaxIdleConns,
			ConnMaxLifetime: cfg.ConnMaxLifetime,
			ConnMaxIdleTime: cfg.ConnMaxIdleTime,
		})
	case "sqlite":
		return sqlite.Open(ctx, cfg.DSN)
	default:
		return nil, fmt.Errorf("unsupported database driver %q", cfg.Driver)
	}
}

// NewMigrator returns a migration manager for the embedded schema of driver.
func NewMigrator(store *sqlstore.Store, driver string, opts ...migrate.Option) (*migrate.Manager, error) {
	dialect, err := migrate.ParseDialect(driver)
	if err != nil {
		return nil, err
	}
	fsys, err := migrations.For(driver)
	if err != nil {
		return nil, err
	}
	opts = append([]migrate.Option{migrate.WithDialect(dialect)}, opts...)
	return migrate.NewManager(store.DB(), fsys, opts...), nil
}

// Services holds the wired auth collaborators.
type Services struct {
	Store     *sqlstore.Store
	Recorder  *audit.Recorder
	Sessions  *auth.SessionManager
	Guard     *auth.Guard
	Directory *auth.Directory
}

// NewServices builds the auth services over store using cfg.
func NewServices(cfg config.AuthConfig, store *sqlstore.Store, opts ...auth.Option) (*Services, error) {
	codec, err := auth.NewTokenCodec(cfg.JWTSecret,
		auth.WithIssuer(cfg.Issuer),
		auth.WithAccessTTL(cfg.AccessTTL),
		auth.WithRefreshTTL(cfg.RefreshTTL),
		auth.WithPreviousSecrets(cfg.PreviousSecrets...),
	)
	if err != nil {
		return nil, fmt.Errorf("token codec: %w", err)
	}
	opts = append([]auth.Option{auth.WithLockoutPolicy(auth.LockoutPolicy{
		Threshold: cfg.LockoutThreshold,
		Duration:  cfg.LockoutDuration,
	})}, opts...)

	ctx := context.Background()
	hasher := auth.NewHasher(cfg.BcryptCost)
	recorder := audit.NewRecorder(store)
	authn, err := auth.NewAuthenticator(store.Principals(ctx), hasher, codec, recorder, opts...)
	if err != nil {
		return nil, err
	}
	sessions, err := auth.NewSessionManager(authn, recorder, opts...)
	if err != nil {
		return nil, err
	}
	dir, err := auth.NewDirectory(store, hasher, recorder, opts...)
	if err != nil {
		return nil, err
	}
	return &Services{
		Store:     store,
		Recorder:  recorder,
		Sessions:  sessions,
		Guard:     auth.NewGuard(codec, auth.NewTenantResolver(store.Tenants(ctx), opts...), recorder),
		Directory: dir,
	}, nil
}

// API builds the HTTP layer according to cfg.
func (s *Services) API(cfg config.ServerConfig, version string) (*httpapi.API, error) {
	opts := []httpapi.Option{
		httpapi.WithMaxBodyBytes(cfg.MaxBodyBytes),
		httpapi.WithAllowedOrigins(cfg.CORS.AllowedOrigins...),
		httpapi.WithTrustProxy(cfg.TrustProxy),
	}
	if cfg.RateLimit.Enabled {
		opts = append(opts, httpapi.WithRateLimit(cfg.RateLimit.RPS, cfg.RateLimit.Burst))
	} else {
		opts = append(opts, httpapi.WithRateLimit(0, 0))
	}
	return httpapi.New(httpapi.Deps{
		Sessions:  s.Sessions,
		Guard:     s.Guard,
		Directory: s.Directory,
		Audit:     s.Recorder,
		Ready:     httpapi.ReadyProbe{DB: s.Store},
		Version:   version,
	}, opts...)
}

// SuperAdmin describes the first platform administrator.
type SuperAdmin struct {
	Username string
	Email    string
	Password string
}

var bootstrapActor = auth.Session{PrincipalID: "system", Username: "bootstrap", Role: auth.RoleSuperAdmin}

// Bootstrap creates the first SUPER_ADMIN. It refuses when an active one
// already exists. The returned password is generated when none was given.
func (s *Services) Bootstrap(ctx context.Context, in SuperAdmin) (auth.Principal, string, error) {
	existing, err := s.Store.Principals(ctx).ListByTenant(ctx, "")
	if err != nil {
		return auth.Principal{}, "", err
	}
	for _, p := range existing {
		if p.Role == auth.RoleSuperAdmin && !p.Deleted {
			return auth.Principal{}, "", fmt.Errorf("%w: super admin %s already exists", auth.ErrConflict, p.Username)
		}
	}
	return s.Directory.CreatePrincipal(ctx, bootstrapActor, auth.NewPrincipal{
		Username: in.Username,
		Email:    in.Email,
		Role:     auth.RoleSuperAdmin,
		Password: in.Password,
	})
}

// Serve runs the API until ctx is cancelled, then drains in-flight requests
// within the configured shutdown timeout.
func Serve(ctx context.Context, cfg *config.Config, api *httpapi.API) error {
	srv := &http.Server{
		Addr:              cfg.Server.Addr,
		Handler:           api.Handler(),
		ReadTimeout:       cfg.Server.ReadTimeout,
		ReadHeaderTimeout: cfg.Server.ReadHeaderTimeout,
		WriteTimeout:      cfg.Server.WriteTimeout,
		IdleTimeout:       cfg.Server.IdleTimeout,
	}

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	go api.Run(runCtx)

	errCh := make(chan error, 1)
	go func() {
		obs.Logger().Info().Str("addr", srv.Addr).Msg("http server listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("listen: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	obs.Logger().Info().Msg("shutting down")
	timeout := cfg.Server.ShutdownTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	shutdownCtx, stop := context.WithTimeout(context.Background(), timeout)
	defer stop()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	return nil
}
