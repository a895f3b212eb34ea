// tenantdb serves generic row and grid access to tenant-qualified
// PostgreSQL databases, and reflects their schemas into Go model source.
package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"github.com/spf13/cobra"

	"github.com/TechPrismatica/tenantdb/cmd/tenantdb/handlers"
	"github.com/TechPrismatica/tenantdb/pkg/api/middleware"
	"github.com/TechPrismatica/tenantdb/pkg/codegen"
	"github.com/TechPrismatica/tenantdb/pkg/config"
	"github.com/TechPrismatica/tenantdb/pkg/db/postgres/session"
	"github.com/TechPrismatica/tenantdb/pkg/metrics"
	"github.com/TechPrismatica/tenantdb/pkg/utils/echoutil"
)

func main() {
	if err := newRootCommand().Execute(); err != nil {
		log.Fatal(err)
	}
}

func newRootCommand() *cobra.Command {
	configPath := ""

	root := &cobra.Command{
		Use:           "tenantdb",
		Short:         "multi-tenant PostgreSQL row service",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVarP(&configPath, "config", "c", "", "configuration file (YAML)")

	root.AddCommand(newServeCommand(&configPath))
	root.AddCommand(newGenerateCommand(&configPath))
	return root
}

func newServeCommand(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "serve the row and grid API",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(*configPath)
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(
				cmd.Context(), os.Interrupt, syscall.SIGTERM,
			)
			defer stop()

			return serve(ctx, cfg)
		},
	}
}

func serve(ctx context.Context, cfg config.Config) error {
	meters := metrics.New()

	mgr := session.New(
		cfg.Postgres,
		session.WithAppName(cfg.Module.Name),
		session.WithMetrics(meters),
		session.WithMigrations(cfg.Paths.MigrationsDir),
	)
	defer mgr.Close()

	gen := codegen.NewGenerator(
		cfg.Paths.ModelsDir,
		codegen.WithDeferRefresh(cfg.Module.DeferGenRefresh),
	)
	if cfg.Paths.MigrationsDir != "" {
		go func() {
			if err := gen.Watch(ctx, cfg.Paths.MigrationsDir); err != nil &&
				!errors.Is(err, context.Canceled) {
				log.Printf("migrations watch stopped: %s", err)
			}
		}()
	}

	e := echo.New()
	e.HideBanner = true
	echoutil.SetLevel(e, cfg.Server.LogLevel)
	e.Use(echomw.Recover())
	e.Use(echomw.Logger())

	e.GET("/metrics", echo.WrapHandler(meters.Handler()))

	schema := cfg.Postgres.DefaultSchema
	api := e.Group("/api", middleware.Tenant(middleware.TenantConfig{
		Cookie: cfg.Server.TenantCookie,
		JWTKey: []byte(cfg.Server.JWTKey),
	}))
	api.POST("/:database/:table/grid", handlers.GridHandler(mgr, schema))
	api.GET("/:database/:table", handlers.ListHandler(mgr, schema))
	api.POST("/:database/:table", handlers.InsertHandler(mgr, schema))
	api.PUT("/:database/:table", handlers.UpdateHandler(mgr, schema))
	api.DELETE("/:database/:table", handlers.DeleteHandler(mgr, schema))
	api.GET("/:database/schema", handlers.SchemaHandler(mgr, schema))
	api.POST("/:database/models", handlers.ModelsHandler(mgr, gen, schema))

	errch := make(chan error, 1)
	go func() {
		errch <- e.Start(fmt.Sprintf(":%d", cfg.Server.Port))
	}()

	select {
	case err := <-errch:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := e.Shutdown(shutdownCtx); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func newGenerateCommand(configPath *string) *cobra.Command {
	var (
		tenant     string
		schemaName string
	)

	cmd := &cobra.Command{
		Use:   "generate DATABASE",
		Short: "reflect a database schema into Go model source",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(*configPath)
			if err != nil {
				return err
			}
			if schemaName == "" {
				schemaName = cfg.Postgres.DefaultSchema
			}

			mgr := session.New(
				cfg.Postgres,
				session.WithAppName(cfg.Module.Name),
				session.WithMigrations(cfg.Paths.MigrationsDir),
			)
			defer mgr.Close()

			pool, release, err := mgr.Pool(cmd.Context(), args[0], tenant)
			if err != nil {
				return err
			}
			defer release()

			gen := codegen.NewGenerator(
				cfg.Paths.ModelsDir,
				codegen.WithDeferRefresh(cfg.Module.DeferGenRefresh),
			)
			path, err := gen.Refresh(cmd.Context(), pool, args[0], tenant, schemaName)
			if err != nil {
				return err
			}

			fmt.Fprintln(cmd.OutOrStdout(), path)
			return nil
		},
	}
	cmd.Flags().StringVar(&tenant, "tenant", "", "tenant owning the database")
	cmd.Flags().StringVar(&schemaName, "schema", "", "schema to reflect (default from configuration)")
	return cmd
}
