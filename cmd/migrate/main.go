package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"strings"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	appconfig "github.com/endovel/clinic-platform/internal/config"
	"github.com/endovel/clinic-platform/internal/tenancy"
	appmigrations "github.com/endovel/clinic-platform/migrations"
)

type migrator interface {
	Up() error
	Force(version int) error
	Close() (error, error)
}

var (
	openDB = func(url string) (*sql.DB, error) {
		return sql.Open("pgx", url)
	}
	newMigrator = func(db *sql.DB, source fs.FS) (migrator, error) {
		dbDriver, err := postgres.WithInstance(db, &postgres.Config{})
		if err != nil {
			return nil, fmt.Errorf("db driver: %w", err)
		}
		srcDriver, err := iofs.New(source, ".")
		if err != nil {
			return nil, fmt.Errorf("source driver: %w", err)
		}
		return migrate.NewWithInstance("iofs", srcDriver, "postgres", dbDriver)
	}
)

func newRootCmd(cfg *appconfig.Config) *cobra.Command {
	cmd := &cobra.Command{
		Use:           "migrate",
		Short:         "Apply database migrations",
		Long:          "Applies the embedded schema to the master registry and to clinic databases.",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	cmd.AddCommand(newMasterCmd(cfg))
	cmd.AddCommand(newTenantCmd(cfg))
	return cmd
}

func newMasterCmd(cfg *appconfig.Config) *cobra.Command {
	var force int

	cmd := &cobra.Command{
		Use:   "master",
		Short: "Migrate the master database (tenants, processed webhooks)",
		RunE: func(cmd *cobra.Command, args []string) error {
			url := strings.TrimSpace(cfg.MasterDatabaseURL)
			if url == "" {
				return errors.New("MASTER_DATABASE_URL is required")
			}
			return migrateURL(cmd.OutOrStdout(), "master", url, appmigrations.Master(), force)
		},
	}
	cmd.Flags().IntVar(&force, "force", -1, "force the schema version instead of migrating up")
	return cmd
}

func newTenantCmd(cfg *appconfig.Config) *cobra.Command {
	var (
		all   bool
		code  string
		force int
	)

	cmd := &cobra.Command{
		Use:   "tenant",
		Short: "Migrate clinic databases",
		Long: `Migrates clinic databases registered in the master database.

Use --code to migrate one clinic or --all for every active clinic.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if all == (code != "") {
				return errors.New("exactly one of --all or --code is required")
			}
			url := strings.TrimSpace(cfg.MasterDatabaseURL)
			if url == "" {
				return errors.New("MASTER_DATABASE_URL is required")
			}
			return runTenants(cmd.Context(), cmd.OutOrStdout(), cfg, url, code, force)
		},
	}
	cmd.Flags().BoolVar(&all, "all", false, "migrate every active clinic")
	cmd.Flags().StringVar(&code, "code", "", "clinic code to migrate")
	cmd.Flags().IntVar(&force, "force", -1, "force the schema version instead of migrating up")
	return cmd
}

func runTenants(ctx context.Context, out io.Writer, cfg *appconfig.Config, masterURL, code string, force int) error {
	if ctx == nil {
		ctx = context.Background()
	}
	master, err := openDB(masterURL)
	if err != nil {
		return fmt.Errorf("open master db: %w", err)
	}
	defer func() { _ = master.Close() }()
	registry := tenancy.NewRegistry(master)

	var tenants []tenancy.Tenant
	if code != "" {
		t, err := registry.Resolve(ctx, code)
		if err != nil {
			return err
		}
		tenants = []tenancy.Tenant{t}
	} else if tenants, err = registry.List(ctx); err != nil {
		return err
	}

	defaults := tenancy.ConnDefaults{
		User:     cfg.PostgresUser,
		Password: cfg.PostgresPassword,
		Host:     cfg.PostgresHost,
		Port:     cfg.PostgresPort,
	}
	var failed []string
	for _, t := range tenants {
		connString, err := defaults.ConnString(t)
		if err == nil {
			err = migrateURL(out, t.Code, connString, appmigrations.Tenant(), force)
		}
		if err != nil {
			fmt.Fprintf(out, "%s: %v\n", t.Code, err)
			failed = append(failed, t.Code)
		}
	}
	if len(failed) > 0 {
		return fmt.Errorf("migrations failed for %d of %d clinics: %s", len(failed), len(tenants), strings.Join(failed, ", "))
	}
	return nil
}

func migrateURL(out io.Writer, label, url string, source fs.FS, force int) error {
	db, err := openDB(url)
	if err != nil {
		return fmt.Errorf("open db: %w", err)
	}
	defer func() { _ = db.Close() }()

	if err := db.Ping(); err != nil {
		return fmt.Errorf("ping db: %w", err)
	}

	m, err := newMigrator(db, source)
	if err != nil {
		return fmt.Errorf("create migrator: %w", err)
	}
	defer func() { _, _ = m.Close() }()

	if force >= 0 {
		if err := m.Force(force); err != nil {
			return fmt.Errorf("force version: %w", err)
		}
		fmt.Fprintf(out, "%s: forced version to %d\n", label, force)
		return nil
	}

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("migrate up: %w", err)
	}
	fmt.Fprintf(out, "%s: migrations complete\n", label)
	return nil
}

func main() {
	_ = godotenv.Load()

	cmd := newRootCmd(appconfig.Load())
	if err := cmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "migrate:", err)
		os.Exit(1)
	}
}
