package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/occhealth/occhealth/internal/config"
	"github.com/occhealth/occhealth/internal/platform/auth"
	"github.com/occhealth/occhealth/internal/platform/db"
	"github.com/occhealth/occhealth/internal/platform/export"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:           "occhealth-server",
		Short:         "Occupational health record keeper",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: false,
	}

	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(migrateCmd())
	rootCmd.AddCommand(catalogCmd())
	rootCmd.AddCommand(exportCmd())
	rootCmd.AddCommand(recountCmd())
	rootCmd.AddCommand(tokenCmd())
	return rootCmd
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer()
		},
	}
}

func migrateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Run relational schema migrations",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "up",
		Short: "Apply pending migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withMigrator(cmd, func(ctx context.Context, m *db.Migrator, out io.Writer) error {
				count, err := m.Up(ctx)
				if err != nil {
					return fmt.Errorf("migration failed: %w", err)
				}
				fmt.Fprintf(out, "Applied %d migration(s) successfully.\n", count)
				return nil
			})
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "status",
		Short: "Show migration status",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withMigrator(cmd, func(ctx context.Context, m *db.Migrator, out io.Writer) error {
				statuses, err := m.Status(ctx)
				if err != nil {
					return fmt.Errorf("failed to get migration status: %w", err)
				}
				printStatus(out, statuses)
				return nil
			})
		},
	})
	return cmd
}

func withMigrator(cmd *cobra.Command, fn func(ctx context.Context, m *db.Migrator, out io.Writer) error) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	out := cmd.OutOrStdout()
	if cfg.StorageBackend == config.BackendXLSX {
		fmt.Fprintln(out, "Workbook storage creates its sheets on first use; nothing to migrate.")
		return nil
	}
	ctx := cmd.Context()
	sqlDB, pool, dialect, err := openSQL(ctx, cfg)
	if err != nil {
		return err
	}
	defer func() {
		sqlDB.Close()
		if pool != nil {
			pool.Close()
		}
	}()
	fmt.Fprintf(out, "Running against %s storage\n", dialect.Name)
	return fn(ctx, db.NewMigrator(sqlDB, dialect), out)
}

func printStatus(out io.Writer, statuses []db.MigrationStatus) {
	fmt.Fprintf(out, "%-10s %-40s %-10s %s\n", "VERSION", "NAME", "STATUS", "APPLIED AT")
	fmt.Fprintln(out, "---------- ---------------------------------------- ---------- --------------------")
	for _, s := range statuses {
		status := "pending"
		appliedAt := ""
		if s.Applied {
			status = "applied"
			if s.AppliedAt != nil {
				appliedAt = s.AppliedAt.Format("2006-01-02 15:04:05")
			}
		}
		fmt.Fprintf(out, "%-10d %-40s %-10s %s\n", s.Version, s.Name, status, appliedAt)
	}
}

// withApp runs fn over a fully wired app.
func withApp(cmd *cobra.Command, fn func(ctx context.Context, a *app) error) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	ctx := cmd.Context()
	a, err := newApp(ctx, cfg, newLogger(cfg))
	if err != nil {
		return err
	}
	defer a.Close()
	return fn(ctx, a)
}

func catalogCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "catalog",
		Short: "Manage the diagnosis code catalog",
	}

	seedCmd := &cobra.Command{
		Use:   "seed",
		Short: "Load a JSON or YAML code list into an empty catalog",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, func(ctx context.Context, a *app) error {
				file, _ := cmd.Flags().GetString("file")
				if file == "" {
					file = a.cfg.CatalogSeedFile
				}
				if file == "" {
					return errors.New("--file or CATALOG_SEED_FILE is required")
				}
				n, err := a.seedCatalog(ctx, file)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Created %d code(s).\n", n)
				return nil
			})
		},
	}
	seedCmd.Flags().String("file", "", "Seed file (.json, .yaml or .yml)")
	cmd.AddCommand(seedCmd)
	return cmd
}

func exportCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "export",
		Short: "Export every record to a workbook",
		Long: "Writes the report workbook to --out, or publishes it to EXPORT_BUCKET " +
			"(or EXPORT_DIR) when --out is not given.",
		RunE: func(cmd *cobra.Command, args []string) error {
			out, _ := cmd.Flags().GetString("out")
			return withApp(cmd, func(ctx context.Context, a *app) error {
				if out == "" {
					obj, sum, err := a.exporter.Publish(ctx)
					if err != nil {
						return err
					}
					fmt.Fprintf(cmd.OutOrStdout(), "Exported %d record(s) to %s\n", sum.Total(), obj.Location)
					return nil
				}
				return writeExport(ctx, a.exporter, out, cmd.OutOrStdout())
			})
		},
	}
	cmd.Flags().String("out", "", "Write the workbook to this file")
	return cmd
}

func writeExport(ctx context.Context, x *export.Exporter, path string, out io.Writer) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	sum, err := x.Write(ctx, f)
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		os.Remove(path)
		return err
	}
	fmt.Fprintf(out, "Exported %d record(s) to %s\n", sum.Total(), path)
	return nil
}

func recountCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "recount",
		Short: "Re-derive a patient's encounter counters and report drift",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			raw, _ := cmd.Flags().GetString("patient")
			id, err := strconv.ParseInt(raw, 10, 64)
			if err != nil || id <= 0 {
				return fmt.Errorf("--patient must be a positive patient id, got %q", raw)
			}
			return withApp(cmd, func(ctx context.Context, a *app) error {
				report, err := a.encounters.Recount(ctx, id)
				if err != nil {
					return err
				}
				out := cmd.OutOrStdout()
				fmt.Fprintf(out, "Patient %d: %d encounter(s), %d mismatch(es)\n",
					report.PatientID, report.Encounters, len(report.Mismatches))
				for _, m := range report.Mismatches {
					fmt.Fprintf(out, "  encounter %d (%s) %s: stored %d, expected %d\n",
						m.EncounterID, m.Date, m.Counter, m.Stored, m.Expected)
				}
				if !report.Consistent() {
					return errors.New("counters drifted")
				}
				return nil
			})
		},
	}
	cmd.Flags().String("patient", "", "Patient id")
	cmd.MarkFlagRequired("patient")
	return cmd
}

func tokenCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Issue a bearer token for a staff member",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			if len(cfg.AuthSigningKey) < 32 {
				return errors.New("AUTH_SIGNING_KEY of at least 32 bytes is required to issue tokens")
			}
			user, _ := cmd.Flags().GetString("user")
			name, _ := cmd.Flags().GetString("name")
			roles, _ := cmd.Flags().GetStringSlice("role")
			ttl, _ := cmd.Flags().GetDuration("ttl")
			for i, r := range roles {
				roles[i] = strings.ToLower(strings.TrimSpace(r))
				if !auth.KnownRole(roles[i]) {
					return fmt.Errorf("unknown role %q", r)
				}
			}

			tok, err := auth.IssueToken(auth.JWTConfig{
				Issuer:     cfg.AuthIssuer,
				SigningKey: []byte(cfg.AuthSigningKey),
			}, auth.Principal{ID: user, Name: name, Roles: roles}, ttl, time.Now())
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), tok)
			return nil
		},
	}
	cmd.Flags().String("user", "", "User id (token subject)")
	cmd.Flags().String("name", "", "Display name")
	cmd.Flags().StringSlice("role", nil, "Role: admin, physician, nurse or clerk (repeatable)")
	cmd.Flags().Duration("ttl", 12*time.Hour, "Token lifetime")
	cmd.MarkFlagRequired("user")
	cmd.MarkFlagRequired("role")
	return cmd
}
