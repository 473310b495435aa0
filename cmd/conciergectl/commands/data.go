package commands

import (
	"context"
	"errors"
	"fmt"

	"guest-concierge/internal/database"
	"guest-concierge/internal/knowledge"

	"github.com/spf13/cobra"
	"gorm.io/gorm"
)

func newMigrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Create or update the database schema",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, logger, closeLog := setup(cmd)
			defer closeLog()

			db, err := database.Open(cfg)
			if err != nil {
				return err
			}
			defer closeDB(db)
			logger.Info("schema up to date", "driver", cfg.DBDriver)
			return nil
		},
	}
}

func newCopyDataCmd() *cobra.Command {
	var from string
	var batch int
	cmd := &cobra.Command{
		Use:   "copy-data",
		Short: "Copy every table from a SQLite file into the configured database",
		Long: `Copies every table from a SQLite database into the database configured
by DB_DRIVER (normally postgres). Rows already present are kept, so the copy
can be re-run after a partial failure.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, logger, closeLog := setup(cmd)
			defer closeLog()

			if from == "" {
				from = cfg.DBPath
			}
			if cfg.DBDriver != "postgres" && from == cfg.DBPath {
				return errors.New("source and destination are the same database; set DB_DRIVER=postgres or pass --from")
			}

			src, err := database.OpenSQLite(from, nil)
			if err != nil {
				return err
			}
			defer closeDB(src)
			logger.Info("connected to source", "path", from)

			dst, err := database.Open(cfg)
			if err != nil {
				return err
			}
			defer closeDB(dst)

			res, err := database.CopyAll(contextOf(cmd), src, dst, batch, logger)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), res)
		},
	}
	cmd.Flags().StringVar(&from, "from", "", "source SQLite file (default DB_PATH)")
	cmd.Flags().IntVar(&batch, "batch", 500, "rows per insert batch")
	return cmd
}

func newSeedCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "seed <file.yaml>",
		Short: "Load properties, FAQs and staff from a YAML file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, _, closeLog := setup(cmd)
			defer closeLog()

			db, err := database.Open(cfg)
			if err != nil {
				return err
			}
			defer closeDB(db)

			res, err := knowledge.LoadSeedFile(contextOf(cmd), db, args[0])
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "seeded %d properties, %d FAQs, %d staff\n", res.Properties, res.FAQs, res.Staff)
			return nil
		},
	}
}

func contextOf(cmd *cobra.Command) context.Context {
	if ctx := cmd.Context(); ctx != nil {
		return ctx
	}
	return context.Background()
}

func closeDB(db *gorm.DB) {
	if sqlDB, err := db.DB(); err == nil {
		_ = sqlDB.Close()
	}
}
