package main

import (
	"context"
	"fmt"
	"os"

	"github.com/desertthunder/kcx/internal/shared"
	"github.com/urfave/cli/v3"
)

// SetupDatabase initializes the database and runs migrations.
func (r *Runner) SetupDatabase(ctx context.Context, cmd *cli.Command) error {
	r.logger.Info("initializing database", "path", r.config.Database.Path)

	db, err := r.database()
	if err != nil {
		return err
	}

	if cmd.Bool("rollback") {
		if err := shared.RollbackMigration(db); err != nil {
			return err
		}
		r.logger.Warn("rolled back most recent migration", "path", r.config.Database.Path)
	}

	current, available, err := shared.MigrationStatus(db)
	if err != nil {
		return fmt.Errorf("failed to read migration status: %w", err)
	}

	r.logger.Infof("setup complete for database: %v", r.config.Database.Path)
	return r.writePlain("✓ Database ready at %s (migration %d of %d)\n", r.config.Database.Path, current, available)
}

// SetupConfig writes a new config file from the embedded defaults.
//
// --client-id and --flow are applied on top of the defaults before the file is written.
func (r *Runner) SetupConfig(ctx context.Context, cmd *cli.Command) error {
	path := r.configPath
	if path == "" {
		path = "config.toml"
	}

	if _, err := os.Stat(path); err == nil && !cmd.Bool("force") {
		return fmt.Errorf("%w: config file already exists at %s (use --force to overwrite)", shared.ErrInvalidArgument, path)
	}

	config := shared.DefaultConfig()
	if id := cmd.String("client-id"); id != "" {
		config.Platform.ClientID = id
	}
	if flow := cmd.String("flow"); flow != "" {
		config.Platform.Flow = flow
	}
	if err := config.Validate(); err != nil {
		return err
	}

	if cmd.IsSet("client-id") || cmd.IsSet("flow") || cmd.Bool("force") {
		if err := shared.SaveConfig(path, config); err != nil {
			return err
		}
	} else if err := shared.CreateConfigFile(path); err != nil {
		return err
	}

	r.logger.Info("config file created", "path", path)
	r.writePlain("✓ Config written to %s\n", path)
	r.writePlainln("Next steps:")
	r.writePlain("1. Run 'kcx setup database' when using the sqlite stores\n")
	return r.writePlain("2. Run 'kcx auth login' to authenticate\n")
}
