package main

import (
	"fmt"
	"os"

	"github.com/A-Ravioli/donna/internal/config"
	"github.com/A-Ravioli/donna/internal/database"
	"github.com/sirupsen/logrus"
)

const usage = `usage: tools <command> [args]

commands:
  migrate up|down|version     apply, roll back or inspect schema migrations
  connect-url <user> <platform>  print a consent link for a user
  sweep                       expire integration credentials past their expiry
`

func main() {
	if len(os.Args) < 2 {
		fmt.Fprint(os.Stderr, usage)
		os.Exit(2)
	}

	cfg, err := config.Load()
	if err != nil {
		logrus.WithError(err).Fatal("Failed to load configuration")
	}
	logger := config.NewLogger(cfg.Log)

	db, err := database.NewConnection(cfg.Database)
	if err != nil {
		logger.WithError(err).Fatal("Failed to connect to database")
	}
	defer db.Close()

	switch os.Args[1] {
	case "migrate":
		err = migrateCommand(db, os.Args[2:])
	case "connect-url":
		err = connectURLCommand(cfg, os.Args[2:])
	case "sweep":
		err = sweepCommand(db, logger)
	default:
		fmt.Fprint(os.Stderr, usage)
		os.Exit(2)
	}
	if err != nil {
		logger.WithError(err).Error("Command failed")
		db.Close()
		os.Exit(1)
	}
}

func migrateCommand(db *database.DB, args []string) error {
	if len(args) != 1 {
		return fmt.Errorf("migrate needs one of up, down, version")
	}

	switch args[0] {
	case "up":
		if err := database.RunMigrations(db); err != nil {
			return err
		}
	case "down":
		if err := database.RollbackMigration(db); err != nil {
			return err
		}
	case "version":
	default:
		return fmt.Errorf("unknown migrate action %q", args[0])
	}

	version, dirty, err := database.MigrationVersion(db)
	if err != nil {
		return err
	}
	fmt.Printf("schema version %d (dirty: %t)\n", version, dirty)
	return nil
}
