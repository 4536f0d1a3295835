package main

import (
	"context"
	"fmt"
	"time"

	"github.com/A-Ravioli/donna/internal/auth"
	"github.com/A-Ravioli/donna/internal/config"
	"github.com/A-Ravioli/donna/internal/database"
	"github.com/A-Ravioli/donna/internal/models"
	"github.com/A-Ravioli/donna/internal/repository/sqlstore"
	"github.com/A-Ravioli/donna/internal/services"
	"github.com/sirupsen/logrus"
)

// connectURLCommand prints the consent link /connect would send, for
// operators onboarding a user by hand. It does not mark the credential
// pending.
func connectURLCommand(cfg *config.Config, args []string) error {
	if len(args) != 2 {
		return fmt.Errorf("connect-url needs <user> <platform>")
	}
	platform, ok := models.ParsePlatform(args[1])
	if !ok {
		return fmt.Errorf("unknown platform %q", args[1])
	}

	states, err := auth.NewStateService(cfg.OAuth.StateSecret, cfg.OAuth.StateTTL)
	if err != nil {
		return err
	}
	exchanger, err := auth.NewOAuthExchanger(cfg.OAuth)
	if err != nil {
		return err
	}
	if !exchanger.Supports(platform) {
		return fmt.Errorf("no OAuth provider configured for %s", platform)
	}

	state, err := states.Issue(args[0], platform)
	if err != nil {
		return err
	}
	url, err := exchanger.AuthCodeURL(platform, state)
	if err != nil {
		return err
	}
	fmt.Println(url)
	return nil
}

func sweepCommand(db *database.DB, logger *logrus.Logger) error {
	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	sweeper := services.NewCredentialSweeper(sqlstore.New(db.DB), 0, logger)
	expired, err := sweeper.Sweep(ctx)
	if err != nil {
		return err
	}
	fmt.Printf("expired %d credentials\n", expired)
	return nil
}
