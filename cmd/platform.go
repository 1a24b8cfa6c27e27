package main

import (
	"context"
	"fmt"
	"strings"

	"github.com/desertthunder/kcx/internal/models"
	"github.com/desertthunder/kcx/internal/shared"
	"github.com/urfave/cli/v3"
)

// Profile prints the authenticated user's profile.
func (r *Runner) Profile(ctx context.Context, cmd *cli.Command) error {
	if err := r.open(); err != nil {
		return err
	}

	profile, err := r.platform.Profile(ctx)
	if err != nil {
		return err
	}
	if cmd.Bool("json") {
		return r.writeJSON(profile, true)
	}

	user := profile.Profile.User
	r.writePlainHeader(user.Name)
	r.writePlain("Username: @%s\n", user.Username)
	r.writePlain("User ID:  %s\n", user.UserID)
	if user.Bio != "" {
		r.writePlain("Bio:      %s\n", user.Bio)
	}
	return nil
}

// Contacts lists the authenticated user's contacts with their user ids.
func (r *Runner) Contacts(ctx context.Context, cmd *cli.Command) error {
	if err := r.open(); err != nil {
		return err
	}

	r.logger.Debug("fetching contacts")
	contacts, err := r.platform.Contacts(ctx)
	if err != nil {
		return err
	}

	if limit := cmd.Int("limit"); limit > 0 && limit < len(contacts) {
		contacts = contacts[:limit]
	}

	if cmd.Bool("json") {
		return r.writeJSON(contacts, true)
	}

	if len(contacts) == 0 {
		return r.writePlain("No contacts found\n")
	}
	for _, c := range contacts {
		r.writePlain("%-40s %s\n", c.UserID(), contactLabel(c))
	}
	return r.writePlainln("%d contacts", len(contacts))
}

func contactLabel(c models.Contact) string {
	switch {
	case c.Name != "" && c.Username != "":
		return fmt.Sprintf("%s (@%s)", c.Name, c.Username)
	case c.Name != "":
		return c.Name
	case c.Username != "":
		return "@" + c.Username
	default:
		return models.DefaultDisplayName
	}
}

// Users looks a username up.
func (r *Runner) Users(ctx context.Context, cmd *cli.Command) error {
	username := strings.TrimSpace(cmd.StringArg("username"))
	if username == "" {
		return fmt.Errorf("%w: username", shared.ErrMissingArgument)
	}
	if err := r.open(); err != nil {
		return err
	}

	users, err := r.platform.SearchUsers(ctx, username)
	if err != nil {
		return err
	}
	if cmd.Bool("json") {
		return r.writeJSON(users, true)
	}

	if len(users) == 0 {
		return r.writePlain("No user found for %s\n", username)
	}
	for _, u := range users {
		r.writePlain("%-40s %s (@%s)\n", u.UserID, u.Name, u.Username)
	}
	return nil
}

// Send delivers a single message.
func (r *Runner) Send(ctx context.Context, cmd *cli.Command) error {
	if err := r.open(); err != nil {
		return err
	}

	to := cmd.String("to")
	if err := r.platform.SendMessage(ctx, to, cmd.String("message")); err != nil {
		return err
	}
	return r.writePlain("✓ Message sent to %s\n", to)
}
