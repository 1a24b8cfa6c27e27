// submodule cmd contains command definitions
package main

import (
	"time"

	"github.com/urfave/cli/v3"
)

// app builds the root kcx command.
func (r *Runner) app() *cli.Command {
	return &cli.Command{
		Name:    "kcx",
		Usage:   "Manage KingsChat tokens and send bulk messages",
		Version: "0.1.0",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				Usage:   "Path to configuration file",
				Value:   "config.toml",
				Sources: cli.EnvVars("KCX_CONFIG"),
			},
			&cli.BoolFlag{
				Name:  "verbose",
				Usage: "Enable debug logging",
			},
		},
		Before:   r.configure,
		Commands: r.register(),
	}
}

func jsonFlag() cli.Flag {
	return &cli.BoolFlag{
		Name:  "json",
		Usage: "Output raw JSON",
	}
}

// setupCommand handles setup operations for the database and configuration file.
func setupCommand(r *Runner) *cli.Command {
	return &cli.Command{
		Name:  "setup",
		Usage: "Setup and configuration commands",
		Commands: []*cli.Command{
			{
				Name:  "database",
				Usage: "Initialize database and run migrations",
				Flags: []cli.Flag{
					&cli.BoolFlag{
						Name:  "rollback",
						Usage: "Revert the most recent migration",
					},
				},
				Action: r.SetupDatabase,
			},
			{
				Name:  "config",
				Usage: "Write a config file from the built-in defaults",
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:  "client-id",
						Usage: "OAuth client id to store in the new config",
					},
					&cli.StringFlag{
						Name:  "flow",
						Usage: "Login flow: implicit or code",
					},
					&cli.BoolFlag{
						Name:  "force",
						Usage: "Overwrite an existing config file",
					},
				},
				Action: r.SetupConfig,
			},
		},
	}
}

// authCommand handles token lifecycle operations
func authCommand(r *Runner) *cli.Command {
	return &cli.Command{
		Name:  "auth",
		Usage: "Manage authentication",
		Commands: []*cli.Command{
			{
				Name:  "login",
				Usage: "Log in through the browser and store the tokens",
				Flags: []cli.Flag{
					&cli.DurationFlag{
						Name:  "timeout",
						Usage: "How long to wait for the callback",
						Value: 2 * time.Minute,
					},
					&cli.BoolFlag{
						Name:  "no-browser",
						Usage: "Print the login URL instead of opening a browser",
					},
				},
				Action: r.AuthLogin,
			},
			{
				Name:  "set-token",
				Usage: "Store an access and refresh token pair obtained elsewhere",
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:     "access",
						Usage:    "Access token (JWT)",
						Required: true,
						Sources:  cli.EnvVars("KCX_ACCESS_TOKEN"),
					},
					&cli.StringFlag{
						Name:    "refresh",
						Usage:   "Refresh token",
						Sources: cli.EnvVars("KCX_REFRESH_TOKEN"),
					},
				},
				Action: r.AuthSetToken,
			},
			{
				Name:   "status",
				Usage:  "Show the stored token's claims and remaining lifetime",
				Flags:  []cli.Flag{jsonFlag()},
				Action: r.AuthStatus,
			},
			{
				Name:   "refresh",
				Usage:  "Exchange the refresh token for a new access token",
				Action: r.AuthRefresh,
			},
			{
				Name:   "logout",
				Usage:  "Forget the access token, keeping the refresh token",
				Action: r.AuthLogout,
			},
		},
	}
}

func profileCommand(r *Runner) *cli.Command {
	return &cli.Command{
		Name:   "profile",
		Usage:  "Show the logged in user's profile",
		Flags:  []cli.Flag{jsonFlag()},
		Action: r.Profile,
	}
}

func contactsCommand(r *Runner) *cli.Command {
	return &cli.Command{
		Name:  "contacts",
		Usage: "List contacts",
		Flags: []cli.Flag{
			jsonFlag(),
			&cli.IntFlag{
				Name:  "limit",
				Usage: "Maximum number of contacts to print",
			},
		},
		Action: r.Contacts,
	}
}

func usersCommand(r *Runner) *cli.Command {
	return &cli.Command{
		Name:  "users",
		Usage: "Look a user up by username",
		Arguments: []cli.Argument{
			&cli.StringArg{Name: "username"},
		},
		Flags:  []cli.Flag{jsonFlag()},
		Action: r.Users,
	}
}

func sendCommand(r *Runner) *cli.Command {
	return &cli.Command{
		Name:  "send",
		Usage: "Send one message to one user",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:     "to",
				Aliases:  []string{"t"},
				Usage:    "Recipient user id",
				Required: true,
			},
			&cli.StringFlag{
				Name:     "message",
				Aliases:  []string{"m"},
				Usage:    "Message text",
				Required: true,
			},
		},
		Action: r.Send,
	}
}

// campaignFlags are shared by blast start and blast run.
func campaignFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringSliceFlag{
			Name:    "to",
			Aliases: []string{"t"},
			Usage:   "Recipient user id, repeatable or comma separated",
		},
		&cli.StringFlag{
			Name:    "message",
			Aliases: []string{"m"},
			Usage:   "Message text; {name} is replaced with the recipient's name",
		},
		&cli.IntFlag{
			Name:    "count",
			Aliases: []string{"n"},
			Usage:   "Messages per recipient (default from config)",
		},
		&cli.DurationFlag{
			Name:    "interval",
			Aliases: []string{"i"},
			Usage:   "Spacing between sends (default from config)",
		},
	}
}

func sessionFlag() cli.Flag {
	return &cli.StringFlag{
		Name:  "session",
		Usage: "Campaign session key",
		Value: cliSession,
	}
}

// blastCommand handles bulk dispatch campaigns
func blastCommand(r *Runner) *cli.Command {
	return &cli.Command{
		Name:  "blast",
		Usage: "Send a message repeatedly to many contacts",
		Flags: []cli.Flag{sessionFlag()},
		Commands: []*cli.Command{
			{
				Name:   "start",
				Usage:  "Start a campaign and send its first message",
				Flags:  append(campaignFlags(), jsonFlag()),
				Action: r.BlastStart,
			},
			{
				Name:   "next",
				Usage:  "Send the next message if it is due",
				Flags:  []cli.Flag{jsonFlag()},
				Action: r.BlastNext,
			},
			{
				Name:   "status",
				Usage:  "Show campaign progress",
				Flags:  []cli.Flag{jsonFlag()},
				Action: r.BlastStatus,
			},
			{
				Name:   "cancel",
				Usage:  "Stop and discard the campaign",
				Flags:  []cli.Flag{jsonFlag()},
				Action: r.BlastCancel,
			},
			{
				Name:   "run",
				Usage:  "Drive a campaign to completion, starting it first when --to is given",
				Flags:  campaignFlags(),
				Action: r.BlastRun,
			},
			{
				Name:   "watch",
				Usage:  "Monitor and drive the running campaign in a TUI",
				Action: r.BlastWatch,
			},
		},
	}
}

func serveCommand(r *Runner) *cli.Command {
	return &cli.Command{
		Name:  "serve",
		Usage: "Run the HTTP API",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "host",
				Usage: "Listen host (default from config)",
			},
			&cli.IntFlag{
				Name:    "port",
				Aliases: []string{"p"},
				Usage:   "Listen port (default from config)",
			},
		},
		Action: r.Serve,
	}
}

// tuiCommand returns the top-level TUI command for picking contacts and running a campaign.
func tuiCommand(r *Runner) *cli.Command {
	return &cli.Command{
		Name:    "tui",
		Aliases: []string{"interactive", "ui"},
		Usage:   "Pick contacts and run a campaign interactively",
		Flags:   append(campaignFlags(), sessionFlag()),
		Action:  r.TUI,
	}
}
