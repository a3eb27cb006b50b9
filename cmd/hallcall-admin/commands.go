package main

import (
	"strings"

	"github.com/urfave/cli/v3"

	"github.com/hallcall/hallcall-api/internal/models"
	"github.com/hallcall/hallcall-api/pkg/auth"
)

func (r *Runner) register() []*cli.Command {
	return []*cli.Command{
		userCommand(r),
		dialerCommand(r),
		widgetCommand(r),
	}
}

func userCommand(r *Runner) *cli.Command {
	return &cli.Command{
		Name:  "user",
		Usage: "Manage accounts",
		Commands: []*cli.Command{
			{
				Name:  "create",
				Usage: "Create a verified account without the OTP flow",
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:     "email",
						Usage:    "Login email",
						Required: true,
					},
					&cli.StringFlag{
						Name:     "password",
						Usage:    "Initial password",
						Required: true,
					},
					&cli.StringFlag{
						Name:  "name",
						Usage: "Full name",
					},
					&cli.StringFlag{
						Name:  "company",
						Usage: "Company name",
					},
					&cli.StringFlag{
						Name:  "role",
						Usage: "owner or admin",
						Value: auth.RoleOwner,
					},
					&cli.StringFlag{
						Name:  "plan",
						Usage: "One of " + strings.Join(models.PlanNames(), ", "),
						Value: models.DefaultPlan,
					},
				},
				Action: r.CreateUser,
			},
			{
				Name:  "set-plan",
				Usage: "Move an account to another plan",
				Arguments: []cli.Argument{
					&cli.StringArg{Name: "email"},
					&cli.StringArg{Name: "plan"},
				},
				Action: r.SetPlan,
			},
		},
	}
}

func dialerCommand(r *Runner) *cli.Command {
	return &cli.Command{
		Name:  "dialer",
		Usage: "Campaign dialer operations",
		Commands: []*cli.Command{
			{
				Name:   "tick",
				Usage:  "Run one dialing pass and enqueue due contacts",
				Action: r.DialerTick,
			},
		},
	}
}

func widgetCommand(r *Runner) *cli.Command {
	return &cli.Command{
		Name:  "widget",
		Usage: "Embeddable widget helpers",
		Commands: []*cli.Command{
			{
				Name:  "snippet",
				Usage: "Print the embed snippet for an agent",
				Arguments: []cli.Argument{
					&cli.StringArg{Name: "agent-id"},
				},
				Action: r.WidgetSnippet,
			},
		},
	}
}
