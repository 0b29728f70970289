package main

import (
	"context"
	"os"

	"github.com/savaki/deploy-verifier/cmd/deploy-verifier/commands"
	"github.com/savaki/deploy-verifier/internal/di"
	"github.com/urfave/cli/v2"
)

func main() {
	logger := di.ProvideLogger()
	ctx := logger.WithContext(context.Background())

	app := &cli.App{
		Name:  "deploy-verifier",
		Usage: "Post-deploy verification for serverless functions",
		Description: `Checks that a deployed function and the resources around it match what
its repository, branch and directory layout say they should be.

This tool provides commands for:
  - Verifying function, role, policy, gateway route and event rule state
  - Probing the endpoint with and without credentials
  - Inspecting the derived names, event bindings and planned assertions`,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "log-level",
				Usage:   "Log level (trace, debug, info, warn, error)",
				Value:   "info",
				EnvVars: []string{"LOG_LEVEL"},
			},
		},
		Before: func(c *cli.Context) error {
			return di.SetLogLevel(c.String("log-level"))
		},
		Commands: []*cli.Command{
			commands.VerifyCommand(&logger),
			commands.IdentityCommand(&logger),
			commands.ScanCommand(&logger),
			commands.ExpectCommand(&logger),
			commands.ProbeCommand(&logger),
		},
	}

	if err := app.RunContext(ctx, os.Args); err != nil {
		logger.Error().Err(err).Msg("Application error")
		os.Exit(1)
	}
}
