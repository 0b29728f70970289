package commands

import (
	"fmt"
	"io"

	"github.com/rs/zerolog"
	"github.com/savaki/deploy-verifier/internal/report"
	"github.com/savaki/deploy-verifier/internal/verifier"
	"github.com/urfave/cli/v2"
)

// VerifyCommand returns the verify command that checks a deployed function end to end
func VerifyCommand(logger *zerolog.Logger) *cli.Command {
	return &cli.Command{
		Name:    "verify",
		Aliases: []string{"v"},
		Usage:   "Verify a deployed function against its conventions",
		Description: `Derives the expected resources for a function from its checkout, then
compares them with live AWS state and probes the deployed endpoint.

Checks:
  - function, role and policy exist with the expected names, tags and links
  - the API gateway routes to the function, or does not route to it
  - event rules found under bus/<bus>/<rule>.* are enabled or absent
  - authenticated requests are accepted and unauthenticated ones rejected

Exits non-zero when any check fails.

Examples:
  # Verify an IAM protected function routed through a gateway
  deploy-verifier verify --function-path functions/orders \
    --gateway-id a1b2c3 --auth-type AWS_IAM

  # Verify a JWT protected function with the client secret in SSM
  deploy-verifier verify --function-path functions/orders \
    --gateway-id a1b2c3 --auth-type JWT \
    --jwt-token-url https://auth.example.com/oauth2/token \
    --jwt-client-secret-parameter /verify/orders/client

  # Emit the report as JSON
  deploy-verifier verify --function-path functions/orders --format json`,
		Flags: join(functionFlags(), deployFlags(), probeFlags(), []cli.Flag{formatFlag()}),
		Action: func(c *cli.Context) error {
			return verifyAction(c, logger)
		},
	}
}

func verifyAction(c *cli.Context, logger *zerolog.Logger) error {
	cfg := ConfigFromCLI(c)
	if err := cfg.Validate(); err != nil {
		return err
	}

	format, err := report.ParseFormat(c.String("format"))
	if err != nil {
		return err
	}

	v, err := resolve[*verifier.Verifier](c, cfg)
	if err != nil {
		return err
	}

	logger.Info().Str("function_path", cfg.FunctionPath).Msg("Verifying deployment")

	r, err := v.Run(c.Context)
	if err != nil {
		return fmt.Errorf("failed to verify: %w", err)
	}

	if err := render(c.App.Writer, r, format); err != nil {
		return err
	}
	return exitOnFailure(r)
}

func render(w io.Writer, r *report.Report, format report.Format) error {
	if err := r.Render(w, format); err != nil {
		return fmt.Errorf("failed to render report: %w", err)
	}
	return nil
}
