package commands

import (
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"github.com/savaki/deploy-verifier/internal/config"
	"github.com/savaki/deploy-verifier/internal/probe"
	"github.com/savaki/deploy-verifier/internal/report"
	"github.com/savaki/deploy-verifier/internal/verifier"
	"github.com/urfave/cli/v2"
	"go.uber.org/dig"
)

// ProbeCommand returns the probe command that only exercises the endpoint's authorization
func ProbeCommand(logger *zerolog.Logger) *cli.Command {
	return &cli.Command{
		Name:  "probe",
		Usage: "Probe the deployed endpoint with and without credentials",
		Description: `Sends an authenticated and an unauthenticated GET to the function's
endpoint, retrying each until it returns the expected status or the attempt
budget is spent.

  AWS_IAM: signed request returns 200, unsigned returns 403
  JWT:     bearer token request returns 200, anonymous returns 401

Examples:
  deploy-verifier probe --function-path functions/orders --gateway-id a1b2c3 --auth-type AWS_IAM
  deploy-verifier probe --function-path functions/orders --gateway-id a1b2c3 --auth-type AWS_IAM \
    --probe-attempts 3 --probe-delay 500ms`,
		Flags: join(functionFlags(), deployFlags(), probeFlags(), []cli.Flag{formatFlag()}),
		Action: func(c *cli.Context) error {
			return probeAction(c, logger)
		},
	}
}

type probeDeps struct {
	dig.In

	Verifier *verifier.Verifier
	Engine   *probe.Engine
}

func probeAction(c *cli.Context, logger *zerolog.Logger) error {
	cfg := ConfigFromCLI(c)
	if err := cfg.Validate(); err != nil {
		return err
	}
	if !cfg.ProbesEnabled() {
		return fmt.Errorf("probes require --gateway-id and --auth-type %s or %s", config.AuthTypeIAM, config.AuthTypeJWT)
	}

	format, err := report.ParseFormat(c.String("format"))
	if err != nil {
		return err
	}

	deps, err := resolve[probeDeps](c, cfg)
	if err != nil {
		return err
	}

	r := report.New(time.Now())
	plan, err := deps.Verifier.Plan(c.Context)
	if err != nil {
		return err
	}
	r.Context = plan.Context
	r.Identity = plan.Identity

	logger.Info().Str("url", plan.Set.Probe.URL).Msg("Probing endpoint")

	r.Finish(nil, deps.Engine.Run(c.Context, *plan.Set.Probe), time.Now())

	if err := render(c.App.Writer, r, format); err != nil {
		return err
	}
	return exitOnFailure(r)
}
