package commands

import (
	"fmt"
	"io"

	"github.com/rs/zerolog"
	"github.com/savaki/deploy-verifier/internal/expect"
	"github.com/savaki/deploy-verifier/internal/verifier"
	"github.com/urfave/cli/v2"
)

// ExpectCommand returns the expect command that prints the planned assertions
func ExpectCommand(logger *zerolog.Logger) *cli.Command {
	return &cli.Command{
		Name:  "expect",
		Usage: "Print the assertions a verify run would evaluate",
		Description: `Builds the expectation set for a function without reading cloud state:
one line per assertion, grouped by resource, followed by the probes.

Examples:
  deploy-verifier expect --function-path functions/orders --gateway-id a1b2c3 --auth-type JWT
  deploy-verifier expect --function-path functions/orders --enable-eventing --format yaml`,
		Flags: join(functionFlags(), deployFlags(), probeFlags(), []cli.Flag{formatFlag()}),
		Action: func(c *cli.Context) error {
			return expectAction(c, logger)
		},
	}
}

type plannedAssertion struct {
	Resource    expect.Resource `json:"resource" yaml:"resource"`
	Description string          `json:"assertion" yaml:"assertion"`
}

type expectOutput struct {
	Assertions []plannedAssertion       `json:"assertions" yaml:"assertions"`
	Probe      *expect.ProbeExpectation `json:"probe,omitempty" yaml:"probe,omitempty"`
}

func expectAction(c *cli.Context, logger *zerolog.Logger) error {
	cfg := ConfigFromCLI(c)
	if err := cfg.Validate(); err != nil {
		return err
	}

	v, err := resolve[*verifier.Verifier](c, cfg)
	if err != nil {
		return err
	}

	plan, err := v.Plan(c.Context)
	if err != nil {
		return err
	}

	out := expectOutput{Probe: plan.Set.Probe}
	for _, a := range plan.Set.Assertions {
		out.Assertions = append(out.Assertions, plannedAssertion{Resource: a.Resource(), Description: a.String()})
	}

	logger.Debug().Int("assertions", len(out.Assertions)).Msg("Built expectations")

	return output(c.App.Writer, c.String("format"), out, out.text)
}

func (o expectOutput) text(w io.Writer) error {
	var current expect.Resource
	for _, a := range o.Assertions {
		if a.Resource != current {
			current = a.Resource
			if _, err := fmt.Fprintf(w, "%s\n", current); err != nil {
				return err
			}
		}
		if _, err := fmt.Fprintf(w, "  %s\n", a.Description); err != nil {
			return err
		}
	}

	if o.Probe != nil {
		_, err := fmt.Fprintf(w, "probe %s\n  %s authenticated GET returns %d\n  unauthenticated GET returns %d\n",
			o.Probe.URL, o.Probe.Mode, o.Probe.Authenticated, o.Probe.Unauthenticated)
		return err
	}
	return nil
}
