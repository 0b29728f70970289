package commands

import (
	"fmt"
	"io"

	"github.com/rs/zerolog"
	"github.com/savaki/deploy-verifier/internal/errors"
	"github.com/savaki/deploy-verifier/internal/models"
	"github.com/savaki/deploy-verifier/internal/scanner"
	"github.com/urfave/cli/v2"
)

// ScanCommand returns the scan command that lists event bindings found by convention
func ScanCommand(logger *zerolog.Logger) *cli.Command {
	return &cli.Command{
		Name:  "scan",
		Usage: "List the event rule bindings under a function directory",
		Description: `Walks the function directory for files named bus/<bus>/<rule>.<ext>
and prints one binding per file. No AWS access is needed.

Examples:
  deploy-verifier scan --function-path functions/orders
  deploy-verifier scan --function-path functions/orders --exclude '**/testdata/**'`,
		Flags: join(functionFlags(), []cli.Flag{formatFlag()}),
		Action: func(c *cli.Context) error {
			return scanAction(c, logger)
		},
	}
}

type bindings []models.EventRuleBinding

func scanAction(c *cli.Context, logger *zerolog.Logger) error {
	cfg := ConfigFromCLI(c)
	if cfg.FunctionPath == "" {
		return errors.ErrFunctionPathRequired
	}

	found := bindings(scanner.Collect(c.Context, cfg.FunctionPath, scanner.WithExclude(cfg.ScanExclude...)))
	if err := c.Context.Err(); err != nil {
		return err
	}
	if found == nil {
		found = bindings{}
	}

	logger.Debug().Int("bindings", len(found)).Msg("Scanned function directory")

	return output(c.App.Writer, c.String("format"), found, found.text)
}

func (b bindings) text(w io.Writer) error {
	for _, binding := range b {
		if _, err := fmt.Fprintf(w, "%s/%s\t%s\n", binding.Bus, binding.Rule, binding.Path); err != nil {
			return err
		}
	}
	return nil
}
