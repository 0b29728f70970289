package commands

import (
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/rs/zerolog"
	"github.com/savaki/deploy-verifier/internal/identity"
	"github.com/savaki/deploy-verifier/internal/models"
	"github.com/savaki/deploy-verifier/internal/verifier"
	"github.com/urfave/cli/v2"
)

// IdentityCommand returns the identity command that prints derived resource names
func IdentityCommand(logger *zerolog.Logger) *cli.Command {
	return &cli.Command{
		Name:    "identity",
		Aliases: []string{"id"},
		Usage:   "Print the resource names derived for a function",
		Description: `Resolves the repository, branch, commit and account for a function and
prints every name derived from them: function, role, policy, route key and
endpoint URL.

Examples:
  deploy-verifier identity --function-path functions/orders
  deploy-verifier identity --function-path functions/orders --account-id 123456789012 --format json`,
		Flags: join(functionFlags(), deployFlags(), []cli.Flag{formatFlag()}),
		Action: func(c *cli.Context) error {
			return identityAction(c, logger)
		},
	}
}

type identityOutput struct {
	Context  models.DeployContext    `json:"context" yaml:"context"`
	Identity models.ResourceIdentity `json:"identity" yaml:"identity"`
	Endpoint string                  `json:"endpoint,omitempty" yaml:"endpoint,omitempty"`
}

func identityAction(c *cli.Context, logger *zerolog.Logger) error {
	cfg := ConfigFromCLI(c)
	if err := cfg.Validate(); err != nil {
		return err
	}

	v, err := resolve[*verifier.Verifier](c, cfg)
	if err != nil {
		return err
	}

	dc, err := v.DeployContext(c.Context)
	if err != nil {
		return err
	}

	out := identityOutput{
		Context:  dc,
		Identity: identity.Resolve(dc, identity.NewTarget(cfg.FunctionPath), cfg.RouteMode),
	}
	if cfg.GatewayConfigured() {
		out.Endpoint = identity.EndpointURL(out.Identity, cfg.GatewayID)
	}

	logger.Debug().Str("resource_name", out.Identity.ResourceName).Msg("Resolved identity")

	return output(c.App.Writer, c.String("format"), out, out.text)
}

func (o identityOutput) text(w io.Writer) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	rows := [][2]string{
		{"repository", o.Context.Repository},
		{"branch", o.Context.Branch},
		{"sha", o.Context.Sha},
		{"origin", o.Context.Origin},
		{"account", o.Context.AccountID},
		{"region", o.Context.Region},
		{"function", o.Identity.FunctionName},
		{"function arn", o.Identity.FunctionARN},
		{"role", o.Identity.RoleARN},
		{"policy", o.Identity.PolicyARN},
		{"route key", o.Identity.RouteKey},
	}
	if o.Endpoint != "" {
		rows = append(rows, [2]string{"endpoint", o.Endpoint})
	}
	for _, row := range rows {
		fmt.Fprintf(tw, "%s\t%s\n", row[0], row[1])
	}
	return tw.Flush()
}
