package commands

import (
	"os"

	"github.com/savaki/deploy-verifier/internal/config"
	"github.com/savaki/deploy-verifier/internal/report"
	"github.com/urfave/cli/v2"
)

const (
	categoryGit     = "git"
	categoryAWS     = "aws"
	categoryRouting = "routing"
	categoryProbe   = "probe"
	categoryJWT     = "jwt"
)

// functionFlags identify the function and the checkout it was deployed from.
func functionFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:    "function-path",
			Aliases: []string{"f"},
			Usage:   "Directory of the deployed function",
			EnvVars: []string{"FUNCTION_PATH"},
		},
		&cli.StringFlag{
			Name:     "repository",
			Usage:    "Repository name (default: derived from the origin remote)",
			EnvVars:  []string{"GIT_REPOSITORY"},
			Category: categoryGit,
		},
		&cli.StringFlag{
			Name:     "branch",
			Usage:    "Branch name (default: checked out branch)",
			EnvVars:  []string{"GIT_BRANCH"},
			Category: categoryGit,
		},
		&cli.StringFlag{
			Name:     "sha",
			Usage:    "Commit SHA (default: HEAD)",
			EnvVars:  []string{"GIT_SHA"},
			Category: categoryGit,
		},
		&cli.StringFlag{
			Name:     "origin",
			Usage:    "Origin URL (default: the origin remote)",
			EnvVars:  []string{"GIT_ORIGIN"},
			Category: categoryGit,
		},
		&cli.StringFlag{
			Name:     "route-mode",
			Usage:    "Route key shape: proxy or exact",
			Value:    string(config.RouteModeProxy),
			EnvVars:  []string{"ROUTE_MODE"},
			Category: categoryRouting,
		},
		&cli.StringSliceFlag{
			Name:    "exclude",
			Usage:   "Doublestar pattern skipped while scanning (can be specified multiple times)",
			EnvVars: []string{"SCAN_EXCLUDE"},
		},
	}
}

// deployFlags describe what the deployment was configured to produce.
func deployFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:     "account-id",
			Usage:    "AWS account ID (default: caller identity)",
			EnvVars:  []string{"AWS_ACCOUNT_ID"},
			Category: categoryAWS,
		},
		&cli.StringFlag{
			Name:     "region",
			Usage:    "AWS region (default: from the AWS config chain)",
			EnvVars:  []string{"AWS_REGION", "AWS_DEFAULT_REGION"},
			Category: categoryAWS,
		},
		&cli.StringFlag{
			Name:     "gateway-id",
			Usage:    "API gateway the function is routed behind",
			EnvVars:  []string{"AWS_API_GATEWAY_ID"},
			Category: categoryRouting,
		},
		&cli.StringFlag{
			Name:     "gateway-name",
			Usage:    "API gateway checked for stray routes when --gateway-id is unset",
			Value:    config.DefaultGatewayName,
			EnvVars:  []string{"AWS_API_GATEWAY_NAME"},
			Category: categoryRouting,
		},
		&cli.StringFlag{
			Name:     "auth-type",
			Usage:    "Endpoint authorization: AWS_IAM or JWT",
			EnvVars:  []string{"AUTH_TYPE"},
			Category: categoryRouting,
		},
		&cli.BoolFlag{
			Name:  "enable-eventing",
			Usage: "Expect discovered event rules to target the function (or set " + envEnableEventing + " to any non-empty value)",
		},
		&cli.BoolFlag{
			Name:  "disable-eventing",
			Usage: "Expect discovered event rules to be absent (or set " + envDisableEventing + " to any non-empty value)",
		},
		&cli.StringFlag{
			Name:     "subnet-ids",
			Usage:    "Comma-separated subnet IDs the function is attached to",
			EnvVars:  []string{"AWS_SUBNET_IDS"},
			Category: categoryAWS,
		},
		&cli.StringFlag{
			Name:     "security-group-ids",
			Usage:    "Comma-separated security group IDs the function is attached to",
			EnvVars:  []string{"AWS_SECURITY_GROUP_IDS"},
			Category: categoryAWS,
		},
		&cli.IntFlag{
			Name:    "concurrency",
			Aliases: []string{"c"},
			Usage:   "Max resources inspected at once",
			Value:   config.DefaultConcurrency,
		},
	}
}

func probeFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:     "probe-region",
			Usage:    "Signing region for execute-api (default: --region)",
			EnvVars:  []string{"PROBE_REGION"},
			Category: categoryProbe,
		},
		&cli.IntFlag{
			Name:     "probe-attempts",
			Usage:    "Attempts per probe before it is reported failed",
			Value:    config.DefaultProbeMaxAttempts,
			EnvVars:  []string{"PROBE_ATTEMPTS"},
			Category: categoryProbe,
		},
		&cli.DurationFlag{
			Name:     "probe-delay",
			Usage:    "Delay before the first retry; doubles on each retry",
			Value:    config.DefaultProbeDelay,
			EnvVars:  []string{"PROBE_DELAY"},
			Category: categoryProbe,
		},
		&cli.DurationFlag{
			Name:     "probe-max-delay",
			Usage:    "Upper bound on the retry delay",
			Value:    config.DefaultProbeMaxDelay,
			EnvVars:  []string{"PROBE_MAX_DELAY"},
			Category: categoryProbe,
		},
		&cli.DurationFlag{
			Name:     "probe-timeout",
			Usage:    "Timeout of a single probe request",
			Value:    config.DefaultProbeAttemptTimeout,
			EnvVars:  []string{"PROBE_TIMEOUT"},
			Category: categoryProbe,
		},
		&cli.StringFlag{
			Name:     "jwt-token-url",
			Usage:    "OAuth token endpoint for the client credentials grant",
			EnvVars:  []string{"JWT_TOKEN_URL"},
			Category: categoryJWT,
		},
		&cli.StringFlag{
			Name:     "jwt-client-id",
			Usage:    "OAuth client ID (default: client_id in the secret)",
			EnvVars:  []string{"JWT_CLIENT_ID"},
			Category: categoryJWT,
		},
		&cli.StringFlag{
			Name:     "jwt-client-secret-parameter",
			Usage:    "SSM parameter holding the client secret",
			EnvVars:  []string{"JWT_CLIENT_SECRET_PARAMETER"},
			Category: categoryJWT,
		},
		&cli.StringFlag{
			Name:     "jwt-client-secret-id",
			Usage:    "Secrets Manager secret holding the client secret",
			EnvVars:  []string{"JWT_CLIENT_SECRET_ID"},
			Category: categoryJWT,
		},
		&cli.StringFlag{
			Name:     "jwt-audience",
			Usage:    "Audience requested with the access token",
			EnvVars:  []string{"JWT_AUDIENCE"},
			Category: categoryJWT,
		},
		&cli.StringFlag{
			Name:     "jwt-scopes",
			Usage:    "Comma-separated scopes requested with the access token",
			EnvVars:  []string{"JWT_SCOPES"},
			Category: categoryJWT,
		},
	}
}

func formatFlag() cli.Flag {
	return &cli.StringFlag{
		Name:    "format",
		Aliases: []string{"o"},
		Usage:   "Output format: text, json or yaml",
		Value:   string(report.FormatText),
		EnvVars: []string{"OUTPUT_FORMAT"},
	}
}

func join(groups ...[]cli.Flag) []cli.Flag {
	var flags []cli.Flag
	for _, group := range groups {
		flags = append(flags, group...)
	}
	return flags
}

// ConfigFromCLI reads the run configuration from flags and their
// environment variables. Flags a command does not declare read as zero.
func ConfigFromCLI(c *cli.Context) config.Config {
	cfg := config.Config{
		FunctionPath:     c.String("function-path"),
		Repository:       c.String("repository"),
		Branch:           c.String("branch"),
		Sha:              c.String("sha"),
		Origin:           c.String("origin"),
		AccountID:        c.String("account-id"),
		Region:           c.String("region"),
		GatewayID:        c.String("gateway-id"),
		GatewayName:      c.String("gateway-name"),
		RouteMode:        config.RouteMode(c.String("route-mode")),
		AuthType:         config.AuthType(c.String("auth-type")),
		EnableEventing:   present(c, "enable-eventing", envEnableEventing),
		DisableEventing:  present(c, "disable-eventing", envDisableEventing),
		SubnetIDs:        config.SplitList(c.String("subnet-ids")),
		SecurityGroupIDs: config.SplitList(c.String("security-group-ids")),
		Concurrency:      c.Int("concurrency"),
		Probe: config.ProbeConfig{
			Region:         c.String("probe-region"),
			MaxAttempts:    c.Int("probe-attempts"),
			Delay:          c.Duration("probe-delay"),
			MaxDelay:       c.Duration("probe-max-delay"),
			AttemptTimeout: c.Duration("probe-timeout"),
		},
		JWT: config.JWTConfig{
			TokenURL:              c.String("jwt-token-url"),
			ClientID:              c.String("jwt-client-id"),
			ClientSecretParameter: c.String("jwt-client-secret-parameter"),
			ClientSecretID:        c.String("jwt-client-secret-id"),
			Audience:              c.String("jwt-audience"),
			Scopes:                config.SplitList(c.String("jwt-scopes")),
		},
	}
	if c.IsSet("exclude") {
		cfg.ScanExclude = c.StringSlice("exclude")
	}
	return cfg.WithDefaults()
}

// The eventing switches are presence flags in the environment: any non-empty
// value turns them on, including "false".
const (
	envEnableEventing  = "ENABLE_EVENTING_ON_DEPLOY"
	envDisableEventing = "DISABLE_EVENTING_ON_DEPLOY"
)

func present(c *cli.Context, flag, env string) bool {
	return c.Bool(flag) || os.Getenv(env) != ""
}
