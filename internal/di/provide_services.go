package di

import (
	"context"
	"fmt"
	"net/http"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/secretsmanager"
	"github.com/aws/aws-sdk-go-v2/service/ssm"
	"github.com/aws/aws-sdk-go-v2/service/sts"
	"github.com/rs/zerolog"
	"github.com/savaki/deploy-verifier/internal/config"
	"github.com/savaki/deploy-verifier/internal/errors"
	"github.com/savaki/deploy-verifier/internal/inspect"
	"github.com/savaki/deploy-verifier/internal/probe"
	"github.com/savaki/deploy-verifier/internal/services"
	"github.com/savaki/deploy-verifier/internal/verifier"
)

func ProvideCallerIdentity(client *sts.Client) *services.CallerIdentityService {
	return services.NewCallerIdentityService(client)
}

func ProvideParameterStore(client *ssm.Client) *services.SSMParameterStore {
	return services.NewSSMParameterStore(client)
}

func ProvideSecretsManager(client *secretsmanager.Client) *services.SecretsManagerService {
	return services.NewSecretsManagerService(client)
}

// ProvideHTTPClient returns the client used for probes and token requests.
// Requests are also bounded by the attempt context; the client timeout caps
// any request made without one.
func ProvideHTTPClient(cfg config.Config) *http.Client {
	return &http.Client{Timeout: cfg.WithDefaults().Probe.AttemptTimeout}
}

// ProvideProbeEngine registers the authorizer matching the configured auth
// type when probes are enabled. Nothing is fetched until the first probe runs.
func ProvideProbeEngine(
	ctx context.Context,
	cfg config.Config,
	awsConfig aws.Config,
	httpClient *http.Client,
	caller *services.CallerIdentityService,
	parameters *services.SSMParameterStore,
	secrets *services.SecretsManagerService,
) (*probe.Engine, error) {
	logger := zerolog.Ctx(ctx)
	cfg = withRegion(cfg, awsConfig)

	var opts []probe.Option
	authType := cfg.AuthType
	if !cfg.ProbesEnabled() {
		authType = ""
	}

	switch authType {
	case config.AuthTypeIAM:
		callerARN := func(ctx context.Context) (string, error) {
			c, err := caller.GetCallerIdentity(ctx)
			if err != nil {
				return "", err
			}
			return c.ARN, nil
		}
		opts = append(opts, probe.WithAuthorizer(config.AuthTypeIAM,
			probe.NewSigV4Authorizer(awsConfig.Credentials, cfg.Probe.Region, callerARN)))

	case config.AuthTypeJWT:
		source, name, err := secretSource(cfg.JWT, parameters, secrets)
		if err != nil {
			return nil, err
		}
		opts = append(opts, probe.WithAuthorizer(config.AuthTypeJWT,
			probe.NewBearerAuthorizer(cfg.JWT, source, name, httpClient)))
	}

	logger.Debug().
		Str("auth_type", string(cfg.AuthType)).
		Int("max_attempts", cfg.Probe.MaxAttempts).
		Msg("Configured probe engine")

	return probe.New(httpClient, probe.RetryPolicyFromConfig(cfg.Probe), opts...), nil
}

// secretSource picks the SSM parameter when one is named and falls back to
// Secrets Manager.
func secretSource(jwt config.JWTConfig, parameters *services.SSMParameterStore, secrets *services.SecretsManagerService) (services.SecretSource, string, error) {
	switch {
	case jwt.ClientSecretParameter != "":
		return parameters, jwt.ClientSecretParameter, nil
	case jwt.ClientSecretID != "":
		return secrets, jwt.ClientSecretID, nil
	default:
		return nil, "", fmt.Errorf("failed to configure bearer authorizer: %w", errors.ErrClientSecretRequired)
	}
}

func ProvideVerifier(cfg config.Config, awsConfig aws.Config, caller *services.CallerIdentityService, inspector inspect.Inspector, engine *probe.Engine) *verifier.Verifier {
	return verifier.New(withRegion(cfg, awsConfig), caller, inspector, engine)
}

// withRegion fills the region from the loaded AWS config when none was set.
func withRegion(cfg config.Config, awsConfig aws.Config) config.Config {
	if cfg.Region == "" {
		cfg.Region = awsConfig.Region
	}
	if cfg.Probe.Region == "" {
		cfg.Probe.Region = cfg.Region
	}
	return cfg
}
