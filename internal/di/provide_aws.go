package di

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/apigatewayv2"
	"github.com/aws/aws-sdk-go-v2/service/eventbridge"
	"github.com/aws/aws-sdk-go-v2/service/iam"
	"github.com/aws/aws-sdk-go-v2/service/lambda"
	"github.com/aws/aws-sdk-go-v2/service/secretsmanager"
	"github.com/aws/aws-sdk-go-v2/service/ssm"
	"github.com/aws/aws-sdk-go-v2/service/sts"
	"github.com/rs/zerolog"
	"github.com/savaki/deploy-verifier/internal/config"
	"github.com/savaki/deploy-verifier/internal/inspect"
)

// ProvideAWSConfig loads the ambient credential chain. An explicit region in
// the run configuration wins over the environment and shared config.
func ProvideAWSConfig(ctx context.Context, cfg config.Config) (aws.Config, error) {
	var opts []func(*awsconfig.LoadOptions) error
	if cfg.Region != "" {
		opts = append(opts, awsconfig.WithRegion(cfg.Region))
	}

	awsConfig, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return aws.Config{}, fmt.Errorf("failed to load AWS config: %w", err)
	}

	zerolog.Ctx(ctx).Debug().Str("region", awsConfig.Region).Msg("Loaded AWS config")
	return awsConfig, nil
}

func ProvideLambdaClient(awsConfig aws.Config) *lambda.Client {
	return lambda.NewFromConfig(awsConfig)
}

func ProvideIAMClient(awsConfig aws.Config) *iam.Client {
	return iam.NewFromConfig(awsConfig)
}

func ProvideAPIGatewayClient(awsConfig aws.Config) *apigatewayv2.Client {
	return apigatewayv2.NewFromConfig(awsConfig)
}

func ProvideEventBridgeClient(awsConfig aws.Config) *eventbridge.Client {
	return eventbridge.NewFromConfig(awsConfig)
}

func ProvideSTSClient(awsConfig aws.Config) *sts.Client {
	return sts.NewFromConfig(awsConfig)
}

func ProvideSSMClient(awsConfig aws.Config) *ssm.Client {
	return ssm.NewFromConfig(awsConfig)
}

func ProvideSecretsManagerClient(awsConfig aws.Config) *secretsmanager.Client {
	return secretsmanager.NewFromConfig(awsConfig)
}

// ProvideInspector reads live resource state through the Lambda, IAM, API
// Gateway v2 and EventBridge clients.
func ProvideInspector(lambdaClient *lambda.Client, iamClient *iam.Client, gatewayClient *apigatewayv2.Client, eventsClient *eventbridge.Client) inspect.Inspector {
	return inspect.NewAWSInspector(lambdaClient, iamClient, gatewayClient, eventsClient)
}
