package inspect

import (
	"context"
	stderrors "errors"
	"fmt"
	"net/url"
	"strings"
	"sync"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/apigatewayv2"
	"github.com/aws/aws-sdk-go-v2/service/eventbridge"
	"github.com/aws/aws-sdk-go-v2/service/iam"
	iamtypes "github.com/aws/aws-sdk-go-v2/service/iam/types"
	"github.com/aws/aws-sdk-go-v2/service/lambda"
	"github.com/aws/smithy-go"
	"github.com/rs/zerolog"
	"github.com/savaki/deploy-verifier/internal/errors"
)

type LambdaClient interface {
	GetFunction(ctx context.Context, params *lambda.GetFunctionInput, optFns ...func(*lambda.Options)) (*lambda.GetFunctionOutput, error)
}

type IAMClient interface {
	GetRole(ctx context.Context, params *iam.GetRoleInput, optFns ...func(*iam.Options)) (*iam.GetRoleOutput, error)
	ListAttachedRolePolicies(ctx context.Context, params *iam.ListAttachedRolePoliciesInput, optFns ...func(*iam.Options)) (*iam.ListAttachedRolePoliciesOutput, error)
	GetPolicy(ctx context.Context, params *iam.GetPolicyInput, optFns ...func(*iam.Options)) (*iam.GetPolicyOutput, error)
	ListEntitiesForPolicy(ctx context.Context, params *iam.ListEntitiesForPolicyInput, optFns ...func(*iam.Options)) (*iam.ListEntitiesForPolicyOutput, error)
}

type APIGatewayClient interface {
	GetApis(ctx context.Context, params *apigatewayv2.GetApisInput, optFns ...func(*apigatewayv2.Options)) (*apigatewayv2.GetApisOutput, error)
	GetRoutes(ctx context.Context, params *apigatewayv2.GetRoutesInput, optFns ...func(*apigatewayv2.Options)) (*apigatewayv2.GetRoutesOutput, error)
	GetIntegrations(ctx context.Context, params *apigatewayv2.GetIntegrationsInput, optFns ...func(*apigatewayv2.Options)) (*apigatewayv2.GetIntegrationsOutput, error)
}

type EventBridgeClient interface {
	DescribeEventBus(ctx context.Context, params *eventbridge.DescribeEventBusInput, optFns ...func(*eventbridge.Options)) (*eventbridge.DescribeEventBusOutput, error)
	DescribeRule(ctx context.Context, params *eventbridge.DescribeRuleInput, optFns ...func(*eventbridge.Options)) (*eventbridge.DescribeRuleOutput, error)
	ListTargetsByRule(ctx context.Context, params *eventbridge.ListTargetsByRuleInput, optFns ...func(*eventbridge.Options)) (*eventbridge.ListTargetsByRuleOutput, error)
}

// notFoundCodes are the error codes each service uses for a missing resource.
var notFoundCodes = map[string]bool{
	"ResourceNotFoundException": true, // lambda, eventbridge
	"NoSuchEntity":              true, // iam
	"NotFoundException":         true, // apigatewayv2
}

// AWSInspector implements Inspector against the AWS APIs.
type AWSInspector struct {
	lambda   LambdaClient
	iam      IAMClient
	gateways APIGatewayClient
	events   EventBridgeClient

	mu   sync.Mutex
	apis []API // nil until first listed
}

func NewAWSInspector(lambdaClient LambdaClient, iamClient IAMClient, gatewayClient APIGatewayClient, eventsClient EventBridgeClient) *AWSInspector {
	return &AWSInspector{
		lambda:   lambdaClient,
		iam:      iamClient,
		gateways: gatewayClient,
		events:   eventsClient,
	}
}

// classify maps service specific not-found errors onto errors.ErrNotFound.
func classify(err error, format string, args ...any) error {
	var apiErr smithy.APIError
	if stderrors.As(err, &apiErr) && notFoundCodes[apiErr.ErrorCode()] {
		return fmt.Errorf("%s: %w", fmt.Sprintf(format, args...), errors.ErrNotFound)
	}
	return fmt.Errorf("failed to get %s: %w", fmt.Sprintf(format, args...), err)
}

func (a *AWSInspector) GetFunction(ctx context.Context, name string) (*Function, error) {
	zerolog.Ctx(ctx).Debug().Str("function", name).Msg("Inspecting function")

	out, err := a.lambda.GetFunction(ctx, &lambda.GetFunctionInput{FunctionName: aws.String(name)})
	if err != nil {
		return nil, classify(err, "function %s", name)
	}
	if out.Configuration == nil {
		return nil, fmt.Errorf("function %s: %w", name, errors.ErrNotFound)
	}

	cfg := out.Configuration
	fn := &Function{
		Name: aws.ToString(cfg.FunctionName),
		ARN:  aws.ToString(cfg.FunctionArn),
		Role: aws.ToString(cfg.Role),
		Tags: out.Tags,
	}
	if cfg.VpcConfig != nil {
		fn.SubnetIDs = cfg.VpcConfig.SubnetIds
		fn.SecurityGroupIDs = cfg.VpcConfig.SecurityGroupIds
	}
	return fn, nil
}

func (a *AWSInspector) GetRole(ctx context.Context, name string) (*Role, error) {
	zerolog.Ctx(ctx).Debug().Str("role", name).Msg("Inspecting role")

	out, err := a.iam.GetRole(ctx, &iam.GetRoleInput{RoleName: aws.String(name)})
	if err != nil {
		return nil, classify(err, "role %s", name)
	}
	if out.Role == nil {
		return nil, fmt.Errorf("role %s: %w", name, errors.ErrNotFound)
	}

	// IAM returns the trust policy URL encoded
	document := aws.ToString(out.Role.AssumeRolePolicyDocument)
	if decoded, err := url.PathUnescape(document); err == nil {
		document = decoded
	}

	role := &Role{
		Name:                     aws.ToString(out.Role.RoleName),
		ARN:                      aws.ToString(out.Role.Arn),
		AssumeRolePolicyDocument: document,
		Tags:                     tagMap(out.Role.Tags),
	}

	paginator := iam.NewListAttachedRolePoliciesPaginator(a.iam, &iam.ListAttachedRolePoliciesInput{
		RoleName: aws.String(name),
	})
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, classify(err, "attached policies of role %s", name)
		}
		for _, policy := range page.AttachedPolicies {
			role.AttachedPolicies = append(role.AttachedPolicies, aws.ToString(policy.PolicyName))
		}
	}

	return role, nil
}

func (a *AWSInspector) GetPolicy(ctx context.Context, arn string) (*Policy, error) {
	zerolog.Ctx(ctx).Debug().Str("policy", arn).Msg("Inspecting policy")

	out, err := a.iam.GetPolicy(ctx, &iam.GetPolicyInput{PolicyArn: aws.String(arn)})
	if err != nil {
		return nil, classify(err, "policy %s", arn)
	}
	if out.Policy == nil {
		return nil, fmt.Errorf("policy %s: %w", arn, errors.ErrNotFound)
	}

	policy := &Policy{
		Name:            aws.ToString(out.Policy.PolicyName),
		ARN:             aws.ToString(out.Policy.Arn),
		AttachmentCount: int(aws.ToInt32(out.Policy.AttachmentCount)),
		Tags:            tagMap(out.Policy.Tags),
	}

	paginator := iam.NewListEntitiesForPolicyPaginator(a.iam, &iam.ListEntitiesForPolicyInput{
		PolicyArn:    aws.String(arn),
		EntityFilter: iamtypes.EntityTypeRole,
	})
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, classify(err, "entities of policy %s", arn)
		}
		for _, role := range page.PolicyRoles {
			policy.AttachedRoles = append(policy.AttachedRoles, aws.ToString(role.RoleName))
		}
	}

	return policy, nil
}

// GetAPI resolves ref by API id first, then by name. The API list is read
// once per inspector.
func (a *AWSInspector) GetAPI(ctx context.Context, ref string) (*API, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.apis == nil {
		apis, err := a.listAPIs(ctx)
		if err != nil {
			return nil, err
		}
		a.apis = apis
	}

	for _, api := range a.apis {
		if api.ID == ref {
			return &api, nil
		}
	}

	var found *API
	for _, api := range a.apis {
		if api.Name != ref {
			continue
		}
		if found != nil {
			zerolog.Ctx(ctx).Warn().Str("api", ref).Str("using", found.ID).Msg("Multiple APIs share a name")
			break
		}
		found = &api
	}
	if found == nil {
		return nil, fmt.Errorf("api %s: %w", ref, errors.ErrNotFound)
	}
	return found, nil
}

func (a *AWSInspector) listAPIs(ctx context.Context) ([]API, error) {
	zerolog.Ctx(ctx).Debug().Msg("Listing APIs")

	apis := []API{}
	var token *string
	for {
		out, err := a.gateways.GetApis(ctx, &apigatewayv2.GetApisInput{NextToken: token})
		if err != nil {
			return nil, fmt.Errorf("failed to list apis: %w", err)
		}
		for _, item := range out.Items {
			apis = append(apis, API{
				ID:       aws.ToString(item.ApiId),
				Name:     aws.ToString(item.Name),
				Endpoint: aws.ToString(item.ApiEndpoint),
			})
		}
		if aws.ToString(out.NextToken) == "" {
			return apis, nil
		}
		token = out.NextToken
	}
}

func (a *AWSInspector) GetRoute(ctx context.Context, apiRef, routeKey string) (*Route, error) {
	routes, err := a.routes(ctx, apiRef)
	if err != nil {
		return nil, err
	}
	for _, route := range routes {
		if route.RouteKey == routeKey {
			return &route, nil
		}
	}
	return nil, fmt.Errorf("route %q on api %s: %w", routeKey, apiRef, errors.ErrNotFound)
}

func (a *AWSInspector) GetRoutesByTarget(ctx context.Context, apiRef, functionARN string) ([]Route, error) {
	routes, err := a.routes(ctx, apiRef)
	if err != nil {
		return nil, err
	}
	var matched []Route
	for _, route := range routes {
		if route.FunctionARN == functionARN {
			matched = append(matched, route)
		}
	}
	return matched, nil
}

// routes lists every route of the api joined with its integration.
func (a *AWSInspector) routes(ctx context.Context, apiRef string) ([]Route, error) {
	api, err := a.GetAPI(ctx, apiRef)
	if err != nil {
		return nil, err
	}

	zerolog.Ctx(ctx).Debug().Str("api", api.ID).Msg("Listing routes")

	integrations := map[string]string{}
	var token *string
	for {
		out, err := a.gateways.GetIntegrations(ctx, &apigatewayv2.GetIntegrationsInput{
			ApiId:     aws.String(api.ID),
			NextToken: token,
		})
		if err != nil {
			return nil, classify(err, "integrations of api %s", api.ID)
		}
		for _, item := range out.Items {
			integrations[aws.ToString(item.IntegrationId)] = aws.ToString(item.IntegrationUri)
		}
		if aws.ToString(out.NextToken) == "" {
			break
		}
		token = out.NextToken
	}

	var routes []Route
	token = nil
	for {
		out, err := a.gateways.GetRoutes(ctx, &apigatewayv2.GetRoutesInput{
			ApiId:     aws.String(api.ID),
			NextToken: token,
		})
		if err != nil {
			return nil, classify(err, "routes of api %s", api.ID)
		}
		for _, item := range out.Items {
			target := aws.ToString(item.Target)
			integrationID := strings.TrimPrefix(target, "integrations/")
			routes = append(routes, Route{
				ID:                aws.ToString(item.RouteId),
				RouteKey:          aws.ToString(item.RouteKey),
				Target:            target,
				AuthorizationType: string(item.AuthorizationType),
				FunctionARN:       FunctionARNFromURI(integrations[integrationID]),
			})
		}
		if aws.ToString(out.NextToken) == "" {
			return routes, nil
		}
		token = out.NextToken
	}
}

// FunctionARNFromURI extracts the Lambda ARN from an integration URI. Both
// the bare ARN and the apigateway invocation path form are accepted.
func FunctionARNFromURI(uri string) string {
	if strings.HasPrefix(uri, "arn:aws:lambda:") {
		return uri
	}
	_, rest, ok := strings.Cut(uri, "/functions/")
	if !ok {
		return ""
	}
	return strings.TrimSuffix(rest, "/invocations")
}

func (a *AWSInspector) GetBus(ctx context.Context, name string) (*Bus, error) {
	zerolog.Ctx(ctx).Debug().Str("bus", name).Msg("Inspecting event bus")

	out, err := a.events.DescribeEventBus(ctx, &eventbridge.DescribeEventBusInput{Name: aws.String(name)})
	if err != nil {
		return nil, classify(err, "event bus %s", name)
	}
	return &Bus{
		Name: aws.ToString(out.Name),
		ARN:  aws.ToString(out.Arn),
	}, nil
}

func (a *AWSInspector) GetRule(ctx context.Context, bus, rule string) (*Rule, error) {
	zerolog.Ctx(ctx).Debug().Str("bus", bus).Str("rule", rule).Msg("Inspecting event rule")

	out, err := a.events.DescribeRule(ctx, &eventbridge.DescribeRuleInput{
		Name:         aws.String(rule),
		EventBusName: aws.String(bus),
	})
	if err != nil {
		return nil, classify(err, "rule %s on bus %s", rule, bus)
	}

	r := &Rule{
		Name:  aws.ToString(out.Name),
		Bus:   aws.ToString(out.EventBusName),
		ARN:   aws.ToString(out.Arn),
		State: string(out.State),
	}

	var token *string
	for {
		targets, err := a.events.ListTargetsByRule(ctx, &eventbridge.ListTargetsByRuleInput{
			Rule:         aws.String(rule),
			EventBusName: aws.String(bus),
			NextToken:    token,
		})
		if err != nil {
			return nil, classify(err, "targets of rule %s on bus %s", rule, bus)
		}
		for _, target := range targets.Targets {
			r.Targets = append(r.Targets, aws.ToString(target.Arn))
		}
		if aws.ToString(targets.NextToken) == "" {
			return r, nil
		}
		token = targets.NextToken
	}
}

func tagMap(tags []iamtypes.Tag) map[string]string {
	m := make(map[string]string, len(tags))
	for _, tag := range tags {
		m[aws.ToString(tag.Key)] = aws.ToString(tag.Value)
	}
	return m
}
