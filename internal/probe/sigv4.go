package probe

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/aws/aws-lambda-go/events"
	"github.com/aws/aws-sdk-go-v2/aws"
	v4 "github.com/aws/aws-sdk-go-v2/aws/signer/v4"
)

const (
	signingService = "execute-api"

	// emptyPayloadHash is the hex SHA-256 of an empty body
	emptyPayloadHash = "e3b0c44298fc1c149afbf4c8996fb92427ae41e4649b934ca495991b7852b855"

	// RequestContextHeader carries the API Gateway request context to a
	// function served locally.
	RequestContextHeader = "x-amzn-request-context"
)

// CallerARN resolves the principal reported to a local endpoint.
type CallerARN func(ctx context.Context) (string, error)

// StaticCallerARN returns a CallerARN that always reports arn.
func StaticCallerARN(arn string) CallerARN {
	return func(context.Context) (string, error) {
		return arn, nil
	}
}

// SigV4Authorizer signs requests for execute-api with credentials from the
// ambient chain. Requests to a local endpoint are not signed; they carry the
// request context API Gateway would have passed after IAM authorization.
type SigV4Authorizer struct {
	credentials aws.CredentialsProvider
	signer      *v4.Signer
	region      string
	callerARN   CallerARN
}

func NewSigV4Authorizer(credentials aws.CredentialsProvider, region string, callerARN CallerARN) *SigV4Authorizer {
	return &SigV4Authorizer{
		credentials: credentials,
		signer:      v4.NewSigner(),
		region:      region,
		callerARN:   callerARN,
	}
}

func (a *SigV4Authorizer) Authorize(ctx context.Context, req *http.Request) error {
	if isLocal(req) {
		return a.injectRequestContext(ctx, req)
	}

	creds, err := a.credentials.Retrieve(ctx)
	if err != nil {
		return fmt.Errorf("failed to retrieve credentials: %w", err)
	}

	if err := a.signer.SignHTTP(ctx, creds, req, emptyPayloadHash, signingService, a.region, time.Now()); err != nil {
		return fmt.Errorf("failed to sign request: %w", err)
	}
	return nil
}

func (a *SigV4Authorizer) injectRequestContext(ctx context.Context, req *http.Request) error {
	arn, err := a.callerARN(ctx)
	if err != nil {
		return fmt.Errorf("failed to resolve caller arn: %w", err)
	}

	requestContext := events.APIGatewayV2HTTPRequestContext{
		Authorizer: &events.APIGatewayV2HTTPRequestContextAuthorizerDescription{
			IAM: &events.APIGatewayV2HTTPRequestContextAuthorizerIAMDescription{
				UserARN: arn,
			},
		},
	}

	data, err := json.Marshal(requestContext)
	if err != nil {
		return fmt.Errorf("failed to marshal request context: %w", err)
	}

	req.Header.Set(RequestContextHeader, string(data))
	return nil
}

func isLocal(req *http.Request) bool {
	switch req.URL.Hostname() {
	case "localhost", "127.0.0.1", "::1":
		return true
	}
	return false
}
