package services

import (
	"context"
	"fmt"
	"sync"

	"github.com/aws/aws-sdk-go-v2/service/sts"
)

// STSClient is the subset of the STS API used to identify the caller.
type STSClient interface {
	GetCallerIdentity(ctx context.Context, params *sts.GetCallerIdentityInput, optFns ...func(*sts.Options)) (*sts.GetCallerIdentityOutput, error)
}

// Caller identifies the principal the ambient credentials belong to.
type Caller struct {
	AccountID string
	ARN       string
}

// CallerIdentityService resolves the caller once per process.
type CallerIdentityService struct {
	client STSClient

	mu     sync.Mutex
	caller *Caller
}

func NewCallerIdentityService(client STSClient) *CallerIdentityService {
	return &CallerIdentityService{client: client}
}

// GetCallerIdentity retrieves the account and ARN of the current credentials
func (s *CallerIdentityService) GetCallerIdentity(ctx context.Context) (Caller, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.caller != nil {
		return *s.caller, nil
	}

	result, err := s.client.GetCallerIdentity(ctx, &sts.GetCallerIdentityInput{})
	if err != nil {
		return Caller{}, fmt.Errorf("failed to get caller identity: %w", err)
	}

	if result.Account == nil {
		return Caller{}, fmt.Errorf("account ID is nil")
	}

	caller := Caller{AccountID: *result.Account}
	if result.Arn != nil {
		caller.ARN = *result.Arn
	}
	s.caller = &caller
	return caller, nil
}
