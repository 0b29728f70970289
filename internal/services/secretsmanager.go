package services

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/secretsmanager"
)

// SecretsManagerClient is the subset of the Secrets Manager API used here.
type SecretsManagerClient interface {
	GetSecretValue(ctx context.Context, params *secretsmanager.GetSecretValueInput, optFns ...func(*secretsmanager.Options)) (*secretsmanager.GetSecretValueOutput, error)
}

type SecretsManagerService struct {
	client SecretsManagerClient
}

func NewSecretsManagerService(client SecretsManagerClient) *SecretsManagerService {
	return &SecretsManagerService{client: client}
}

// GetSecret retrieves a secret value by id from AWS Secrets Manager
func (s *SecretsManagerService) GetSecret(ctx context.Context, secretID string) (string, error) {
	result, err := s.client.GetSecretValue(ctx, &secretsmanager.GetSecretValueInput{
		SecretId: aws.String(secretID),
	})
	if err != nil {
		return "", fmt.Errorf("failed to get secret %s: %w", secretID, err)
	}

	if result.SecretString == nil {
		return "", fmt.Errorf("secret %s has no string value", secretID)
	}

	return *result.SecretString, nil
}

// ClientCredentials is an OAuth client id and secret pair.
type ClientCredentials struct {
	ClientID     string `json:"client_id"`
	ClientSecret string `json:"client_secret"`
}

// ParseClientCredentials accepts either a bare client secret or a JSON
// document with client_id and client_secret. A client id found in the
// document takes precedence over defaultClientID.
func ParseClientCredentials(value, defaultClientID string) (ClientCredentials, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return ClientCredentials{}, fmt.Errorf("client secret is empty")
	}

	creds := ClientCredentials{ClientID: defaultClientID, ClientSecret: value}
	if !strings.HasPrefix(value, "{") {
		return creds, nil
	}

	var doc ClientCredentials
	if err := json.Unmarshal([]byte(value), &doc); err != nil {
		return ClientCredentials{}, fmt.Errorf("failed to unmarshal client credentials: %w", err)
	}
	if doc.ClientSecret == "" {
		return ClientCredentials{}, fmt.Errorf("client_secret field is empty")
	}

	creds.ClientSecret = doc.ClientSecret
	if doc.ClientID != "" {
		creds.ClientID = doc.ClientID
	}
	return creds, nil
}
