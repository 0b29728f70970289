package services

import (
	"context"
	"errors"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/secretsmanager"
	"github.com/aws/aws-sdk-go-v2/service/ssm"
	ssmtypes "github.com/aws/aws-sdk-go-v2/service/ssm/types"
	"github.com/aws/aws-sdk-go-v2/service/sts"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type mockSTSClient struct {
	getCallerIdentityFunc func(ctx context.Context, params *sts.GetCallerIdentityInput, optFns ...func(*sts.Options)) (*sts.GetCallerIdentityOutput, error)
}

func (m *mockSTSClient) GetCallerIdentity(ctx context.Context, params *sts.GetCallerIdentityInput, optFns ...func(*sts.Options)) (*sts.GetCallerIdentityOutput, error) {
	return m.getCallerIdentityFunc(ctx, params, optFns...)
}

type mockSSMClient struct {
	calls            int
	getParameterFunc func(ctx context.Context, params *ssm.GetParameterInput, optFns ...func(*ssm.Options)) (*ssm.GetParameterOutput, error)
}

func (m *mockSSMClient) GetParameter(ctx context.Context, params *ssm.GetParameterInput, optFns ...func(*ssm.Options)) (*ssm.GetParameterOutput, error) {
	m.calls++
	return m.getParameterFunc(ctx, params, optFns...)
}

type mockSecretsManagerClient struct {
	getSecretValueFunc func(ctx context.Context, params *secretsmanager.GetSecretValueInput, optFns ...func(*secretsmanager.Options)) (*secretsmanager.GetSecretValueOutput, error)
}

func (m *mockSecretsManagerClient) GetSecretValue(ctx context.Context, params *secretsmanager.GetSecretValueInput, optFns ...func(*secretsmanager.Options)) (*secretsmanager.GetSecretValueOutput, error) {
	return m.getSecretValueFunc(ctx, params, optFns...)
}

func TestCallerIdentityService(t *testing.T) {
	var calls int
	svc := NewCallerIdentityService(&mockSTSClient{
		getCallerIdentityFunc: func(ctx context.Context, params *sts.GetCallerIdentityInput, optFns ...func(*sts.Options)) (*sts.GetCallerIdentityOutput, error) {
			calls++
			return &sts.GetCallerIdentityOutput{
				Account: aws.String("123456789012"),
				Arn:     aws.String("arn:aws:sts::123456789012:assumed-role/ci/session"),
			}, nil
		},
	})

	caller, err := svc.GetCallerIdentity(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "123456789012", caller.AccountID)
	assert.Equal(t, "arn:aws:sts::123456789012:assumed-role/ci/session", caller.ARN)

	again, err := svc.GetCallerIdentity(context.Background())
	require.NoError(t, err)
	assert.Equal(t, caller, again)
	assert.Equal(t, 1, calls)
}

func TestCallerIdentityService_Errors(t *testing.T) {
	boom := errors.New("boom")
	svc := NewCallerIdentityService(&mockSTSClient{
		getCallerIdentityFunc: func(ctx context.Context, params *sts.GetCallerIdentityInput, optFns ...func(*sts.Options)) (*sts.GetCallerIdentityOutput, error) {
			return nil, boom
		},
	})
	_, err := svc.GetCallerIdentity(context.Background())
	assert.ErrorIs(t, err, boom)

	svc = NewCallerIdentityService(&mockSTSClient{
		getCallerIdentityFunc: func(ctx context.Context, params *sts.GetCallerIdentityInput, optFns ...func(*sts.Options)) (*sts.GetCallerIdentityOutput, error) {
			return &sts.GetCallerIdentityOutput{}, nil
		},
	})
	_, err = svc.GetCallerIdentity(context.Background())
	assert.Error(t, err)
}

func TestSSMParameterStore_Caches(t *testing.T) {
	client := &mockSSMClient{
		getParameterFunc: func(ctx context.Context, params *ssm.GetParameterInput, optFns ...func(*ssm.Options)) (*ssm.GetParameterOutput, error) {
			assert.True(t, aws.ToBool(params.WithDecryption))
			return &ssm.GetParameterOutput{
				Parameter: &ssmtypes.Parameter{Name: params.Name, Value: aws.String("s3cr3t")},
			}, nil
		},
	}
	store := NewSSMParameterStore(client)

	for range 3 {
		value, err := store.GetSecret(context.Background(), "/verify/jwt/client-secret")
		require.NoError(t, err)
		assert.Equal(t, "s3cr3t", value)
	}
	assert.Equal(t, 1, client.calls)
}

func TestSSMParameterStore_Missing(t *testing.T) {
	store := NewSSMParameterStore(&mockSSMClient{
		getParameterFunc: func(ctx context.Context, params *ssm.GetParameterInput, optFns ...func(*ssm.Options)) (*ssm.GetParameterOutput, error) {
			return &ssm.GetParameterOutput{}, nil
		},
	})

	_, err := store.GetParameter(context.Background(), "/missing")
	assert.Error(t, err)
}

func TestSecretsManagerService_GetSecret(t *testing.T) {
	svc := NewSecretsManagerService(&mockSecretsManagerClient{
		getSecretValueFunc: func(ctx context.Context, params *secretsmanager.GetSecretValueInput, optFns ...func(*secretsmanager.Options)) (*secretsmanager.GetSecretValueOutput, error) {
			assert.Equal(t, "verify/jwt", aws.ToString(params.SecretId))
			return &secretsmanager.GetSecretValueOutput{SecretString: aws.String(`{"client_secret":"x"}`)}, nil
		},
	})

	value, err := svc.GetSecret(context.Background(), "verify/jwt")
	require.NoError(t, err)
	assert.Equal(t, `{"client_secret":"x"}`, value)

	svc = NewSecretsManagerService(&mockSecretsManagerClient{
		getSecretValueFunc: func(ctx context.Context, params *secretsmanager.GetSecretValueInput, optFns ...func(*secretsmanager.Options)) (*secretsmanager.GetSecretValueOutput, error) {
			return &secretsmanager.GetSecretValueOutput{}, nil
		},
	})
	_, err = svc.GetSecret(context.Background(), "binary")
	assert.Error(t, err)
}

func TestParseClientCredentials(t *testing.T) {
	tests := []struct {
		name    string
		value   string
		want    ClientCredentials
		wantErr bool
	}{
		{
			name:  "bare secret",
			value: "s3cr3t\n",
			want:  ClientCredentials{ClientID: "default", ClientSecret: "s3cr3t"},
		},
		{
			name:  "json with client id",
			value: `{"client_id":"verifier","client_secret":"s3cr3t"}`,
			want:  ClientCredentials{ClientID: "verifier", ClientSecret: "s3cr3t"},
		},
		{
			name:  "json without client id",
			value: `{"client_secret":"s3cr3t"}`,
			want:  ClientCredentials{ClientID: "default", ClientSecret: "s3cr3t"},
		},
		{name: "empty", value: "  ", wantErr: true},
		{name: "json without secret", value: `{"client_id":"verifier"}`, wantErr: true},
		{name: "malformed json", value: `{"client_id":`, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseClientCredentials(tt.value, "default")
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}
