package probe

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/aws/aws-lambda-go/events"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/rs/zerolog"
	"github.com/savaki/deploy-verifier/internal/config"
	"github.com/savaki/deploy-verifier/internal/expect"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const callerARN = "arn:aws:sts::123456789012:assumed-role/ci/session"

type mockHTTPClient struct {
	doFunc func(req *http.Request) (*http.Response, error)
}

func (m *mockHTTPClient) Do(req *http.Request) (*http.Response, error) {
	return m.doFunc(req)
}

type mockSecretSource struct {
	mu    sync.Mutex
	calls int
	value string
}

func (m *mockSecretSource) GetSecret(ctx context.Context, name string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls++
	return m.value, nil
}

func testContext() context.Context {
	logger := zerolog.New(io.Discard)
	return logger.WithContext(context.Background())
}

func fastPolicy(attempts int) RetryPolicy {
	return RetryPolicy{
		MaxAttempts:    attempts,
		Delay:          time.Millisecond,
		MaxDelay:       5 * time.Millisecond,
		AttemptTimeout: 2 * time.Second,
	}
}

func staticCredentials() credentials.StaticCredentialsProvider {
	return credentials.NewStaticCredentialsProvider("AKIDEXAMPLE", "secret", "session-token")
}

func TestRetryPolicy_Backoff(t *testing.T) {
	p := RetryPolicy{Delay: time.Second, MaxDelay: 10 * time.Second}

	assert.Equal(t, 1*time.Second, p.backoff(1))
	assert.Equal(t, 2*time.Second, p.backoff(2))
	assert.Equal(t, 4*time.Second, p.backoff(3))
	assert.Equal(t, 8*time.Second, p.backoff(4))
	assert.Equal(t, 10*time.Second, p.backoff(5))
	assert.Equal(t, 10*time.Second, p.backoff(9))
}

func TestRetryPolicyFromConfig(t *testing.T) {
	c := config.Config{FunctionPath: "fn"}.WithDefaults()
	p := RetryPolicyFromConfig(c.Probe)

	assert.Equal(t, 10, p.MaxAttempts)
	assert.Equal(t, time.Second, p.Delay)
	assert.Equal(t, 10*time.Second, p.MaxDelay)
	assert.Equal(t, 10*time.Second, p.AttemptTimeout)
}

func TestRun_IAMLocal(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var rc events.APIGatewayV2HTTPRequestContext
		header := r.Header.Get(RequestContextHeader)
		if header == "" || json.Unmarshal([]byte(header), &rc) != nil ||
			rc.Authorizer == nil || rc.Authorizer.IAM == nil || rc.Authorizer.IAM.UserARN != callerARN {
			w.WriteHeader(http.StatusForbidden)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	engine := New(server.Client(), fastPolicy(3),
		WithAuthorizer(config.AuthTypeIAM, NewSigV4Authorizer(staticCredentials(), "us-west-2", StaticCallerARN(callerARN))),
	)

	expectation, ok := expect.NewProbeExpectation(server.URL+"/self/main/orders/", config.AuthTypeIAM)
	require.True(t, ok)

	results := engine.Run(testContext(), expectation)
	require.Len(t, results, 2)

	assert.True(t, results[0].Authenticated)
	assert.True(t, results[0].Passed, results[0].Err)
	assert.Equal(t, http.StatusOK, results[0].StatusCode)

	assert.False(t, results[1].Authenticated)
	assert.True(t, results[1].Passed, results[1].Err)
	assert.Equal(t, http.StatusForbidden, results[1].StatusCode)
	assert.Equal(t, 1, results[1].Attempts)
}

func TestSigV4Authorizer_Signs(t *testing.T) {
	authorizer := NewSigV4Authorizer(staticCredentials(), "us-west-2", StaticCallerARN(callerARN))

	req, err := http.NewRequest(http.MethodGet, "https://a1b2c3.execute-api.us-west-2.amazonaws.com/self/main/orders/", nil)
	require.NoError(t, err)
	require.NoError(t, authorizer.Authorize(testContext(), req))

	authorization := req.Header.Get("Authorization")
	assert.True(t, strings.HasPrefix(authorization, "AWS4-HMAC-SHA256 Credential=AKIDEXAMPLE/"), authorization)
	assert.Contains(t, authorization, "/us-west-2/execute-api/aws4_request")
	assert.NotEmpty(t, req.Header.Get("X-Amz-Date"))
	assert.Equal(t, "session-token", req.Header.Get("X-Amz-Security-Token"))
	assert.Empty(t, req.Header.Get(RequestContextHeader))
}

func TestRun_JWT(t *testing.T) {
	var tokenRequests atomic.Int32
	tokenServer := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		tokenRequests.Add(1)
		_ = r.ParseForm()

		clientID, clientSecret, ok := r.BasicAuth()
		if !ok {
			clientID, clientSecret = r.PostForm.Get("client_id"), r.PostForm.Get("client_secret")
		}
		if r.PostForm.Get("grant_type") != "client_credentials" || clientID != "verifier" || clientSecret != "s3cr3t" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}

		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, `{"access_token":"tok-123","token_type":"Bearer","expires_in":3600}`)
	}))
	defer tokenServer.Close()

	apiServer := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer tok-123" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer apiServer.Close()

	secrets := &mockSecretSource{value: `{"client_id":"verifier","client_secret":"s3cr3t"}`}
	authorizer := NewBearerAuthorizer(config.JWTConfig{TokenURL: tokenServer.URL}, secrets, "/verify/jwt", tokenServer.Client())
	engine := New(apiServer.Client(), fastPolicy(3), WithAuthorizer(config.AuthTypeJWT, authorizer))

	expectation, ok := expect.NewProbeExpectation(apiServer.URL+"/self/main/orders/", config.AuthTypeJWT)
	require.True(t, ok)

	for range 2 {
		results := engine.Run(testContext(), expectation)
		require.Len(t, results, 2)
		assert.True(t, results[0].Passed, results[0].Err)
		assert.Equal(t, http.StatusOK, results[0].StatusCode)
		assert.True(t, results[1].Passed, results[1].Err)
		assert.Equal(t, http.StatusUnauthorized, results[1].StatusCode)
	}

	assert.Equal(t, 1, secrets.calls, "client secret is loaded once")
	assert.Equal(t, int32(1), tokenRequests.Load(), "access token is reused")
}

func TestProbe_TokenEndpointUnresponsive(t *testing.T) {
	release := make(chan struct{})
	tokenServer := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer tokenServer.Close()
	defer close(release)

	apiServer := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Error("request should not be sent without a token")
	}))
	defer apiServer.Close()

	secrets := &mockSecretSource{value: `{"client_id":"verifier","client_secret":"s3cr3t"}`}
	authorizer := NewBearerAuthorizer(config.JWTConfig{TokenURL: tokenServer.URL}, secrets, "/verify/jwt", &http.Client{})
	policy := RetryPolicy{MaxAttempts: 2, Delay: time.Millisecond, MaxDelay: time.Millisecond, AttemptTimeout: 200 * time.Millisecond}
	engine := New(apiServer.Client(), policy, WithAuthorizer(config.AuthTypeJWT, authorizer))

	t.Run("attempt timeout", func(t *testing.T) {
		start := time.Now()
		result := engine.Probe(testContext(), apiServer.URL, config.AuthTypeJWT, true, http.StatusOK)

		assert.Less(t, time.Since(start), 3*time.Second)
		assert.False(t, result.Passed)
		assert.Equal(t, 2, result.Attempts)
		assert.Contains(t, result.Err, "failed to obtain access token")
	})

	t.Run("run cancelled", func(t *testing.T) {
		ctx, cancel := context.WithCancel(testContext())
		slow := New(apiServer.Client(), RetryPolicy{MaxAttempts: 1, AttemptTimeout: time.Hour}, WithAuthorizer(config.AuthTypeJWT, authorizer))

		go func() {
			time.Sleep(100 * time.Millisecond)
			cancel()
		}()

		start := time.Now()
		result := slow.Probe(ctx, apiServer.URL, config.AuthTypeJWT, true, http.StatusOK)

		assert.Less(t, time.Since(start), 3*time.Second)
		assert.False(t, result.Passed)
		assert.Equal(t, 1, result.Attempts)
		assert.Contains(t, result.Err, context.Canceled.Error())
	})

	assert.Equal(t, 1, secrets.calls, "client secret is loaded once")
}

func TestProbe_RetriesUntilExpected(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) <= 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	engine := New(server.Client(), fastPolicy(10))
	result := engine.Probe(testContext(), server.URL, config.AuthTypeIAM, false, http.StatusOK)

	assert.True(t, result.Passed)
	assert.Equal(t, 4, result.Attempts)
	assert.Equal(t, http.StatusOK, result.StatusCode)
	assert.Empty(t, result.Err)
}

func TestProbe_Exhausted(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	engine := New(server.Client(), fastPolicy(3))
	result := engine.Probe(testContext(), server.URL, config.AuthTypeIAM, false, http.StatusForbidden)

	assert.False(t, result.Passed)
	assert.Equal(t, 3, result.Attempts)
	assert.Equal(t, int32(3), calls.Load())
	assert.Equal(t, http.StatusInternalServerError, result.StatusCode)
}

func TestProbe_TransportError(t *testing.T) {
	var calls int
	client := &mockHTTPClient{
		doFunc: func(req *http.Request) (*http.Response, error) {
			calls++
			return nil, errors.New("connection refused")
		},
	}

	engine := New(client, fastPolicy(4))
	result := engine.Probe(testContext(), "https://a1b2c3.execute-api.us-west-2.amazonaws.com/", config.AuthTypeIAM, false, http.StatusForbidden)

	assert.False(t, result.Passed)
	assert.Equal(t, 4, calls)
	assert.Equal(t, 4, result.Attempts)
	assert.Equal(t, 0, result.StatusCode)
	assert.Contains(t, result.Err, "connection refused")
}

func TestProbe_MissingAuthorizer(t *testing.T) {
	client := &mockHTTPClient{
		doFunc: func(req *http.Request) (*http.Response, error) {
			t.Fatal("request should not be sent without credentials")
			return nil, nil
		},
	}

	engine := New(client, fastPolicy(2))
	result := engine.Probe(testContext(), "https://example.com/", config.AuthTypeJWT, true, http.StatusOK)

	assert.False(t, result.Passed)
	assert.Contains(t, result.Err, "no authorizer configured for JWT")
}

func TestProbe_Cancelled(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	t.Run("before first attempt", func(t *testing.T) {
		ctx, cancel := context.WithCancel(testContext())
		cancel()

		result := New(server.Client(), fastPolicy(10)).Probe(ctx, server.URL, config.AuthTypeIAM, false, http.StatusOK)

		assert.False(t, result.Passed)
		assert.Equal(t, 1, result.Attempts)
		assert.Contains(t, result.Err, context.Canceled.Error())
	})

	t.Run("during backoff", func(t *testing.T) {
		ctx, cancel := context.WithCancel(testContext())
		policy := RetryPolicy{MaxAttempts: 10, Delay: time.Hour, MaxDelay: time.Hour, AttemptTimeout: time.Second}

		go func() {
			time.Sleep(50 * time.Millisecond)
			cancel()
		}()

		start := time.Now()
		result := New(server.Client(), policy).Probe(ctx, server.URL, config.AuthTypeIAM, false, http.StatusOK)

		assert.Less(t, time.Since(start), 10*time.Second)
		assert.False(t, result.Passed)
		assert.Equal(t, 1, result.Attempts)
		assert.Equal(t, http.StatusInternalServerError, result.StatusCode)
		assert.Contains(t, result.Err, context.Canceled.Error())
	})
}

func TestResult_String(t *testing.T) {
	r := Result{URL: "https://x/", Mode: config.AuthTypeJWT, Authenticated: true, Expected: 200}
	assert.Equal(t, "JWT authenticated GET https://x/ returns 200", r.String())
}
