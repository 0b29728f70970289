// Package probe issues authenticated and unauthenticated GET requests
// against a deployed endpoint and checks the returned status codes.
package probe

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/rs/zerolog"
	"github.com/savaki/deploy-verifier/internal/config"
	"github.com/savaki/deploy-verifier/internal/expect"
	"github.com/sourcegraph/conc/pool"
)

// maxDrain bounds how much of a response body is read before closing it.
const maxDrain = 64 << 10

// HTTPClient abstracts HTTP operations for issuing probes
type HTTPClient interface {
	Do(req *http.Request) (*http.Response, error)
}

// Authorizer adds credentials to an outgoing probe request.
type Authorizer interface {
	Authorize(ctx context.Context, req *http.Request) error
}

// RetryPolicy bounds the attempts made by a single probe. Delays grow
// exponentially from Delay and are capped at MaxDelay.
type RetryPolicy struct {
	MaxAttempts    int
	Delay          time.Duration
	MaxDelay       time.Duration
	AttemptTimeout time.Duration
}

func RetryPolicyFromConfig(c config.ProbeConfig) RetryPolicy {
	return RetryPolicy{
		MaxAttempts:    c.MaxAttempts,
		Delay:          c.Delay,
		MaxDelay:       c.MaxDelay,
		AttemptTimeout: c.AttemptTimeout,
	}
}

// backoff is the wait before the given retry (attempt >= 1).
func (p RetryPolicy) backoff(attempt int) time.Duration {
	delay := p.Delay * time.Duration(1<<uint(min(attempt-1, 16)))
	if p.MaxDelay > 0 && delay > p.MaxDelay {
		delay = p.MaxDelay
	}
	return delay
}

// Result is the outcome of one probe after retries.
type Result struct {
	URL           string          `json:"url" yaml:"url"`
	Mode          config.AuthType `json:"mode" yaml:"mode"`
	Authenticated bool            `json:"authenticated" yaml:"authenticated"`
	Expected      int             `json:"expected" yaml:"expected"`
	StatusCode    int             `json:"status_code" yaml:"status_code"`
	Attempts      int             `json:"attempts" yaml:"attempts"`
	Elapsed       time.Duration   `json:"elapsed" yaml:"elapsed"`
	Passed        bool            `json:"passed" yaml:"passed"`
	Err           string          `json:"error,omitempty" yaml:"error,omitempty"`
}

func (r Result) String() string {
	auth := "unauthenticated"
	if r.Authenticated {
		auth = "authenticated"
	}
	return fmt.Sprintf("%s %s GET %s returns %d", r.Mode, auth, r.URL, r.Expected)
}

type Option func(*Engine)

// WithAuthorizer registers the authorizer used for authenticated probes in mode.
func WithAuthorizer(mode config.AuthType, a Authorizer) Option {
	return func(e *Engine) {
		e.authorizers[mode] = a
	}
}

type Engine struct {
	client      HTTPClient
	policy      RetryPolicy
	authorizers map[config.AuthType]Authorizer
}

func New(client HTTPClient, policy RetryPolicy, opts ...Option) *Engine {
	e := &Engine{
		client:      client,
		policy:      policy,
		authorizers: map[config.AuthType]Authorizer{},
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Run makes the authenticated and unauthenticated probes concurrently and
// returns their results in that order.
func (e *Engine) Run(ctx context.Context, p expect.ProbeExpectation) []Result {
	results := make([]Result, 2)

	wg := pool.New().WithMaxGoroutines(2)
	wg.Go(func() {
		results[0] = e.Probe(ctx, p.URL, p.Mode, true, p.Authenticated)
	})
	wg.Go(func() {
		results[1] = e.Probe(ctx, p.URL, p.Mode, false, p.Unauthenticated)
	})
	wg.Wait()

	return results
}

// Probe retries a GET against url until it returns expected or the retry
// budget runs out. Cancellation of ctx ends the probe with a failed result.
func (e *Engine) Probe(ctx context.Context, url string, mode config.AuthType, authenticated bool, expected int) Result {
	logger := zerolog.Ctx(ctx).With().
		Str("url", url).
		Str("mode", string(mode)).
		Bool("authenticated", authenticated).
		Logger()

	result := Result{URL: url, Mode: mode, Authenticated: authenticated, Expected: expected}
	start := time.Now()

	maxAttempts := max(e.policy.MaxAttempts, 1)
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		if attempt > 1 {
			delay := e.policy.backoff(attempt - 1)
			logger.Debug().Int("attempt", attempt).Dur("delay", delay).Msg("Retrying probe")

			timer := time.NewTimer(delay)
			select {
			case <-ctx.Done():
				timer.Stop()
				result.Err = ctx.Err().Error()
				result.Elapsed = time.Since(start)
				return result
			case <-timer.C:
			}
		}

		result.Attempts = attempt
		status, err := e.attempt(ctx, url, mode, authenticated)
		result.StatusCode = status
		result.Err = ""
		if err != nil {
			result.Err = err.Error()
		}

		if err == nil && status == expected {
			result.Passed = true
			logger.Info().Int("status", status).Int("attempts", attempt).Msg("Probe passed")
			result.Elapsed = time.Since(start)
			return result
		}

		if ctx.Err() != nil {
			result.Err = ctx.Err().Error()
			break
		}

		logger.Debug().Err(err).Int("status", status).Int("expected", expected).Int("attempt", attempt).Msg("Probe attempt failed")
	}

	logger.Warn().Int("status", result.StatusCode).Int("expected", expected).Int("attempts", result.Attempts).Str("error", result.Err).Msg("Probe failed")
	result.Elapsed = time.Since(start)
	return result
}

func (e *Engine) attempt(ctx context.Context, url string, mode config.AuthType, authenticated bool) (int, error) {
	if e.policy.AttemptTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.policy.AttemptTimeout)
		defer cancel()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return 0, fmt.Errorf("failed to create request: %w", err)
	}

	if authenticated {
		authorizer, ok := e.authorizers[mode]
		if !ok {
			return 0, fmt.Errorf("no authorizer configured for %s", mode)
		}
		if err := authorizer.Authorize(ctx, req); err != nil {
			return 0, fmt.Errorf("failed to authorize request: %w", err)
		}
	}

	resp, err := e.client.Do(req)
	if err != nil {
		return 0, fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, maxDrain))
	return resp.StatusCode, nil
}
