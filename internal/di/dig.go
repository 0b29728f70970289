// Package di provides a lightweight wrapper around uber's dig dependency injection framework.
// It simplifies container setup and provides type-safe dependency retrieval with generics.
package di

import (
	"context"

	"github.com/savaki/deploy-verifier/internal/config"
	"go.uber.org/dig"
)

// Container defines a dependency injection container based on uber's dig.
// This interface allows for easy testing and mocking of the DI container.
type Container interface {
	// Invoke executes a function, injecting its dependencies from the container.
	Invoke(function any, opts ...dig.InvokeOption) error

	// Provide registers a constructor function in the container.
	Provide(constructor any, opts ...dig.ProvideOption) error

	// Scope creates a scoped sub-container with its own set of values.
	Scope(name string, opts ...dig.ScopeOption) *dig.Scope
}

// MustGet returns an instance constructed via dependency injection or panics.
// This is a convenience function for retrieving a dependency from the container
// when you're certain it exists. If the dependency cannot be resolved, it will panic.
//
// Example:
//
//	db := MustGet[*Database](container)
func MustGet[T any](container Container) (want T) {
	callback := func(got T) {
		want = got
	}
	if err := container.Invoke(callback); err != nil {
		panic(err)
	}
	return want
}

// New creates a new dependency injection container for one verification run.
// The run configuration is registered as a config.Config dependency and the
// context from WithContext as a context.Context dependency.
//
// Example:
//
//	container, err := New(cfg,
//	    WithContext(ctx),
//	    WithProviders(
//	        func() *Database { return &Database{} },
//	    ),
//	)
//	v := MustGet[*verifier.Verifier](container)
func New(cfg config.Config, opts ...Option) (Container, error) {
	// Build options
	o := options{ctx: context.Background()}
	for _, opt := range opts {
		opt(&o)
	}

	// Create dig container
	container := dig.New()
	if err := container.Provide(func() config.Config { return cfg.WithDefaults() }); err != nil {
		return nil, err
	}
	if err := container.Provide(func() context.Context { return o.ctx }); err != nil {
		return nil, err
	}

	// Register all provided constructors
	for _, provider := range core {
		if err := container.Provide(provider); err != nil {
			return nil, err
		}
	}

	// Register all provided constructors
	for _, provider := range o.providers {
		if err := container.Provide(provider); err != nil {
			return nil, err
		}
	}

	for _, decorator := range o.decorators {
		if err := container.Decorate(decorator); err != nil {
			return nil, err
		}
	}

	return container, nil
}

var core = []any{
	ProvideAWSConfig,
	ProvideLambdaClient,
	ProvideIAMClient,
	ProvideAPIGatewayClient,
	ProvideEventBridgeClient,
	ProvideSTSClient,
	ProvideSSMClient,
	ProvideSecretsManagerClient,
	ProvideCallerIdentity,
	ProvideParameterStore,
	ProvideSecretsManager,
	ProvideInspector,
	ProvideHTTPClient,
	ProvideProbeEngine,
	ProvideVerifier,
}
