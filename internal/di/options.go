package di

import "context"

// Option is a function that configures the dependency injection container.
type Option func(*options)

// WithContext sets the context handed to providers that perform I/O while
// the container is built. It defaults to context.Background().
func WithContext(ctx context.Context) Option {
	return func(opts *options) {
		opts.ctx = ctx
	}
}

// WithProviders adds constructor functions to the dependency injection container.
// Each provider should be a constructor function that returns one or more values.
// Providers can declare dependencies as function parameters, which will be
// automatically resolved by the container. Providing a type the container
// already provides is an error; use WithDecorators to replace one.
//
// Example:
//
//	WithProviders(
//	    func() *Database { return &Database{} },
//	    func(db *Database) *Service { return &Service{DB: db} },
//	)
func WithProviders(providers ...any) Option {
	return func(opts *options) {
		opts.providers = append(opts.providers, providers...)
	}
}

// WithDecorators replaces values built by the core providers, typically
// with fakes in tests.
func WithDecorators(decorators ...any) Option {
	return func(opts *options) {
		opts.decorators = append(opts.decorators, decorators...)
	}
}

type options struct {
	ctx        context.Context
	providers  []any
	decorators []any
}
