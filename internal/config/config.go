// Package config holds the immutable settings of a single verification run.
//
// A Config is built once at startup (see commands.ConfigFromCLI) and passed by
// value to everything that needs it; nothing below the command layer reads
// the process environment.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/savaki/deploy-verifier/internal/errors"
)

// AuthType selects how the deployed endpoint is expected to authorize callers.
type AuthType string

const (
	AuthTypeIAM AuthType = "AWS_IAM"
	AuthTypeJWT AuthType = "JWT"
)

// Recognized reports whether probes can be built for the auth type.
func (a AuthType) Recognized() bool {
	return a == AuthTypeIAM || a == AuthTypeJWT
}

// RouteMode selects the shape of the API gateway route key.
type RouteMode string

const (
	RouteModeProxy RouteMode = "proxy" // ANY /{repo}/{branch}/{function}/{proxy+}
	RouteModeExact RouteMode = "exact" // ANY /{repo}/{branch}/{function}
)

const (
	DefaultGatewayName         = "self-verify"
	DefaultProbeMaxAttempts    = 10
	DefaultProbeDelay          = time.Second
	DefaultProbeMaxDelay       = 10 * time.Second
	DefaultProbeAttemptTimeout = 10 * time.Second
	DefaultConcurrency         = 8
)

// DefaultScanExclude lists the doublestar patterns skipped while scanning.
var DefaultScanExclude = []string{"**/.git/**", "**/node_modules/**"}

type Config struct {
	FunctionPath string

	// Overrides for values otherwise read from the git checkout
	Repository string
	Branch     string
	Sha        string
	Origin     string

	AccountID string
	Region    string

	GatewayID   string // Enables positive routing assertions and probes
	GatewayName string // API inspected for stray routes when GatewayID is unset
	RouteMode   RouteMode
	AuthType    AuthType

	EnableEventing  bool
	DisableEventing bool

	SubnetIDs        []string
	SecurityGroupIDs []string

	ScanExclude []string
	Concurrency int

	Probe ProbeConfig
	JWT   JWTConfig
}

type ProbeConfig struct {
	Region         string // Signing region for execute-api
	MaxAttempts    int
	Delay          time.Duration
	MaxDelay       time.Duration
	AttemptTimeout time.Duration
}

// JWTConfig describes the OAuth client-credentials exchange. TokenURL is the
// token endpoint and is never the probed endpoint.
type JWTConfig struct {
	TokenURL              string
	ClientID              string
	ClientSecretParameter string // SSM parameter name
	ClientSecretID        string // Secrets Manager secret id, used when no parameter is set
	Audience              string
	Scopes                []string
}

// WithDefaults fills zero values with their defaults.
func (c Config) WithDefaults() Config {
	if c.GatewayName == "" {
		c.GatewayName = DefaultGatewayName
	}
	if c.RouteMode == "" {
		c.RouteMode = RouteModeProxy
	}
	if c.ScanExclude == nil {
		c.ScanExclude = DefaultScanExclude
	}
	if c.Concurrency < 1 {
		c.Concurrency = DefaultConcurrency
	}
	if c.Probe.Region == "" {
		c.Probe.Region = c.Region
	}
	if c.Probe.MaxAttempts < 1 {
		c.Probe.MaxAttempts = DefaultProbeMaxAttempts
	}
	if c.Probe.Delay <= 0 {
		c.Probe.Delay = DefaultProbeDelay
	}
	if c.Probe.MaxDelay <= 0 {
		c.Probe.MaxDelay = DefaultProbeMaxDelay
	}
	if c.Probe.AttemptTimeout <= 0 {
		c.Probe.AttemptTimeout = DefaultProbeAttemptTimeout
	}
	return c
}

// Validate checks the preconditions that must hold before any assertion runs.
func (c Config) Validate() error {
	if strings.TrimSpace(c.FunctionPath) == "" {
		return errors.ErrFunctionPathRequired
	}
	if c.EnableEventing && c.DisableEventing {
		return errors.ErrConflictingEventingFlags
	}
	switch c.RouteMode {
	case "", RouteModeProxy, RouteModeExact:
	default:
		return fmt.Errorf("unsupported route mode %q (want %q or %q)", c.RouteMode, RouteModeProxy, RouteModeExact)
	}
	if c.GatewayID != "" && c.AuthType == AuthTypeJWT {
		if c.JWT.TokenURL == "" {
			return errors.ErrTokenURLRequired
		}
		if c.JWT.ClientSecretParameter == "" && c.JWT.ClientSecretID == "" {
			return errors.ErrClientSecretRequired
		}
	}
	return nil
}

// GatewayConfigured reports whether the function is expected behind an API gateway.
func (c Config) GatewayConfigured() bool {
	return c.GatewayID != ""
}

// ExpectEventing reports whether discovered rules are expected to be enabled.
// With neither flag set rules are expected to be absent.
func (c Config) ExpectEventing() bool {
	return c.EnableEventing && !c.DisableEventing
}

// VPCConfigured reports whether both subnet and security group lists are set.
func (c Config) VPCConfigured() bool {
	return len(c.SubnetIDs) > 0 && len(c.SecurityGroupIDs) > 0
}

// ProbesEnabled reports whether the endpoint should be probed at all.
func (c Config) ProbesEnabled() bool {
	return c.GatewayConfigured() && c.AuthType.Recognized()
}

// SplitList splits a comma separated list, trimming blanks and dropping empty items.
func SplitList(s string) []string {
	var items []string
	for _, item := range strings.Split(s, ",") {
		if item = strings.TrimSpace(item); item != "" {
			items = append(items, item)
		}
	}
	return items
}
