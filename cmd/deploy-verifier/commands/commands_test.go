package commands

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/savaki/deploy-verifier/internal/config"
	"github.com/savaki/deploy-verifier/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/urfave/cli/v2"
)

func testContext() context.Context {
	logger := zerolog.New(io.Discard)
	return logger.WithContext(context.Background())
}

// run executes a single command and returns what it wrote to stdout.
func run(t *testing.T, command *cli.Command, args ...string) (string, error) {
	t.Helper()

	var stdout bytes.Buffer
	app := &cli.App{
		Name:           "deploy-verifier",
		Writer:         &stdout,
		ErrWriter:      io.Discard,
		Commands:       []*cli.Command{command},
		ExitErrHandler: func(*cli.Context, error) {},
	}

	err := app.RunContext(testContext(), append([]string{"deploy-verifier", command.Name}, args...))
	return stdout.String(), err
}

// functionDir creates a function outside any git checkout with one binding.
func functionDir(t *testing.T) string {
	t.Helper()

	dir := filepath.Join(t.TempDir(), "orders")
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "bus", "payments"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "bus", "payments", "charge-created.json"), []byte(`{}`), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "handler.go"), []byte("package main\n"), 0o644))
	return dir
}

func offlineAWS(t *testing.T) {
	t.Setenv("AWS_ACCESS_KEY_ID", "AKIDEXAMPLE")
	t.Setenv("AWS_SECRET_ACCESS_KEY", "secret")
	t.Setenv("AWS_CONFIG_FILE", filepath.Join(t.TempDir(), "config"))
	t.Setenv("AWS_SHARED_CREDENTIALS_FILE", filepath.Join(t.TempDir(), "credentials"))
	t.Setenv("AWS_EC2_METADATA_DISABLED", "true")
}

func TestConfigFromCLI(t *testing.T) {
	t.Setenv("AWS_API_GATEWAY_ID", "a1b2c3")
	t.Setenv("AUTH_TYPE", "JWT")
	t.Setenv("ENABLE_EVENTING_ON_DEPLOY", "true")
	t.Setenv("AWS_SUBNET_IDS", "subnet-1, subnet-2,")
	t.Setenv("AWS_SECURITY_GROUP_IDS", "sg-1")
	t.Setenv("GIT_BRANCH", "feature")

	var got config.Config
	command := &cli.Command{
		Name:  "capture",
		Flags: join(functionFlags(), deployFlags(), probeFlags()),
		Action: func(c *cli.Context) error {
			got = ConfigFromCLI(c)
			return nil
		},
	}

	_, err := run(t, command,
		"--function-path", "functions/orders",
		"--region", "us-west-2",
		"--probe-attempts", "3",
		"--probe-delay", "250ms",
		"--jwt-token-url", "https://auth.example.com/oauth2/token",
		"--jwt-scopes", "read,write",
		"--exclude", "**/testdata/**",
	)
	require.NoError(t, err)

	assert.Equal(t, "functions/orders", got.FunctionPath)
	assert.Equal(t, "feature", got.Branch)
	assert.Equal(t, "us-west-2", got.Region)
	assert.Equal(t, "a1b2c3", got.GatewayID)
	assert.Equal(t, config.DefaultGatewayName, got.GatewayName)
	assert.Equal(t, config.RouteModeProxy, got.RouteMode)
	assert.Equal(t, config.AuthTypeJWT, got.AuthType)
	assert.True(t, got.EnableEventing)
	assert.False(t, got.DisableEventing)
	assert.Equal(t, []string{"subnet-1", "subnet-2"}, got.SubnetIDs)
	assert.Equal(t, []string{"sg-1"}, got.SecurityGroupIDs)
	assert.Equal(t, []string{"**/testdata/**"}, got.ScanExclude)
	assert.Equal(t, config.DefaultConcurrency, got.Concurrency)
	assert.Equal(t, "us-west-2", got.Probe.Region)
	assert.Equal(t, 3, got.Probe.MaxAttempts)
	assert.Equal(t, 250*time.Millisecond, got.Probe.Delay)
	assert.Equal(t, config.DefaultProbeMaxDelay, got.Probe.MaxDelay)
	assert.Equal(t, "https://auth.example.com/oauth2/token", got.JWT.TokenURL)
	assert.Equal(t, []string{"read", "write"}, got.JWT.Scopes)
}

func TestConfigFromCLI_EventingPresence(t *testing.T) {
	tests := []struct {
		name        string
		enable      string
		disable     string
		args        []string
		wantEnable  bool
		wantDisable bool
	}{
		{name: "unset"},
		{name: "any value enables", enable: "yes", wantEnable: true},
		{name: "false is still present", disable: "false", wantDisable: true},
		{name: "flag", args: []string{"--enable-eventing"}, wantEnable: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv("ENABLE_EVENTING_ON_DEPLOY", tt.enable)
			t.Setenv("DISABLE_EVENTING_ON_DEPLOY", tt.disable)

			var got config.Config
			command := &cli.Command{
				Name:  "capture",
				Flags: join(functionFlags(), deployFlags()),
				Action: func(c *cli.Context) error {
					got = ConfigFromCLI(c)
					return nil
				},
			}

			_, err := run(t, command, append([]string{"--function-path", "functions/orders"}, tt.args...)...)
			require.NoError(t, err)
			assert.Equal(t, tt.wantEnable, got.EnableEventing)
			assert.Equal(t, tt.wantDisable, got.DisableEventing)
		})
	}
}

func TestConfigFromCLI_Defaults(t *testing.T) {
	var got config.Config
	command := &cli.Command{
		Name:  "capture",
		Flags: functionFlags(),
		Action: func(c *cli.Context) error {
			got = ConfigFromCLI(c)
			return nil
		},
	}

	_, err := run(t, command, "--function-path", "functions/orders")
	require.NoError(t, err)

	assert.Equal(t, config.DefaultScanExclude, got.ScanExclude)
	assert.Equal(t, config.DefaultProbeMaxAttempts, got.Probe.MaxAttempts)
	assert.Empty(t, got.GatewayID)
	assert.False(t, got.ProbesEnabled())
}

func TestScanCommand(t *testing.T) {
	dir := functionDir(t)
	file := filepath.Join(dir, "bus", "payments", "charge-created.json")
	logger := zerolog.New(io.Discard)

	t.Run("text", func(t *testing.T) {
		out, err := run(t, ScanCommand(&logger), "--function-path", dir)
		require.NoError(t, err)
		assert.Equal(t, "payments/charge-created\t"+file+"\n", out)
	})

	t.Run("json", func(t *testing.T) {
		out, err := run(t, ScanCommand(&logger), "--function-path", dir, "--format", "json")
		require.NoError(t, err)

		var got []models.EventRuleBinding
		require.NoError(t, json.Unmarshal([]byte(out), &got))
		assert.Equal(t, []models.EventRuleBinding{{Bus: "payments", Rule: "charge-created", Path: file}}, got)
	})

	t.Run("no bindings", func(t *testing.T) {
		out, err := run(t, ScanCommand(&logger), "--function-path", t.TempDir(), "--format", "json")
		require.NoError(t, err)
		assert.Equal(t, "[]\n", out)
	})

	t.Run("requires function path", func(t *testing.T) {
		_, err := run(t, ScanCommand(&logger))
		assert.Error(t, err)
	})

	t.Run("rejects unknown format", func(t *testing.T) {
		_, err := run(t, ScanCommand(&logger), "--function-path", dir, "--format", "xml")
		assert.Error(t, err)
	})
}

func TestExpectCommand(t *testing.T) {
	offlineAWS(t)
	dir := functionDir(t)
	logger := zerolog.New(io.Discard)

	args := []string{
		"--function-path", dir,
		"--repository", "self",
		"--branch", "main",
		"--sha", "abc123",
		"--origin", "git@github.com:linecard/self.git",
		"--account-id", "123456789012",
		"--region", "us-west-2",
		"--gateway-id", "a1b2c3",
		"--auth-type", "AWS_IAM",
		"--enable-eventing",
	}

	t.Run("json", func(t *testing.T) {
		out, err := run(t, ExpectCommand(&logger), append(args, "--format", "json")...)
		require.NoError(t, err)

		var got expectOutput
		require.NoError(t, json.Unmarshal([]byte(out), &got))
		require.NotNil(t, got.Probe)
		assert.Equal(t, "https://a1b2c3.execute-api.us-west-2.amazonaws.com/self/main/orders/", got.Probe.URL)
		assert.Equal(t, 403, got.Probe.Unauthenticated)

		var descriptions []string
		for _, a := range got.Assertions {
			descriptions = append(descriptions, a.Description)
		}
		joined := strings.Join(descriptions, "\n")
		assert.Contains(t, joined, "self-main-orders-charge-created")
		assert.Contains(t, joined, "ANY /self/main/orders/{proxy+}")
	})

	t.Run("text", func(t *testing.T) {
		out, err := run(t, ExpectCommand(&logger), args...)
		require.NoError(t, err)
		assert.Contains(t, out, "function self-main-orders\n")
		assert.Contains(t, out, "probe https://a1b2c3.execute-api.us-west-2.amazonaws.com/self/main/orders/\n")
	})

	t.Run("conflicting eventing flags", func(t *testing.T) {
		_, err := run(t, ExpectCommand(&logger), append(args, "--disable-eventing")...)
		assert.Error(t, err)
	})
}

func TestIdentityCommand(t *testing.T) {
	offlineAWS(t)
	logger := zerolog.New(io.Discard)

	out, err := run(t, IdentityCommand(&logger),
		"--function-path", functionDir(t),
		"--repository", "self",
		"--branch", "main",
		"--sha", "abc123",
		"--origin", "https://github.com/linecard/self.git",
		"--account-id", "123456789012",
		"--region", "us-west-2",
		"--route-mode", "exact",
		"--format", "yaml",
	)
	require.NoError(t, err)
	assert.Contains(t, out, "function_name: self-main-orders\n")
	assert.Contains(t, out, "route_key: ANY /self/main/orders\n")
	assert.NotContains(t, out, "endpoint:")
}

func TestProbeCommand_RequiresGateway(t *testing.T) {
	logger := zerolog.New(io.Discard)

	_, err := run(t, ProbeCommand(&logger), "--function-path", functionDir(t), "--auth-type", "AWS_IAM")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "--gateway-id")
}
