package commands

import (
	"fmt"
	"io"

	"github.com/savaki/deploy-verifier/internal/config"
	"github.com/savaki/deploy-verifier/internal/di"
	"github.com/savaki/deploy-verifier/internal/report"
	"github.com/urfave/cli/v2"
)

// resolve builds T from a container holding the run configuration.
func resolve[T any](c *cli.Context, cfg config.Config, opts ...di.Option) (T, error) {
	var want T

	opts = append([]di.Option{di.WithContext(c.Context)}, opts...)
	container, err := di.New(cfg, opts...)
	if err != nil {
		return want, fmt.Errorf("failed to create container: %w", err)
	}

	if err := container.Invoke(func(got T) { want = got }); err != nil {
		return want, fmt.Errorf("failed to initialize: %w", err)
	}
	return want, nil
}

// output writes v as json or yaml, or calls text for the text format.
func output(w io.Writer, name string, v any, text func(io.Writer) error) error {
	format, err := report.ParseFormat(name)
	if err != nil {
		return err
	}
	if format == report.FormatText {
		return text(w)
	}
	return report.Encode(w, format, v)
}

// exitOnFailure turns a failed report into a non-zero exit.
func exitOnFailure(r *report.Report) error {
	if r.OK() {
		return nil
	}
	return cli.Exit(fmt.Sprintf("%d of %d checks failed", r.Failed, r.Passed+r.Failed), 1)
}
