// Package report collects the outcome of a verification run and renders it
// as text, JSON or YAML.
package report

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/savaki/deploy-verifier/internal/expect"
	"github.com/savaki/deploy-verifier/internal/models"
	"github.com/savaki/deploy-verifier/internal/probe"
	"github.com/segmentio/ksuid"
	"gopkg.in/yaml.v3"
)

type Format string

const (
	FormatText Format = "text"
	FormatJSON Format = "json"
	FormatYAML Format = "yaml"
)

func ParseFormat(s string) (Format, error) {
	switch f := Format(strings.ToLower(s)); f {
	case FormatText, FormatJSON, FormatYAML:
		return f, nil
	case "":
		return FormatText, nil
	default:
		return "", fmt.Errorf("unsupported format %q (want text, json or yaml)", s)
	}
}

type Report struct {
	RunID      string                    `json:"run_id" yaml:"run_id"`
	StartedAt  time.Time                 `json:"started_at" yaml:"started_at"`
	Duration   time.Duration             `json:"duration" yaml:"duration"`
	Context    models.DeployContext      `json:"context" yaml:"context"`
	Identity   models.ResourceIdentity   `json:"identity" yaml:"identity"`
	Bindings   []models.EventRuleBinding `json:"bindings" yaml:"bindings"`
	Assertions []expect.Result           `json:"assertions" yaml:"assertions"`
	Probes     []probe.Result            `json:"probes,omitempty" yaml:"probes,omitempty"`
	Passed     int                       `json:"passed" yaml:"passed"`
	Failed     int                       `json:"failed" yaml:"failed"`
}

// New starts a report with a fresh run id.
func New(now time.Time) *Report {
	return &Report{
		RunID:     ksuid.New().String(),
		StartedAt: now,
	}
}

// Finish records results and totals.
func (r *Report) Finish(assertions []expect.Result, probes []probe.Result, now time.Time) {
	r.Assertions = assertions
	r.Probes = probes
	r.Duration = now.Sub(r.StartedAt)
	r.Passed, r.Failed = 0, 0

	for _, a := range assertions {
		r.tally(a.Passed)
	}
	for _, p := range probes {
		r.tally(p.Passed)
	}
}

func (r *Report) tally(passed bool) {
	if passed {
		r.Passed++
	} else {
		r.Failed++
	}
}

// OK reports whether every assertion and probe passed.
func (r *Report) OK() bool {
	return r.Failed == 0
}

func (r *Report) Render(w io.Writer, format Format) error {
	if format == FormatText || format == "" {
		return r.renderText(w)
	}
	return Encode(w, format, r)
}

// Encode writes v as indented JSON or YAML.
func Encode(w io.Writer, format Format, v any) error {
	switch format {
	case FormatJSON:
		encoder := json.NewEncoder(w)
		encoder.SetIndent("", "  ")
		if err := encoder.Encode(v); err != nil {
			return fmt.Errorf("failed to encode json: %w", err)
		}
		return nil
	case FormatYAML:
		encoder := yaml.NewEncoder(w)
		encoder.SetIndent(2)
		if err := encoder.Encode(v); err != nil {
			return fmt.Errorf("failed to encode yaml: %w", err)
		}
		return encoder.Close()
	default:
		return fmt.Errorf("unsupported format %q", format)
	}
}

func (r *Report) renderText(w io.Writer) error {
	var b strings.Builder

	fmt.Fprintf(&b, "run %s: %s (%s@%s %s)\n", r.RunID, r.Identity.ResourceName, r.Context.Repository, r.Context.Branch, short(r.Context.Sha))
	for _, binding := range r.Bindings {
		fmt.Fprintf(&b, "  binding %s/%s (%s)\n", binding.Bus, binding.Rule, binding.Path)
	}
	b.WriteString("\n")

	for _, a := range r.Assertions {
		line(&b, a.Passed, a.Description, a.Detail)
	}
	for _, p := range r.Probes {
		detail := ""
		if !p.Passed {
			detail = fmt.Sprintf("got %d after %d attempts", p.StatusCode, p.Attempts)
			if p.Err != "" {
				detail += ": " + p.Err
			}
		}
		line(&b, p.Passed, p.String(), detail)
	}

	fmt.Fprintf(&b, "\n%d passed, %d failed in %s\n", r.Passed, r.Failed, r.Duration.Round(time.Millisecond))

	_, err := io.WriteString(w, b.String())
	return err
}

func line(b *strings.Builder, passed bool, description, detail string) {
	status := "PASS"
	if !passed {
		status = "FAIL"
	}
	fmt.Fprintf(b, "%s %s\n", status, description)
	if detail != "" {
		fmt.Fprintf(b, "     %s\n", detail)
	}
}

func short(sha string) string {
	if len(sha) > 12 {
		return sha[:12]
	}
	return sha
}
