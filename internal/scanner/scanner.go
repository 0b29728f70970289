// Package scanner discovers event bus bindings from a function's directory
// layout. A file at .../bus/{bus}/{rule}.{ext} binds the function to rule
// {rule} on bus {bus}.
package scanner

import (
	"context"
	"io/fs"
	"iter"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/rs/zerolog"
	"github.com/savaki/deploy-verifier/internal/models"
)

var busPattern = regexp.MustCompile(`(?:^|/)bus/([^/]+)/([^/]+)$`)

type options struct {
	exclude []string
}

// Option configures Scan.
type Option func(*options)

// WithExclude skips every path (relative to the scan root, slash separated)
// matching one of the doublestar patterns.
func WithExclude(patterns ...string) Option {
	return func(o *options) {
		o.exclude = append(o.exclude, patterns...)
	}
}

// Scan lazily walks root and yields one binding per matching file, in walk
// order. Paths that cannot be read or do not match are skipped. Bindings are
// not deduplicated.
func Scan(ctx context.Context, root string, opts ...Option) iter.Seq[models.EventRuleBinding] {
	var o options
	for _, opt := range opts {
		opt(&o)
	}

	return func(yield func(models.EventRuleBinding) bool) {
		logger := zerolog.Ctx(ctx)

		_ = filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
			if ctx.Err() != nil {
				return filepath.SkipAll
			}
			if err != nil {
				logger.Debug().Err(err).Str("path", path).Msg("Skipping unreadable path")
				if d != nil && d.IsDir() {
					return filepath.SkipDir
				}
				return nil
			}

			rel, err := filepath.Rel(root, path)
			if err != nil || rel == "." {
				return nil
			}
			rel = filepath.ToSlash(rel)

			if o.excluded(rel, d.IsDir()) {
				if d.IsDir() {
					return filepath.SkipDir
				}
				return nil
			}
			if !d.Type().IsRegular() {
				return nil
			}

			binding, ok := Match(rel)
			if !ok {
				return nil
			}
			binding.Path = path

			logger.Debug().
				Str("bus", binding.Bus).
				Str("rule", binding.Rule).
				Str("path", path).
				Msg("Discovered event rule binding")

			if !yield(binding) {
				return filepath.SkipAll
			}
			return nil
		})
	}
}

// Collect drains Scan into a slice.
func Collect(ctx context.Context, root string, opts ...Option) []models.EventRuleBinding {
	var bindings []models.EventRuleBinding
	for binding := range Scan(ctx, root, opts...) {
		bindings = append(bindings, binding)
	}
	return bindings
}

// Match extracts the bus and rule from a slash separated path.
func Match(path string) (models.EventRuleBinding, bool) {
	m := busPattern.FindStringSubmatch(path)
	if m == nil {
		return models.EventRuleBinding{}, false
	}

	rule, _, _ := strings.Cut(m[2], ".")
	if rule == "" {
		return models.EventRuleBinding{}, false
	}

	return models.EventRuleBinding{Bus: m[1], Rule: rule}, true
}

func (o options) excluded(rel string, dir bool) bool {
	for _, pattern := range o.exclude {
		if ok, _ := doublestar.Match(pattern, rel); ok {
			return true
		}
		if dir {
			if ok, _ := doublestar.Match(pattern, rel+"/"); ok {
				return true
			}
		}
	}
	return false
}
