// Package gitctx reads the repository, branch, commit and origin of the
// checkout a function lives in.
package gitctx

import (
	"context"
	"fmt"
	"net/url"
	"path"
	"strings"

	"github.com/go-git/go-git/v5"
	"github.com/rs/zerolog"
	"github.com/savaki/deploy-verifier/internal/errors"
	"github.com/savaki/deploy-verifier/internal/models"
)

// Overrides replace values read from the checkout. CI runners commonly check
// out a detached HEAD, so Branch in particular is often set explicitly.
type Overrides struct {
	Repository string
	Branch     string
	Sha        string
	Origin     string
}

func (o Overrides) complete() bool {
	return o.Repository != "" && o.Branch != "" && o.Sha != "" && o.Origin != ""
}

// FromDir builds the git portion of a DeployContext for the repository
// containing dir. AccountID and Region are left for the caller.
func FromDir(ctx context.Context, dir string, overrides Overrides) (models.DeployContext, error) {
	logger := zerolog.Ctx(ctx)

	repo, err := git.PlainOpenWithOptions(dir, &git.PlainOpenOptions{DetectDotGit: true})
	if err != nil {
		if overrides.complete() {
			logger.Debug().Err(err).Str("dir", dir).Msg("No git repository found, using configured values")
			return fromOverrides(overrides)
		}
		return models.DeployContext{}, fmt.Errorf("failed to open git repository at %s: %w", dir, err)
	}

	var dc models.DeployContext

	if overrides.Branch == "" || overrides.Sha == "" {
		head, err := repo.Head()
		if err != nil {
			return models.DeployContext{}, fmt.Errorf("failed to read HEAD: %w", err)
		}
		if overrides.Branch == "" && !head.Name().IsBranch() {
			return models.DeployContext{}, errors.ErrDetachedHead
		}
		dc.Branch = head.Name().Short()
		dc.Sha = head.Hash().String()
	}

	origin := overrides.Origin
	if origin == "" {
		origin, err = Origin(repo)
		if err != nil {
			return models.DeployContext{}, err
		}
	}

	dc, err = apply(dc, overrides, origin)
	if err != nil {
		return models.DeployContext{}, err
	}

	logger.Debug().
		Str("repository", dc.Repository).
		Str("branch", dc.Branch).
		Str("sha", dc.Sha).
		Str("origin", dc.Origin).
		Msg("Resolved git context")

	return dc, nil
}

func fromOverrides(overrides Overrides) (models.DeployContext, error) {
	return apply(models.DeployContext{}, overrides, overrides.Origin)
}

func apply(dc models.DeployContext, overrides Overrides, origin string) (models.DeployContext, error) {
	normalized, err := NormalizeOrigin(origin)
	if err != nil {
		return models.DeployContext{}, err
	}
	dc.Origin = normalized

	if overrides.Branch != "" {
		dc.Branch = overrides.Branch
	}
	if overrides.Sha != "" {
		dc.Sha = overrides.Sha
	}

	dc.Repository = overrides.Repository
	if dc.Repository == "" {
		dc.Repository, err = RepositoryName(normalized)
		if err != nil {
			return models.DeployContext{}, err
		}
	}

	return dc, nil
}

// Origin returns the single URL configured for the origin remote.
func Origin(repo *git.Repository) (string, error) {
	remote, err := repo.Remote("origin")
	if err != nil {
		return "", fmt.Errorf("failed to read origin remote: %w", errors.ErrNoOriginRemote)
	}

	urls := remote.Config().URLs
	switch len(urls) {
	case 0:
		return "", errors.ErrNoOriginRemote
	case 1:
		return urls[0], nil
	default:
		return "", errors.ErrMultipleOriginRemotes
	}
}

// NormalizeOrigin rewrites ssh remotes to their https form:
//
//	git@github.com:owner/repo.git       -> https://github.com/owner/repo.git
//	ssh://git@github.com/owner/repo.git -> https://github.com/owner/repo.git
//
// http(s) remotes are returned unchanged.
func NormalizeOrigin(raw string) (string, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", errors.ErrNoOriginRemote
	}

	if !strings.Contains(raw, "://") {
		// scp-like syntax: [user@]host:path
		hostPart, repoPath, ok := strings.Cut(raw, ":")
		if !ok || repoPath == "" {
			return "", fmt.Errorf("unsupported origin url %q", raw)
		}
		if _, host, found := strings.Cut(hostPart, "@"); found {
			hostPart = host
		}
		raw = "https://" + hostPart + "/" + strings.TrimPrefix(repoPath, "/")
	}

	u, err := url.Parse(raw)
	if err != nil {
		return "", fmt.Errorf("failed to parse origin url %q: %w", raw, err)
	}
	if u.Host == "" {
		return "", fmt.Errorf("origin url %q has no host", raw)
	}

	switch u.Scheme {
	case "https", "http":
		return raw, nil
	case "ssh", "git":
		u.Scheme = "https"
		u.User = nil
		u.Host = u.Hostname()
		return u.String(), nil
	default:
		return "", fmt.Errorf("unsupported origin scheme %q", u.Scheme)
	}
}

// RepositoryName is the last path segment of the origin without ".git".
func RepositoryName(origin string) (string, error) {
	u, err := url.Parse(origin)
	if err != nil {
		return "", fmt.Errorf("failed to parse origin url %q: %w", origin, err)
	}

	name := strings.TrimSuffix(path.Base(strings.TrimSuffix(u.Path, "/")), ".git")
	if name == "" || name == "." || name == "/" {
		return "", fmt.Errorf("origin url %q has no repository name", origin)
	}
	return name, nil
}
