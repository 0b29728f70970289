// Package verifier runs one post-deploy verification: it derives the deploy
// context and resource identity, scans for event bindings, builds the
// expectation set, then evaluates it and probes the endpoint.
package verifier

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/savaki/deploy-verifier/internal/config"
	"github.com/savaki/deploy-verifier/internal/evaluate"
	"github.com/savaki/deploy-verifier/internal/expect"
	"github.com/savaki/deploy-verifier/internal/gitctx"
	"github.com/savaki/deploy-verifier/internal/identity"
	"github.com/savaki/deploy-verifier/internal/inspect"
	"github.com/savaki/deploy-verifier/internal/models"
	"github.com/savaki/deploy-verifier/internal/probe"
	"github.com/savaki/deploy-verifier/internal/report"
	"github.com/savaki/deploy-verifier/internal/scanner"
	"github.com/savaki/deploy-verifier/internal/services"
	"github.com/sourcegraph/conc"
)

// CallerIdentity resolves the account the ambient credentials belong to.
type CallerIdentity interface {
	GetCallerIdentity(ctx context.Context) (services.Caller, error)
}

// Prober issues the authenticated and unauthenticated endpoint probes.
type Prober interface {
	Run(ctx context.Context, p expect.ProbeExpectation) []probe.Result
}

// Plan is everything derived before cloud state is read.
type Plan struct {
	Context  models.DeployContext
	Target   models.FunctionTarget
	Identity models.ResourceIdentity
	Bindings []models.EventRuleBinding
	Set      expect.Set
}

type Verifier struct {
	cfg       config.Config
	caller    CallerIdentity
	inspector inspect.Inspector
	prober    Prober
	now       func() time.Time
}

func New(cfg config.Config, caller CallerIdentity, inspector inspect.Inspector, prober Prober) *Verifier {
	return &Verifier{
		cfg:       cfg.WithDefaults(),
		caller:    caller,
		inspector: inspector,
		prober:    prober,
		now:       time.Now,
	}
}

// Config returns the effective configuration.
func (v *Verifier) Config() config.Config {
	return v.cfg
}

// DeployContext resolves git context and the target account.
func (v *Verifier) DeployContext(ctx context.Context) (models.DeployContext, error) {
	if err := v.cfg.Validate(); err != nil {
		return models.DeployContext{}, err
	}

	dc, err := gitctx.FromDir(ctx, v.cfg.FunctionPath, gitctx.Overrides{
		Repository: v.cfg.Repository,
		Branch:     v.cfg.Branch,
		Sha:        v.cfg.Sha,
		Origin:     v.cfg.Origin,
	})
	if err != nil {
		return models.DeployContext{}, fmt.Errorf("failed to resolve deploy context: %w", err)
	}

	dc.Region = v.cfg.Region
	dc.AccountID = v.cfg.AccountID
	if dc.AccountID == "" {
		if v.caller == nil {
			return models.DeployContext{}, fmt.Errorf("account id is required when no caller identity is available")
		}
		caller, err := v.caller.GetCallerIdentity(ctx)
		if err != nil {
			return models.DeployContext{}, fmt.Errorf("failed to resolve account id: %w", err)
		}
		dc.AccountID = caller.AccountID
	}

	return dc, nil
}

// Plan derives the identity, bindings and expectation set without touching
// cloud state beyond the caller identity lookup.
func (v *Verifier) Plan(ctx context.Context) (*Plan, error) {
	logger := zerolog.Ctx(ctx)

	dc, err := v.DeployContext(ctx)
	if err != nil {
		return nil, err
	}

	target := identity.NewTarget(v.cfg.FunctionPath)
	id := identity.Resolve(dc, target, v.cfg.RouteMode)
	bindings := scanner.Collect(ctx, target.Path, scanner.WithExclude(v.cfg.ScanExclude...))
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	set := expect.Build(id, bindings, v.cfg)
	if err := set.Validate(); err != nil {
		return nil, fmt.Errorf("failed to build expectations: %w", err)
	}

	logger.Info().
		Str("resource_name", id.ResourceName).
		Int("bindings", len(bindings)).
		Int("assertions", len(set.Assertions)).
		Bool("probe", set.Probe != nil).
		Msg("Planned verification")

	return &Plan{
		Context:  dc,
		Target:   target,
		Identity: id,
		Bindings: bindings,
		Set:      set,
	}, nil
}

// Run plans, then evaluates assertions and probes the endpoint concurrently.
// The returned error covers preconditions only; failed checks are in the report.
func (v *Verifier) Run(ctx context.Context) (*report.Report, error) {
	logger := zerolog.Ctx(ctx)
	r := report.New(v.now())

	plan, err := v.Plan(ctx)
	if err != nil {
		return nil, err
	}
	r.Context = plan.Context
	r.Identity = plan.Identity
	r.Bindings = plan.Bindings

	var (
		mu         sync.Mutex
		assertions []expect.Result
		probes     []probe.Result
	)

	var wg conc.WaitGroup
	wg.Go(func() {
		results := evaluate.Evaluate(ctx, plan.Set, v.inspector, evaluate.WithConcurrency(v.cfg.Concurrency))
		mu.Lock()
		assertions = results
		mu.Unlock()
	})
	if plan.Set.Probe != nil && v.prober != nil {
		wg.Go(func() {
			results := v.prober.Run(ctx, *plan.Set.Probe)
			mu.Lock()
			probes = results
			mu.Unlock()
		})
	}
	wg.Wait()

	r.Finish(assertions, probes, v.now())

	logger.Info().
		Str("run_id", r.RunID).
		Int("passed", r.Passed).
		Int("failed", r.Failed).
		Dur("duration", r.Duration).
		Msg("Verification complete")

	return r, nil
}
