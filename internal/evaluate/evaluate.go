// Package evaluate checks an expectation set against live cloud state.
//
// Assertions are grouped by the resource they target. Each group fetches a
// single snapshot of its resource and evaluates every assertion against it;
// groups run concurrently. Assertions never short-circuit: when a resource is
// missing its dependent assertions are still evaluated and fail.
package evaluate

import (
	"context"
	stderrors "errors"
	"fmt"
	"slices"
	"strings"

	"github.com/rs/zerolog"
	"github.com/savaki/deploy-verifier/internal/config"
	"github.com/savaki/deploy-verifier/internal/errors"
	"github.com/savaki/deploy-verifier/internal/expect"
	"github.com/savaki/deploy-verifier/internal/inspect"
	"github.com/savaki/gox/slicex"
)

type options struct {
	concurrency int
}

type Option func(*options)

// WithConcurrency bounds the number of resources inspected at once.
func WithConcurrency(n int) Option {
	return func(o *options) {
		if n > 0 {
			o.concurrency = n
		}
	}
}

type group struct {
	resource expect.Resource
	indices  []int
}

type groupResults struct {
	indices []int
	results []expect.Result
}

// Evaluate returns one result per assertion, in set order.
func Evaluate(ctx context.Context, set expect.Set, inspector inspect.Inspector, opts ...Option) []expect.Result {
	o := options{concurrency: config.DefaultConcurrency}
	for _, opt := range opts {
		opt(&o)
	}

	logger := zerolog.Ctx(ctx)

	byResource := map[expect.Resource]*group{}
	var groups []group
	for _, r := range set.Resources() {
		byResource[r] = &group{resource: r}
	}
	for i, a := range set.Assertions {
		g := byResource[a.Resource()]
		g.indices = append(g.indices, i)
	}
	for _, r := range set.Resources() {
		groups = append(groups, *byResource[r])
	}

	// groups own disjoint indices, so each callback writes its results in place
	results := make([]expect.Result, len(set.Assertions))
	callback := func(ctx context.Context, g group) (struct{}, error) {
		gr := evaluateGroup(ctx, inspector, set.Assertions, g)
		for j, idx := range gr.indices {
			results[idx] = gr.results[j]
		}
		return struct{}{}, nil
	}
	_, err := slicex.MapConcurrent(callback).
		Concurrency(o.concurrency).
		CollectErrors().
		DoValues(ctx, groups...)
	if err != nil {
		logger.Warn().Err(err).Msg("Resource evaluation did not complete")
	}

	for i, r := range results {
		if r.Assertion == nil {
			reason := err
			if reason == nil {
				reason = ctx.Err()
			}
			results[i] = expect.Fail(set.Assertions[i], "not evaluated: %v", reason)
		}
	}
	return results
}

func evaluateGroup(ctx context.Context, inspector inspect.Inspector, assertions []expect.Assertion, g group) *groupResults {
	logger := zerolog.Ctx(ctx).With().Str("resource", g.resource.String()).Logger()

	snap := fetch(ctx, inspector, g.resource)
	if snap.err != nil {
		logger.Debug().Err(snap.err).Msg("Resource snapshot unavailable")
	}

	gr := &groupResults{indices: g.indices}
	for _, idx := range g.indices {
		result := check(ctx, inspector, snap, assertions[idx])
		if !result.Passed {
			logger.Info().Str("assertion", result.Description).Str("detail", result.Detail).Msg("Assertion failed")
		}
		gr.results = append(gr.results, result)
	}
	return gr
}

// snapshot is the state of one resource. Exactly one of the typed fields is
// set when err is nil.
type snapshot struct {
	function *inspect.Function
	role     *inspect.Role
	policy   *inspect.Policy
	api      *inspect.API
	bus      *inspect.Bus
	err      error
}

func fetch(ctx context.Context, inspector inspect.Inspector, r expect.Resource) snapshot {
	var s snapshot
	switch r.Kind {
	case expect.KindFunction:
		s.function, s.err = inspector.GetFunction(ctx, r.Name)
	case expect.KindRole:
		s.role, s.err = inspector.GetRole(ctx, r.Name)
	case expect.KindPolicy:
		s.policy, s.err = inspector.GetPolicy(ctx, r.Name)
	case expect.KindGateway:
		s.api, s.err = inspector.GetAPI(ctx, r.Name)
	case expect.KindBus:
		s.bus, s.err = inspector.GetBus(ctx, r.Name)
	default:
		s.err = fmt.Errorf("unsupported resource kind %q", r.Kind)
	}
	return s
}

func (s snapshot) tags() map[string]string {
	switch {
	case s.function != nil:
		return s.function.Tags
	case s.role != nil:
		return s.role.Tags
	case s.policy != nil:
		return s.policy.Tags
	}
	return nil
}

type fielder interface {
	Field(name string) (string, bool)
}

func (s snapshot) fields() fielder {
	switch {
	case s.function != nil:
		return s.function
	case s.role != nil:
		return s.role
	case s.policy != nil:
		return s.policy
	}
	return nil
}

func missing(a expect.Assertion, err error) expect.Result {
	if stderrors.Is(err, errors.ErrNotFound) {
		return expect.Fail(a, "%s does not exist", a.Resource())
	}
	return expect.Fail(a, "failed to inspect %s: %v", a.Resource(), err)
}

func check(ctx context.Context, inspector inspect.Inspector, s snapshot, a expect.Assertion) expect.Result {
	if _, ok := a.(expect.Existence); ok {
		if s.err != nil {
			return missing(a, s.err)
		}
		return expect.Pass(a)
	}
	if s.err != nil {
		return missing(a, s.err)
	}

	switch v := a.(type) {
	case expect.TagEquals:
		actual, ok := s.tags()[v.Key]
		if !ok {
			return expect.Fail(a, "expected tag %s=%q, tag is missing", v.Key, v.Value)
		}
		if actual != v.Value {
			return expect.Fail(a, "expected tag %s=%q, got %q", v.Key, v.Value, actual)
		}

	case expect.FieldEquals:
		f := s.fields()
		if f == nil {
			return expect.Fail(a, "%s has no fields", a.Resource())
		}
		actual, ok := f.Field(v.Field)
		if !ok {
			return expect.Fail(a, "unknown field %s", v.Field)
		}
		if actual != v.Value {
			return expect.Fail(a, "expected %s %q, got %q", v.Field, v.Value, actual)
		}

	case expect.FieldContains:
		f := s.fields()
		if f == nil {
			return expect.Fail(a, "%s has no fields", a.Resource())
		}
		actual, ok := f.Field(v.Field)
		if !ok {
			return expect.Fail(a, "unknown field %s", v.Field)
		}
		if !strings.Contains(actual, v.Substring) {
			return expect.Fail(a, "expected %s to contain %q, got %q", v.Field, v.Substring, actual)
		}

	case expect.PolicyAttached:
		if s.role == nil {
			return expect.Fail(a, "%s is not a role", a.Resource())
		}
		if !slices.Contains(s.role.AttachedPolicies, v.Policy) {
			return expect.Fail(a, "expected policy %s attached, got [%s]", v.Policy, strings.Join(s.role.AttachedPolicies, ", "))
		}

	case expect.AttachmentCount:
		if s.policy == nil {
			return expect.Fail(a, "%s is not a policy", a.Resource())
		}
		if !slices.Contains(s.policy.AttachedRoles, v.Role) {
			return expect.Fail(a, "expected attachment to role %s, got [%s]", v.Role, strings.Join(s.policy.AttachedRoles, ", "))
		}
		if s.policy.AttachmentCount != v.Expected {
			return expect.Fail(a, "expected attachment count %d, got %d", v.Expected, s.policy.AttachmentCount)
		}

	case expect.RouteTarget:
		if s.api == nil {
			return expect.Fail(a, "%s is not an api", a.Resource())
		}
		route, err := inspector.GetRoute(ctx, s.api.ID, v.RouteKey)
		if err != nil {
			if stderrors.Is(err, errors.ErrNotFound) {
				return expect.Fail(a, "expected route %q, route does not exist", v.RouteKey)
			}
			return expect.Fail(a, "failed to inspect route %q: %v", v.RouteKey, err)
		}
		if route.FunctionARN != v.FunctionARN {
			return expect.Fail(a, "expected route %q to target %s, got %q", v.RouteKey, v.FunctionARN, route.FunctionARN)
		}

	case expect.RouteAbsent:
		if s.api == nil {
			return expect.Fail(a, "%s is not an api", a.Resource())
		}
		routes, err := inspector.GetRoutesByTarget(ctx, s.api.ID, v.FunctionARN)
		if err != nil {
			return expect.Fail(a, "failed to inspect routes: %v", err)
		}
		if len(routes) > 0 {
			keys := make([]string, 0, len(routes))
			for _, route := range routes {
				keys = append(keys, route.RouteKey)
			}
			return expect.Fail(a, "expected no route to %s, got [%s]", v.FunctionARN, strings.Join(keys, ", "))
		}

	case expect.RuleTarget:
		if s.bus == nil {
			return expect.Fail(a, "%s is not an event bus", a.Resource())
		}
		rule, err := inspector.GetRule(ctx, s.bus.Name, v.Rule)
		if err != nil {
			if stderrors.Is(err, errors.ErrNotFound) {
				return expect.Fail(a, "expected rule %s, rule does not exist", v.Rule)
			}
			return expect.Fail(a, "failed to inspect rule %s: %v", v.Rule, err)
		}
		if !rule.HasTarget(v.FunctionARN) {
			return expect.Fail(a, "expected rule %s to target %s, got [%s]", v.Rule, v.FunctionARN, strings.Join(rule.Targets, ", "))
		}

	case expect.RuleAbsent:
		if s.bus == nil {
			return expect.Fail(a, "%s is not an event bus", a.Resource())
		}
		_, err := inspector.GetRule(ctx, s.bus.Name, v.Rule)
		if err == nil {
			return expect.Fail(a, "expected rule %s to be absent, rule exists", v.Rule)
		}
		if !stderrors.Is(err, errors.ErrNotFound) {
			return expect.Fail(a, "failed to inspect rule %s: %v", v.Rule, err)
		}

	case expect.VpcConfigEquals:
		if s.function == nil {
			return expect.Fail(a, "%s is not a function", a.Resource())
		}
		if !sameSet(s.function.SubnetIDs, v.SubnetIDs) || !sameSet(s.function.SecurityGroupIDs, v.SecurityGroupIDs) {
			return expect.Fail(a, "expected subnets [%s] and security groups [%s], got [%s] and [%s]",
				strings.Join(v.SubnetIDs, ","), strings.Join(v.SecurityGroupIDs, ","),
				strings.Join(s.function.SubnetIDs, ","), strings.Join(s.function.SecurityGroupIDs, ","))
		}

	case expect.VpcConfigEmpty:
		if s.function == nil {
			return expect.Fail(a, "%s is not a function", a.Resource())
		}
		if len(s.function.SubnetIDs) > 0 || len(s.function.SecurityGroupIDs) > 0 {
			return expect.Fail(a, "expected no vpc config, got subnets [%s] and security groups [%s]",
				strings.Join(s.function.SubnetIDs, ","), strings.Join(s.function.SecurityGroupIDs, ","))
		}

	default:
		return expect.Fail(a, "unsupported assertion %T", a)
	}

	return expect.Pass(a)
}

// sameSet compares two id lists ignoring order.
func sameSet(a, b []string) bool {
	x, y := slices.Clone(a), slices.Clone(b)
	slices.Sort(x)
	slices.Sort(y)
	return slices.Equal(x, y)
}
