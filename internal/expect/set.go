// Package expect turns a resolved identity, the discovered event bindings
// and the run configuration into a flat, ordered set of assertions about
// the expected state of the deployment.
package expect

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/savaki/deploy-verifier/internal/config"
)

// Set is the ordered, fully resolved expectation for one run.
type Set struct {
	Assertions []Assertion
	Probe      *ProbeExpectation // nil when the endpoint is not probed
}

// ProbeExpectation describes the two probes made against the endpoint and
// the status code each must return.
type ProbeExpectation struct {
	URL             string          `json:"url" yaml:"url"`
	Mode            config.AuthType `json:"mode" yaml:"mode"`
	Authenticated   int             `json:"authenticated" yaml:"authenticated"`
	Unauthenticated int             `json:"unauthenticated" yaml:"unauthenticated"`
}

// NewProbeExpectation returns the expected codes for mode, or false when
// mode is not a recognized auth type.
func NewProbeExpectation(url string, mode config.AuthType) (ProbeExpectation, bool) {
	p := ProbeExpectation{URL: url, Mode: mode, Authenticated: http.StatusOK}
	switch mode {
	case config.AuthTypeIAM:
		p.Unauthenticated = http.StatusForbidden
	case config.AuthTypeJWT:
		p.Unauthenticated = http.StatusUnauthorized
	default:
		return ProbeExpectation{}, false
	}
	return p, true
}

// Resources returns each targeted resource once, in first-seen order.
func (s Set) Resources() []Resource {
	seen := map[Resource]bool{}
	var resources []Resource
	for _, a := range s.Assertions {
		if r := a.Resource(); !seen[r] {
			seen[r] = true
			resources = append(resources, r)
		}
	}
	return resources
}

// Validate reports a set that targets a resource without exactly one
// Existence assertion or that holds a contradictory pair.
func (s Set) Validate() error {
	var problems []string

	existence := map[Resource]int{}
	routeTargets := map[string]bool{}
	routeAbsent := map[string]bool{}
	ruleTargets := map[string]bool{}
	ruleAbsent := map[string]bool{}
	vpcEquals := map[Resource]bool{}
	vpcEmpty := map[Resource]bool{}

	for _, a := range s.Assertions {
		switch v := a.(type) {
		case Existence:
			existence[v.Target]++
		case RouteTarget:
			routeTargets[v.API.Name+"|"+v.FunctionARN] = true
		case RouteAbsent:
			routeAbsent[v.API.Name+"|"+v.FunctionARN] = true
		case RuleTarget:
			ruleTargets[v.Bus.Name+"|"+v.Rule] = true
		case RuleAbsent:
			ruleAbsent[v.Bus.Name+"|"+v.Rule] = true
		case VpcConfigEquals:
			vpcEquals[v.Function] = true
		case VpcConfigEmpty:
			vpcEmpty[v.Function] = true
		}
	}

	for _, r := range s.Resources() {
		if n := existence[r]; n != 1 {
			problems = append(problems, fmt.Sprintf("%s has %d existence assertions", r, n))
		}
	}
	for key := range routeTargets {
		if routeAbsent[key] {
			problems = append(problems, "route both targeted and absent: "+key)
		}
	}
	for key := range ruleTargets {
		if ruleAbsent[key] {
			problems = append(problems, "rule both targeted and absent: "+key)
		}
	}
	for r := range vpcEquals {
		if vpcEmpty[r] {
			problems = append(problems, "vpc config both set and empty: "+r.String())
		}
	}

	if len(problems) > 0 {
		return fmt.Errorf("invalid expectation set: %s", strings.Join(problems, "; "))
	}
	return nil
}

// Result is the outcome of evaluating one assertion.
type Result struct {
	Assertion   Assertion `json:"-" yaml:"-"`
	Resource    Resource  `json:"resource" yaml:"resource"`
	Description string    `json:"assertion" yaml:"assertion"`
	Passed      bool      `json:"passed" yaml:"passed"`
	Detail      string    `json:"detail,omitempty" yaml:"detail,omitempty"`
}

func Pass(a Assertion) Result {
	return Result{Assertion: a, Resource: a.Resource(), Description: a.String(), Passed: true}
}

func Fail(a Assertion, format string, args ...any) Result {
	return Result{
		Assertion:   a,
		Resource:    a.Resource(),
		Description: a.String(),
		Detail:      fmt.Sprintf(format, args...),
	}
}
