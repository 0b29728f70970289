// Package inspect reads the live state of deployed resources. Inspector is
// the read-only contract the evaluator consumes; AWSInspector implements it
// over the Lambda, IAM, API Gateway v2 and EventBridge APIs.
package inspect

import (
	"context"
	"slices"
)

// Inspector fetches resource snapshots. A resource that does not exist is
// reported with an error wrapping errors.ErrNotFound.
type Inspector interface {
	GetFunction(ctx context.Context, name string) (*Function, error)
	GetRole(ctx context.Context, name string) (*Role, error)
	GetPolicy(ctx context.Context, arn string) (*Policy, error)
	GetAPI(ctx context.Context, ref string) (*API, error)
	GetRoute(ctx context.Context, apiRef, routeKey string) (*Route, error)
	GetRoutesByTarget(ctx context.Context, apiRef, functionARN string) ([]Route, error)
	GetBus(ctx context.Context, name string) (*Bus, error)
	GetRule(ctx context.Context, bus, rule string) (*Rule, error)
}

type Function struct {
	Name             string
	ARN              string
	Role             string
	Tags             map[string]string
	SubnetIDs        []string
	SecurityGroupIDs []string
}

func (f *Function) Field(name string) (string, bool) {
	switch name {
	case "function_name":
		return f.Name, true
	case "function_arn":
		return f.ARN, true
	case "role":
		return f.Role, true
	}
	return "", false
}

type Role struct {
	Name                     string
	ARN                      string
	AssumeRolePolicyDocument string // URL decoded
	Tags                     map[string]string
	AttachedPolicies         []string // policy names
}

func (r *Role) Field(name string) (string, bool) {
	switch name {
	case "role_name":
		return r.Name, true
	case "arn":
		return r.ARN, true
	case "assume_role_policy_document":
		return r.AssumeRolePolicyDocument, true
	}
	return "", false
}

type Policy struct {
	Name            string
	ARN             string
	AttachmentCount int
	Tags            map[string]string
	AttachedRoles   []string // role names
}

func (p *Policy) Field(name string) (string, bool) {
	switch name {
	case "policy_name":
		return p.Name, true
	case "arn":
		return p.ARN, true
	}
	return "", false
}

type API struct {
	ID       string
	Name     string
	Endpoint string
}

// Route is an API route joined with its integration.
type Route struct {
	ID                string
	RouteKey          string
	Target            string // integrations/{id}
	AuthorizationType string
	FunctionARN       string // Lambda ARN behind the integration, if any
}

type Bus struct {
	Name string
	ARN  string
}

type Rule struct {
	Name    string
	Bus     string
	ARN     string
	State   string
	Targets []string // target ARNs
}

// HasTarget reports whether arn is one of the rule's targets.
func (r *Rule) HasTarget(arn string) bool {
	return slices.Contains(r.Targets, arn)
}
