package expect

import (
	"fmt"
	"strings"
)

// Kind is the type of cloud resource an assertion targets.
type Kind string

const (
	KindFunction Kind = "function"
	KindRole     Kind = "role"
	KindPolicy   Kind = "policy"
	KindGateway  Kind = "gateway"
	KindBus      Kind = "bus"
)

// Resource identifies one inspected resource. Name is whatever the
// inspector looks the resource up by: a function or role name, a policy
// ARN, an API id or name, or a bus name.
type Resource struct {
	Kind Kind   `json:"kind" yaml:"kind"`
	Name string `json:"name" yaml:"name"`
}

func (r Resource) String() string {
	return string(r.Kind) + " " + r.Name
}

// Assertion is a single expected-state check against one resource.
type Assertion interface {
	Resource() Resource
	String() string
}

// Existence asserts that the resource exists.
type Existence struct {
	Target Resource
}

func (a Existence) Resource() Resource { return a.Target }
func (a Existence) String() string     { return a.Target.String() + " exists" }

// TagEquals asserts that the resource carries tag Key with value Value.
type TagEquals struct {
	Target Resource
	Key    string
	Value  string
}

func (a TagEquals) Resource() Resource { return a.Target }
func (a TagEquals) String() string {
	return fmt.Sprintf("%s has tag %s=%q", a.Target, a.Key, a.Value)
}

// FieldEquals asserts that a named field of the resource equals Value.
type FieldEquals struct {
	Target Resource
	Field  string
	Value  string
}

func (a FieldEquals) Resource() Resource { return a.Target }
func (a FieldEquals) String() string {
	return fmt.Sprintf("%s %s is %q", a.Target, a.Field, a.Value)
}

// FieldContains asserts that a named field of the resource contains Substring.
type FieldContains struct {
	Target    Resource
	Field     string
	Substring string
}

func (a FieldContains) Resource() Resource { return a.Target }
func (a FieldContains) String() string {
	return fmt.Sprintf("%s %s contains %q", a.Target, a.Field, a.Substring)
}

// PolicyAttached asserts that the role has the named managed policy attached.
type PolicyAttached struct {
	Role   Resource
	Policy string
}

func (a PolicyAttached) Resource() Resource { return a.Role }
func (a PolicyAttached) String() string {
	return fmt.Sprintf("%s has policy %s attached", a.Role, a.Policy)
}

// AttachmentCount asserts that the policy is attached to Role and to
// exactly Expected entities.
type AttachmentCount struct {
	Policy   Resource
	Role     string
	Expected int
}

func (a AttachmentCount) Resource() Resource { return a.Policy }
func (a AttachmentCount) String() string {
	return fmt.Sprintf("%s is attached to role %s with attachment count %d", a.Policy, a.Role, a.Expected)
}

// RouteTarget asserts that RouteKey on the API routes to FunctionARN.
type RouteTarget struct {
	API         Resource
	RouteKey    string
	FunctionARN string
}

func (a RouteTarget) Resource() Resource { return a.API }
func (a RouteTarget) String() string {
	return fmt.Sprintf("%s routes %q to %s", a.API, a.RouteKey, a.FunctionARN)
}

// RouteAbsent asserts that no route on the API targets FunctionARN.
type RouteAbsent struct {
	API         Resource
	RouteKey    string
	FunctionARN string
}

func (a RouteAbsent) Resource() Resource { return a.API }
func (a RouteAbsent) String() string {
	return fmt.Sprintf("%s has no route to %s", a.API, a.FunctionARN)
}

// RuleTarget asserts that Rule on the bus exists and targets FunctionARN.
type RuleTarget struct {
	Bus         Resource
	Rule        string
	FunctionARN string
}

func (a RuleTarget) Resource() Resource { return a.Bus }
func (a RuleTarget) String() string {
	return fmt.Sprintf("%s has rule %s targeting %s", a.Bus, a.Rule, a.FunctionARN)
}

// RuleAbsent asserts that Rule does not exist on the bus.
type RuleAbsent struct {
	Bus  Resource
	Rule string
}

func (a RuleAbsent) Resource() Resource { return a.Bus }
func (a RuleAbsent) String() string {
	return fmt.Sprintf("%s has no rule %s", a.Bus, a.Rule)
}

// VpcConfigEquals asserts the function's exact subnet and security group lists.
type VpcConfigEquals struct {
	Function         Resource
	SubnetIDs        []string
	SecurityGroupIDs []string
}

func (a VpcConfigEquals) Resource() Resource { return a.Function }
func (a VpcConfigEquals) String() string {
	return fmt.Sprintf("%s vpc config has subnets [%s] and security groups [%s]",
		a.Function, strings.Join(a.SubnetIDs, ","), strings.Join(a.SecurityGroupIDs, ","))
}

// VpcConfigEmpty asserts the function has no subnets or security groups.
type VpcConfigEmpty struct {
	Function Resource
}

func (a VpcConfigEmpty) Resource() Resource { return a.Function }
func (a VpcConfigEmpty) String() string     { return a.Function.String() + " has no vpc config" }
