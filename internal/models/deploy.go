package models

// DeployContext describes the checkout and account a verification run targets.
type DeployContext struct {
	Repository string `json:"repository" yaml:"repository"` // Repository name, e.g. "self"
	Branch     string `json:"branch" yaml:"branch"`         // Git branch (short name)
	Sha        string `json:"sha" yaml:"sha"`               // Commit SHA of HEAD
	Origin     string `json:"origin" yaml:"origin"`         // Origin remote normalized to https
	AccountID  string `json:"account_id" yaml:"account_id"` // AWS account ID
	Region     string `json:"region" yaml:"region"`         // AWS region
}

// FunctionTarget is the on-disk function being verified.
type FunctionTarget struct {
	Path string `json:"path" yaml:"path"` // Function directory
	Name string `json:"name" yaml:"name"` // Final path segment of Path
}

// ResourceIdentity holds every name derived from a DeployContext and FunctionTarget.
type ResourceIdentity struct {
	Repository   string `json:"repository" yaml:"repository"`
	Branch       string `json:"branch" yaml:"branch"`
	Function     string `json:"function" yaml:"function"`
	Region       string `json:"region" yaml:"region"`
	ResourceName string `json:"resource_name" yaml:"resource_name"`
	FunctionName string `json:"function_name" yaml:"function_name"`
	FunctionARN  string `json:"function_arn" yaml:"function_arn"`
	RoleName     string `json:"role_name" yaml:"role_name"`
	RoleARN      string `json:"role_arn" yaml:"role_arn"`
	PolicyName   string `json:"policy_name" yaml:"policy_name"`
	PolicyARN    string `json:"policy_arn" yaml:"policy_arn"`
	RouteKey     string `json:"route_key" yaml:"route_key"`
	Tags         Tags   `json:"tags" yaml:"tags"`
}

// Tags are the tag values every deployed function, role and policy must carry.
type Tags struct {
	Function string `json:"Function" yaml:"Function"`
	Branch   string `json:"Branch" yaml:"Branch"`
	Sha      string `json:"Sha" yaml:"Sha"`
	Origin   string `json:"Origin" yaml:"Origin"`
}

// Pairs returns the tags in their canonical order.
func (t Tags) Pairs() [][2]string {
	return [][2]string{
		{"Function", t.Function},
		{"Branch", t.Branch},
		{"Sha", t.Sha},
		{"Origin", t.Origin},
	}
}

// EventRuleBinding is a bus/rule pair discovered from a function's directory tree.
type EventRuleBinding struct {
	Bus  string `json:"bus" yaml:"bus"`
	Rule string `json:"rule" yaml:"rule"`
	Path string `json:"path" yaml:"path"` // File the binding was discovered from
}
