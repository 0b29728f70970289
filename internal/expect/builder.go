package expect

import (
	"github.com/savaki/deploy-verifier/internal/config"
	"github.com/savaki/deploy-verifier/internal/identity"
	"github.com/savaki/deploy-verifier/internal/models"
)

// Trust policy fragments every function role must carry.
var assumeRoleFragments = []string{"AssumeRole", "lambda.amazonaws.com"}

// Build produces the expectation set for one function. It performs no I/O;
// every configuration branch is decided here, once.
func Build(id models.ResourceIdentity, bindings []models.EventRuleBinding, cfg config.Config) Set {
	var b builder

	function := Resource{Kind: KindFunction, Name: id.FunctionName}
	role := Resource{Kind: KindRole, Name: id.RoleName}
	policy := Resource{Kind: KindPolicy, Name: id.PolicyARN}

	b.add(
		Existence{Target: function},
		FieldEquals{Target: function, Field: "function_name", Value: id.FunctionName},
		FieldEquals{Target: function, Field: "role", Value: id.RoleARN},
	)
	b.tags(function, id.Tags)
	if cfg.VPCConfigured() {
		b.add(VpcConfigEquals{Function: function, SubnetIDs: cfg.SubnetIDs, SecurityGroupIDs: cfg.SecurityGroupIDs})
	} else {
		b.add(VpcConfigEmpty{Function: function})
	}

	b.add(Existence{Target: role})
	for _, fragment := range assumeRoleFragments {
		b.add(FieldContains{Target: role, Field: "assume_role_policy_document", Substring: fragment})
	}
	b.add(PolicyAttached{Role: role, Policy: id.PolicyName})
	b.tags(role, id.Tags)

	b.add(
		Existence{Target: policy},
		AttachmentCount{Policy: policy, Role: id.RoleName, Expected: 1},
	)
	b.tags(policy, id.Tags)

	if cfg.GatewayConfigured() {
		gateway := Resource{Kind: KindGateway, Name: cfg.GatewayID}
		b.add(
			Existence{Target: gateway},
			RouteTarget{API: gateway, RouteKey: id.RouteKey, FunctionARN: id.FunctionARN},
		)
	} else {
		gateway := Resource{Kind: KindGateway, Name: cfg.GatewayName}
		b.add(
			Existence{Target: gateway},
			RouteAbsent{API: gateway, RouteKey: id.RouteKey, FunctionARN: id.FunctionARN},
		)
	}

	seenBus := map[string]bool{}
	seenRule := map[models.EventRuleBinding]bool{}
	for _, binding := range bindings {
		bus := Resource{Kind: KindBus, Name: binding.Bus}
		if !seenBus[binding.Bus] {
			seenBus[binding.Bus] = true
			b.add(Existence{Target: bus})
		}

		key := models.EventRuleBinding{Bus: binding.Bus, Rule: binding.Rule}
		if seenRule[key] {
			continue
		}
		seenRule[key] = true

		rule := identity.RuleName(id, binding.Rule)
		if cfg.ExpectEventing() {
			b.add(RuleTarget{Bus: bus, Rule: rule, FunctionARN: id.FunctionARN})
		} else {
			b.add(RuleAbsent{Bus: bus, Rule: rule})
		}
	}

	set := Set{Assertions: b.assertions}
	if cfg.GatewayConfigured() {
		if p, ok := NewProbeExpectation(identity.EndpointURL(id, cfg.GatewayID), cfg.AuthType); ok {
			set.Probe = &p
		}
	}
	return set
}

type builder struct {
	assertions []Assertion
}

func (b *builder) add(assertions ...Assertion) {
	b.assertions = append(b.assertions, assertions...)
}

func (b *builder) tags(r Resource, tags models.Tags) {
	for _, pair := range tags.Pairs() {
		b.add(TagEquals{Target: r, Key: pair[0], Value: pair[1]})
	}
}
