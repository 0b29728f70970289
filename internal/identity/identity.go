// Package identity derives every deployed resource name from the deploy
// context and the function being verified. All naming conventions live here.
package identity

import (
	"fmt"
	"path/filepath"

	"github.com/savaki/deploy-verifier/internal/config"
	"github.com/savaki/deploy-verifier/internal/models"
)

// NewTarget builds the FunctionTarget for a function directory.
func NewTarget(path string) models.FunctionTarget {
	cleaned := filepath.Clean(path)
	return models.FunctionTarget{
		Path: cleaned,
		Name: filepath.Base(cleaned),
	}
}

// Resolve projects the deploy context and function target into resource names.
// It performs no I/O; equal inputs always produce equal identities.
func Resolve(dc models.DeployContext, target models.FunctionTarget, mode config.RouteMode) models.ResourceIdentity {
	resourceName := ResourceName(dc.Repository, dc.Branch, target.Name)

	return models.ResourceIdentity{
		Repository:   dc.Repository,
		Branch:       dc.Branch,
		Function:     target.Name,
		Region:       dc.Region,
		ResourceName: resourceName,
		FunctionName: resourceName,
		FunctionARN:  FunctionARN(dc.Region, dc.AccountID, resourceName),
		RoleName:     resourceName,
		RoleARN:      RoleARN(dc.AccountID, resourceName),
		PolicyName:   resourceName,
		PolicyARN:    PolicyARN(dc.AccountID, resourceName),
		RouteKey:     RouteKey(dc.Repository, dc.Branch, target.Name, mode),
		Tags: models.Tags{
			Function: target.Name,
			Branch:   dc.Branch,
			Sha:      dc.Sha,
			Origin:   dc.Origin,
		},
	}
}

func ResourceName(repo, branch, function string) string {
	return fmt.Sprintf("%s-%s-%s", repo, branch, function)
}

func FunctionARN(region, account, resourceName string) string {
	return fmt.Sprintf("arn:aws:lambda:%s:%s:function:%s", region, account, resourceName)
}

func RoleARN(account, resourceName string) string {
	return fmt.Sprintf("arn:aws:iam::%s:role/%s", account, resourceName)
}

func PolicyARN(account, resourceName string) string {
	return fmt.Sprintf("arn:aws:iam::%s:policy/%s", account, resourceName)
}

// RouteKey returns the API gateway route key; exact mode drops the {proxy+} suffix.
func RouteKey(repo, branch, function string, mode config.RouteMode) string {
	key := fmt.Sprintf("ANY /%s/%s/%s", repo, branch, function)
	if mode == config.RouteModeExact {
		return key
	}
	return key + "/{proxy+}"
}

// RuleName is the deployed EventBridge rule name for a discovered binding.
func RuleName(id models.ResourceIdentity, rule string) string {
	return id.ResourceName + "-" + rule
}

// EndpointURL is the invoke URL of the function behind the given API gateway.
func EndpointURL(id models.ResourceIdentity, gatewayID string) string {
	return fmt.Sprintf("https://%s.execute-api.%s.amazonaws.com/%s/%s/%s/",
		gatewayID, id.Region, id.Repository, id.Branch, id.Function)
}
