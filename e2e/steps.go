package e2e

import (
	"github.com/cucumber/godog"

	"taxdesk/e2e/steps/console"
)

// RegisterSteps registers all step definitions from modular packages
func RegisterSteps(ctx *godog.ScenarioContext, tc *TestContext) {
	console.RegisterSteps(ctx, tc)
}
