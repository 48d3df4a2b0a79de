// Package orchestrator routes a claim through validation, optimization,
// strategy selection, multi-portal dispatch, and outcome aggregation.
// Dispatch fans out across portals using sourcegraph/conc's WaitGroup.
package orchestrator

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/sourcegraph/conc"

	"github.com/nphies/claims-core/internal/claim"
	"github.com/nphies/claims-core/internal/connector"
)

// ConnectorProvider is the subset of factory.Factory the Orchestrator
// needs: lazy connector lookup and branch-set resolution. Declared here,
// not imported from the factory package, so the Orchestrator can be
// tested against fakes without spinning up real connectors.
type ConnectorProvider interface {
	Get(portal, branch string) (connector.Connector, error)
	Branches(portal string, configured []string) []string
}

// Strategy enumerates the submission strategies.
type Strategy string

const (
	StrategyNPHIESOnly   Strategy = "NPHIES_ONLY"
	StrategyLegacyOnly    Strategy = "LEGACY_ONLY"
	StrategyNPHIESFirst   Strategy = "NPHIES_FIRST"
	StrategyAllPortals    Strategy = "ALL_PORTALS"
	StrategySmartRoute    Strategy = "SMART_ROUTE"
)

// Validator is the external validation capability invoked before
// dispatch. The Orchestrator has no opinion on what "valid" means; it
// only acts on the verdict.
type Validator interface {
	Validate(ctx context.Context, r claim.Request) (valid bool, detail any)
}

// Optimizer is the external optimization capability of step 2. A nil
// Optimized leaves the working claim unchanged.
type Optimizer interface {
	Optimize(ctx context.Context, r claim.Request) (optimized *claim.Request, detail any)
}

// RoutingRule maps a claim attribute predicate to a strategy: insurance
// id containing "BALSAM_GOLD" -> NPHIES_ONLY, containing "BUPA" ->
// ALL_PORTALS, else NPHIES_FIRST.
type RoutingRule struct {
	InsuranceIDContains string
	Strategy            Strategy
}

// DefaultRoutingRules is the standard SMART_ROUTE table.
var DefaultRoutingRules = []RoutingRule{
	{InsuranceIDContains: "BALSAM_GOLD", Strategy: StrategyNPHIESOnly},
	{InsuranceIDContains: "BUPA", Strategy: StrategyAllPortals},
}

// DefaultFallbackStrategy is the SMART_ROUTE default when no rule matches.
const DefaultFallbackStrategy = StrategyNPHIESFirst

// Orchestrator routes and submits claims across one or more portals.
type Orchestrator struct {
	factory       ConnectorProvider
	validator     Validator
	optimizer     Optimizer
	routingRules  []RoutingRule
	defaultStrategy Strategy
	defaultLegacy []string // default legacy portal names when portals is omitted
}

// New constructs an Orchestrator. routingRules/defaultLegacy may be nil to
// use the standard defaults.
func New(f ConnectorProvider, v Validator, o Optimizer, routingRules []RoutingRule, defaultLegacy []string) *Orchestrator {
	if routingRules == nil {
		routingRules = DefaultRoutingRules
	}
	if defaultLegacy == nil {
		defaultLegacy = []string{"oases", "moh", "jisr", "bupa"}
	}
	return &Orchestrator{
		factory:         f,
		validator:       v,
		optimizer:       o,
		routingRules:    routingRules,
		defaultStrategy: DefaultFallbackStrategy,
		defaultLegacy:   defaultLegacy,
	}
}

// SubmitClaim runs the validate-optimize-route-dispatch-aggregate
// pipeline for one claim.
func (o *Orchestrator) SubmitClaim(ctx context.Context, req claim.Request, strategy Strategy, portals []string) claim.CompositeOutcome {
	valid, validation := o.validator.Validate(ctx, req)
	if !valid {
		return claim.CompositeOutcome{Success: false, Stage: "validation", Validation: validation}
	}

	working := req
	var optimization any
	if optimized, detail := o.optimizer.Optimize(ctx, req); optimized != nil {
		working = *optimized
		optimization = detail
	} else {
		optimization = detail
	}

	if strategy == "" {
		strategy = StrategySmartRoute
	}
	if strategy == StrategySmartRoute {
		strategy = o.resolveSmartRoute(working)
	}

	if len(portals) == 0 {
		portals = o.defaultLegacy
	}

	perPortal := o.dispatch(ctx, working, strategy, portals)

	success := false
	for _, outcome := range perPortal {
		if outcome.Success {
			success = true
			break
		}
	}

	return claim.CompositeOutcome{
		Success:      success,
		Stage:        "submission",
		Strategy:     string(strategy),
		PerPortal:    perPortal,
		Validation:   validation,
		Optimization: optimization,
	}
}

func (o *Orchestrator) resolveSmartRoute(req claim.Request) Strategy {
	for _, rule := range o.routingRules {
		if rule.InsuranceIDContains != "" && strings.Contains(req.InsuranceID, rule.InsuranceIDContains) {
			return rule.Strategy
		}
	}
	return o.defaultStrategy
}

// dispatch implements step 4: NPHIES/legacy fan-out per strategy. Legacy
// portals fan out concurrently; a failure in one never cancels the
// others.
func (o *Orchestrator) dispatch(ctx context.Context, req claim.Request, strategy Strategy, portals []string) map[string]claim.Outcome {
	switch strategy {
	case StrategyNPHIESOnly:
		return map[string]claim.Outcome{"nphies": o.submitOne(ctx, "nphies", "", req)}

	case StrategyLegacyOnly:
		return o.fanOutLegacy(ctx, req, portals)

	case StrategyNPHIESFirst:
		nphiesOutcome := o.submitOne(ctx, "nphies", "", req)
		result := map[string]claim.Outcome{"nphies": nphiesOutcome}
		if !nphiesOutcome.Success {
			for k, v := range o.fanOutLegacy(ctx, req, portals) {
				result[k] = v
			}
		}
		return result

	case StrategyAllPortals:
		var mu sync.Mutex
		result := make(map[string]claim.Outcome)
		var wg conc.WaitGroup

		wg.Go(func() {
			outcome := o.submitOne(ctx, "nphies", "", req)
			mu.Lock()
			result["nphies"] = outcome
			mu.Unlock()
		})
		for k, v := range o.fanOutLegacy(ctx, req, portals) {
			mu.Lock()
			result[k] = v
			mu.Unlock()
		}
		wg.Wait()
		return result

	default:
		return map[string]claim.Outcome{"nphies": o.submitOne(ctx, "nphies", "", req)}
	}
}

// fanOutLegacy submits req to every (portal, branch) pair among portals,
// concurrently: one task per (portal,branch), await all, aggregate, with
// each task's failure collapsed into that portal's Outcome.
func (o *Orchestrator) fanOutLegacy(ctx context.Context, req claim.Request, portals []string) map[string]claim.Outcome {
	var mu sync.Mutex
	result := make(map[string]claim.Outcome)
	var wg conc.WaitGroup

	for _, portal := range portals {
		branches := o.factory.Branches(portal, nil)
		for _, branch := range branches {
			portal, branch := portal, branch
			wg.Go(func() {
				outcome := o.submitOneRecover(ctx, portal, branch, req)
				key := portal
				if branch != "" {
					key = fmt.Sprintf("%s_%s", portal, branch)
				}
				mu.Lock()
				result[key] = outcome
				mu.Unlock()
			})
		}
	}
	wg.Wait()
	return result
}

// submitOneRecover wraps submitOne with a panic recovery so a single
// connector's programmer error never takes down the whole fan-out.
func (o *Orchestrator) submitOneRecover(ctx context.Context, portal, branch string, req claim.Request) (outcome claim.Outcome) {
	defer func() {
		if r := recover(); r != nil {
			outcome = claim.Outcome{Portal: portal, Branch: branch, Success: false, Error: fmt.Sprintf("panic: %v", r)}
		}
	}()
	return o.submitOne(ctx, portal, branch, req)
}

func (o *Orchestrator) submitOne(ctx context.Context, portal, branch string, req claim.Request) claim.Outcome {
	conn, err := o.factory.Get(portal, branch)
	if err != nil {
		return claim.Outcome{Portal: portal, Branch: branch, Success: false, Error: err.Error()}
	}

	in := connector.SubmitClaimInput{
		PatientID:   req.PatientID,
		ProviderID:  req.PayerID,
		InsuranceID: req.InsuranceID,
		ServiceDate: req.ServiceDate,
	}
	for _, item := range req.Items {
		in.Codes = append(in.Codes, item.Code)
		in.Quantities = append(in.Quantities, item.Quantity)
		in.UnitPrices = append(in.UnitPrices, item.UnitPrice)
	}

	res, err := conn.SubmitClaim(ctx, in)
	if err != nil {
		return claim.Outcome{Portal: portal, Branch: branch, Success: false, Error: err.Error()}
	}
	return claim.Outcome{Portal: portal, Branch: branch, Success: res.Success, ClaimID: res.ID, Status: res.Status, Error: res.Error, Raw: res.Raw}
}
