// Package policy provides the CEL-Go based access policy engine. Policies
// are boolean expressions over security assessments; a triggered policy
// recommends a gate action for the authentication layer in front of Kestrel.
package policy

import (
	"fmt"
	"sort"
	"sync"

	"github.com/google/cel-go/cel"
	"github.com/google/cel-go/common/types"
	"github.com/google/cel-go/common/types/ref"

	"github.com/behaviorsec/kestrel/internal/domain"
)

// Engine compiles and evaluates access policies.
type Engine struct {
	mu       sync.RWMutex
	env      *cel.Env
	compiled map[string]*CompiledPolicy
}

// CompiledPolicy holds a pre-compiled CEL program.
type CompiledPolicy struct {
	Config  *domain.PolicyConfig
	Program cel.Program
}

// NewEngine creates a new policy engine.
func NewEngine() (*Engine, error) {
	env, err := cel.NewEnv(
		cel.Variable("user_id", cel.StringType),
		cel.Variable("security_score", cel.IntType),
		cel.Variable("risk_level", cel.StringType),
		cel.Variable("anomalies_count", cel.IntType),
		cel.Variable("baseline_established", cel.BoolType),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create CEL environment: %w", err)
	}

	return &Engine{
		env:      env,
		compiled: make(map[string]*CompiledPolicy),
	}, nil
}

// ValidatePolicy compiles a policy without loading it.
func (e *Engine) ValidatePolicy(cfg *domain.PolicyConfig) error {
	if cfg == nil {
		return fmt.Errorf("policy config is required")
	}

	e.mu.RLock()
	defer e.mu.RUnlock()

	_, err := e.compilePolicy(cfg)
	return err
}

// LoadPolicy compiles and loads a policy into the engine.
func (e *Engine) LoadPolicy(cfg *domain.PolicyConfig) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	compiled, err := e.compilePolicy(cfg)
	if err != nil {
		return err
	}

	e.compiled[cfg.ID] = compiled

	return nil
}

// LoadPolicies compiles and loads multiple policies, skipping disabled ones.
func (e *Engine) LoadPolicies(configs []*domain.PolicyConfig) error {
	for _, cfg := range configs {
		if cfg.Enabled {
			if err := e.LoadPolicy(cfg); err != nil {
				return err
			}
		}
	}
	return nil
}

// ReloadPolicies clears all existing policies and loads new ones.
// This enables hot-reloading of policies from the database.
func (e *Engine) ReloadPolicies(configs []*domain.PolicyConfig) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	next := make(map[string]*CompiledPolicy)
	for _, cfg := range configs {
		if !cfg.Enabled {
			continue
		}
		compiled, err := e.compilePolicy(cfg)
		if err != nil {
			return err
		}
		next[cfg.ID] = compiled
	}

	e.compiled = next

	return nil
}

// Evaluate runs every loaded policy against an assessment and returns the
// decisions of the triggered ones, ordered by policy ID. A policy whose
// evaluation errors is skipped; advisory output must not fail the request.
func (e *Engine) Evaluate(a *domain.SecurityAssessment) []domain.PolicyDecision {
	e.mu.RLock()
	policies := make([]*CompiledPolicy, 0, len(e.compiled))
	for _, p := range e.compiled {
		policies = append(policies, p)
	}
	e.mu.RUnlock()

	if len(policies) == 0 {
		return nil
	}
	sort.Slice(policies, func(i, j int) bool {
		return policies[i].Config.ID < policies[j].Config.ID
	})

	activation := map[string]any{
		"user_id":              a.UserID,
		"security_score":       a.SecurityScore,
		"risk_level":           string(a.RiskLevel),
		"anomalies_count":      a.AnomaliesCount,
		"baseline_established": a.BaselineEstablished,
	}

	var decisions []domain.PolicyDecision
	for _, p := range policies {
		out, _, err := p.Program.Eval(activation)
		if err != nil {
			continue
		}
		if triggered(out) {
			decisions = append(decisions, domain.PolicyDecision{
				PolicyID: p.Config.ID,
				Name:     p.Config.Name,
				Action:   p.Config.Action,
				Reason:   p.Config.Description,
			})
		}
	}
	return decisions
}

func triggered(val ref.Val) bool {
	b, ok := val.(types.Bool)
	return ok && bool(b)
}

// PolicyCount returns the number of loaded policies.
func (e *Engine) PolicyCount() int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return len(e.compiled)
}

// GetLoadedPolicies returns the currently loaded policy configurations.
func (e *Engine) GetLoadedPolicies() []*domain.PolicyConfig {
	e.mu.RLock()
	defer e.mu.RUnlock()

	out := make([]*domain.PolicyConfig, 0, len(e.compiled))
	for _, p := range e.compiled {
		out = append(out, p.Config)
	}
	return out
}

// Close cleans up the engine.
func (e *Engine) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.compiled = make(map[string]*CompiledPolicy)
	return nil
}

func (e *Engine) compilePolicy(cfg *domain.PolicyConfig) (*CompiledPolicy, error) {
	ast, issues := e.env.Compile(cfg.Expression)
	if issues != nil && issues.Err() != nil {
		return nil, fmt.Errorf("failed to compile policy %s: %w", cfg.ID, issues.Err())
	}

	if ast.OutputType() != cel.BoolType {
		return nil, fmt.Errorf("policy %s: expression must return bool, got %s", cfg.ID, ast.OutputType())
	}

	program, err := e.env.Program(ast)
	if err != nil {
		return nil, fmt.Errorf("failed to create program for policy %s: %w", cfg.ID, err)
	}

	return &CompiledPolicy{
		Config:  cfg,
		Program: program,
	}, nil
}
