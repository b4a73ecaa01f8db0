// Package rules provides the CEL-Go based heuristic evaluation engine.
package rules

import (
	"fmt"
	"log/slog"
	"sync"

	"github.com/google/cel-go/cel"
	"github.com/google/cel-go/common/types"

	"github.com/opensource-finance/kestrel/internal/domain"
)

// Heuristic is one deterministic fraud rule: a CEL boolean expression over
// the enriched (pre-encoding) feature vector and the verdict it yields.
// Heuristics evaluate in load order; the first match wins.
type Heuristic struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	Expression  string `json:"expression"`
	Verdict     string `json:"verdict"`
	Enabled     bool   `json:"enabled"`
}

// Engine evaluates ordered heuristics against a feature vector. It is a
// pure function of the vector: no side effects, no I/O, always available
// even when the model path later fails.
type Engine struct {
	mu       sync.RWMutex
	env      *cel.Env
	compiled []*compiledHeuristic
}

type compiledHeuristic struct {
	config  Heuristic
	program cel.Program
}

// NewEngine creates a heuristic engine with the feature vector's fields
// declared as CEL variables.
func NewEngine() (*Engine, error) {
	env, err := cel.NewEnv(
		cel.Variable("transaction_type", cel.StringType),
		cel.Variable("transaction_amount", cel.DoubleType),
		cel.Variable("location", cel.StringType),
		cel.Variable("device_type", cel.StringType),
		cel.Variable("payment_method", cel.StringType),
		cel.Variable("failed_login_attempts", cel.IntType),
		cel.Variable("new_beneficiary_added", cel.IntType),
		cel.Variable("unusual_location", cel.IntType),
		cel.Variable("time_gap_between_transactions", cel.DoubleType),
		cel.Variable("transaction_frequency_per_day", cel.DoubleType),
		cel.Variable("hour", cel.IntType),
		cel.Variable("day", cel.IntType),
		cel.Variable("weekday", cel.IntType),
		cel.Variable("is_rtp", cel.IntType),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create CEL environment: %w", err)
	}

	return &Engine{env: env}, nil
}

// Validate compiles a heuristic without loading it.
func (e *Engine) Validate(h Heuristic) error {
	_, err := e.compile(h)
	return err
}

// LoadHeuristics compiles and loads heuristics, replacing any previously
// loaded set. Order is preserved; disabled heuristics are skipped.
func (e *Engine) LoadHeuristics(hs []Heuristic) error {
	compiled := make([]*compiledHeuristic, 0, len(hs))
	for _, h := range hs {
		if !h.Enabled {
			continue
		}
		c, err := e.compile(h)
		if err != nil {
			return err
		}
		compiled = append(compiled, c)
	}

	e.mu.Lock()
	e.compiled = compiled
	e.mu.Unlock()
	return nil
}

// Evaluate runs the loaded heuristics in order against the feature vector
// and returns the verdict of the first match, or "None". A heuristic that
// fails to evaluate is skipped so the remaining rules still get their turn.
func (e *Engine) Evaluate(fv domain.FeatureVector) string {
	e.mu.RLock()
	compiled := e.compiled
	e.mu.RUnlock()

	activation := map[string]any{
		"transaction_type":              fv.TransactionType,
		"transaction_amount":            fv.TransactionAmount,
		"location":                      fv.Location,
		"device_type":                   fv.DeviceType,
		"payment_method":                fv.PaymentMethod,
		"failed_login_attempts":         fv.FailedLoginAttempts,
		"new_beneficiary_added":         fv.NewBeneficiaryAdded,
		"unusual_location":              fv.UnusualLocation,
		"time_gap_between_transactions": fv.TimeGapBetweenTransactions,
		"transaction_frequency_per_day": fv.TransactionFrequencyPerDay,
		"hour":                          fv.Hour,
		"day":                           fv.Day,
		"weekday":                       fv.Weekday,
		"is_rtp":                        fv.IsRTP,
	}

	for _, c := range compiled {
		out, _, err := c.program.Eval(activation)
		if err != nil {
			slog.Warn("heuristic evaluation failed",
				"rule_id", c.config.ID,
				"error", err,
			)
			continue
		}
		if matched, ok := out.(types.Bool); ok && bool(matched) {
			return c.config.Verdict
		}
	}

	return domain.VerdictNone
}

// Heuristics returns the loaded heuristic configurations in order.
func (e *Engine) Heuristics() []Heuristic {
	e.mu.RLock()
	defer e.mu.RUnlock()

	hs := make([]Heuristic, 0, len(e.compiled))
	for _, c := range e.compiled {
		hs = append(hs, c.config)
	}
	return hs
}

// Count returns the number of loaded heuristics.
func (e *Engine) Count() int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return len(e.compiled)
}

func (e *Engine) compile(h Heuristic) (*compiledHeuristic, error) {
	if h.Verdict == "" {
		return nil, fmt.Errorf("heuristic %s: verdict is required", h.ID)
	}

	ast, issues := e.env.Compile(h.Expression)
	if issues != nil && issues.Err() != nil {
		return nil, fmt.Errorf("failed to compile heuristic %s: %w", h.ID, issues.Err())
	}

	if ast.OutputType() != cel.BoolType {
		return nil, fmt.Errorf("heuristic %s: expression must return bool, got %s", h.ID, ast.OutputType())
	}

	program, err := e.env.Program(ast)
	if err != nil {
		return nil, fmt.Errorf("failed to create program for heuristic %s: %w", h.ID, err)
	}

	return &compiledHeuristic{config: h, program: program}, nil
}
