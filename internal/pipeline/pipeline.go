// Package pipeline sequences the fraud decision: context enrichment,
// rule evaluation, categorical encoding, classification, attribution,
// and the audit/alert side effects.
package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/opensource-finance/kestrel/internal/domain"
	"github.com/opensource-finance/kestrel/internal/encoder"
	"github.com/opensource-finance/kestrel/internal/explain"
	"github.com/opensource-finance/kestrel/internal/history"
	"github.com/opensource-finance/kestrel/internal/model"
	"github.com/opensource-finance/kestrel/internal/rules"
)

// EngineVersion tags score metadata with the pipeline revision.
const EngineVersion = "kestrel-1.0"

// Pipeline is the decision orchestrator. Stateless across requests: every
// invocation starts fresh from the request with no memory of prior
// decisions for the same customer.
type Pipeline struct {
	resolver *history.Resolver
	engine   *rules.Engine
	encoders *encoder.Table
	clf      *model.Ensemble
	ranker   *explain.Ranker

	audit  domain.AuditLogger
	alerts domain.AlertDispatcher
	scores domain.HistoryStore // optional score persistence
}

// Config holds pipeline dependencies.
type Config struct {
	Resolver *history.Resolver
	Engine   *rules.Engine
	Encoders *encoder.Table
	Model    *model.Ensemble
	Ranker   *explain.Ranker

	Audit  domain.AuditLogger     // required
	Alerts domain.AlertDispatcher // required
	Scores domain.HistoryStore    // optional; nil disables persistence
}

// New creates a pipeline.
func New(cfg Config) (*Pipeline, error) {
	if cfg.Resolver == nil || cfg.Engine == nil || cfg.Encoders == nil || cfg.Model == nil || cfg.Ranker == nil {
		return nil, fmt.Errorf("pipeline requires resolver, engine, encoders, model, and ranker")
	}
	if cfg.Audit == nil || cfg.Alerts == nil {
		return nil, fmt.Errorf("pipeline requires audit logger and alert dispatcher")
	}
	return &Pipeline{
		resolver: cfg.Resolver,
		engine:   cfg.Engine,
		encoders: cfg.Encoders,
		clf:      cfg.Model,
		ranker:   cfg.Ranker,
		audit:    cfg.Audit,
		alerts:   cfg.Alerts,
		scores:   cfg.Scores,
	}, nil
}

// Score runs the full decision pipeline for one request.
//
// Error contract: domain.ErrCustomerNotFound and *domain.UnknownValueError
// abort before any side effect; classifier failures abort wrapped in
// domain.ErrInternal. Attribution failure degrades to an empty list; the
// audit line and (when indicated) the alert happen only on success.
func (p *Pipeline) Score(ctx context.Context, req *domain.ScoreRequest) (*domain.ScoreResult, error) {
	start := time.Now()

	if err := req.Validate(); err != nil {
		return nil, err
	}

	// 1. Resolve customer context
	rec, err := p.resolver.Resolve(ctx, req.CustomerID)
	if err != nil {
		return nil, err
	}
	resolveMs := time.Since(start).Milliseconds()

	fv := domain.EnrichRequest(req, rec)

	// 2. Rule verdict over the pre-encoding vector. Computed before
	// encoding so the heuristics stay independent of encoding failures.
	rulesStart := time.Now()
	ruleVerdict := p.engine.Evaluate(fv)
	rulesMs := time.Since(rulesStart).Milliseconds()

	// 3. Encode categoricals; an unseen value aborts the whole request.
	x, err := p.encoders.EncodeVector(fv)
	if err != nil {
		return nil, err
	}

	// 4. Model verdict
	modelStart := time.Now()
	classCode, err := p.clf.Predict(x)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrInternal, err)
	}
	modelVerdict := p.clf.Label(classCode)
	modelMs := time.Since(modelStart).Milliseconds()

	// 5. Attribution. Failure degrades to an empty list; the verdicts
	// stay available even when explainability is not.
	explainStart := time.Now()
	topFeatures, err := p.ranker.Rank(x, classCode)
	if err != nil {
		slog.Warn("attribution failed, returning empty explanation",
			"customer_id", rec.CustomerID,
			"class_code", classCode,
			"error", err,
		)
		topFeatures = []domain.Attribution{}
	}
	explainMs := time.Since(explainStart).Milliseconds()

	result := &domain.ScoreResult{
		ID:           uuid.New().String(),
		CustomerID:   rec.CustomerID,
		RuleVerdict:  ruleVerdict,
		ModelVerdict: modelVerdict,
		ClassCode:    classCode,
		TopFeatures:  topFeatures,
		Timestamp:    time.Now().UTC(),
		Metadata: domain.ScoreMetadata{
			ResolveMs:     resolveMs,
			RulesMs:       rulesMs,
			ModelMs:       modelMs,
			ExplainMs:     explainMs,
			TotalMs:       time.Since(start).Milliseconds(),
			EngineVersion: EngineVersion,
		},
	}

	p.sideEffects(ctx, result)

	return result, nil
}

// sideEffects appends the audit line, persists the result when a store is
// configured, and dispatches an alert when either verdict indicates fraud.
// None of these can fail the request.
func (p *Pipeline) sideEffects(ctx context.Context, result *domain.ScoreResult) {
	if err := p.audit.Record(result.Timestamp, result.CustomerID, result.RuleVerdict, result.ModelVerdict); err != nil {
		slog.Error("failed to append audit line",
			"customer_id", result.CustomerID,
			"error", err,
		)
	}

	if p.scores != nil {
		if err := p.scores.SaveScore(ctx, result); err != nil {
			slog.Error("failed to save score",
				"score_id", result.ID,
				"error", err,
			)
		}
	}

	if result.Alerted() {
		p.alerts.Dispatch(domain.Alert{
			CustomerID: result.CustomerID,
			FraudType:  result.AlertFraudType(),
			Timestamp:  result.Timestamp,
		})
	}

	slog.Info("transaction scored",
		"customer_id", result.CustomerID,
		"rule_verdict", result.RuleVerdict,
		"model_verdict", result.ModelVerdict,
		"alerted", result.Alerted(),
		"duration_ms", result.Metadata.TotalMs,
	)
}
