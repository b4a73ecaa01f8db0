package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/opensource-finance/kestrel/internal/alert"
	"github.com/opensource-finance/kestrel/internal/audit"
	"github.com/opensource-finance/kestrel/internal/bus"
	"github.com/opensource-finance/kestrel/internal/domain"
	"github.com/opensource-finance/kestrel/internal/encoder"
	"github.com/opensource-finance/kestrel/internal/explain"
	"github.com/opensource-finance/kestrel/internal/history"
	"github.com/opensource-finance/kestrel/internal/model"
	"github.com/opensource-finance/kestrel/internal/rules"
)

type testHarness struct {
	pipeline *Pipeline
	store    *history.SQLStore
	bus      *bus.ChannelBus

	auditPath string

	mu     sync.Mutex
	alerts []domain.Alert
}

func (h *testHarness) alertCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.alerts)
}

func (h *testHarness) lastAlert() domain.Alert {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.alerts[len(h.alerts)-1]
}

func (h *testHarness) waitAlerts(t *testing.T, n int) {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for h.alertCount() < n {
		select {
		case <-deadline:
			t.Fatalf("expected %d alerts, got %d", n, h.alertCount())
		case <-time.After(10 * time.Millisecond):
		}
	}
}

func (h *testHarness) auditLines(t *testing.T) []string {
	t.Helper()
	data, err := os.ReadFile(h.auditPath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		t.Fatalf("failed to read audit log: %v", err)
	}
	trimmed := strings.TrimRight(string(data), "\n")
	if trimmed == "" {
		return nil
	}
	return strings.Split(trimmed, "\n")
}

func testModel(t *testing.T) *model.Ensemble {
	t.Helper()

	appTree := model.Tree{Nodes: []model.Node{
		{Feature: domain.FeatNewBeneficiaryAdded, Threshold: 0.5, Left: 1, Right: 2, Value: 0.1},
		{Feature: -1, Value: 0.0},
		{Feature: domain.FeatTransactionAmount, Threshold: 5000.0, Left: 3, Right: 4, Value: 0.5},
		{Feature: -1, Value: 0.0},
		{Feature: -1, Value: 1.0},
	}}
	atoTree := model.Tree{Nodes: []model.Node{
		{Feature: domain.FeatFailedLoginAttempts, Threshold: 2.5, Left: 1, Right: 2, Value: 0.1},
		{Feature: -1, Value: 0.0},
		{Feature: domain.FeatUnusualLocation, Threshold: 0.5, Left: 3, Right: 4, Value: 0.5},
		{Feature: -1, Value: 0.0},
		{Feature: -1, Value: 1.0},
	}}

	m, err := model.New("test-v1",
		[]float64{0.5, 0.0, 0.0},
		[][]model.Tree{{}, {appTree}, {atoTree}},
		map[int]string{
			0: domain.VerdictNone,
			1: domain.VerdictAPPFraud,
			2: domain.VerdictATORTPDrain,
		},
	)
	if err != nil {
		t.Fatalf("failed to create model: %v", err)
	}
	return m
}

func testEncoders(t *testing.T) *encoder.Table {
	t.Helper()

	table, err := encoder.New("test-v1", map[string]map[string]int{
		"transaction_type": {"Online": 0, "POS": 1, "RTP": 2, "Transfer": 3},
		"location":         {"New York": 0, "London": 1},
		"device_type":      {"Mobile": 0, "Desktop": 1},
		"payment_method":   {"Credit Card": 0, "Bank Transfer": 1},
	})
	if err != nil {
		t.Fatalf("failed to create encoders: %v", err)
	}
	return table
}

func newTestHarness(t *testing.T) *testHarness {
	t.Helper()

	dir := t.TempDir()

	store, err := history.New(domain.HistoryConfig{
		Driver:     "sqlite",
		SQLitePath: filepath.Join(dir, "kestrel.db"),
	})
	if err != nil {
		t.Fatalf("failed to create store: %v", err)
	}
	t.Cleanup(func() { store.Close() })

	engine, err := rules.NewEngine()
	if err != nil {
		t.Fatalf("failed to create engine: %v", err)
	}
	if err := engine.LoadHeuristics(rules.Builtin()); err != nil {
		t.Fatalf("failed to load heuristics: %v", err)
	}

	h := &testHarness{store: store}

	h.bus = bus.NewChannelBus(100)
	t.Cleanup(func() { h.bus.Close() })

	_, err = h.bus.Subscribe(context.Background(), domain.TopicFraudAlert, func(ctx context.Context, msg *domain.Message) error {
		var a domain.Alert
		if err := json.Unmarshal(msg.Payload, &a); err != nil {
			return err
		}
		h.mu.Lock()
		h.alerts = append(h.alerts, a)
		h.mu.Unlock()
		return nil
	})
	if err != nil {
		t.Fatalf("failed to subscribe: %v", err)
	}

	dispatcher := alert.NewDispatcher(h.bus, domain.AlertConfig{QueueSize: 100, DispatchTimeout: time.Second})
	t.Cleanup(func() { dispatcher.Close() })

	h.auditPath = filepath.Join(dir, "predictions.log")
	auditLog, err := audit.Open(h.auditPath)
	if err != nil {
		t.Fatalf("failed to open audit log: %v", err)
	}
	t.Cleanup(func() { auditLog.Close() })

	m := testModel(t)
	p, err := New(Config{
		Resolver: history.NewResolver(store, nil, time.Minute),
		Engine:   engine,
		Encoders: testEncoders(t),
		Model:    m,
		Ranker:   explain.NewRanker(m, 3),
		Audit:    auditLog,
		Alerts:   dispatcher,
		Scores:   store,
	})
	if err != nil {
		t.Fatalf("failed to create pipeline: %v", err)
	}
	h.pipeline = p

	return h
}

func seed(t *testing.T, store *history.SQLStore, rec *domain.HistoryRecord) {
	t.Helper()
	if err := store.SaveRecord(context.Background(), rec); err != nil {
		t.Fatalf("failed to seed history: %v", err)
	}
}

func baseRecord(customerID string) *domain.HistoryRecord {
	return &domain.HistoryRecord{
		CustomerID:                 customerID,
		Location:                   "New York",
		PaymentMethod:              "Credit Card",
		FailedLoginAttempts:        1,
		NewBeneficiaryAdded:        0,
		UnusualLocation:            0,
		TimeGapBetweenTransactions: 2.5,
		TransactionFrequencyPerDay: 4.0,
		TransactionDatetime:        time.Date(2025, 3, 15, 10, 30, 0, 0, time.UTC),
	}
}

func TestScoreATOScenario(t *testing.T) {
	h := newTestHarness(t)
	ctx := context.Background()

	rec := baseRecord("CUST001")
	rec.FailedLoginAttempts = 4
	rec.UnusualLocation = 1
	seed(t, h.store, rec)

	result, err := h.pipeline.Score(ctx, &domain.ScoreRequest{
		CustomerID:        "CUST001",
		TransactionType:   "Online",
		TransactionAmount: 100.0,
		DeviceType:        "Mobile",
	})
	if err != nil {
		t.Fatalf("Score failed: %v", err)
	}

	if result.RuleVerdict != domain.VerdictATORTPDrain {
		t.Errorf("expected rule verdict %q, got %q", domain.VerdictATORTPDrain, result.RuleVerdict)
	}
	if result.ModelVerdict != domain.VerdictATORTPDrain {
		t.Errorf("expected model verdict %q, got %q", domain.VerdictATORTPDrain, result.ModelVerdict)
	}
	if result.ID == "" {
		t.Error("expected a score ID")
	}
	if !result.Alerted() {
		t.Error("expected result to be alerted")
	}

	if len(result.TopFeatures) != 3 {
		t.Fatalf("expected 3 top features, got %d", len(result.TopFeatures))
	}
	if result.TopFeatures[0].Feature != "unusual_location" {
		t.Errorf("expected unusual_location first, got %s", result.TopFeatures[0].Feature)
	}
	if result.TopFeatures[1].Feature != "failed_login_attempts" {
		t.Errorf("expected failed_login_attempts second, got %s", result.TopFeatures[1].Feature)
	}

	// Audit line
	lines := h.auditLines(t)
	if len(lines) != 1 {
		t.Fatalf("expected 1 audit line, got %d", len(lines))
	}
	want := "Customer: CUST001 | Rule: ATO + RTP Drain | ML: ATO + RTP Drain"
	if !strings.Contains(lines[0], want) {
		t.Errorf("audit line %q does not contain %q", lines[0], want)
	}

	// Alert published with the rule verdict as fraud type
	h.waitAlerts(t, 1)
	a := h.lastAlert()
	if a.CustomerID != "CUST001" {
		t.Errorf("expected alert for CUST001, got %s", a.CustomerID)
	}
	if a.FraudType != domain.VerdictATORTPDrain {
		t.Errorf("expected fraud type %q, got %q", domain.VerdictATORTPDrain, a.FraudType)
	}

	// Score persisted
	saved, err := h.store.GetScore(ctx, result.ID)
	if err != nil {
		t.Fatalf("GetScore failed: %v", err)
	}
	if saved.RuleVerdict != domain.VerdictATORTPDrain {
		t.Errorf("persisted rule verdict mismatch: %q", saved.RuleVerdict)
	}
}

func TestScoreAPPFraudScenario(t *testing.T) {
	h := newTestHarness(t)
	ctx := context.Background()

	rec := baseRecord("CUST002")
	rec.NewBeneficiaryAdded = 1
	seed(t, h.store, rec)

	result, err := h.pipeline.Score(ctx, &domain.ScoreRequest{
		CustomerID:        "CUST002",
		TransactionType:   "Transfer",
		TransactionAmount: 8000.0,
		DeviceType:        "Desktop",
	})
	if err != nil {
		t.Fatalf("Score failed: %v", err)
	}

	if result.RuleVerdict != domain.VerdictAPPFraud {
		t.Errorf("expected rule verdict %q, got %q", domain.VerdictAPPFraud, result.RuleVerdict)
	}
	if result.ModelVerdict != domain.VerdictAPPFraud {
		t.Errorf("expected model verdict %q, got %q", domain.VerdictAPPFraud, result.ModelVerdict)
	}

	h.waitAlerts(t, 1)
	if a := h.lastAlert(); a.FraudType != domain.VerdictAPPFraud {
		t.Errorf("expected alert fraud type %q, got %q", domain.VerdictAPPFraud, a.FraudType)
	}
}

func TestScoreModelOnlyAlert(t *testing.T) {
	h := newTestHarness(t)
	ctx := context.Background()

	// Only the APP heuristic is loaded, so the rule path stays quiet while
	// the classifier still flags the takeover pattern.
	engine, err := rules.NewEngine()
	if err != nil {
		t.Fatalf("failed to create engine: %v", err)
	}
	if err := engine.LoadHeuristics(rules.Builtin()[:1]); err != nil {
		t.Fatalf("failed to load heuristics: %v", err)
	}
	h.pipeline.engine = engine

	rec := baseRecord("CUST006")
	rec.FailedLoginAttempts = 4
	rec.UnusualLocation = 1
	seed(t, h.store, rec)

	result, err := h.pipeline.Score(ctx, &domain.ScoreRequest{
		CustomerID:        "CUST006",
		TransactionType:   "Online",
		TransactionAmount: 50.0,
		DeviceType:        "Mobile",
	})
	if err != nil {
		t.Fatalf("Score failed: %v", err)
	}

	if result.RuleVerdict != domain.VerdictNone {
		t.Fatalf("expected rule verdict None, got %q", result.RuleVerdict)
	}
	if result.ModelVerdict != domain.VerdictATORTPDrain {
		t.Fatalf("expected model verdict %q, got %q", domain.VerdictATORTPDrain, result.ModelVerdict)
	}

	// The alert fires on the model verdict alone and carries it as the
	// fraud type since the rule verdict is None.
	h.waitAlerts(t, 1)
	a := h.lastAlert()
	if a.FraudType != domain.VerdictATORTPDrain {
		t.Errorf("expected fraud type %q, got %q", domain.VerdictATORTPDrain, a.FraudType)
	}
}

func TestScoreBenignNoAlert(t *testing.T) {
	h := newTestHarness(t)
	ctx := context.Background()

	seed(t, h.store, baseRecord("CUST003"))

	result, err := h.pipeline.Score(ctx, &domain.ScoreRequest{
		CustomerID:        "CUST003",
		TransactionType:   "POS",
		TransactionAmount: 45.0,
		DeviceType:        "Mobile",
	})
	if err != nil {
		t.Fatalf("Score failed: %v", err)
	}

	if result.RuleVerdict != domain.VerdictNone {
		t.Errorf("expected rule verdict None, got %q", result.RuleVerdict)
	}
	if result.ModelVerdict != domain.VerdictNone {
		t.Errorf("expected model verdict None, got %q", result.ModelVerdict)
	}
	if result.Alerted() {
		t.Error("benign result must not alert")
	}

	// Audit still records non-fraud decisions
	if lines := h.auditLines(t); len(lines) != 1 {
		t.Errorf("expected 1 audit line, got %d", len(lines))
	}

	time.Sleep(100 * time.Millisecond)
	if h.alertCount() != 0 {
		t.Errorf("expected no alerts, got %d", h.alertCount())
	}
}

func TestScoreUnknownCustomerHasNoSideEffects(t *testing.T) {
	h := newTestHarness(t)

	_, err := h.pipeline.Score(context.Background(), &domain.ScoreRequest{
		CustomerID:        "GHOST",
		TransactionType:   "Online",
		TransactionAmount: 100.0,
		DeviceType:        "Mobile",
	})
	if !errors.Is(err, domain.ErrCustomerNotFound) {
		t.Fatalf("expected ErrCustomerNotFound, got %v", err)
	}

	if lines := h.auditLines(t); len(lines) != 0 {
		t.Errorf("expected no audit lines on abort, got %d", len(lines))
	}
	time.Sleep(100 * time.Millisecond)
	if h.alertCount() != 0 {
		t.Errorf("expected no alerts on abort, got %d", h.alertCount())
	}
}

func TestScoreUnknownCategoricalAborts(t *testing.T) {
	h := newTestHarness(t)

	rec := baseRecord("CUST004")
	rec.Location = "Atlantis" // unseen by the encoder tables
	seed(t, h.store, rec)

	_, err := h.pipeline.Score(context.Background(), &domain.ScoreRequest{
		CustomerID:        "CUST004",
		TransactionType:   "Online",
		TransactionAmount: 100.0,
		DeviceType:        "Mobile",
	})

	var unknown *domain.UnknownValueError
	if !errors.As(err, &unknown) {
		t.Fatalf("expected UnknownValueError, got %v", err)
	}
	if unknown.Field != "location" {
		t.Errorf("expected failing field location, got %s", unknown.Field)
	}

	if lines := h.auditLines(t); len(lines) != 0 {
		t.Errorf("expected no audit lines on abort, got %d", len(lines))
	}
}

func TestScoreInvalidRequest(t *testing.T) {
	h := newTestHarness(t)
	ctx := context.Background()

	t.Run("EmptyCustomerID", func(t *testing.T) {
		_, err := h.pipeline.Score(ctx, &domain.ScoreRequest{
			CustomerID:        "   ",
			TransactionType:   "Online",
			TransactionAmount: 100.0,
		})
		if !errors.Is(err, domain.ErrInvalidRequest) {
			t.Errorf("expected ErrInvalidRequest, got %v", err)
		}
	})

	t.Run("NegativeAmount", func(t *testing.T) {
		_, err := h.pipeline.Score(ctx, &domain.ScoreRequest{
			CustomerID:        "CUST001",
			TransactionType:   "Online",
			TransactionAmount: -5.0,
		})
		if !errors.Is(err, domain.ErrInvalidRequest) {
			t.Errorf("expected ErrInvalidRequest, got %v", err)
		}
	})
}

func TestScoreIsRepeatable(t *testing.T) {
	h := newTestHarness(t)
	ctx := context.Background()

	rec := baseRecord("CUST005")
	rec.FailedLoginAttempts = 4
	rec.UnusualLocation = 1
	seed(t, h.store, rec)

	req := &domain.ScoreRequest{
		CustomerID:        "CUST005",
		TransactionType:   "RTP",
		TransactionAmount: 300.0,
		DeviceType:        "Mobile",
	}

	first, err := h.pipeline.Score(ctx, req)
	if err != nil {
		t.Fatalf("Score failed: %v", err)
	}

	for i := 0; i < 5; i++ {
		got, err := h.pipeline.Score(ctx, req)
		if err != nil {
			t.Fatalf("Score failed: %v", err)
		}
		if got.RuleVerdict != first.RuleVerdict || got.ModelVerdict != first.ModelVerdict {
			t.Fatalf("verdicts changed across identical requests: %q/%q then %q/%q",
				first.RuleVerdict, first.ModelVerdict, got.RuleVerdict, got.ModelVerdict)
		}
		if got.ClassCode != first.ClassCode {
			t.Fatalf("class code changed: %d then %d", first.ClassCode, got.ClassCode)
		}
	}
}

func TestNewRequiresDependencies(t *testing.T) {
	if _, err := New(Config{}); err == nil {
		t.Error("expected error for missing dependencies")
	}
}
