package domain

import (
	"time"
)

// Fraud verdict labels shared by the rule engine and the classifier.
const (
	VerdictNone        = "None"
	VerdictAPPFraud    = "APP Fraud"
	VerdictATORTPDrain = "ATO + RTP Drain"

	// VerdictUnknown is the fallback when the classifier emits a class
	// code absent from the class map.
	VerdictUnknown = "Unknown"
)

// MLSuffix is appended to the model verdict for display.
const MLSuffix = " (ML-Based)"

// IsFraudVerdict reports whether a verdict label is one of the two
// alert-triggering fraud labels.
func IsFraudVerdict(v string) bool {
	return v == VerdictAPPFraud || v == VerdictATORTPDrain
}

// Attribution is one (feature, magnitude) pair of the explanation.
// Magnitude is the absolute contribution of the feature toward the
// predicted class.
type Attribution struct {
	Feature   string  `json:"feature"`
	Magnitude float64 `json:"magnitude"`
}

// ScoreResult is the combined outcome of one scored request.
type ScoreResult struct {
	ID           string        `json:"id"`
	CustomerID   string        `json:"customerId"`
	RuleVerdict  string        `json:"ruleVerdict"`
	ModelVerdict string        `json:"modelVerdict"` // plain label, no display suffix
	ClassCode    int           `json:"classCode"`
	TopFeatures  []Attribution `json:"topFeatures"`
	Timestamp    time.Time     `json:"timestamp"`

	Metadata ScoreMetadata `json:"metadata"`
}

// ScoreMetadata carries processing information.
type ScoreMetadata struct {
	TraceID       string `json:"traceId"`
	ResolveMs     int64  `json:"resolveMs"`
	RulesMs       int64  `json:"rulesMs"`
	ModelMs       int64  `json:"modelMs"`
	ExplainMs     int64  `json:"explainMs"`
	TotalMs       int64  `json:"totalMs"`
	EngineVersion string `json:"engineVersion"`
}

// Alerted reports whether this result triggers an alert: the rule verdict
// or the model verdict is one of the two fraud labels.
func (r *ScoreResult) Alerted() bool {
	return IsFraudVerdict(r.RuleVerdict) || IsFraudVerdict(r.ModelVerdict)
}

// AlertFraudType is the fraud-type carried by the alert: the rule verdict
// when it is non-"None", otherwise the model verdict.
func (r *ScoreResult) AlertFraudType() string {
	if r.RuleVerdict != VerdictNone {
		return r.RuleVerdict
	}
	return r.ModelVerdict
}
