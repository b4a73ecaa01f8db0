package rules

import "github.com/opensource-finance/kestrel/internal/domain"

// Builtin returns the default ordered heuristics. APP fraud is checked
// first; the two rules are mutually exclusive by evaluation order.
func Builtin() []Heuristic {
	return []Heuristic{
		{
			ID:          "app-fraud",
			Name:        "APP Fraud",
			Description: "Large transfer immediately after a new beneficiary was added",
			Expression:  "new_beneficiary_added == 1 && transaction_amount > 5000.0",
			Verdict:     domain.VerdictAPPFraud,
			Enabled:     true,
		},
		{
			ID:          "ato-rtp-drain",
			Name:        "ATO + RTP Drain",
			Description: "Repeated failed logins from an unusual location",
			Expression:  "failed_login_attempts > 2 && unusual_location == 1",
			Verdict:     domain.VerdictATORTPDrain,
			Enabled:     true,
		},
	}
}
