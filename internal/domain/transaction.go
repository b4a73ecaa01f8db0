// Package domain defines the core interfaces and types for Kestrel.
package domain

import (
	"fmt"
	"strings"
	"time"
)

// ScoreRequest is the caller-supplied transaction to be scored.
// Immutable once received.
type ScoreRequest struct {
	CustomerID        string  `json:"customer_id"`
	TransactionType   string  `json:"transaction_type"`
	TransactionAmount float64 `json:"transaction_amount"`
	DeviceType        string  `json:"device_type"`
}

// Validate checks the request fields. The customer identifier is trimmed
// of surrounding whitespace before any lookup.
func (r *ScoreRequest) Validate() error {
	if strings.TrimSpace(r.CustomerID) == "" {
		return fmt.Errorf("%w: customer_id is required", ErrInvalidRequest)
	}
	if r.TransactionAmount < 0 {
		return fmt.Errorf("%w: transaction_amount must be non-negative", ErrInvalidRequest)
	}
	return nil
}

// HistoryRecord is one historical transaction row for a customer,
// owned by the history store.
type HistoryRecord struct {
	ID                         int64     `json:"id"`
	CustomerID                 string    `json:"customerId"`
	Location                   string    `json:"location"`
	PaymentMethod              string    `json:"paymentMethod"`
	FailedLoginAttempts        int       `json:"failedLoginAttempts"`
	NewBeneficiaryAdded        int       `json:"newBeneficiaryAdded"`
	UnusualLocation            int       `json:"unusualLocation"`
	TimeGapBetweenTransactions float64   `json:"timeGapBetweenTransactions"`
	TransactionFrequencyPerDay float64   `json:"transactionFrequencyPerDay"`
	TransactionDatetime        time.Time `json:"transactionDatetime"`
}

// NumFeatures is the width of the classifier's input vector.
const NumFeatures = 14

// Feature indexes into the encoded vector, in the exact order the
// classifier was trained on.
const (
	FeatTransactionType = iota
	FeatTransactionAmount
	FeatLocation
	FeatDeviceType
	FeatPaymentMethod
	FeatFailedLoginAttempts
	FeatNewBeneficiaryAdded
	FeatUnusualLocation
	FeatTimeGap
	FeatFrequencyPerDay
	FeatHour
	FeatDay
	FeatWeekday
	FeatIsRTP
)

// FeatureNames holds the canonical feature names in training order.
var FeatureNames = [NumFeatures]string{
	"transaction_type",
	"transaction_amount",
	"location",
	"device_type",
	"payment_method",
	"failed_login_attempts",
	"new_beneficiary_added",
	"unusual_location",
	"time_gap_between_transactions",
	"transaction_frequency_per_day",
	"hour",
	"day",
	"weekday",
	"is_rtp",
}

// CategoricalFields are the fields translated through the encoder tables.
var CategoricalFields = []string{
	"transaction_type",
	"location",
	"device_type",
	"payment_method",
}

// FeatureVector is the enriched, pre-encoding view of one request:
// request fields, the selected history record's contextual fields and
// derived calendar features. Exists only for the duration of one request.
type FeatureVector struct {
	TransactionType            string
	TransactionAmount          float64
	Location                   string
	DeviceType                 string
	PaymentMethod              string
	FailedLoginAttempts        int
	NewBeneficiaryAdded        int
	UnusualLocation            int
	TimeGapBetweenTransactions float64
	TransactionFrequencyPerDay float64
	Hour                       int
	Day                        int
	Weekday                    int
	IsRTP                      int
}

// EncodedVector is the fully numeric vector fed to the classifier.
type EncodedVector [NumFeatures]float64

// EnrichRequest builds the feature vector from a request and the customer's
// most recent history record. Calendar features derive from the record's
// timestamp; is_rtp derives from the request's transaction type.
func EnrichRequest(req *ScoreRequest, rec *HistoryRecord) FeatureVector {
	isRTP := 0
	if strings.EqualFold(strings.TrimSpace(req.TransactionType), "rtp") {
		isRTP = 1
	}
	ts := rec.TransactionDatetime
	return FeatureVector{
		TransactionType:            req.TransactionType,
		TransactionAmount:          req.TransactionAmount,
		Location:                   rec.Location,
		DeviceType:                 req.DeviceType,
		PaymentMethod:              rec.PaymentMethod,
		FailedLoginAttempts:        rec.FailedLoginAttempts,
		NewBeneficiaryAdded:        rec.NewBeneficiaryAdded,
		UnusualLocation:            rec.UnusualLocation,
		TimeGapBetweenTransactions: rec.TimeGapBetweenTransactions,
		TransactionFrequencyPerDay: rec.TransactionFrequencyPerDay,
		Hour:                       ts.Hour(),
		Day:                        ts.Day(),
		Weekday:                    int(ts.Weekday()),
		IsRTP:                      isRTP,
	}
}
