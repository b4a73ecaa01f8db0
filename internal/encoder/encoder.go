// Package encoder translates categorical field values into the integer
// codes the classifier was trained on.
package encoder

import (
	"fmt"
	"sort"

	"github.com/opensource-finance/kestrel/internal/domain"
)

// Table holds one mapping per categorical field from known string value
// to integer code. Read-only after load; safe for concurrent use.
type Table struct {
	version string
	fields  map[string]map[string]int
}

// New creates an encoder table. The fields map must contain an entry for
// every categorical field the classifier expects.
func New(version string, fields map[string]map[string]int) (*Table, error) {
	for _, f := range domain.CategoricalFields {
		if len(fields[f]) == 0 {
			return nil, fmt.Errorf("encoder table missing field %q", f)
		}
	}
	return &Table{version: version, fields: fields}, nil
}

// Version returns the artifact version the table was exported with.
func (t *Table) Version() string {
	return t.version
}

// Fields returns the categorical field names, sorted.
func (t *Table) Fields() []string {
	names := make([]string, 0, len(t.fields))
	for f := range t.fields {
		names = append(names, f)
	}
	sort.Strings(names)
	return names
}

// Encode translates a single field value. Matching is exact and
// case-sensitive; an unseen value yields *domain.UnknownValueError.
func (t *Table) Encode(field, value string) (int, error) {
	codes, ok := t.fields[field]
	if !ok {
		return 0, fmt.Errorf("no encoder for field %q", field)
	}
	code, ok := codes[value]
	if !ok {
		return 0, &domain.UnknownValueError{Field: field, Value: value}
	}
	return code, nil
}

// EncodeVector produces the fully numeric classifier input from an
// enriched feature vector. The first unrecognized categorical value aborts
// encoding; partial encodings are never returned.
func (t *Table) EncodeVector(fv domain.FeatureVector) (domain.EncodedVector, error) {
	var x domain.EncodedVector

	txType, err := t.Encode("transaction_type", fv.TransactionType)
	if err != nil {
		return x, err
	}
	location, err := t.Encode("location", fv.Location)
	if err != nil {
		return x, err
	}
	device, err := t.Encode("device_type", fv.DeviceType)
	if err != nil {
		return x, err
	}
	payment, err := t.Encode("payment_method", fv.PaymentMethod)
	if err != nil {
		return x, err
	}

	x[domain.FeatTransactionType] = float64(txType)
	x[domain.FeatTransactionAmount] = fv.TransactionAmount
	x[domain.FeatLocation] = float64(location)
	x[domain.FeatDeviceType] = float64(device)
	x[domain.FeatPaymentMethod] = float64(payment)
	x[domain.FeatFailedLoginAttempts] = float64(fv.FailedLoginAttempts)
	x[domain.FeatNewBeneficiaryAdded] = float64(fv.NewBeneficiaryAdded)
	x[domain.FeatUnusualLocation] = float64(fv.UnusualLocation)
	x[domain.FeatTimeGap] = fv.TimeGapBetweenTransactions
	x[domain.FeatFrequencyPerDay] = fv.TransactionFrequencyPerDay
	x[domain.FeatHour] = float64(fv.Hour)
	x[domain.FeatDay] = float64(fv.Day)
	x[domain.FeatWeekday] = float64(fv.Weekday)
	x[domain.FeatIsRTP] = float64(fv.IsRTP)

	return x, nil
}
