// Benchmark tool for load-testing Kestrel's scoring endpoint.
//
// Usage:
//   go run cmd/bench/main.go -csv /path/to/transactions.csv -url http://localhost:8080
//
// This tool:
//   1. Reads labeled transaction data (customer, type, amount, device, label)
//   2. Sends each transaction to POST /score with concurrent workers
//   3. Compares fraud verdicts (rule or model) with the expected labels
//   4. Reports precision, recall, F1-score, and latency percentiles
package main

import (
	"bytes"
	"encoding/csv"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"sort"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

// LabeledTransaction is one row of the benchmark dataset.
type LabeledTransaction struct {
	CustomerID      string
	TransactionType string
	Amount          float64
	DeviceType      string
	IsFraud         bool
}

// ScoreRequest is the Kestrel API request format.
type ScoreRequest struct {
	CustomerID        string  `json:"customer_id"`
	TransactionType   string  `json:"transaction_type"`
	TransactionAmount float64 `json:"transaction_amount"`
	DeviceType        string  `json:"device_type"`
}

// ScoreResponse is the Kestrel API response format.
type ScoreResponse struct {
	ScoreID         string             `json:"score_id"`
	RuleBasedResult string             `json:"rule_based_result"`
	MLPrediction    string             `json:"ml_prediction"`
	TopFeatures     map[string]float64 `json:"top_features"`
}

// Metrics tracks benchmark results.
type Metrics struct {
	TruePositives  int64 // Fraud scored as fraud
	FalsePositives int64 // Non-fraud scored as fraud
	TrueNegatives  int64 // Non-fraud scored as None
	FalseNegatives int64 // Fraud scored as None (missed fraud!)

	TotalProcessed int64
	TotalErrors    int64

	mu        sync.Mutex
	latencies []time.Duration
}

func main() {
	csvPath := flag.String("csv", "", "Path to labeled transaction CSV file")
	baseURL := flag.String("url", "http://localhost:8080", "Kestrel base URL")
	limit := flag.Int("limit", 10000, "Maximum transactions to process (0 = all)")
	workers := flag.Int("workers", 10, "Number of concurrent workers")
	verbose := flag.Bool("verbose", false, "Print each transaction result")
	flag.Parse()

	if *csvPath == "" {
		fmt.Println("Usage: bench -csv /path/to/transactions.csv [-url http://localhost:8080]")
		fmt.Println("\nFlags:")
		flag.PrintDefaults()
		os.Exit(1)
	}

	fmt.Println("KESTREL BENCHMARK - fraud scoring")
	fmt.Printf("\nCSV File:    %s\n", *csvPath)
	fmt.Printf("Kestrel URL: %s\n", *baseURL)
	fmt.Printf("Workers:     %d\n", *workers)
	fmt.Printf("Limit:       %d\n", *limit)
	fmt.Println()

	if err := checkHealth(*baseURL); err != nil {
		fmt.Printf("ERROR: Kestrel not reachable at %s: %v\n", *baseURL, err)
		fmt.Println("\nMake sure Kestrel is running:")
		fmt.Println("  go run cmd/kestrel/main.go")
		os.Exit(1)
	}
	fmt.Println("✓ Kestrel is healthy")

	fmt.Printf("\nReading transactions from %s...\n", *csvPath)
	transactions, err := readTransactionCSV(*csvPath, *limit)
	if err != nil {
		fmt.Printf("ERROR: Failed to read CSV: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("✓ Loaded %d transactions\n", len(transactions))

	fmt.Printf("\nRunning benchmark with %d workers...\n", *workers)
	startTime := time.Now()
	metrics := runBenchmark(transactions, *baseURL, *workers, *verbose)
	duration := time.Since(startTime)

	printResults(metrics, duration)
}

func checkHealth(baseURL string) error {
	client := &http.Client{Timeout: 5 * time.Second}
	resp, err := client.Get(baseURL + "/health")
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("health check returned %d", resp.StatusCode)
	}
	return nil
}

// readTransactionCSV reads rows of the form:
//
//	customer_id,transaction_type,transaction_amount,device_type,is_fraud
func readTransactionCSV(path string, limit int) ([]LabeledTransaction, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	reader := csv.NewReader(f)

	// Skip header
	if _, err := reader.Read(); err != nil {
		return nil, fmt.Errorf("failed to read header: %w", err)
	}

	var transactions []LabeledTransaction
	for {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, err
		}
		if len(record) < 5 {
			continue
		}

		amount, err := strconv.ParseFloat(record[2], 64)
		if err != nil {
			continue
		}

		transactions = append(transactions, LabeledTransaction{
			CustomerID:      strings.TrimSpace(record[0]),
			TransactionType: strings.TrimSpace(record[1]),
			Amount:          amount,
			DeviceType:      strings.TrimSpace(record[3]),
			IsFraud:         record[4] == "1" || strings.EqualFold(record[4], "true"),
		})

		if limit > 0 && len(transactions) >= limit {
			break
		}
	}

	return transactions, nil
}

func runBenchmark(transactions []LabeledTransaction, baseURL string, workers int, verbose bool) *Metrics {
	metrics := &Metrics{}
	client := &http.Client{Timeout: 30 * time.Second}

	jobs := make(chan LabeledTransaction, workers*2)
	var wg sync.WaitGroup

	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for tx := range jobs {
				scoreOne(client, baseURL, tx, metrics, verbose)
			}
		}()
	}

	for _, tx := range transactions {
		jobs <- tx
	}
	close(jobs)
	wg.Wait()

	return metrics
}

func scoreOne(client *http.Client, baseURL string, tx LabeledTransaction, metrics *Metrics, verbose bool) {
	body, err := json.Marshal(ScoreRequest{
		CustomerID:        tx.CustomerID,
		TransactionType:   tx.TransactionType,
		TransactionAmount: tx.Amount,
		DeviceType:        tx.DeviceType,
	})
	if err != nil {
		atomic.AddInt64(&metrics.TotalErrors, 1)
		return
	}

	start := time.Now()
	resp, err := client.Post(baseURL+"/score", "application/json", bytes.NewReader(body))
	latency := time.Since(start)
	if err != nil {
		atomic.AddInt64(&metrics.TotalErrors, 1)
		return
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		atomic.AddInt64(&metrics.TotalErrors, 1)
		io.Copy(io.Discard, resp.Body)
		return
	}

	var sr ScoreResponse
	if err := json.NewDecoder(resp.Body).Decode(&sr); err != nil {
		atomic.AddInt64(&metrics.TotalErrors, 1)
		return
	}

	metrics.mu.Lock()
	metrics.latencies = append(metrics.latencies, latency)
	metrics.mu.Unlock()

	// Fraud when either verdict is non-None
	flagged := sr.RuleBasedResult != "None" || !strings.HasPrefix(sr.MLPrediction, "None")

	atomic.AddInt64(&metrics.TotalProcessed, 1)
	switch {
	case tx.IsFraud && flagged:
		atomic.AddInt64(&metrics.TruePositives, 1)
	case tx.IsFraud && !flagged:
		atomic.AddInt64(&metrics.FalseNegatives, 1)
	case !tx.IsFraud && flagged:
		atomic.AddInt64(&metrics.FalsePositives, 1)
	default:
		atomic.AddInt64(&metrics.TrueNegatives, 1)
	}

	if verbose {
		fmt.Printf("  %s: rule=%s ml=%s fraud=%v latency=%s\n",
			tx.CustomerID, sr.RuleBasedResult, sr.MLPrediction, tx.IsFraud, latency.Round(time.Millisecond))
	}
}

func printResults(m *Metrics, duration time.Duration) {
	tp := atomic.LoadInt64(&m.TruePositives)
	fp := atomic.LoadInt64(&m.FalsePositives)
	tn := atomic.LoadInt64(&m.TrueNegatives)
	fn := atomic.LoadInt64(&m.FalseNegatives)
	total := atomic.LoadInt64(&m.TotalProcessed)
	errs := atomic.LoadInt64(&m.TotalErrors)

	precision := 0.0
	if tp+fp > 0 {
		precision = float64(tp) / float64(tp+fp)
	}
	recall := 0.0
	if tp+fn > 0 {
		recall = float64(tp) / float64(tp+fn)
	}
	f1 := 0.0
	if precision+recall > 0 {
		f1 = 2 * precision * recall / (precision + recall)
	}

	fmt.Println("\n═══ RESULTS ═══")
	fmt.Printf("Processed:  %d (errors: %d)\n", total, errs)
	fmt.Printf("Duration:   %s (%.1f tx/sec)\n", duration.Round(time.Millisecond), float64(total)/duration.Seconds())
	fmt.Println("\nConfusion matrix:")
	fmt.Printf("  TP: %-8d FP: %d\n", tp, fp)
	fmt.Printf("  FN: %-8d TN: %d\n", fn, tn)
	fmt.Println("\nScores:")
	fmt.Printf("  Precision: %.4f\n", precision)
	fmt.Printf("  Recall:    %.4f\n", recall)
	fmt.Printf("  F1:        %.4f\n", f1)

	m.mu.Lock()
	lats := m.latencies
	m.mu.Unlock()
	if len(lats) > 0 {
		sort.Slice(lats, func(i, j int) bool { return lats[i] < lats[j] })
		fmt.Println("\nLatency:")
		fmt.Printf("  p50: %s\n", lats[len(lats)*50/100].Round(time.Microsecond))
		fmt.Printf("  p95: %s\n", lats[len(lats)*95/100].Round(time.Microsecond))
		fmt.Printf("  p99: %s\n", lats[len(lats)*99/100].Round(time.Microsecond))
	}
}
