package main

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"sync"
	"time"
)

type loadMode string

const (
	modeIntent         loadMode = "intent"
	modePurchase       loadMode = "purchase"
	modePurchasePayout loadMode = "purchase-payout"
)

type config struct {
	addr          string
	total         int
	totalSet      bool
	duration      time.Duration
	concurrency   int
	timeout       time.Duration
	mode          loadMode
	payoutRate    int
	itemID        string
	buyerTag      string
	sellerID      string
	payoutMinor   int64
	jwtSecret     string
	jwtIssuer     string
	subjectHeader string
	outputPath    string
}

func parseConfig(args []string, lookup func(string) string) (config, error) {
	fs := flag.NewFlagSet("loadtest", flag.ContinueOnError)
	fs.SetOutput(io.Discard)

	var cfg config
	var modeValue string
	fs.StringVar(&cfg.addr, "addr", "http://localhost:8080", "marketpay HTTP base URL")
	fs.IntVar(&cfg.total, "total", 400, "total scenarios in count mode; in duration mode only used when explicitly set")
	fs.DurationVar(&cfg.duration, "duration", 0, "optional time-based run duration (e.g. 10m)")
	fs.IntVar(&cfg.concurrency, "concurrency", 40, "number of concurrent workers")
	fs.DurationVar(&cfg.timeout, "timeout", 5*time.Second, "per-request timeout")
	fs.StringVar(&modeValue, "mode", string(modePurchase), "load mode: intent | purchase | purchase-payout")
	fs.IntVar(&cfg.payoutRate, "payout-rate", 10, "percent of purchases followed by a seller payout request (purchase-payout mode)")
	fs.StringVar(&cfg.itemID, "item", "prompt-sql-tutor", "item id to buy")
	fs.StringVar(&cfg.buyerTag, "buyer-tag", "load-buyer", "buyer id prefix")
	fs.StringVar(&cfg.sellerID, "seller", "seller-demo", "seller id requesting payouts")
	fs.Int64Var(&cfg.payoutMinor, "payout-minor", 1000, "payout amount in minor units")
	fs.StringVar(&cfg.jwtSecret, "jwt-secret", lookup("MARKETPAY_AUTH_JWT_SECRET"), "HS256 secret; empty switches to subject header auth")
	fs.StringVar(&cfg.jwtIssuer, "jwt-issuer", lookup("MARKETPAY_AUTH_JWT_ISSUER"), "JWT issuer claim")
	fs.StringVar(&cfg.subjectHeader, "subject-header", "X-User-ID", "subject header for header auth mode")
	fs.StringVar(&cfg.outputPath, "output", "", "optional JSON report output file path")
	if err := fs.Parse(args); err != nil {
		return cfg, err
	}

	fs.Visit(func(f *flag.Flag) {
		if f.Name == "total" {
			cfg.totalSet = true
		}
	})

	mode, err := parseMode(modeValue)
	if err != nil {
		return cfg, err
	}
	cfg.mode = mode

	var errs []error
	if strings.TrimSpace(cfg.addr) == "" {
		errs = append(errs, errors.New("addr is required"))
	}
	if cfg.duration < 0 {
		errs = append(errs, errors.New("duration must be >= 0"))
	}
	if cfg.duration == 0 && cfg.total <= 0 {
		errs = append(errs, errors.New("total must be > 0 when duration is not set"))
	}
	if cfg.duration > 0 && cfg.totalSet && cfg.total <= 0 {
		errs = append(errs, errors.New("total must be > 0 when explicitly set with duration"))
	}
	if cfg.concurrency <= 0 {
		errs = append(errs, errors.New("concurrency must be > 0"))
	}
	if cfg.timeout <= 0 {
		errs = append(errs, errors.New("timeout must be > 0"))
	}
	if cfg.payoutRate < 0 || cfg.payoutRate > 100 {
		errs = append(errs, errors.New("payout-rate must be between 0 and 100"))
	}
	if cfg.mode == modePurchasePayout && cfg.payoutMinor <= 0 {
		errs = append(errs, errors.New("payout-minor must be > 0"))
	}
	if strings.TrimSpace(cfg.itemID) == "" {
		errs = append(errs, errors.New("item is required"))
	}
	if strings.TrimSpace(cfg.buyerTag) == "" {
		errs = append(errs, errors.New("buyer-tag is required"))
	}
	if cfg.jwtSecret == "" && strings.TrimSpace(cfg.subjectHeader) == "" {
		errs = append(errs, errors.New("subject-header is required without jwt-secret"))
	}
	return cfg, errors.Join(errs...)
}

func parseMode(value string) (loadMode, error) {
	switch loadMode(strings.TrimSpace(value)) {
	case modeIntent:
		return modeIntent, nil
	case modePurchase:
		return modePurchase, nil
	case modePurchasePayout:
		return modePurchasePayout, nil
	default:
		return "", fmt.Errorf("unsupported mode: %s", value)
	}
}

func main() {
	cfg, err := parseConfig(os.Args[1:], os.Getenv)
	if err != nil {
		_, _ = fmt.Fprintf(os.Stderr, "invalid config: %v\n", err)
		os.Exit(1)
	}

	result := run(cfg, nil)
	printReport(os.Stdout, result, cfg)
	if cfg.outputPath != "" {
		if err := writeJSONReport(cfg.outputPath, result); err != nil {
			_, _ = fmt.Fprintf(os.Stderr, "failed to write report: %v\n", err)
			os.Exit(1)
		}
	}

	if result.Scenarios.Failed > 0 {
		os.Exit(1)
	}
}

// run гоняет сценарии пулом воркеров и собирает отчёт.
// Каждый сценарий сам пишет свой итог в collector, включая провалы.
func run(cfg config, httpClient *http.Client) report {
	client := newAPIClient(cfg, httpClient)
	startedAt := time.Now()
	runID := fmt.Sprintf("%d-%d", startedAt.UnixNano(), os.Getpid())
	col := newCollector()

	jobs := make(chan int, cfg.concurrency*2)
	var wg sync.WaitGroup
	for workerID := 0; workerID < cfg.concurrency; workerID++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for id := range jobs {
				_ = runScenario(client, cfg, id, runID, col)
			}
		}()
	}

	dispatchJobs(jobs, cfg)
	wg.Wait()

	return col.buildReport(startedAt, time.Since(startedAt))
}

func dispatchJobs(jobs chan<- int, cfg config) {
	defer close(jobs)

	if cfg.duration <= 0 {
		for i := 0; i < cfg.total; i++ {
			jobs <- i
		}
		return
	}

	timer := time.NewTimer(cfg.duration)
	defer timer.Stop()

	for i := 0; ; i++ {
		if cfg.totalSet && i >= cfg.total {
			return
		}

		select {
		case <-timer.C:
			return
		case jobs <- i:
		}
	}
}
