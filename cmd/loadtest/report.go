package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"slices"
	"strconv"
	"strings"
	"sync"
	"text/tabwriter"
	"time"
)

// scenarioMethod - имя, под которым копятся целые сценарии, а не отдельные вызовы.
const scenarioMethod = "scenario"

// outcome - результат одного HTTP-вызова: статус ответа или транспортная ошибка.
type outcome struct {
	status int
	err    error
}

func (o outcome) ok() bool {
	return o.err == nil && o.status >= 200 && o.status < 300
}

func (o outcome) label() string {
	if o.err != nil {
		return "transport_error"
	}
	return strconv.Itoa(o.status)
}

// latency - сводка задержек в миллисекундах, перцентили по ближайшему рангу.
type latency struct {
	MinMs float64 `json:"min_ms"`
	AvgMs float64 `json:"avg_ms"`
	P50Ms float64 `json:"p50_ms"`
	P95Ms float64 `json:"p95_ms"`
	P99Ms float64 `json:"p99_ms"`
	MaxMs float64 `json:"max_ms"`
}

type callReport struct {
	Calls     int64            `json:"calls"`
	OK        int64            `json:"ok"`
	Failed    int64            `json:"failed"`
	ErrorRate float64          `json:"error_rate"`
	Statuses  map[string]int64 `json:"statuses"`
	Latency   latency          `json:"latency"`
}

type report struct {
	StartedAt      time.Time             `json:"started_at"`
	ElapsedSeconds float64               `json:"elapsed_seconds"`
	Throughput     float64               `json:"scenarios_per_second"`
	VolumeMinor    int64                 `json:"volume_minor"`
	Scenarios      callReport            `json:"scenarios"`
	Calls          map[string]callReport `json:"calls"`
}

type callSamples struct {
	ok       int64
	statuses map[string]int64
	samples  []time.Duration
}

func (s *callSamples) report() callReport {
	calls := int64(len(s.samples))
	statuses := make(map[string]int64, len(s.statuses))
	for label, n := range s.statuses {
		statuses[label] = n
	}
	return callReport{
		Calls:     calls,
		OK:        s.ok,
		Failed:    calls - s.ok,
		ErrorRate: ratio(calls-s.ok, calls),
		Statuses:  statuses,
		Latency:   summarize(s.samples),
	}
}

// collector потокобезопасно копит вызовы по имени операции.
type collector struct {
	mu          sync.Mutex
	calls       map[string]*callSamples
	volumeMinor int64
}

func newCollector() *collector {
	return &collector{calls: make(map[string]*callSamples)}
}

func (c *collector) record(name string, took time.Duration, result outcome) {
	c.mu.Lock()
	defer c.mu.Unlock()

	s := c.calls[name]
	if s == nil {
		s = &callSamples{statuses: make(map[string]int64)}
		c.calls[name] = s
	}
	s.samples = append(s.samples, took)
	s.statuses[result.label()]++
	if result.ok() {
		s.ok++
	}
}

// addVolume учитывает сумму подтверждённой покупки.
func (c *collector) addVolume(amountMinor int64) {
	c.mu.Lock()
	c.volumeMinor += amountMinor
	c.mu.Unlock()
}

func (c *collector) snapshot(name string) (callReport, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	s, ok := c.calls[name]
	if !ok {
		return callReport{}, false
	}
	return s.report(), true
}

func (c *collector) buildReport(startedAt time.Time, elapsed time.Duration) report {
	c.mu.Lock()
	defer c.mu.Unlock()

	result := report{
		StartedAt:      startedAt.UTC(),
		ElapsedSeconds: elapsed.Seconds(),
		VolumeMinor:    c.volumeMinor,
		Calls:          make(map[string]callReport, len(c.calls)),
	}
	for name, s := range c.calls {
		if name == scenarioMethod {
			result.Scenarios = s.report()
			continue
		}
		result.Calls[name] = s.report()
	}
	if elapsed > 0 {
		result.Throughput = float64(result.Scenarios.Calls) / elapsed.Seconds()
	}
	return result
}

// writeJSONReport пишет отчёт в файл; относительный путь не должен выходить из текущего каталога.
func writeJSONReport(path string, result report) error {
	if !filepath.IsAbs(path) && !filepath.IsLocal(path) {
		return fmt.Errorf("output path escapes working directory: %s", path)
	}
	data, err := json.MarshalIndent(result, "", "  ")
	if err != nil {
		return fmt.Errorf("encode report: %w", err)
	}
	// #nosec G306 -- отчёт не содержит секретов.
	return os.WriteFile(path, append(data, '\n'), 0o644)
}

func printReport(w io.Writer, result report, cfg config) {
	s := result.Scenarios
	fmt.Fprintf(w, "Load test summary: mode=%s target=%s\n", cfg.mode, runTarget(cfg))
	fmt.Fprintf(w, "scenarios=%d ok=%d failed=%d error_rate=%.4f elapsed=%.2fs throughput=%.2f/s volume_minor=%d\n",
		s.Calls, s.OK, s.Failed, s.ErrorRate, result.ElapsedSeconds, result.Throughput, result.VolumeMinor)
	fmt.Fprintf(w, "scenario latency: p50=%.2fms p95=%.2fms p99=%.2fms max=%.2fms\n",
		s.Latency.P50Ms, s.Latency.P95Ms, s.Latency.P99Ms, s.Latency.MaxMs)

	names := make([]string, 0, len(result.Calls))
	for name := range result.Calls {
		names = append(names, name)
	}
	slices.Sort(names)

	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "CALL\tCALLS\tOK\tFAILED\tP95_MS\tSTATUSES")
	for _, name := range names {
		call := result.Calls[name]
		fmt.Fprintf(tw, "%s\t%d\t%d\t%d\t%.2f\t%s\n", name, call.Calls, call.OK, call.Failed, call.Latency.P95Ms, formatStatuses(call.Statuses))
	}
	_ = tw.Flush()
}

// formatStatuses печатает распределение ответов вида "200:5 409:1".
func formatStatuses(statuses map[string]int64) string {
	labels := make([]string, 0, len(statuses))
	for label := range statuses {
		labels = append(labels, label)
	}
	slices.Sort(labels)

	parts := make([]string, 0, len(labels))
	for _, label := range labels {
		parts = append(parts, label+":"+strconv.FormatInt(statuses[label], 10))
	}
	return strings.Join(parts, " ")
}

func runTarget(cfg config) string {
	switch {
	case cfg.duration <= 0:
		return "count:" + strconv.Itoa(cfg.total)
	case cfg.totalSet:
		return fmt.Sprintf("duration:%s,max-total:%d", cfg.duration, cfg.total)
	default:
		return "duration:" + cfg.duration.String()
	}
}

func summarize(samples []time.Duration) latency {
	if len(samples) == 0 {
		return latency{}
	}
	sorted := slices.Clone(samples)
	slices.Sort(sorted)

	var total time.Duration
	for _, d := range sorted {
		total += d
	}
	return latency{
		MinMs: millis(sorted[0]),
		AvgMs: millis(total / time.Duration(len(sorted))),
		P50Ms: millis(nearestRank(sorted, 50)),
		P95Ms: millis(nearestRank(sorted, 95)),
		P99Ms: millis(nearestRank(sorted, 99)),
		MaxMs: millis(sorted[len(sorted)-1]),
	}
}

// nearestRank возвращает наименьшее значение, покрывающее p процентов выборки.
func nearestRank(sorted []time.Duration, p int) time.Duration {
	rank := (p*len(sorted) + 99) / 100
	if rank < 1 {
		rank = 1
	}
	return sorted[rank-1]
}

func millis(d time.Duration) float64 {
	return float64(d.Microseconds()) / 1000
}

func ratio(part, total int64) float64 {
	if total <= 0 {
		return 0
	}
	return float64(part) / float64(total)
}
