package health

import (
	"context"
	"fmt"
	"time"
)

// FuncChecker оборачивает функцию проверки, например Ping базы.
type FuncChecker struct {
	name    string
	checkFn func(ctx context.Context) error
}

// NewFuncChecker создаёт проверку из функции.
func NewFuncChecker(name string, checkFn func(ctx context.Context) error) *FuncChecker {
	return &FuncChecker{name: name, checkFn: checkFn}
}

// Check выполняет функцию; ошибка означает unhealthy.
func (c *FuncChecker) Check(ctx context.Context) Check {
	start := time.Now()
	err := c.checkFn(ctx)
	check := Check{Name: c.name, Status: StatusHealthy, DurationMs: time.Since(start).Milliseconds()}
	if err != nil {
		check.Status = StatusUnhealthy
		check.Message = err.Error()
	}
	return check
}

// BreakerState - то, что нужно знать о circuit breaker платёжного шлюза.
type BreakerState interface {
	IsOpen() bool
}

// BreakerChecker сообщает degraded, пока breaker процессора открыт:
// новые покупки отклоняются, но вебхуки и чтения продолжают работать.
type BreakerChecker struct {
	name    string
	breaker BreakerState
}

// NewBreakerChecker создаёт проверку состояния breaker.
func NewBreakerChecker(name string, breaker BreakerState) *BreakerChecker {
	return &BreakerChecker{name: name, breaker: breaker}
}

func (c *BreakerChecker) Check(context.Context) Check {
	check := Check{Name: c.name, Status: StatusHealthy}
	if c.breaker != nil && c.breaker.IsOpen() {
		check.Status = StatusDegraded
		check.Message = "payment gateway circuit is open"
	}
	return check
}

// BacklogFunc возвращает текущий размер backlog outbox.
type BacklogFunc func() (int, error)

// BacklogChecker сообщает degraded, если outbox копится быстрее, чем публикуется.
type BacklogChecker struct {
	name      string
	backlog   BacklogFunc
	threshold int
}

// NewBacklogChecker создаёт проверку backlog с порогом threshold.
func NewBacklogChecker(name string, backlog BacklogFunc, threshold int) *BacklogChecker {
	return &BacklogChecker{name: name, backlog: backlog, threshold: threshold}
}

func (c *BacklogChecker) Check(context.Context) Check {
	start := time.Now()
	pending, err := c.backlog()
	check := Check{Name: c.name, Status: StatusHealthy, DurationMs: time.Since(start).Milliseconds()}
	switch {
	case err != nil:
		check.Status = StatusUnhealthy
		check.Message = err.Error()
	case c.threshold > 0 && pending > c.threshold:
		check.Status = StatusDegraded
		check.Message = fmt.Sprintf("%d pending outbox records (threshold %d)", pending, c.threshold)
	}
	return check
}
