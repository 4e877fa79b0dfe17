package match

import (
	"context"
	"time"

	"go.uber.org/zap"
)

// defaultPollInterval is the monitor's fixed polling interval.
const defaultPollInterval = 15 * time.Second

// defaultMaxAttempts bounds the monitor loop (15 minutes at the default
// interval, matching the expectation window).
const defaultMaxAttempts = 60

// MonitorConfig configures a background Monitor.
type MonitorConfig struct {
	// Matcher performs each check (required).
	Matcher *Matcher

	// Interval between checks (optional, defaults to 15s).
	Interval time.Duration

	// MaxAttempts bounds the loop (optional, defaults to 60).
	MaxAttempts int

	// Logger (optional).
	Logger *zap.Logger
}

// Monitor repeatedly runs the matching predicate at a fixed interval, for
// batch and background use. The bounded-check path (Matcher.CheckOnce) has
// no built-in loop; this is the unbounded counterpart.
type Monitor struct {
	matcher     *Matcher
	interval    time.Duration
	maxAttempts int
	log         *zap.Logger
}

// NewMonitor creates a Monitor.
func NewMonitor(config *MonitorConfig) *Monitor {
	interval := config.Interval
	if interval == 0 {
		interval = defaultPollInterval
	}
	maxAttempts := config.MaxAttempts
	if maxAttempts == 0 {
		maxAttempts = defaultMaxAttempts
	}
	log := config.Logger
	if log == nil {
		log = zap.NewNop()
	}
	return &Monitor{
		matcher:     config.Matcher,
		interval:    interval,
		maxAttempts: maxAttempts,
		log:         log,
	}
}

// Run polls until the expectation matches, the attempt budget is spent, or
// the context is canceled. Exhaustion returns (nil, nil): the payment was
// not observed, which is not an error. The loop is interruptible between
// iterations.
func (mo *Monitor) Run(ctx context.Context, exp Expectation) (*Result, error) {
	for attempt := 1; attempt <= mo.maxAttempts; attempt++ {
		result, err := mo.matcher.CheckOnce(ctx, exp)
		if err != nil {
			return nil, err
		}
		if result != nil {
			mo.log.Info("payment matched",
				zap.String("invoiceId", exp.InvoiceID),
				zap.String("transactionId", result.TransactionID),
				zap.Int("attempt", attempt))
			return result, nil
		}
		if attempt == mo.maxAttempts {
			break
		}

		select {
		case <-time.After(mo.interval):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	mo.log.Info("payment not observed within attempt budget",
		zap.String("invoiceId", exp.InvoiceID),
		zap.Int("attempts", mo.maxAttempts))
	return nil, nil
}
