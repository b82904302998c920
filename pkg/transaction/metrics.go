package transaction

import (
	"context"
	"sync"
	"sync/atomic"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

var meter = otel.Meter("github.com/olimci/tenkai/pkg/transaction")

var (
	commitTotal          metric.Int64Counter
	rollbackTotal        metric.Int64Counter
	rollbackStepFailures metric.Int64Counter
	rollbackSteps        metric.Int64Histogram

	metricsOnce sync.Once
	metricsErr  error
)

var metricsEnabled atomic.Bool

func init() {
	metricsEnabled.Store(true)
}

// SetMetricsEnabled controls whether transaction metrics are recorded.
func SetMetricsEnabled(enabled bool) {
	metricsEnabled.Store(enabled)
}

func initMetrics() error {
	metricsOnce.Do(func() {
		var err error

		commitTotal, err = meter.Int64Counter(
			"tenkai_transaction_commit_total",
			metric.WithDescription("Transactions committed without rollback"),
		)
		if err != nil {
			metricsErr = err
			return
		}

		rollbackTotal, err = meter.Int64Counter(
			"tenkai_transaction_rollback_total",
			metric.WithDescription("Transactions rolled back"),
		)
		if err != nil {
			metricsErr = err
			return
		}

		rollbackStepFailures, err = meter.Int64Counter(
			"tenkai_transaction_rollback_step_failures_total",
			metric.WithDescription("Rollback steps that failed"),
		)
		if err != nil {
			metricsErr = err
			return
		}

		rollbackSteps, err = meter.Int64Histogram(
			"tenkai_transaction_rollback_steps",
			metric.WithDescription("Undo steps executed per rollback"),
		)
		if err != nil {
			metricsErr = err
			return
		}
	})
	return metricsErr
}

func recordCommit(ctx context.Context, discarded int) {
	if !metricsEnabled.Load() || initMetrics() != nil {
		return
	}
	commitTotal.Add(ctx, 1, metric.WithAttributes(
		attribute.Bool("had_steps", discarded > 0),
	))
}

func recordRollback(ctx context.Context, steps, failed int) {
	if !metricsEnabled.Load() || initMetrics() != nil {
		return
	}
	clean := failed == 0
	rollbackTotal.Add(ctx, 1, metric.WithAttributes(attribute.Bool("clean", clean)))
	rollbackSteps.Record(ctx, int64(steps))
	if failed > 0 {
		rollbackStepFailures.Add(ctx, int64(failed))
	}
}
