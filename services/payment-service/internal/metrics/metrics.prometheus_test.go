package metrics

import (
	"io"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Kushmakov/rental-marketplace-iubv3k-sub004/services/payment-service/internal/breaker"
)

func TestPrometheus_Operations(t *testing.T) {
	m := NewPrometheus()
	m.IncOperation("process_payment", "CAPTURE", "COMPLETED", "tenant-acme")
	m.IncOperation("process_payment", "CAPTURE", "COMPLETED", "tenant-acme")
	m.IncOperation("refund_payment", "REFUND", "FAILED", "tenant-acme")

	assert.Equal(t, 2.0, testutil.ToFloat64(m.operations.WithLabelValues("process_payment", "CAPTURE", "COMPLETED", "tenant-acme")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.operations.WithLabelValues("refund_payment", "REFUND", "FAILED", "tenant-acme")))
	assert.Equal(t, 2, testutil.CollectAndCount(m.operations))
}

func TestPrometheus_Latency(t *testing.T) {
	m := NewPrometheus()
	m.ObserveLatency("process_payment", 300*time.Millisecond)
	m.ObserveLatency("process_payment", 2*time.Second)

	assert.Equal(t, 1, testutil.CollectAndCount(m.latency))
	expected := `
# HELP payments_operation_duration_seconds Wall time of a payment use case, retries and backoff included.
# TYPE payments_operation_duration_seconds histogram
payments_operation_duration_seconds_bucket{operation="process_payment",le="0.05"} 0
payments_operation_duration_seconds_bucket{operation="process_payment",le="0.1"} 0
payments_operation_duration_seconds_bucket{operation="process_payment",le="0.25"} 0
payments_operation_duration_seconds_bucket{operation="process_payment",le="0.5"} 1
payments_operation_duration_seconds_bucket{operation="process_payment",le="1"} 1
payments_operation_duration_seconds_bucket{operation="process_payment",le="2.5"} 2
payments_operation_duration_seconds_bucket{operation="process_payment",le="5"} 2
payments_operation_duration_seconds_bucket{operation="process_payment",le="10"} 2
payments_operation_duration_seconds_bucket{operation="process_payment",le="30"} 2
payments_operation_duration_seconds_bucket{operation="process_payment",le="60"} 2
payments_operation_duration_seconds_bucket{operation="process_payment",le="+Inf"} 2
payments_operation_duration_seconds_sum{operation="process_payment"} 2.3
payments_operation_duration_seconds_count{operation="process_payment"} 2
`
	require.NoError(t, testutil.CollectAndCompare(m.latency, strings.NewReader(expected)))
}

func TestPrometheus_BreakerGauge(t *testing.T) {
	m := NewPrometheus()
	b, err := breaker.New("stripe", breaker.Config{
		RequestTimeout:     time.Second,
		ErrorRateThreshold: 0.5,
		Window:             time.Minute,
		MinRequests:        1,
		CoolDown:           time.Minute,
		HalfOpenTrials:     1,
	}, breaker.WithStateListener(m.BreakerListener))
	require.NoError(t, err)

	done, err := b.Allow()
	require.NoError(t, err)
	done(breaker.Failure)

	assert.Equal(t, float64(breaker.StateOpen), testutil.ToFloat64(m.breaker.WithLabelValues("stripe")))
}

func TestPrometheus_Handler(t *testing.T) {
	m := NewPrometheus()
	m.IncOperation("create_payment", "", "PENDING", "tenant-acme")
	m.IncReconciled("resolved")

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	body, err := io.ReadAll(rec.Body)
	require.NoError(t, err)

	assert.Contains(t, string(body), `payments_operations_total{operation="create_payment",status="PENDING",tenant="tenant-acme",tx_type=""} 1`)
	assert.Contains(t, string(body), `payments_reconciled_transactions_total{result="resolved"} 1`)
	assert.Contains(t, string(body), "go_goroutines")
}
