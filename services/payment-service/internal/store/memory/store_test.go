package memory_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Kushmakov/rental-marketplace-iubv3k-sub004/services/payment-service/internal/payment"
	"github.com/Kushmakov/rental-marketplace-iubv3k-sub004/services/payment-service/internal/store/memory"
	"github.com/Kushmakov/rental-marketplace-iubv3k-sub004/services/payment-service/internal/store/storetest"
)

func TestStoreContract(t *testing.T) {
	storetest.Run(t, func(t *testing.T, now func() time.Time) payment.Store {
		return memory.NewStore().WithClock(now)
	})
}

func TestStore_ReturnsCopies(t *testing.T) {
	ctx := context.Background()
	s := memory.NewStore()
	p := &payment.Payment{
		Status:   payment.StatusPending,
		Amount:   payment.Money{Amount: 100, Currency: "USD"},
		Metadata: map[string]string{"k": "v"},
	}
	require.NoError(t, s.CreatePayment(ctx, p))

	got, err := s.GetPayment(ctx, p.ID)
	require.NoError(t, err)
	got.Metadata["k"] = "changed"
	got.Status = payment.StatusFailed

	again, err := s.GetPayment(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, "v", again.Metadata["k"])
	assert.Equal(t, payment.StatusPending, again.Status)
}

func TestStore_HonoursCancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := memory.NewStore().GetPayment(ctx, [16]byte{1})
	assert.ErrorIs(t, err, context.Canceled)
}
