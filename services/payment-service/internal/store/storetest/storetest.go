// Package storetest is the behavioural contract every payment.Store must satisfy.
package storetest

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Kushmakov/rental-marketplace-iubv3k-sub004/services/payment-service/internal/payment"
)

// Factory returns an empty store whose ListStuckTransactions uses now.
type Factory func(t *testing.T, now func() time.Time) payment.Store

var t0 = time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)

func Run(t *testing.T, newStore Factory) {
	t.Run("payment round trip", func(t *testing.T) { testPaymentRoundTrip(t, newStore) })
	t.Run("payment version check", func(t *testing.T) { testPaymentVersion(t, newStore) })
	t.Run("begin transaction", func(t *testing.T) { testBeginTransaction(t, newStore) })
	t.Run("save outcome is atomic", func(t *testing.T) { testSaveOutcome(t, newStore) })
	t.Run("transaction lookups", func(t *testing.T) { testTransactionLookups(t, newStore) })
	t.Run("stuck transactions", func(t *testing.T) { testStuckTransactions(t, newStore) })
}

func fixedClock() func() time.Time { return func() time.Time { return t0.Add(time.Hour) } }

func newPayment() *payment.Payment {
	return &payment.Payment{
		ID:                   uuid.New(),
		TenantID:             "tenant-acme",
		PropertyID:           "prop-17",
		UnitID:               "4B",
		PayerID:              "payer-42",
		Kind:                 payment.KindRent,
		Amount:               payment.Money{Amount: 240000, Currency: "USD"},
		Frequency:            payment.FrequencyRecurring,
		DueDate:              time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC),
		Status:               payment.StatusPending,
		ProcessorCustomerRef: "cus_1",
		Metadata:             map[string]string{"lease_id": "L-2024-7"},
		CreatedAt:            t0,
		UpdatedAt:            t0,
	}
}

// begin claims p for a new PENDING capture record.
func begin(t *testing.T, s payment.Store, p *payment.Payment, at time.Time) *payment.TransactionRecord {
	t.Helper()
	tx := payment.NewTransactionRecord(p.ID, payment.TxCapture, p.Amount, 3, at, payment.ActorOrchestrator)
	require.NoError(t, p.Claim(tx.ID, at))
	require.NoError(t, s.BeginTransaction(context.Background(), p, p.Version, tx))
	return tx
}

func testPaymentRoundTrip(t *testing.T, newStore Factory) {
	ctx := context.Background()
	s := newStore(t, fixedClock())
	p := newPayment()
	require.NoError(t, s.CreatePayment(ctx, p))
	assert.Equal(t, int64(1), p.Version)

	got, err := s.GetPayment(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, p, got)

	_, err = s.GetPayment(ctx, uuid.New())
	assert.ErrorIs(t, err, payment.ErrPaymentNotFound)
	assert.Error(t, s.CreatePayment(ctx, p), "duplicate id")
}

func testPaymentVersion(t *testing.T, newStore Factory) {
	ctx := context.Background()
	s := newStore(t, fixedClock())
	p := newPayment()
	require.NoError(t, s.CreatePayment(ctx, p))

	p.Status = payment.StatusCaptured
	p.CapturedAmount = p.Amount.Amount
	p.UpdatedAt = t0.Add(time.Minute)
	require.NoError(t, s.SavePayment(ctx, p, 1))
	assert.Equal(t, int64(2), p.Version)

	stale := p.Clone()
	stale.Status = payment.StatusFailed
	err := s.SavePayment(ctx, stale, 1)
	require.ErrorIs(t, err, payment.ErrVersionConflict)

	got, err := s.GetPayment(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, payment.StatusCaptured, got.Status)
	assert.Equal(t, int64(2), got.Version)

	missing := newPayment()
	assert.ErrorIs(t, s.SavePayment(ctx, missing, 1), payment.ErrPaymentNotFound)
}

func testBeginTransaction(t *testing.T, newStore Factory) {
	ctx := context.Background()
	s := newStore(t, fixedClock())
	p := newPayment()
	require.NoError(t, s.CreatePayment(ctx, p))

	tx := begin(t, s, p, t0)
	assert.Equal(t, int64(2), p.Version)
	assert.Equal(t, int64(1), tx.Version)

	got, err := s.GetTransaction(ctx, tx.ID)
	require.NoError(t, err)
	assert.Equal(t, tx, got)
	stored, err := s.GetPayment(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, tx.ID, stored.InFlightTransactionID)

	// A concurrent loser holding version 1 writes nothing.
	loser := newPayment()
	loser.ID = p.ID
	loserTx := payment.NewTransactionRecord(p.ID, payment.TxCapture, p.Amount, 3, t0, payment.ActorOrchestrator)
	require.NoError(t, loser.Claim(loserTx.ID, t0))
	err = s.BeginTransaction(ctx, loser, 1, loserTx)
	require.ErrorIs(t, err, payment.ErrVersionConflict)
	_, err = s.GetTransaction(ctx, loserTx.ID)
	assert.ErrorIs(t, err, payment.ErrTransactionNotFound)
}

func testSaveOutcome(t *testing.T, newStore Factory) {
	ctx := context.Background()
	s := newStore(t, fixedClock())
	p := newPayment()
	require.NoError(t, s.CreatePayment(ctx, p))
	tx := begin(t, s, p, t0)

	now := t0.Add(time.Second)
	require.NoError(t, tx.StartProcessing(now, payment.ActorOrchestrator))
	require.NoError(t, s.SaveTransaction(ctx, tx, 1))

	// Stale record version: the aggregate must not be written either.
	p2, tx2 := p.Clone(), tx.Clone()
	require.NoError(t, p2.MarkCaptured(p2.Amount.Amount, now))
	require.NoError(t, tx2.Complete("pi_1", now, payment.ActorOrchestrator))
	err := s.SaveOutcome(ctx, p2, p.Version, tx2, 1)
	require.ErrorIs(t, err, payment.ErrVersionConflict)
	got, err := s.GetPayment(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, payment.StatusPending, got.Status)

	require.NoError(t, s.SaveOutcome(ctx, p2, p.Version, tx2, tx.Version))
	got, err = s.GetPayment(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, payment.StatusCaptured, got.Status)
	gotTx, err := s.GetTransaction(ctx, tx.ID)
	require.NoError(t, err)
	assert.Equal(t, payment.TxCompleted, gotTx.Status)
	assert.Equal(t, "pi_1", gotTx.ExternalRef)
	assert.Len(t, gotTx.AuditLog, 3)
	require.Len(t, gotTx.RetryHistory, 1)
	assert.Equal(t, payment.OutcomeSuccess, gotTx.RetryHistory[0].Outcome)
}

func testTransactionLookups(t *testing.T, newStore Factory) {
	ctx := context.Background()
	s := newStore(t, fixedClock())
	p := newPayment()
	require.NoError(t, s.CreatePayment(ctx, p))

	first := begin(t, s, p, t0)
	require.NoError(t, first.StartProcessing(t0, payment.ActorOrchestrator))
	require.NoError(t, first.Fail(payment.CodeCardDeclined, "declined", false, t0, payment.ActorOrchestrator))
	p.Release(first.ID, t0)
	require.NoError(t, s.SaveOutcome(ctx, p, p.Version, first, first.Version))

	second := begin(t, s, p, t0)
	require.NoError(t, second.StartProcessing(t0, payment.ActorOrchestrator))
	require.NoError(t, second.Complete("pi_second", t0, payment.ActorOrchestrator))
	require.NoError(t, s.SaveTransaction(ctx, second, second.Version))

	byRef, err := s.GetTransactionByExternalRef(ctx, "pi_second")
	require.NoError(t, err)
	assert.Equal(t, second.ID, byRef.ID)
	_, err = s.GetTransactionByExternalRef(ctx, "pi_unknown")
	assert.ErrorIs(t, err, payment.ErrTransactionNotFound)

	list, err := s.ListTransactions(ctx, p.ID)
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, first.ID, list[0].ID, "insertion order")
	assert.Equal(t, second.ID, list[1].ID)

	assert.ErrorIs(t, s.SaveTransaction(ctx, payment.NewTransactionRecord(p.ID, payment.TxRefund, p.Amount, 3, t0, payment.ActorOrchestrator), 1),
		payment.ErrTransactionNotFound)
}

func testStuckTransactions(t *testing.T, newStore Factory) {
	ctx := context.Background()
	now := t0.Add(time.Hour)
	s := newStore(t, func() time.Time { return now })

	mk := func(updated time.Time, mutate func(tx *payment.TransactionRecord)) *payment.TransactionRecord {
		p := newPayment()
		require.NoError(t, s.CreatePayment(ctx, p))
		tx := begin(t, s, p, updated)
		if mutate != nil {
			mutate(tx)
			require.NoError(t, s.SaveTransaction(ctx, tx, tx.Version))
		}
		return tx
	}
	processing := func(tx *payment.TransactionRecord) {
		require.NoError(t, tx.StartProcessing(tx.UpdatedAt, payment.ActorOrchestrator))
	}

	oldest := mk(t0, processing)
	older := mk(t0.Add(10*time.Minute), nil)
	retryable := mk(t0.Add(20*time.Minute), func(tx *payment.TransactionRecord) {
		processing(tx)
		require.NoError(t, tx.Fail(payment.CodeTimeout, "timeout", true, tx.UpdatedAt, payment.ActorOrchestrator))
	})
	mk(t0, func(tx *payment.TransactionRecord) { // terminal
		processing(tx)
		require.NoError(t, tx.Fail(payment.CodeCardDeclined, "declined", false, tx.UpdatedAt, payment.ActorOrchestrator))
	})
	mk(t0, func(tx *payment.TransactionRecord) { // completed
		processing(tx)
		require.NoError(t, tx.Complete("pi_done", tx.UpdatedAt, payment.ActorOrchestrator))
	})
	mk(now.Add(-time.Minute), processing) // inside the grace period

	stuck, err := s.ListStuckTransactions(ctx, 5*time.Minute, 10)
	require.NoError(t, err)
	var ids []uuid.UUID
	for _, tx := range stuck {
		ids = append(ids, tx.ID)
	}
	assert.Equal(t, []uuid.UUID{oldest.ID, older.ID, retryable.ID}, ids)

	limited, err := s.ListStuckTransactions(ctx, 5*time.Minute, 2)
	require.NoError(t, err)
	assert.Len(t, limited, 2)
}
