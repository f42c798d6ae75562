package payment

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/sebdah/goldie/v2"
	"github.com/stretchr/testify/require"
)

func TestPaymentView_Golden(t *testing.T) {
	created := time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)
	p := &Payment{
		ID:                   uuid.MustParse("6f1c2a4e-1b7d-4c2a-9d1e-2f3a4b5c6d7e"),
		TenantID:             "tenant-acme",
		PropertyID:           "prop-17",
		UnitID:               "4B",
		PayerID:              "payer-42",
		Kind:                 KindRent,
		Amount:               Money{Amount: 240000, Currency: "USD"},
		Frequency:            FrequencyRecurring,
		DueDate:              time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC),
		Status:               StatusPartiallyRefunded,
		ProcessorCustomerRef: "cus_secret",
		Metadata:             map[string]string{"lease_id": "L-2024-7"},
		CapturedAmount:       240000,
		RefundedAmount:       100000,
		CreatedAt:            created,
		UpdatedAt:            created.Add(time.Hour),
	}
	capture := &TransactionRecord{
		ID:           uuid.MustParse("0a0b0c0d-0000-4000-8000-000000000001"),
		PaymentID:    p.ID,
		Type:         TxCapture,
		Status:       TxCompleted,
		Amount:       p.Amount,
		ExternalRef:  "pi_secret",
		MaxRetries:   3,
		RetryHistory: []RetryEntry{{AttemptNumber: 1, At: created, Outcome: OutcomeSuccess}},
		AuditLog: []AuditEntry{
			{Action: ActionCreated, At: created, Actor: ActorOrchestrator, Details: map[string]string{"type": "CAPTURE"}},
			{Action: ActionCompleted, At: created, Actor: ActorOrchestrator},
		},
		CreatedAt: created,
		UpdatedAt: created,
	}
	refund := &TransactionRecord{
		ID:          uuid.MustParse("0a0b0c0d-0000-4000-8000-000000000002"),
		PaymentID:   p.ID,
		ParentID:    capture.ID,
		Type:        TxRefund,
		Status:      TxCompleted,
		Amount:      Money{Amount: 100000, Currency: "USD"},
		ExternalRef: "re_secret",
		MaxRetries:  3,
		CreatedAt:   created.Add(time.Hour),
		UpdatedAt:   created.Add(time.Hour),
	}

	raw, err := json.MarshalIndent(NewPaymentView(p, []*TransactionRecord{capture, refund}), "", "  ")
	require.NoError(t, err)

	g := goldie.New(t, goldie.WithFixtureDir("testdata"), goldie.WithNameSuffix(".golden.json"))
	g.Assert(t, "payment_view", append(raw, '\n'))
}
