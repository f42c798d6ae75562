// services/payment-service/internal/payment/models.payment.go
package payment

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Kind is what the money is for.
type Kind string

const (
	KindRent           Kind = "RENT"
	KindDeposit        Kind = "DEPOSIT"
	KindApplicationFee Kind = "APPLICATION_FEE"
	KindCommission     Kind = "COMMISSION"
	KindAdjustment     Kind = "ADJUSTMENT"
)

func (k Kind) Valid() bool {
	switch k {
	case KindRent, KindDeposit, KindApplicationFee, KindCommission, KindAdjustment:
		return true
	}
	return false
}

type Frequency string

const (
	FrequencyOneTime   Frequency = "ONE_TIME"
	FrequencyRecurring Frequency = "RECURRING"
)

func (f Frequency) Valid() bool {
	return f == FrequencyOneTime || f == FrequencyRecurring
}

// Status of the logical payment.
type Status string

const (
	StatusPending           Status = "PENDING"
	StatusCaptured          Status = "CAPTURED"
	StatusFailed            Status = "FAILED"
	StatusRefunded          Status = "REFUNDED"
	StatusPartiallyRefunded Status = "PARTIALLY_REFUNDED"
)

// Terminal reports whether no further processing can happen on the aggregate.
// Refunds may still follow CAPTURED and PARTIALLY_REFUNDED.
func (s Status) Terminal() bool {
	return s == StatusFailed || s == StatusRefunded
}

// Payment is the Payment Aggregate: one money obligation, e.g. March rent for unit 4B.
// It is mutated only by the PaymentService and never deleted.
type Payment struct {
	ID         uuid.UUID
	TenantID   string // marketplace account that owns the property
	PropertyID string
	UnitID     string
	PayerID    string
	Kind       Kind
	Amount     Money
	Frequency  Frequency
	DueDate    time.Time
	Status     Status

	// ProcessorCustomerRef is the processor-side customer (e.g. cus_...). Never exposed to callers.
	ProcessorCustomerRef string
	Metadata             map[string]string

	CapturedAmount int64 // minor units captured by COMPLETED capture records
	RefundedAmount int64 // minor units returned by refunds and chargebacks

	// InFlightTransactionID is set while a Transaction Record is being driven.
	// It is written atomically with the record creation, which serializes use cases per aggregate.
	InFlightTransactionID uuid.UUID

	Version    int64
	CreatedAt  time.Time
	UpdatedAt  time.Time
	ArchivedAt *time.Time
}

// Clone returns a deep copy so stores and callers never share maps.
func (p *Payment) Clone() *Payment {
	if p == nil {
		return nil
	}
	c := *p
	if p.Metadata != nil {
		c.Metadata = make(map[string]string, len(p.Metadata))
		for k, v := range p.Metadata {
			c.Metadata[k] = v
		}
	}
	if p.ArchivedAt != nil {
		at := *p.ArchivedAt
		c.ArchivedAt = &at
	}
	return &c
}

// RefundableAmount is what can still be returned to the payer.
func (p *Payment) RefundableAmount() int64 {
	return p.CapturedAmount - p.RefundedAmount
}

// HasInFlight reports whether a Transaction Record currently owns the aggregate.
func (p *Payment) HasInFlight() bool {
	return p.InFlightTransactionID != uuid.Nil
}

// Claim marks the aggregate as owned by a new Transaction Record.
func (p *Payment) Claim(txID uuid.UUID, now time.Time) error {
	if p.HasInFlight() {
		return fmt.Errorf("%w: transaction %s is already in flight", ErrInvalidState, p.InFlightTransactionID)
	}
	p.InFlightTransactionID = txID
	p.UpdatedAt = now
	return nil
}

// Release clears the in-flight claim if it belongs to txID.
func (p *Payment) Release(txID uuid.UUID, now time.Time) {
	if p.InFlightTransactionID == txID {
		p.InFlightTransactionID = uuid.Nil
		p.UpdatedAt = now
	}
}

// MarkCaptured moves PENDING -> CAPTURED.
func (p *Payment) MarkCaptured(amount int64, now time.Time) error {
	if p.Status == StatusCaptured {
		return ErrTransitionSatisfied
	}
	if p.Status != StatusPending {
		return fmt.Errorf("%w: cannot capture payment in %s", ErrInvalidState, p.Status)
	}
	p.Status = StatusCaptured
	p.CapturedAmount = amount
	p.UpdatedAt = now
	return nil
}

// MarkFailed moves PENDING -> FAILED.
func (p *Payment) MarkFailed(now time.Time) error {
	if p.Status == StatusFailed {
		return ErrTransitionSatisfied
	}
	if p.Status != StatusPending {
		return fmt.Errorf("%w: cannot fail payment in %s", ErrInvalidState, p.Status)
	}
	p.Status = StatusFailed
	p.UpdatedAt = now
	return nil
}

// ApplyRefund accumulates a refunded (or charged-back) amount and moves the aggregate to
// REFUNDED when the full captured amount is returned, PARTIALLY_REFUNDED otherwise.
// A refund requires a preceding capture.
func (p *Payment) ApplyRefund(amount int64, now time.Time) error {
	if p.Status != StatusCaptured && p.Status != StatusPartiallyRefunded {
		return fmt.Errorf("%w: cannot refund payment in %s", ErrInvalidState, p.Status)
	}
	if p.CapturedAmount <= 0 {
		return fmt.Errorf("%w: payment has no captured amount", ErrInvalidState)
	}
	if amount <= 0 || amount > p.RefundableAmount() {
		return fmt.Errorf("%w: refund %d exceeds refundable balance %d", ErrValidation, amount, p.RefundableAmount())
	}
	p.RefundedAmount += amount
	if p.RefundedAmount == p.CapturedAmount {
		p.Status = StatusRefunded
	} else {
		p.Status = StatusPartiallyRefunded
	}
	p.UpdatedAt = now
	return nil
}

// ReinstateFunds gives back money a won dispute returned. The aggregate reads CAPTURED again once
// nothing returned remains.
func (p *Payment) ReinstateFunds(amount int64, now time.Time) error {
	if p.Status != StatusRefunded && p.Status != StatusPartiallyRefunded {
		return fmt.Errorf("%w: cannot reinstate funds on payment in %s", ErrInvalidState, p.Status)
	}
	if amount <= 0 || amount > p.RefundedAmount {
		return fmt.Errorf("%w: reinstated %d exceeds returned amount %d", ErrValidation, amount, p.RefundedAmount)
	}
	p.RefundedAmount -= amount
	if p.RefundedAmount == 0 {
		p.Status = StatusCaptured
	} else {
		p.Status = StatusPartiallyRefunded
	}
	p.UpdatedAt = now
	return nil
}

// Archive flags a settled aggregate. Archived payments are retained, never deleted.
func (p *Payment) Archive(now time.Time) error {
	if p.ArchivedAt != nil {
		return ErrTransitionSatisfied
	}
	if p.Status == StatusPending || p.HasInFlight() {
		return fmt.Errorf("%w: cannot archive an unsettled payment", ErrInvalidState)
	}
	p.ArchivedAt = &now
	p.UpdatedAt = now
	return nil
}
