// services/payment-service/internal/payment/view.payment.go
package payment

import (
	"time"

	"github.com/google/uuid"
)

// PaymentView is the caller-facing representation of a Payment Aggregate.
// Processor-side references (customer, charge, refund ids) are omitted.
type PaymentView struct {
	ID               uuid.UUID         `json:"id"`
	TenantID         string            `json:"tenant_id"`
	PropertyID       string            `json:"property_id"`
	UnitID           string            `json:"unit_id,omitempty"`
	PayerID          string            `json:"payer_id"`
	Kind             Kind              `json:"kind"`
	Amount           Money             `json:"amount"`
	AmountDisplay    string            `json:"amount_display"`
	Frequency        Frequency         `json:"frequency"`
	DueDate          time.Time         `json:"due_date"`
	Status           Status            `json:"status"`
	CapturedAmount   int64             `json:"captured_amount"`
	RefundedAmount   int64             `json:"refunded_amount"`
	RefundableAmount int64             `json:"refundable_amount"`
	Metadata         map[string]string `json:"metadata,omitempty"`
	ArchivedAt       *time.Time        `json:"archived_at,omitempty"`
	CreatedAt        time.Time         `json:"created_at"`
	UpdatedAt        time.Time         `json:"updated_at"`
	Transactions     []TransactionView `json:"transactions,omitempty"`
}

type TransactionView struct {
	ID           uuid.UUID         `json:"id"`
	ParentID     *uuid.UUID        `json:"parent_id,omitempty"`
	Type         TransactionType   `json:"type"`
	Status       TransactionStatus `json:"status"`
	Amount       Money             `json:"amount"`
	ErrorCode    string            `json:"error_code,omitempty"`
	ErrorMessage string            `json:"error_message,omitempty"`
	RetryCount   int               `json:"retry_count"`
	MaxRetries   int               `json:"max_retries"`
	RetryHistory []RetryEntry      `json:"retry_history"`
	AuditLog     []AuditEntry      `json:"audit_log"`
	LastRetryAt  *time.Time        `json:"last_retry_at,omitempty"`
	CreatedAt    time.Time         `json:"created_at"`
	UpdatedAt    time.Time         `json:"updated_at"`
}

// NewPaymentView builds the view. txs may be nil.
func NewPaymentView(p *Payment, txs []*TransactionRecord) PaymentView {
	v := PaymentView{
		ID:               p.ID,
		TenantID:         p.TenantID,
		PropertyID:       p.PropertyID,
		UnitID:           p.UnitID,
		PayerID:          p.PayerID,
		Kind:             p.Kind,
		Amount:           p.Amount,
		AmountDisplay:    p.Amount.Display(),
		Frequency:        p.Frequency,
		DueDate:          p.DueDate,
		Status:           p.Status,
		CapturedAmount:   p.CapturedAmount,
		RefundedAmount:   p.RefundedAmount,
		RefundableAmount: p.RefundableAmount(),
		ArchivedAt:       p.ArchivedAt,
		CreatedAt:        p.CreatedAt,
		UpdatedAt:        p.UpdatedAt,
	}
	if len(p.Metadata) > 0 {
		v.Metadata = make(map[string]string, len(p.Metadata))
		for k, val := range p.Metadata {
			v.Metadata[k] = val
		}
	}
	for _, tx := range txs {
		v.Transactions = append(v.Transactions, NewTransactionView(tx))
	}
	return v
}

func NewTransactionView(tx *TransactionRecord) TransactionView {
	c := tx.Clone()
	v := TransactionView{
		ID:           c.ID,
		Type:         c.Type,
		Status:       c.Status,
		Amount:       c.Amount,
		ErrorCode:    c.ErrorCode,
		ErrorMessage: c.ErrorMessage,
		RetryCount:   c.RetryCount,
		MaxRetries:   c.MaxRetries,
		RetryHistory: c.RetryHistory,
		AuditLog:     c.AuditLog,
		LastRetryAt:  c.LastRetryAt,
		CreatedAt:    c.CreatedAt,
		UpdatedAt:    c.UpdatedAt,
	}
	if c.ParentID != uuid.Nil {
		parent := c.ParentID
		v.ParentID = &parent
	}
	if v.RetryHistory == nil {
		v.RetryHistory = []RetryEntry{}
	}
	if v.AuditLog == nil {
		v.AuditLog = []AuditEntry{}
	}
	return v
}
