// services/payment-service/internal/payment/processor.types.go
package payment

import (
	"fmt"
	"net/mail"
	"strings"
	"unicode"
)

// These structs are the data transfer objects exchanged with the Processor Adapter.

type CustomerRef string
type MethodRef string

// CustomerProfile describes the payer for customer creation.
type CustomerProfile struct {
	PayerID string
	Email   string
	Name    string
	Phone   string
}

func (c CustomerProfile) Validate() error {
	if c.PayerID == "" {
		return fmt.Errorf("%w: payer id is required", ErrValidation)
	}
	if _, err := mail.ParseAddress(c.Email); err != nil {
		return fmt.Errorf("%w: invalid payer email", ErrValidation)
	}
	return nil
}

// MethodType is the shape of a payment method.
type MethodType string

const (
	MethodCard        MethodType = "card"
	MethodBankAccount MethodType = "us_bank_account"
)

// MethodSpec is a tokenized payment method collected by the client (e.g. pm_...).
// Raw card numbers never reach this service.
type MethodSpec struct {
	Type  MethodType
	Token string
}

// Validate checks the method shape before any processor contact.
func (m MethodSpec) Validate() error {
	if m.Type != MethodCard && m.Type != MethodBankAccount {
		return fmt.Errorf("%w: unsupported type %q", ErrInvalidPaymentMethod, m.Type)
	}
	if len(m.Token) < 4 || strings.ContainsFunc(m.Token, unicode.IsSpace) {
		return fmt.Errorf("%w: malformed token", ErrInvalidPaymentMethod)
	}
	return nil
}

// ChargeRequest encapsulates all data needed for a charge.
type ChargeRequest struct {
	Amount         Money
	Customer       CustomerRef
	Method         MethodRef
	IdempotencyKey string            // derived from transaction id + attempt number
	Description    string            // appears on bank / card statements
	Metadata       map[string]string // context tags, sanitized by the adapter
}

// ChargeStatus is the processor's view of a charge.
type ChargeStatus string

const (
	ChargeSucceeded  ChargeStatus = "SUCCEEDED"
	ChargeProcessing ChargeStatus = "PROCESSING"
	ChargeFailed     ChargeStatus = "FAILED"
)

type ChargeResult struct {
	ExternalRef string
	Status      ChargeStatus
}

// RefundReason mirrors the processor's reason vocabulary.
type RefundReason string

const (
	RefundRequestedByCustomer RefundReason = "requested_by_customer"
	RefundDuplicate           RefundReason = "duplicate"
	RefundFraudulent          RefundReason = "fraudulent"
)

func (r RefundReason) Valid() bool {
	return r == RefundRequestedByCustomer || r == RefundDuplicate || r == RefundFraudulent
}

type RefundRequest struct {
	ChargeRef      string // external ref of the captured charge
	Amount         Money
	Reason         RefundReason
	IdempotencyKey string
	Metadata       map[string]string
}

type RefundResult struct {
	ExternalRef string
	Status      ChargeStatus
}

// StatusQuery identifies a transaction for reconciliation. ExternalRef may be empty when the
// process died before the processor answered; adapters then search by TransactionID metadata.
type StatusQuery struct {
	TransactionID     string
	Type              TransactionType
	ExternalRef       string
	ParentExternalRef string
}

// ProcessorStatus is the normalized answer to a StatusQuery.
type ProcessorStatus string

const (
	ProcessorSucceeded  ProcessorStatus = "SUCCEEDED"
	ProcessorProcessing ProcessorStatus = "PROCESSING"
	ProcessorFailed     ProcessorStatus = "FAILED"
	ProcessorNotFound   ProcessorStatus = "NOT_FOUND"
)

type StatusResult struct {
	ExternalRef  string
	Status       ProcessorStatus
	ErrorCode    string
	ErrorMessage string
}

// Metadata keys attached to every outbound processor call.
const (
	MetaTransactionID = "transaction_id"
	MetaPaymentID     = "payment_id"
	MetaTenantID      = "tenant_id"
	MetaKind          = "kind"
	MetaAttempt       = "attempt"
)

// SanitizeMetadata strips control characters from keys and values. Empty keys are dropped.
func SanitizeMetadata(in map[string]string) map[string]string {
	if len(in) == 0 {
		return nil
	}
	out := make(map[string]string, len(in))
	for k, v := range in {
		k = stripControl(k)
		if k == "" {
			continue
		}
		out[k] = stripControl(v)
	}
	return out
}

func stripControl(s string) string {
	return strings.Map(func(r rune) rune {
		if unicode.IsControl(r) {
			return -1
		}
		return r
	}, s)
}
