// services/payment-service/internal/store/postgres/payment_store.postgres.go
package postgres

import (
	"context"
	"database/sql"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"github.com/Kushmakov/rental-marketplace-iubv3k-sub004/services/payment-service/internal/payment"
)

//go:embed schema.sql
var schema string

// pgUniqueViolation is the SQLSTATE for unique_violation.
const pgUniqueViolation = "23505"

// Store is the PostgreSQL payment.Store. Every update is a version-checked
// UPDATE ... WHERE version = $n, so several service instances can share one database.
type Store struct {
	db  *sql.DB
	now func() time.Time
}

var _ payment.Store = (*Store)(nil)

func NewStore(db *sql.DB) *Store {
	return &Store{db: db, now: time.Now}
}

// WithClock sets the clock used by ListStuckTransactions.
func (s *Store) WithClock(now func() time.Time) *Store {
	s.now = now
	return s
}

// Open connects with lib/pq and verifies the connection.
func Open(ctx context.Context, dsn string, maxOpenConns int) (*sql.DB, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("db: failed to open: %w", err)
	}
	if maxOpenConns > 0 {
		db.SetMaxOpenConns(maxOpenConns)
		db.SetMaxIdleConns(maxOpenConns)
	}
	db.SetConnMaxIdleTime(5 * time.Minute)
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("db: failed to connect: %w", err)
	}
	return db, nil
}

// Migrate creates the tables and indexes. It is safe to run repeatedly.
func (s *Store) Migrate(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("db: migration failed: %w", err)
	}
	return nil
}

// querier is satisfied by both *sql.DB and *sql.Tx.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// inTx runs fn in a READ COMMITTED transaction; the version predicates provide the isolation
// the service needs.
func (s *Store) inTx(ctx context.Context, fn func(q querier) error) (err error) {
	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelReadCommitted})
	if err != nil {
		return fmt.Errorf("db: failed to begin transaction: %w", err)
	}
	// Ensure rollback on panic
	defer func() {
		if p := recover(); p != nil {
			_ = tx.Rollback()
			panic(p)
		} else if err != nil {
			_ = tx.Rollback()
		}
	}()
	if err = fn(tx); err != nil {
		return err
	}
	return tx.Commit()
}

// --- Payments ---

const paymentColumns = `id, tenant_id, property_id, unit_id, payer_id, kind, amount_minor, currency, frequency,
	due_date, status, processor_customer_ref, metadata, captured_amount, refunded_amount,
	in_flight_transaction_id, version, created_at, updated_at, archived_at`

func (s *Store) CreatePayment(ctx context.Context, p *payment.Payment) error {
	metadata, err := marshalJSON(p.Metadata, "{}")
	if err != nil {
		return err
	}
	query := `INSERT INTO payments (` + paymentColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, 1, $17, $18, $19)`
	_, err = s.db.ExecContext(ctx, query,
		p.ID, p.TenantID, p.PropertyID, p.UnitID, p.PayerID, p.Kind, p.Amount.Amount, p.Amount.Currency, p.Frequency,
		p.DueDate, p.Status, p.ProcessorCustomerRef, metadata, p.CapturedAmount, p.RefundedAmount,
		nullUUID(p.InFlightTransactionID), p.CreatedAt, p.UpdatedAt, p.ArchivedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("db: payment %s already exists", p.ID)
		}
		return fmt.Errorf("db: failed to create payment: %w", err)
	}
	p.Version = 1
	return nil
}

func (s *Store) GetPayment(ctx context.Context, id uuid.UUID) (*payment.Payment, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+paymentColumns+` FROM payments WHERE id = $1`, id)
	p, err := scanPayment(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, payment.ErrPaymentNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("db: failed to load payment %s: %w", id, err)
	}
	return p, nil
}

func (s *Store) SavePayment(ctx context.Context, p *payment.Payment, expectedVersion int64) error {
	if err := updatePayment(ctx, s.db, p, expectedVersion); err != nil {
		return err
	}
	p.Version = expectedVersion + 1
	return nil
}

func updatePayment(ctx context.Context, q querier, p *payment.Payment, expected int64) error {
	metadata, err := marshalJSON(p.Metadata, "{}")
	if err != nil {
		return err
	}
	query := `
		UPDATE payments
		SET status = $3,
		    processor_customer_ref = $4,
		    metadata = $5,
		    captured_amount = $6,
		    refunded_amount = $7,
		    in_flight_transaction_id = $8,
		    updated_at = $9,
		    archived_at = $10,
		    version = version + 1
		WHERE id = $1 AND version = $2`
	res, err := q.ExecContext(ctx, query, p.ID, expected,
		p.Status, p.ProcessorCustomerRef, metadata, p.CapturedAmount, p.RefundedAmount,
		nullUUID(p.InFlightTransactionID), p.UpdatedAt, p.ArchivedAt,
	)
	if err != nil {
		return fmt.Errorf("db: failed to update payment %s: %w", p.ID, err)
	}
	return checkUpdated(ctx, q, res, "payments", p.ID, expected, payment.ErrPaymentNotFound)
}

// --- Transaction Records ---

const transactionColumns = `id, payment_id, parent_id, type, status, amount_minor, currency, external_ref,
	error_code, error_message, retryable, retry_count, max_retries, retry_history, audit_log,
	last_retry_at, version, created_at, updated_at`

func (s *Store) GetTransaction(ctx context.Context, id uuid.UUID) (*payment.TransactionRecord, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+transactionColumns+` FROM payment_transactions WHERE id = $1`, id)
	tx, err := scanTransaction(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, payment.ErrTransactionNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("db: failed to load transaction %s: %w", id, err)
	}
	return tx, nil
}

// GetTransactionByExternalRef is the webhook lookup by processor id (pi_..., re_...).
func (s *Store) GetTransactionByExternalRef(ctx context.Context, ref string) (*payment.TransactionRecord, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+transactionColumns+` FROM payment_transactions WHERE external_ref = $1`, ref)
	tx, err := scanTransaction(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, payment.ErrTransactionNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("db: failed to load transaction by provider ref: %w", err)
	}
	return tx, nil
}

func (s *Store) ListTransactions(ctx context.Context, paymentID uuid.UUID) ([]*payment.TransactionRecord, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+transactionColumns+` FROM payment_transactions WHERE payment_id = $1 ORDER BY seq ASC`, paymentID)
	if err != nil {
		return nil, fmt.Errorf("db: failed to list transactions: %w", err)
	}
	return collectTransactions(rows)
}

// ListStuckTransactions fetches records the reconciler should look at, oldest first (FIFO).
func (s *Store) ListStuckTransactions(ctx context.Context, olderThan time.Duration, limit int) ([]*payment.TransactionRecord, error) {
	cutOffTime := s.now().Add(-olderThan)
	query := `
		SELECT ` + transactionColumns + `
		FROM payment_transactions
		WHERE updated_at < $1
		  AND (status IN ('PENDING', 'PROCESSING', 'RETRYING')
		       OR (status = 'FAILED' AND retryable AND retry_count < max_retries))
		ORDER BY updated_at ASC, seq ASC
		LIMIT $2`
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx, query, cutOffTime, limit)
	if err != nil {
		return nil, fmt.Errorf("db: failed to fetch stuck transactions: %w", err)
	}
	return collectTransactions(rows)
}

func (s *Store) SaveTransaction(ctx context.Context, tx *payment.TransactionRecord, expectedVersion int64) error {
	if err := updateTransaction(ctx, s.db, tx, expectedVersion); err != nil {
		return err
	}
	tx.Version = expectedVersion + 1
	return nil
}

// BeginTransaction writes the claimed aggregate and the new PENDING record atomically.
func (s *Store) BeginTransaction(ctx context.Context, p *payment.Payment, expectedVersion int64, tx *payment.TransactionRecord) error {
	err := s.inTx(ctx, func(q querier) error {
		if err := updatePayment(ctx, q, p, expectedVersion); err != nil {
			return err
		}
		return insertTransaction(ctx, q, tx)
	})
	if err != nil {
		return err
	}
	p.Version = expectedVersion + 1
	tx.Version = 1
	return nil
}

// SaveOutcome writes the aggregate and the record atomically, both version-checked.
func (s *Store) SaveOutcome(ctx context.Context, p *payment.Payment, paymentVersion int64, tx *payment.TransactionRecord, txVersion int64) error {
	err := s.inTx(ctx, func(q querier) error {
		if err := updatePayment(ctx, q, p, paymentVersion); err != nil {
			return err
		}
		return updateTransaction(ctx, q, tx, txVersion)
	})
	if err != nil {
		return err
	}
	p.Version = paymentVersion + 1
	tx.Version = txVersion + 1
	return nil
}

func insertTransaction(ctx context.Context, q querier, tx *payment.TransactionRecord) error {
	history, audit, err := marshalLists(tx)
	if err != nil {
		return err
	}
	query := `INSERT INTO payment_transactions (` + transactionColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, 1, $17, $18)`
	_, err = q.ExecContext(ctx, query,
		tx.ID, tx.PaymentID, nullUUID(tx.ParentID), tx.Type, tx.Status, tx.Amount.Amount, tx.Amount.Currency,
		nullString(tx.ExternalRef), tx.ErrorCode, tx.ErrorMessage, tx.Retryable, tx.RetryCount, tx.MaxRetries,
		history, audit, tx.LastRetryAt, tx.CreatedAt, tx.UpdatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("db: transaction %s already exists", tx.ID)
		}
		return fmt.Errorf("db: failed to create transaction: %w", err)
	}
	return nil
}

func updateTransaction(ctx context.Context, q querier, tx *payment.TransactionRecord, expected int64) error {
	history, audit, err := marshalLists(tx)
	if err != nil {
		return err
	}
	query := `
		UPDATE payment_transactions
		SET status = $3,
		    external_ref = COALESCE($4, external_ref), -- a recorded ref is never cleared
		    error_code = $5,
		    error_message = $6,
		    retryable = $7,
		    retry_count = $8,
		    retry_history = $9,
		    audit_log = $10,
		    last_retry_at = $11,
		    updated_at = $12,
		    version = version + 1
		WHERE id = $1 AND version = $2`
	res, err := q.ExecContext(ctx, query, tx.ID, expected,
		tx.Status, nullString(tx.ExternalRef), tx.ErrorCode, tx.ErrorMessage, tx.Retryable, tx.RetryCount,
		history, audit, tx.LastRetryAt, tx.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("db: failed to update transaction %s: %w", tx.ID, err)
	}
	return checkUpdated(ctx, q, res, "payment_transactions", tx.ID, expected, payment.ErrTransactionNotFound)
}

// checkUpdated turns a zero-row UPDATE into not-found or a version conflict.
func checkUpdated(ctx context.Context, q querier, res sql.Result, table string, id uuid.UUID, expected int64, notFound error) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("db: failed to read affected rows: %w", err)
	}
	if n == 1 {
		return nil
	}
	var current int64
	err = q.QueryRowContext(ctx, `SELECT version FROM `+table+` WHERE id = $1`, id).Scan(&current)
	if errors.Is(err, sql.ErrNoRows) {
		return notFound
	}
	if err != nil {
		return fmt.Errorf("db: failed to read version of %s: %w", id, err)
	}
	return fmt.Errorf("%w: %s %s is at version %d, expected %d", payment.ErrVersionConflict, table, id, current, expected)
}

// --- Scanning ---

type scanner interface {
	Scan(dest ...any) error
}

func scanPayment(row scanner) (*payment.Payment, error) {
	var (
		p        payment.Payment
		metadata []byte
		inFlight uuid.NullUUID
		archived sql.NullTime
	)
	err := row.Scan(
		&p.ID, &p.TenantID, &p.PropertyID, &p.UnitID, &p.PayerID, &p.Kind, &p.Amount.Amount, &p.Amount.Currency, &p.Frequency,
		&p.DueDate, &p.Status, &p.ProcessorCustomerRef, &metadata, &p.CapturedAmount, &p.RefundedAmount,
		&inFlight, &p.Version, &p.CreatedAt, &p.UpdatedAt, &archived,
	)
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal(metadata, &p.Metadata); err != nil {
		return nil, fmt.Errorf("corrupt metadata: %w", err)
	}
	if len(p.Metadata) == 0 {
		p.Metadata = nil
	}
	if inFlight.Valid {
		p.InFlightTransactionID = inFlight.UUID
	}
	if archived.Valid {
		at := archived.Time.UTC()
		p.ArchivedAt = &at
	}
	p.DueDate, p.CreatedAt, p.UpdatedAt = p.DueDate.UTC(), p.CreatedAt.UTC(), p.UpdatedAt.UTC()
	return &p, nil
}

func scanTransaction(row scanner) (*payment.TransactionRecord, error) {
	var (
		tx             payment.TransactionRecord
		parent         uuid.NullUUID
		externalRef    sql.NullString
		history, audit []byte
		lastRetry      sql.NullTime
	)
	err := row.Scan(
		&tx.ID, &tx.PaymentID, &parent, &tx.Type, &tx.Status, &tx.Amount.Amount, &tx.Amount.Currency, &externalRef,
		&tx.ErrorCode, &tx.ErrorMessage, &tx.Retryable, &tx.RetryCount, &tx.MaxRetries, &history, &audit,
		&lastRetry, &tx.Version, &tx.CreatedAt, &tx.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	if parent.Valid {
		tx.ParentID = parent.UUID
	}
	tx.ExternalRef = externalRef.String
	if err := json.Unmarshal(history, &tx.RetryHistory); err != nil {
		return nil, fmt.Errorf("corrupt retry history: %w", err)
	}
	if err := json.Unmarshal(audit, &tx.AuditLog); err != nil {
		return nil, fmt.Errorf("corrupt audit log: %w", err)
	}
	if len(tx.RetryHistory) == 0 {
		tx.RetryHistory = nil
	}
	if lastRetry.Valid {
		at := lastRetry.Time.UTC()
		tx.LastRetryAt = &at
	}
	tx.CreatedAt, tx.UpdatedAt = tx.CreatedAt.UTC(), tx.UpdatedAt.UTC()
	return &tx, nil
}

func collectTransactions(rows *sql.Rows) ([]*payment.TransactionRecord, error) {
	defer rows.Close()
	var out []*payment.TransactionRecord
	for rows.Next() {
		tx, err := scanTransaction(rows)
		if err != nil {
			return nil, fmt.Errorf("db: failed to scan transaction: %w", err)
		}
		out = append(out, tx)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("db: failed to iterate transactions: %w", err)
	}
	return out, nil
}

// --- Helpers ---

func marshalLists(tx *payment.TransactionRecord) (history, audit string, err error) {
	if history, err = marshalJSON(tx.RetryHistory, "[]"); err != nil {
		return "", "", err
	}
	if audit, err = marshalJSON(tx.AuditLog, "[]"); err != nil {
		return "", "", err
	}
	return history, audit, nil
}

// marshalJSON encodes v as text (lib/pq sends []byte as bytea), using empty for nil slices and
// maps so JSONB columns are never null.
func marshalJSON(v any, empty string) (string, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return "", fmt.Errorf("db: failed to encode json column: %w", err)
	}
	if string(b) == "null" {
		return empty, nil
	}
	return string(b), nil
}

func nullUUID(id uuid.UUID) uuid.NullUUID {
	return uuid.NullUUID{UUID: id, Valid: id != uuid.Nil}
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == pgUniqueViolation
}
