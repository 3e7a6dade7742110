package db

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"time"

	"github.com/brojonat/pathos/service/metrics"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"
)

//go:embed schema.sql
var schema string

// ErrNotFound is returned when a lookup matches no rows.
var ErrNotFound = errors.New("not found")

// Store provides database operations for the service.
type Store struct {
	pool    *pgxpool.Pool
	metrics *metrics.Metrics
}

// NewStore creates a new Store with the given database connection pool.
// If metrics is nil, no metrics will be recorded.
func NewStore(pool *pgxpool.Pool, m *metrics.Metrics) *Store {
	return &Store{
		pool:    pool,
		metrics: m,
	}
}

// Migrate creates the tables if they don't exist.
func (s *Store) Migrate(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, schema); err != nil {
		return fmt.Errorf("failed to apply schema: %w", err)
	}
	return nil
}

// Ping verifies the database connection.
func (s *Store) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// Receipt is a confirmed transfer as stored in the database.
type Receipt struct {
	Signature         string    `json:"signature"`
	SessionID         uuid.UUID `json:"session_id"`
	FromAddress       string    `json:"from_address"`
	ToAddress         string    `json:"to_address"`
	FeeCollector      *string   `json:"fee_collector"` // nil when no fee was charged
	TotalLamports     int64     `json:"total_lamports"`
	RecipientLamports int64     `json:"recipient_lamports"`
	FeeLamports       int64     `json:"fee_lamports"`
	FeePercentage     float64   `json:"fee_percentage"`
	Network           string    `json:"network"`
	ConfirmedAt       time.Time `json:"confirmed_at"`
}

// CreateReceiptParams contains the parameters for storing a receipt.
type CreateReceiptParams struct {
	Signature         string
	SessionID         uuid.UUID
	FromAddress       string
	ToAddress         string
	FeeCollector      *string
	TotalLamports     int64
	RecipientLamports int64
	FeeLamports       int64
	FeePercentage     float64
	Network           string
}

// Message is one transcript entry.
type Message struct {
	ID        uuid.UUID `json:"id"`
	SessionID uuid.UUID `json:"session_id"`
	Role      string    `json:"role"`
	Content   string    `json:"content"`
	Action    *string   `json:"action"` // action name dispatched for this turn, if any
	CreatedAt time.Time `json:"created_at"`
}

// CreateMessageParams contains the parameters for appending a transcript entry.
type CreateMessageParams struct {
	ID        uuid.UUID
	SessionID uuid.UUID
	Role      string
	Content   string
	Action    *string
	CreatedAt time.Time
}

const receiptColumns = `signature, session_id::text, from_address, to_address, fee_collector,
	total_lamports, recipient_lamports, fee_lamports, fee_percentage, network, confirmed_at`

// CreateReceipt inserts a transfer receipt.
func (s *Store) CreateReceipt(ctx context.Context, params CreateReceiptParams) (*Receipt, error) {
	start := time.Now()
	row := s.pool.QueryRow(ctx, `
		INSERT INTO transfer_receipts (
			signature, session_id, from_address, to_address, fee_collector,
			total_lamports, recipient_lamports, fee_lamports, fee_percentage, network
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		RETURNING `+receiptColumns,
		params.Signature,
		params.SessionID.String(),
		params.FromAddress,
		params.ToAddress,
		pgtextFromStringPtr(params.FeeCollector),
		params.TotalLamports,
		params.RecipientLamports,
		params.FeeLamports,
		params.FeePercentage,
		params.Network,
	)
	receipt, err := scanReceipt(row)
	s.record("insert", "transfer_receipts", start, err)
	if err != nil {
		return nil, fmt.Errorf("failed to create receipt: %w", err)
	}
	return receipt, nil
}

// GetReceipt retrieves a receipt by transaction signature.
func (s *Store) GetReceipt(ctx context.Context, signature string) (*Receipt, error) {
	start := time.Now()
	row := s.pool.QueryRow(ctx,
		`SELECT `+receiptColumns+` FROM transfer_receipts WHERE signature = $1`,
		signature,
	)
	receipt, err := scanReceipt(row)
	if errors.Is(err, pgx.ErrNoRows) {
		s.record("select", "transfer_receipts", start, nil)
		return nil, fmt.Errorf("receipt %s: %w", signature, ErrNotFound)
	}
	s.record("select", "transfer_receipts", start, err)
	if err != nil {
		return nil, fmt.Errorf("failed to get receipt: %w", err)
	}
	return receipt, nil
}

// ListReceiptsByWallet returns receipts sent from address, most recent first.
func (s *Store) ListReceiptsByWallet(ctx context.Context, address string, limit int32) ([]*Receipt, error) {
	start := time.Now()
	rows, err := s.pool.Query(ctx,
		`SELECT `+receiptColumns+` FROM transfer_receipts
		WHERE from_address = $1
		ORDER BY confirmed_at DESC
		LIMIT $2`,
		address, limit,
	)
	if err != nil {
		s.record("select", "transfer_receipts", start, err)
		return nil, fmt.Errorf("failed to list receipts: %w", err)
	}
	defer rows.Close()

	receipts := make([]*Receipt, 0)
	for rows.Next() {
		receipt, err := scanReceipt(rows)
		if err != nil {
			s.record("select", "transfer_receipts", start, err)
			return nil, fmt.Errorf("failed to scan receipt: %w", err)
		}
		receipts = append(receipts, receipt)
	}
	err = rows.Err()
	s.record("select", "transfer_receipts", start, err)
	if err != nil {
		return nil, fmt.Errorf("failed to list receipts: %w", err)
	}
	return receipts, nil
}

// CreateMessage appends a transcript entry. A zero ID or CreatedAt is
// filled in.
func (s *Store) CreateMessage(ctx context.Context, params CreateMessageParams) (*Message, error) {
	if params.ID == uuid.Nil {
		params.ID = uuid.New()
	}
	if params.CreatedAt.IsZero() {
		params.CreatedAt = time.Now()
	}

	start := time.Now()
	row := s.pool.QueryRow(ctx, `
		INSERT INTO transcript_messages (id, session_id, role, content, action, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING id::text, session_id::text, role, content, action, created_at`,
		params.ID.String(),
		params.SessionID.String(),
		params.Role,
		params.Content,
		pgtextFromStringPtr(params.Action),
		pgtype.Timestamptz{Time: params.CreatedAt, Valid: true},
	)
	msg, err := scanMessage(row)
	s.record("insert", "transcript_messages", start, err)
	if err != nil {
		return nil, fmt.Errorf("failed to create message: %w", err)
	}
	return msg, nil
}

// ListMessages returns a session's transcript in order.
func (s *Store) ListMessages(ctx context.Context, sessionID uuid.UUID) ([]*Message, error) {
	start := time.Now()
	rows, err := s.pool.Query(ctx, `
		SELECT id::text, session_id::text, role, content, action, created_at
		FROM transcript_messages
		WHERE session_id = $1
		ORDER BY created_at, id`,
		sessionID.String(),
	)
	if err != nil {
		s.record("select", "transcript_messages", start, err)
		return nil, fmt.Errorf("failed to list messages: %w", err)
	}
	defer rows.Close()

	messages := make([]*Message, 0)
	for rows.Next() {
		msg, err := scanMessage(rows)
		if err != nil {
			s.record("select", "transcript_messages", start, err)
			return nil, fmt.Errorf("failed to scan message: %w", err)
		}
		messages = append(messages, msg)
	}
	err = rows.Err()
	s.record("select", "transcript_messages", start, err)
	if err != nil {
		return nil, fmt.Errorf("failed to list messages: %w", err)
	}
	return messages, nil
}

// ListSessions returns the most recently active session ids.
func (s *Store) ListSessions(ctx context.Context, limit int32) ([]uuid.UUID, error) {
	start := time.Now()
	rows, err := s.pool.Query(ctx, `
		SELECT session_id::text
		FROM transcript_messages
		GROUP BY session_id
		ORDER BY MAX(created_at) DESC
		LIMIT $1`,
		limit,
	)
	if err != nil {
		s.record("select", "transcript_messages", start, err)
		return nil, fmt.Errorf("failed to list sessions: %w", err)
	}
	defer rows.Close()

	ids := make([]uuid.UUID, 0)
	for rows.Next() {
		var raw string
		if err := rows.Scan(&raw); err != nil {
			return nil, fmt.Errorf("failed to scan session id: %w", err)
		}
		id, err := uuid.Parse(raw)
		if err != nil {
			return nil, fmt.Errorf("invalid session id %q: %w", raw, err)
		}
		ids = append(ids, id)
	}
	err = rows.Err()
	s.record("select", "transcript_messages", start, err)
	if err != nil {
		return nil, fmt.Errorf("failed to list sessions: %w", err)
	}
	return ids, nil
}

func (s *Store) record(operation, table string, start time.Time, err error) {
	if s.metrics != nil {
		s.metrics.RecordDBQuery(operation, table, time.Since(start).Seconds(), err)
	}
}

// Helper functions to convert between pgx types and domain types

func scanReceipt(row pgx.Row) (*Receipt, error) {
	var (
		r            Receipt
		sessionID    string
		feeCollector pgtype.Text
		confirmedAt  pgtype.Timestamptz
	)
	err := row.Scan(
		&r.Signature,
		&sessionID,
		&r.FromAddress,
		&r.ToAddress,
		&feeCollector,
		&r.TotalLamports,
		&r.RecipientLamports,
		&r.FeeLamports,
		&r.FeePercentage,
		&r.Network,
		&confirmedAt,
	)
	if err != nil {
		return nil, err
	}
	if r.SessionID, err = uuid.Parse(sessionID); err != nil {
		return nil, fmt.Errorf("invalid session id %q: %w", sessionID, err)
	}
	r.FeeCollector = stringPtrFromPgtext(feeCollector)
	r.ConfirmedAt = confirmedAt.Time
	return &r, nil
}

func scanMessage(row pgx.Row) (*Message, error) {
	var (
		m         Message
		id        string
		sessionID string
		action    pgtype.Text
		createdAt pgtype.Timestamptz
	)
	if err := row.Scan(&id, &sessionID, &m.Role, &m.Content, &action, &createdAt); err != nil {
		return nil, err
	}
	var err error
	if m.ID, err = uuid.Parse(id); err != nil {
		return nil, fmt.Errorf("invalid message id %q: %w", id, err)
	}
	if m.SessionID, err = uuid.Parse(sessionID); err != nil {
		return nil, fmt.Errorf("invalid session id %q: %w", sessionID, err)
	}
	m.Action = stringPtrFromPgtext(action)
	m.CreatedAt = createdAt.Time
	return &m, nil
}

func pgtextFromStringPtr(s *string) pgtype.Text {
	if s == nil {
		return pgtype.Text{Valid: false}
	}
	return pgtype.Text{String: *s, Valid: true}
}

func stringPtrFromPgtext(t pgtype.Text) *string {
	if !t.Valid {
		return nil
	}
	return &t.String
}
