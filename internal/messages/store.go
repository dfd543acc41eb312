// Package messages persists ingested messages and serves filtered,
// paginated views over them. Deduplication happens in a single upsert
// statement keyed on client_message_id.
package messages

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/lib/pq"

	"msgstream/internal/constants"
	pkgerrors "msgstream/pkg/errors"
	"msgstream/pkg/metrics"
)

type Store interface {
	Upsert(ctx context.Context, msg NewMessage) (UpsertResult, error)
	Query(ctx context.Context, filter Filter, page, pageSize int) (Page, error)
}

const (
	insertQuery = `
		INSERT INTO messages (client_message_id, pubsub_message_id, data, source, attributes, publish_time)
		VALUES ($1, $2, $3, $4, $5, COALESCE($6::timestamptz, now()))
		RETURNING id, is_duplicate, delivery_count
	`

	upsertQuery = `
		INSERT INTO messages (client_message_id, pubsub_message_id, data, source, attributes, publish_time)
		VALUES ($1, $2, $3, $4, $5, COALESCE($6::timestamptz, now()))
		ON CONFLICT (client_message_id) DO UPDATE
		SET publish_time   = EXCLUDED.publish_time,
		    is_duplicate   = TRUE,
		    delivery_count = messages.delivery_count + 1
		RETURNING id, is_duplicate, delivery_count
	`

	selectColumns = `id, client_message_id, pubsub_message_id, data, source, attributes, publish_time, is_duplicate, delivery_count`
)

type PostgresStore struct {
	db      *sql.DB
	timeout time.Duration
}

func NewPostgresStore(db *sql.DB, statementTimeout time.Duration) *PostgresStore {
	if statementTimeout <= 0 {
		statementTimeout = constants.DefaultStatementTimeout
	}
	return &PostgresStore{db: db, timeout: statementTimeout}
}

// Upsert records one arrival. For a known client id the existing row keeps
// its payload and only publish_time, is_duplicate and delivery_count move.
func (s *PostgresStore) Upsert(ctx context.Context, msg NewMessage) (UpsertResult, error) {
	start := time.Now()

	if err := ValidateAttributes(msg.Attributes); err != nil {
		return UpsertResult{}, err
	}

	attrs, err := json.Marshal(nonNilAttributes(msg.Attributes))
	if err != nil {
		return UpsertResult{}, pkgerrors.ErrValidation.WithCause(err).WithMessage("attributes are not serialisable")
	}

	query := insertQuery
	var clientID interface{}
	if msg.ClientMessageID != nil && *msg.ClientMessageID != "" {
		query = upsertQuery
		clientID = *msg.ClientMessageID
	}

	var publishTime interface{}
	if !msg.PublishTime.IsZero() {
		publishTime = msg.PublishTime.UTC()
	}

	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	var res UpsertResult
	err = s.db.QueryRowContext(ctx, query,
		clientID, nullString(msg.BusMessageID), msg.Payload, nullString(msg.Source), string(attrs), publishTime,
	).Scan(&res.ID, &res.IsDuplicate, &res.DeliveryCount)
	if err != nil {
		metrics.ObserveStoreOperation("upsert", "error", time.Since(start))
		return UpsertResult{}, storageError("upsert", err)
	}

	status := "inserted"
	if res.IsDuplicate {
		status = "duplicate"
	}
	metrics.ObserveStoreOperation("upsert", status, time.Since(start))

	return res, nil
}

// Query returns one page of records newest first. The count and the page
// come from the same snapshot.
func (s *PostgresStore) Query(ctx context.Context, filter Filter, page, pageSize int) (Page, error) {
	start := time.Now()
	page, pageSize = ClampPage(page, pageSize)

	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	result, err := s.query(ctx, filter, page, pageSize)
	if err != nil {
		metrics.ObserveStoreOperation("query", "error", time.Since(start))
		return Page{}, storageError("query", err)
	}

	metrics.ObserveStoreOperation("query", "ok", time.Since(start))
	return result, nil
}

func (s *PostgresStore) query(ctx context.Context, filter Filter, page, pageSize int) (Page, error) {
	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelRepeatableRead, ReadOnly: true})
	if err != nil {
		return Page{}, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	where := buildWhere(filter)

	var total int64
	if err := tx.QueryRowContext(ctx, "SELECT COUNT(*) FROM messages"+where.sql(), where.args...).Scan(&total); err != nil {
		return Page{}, fmt.Errorf("failed to count messages: %w", err)
	}

	args := append(append([]interface{}(nil), where.args...), pageSize, (page-1)*pageSize)
	query := fmt.Sprintf("SELECT %s FROM messages%s ORDER BY publish_time DESC, id DESC LIMIT $%d OFFSET $%d",
		selectColumns, where.sql(), len(args)-1, len(args))

	rows, err := tx.QueryContext(ctx, query, args...)
	if err != nil {
		return Page{}, fmt.Errorf("failed to list messages: %w", err)
	}
	defer rows.Close()

	items := make([]Message, 0, pageSize)
	for rows.Next() {
		msg, err := scanMessage(rows)
		if err != nil {
			return Page{}, err
		}
		items = append(items, msg)
	}
	if err := rows.Err(); err != nil {
		return Page{}, fmt.Errorf("failed to read messages: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return Page{}, fmt.Errorf("failed to commit read transaction: %w", err)
	}

	return Page{Items: items, Total: total, Page: page, Limit: pageSize}, nil
}

func scanMessage(rows *sql.Rows) (Message, error) {
	var (
		msg      Message
		clientID sql.NullString
		busID    sql.NullString
		source   sql.NullString
		attrs    []byte
	)

	if err := rows.Scan(
		&msg.ID, &clientID, &busID, &msg.Payload, &source,
		&attrs, &msg.PublishTime, &msg.IsDuplicate, &msg.DeliveryCount,
	); err != nil {
		return Message{}, fmt.Errorf("failed to scan message: %w", err)
	}

	msg.ClientMessageID = stringPtr(clientID)
	msg.BusMessageID = stringPtr(busID)
	msg.Source = stringPtr(source)
	msg.PublishTime = msg.PublishTime.UTC()

	msg.Attributes = map[string]string{}
	if len(attrs) > 0 {
		if err := json.Unmarshal(attrs, &msg.Attributes); err != nil {
			return Message{}, fmt.Errorf("failed to decode attributes of message %d: %w", msg.ID, err)
		}
	}

	return msg, nil
}

func storageError(operation string, err error) error {
	appErr := pkgerrors.ErrStorage.WithCause(err).WithDetail("operation", operation)

	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return appErr.WithMessage(fmt.Sprintf("message store %s timed out", operation))
	case errors.Is(err, context.Canceled):
		return appErr.WithMessage(fmt.Sprintf("message store %s cancelled", operation)).AsFatal()
	}

	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		appErr = appErr.WithDetail("pg_code", string(pqErr.Code))
		// Integrity violations will not succeed on retry.
		if pqErr.Code.Class() == "23" {
			return appErr.WithMessage(fmt.Sprintf("message store %s rejected: %s", operation, pqErr.Message)).AsFatal()
		}
	}

	return appErr
}

func nonNilAttributes(attrs map[string]string) map[string]string {
	if attrs == nil {
		return map[string]string{}
	}
	return attrs
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func stringPtr(ns sql.NullString) *string {
	if !ns.Valid {
		return nil
	}
	s := ns.String
	return &s
}
