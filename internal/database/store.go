package database

import (
	"context"
	"database/sql"
	"errors"
	"strconv"
	"strings"
	"time"

	"pricealerts/internal/metrics"
	"pricealerts/internal/models"

	"github.com/lib/pq"
	"go.uber.org/zap"
)

const pingTimeout = 5 * time.Second

// NewAlert carries the caller-supplied fields of an alert insert.
// An empty Status defaults to models.StatusCreated.
type NewAlert struct {
	OwnerID     string
	TargetPrice float64
	Status      string
}

// QueryParams selects one page of an owner's alerts.
// An empty Status matches every status.
type QueryParams struct {
	OwnerID string
	Status  string
	Page    int
	PerPage int
}

func (n *NewAlert) validate() error {
	if n.OwnerID == "" {
		return models.NewValidationError("owner is required")
	}
	if err := models.ValidateTargetPrice(n.TargetPrice); err != nil {
		return err
	}
	if n.Status == "" {
		n.Status = models.StatusCreated
	}
	return models.ValidateStatus(n.Status)
}

func (p QueryParams) validate() error {
	if p.OwnerID == "" {
		return models.NewValidationError("owner is required")
	}
	if p.Page < 1 {
		return models.NewValidationError("page must be at least 1")
	}
	if p.PerPage < 1 {
		return models.NewValidationError("per_page must be at least 1")
	}
	return nil
}

// outOfRange reports whether the requested page starts past the last row.
func (p QueryParams) outOfRange(total int) bool {
	return p.Page-1 >= models.TotalPages(total, p.PerPage)
}

// PostgresStore persists alerts in PostgreSQL.
type PostgresStore struct {
	db  *sql.DB
	log *zap.Logger
}

// NewPostgresStore creates a store over an open pool.
func NewPostgresStore(db *sql.DB, log *zap.Logger) *PostgresStore {
	return &PostgresStore{db: db, log: log}
}

// Create inserts an alert inside a transaction that holds the owner's
// advisory lock, so concurrent writes for one owner are serialized.
func (s *PostgresStore) Create(ctx context.Context, in NewAlert) (alert *models.Alert, err error) {
	if err := in.validate(); err != nil {
		return nil, err
	}
	defer observe("create", time.Now(), &err)

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, s.classify("create", err, zap.String("owner_id", in.OwnerID))
	}
	defer func() { _ = tx.Rollback() }()

	if err := lockOwner(ctx, tx, in.OwnerID); err != nil {
		return nil, s.classify("create", err, zap.String("owner_id", in.OwnerID))
	}

	query := `
		INSERT INTO alerts (owner_id, target_price, status)
		VALUES ($1, $2, $3)
		RETURNING id, created_at
	`

	alert = &models.Alert{
		OwnerID:     in.OwnerID,
		TargetPrice: in.TargetPrice,
		Status:      in.Status,
	}
	if err := tx.QueryRowContext(ctx, query, in.OwnerID, in.TargetPrice, in.Status).Scan(&alert.ID, &alert.CreatedAt); err != nil {
		return nil, s.classify("create", err, zap.String("owner_id", in.OwnerID))
	}

	if err := tx.Commit(); err != nil {
		return nil, s.classify("create", err, zap.Int64("alert_id", alert.ID))
	}

	metrics.RecordAlertWritten("create")
	return alert, nil
}

// Delete removes the alert only when it belongs to ownerID. It reports
// whether a row was removed; absence is not an error.
func (s *PostgresStore) Delete(ctx context.Context, id int64, ownerID string) (deleted bool, err error) {
	defer observe("delete", time.Now(), &err)

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return false, s.classify("delete", err, zap.Int64("alert_id", id))
	}
	defer func() { _ = tx.Rollback() }()

	if err := lockOwner(ctx, tx, ownerID); err != nil {
		return false, s.classify("delete", err, zap.Int64("alert_id", id))
	}

	result, err := tx.ExecContext(ctx, `DELETE FROM alerts WHERE id = $1 AND owner_id = $2`, id, ownerID)
	if err != nil {
		return false, s.classify("delete", err, zap.Int64("alert_id", id))
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return false, s.classify("delete", err, zap.Int64("alert_id", id))
	}

	if err := tx.Commit(); err != nil {
		return false, s.classify("delete", err, zap.Int64("alert_id", id))
	}

	if rowsAffected == 0 {
		return false, nil
	}
	metrics.RecordAlertWritten("delete")
	return true, nil
}

// GetByID retrieves an alert owned by ownerID.
func (s *PostgresStore) GetByID(ctx context.Context, id int64, ownerID string) (alert *models.Alert, err error) {
	defer observe("get", time.Now(), &err)

	query := `
		SELECT id, owner_id, target_price, status, created_at
		FROM alerts
		WHERE id = $1 AND owner_id = $2
	`

	alert = &models.Alert{}
	err = s.db.QueryRowContext(ctx, query, id, ownerID).Scan(
		&alert.ID,
		&alert.OwnerID,
		&alert.TargetPrice,
		&alert.Status,
		&alert.CreatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, models.ErrNotFound
	}
	if err != nil {
		return nil, s.classify("get", err, zap.Int64("alert_id", id))
	}
	return alert, nil
}

// Query returns one page of the owner's alerts in ascending id order along
// with the number of matching rows. Count and page are read from the same
// snapshot.
func (s *PostgresStore) Query(ctx context.Context, p QueryParams) (alerts []*models.Alert, total int, err error) {
	if err := p.validate(); err != nil {
		return nil, 0, err
	}
	defer observe("query", time.Now(), &err)

	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelRepeatableRead, ReadOnly: true})
	if err != nil {
		return nil, 0, s.classify("query", err, zap.String("owner_id", p.OwnerID))
	}
	defer func() { _ = tx.Rollback() }()

	where, args := filterClause(p)

	if err := tx.QueryRowContext(ctx, `SELECT COUNT(*) FROM alerts WHERE `+where, args...).Scan(&total); err != nil {
		return nil, 0, s.classify("query", err, zap.String("owner_id", p.OwnerID))
	}

	alerts = []*models.Alert{}
	if !p.outOfRange(total) {
		n := len(args)
		query := `
			SELECT id, owner_id, target_price, status, created_at
			FROM alerts
			WHERE ` + where + `
			ORDER BY id
			LIMIT $` + strconv.Itoa(n+1) + ` OFFSET $` + strconv.Itoa(n+2)

		args = append(args, p.PerPage, (p.Page-1)*p.PerPage)
		rows, err := tx.QueryContext(ctx, query, args...)
		if err != nil {
			return nil, 0, s.classify("query", err, zap.String("owner_id", p.OwnerID))
		}
		alerts, err = scanAlerts(rows)
		if err != nil {
			return nil, 0, s.classify("query", err, zap.String("owner_id", p.OwnerID))
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, 0, s.classify("query", err, zap.String("owner_id", p.OwnerID))
	}
	return alerts, total, nil
}

// Ping checks the database connection.
func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func lockOwner(ctx context.Context, tx *sql.Tx, ownerID string) error {
	_, err := tx.ExecContext(ctx, `SELECT pg_advisory_xact_lock(hashtext($1))`, ownerID)
	return err
}

func filterClause(p QueryParams) (string, []any) {
	clauses := []string{"owner_id = $1"}
	args := []any{p.OwnerID}
	if p.Status != "" {
		args = append(args, p.Status)
		clauses = append(clauses, "status = $"+strconv.Itoa(len(args)))
	}
	return strings.Join(clauses, " AND "), args
}

func scanAlerts(rows *sql.Rows) ([]*models.Alert, error) {
	defer rows.Close()

	alerts := []*models.Alert{}
	for rows.Next() {
		var alert models.Alert
		if err := rows.Scan(
			&alert.ID,
			&alert.OwnerID,
			&alert.TargetPrice,
			&alert.Status,
			&alert.CreatedAt,
		); err != nil {
			return nil, err
		}
		alerts = append(alerts, &alert)
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}
	return alerts, nil
}

// classify maps driver errors onto the service error taxonomy.
func (s *PostgresStore) classify(op string, err error, fields ...zap.Field) error {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		switch pqErr.Code {
		case "23503":
			return models.NewValidationError("owner is not a registered principal")
		case "23514":
			return models.NewValidationError("target_price violates table constraint")
		case "22001":
			return models.NewValidationError("value too long")
		}
	}

	s.log.Error("Alert store operation failed",
		append(fields, zap.String("operation", op), zap.Error(err))...,
	)
	return models.NewStoreUnavailableError(op, err)
}

func observe(op string, start time.Time, err *error) {
	metrics.RecordStoreOperation(op, time.Since(start).Seconds(), *err)
}
