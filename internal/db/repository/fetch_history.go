package repository

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"apitables/internal/domain"
)

var _ domain.FetchHistoryRepository = (*FetchHistoryRepo)(nil)

const fetchColumns = `id, table_name, method, url, status, status_code, row_count, duration_ms,
	error_message, principal_name, request_id, created_at`

// FetchHistoryRepo stores one row per upstream request in SQLite.
type FetchHistoryRepo struct {
	db   *sql.DB
	read *sql.DB
}

// NewFetchHistoryRepo creates a FetchHistoryRepo writing through db.
func NewFetchHistoryRepo(db *sql.DB) *FetchHistoryRepo {
	return &FetchHistoryRepo{db: db, read: db}
}

// WithReadPool routes lookups and listings through a separate read pool.
func (r *FetchHistoryRepo) WithReadPool(read *sql.DB) *FetchHistoryRepo {
	if read != nil {
		r.read = read
	}
	return r
}

// Insert stores rec, assigning an ID and creation time when unset.
func (r *FetchHistoryRepo) Insert(ctx context.Context, rec *domain.FetchRecord) error {
	if rec == nil {
		return domain.ErrValidation("fetch record is required")
	}
	if rec.ID == "" {
		rec.ID = domain.NewID()
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now()
	}
	rec.CreatedAt = rec.CreatedAt.UTC().Truncate(time.Second)

	_, err := r.db.ExecContext(ctx, `
		INSERT INTO fetch_history (`+fetchColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, rec.ID, rec.Table, rec.Method, rec.URL, rec.Status,
		nullInt(rec.StatusCode), nullInt64(rec.RowCount), nullInt64(rec.DurationMs),
		nullString(rec.ErrorMessage), rec.PrincipalName, rec.RequestID, formatTime(rec.CreatedAt))
	return mapDBError(err)
}

// GetByID returns one fetch record.
func (r *FetchHistoryRepo) GetByID(ctx context.Context, id string) (*domain.FetchRecord, error) {
	row := r.read.QueryRowContext(ctx, `SELECT `+fetchColumns+` FROM fetch_history WHERE id = ?`, id)
	rec, err := scanFetch(row)
	if err != nil {
		if mapped, ok := mapDBError(err).(*domain.NotFoundError); ok {
			mapped.Message = fmt.Sprintf("fetch %q not found", id)
			return nil, mapped
		}
		return nil, err
	}
	return rec, nil
}

// List returns records matching filter, newest first, with the total count.
func (r *FetchHistoryRepo) List(ctx context.Context, filter domain.FetchHistoryFilter) ([]domain.FetchRecord, int64, error) {
	var (
		conds []string
		args  []any
	)
	if filter.Table != nil {
		conds = append(conds, "table_name = ?")
		args = append(args, *filter.Table)
	}
	if filter.Status != nil {
		conds = append(conds, "status = ?")
		args = append(args, *filter.Status)
	}
	if filter.PrincipalName != nil {
		conds = append(conds, "principal_name = ?")
		args = append(args, *filter.PrincipalName)
	}
	if filter.From != nil {
		conds = append(conds, "created_at >= ?")
		args = append(args, formatTime(*filter.From))
	}
	if filter.To != nil {
		conds = append(conds, "created_at <= ?")
		args = append(args, formatTime(*filter.To))
	}
	where := ""
	if len(conds) > 0 {
		where = " WHERE " + strings.Join(conds, " AND ")
	}

	var total int64
	if err := r.read.QueryRowContext(ctx, `SELECT count(*) FROM fetch_history`+where, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count fetch history: %w", err)
	}

	pageArgs := append(append([]any{}, args...), filter.Page.Limit(), filter.Page.Offset())
	rows, err := r.read.QueryContext(ctx,
		`SELECT `+fetchColumns+` FROM fetch_history`+where+` ORDER BY created_at DESC, id DESC LIMIT ? OFFSET ?`,
		pageArgs...)
	if err != nil {
		return nil, 0, fmt.Errorf("list fetch history: %w", err)
	}
	defer rows.Close() //nolint:errcheck

	out := []domain.FetchRecord{}
	for rows.Next() {
		rec, err := scanFetch(rows)
		if err != nil {
			return nil, 0, err
		}
		out = append(out, *rec)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("list fetch history: %w", err)
	}
	return out, total, nil
}

// DeleteBefore removes records created before the given time and returns
// how many were removed.
func (r *FetchHistoryRepo) DeleteBefore(ctx context.Context, before time.Time) (int64, error) {
	res, err := r.db.ExecContext(ctx, `DELETE FROM fetch_history WHERE created_at < ?`, formatTime(before))
	if err != nil {
		return 0, mapDBError(err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("rows affected: %w", err)
	}
	return n, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanFetch(s scanner) (*domain.FetchRecord, error) {
	var (
		rec                  domain.FetchRecord
		statusCode           sql.NullInt64
		rowCount, durationMs sql.NullInt64
		errorMessage         sql.NullString
		createdAt            time.Time
	)
	if err := s.Scan(
		&rec.ID,
		&rec.Table,
		&rec.Method,
		&rec.URL,
		&rec.Status,
		&statusCode,
		&rowCount,
		&durationMs,
		&errorMessage,
		&rec.PrincipalName,
		&rec.RequestID,
		&createdAt,
	); err != nil {
		return nil, err
	}
	rec.CreatedAt = createdAt.UTC()
	if statusCode.Valid {
		v := int(statusCode.Int64)
		rec.StatusCode = &v
	}
	if rowCount.Valid {
		v := rowCount.Int64
		rec.RowCount = &v
	}
	if durationMs.Valid {
		v := durationMs.Int64
		rec.DurationMs = &v
	}
	if errorMessage.Valid {
		v := errorMessage.String
		rec.ErrorMessage = &v
	}
	return &rec, nil
}
