package repository

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"cloud.google.com/go/civil"
	"github.com/azizikri/coupon-evaluator/internal/domain"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Store persists coupon definitions. Reads return raw records so that a
// malformed row is reported by the loader instead of failing the whole read.
type Store interface {
	ExecTx(ctx context.Context, fn func(Querier) error) error
	ListCoupons(ctx context.Context) ([]domain.CouponRecord, error)
	GetCoupon(ctx context.Context, name string) (domain.CouponRecord, error)
	CreateCoupon(ctx context.Context, c domain.Coupon) error
	UpdateCoupon(ctx context.Context, c domain.Coupon) error
	DeleteCoupon(ctx context.Context, name string) error
}

type Querier interface {
	InsertCouponIfAbsent(ctx context.Context, c domain.Coupon) (bool, error)
}

const uniqueViolation = "23505"

const (
	listCouponsSQL = `SELECT name, discount, condition, validity_start, validity_end
FROM coupons ORDER BY name`

	getCouponSQL = `SELECT name, discount, condition, validity_start, validity_end
FROM coupons WHERE name = $1`

	createCouponSQL = `INSERT INTO coupons (name, discount, condition, validity_start, validity_end)
VALUES ($1, $2, $3, $4, $5)`

	insertIfAbsentSQL = `INSERT INTO coupons (name, discount, condition, validity_start, validity_end)
VALUES ($1, $2, $3, $4, $5) ON CONFLICT (name) DO NOTHING`

	updateCouponSQL = `UPDATE coupons
SET discount = $2, condition = $3, validity_start = $4, validity_end = $5, updated_at = now()
WHERE name = $1`

	deleteCouponSQL = `DELETE FROM coupons WHERE name = $1`
)

type dbtx interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

type queries struct {
	db dbtx
}

func (q *queries) InsertCouponIfAbsent(ctx context.Context, c domain.Coupon) (bool, error) {
	args, err := couponArgs(c)
	if err != nil {
		return false, err
	}
	tag, err := q.db.Exec(ctx, insertIfAbsentSQL, args...)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

type store struct {
	pool    *pgxpool.Pool
	queries *queries
}

func New(pool *pgxpool.Pool) Store {
	return &store{
		pool:    pool,
		queries: &queries{db: pool},
	}
}

func (s *store) ExecTx(ctx context.Context, fn func(Querier) error) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}

	q := &queries{db: tx}
	if err := fn(q); err != nil {
		if rbErr := tx.Rollback(ctx); rbErr != nil {
			return fmt.Errorf("tx err: %v, rollback err: %v", err, rbErr)
		}
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

func (s *store) ListCoupons(ctx context.Context) ([]domain.CouponRecord, error) {
	rows, err := s.pool.Query(ctx, listCouponsSQL)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var records []domain.CouponRecord
	for rows.Next() {
		r, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, r)
	}
	return records, rows.Err()
}

func (s *store) GetCoupon(ctx context.Context, name string) (domain.CouponRecord, error) {
	r, err := scanRecord(s.pool.QueryRow(ctx, getCouponSQL, name))
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.CouponRecord{}, domain.ErrNotFound
	}
	return r, err
}

func (s *store) CreateCoupon(ctx context.Context, c domain.Coupon) error {
	args, err := couponArgs(c)
	if err != nil {
		return err
	}
	if _, err := s.pool.Exec(ctx, createCouponSQL, args...); err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			return domain.ErrDuplicateCoupon
		}
		return err
	}
	return nil
}

func (s *store) UpdateCoupon(ctx context.Context, c domain.Coupon) error {
	args, err := couponArgs(c)
	if err != nil {
		return err
	}
	tag, err := s.pool.Exec(ctx, updateCouponSQL, args...)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

func (s *store) DeleteCoupon(ctx context.Context, name string) error {
	tag, err := s.pool.Exec(ctx, deleteCouponSQL, name)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

func scanRecord(row pgx.Row) (domain.CouponRecord, error) {
	var (
		r          domain.CouponRecord
		discount   string
		condition  []byte
		start, end pgtype.Date
	)
	if err := row.Scan(&r.Name, &discount, &condition, &start, &end); err != nil {
		return domain.CouponRecord{}, err
	}
	r.Discount = discount

	cond, err := decodeCondition(condition)
	if err != nil {
		return domain.CouponRecord{}, fmt.Errorf("coupon %s: %w", r.Name, err)
	}
	r.Condition = cond

	if start.Valid && end.Valid {
		r.Validity = &domain.ValidityRecord{
			Start: civil.DateOf(start.Time).String(),
			End:   civil.DateOf(end.Time).String(),
		}
	}
	return r, nil
}

func couponArgs(c domain.Coupon) ([]any, error) {
	condition, err := encodeCondition(c)
	if err != nil {
		return nil, err
	}

	var start, end pgtype.Date
	if c.Validity != nil {
		start = pgtype.Date{Time: c.Validity.Start.In(time.UTC), Valid: true}
		end = pgtype.Date{Time: c.Validity.End.In(time.UTC), Valid: true}
	}
	return []any{c.Name, c.Discount.String(), condition, start, end}, nil
}

func encodeCondition(c domain.Coupon) ([]byte, error) {
	r := c.Record()
	if r.Condition == nil {
		return nil, nil
	}
	data, err := json.Marshal(r.Condition)
	if err != nil {
		return nil, fmt.Errorf("encode condition: %w", err)
	}
	return data, nil
}

func decodeCondition(data []byte) (map[string]any, error) {
	if len(bytes.TrimSpace(data)) == 0 {
		return nil, nil
	}
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var m map[string]any
	if err := dec.Decode(&m); err != nil {
		return nil, fmt.Errorf("decode condition: %w", err)
	}
	return m, nil
}
