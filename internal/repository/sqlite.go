package repository

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/azizikri/coupon-evaluator/internal/domain"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// CouponPO is the row stored by the SQLite backend.
type CouponPO struct {
	Name          string `gorm:"primaryKey"`
	Discount      string `gorm:"not null"`
	Condition     *string
	ValidityStart *string
	ValidityEnd   *string
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

func (CouponPO) TableName() string {
	return "coupons"
}

type sqliteStore struct {
	db *gorm.DB
}

var _ io.Closer = (*sqliteStore)(nil)

// OpenSQLite opens (creating if needed) an SQLite database at path and
// migrates the coupons table.
func OpenSQLite(path string) (Store, error) {
	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{TranslateError: true})
	if err != nil {
		return nil, fmt.Errorf("open sqlite %s: %w", path, err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}
	// one connection keeps ":memory:" databases shared between calls
	sqlDB.SetMaxOpenConns(1)

	return NewSQLite(db)
}

func NewSQLite(db *gorm.DB) (Store, error) {
	if err := db.AutoMigrate(&CouponPO{}); err != nil {
		return nil, fmt.Errorf("migrate coupons: %w", err)
	}
	return &sqliteStore{db: db}, nil
}

func (s *sqliteStore) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

func (s *sqliteStore) ExecTx(ctx context.Context, fn func(Querier) error) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(&sqliteQueries{db: tx})
	})
}

func (s *sqliteStore) ListCoupons(ctx context.Context) ([]domain.CouponRecord, error) {
	var rows []CouponPO
	if err := s.db.WithContext(ctx).Order("name").Find(&rows).Error; err != nil {
		return nil, err
	}

	records := make([]domain.CouponRecord, 0, len(rows))
	for _, po := range rows {
		r, err := po.record()
		if err != nil {
			return nil, err
		}
		records = append(records, r)
	}
	return records, nil
}

func (s *sqliteStore) GetCoupon(ctx context.Context, name string) (domain.CouponRecord, error) {
	var po CouponPO
	err := s.db.WithContext(ctx).Where("name = ?", name).Take(&po).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return domain.CouponRecord{}, domain.ErrNotFound
	}
	if err != nil {
		return domain.CouponRecord{}, err
	}
	return po.record()
}

func (s *sqliteStore) CreateCoupon(ctx context.Context, c domain.Coupon) error {
	po, err := newCouponPO(c)
	if err != nil {
		return err
	}
	err = s.db.WithContext(ctx).Create(po).Error
	if errors.Is(err, gorm.ErrDuplicatedKey) || (err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")) {
		return domain.ErrDuplicateCoupon
	}
	return err
}

func (s *sqliteStore) UpdateCoupon(ctx context.Context, c domain.Coupon) error {
	po, err := newCouponPO(c)
	if err != nil {
		return err
	}
	res := s.db.WithContext(ctx).Model(&CouponPO{}).Where("name = ?", c.Name).Updates(map[string]any{
		"discount":       po.Discount,
		"condition":      po.Condition,
		"validity_start": po.ValidityStart,
		"validity_end":   po.ValidityEnd,
	})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return domain.ErrNotFound
	}
	return nil
}

func (s *sqliteStore) DeleteCoupon(ctx context.Context, name string) error {
	res := s.db.WithContext(ctx).Where("name = ?", name).Delete(&CouponPO{})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return domain.ErrNotFound
	}
	return nil
}

type sqliteQueries struct {
	db *gorm.DB
}

func (q *sqliteQueries) InsertCouponIfAbsent(ctx context.Context, c domain.Coupon) (bool, error) {
	po, err := newCouponPO(c)
	if err != nil {
		return false, err
	}
	res := q.db.WithContext(ctx).Clauses(clause.OnConflict{DoNothing: true}).Create(po)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

func newCouponPO(c domain.Coupon) (*CouponPO, error) {
	po := &CouponPO{
		Name:     c.Name,
		Discount: c.Discount.String(),
	}

	condition, err := encodeCondition(c)
	if err != nil {
		return nil, err
	}
	if condition != nil {
		s := string(condition)
		po.Condition = &s
	}

	if c.Validity != nil {
		start, end := c.Validity.Start.String(), c.Validity.End.String()
		po.ValidityStart = &start
		po.ValidityEnd = &end
	}
	return po, nil
}

func (po CouponPO) record() (domain.CouponRecord, error) {
	r := domain.CouponRecord{
		Name:     po.Name,
		Discount: po.Discount,
	}

	if po.Condition != nil {
		cond, err := decodeCondition([]byte(*po.Condition))
		if err != nil {
			return domain.CouponRecord{}, fmt.Errorf("coupon %s: %w", po.Name, err)
		}
		r.Condition = cond
	}

	if po.ValidityStart != nil && po.ValidityEnd != nil {
		r.Validity = &domain.ValidityRecord{Start: *po.ValidityStart, End: *po.ValidityEnd}
	}
	return r, nil
}
