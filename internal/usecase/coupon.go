package usecase

import (
	"context"
	"errors"
	"fmt"
	stdlog "log"
	"os"
	"time"

	"cloud.google.com/go/civil"
	"github.com/azizikri/coupon-evaluator/internal/domain"
	"github.com/azizikri/coupon-evaluator/internal/evaluator"
	"github.com/azizikri/coupon-evaluator/internal/metrics"
	"github.com/azizikri/coupon-evaluator/internal/repository"
	"github.com/go-logr/logr"
	"github.com/go-logr/stdr"
	gocache "github.com/patrickmn/go-cache"
)

const catalogKey = "catalog"

var defaultLogger = stdr.New(stdlog.New(os.Stderr, "", stdlog.LstdFlags|stdlog.Lshortfile)).WithName("coupon_service")

type catalog struct {
	coupons  []domain.Coupon
	failures []domain.LoadFailure
}

type Option func(*CouponService)

func WithEvaluator(e *evaluator.Evaluator) Option {
	return func(s *CouponService) { s.evaluator = e }
}

// WithCacheTTL sets how long the parsed catalog is reused between store
// reads. Zero turns caching off.
func WithCacheTTL(ttl time.Duration) Option {
	return func(s *CouponService) { s.cacheTTL = ttl }
}

// WithLocation sets the time zone used to decide today's date.
func WithLocation(loc *time.Location) Option {
	return func(s *CouponService) { s.loc = loc }
}

func WithClock(now func() time.Time) Option {
	return func(s *CouponService) { s.now = now }
}

func WithLogger(l logr.Logger) Option {
	return func(s *CouponService) { s.logger = l }
}

type CouponService struct {
	store     repository.Store
	evaluator *evaluator.Evaluator
	cache     *gocache.Cache
	cacheTTL  time.Duration
	loc       *time.Location
	now       func() time.Time
	logger    logr.Logger
}

func NewCouponService(store repository.Store, opts ...Option) *CouponService {
	s := &CouponService{
		store:    store,
		cacheTTL: 30 * time.Second,
		loc:      time.UTC,
		now:      time.Now,
		logger:   defaultLogger,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.evaluator == nil {
		s.evaluator = evaluator.New(evaluator.WithLogger(s.logger.WithName("evaluator")))
	}
	s.cache = gocache.New(s.cacheTTL, 2*s.cacheTTL+time.Minute)
	return s
}

// Today is the current calendar date in the service's time zone.
func (s *CouponService) Today() civil.Date {
	return civil.DateOf(s.now().In(s.loc))
}

func (s *CouponService) ListCoupons(ctx context.Context) ([]domain.Coupon, []domain.LoadFailure, error) {
	cat, err := s.catalog(ctx)
	if err != nil {
		return nil, nil, err
	}
	return cat.coupons, cat.failures, nil
}

func (s *CouponService) GetCoupon(ctx context.Context, name string) (domain.Coupon, error) {
	record, err := s.store.GetCoupon(ctx, name)
	if err != nil {
		return domain.Coupon{}, err
	}
	c, err := domain.ParseRecord(record)
	if err != nil {
		return domain.Coupon{}, fmt.Errorf("stored coupon %s: %w", name, err)
	}
	return c, nil
}

func (s *CouponService) CreateCoupon(ctx context.Context, record domain.CouponRecord) (domain.Coupon, error) {
	c, err := parseNewCoupon(record)
	if err != nil {
		return domain.Coupon{}, err
	}
	if err := s.store.CreateCoupon(ctx, c); err != nil {
		return domain.Coupon{}, err
	}
	s.invalidate()
	s.logger.Info("coupon created", "coupon", c.Name, "discount", c.Discount.String())
	return c, nil
}

func (s *CouponService) UpdateCoupon(ctx context.Context, record domain.CouponRecord) (domain.Coupon, error) {
	c, err := parseNewCoupon(record)
	if err != nil {
		return domain.Coupon{}, err
	}
	if err := s.store.UpdateCoupon(ctx, c); err != nil {
		return domain.Coupon{}, err
	}
	s.invalidate()
	s.logger.Info("coupon updated", "coupon", c.Name)
	return c, nil
}

func (s *CouponService) DeleteCoupon(ctx context.Context, name string) error {
	if err := s.store.DeleteCoupon(ctx, name); err != nil {
		return err
	}
	s.invalidate()
	s.logger.Info("coupon deleted", "coupon", name)
	return nil
}

// SeedCatalog inserts the records whose names are not stored yet and
// returns how many were inserted. Invalid records are skipped and logged.
func (s *CouponService) SeedCatalog(ctx context.Context, records []domain.CouponRecord) (int, error) {
	coupons, failures := domain.LoadRecords(records)
	for _, f := range failures {
		s.logger.Error(f.Err, "skipping seed record", "coupon", f.Name)
	}

	inserted := 0
	err := s.store.ExecTx(ctx, func(q repository.Querier) error {
		for _, c := range coupons {
			ok, err := q.InsertCouponIfAbsent(ctx, c)
			if err != nil {
				return fmt.Errorf("seed %s: %w", c.Name, err)
			}
			if ok {
				inserted++
			}
		}
		return nil
	})
	if err != nil {
		return 0, err
	}

	s.invalidate()
	s.logger.Info("catalog seeded", "inserted", inserted, "skipped", len(coupons)-inserted)
	return inserted, nil
}

// ApplyCoupon applies the named coupon to a single product. It fails with
// domain.ErrNotApplicable when the coupon's clauses do not hold.
func (s *CouponService) ApplyCoupon(ctx context.Context, name string, product domain.Product) (*domain.Application, error) {
	c, err := s.GetCoupon(ctx, name)
	if err != nil {
		metrics.Applications.WithLabelValues("error").Inc()
		return nil, err
	}

	purchase := product.Context(s.Today())
	ok, err := s.evaluator.Check(c, purchase)
	if err != nil {
		metrics.Applications.WithLabelValues("error").Inc()
		return nil, err
	}
	if !ok {
		metrics.Applications.WithLabelValues("not_applicable").Inc()
		return nil, domain.ErrNotApplicable
	}

	discount, err := s.evaluator.ResolveDiscount(c, purchase)
	if err != nil {
		metrics.Applications.WithLabelValues("error").Inc()
		return nil, err
	}

	discounted := product
	discounted.Price = product.Price.Sub(discount)
	metrics.Applications.WithLabelValues("applied").Inc()

	return &domain.Application{
		Coupon:     c,
		Product:    discounted,
		Discount:   discount,
		FinalPrice: discounted.Price,
	}, nil
}

// Evaluate runs the whole catalog against the purchase. A zero Date means
// today. Catalog entries that failed to load are reported as failures next
// to the evaluation's own.
func (s *CouponService) Evaluate(ctx context.Context, purchase domain.PurchaseContext) (evaluator.Result, error) {
	cat, err := s.catalog(ctx)
	if err != nil {
		return evaluator.Result{}, err
	}
	if purchase.Date == (civil.Date{}) {
		purchase.Date = s.Today()
	}

	res := s.evaluator.Evaluate(cat.coupons, purchase)
	for _, f := range cat.failures {
		res.Failures = append(res.Failures, evaluator.Failure{Coupon: f.Name, Err: f.Err})
	}

	metrics.Evaluations.Inc()
	metrics.CouponsApplicable.Add(float64(len(res.Applied)))
	for _, f := range res.Failures {
		metrics.CouponFailures.WithLabelValues(failureReason(f.Err)).Inc()
	}
	return res, nil
}

func (s *CouponService) catalog(ctx context.Context) (*catalog, error) {
	if s.cacheTTL > 0 {
		if cached, ok := s.cache.Get(catalogKey); ok {
			return cached.(*catalog), nil
		}
	}

	records, err := s.store.ListCoupons(ctx)
	if err != nil {
		return nil, fmt.Errorf("list coupons: %w", err)
	}

	coupons, failures := domain.LoadRecords(records)
	for _, f := range failures {
		s.logger.Error(f.Err, "stored coupon is invalid", "coupon", f.Name)
	}

	cat := &catalog{coupons: coupons, failures: failures}
	if s.cacheTTL > 0 {
		s.cache.SetDefault(catalogKey, cat)
	}
	return cat, nil
}

func (s *CouponService) invalidate() {
	s.cache.Delete(catalogKey)
}

// parseNewCoupon is ParseRecord with the stricter rules applied to coupons
// entering the catalog: known categories only and no unknown condition keys.
func parseNewCoupon(record domain.CouponRecord) (domain.Coupon, error) {
	c, err := domain.ParseRecord(record)
	if err != nil {
		return domain.Coupon{}, err
	}
	if c.Condition == nil {
		return c, nil
	}
	if len(c.Condition.UnknownKeys) > 0 {
		return domain.Coupon{}, fmt.Errorf("%w: %v", domain.ErrUnknownConditionKey, c.Condition.UnknownKeys)
	}
	if c.Condition.Category != nil && !c.Condition.Category.Known() {
		return domain.Coupon{}, fmt.Errorf("%w: %s", domain.ErrUnknownCategory, *c.Condition.Category)
	}
	return c, nil
}

func failureReason(err error) string {
	switch {
	case errors.Is(err, domain.ErrUnknownConditionKey):
		return "unknown_condition_key"
	case errors.Is(err, domain.ErrInvalidDiscountFormat):
		return "invalid_discount"
	case errors.Is(err, domain.ErrInvalidDateRange):
		return "invalid_date_range"
	case errors.Is(err, domain.ErrInvalidCondition):
		return "invalid_condition"
	case errors.Is(err, domain.ErrDuplicateCoupon):
		return "duplicate"
	default:
		return "other"
	}
}
