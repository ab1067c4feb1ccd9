// Package evaluator decides which coupons apply to a purchase and what
// discount each one yields. An Evaluator holds no mutable state and is safe
// for concurrent use.
package evaluator

import (
	"fmt"
	stdlog "log"
	"os"

	"github.com/azizikri/coupon-evaluator/internal/domain"
	"github.com/go-logr/logr"
	"github.com/go-logr/stdr"
	"github.com/samber/lo"
	"github.com/shopspring/decimal"
)

var defaultLogger = stdr.New(stdlog.New(os.Stderr, "", stdlog.LstdFlags|stdlog.Lshortfile)).WithName("evaluator")

// Applied is a coupon that holds for the purchase together with the
// discount it resolves to.
type Applied struct {
	Coupon   domain.Coupon
	Discount decimal.Decimal
}

// Failure is a coupon that could not be evaluated.
type Failure struct {
	Coupon string
	Err    error
}

func (f Failure) Error() string {
	return fmt.Sprintf("coupon %q: %v", f.Coupon, f.Err)
}

func (f Failure) Unwrap() error { return f.Err }

type Result struct {
	Applied  []Applied
	Failures []Failure
}

// Best returns the first applied coupon under the evaluator's ordering.
func (r Result) Best() (Applied, bool) {
	if len(r.Applied) == 0 {
		return Applied{}, false
	}
	return r.Applied[0], true
}

type Option func(*Evaluator)

// WithOrdering replaces the ordering applied to Evaluate results.
func WithOrdering(o Ordering) Option {
	return func(e *Evaluator) {
		if o != nil {
			e.order = o
		}
	}
}

func WithLogger(l logr.Logger) Option {
	return func(e *Evaluator) {
		e.logger = l
	}
}

type Evaluator struct {
	order  Ordering
	logger logr.Logger
}

func New(opts ...Option) *Evaluator {
	e := &Evaluator{
		order:  GreatestDiscountFirst,
		logger: defaultLogger,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// IsApplicable reports whether every clause the coupon carries holds for ctx.
func (e *Evaluator) IsApplicable(c domain.Coupon, ctx domain.PurchaseContext) bool {
	ok, _ := e.Check(c, ctx)
	return ok
}

// Check is IsApplicable that also returns why a coupon could not be
// evaluated. Unknown condition keys fail closed with
// domain.ErrUnknownConditionKey.
func (e *Evaluator) Check(c domain.Coupon, ctx domain.PurchaseContext) (bool, error) {
	ok, err := c.Condition.Match(ctx)
	if err != nil || !ok {
		return false, err
	}
	return c.Validity.Contains(ctx.Date), nil
}

// ResolveDiscount computes the discount c yields on ctx.Total. Fixed amounts
// never exceed the total.
func (e *Evaluator) ResolveDiscount(c domain.Coupon, ctx domain.PurchaseContext) (decimal.Decimal, error) {
	amount, err := c.Discount.Of(ctx.Total)
	if err != nil {
		return decimal.Zero, fmt.Errorf("coupon %s: %w", c.Name, err)
	}
	return amount, nil
}

// Evaluate returns the applicable coupons with their discounts, ordered by
// the evaluator's Ordering. Coupons that fail are reported in
// Result.Failures and do not stop the others.
func (e *Evaluator) Evaluate(coupons []domain.Coupon, ctx domain.PurchaseContext) Result {
	var res Result

	for _, c := range coupons {
		ok, err := e.Check(c, ctx)
		if err != nil {
			e.logger.Error(err, "coupon rejected", "coupon", c.Name)
			res.Failures = append(res.Failures, Failure{Coupon: c.Name, Err: err})
			continue
		}
		if !ok {
			continue
		}

		amount, err := e.ResolveDiscount(c, ctx)
		if err != nil {
			e.logger.Error(err, "discount not resolvable", "coupon", c.Name)
			res.Failures = append(res.Failures, Failure{Coupon: c.Name, Err: err})
			continue
		}
		res.Applied = append(res.Applied, Applied{Coupon: c, Discount: amount})
	}

	e.order(res.Applied)

	if len(res.Failures) > 0 {
		e.logger.V(1).Info("evaluation finished with failures",
			"applied", len(res.Applied),
			"failed", lo.Map(res.Failures, func(f Failure, _ int) string { return f.Coupon }),
		)
	}
	return res
}
