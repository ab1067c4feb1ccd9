package evaluator

import (
	"fmt"
	"math/rand"
	"sync"
	"testing"

	"cloud.google.com/go/civil"
	"github.com/azizikri/coupon-evaluator/internal/domain"
	"github.com/go-logr/logr"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestEvaluator(opts ...Option) *Evaluator {
	return New(append([]Option{WithLogger(logr.Discard())}, opts...)...)
}

func mustCoupon(t *testing.T, r domain.CouponRecord) domain.Coupon {
	t.Helper()
	c, err := domain.ParseRecord(r)
	require.NoError(t, err)
	return c
}

func purchase(total int64, category domain.Category, date string) domain.PurchaseContext {
	d, err := civil.ParseDate(date)
	if err != nil {
		panic(err)
	}
	return domain.PurchaseContext{
		Date:     d,
		Total:    decimal.NewFromInt(total),
		Category: category,
	}
}

func TestScenario_FixedDiscount(t *testing.T) {
	e := newTestEvaluator()
	c := mustCoupon(t, domain.CouponRecord{Name: "c1", Discount: 5})
	ctx := purchase(100, domain.CategoryFood, "2024-05-01")

	assert.True(t, e.IsApplicable(c, ctx))
	got, err := e.ResolveDiscount(c, ctx)
	require.NoError(t, err)
	assert.True(t, got.Equal(decimal.NewFromInt(5)), got.String())
}

func TestScenario_PercentageDiscount(t *testing.T) {
	e := newTestEvaluator()
	c := mustCoupon(t, domain.CouponRecord{Name: "c2", Discount: "20%"})
	ctx := purchase(100, domain.CategoryFood, "2024-05-01")

	assert.True(t, e.IsApplicable(c, ctx))
	got, err := e.ResolveDiscount(c, ctx)
	require.NoError(t, err)
	assert.True(t, got.Equal(decimal.NewFromInt(20)), got.String())
}

func TestScenario_PriceAboveNotMet(t *testing.T) {
	e := newTestEvaluator()
	c := mustCoupon(t, domain.CouponRecord{Name: "c3", Discount: 20, Condition: map[string]any{"price_above": 150}})

	assert.False(t, e.IsApplicable(c, purchase(100, domain.CategoryFood, "2024-05-01")))
}

func TestScenario_SingleDayValidity(t *testing.T) {
	e := newTestEvaluator()
	c := mustCoupon(t, domain.CouponRecord{
		Name:     "c4",
		Discount: 20,
		Validity: &domain.ValidityRecord{Start: "2022-01-01", End: "2022-01-01"},
	})

	assert.True(t, e.IsApplicable(c, purchase(100, domain.CategoryFood, "2022-01-01")))
	assert.False(t, e.IsApplicable(c, purchase(100, domain.CategoryFood, "2022-01-02")))
	assert.False(t, e.IsApplicable(c, purchase(100, domain.CategoryFood, "2021-12-31")))
}

func TestIsApplicable_PriceAboveIsStrict(t *testing.T) {
	e := newTestEvaluator()
	c := domain.Coupon{
		Name:      "p",
		Discount:  domain.Fixed(decimal.NewFromInt(1)),
		Condition: domain.PriceAbove(decimal.NewFromInt(100)),
	}

	assert.False(t, e.IsApplicable(c, purchase(100, domain.CategoryFood, "2024-01-01")))
	assert.True(t, e.IsApplicable(c, purchase(101, domain.CategoryFood, "2024-01-01")))
}

func TestIsApplicable_CategoryAndPrice(t *testing.T) {
	e := newTestEvaluator()
	c := mustCoupon(t, domain.CouponRecord{
		Name:      "both",
		Discount:  1,
		Condition: map[string]any{"category": "food", "price_above": 50},
	})

	assert.True(t, e.IsApplicable(c, purchase(60, domain.CategoryFood, "2024-01-01")))
	assert.False(t, e.IsApplicable(c, purchase(60, domain.CategoryFurniture, "2024-01-01")))
	assert.False(t, e.IsApplicable(c, purchase(40, domain.CategoryFood, "2024-01-01")))
}

func TestIsApplicable_CategoryOnly(t *testing.T) {
	e := newTestEvaluator()
	c := domain.Coupon{
		Name:      "furniture",
		Discount:  domain.Percentage(decimal.NewFromInt(10)),
		Condition: domain.CategoryIs(domain.CategoryFurniture),
	}

	assert.True(t, e.IsApplicable(c, purchase(1, domain.CategoryFurniture, "2024-01-01")))
	assert.False(t, e.IsApplicable(c, purchase(1000, domain.CategoryFood, "2024-01-01")))
}

func TestIsApplicable_ConditionAndValidityBothRequired(t *testing.T) {
	e := newTestEvaluator()
	c := mustCoupon(t, domain.CouponRecord{
		Name:      "cv",
		Discount:  1,
		Condition: map[string]any{"category": "food"},
		Validity:  &domain.ValidityRecord{Start: "2023-01-01", End: "2023-12-31"},
	})

	assert.True(t, e.IsApplicable(c, purchase(10, domain.CategoryFood, "2023-06-01")))
	assert.False(t, e.IsApplicable(c, purchase(10, domain.CategoryFood, "2024-06-01")))
	assert.False(t, e.IsApplicable(c, purchase(10, domain.CategoryElectronics, "2023-06-01")))
}

func TestIsApplicable_UnconditionalAlwaysHolds(t *testing.T) {
	e := newTestEvaluator()
	c := domain.Coupon{Name: "free", Discount: domain.Fixed(decimal.NewFromInt(3))}
	r := rand.New(rand.NewSource(1))

	start := civil.Date{Year: 1990, Month: 1, Day: 1}
	for i := 0; i < 200; i++ {
		ctx := domain.PurchaseContext{
			Date:     start.AddDays(r.Intn(20000)),
			Total:    decimal.NewFromInt(r.Int63n(10000)),
			Category: domain.Category(fmt.Sprintf("cat-%d", r.Intn(5))),
		}
		assert.True(t, e.IsApplicable(c, ctx))
	}
}

func TestCheck_UnknownKeyFailsClosed(t *testing.T) {
	e := newTestEvaluator()
	c := mustCoupon(t, domain.CouponRecord{
		Name:      "legacy",
		Discount:  5,
		Condition: map[string]any{"date_in_range": "2022-01-01,2022-12-31"},
	})
	ctx := purchase(100, domain.CategoryFood, "2022-06-01")

	ok, err := e.Check(c, ctx)
	assert.False(t, ok)
	assert.ErrorIs(t, err, domain.ErrUnknownConditionKey)
	assert.False(t, e.IsApplicable(c, ctx))
}

func TestResolveDiscount_FixedIsClamped(t *testing.T) {
	e := newTestEvaluator()
	r := rand.New(rand.NewSource(7))

	for i := 0; i < 200; i++ {
		amount := decimal.NewFromInt(r.Int63n(500))
		total := decimal.NewFromInt(r.Int63n(500))
		c := domain.Coupon{Name: "f", Discount: domain.Fixed(amount)}

		got, err := e.ResolveDiscount(c, domain.PurchaseContext{Total: total})
		require.NoError(t, err)
		assert.True(t, got.LessThanOrEqual(total), "amount %s total %s got %s", amount, total, got)
		assert.True(t, got.Equal(decimal.Min(amount, total)))
	}
}

func TestResolveDiscount_PercentageIsExact(t *testing.T) {
	e := newTestEvaluator()
	cases := []struct{ total, rate, want string }{
		{"100", "20", "20"},
		{"99.99", "15", "14.9985"},
		{"33", "33.3", "10.989"},
		{"0", "50", "0"},
		{"250", "100", "250"},
	}
	for _, tc := range cases {
		c := domain.Coupon{Name: "p", Discount: domain.Percentage(decimal.RequireFromString(tc.rate))}
		got, err := e.ResolveDiscount(c, domain.PurchaseContext{Total: decimal.RequireFromString(tc.total)})
		require.NoError(t, err)
		assert.True(t, got.Equal(decimal.RequireFromString(tc.want)), "%s%% of %s = %s", tc.rate, tc.total, got)
	}
}

func TestResolveDiscount_InvalidFormat(t *testing.T) {
	e := newTestEvaluator()

	_, err := e.ResolveDiscount(domain.Coupon{Name: "unset"}, purchase(10, domain.CategoryFood, "2024-01-01"))
	assert.ErrorIs(t, err, domain.ErrInvalidDiscountFormat)

	over := domain.Coupon{Name: "over", Discount: domain.Percentage(decimal.NewFromInt(120))}
	_, err = e.ResolveDiscount(over, purchase(10, domain.CategoryFood, "2024-01-01"))
	assert.ErrorIs(t, err, domain.ErrInvalidDiscountFormat)
}

func TestEvaluate_SeedCatalog(t *testing.T) {
	e := newTestEvaluator()
	coupons, failures := domain.LoadRecords(domain.SeedRecords)
	require.Empty(t, failures)

	res := e.Evaluate(coupons, purchase(120, domain.CategoryFood, "2022-01-01"))
	require.Empty(t, res.Failures)

	var names []string
	for _, a := range res.Applied {
		names = append(names, a.Coupon.Name)
	}
	// 20% of 120 = 24, then the 20s by name, then the 5s by name
	assert.Equal(t, []string{
		"coupon_2",
		"coupon_4", "coupon_5", "coupon_6", "coupon_8", "coupon_9",
		"coupon_1", "coupon_3",
	}, names)

	best, ok := res.Best()
	require.True(t, ok)
	assert.True(t, best.Discount.Equal(decimal.NewFromInt(24)))
}

func TestEvaluate_OrderingIsDeterministic(t *testing.T) {
	e := newTestEvaluator()
	coupons, _ := domain.LoadRecords(domain.SeedRecords)
	ctx := purchase(80, domain.CategoryElectronics, "2023-03-03")

	want := e.Evaluate(coupons, ctx)
	for i := 0; i < 20; i++ {
		shuffled := append([]domain.Coupon(nil), coupons...)
		rand.New(rand.NewSource(int64(i))).Shuffle(len(shuffled), func(a, b int) {
			shuffled[a], shuffled[b] = shuffled[b], shuffled[a]
		})
		got := e.Evaluate(shuffled, ctx)
		require.Len(t, got.Applied, len(want.Applied))
		for j := range want.Applied {
			assert.Equal(t, want.Applied[j].Coupon.Name, got.Applied[j].Coupon.Name)
		}
	}

	for i := 1; i < len(want.Applied); i++ {
		prev, cur := want.Applied[i-1], want.Applied[i]
		if prev.Discount.Equal(cur.Discount) {
			assert.Less(t, prev.Coupon.Name, cur.Coupon.Name)
		} else {
			assert.True(t, prev.Discount.GreaterThan(cur.Discount))
		}
	}
}

func TestEvaluate_PartialFailure(t *testing.T) {
	e := newTestEvaluator()
	coupons := []domain.Coupon{
		mustCoupon(t, domain.CouponRecord{Name: "good", Discount: 5}),
		mustCoupon(t, domain.CouponRecord{Name: "legacy", Discount: 5, Condition: map[string]any{"min_qty": 2}}),
		{Name: "broken"},
	}

	res := e.Evaluate(coupons, purchase(100, domain.CategoryFood, "2024-01-01"))
	require.Len(t, res.Applied, 1)
	assert.Equal(t, "good", res.Applied[0].Coupon.Name)

	require.Len(t, res.Failures, 2)
	assert.Equal(t, "legacy", res.Failures[0].Coupon)
	assert.ErrorIs(t, res.Failures[0], domain.ErrUnknownConditionKey)
	assert.Equal(t, "broken", res.Failures[1].Coupon)
	assert.ErrorIs(t, res.Failures[1], domain.ErrInvalidDiscountFormat)
}

func TestEvaluate_WithOrdering(t *testing.T) {
	e := newTestEvaluator(WithOrdering(ByName))
	coupons, _ := domain.LoadRecords(domain.SeedRecords)

	res := e.Evaluate(coupons, purchase(10, domain.CategoryFurniture, "2030-01-01"))
	var names []string
	for _, a := range res.Applied {
		names = append(names, a.Coupon.Name)
	}
	assert.Equal(t, []string{"coupon_1", "coupon_2"}, names)
}

func TestEvaluate_Empty(t *testing.T) {
	res := newTestEvaluator().Evaluate(nil, purchase(10, domain.CategoryFood, "2024-01-01"))
	assert.Empty(t, res.Applied)
	assert.Empty(t, res.Failures)
	_, ok := res.Best()
	assert.False(t, ok)
}

func TestEvaluate_Concurrent(t *testing.T) {
	e := newTestEvaluator()
	coupons, _ := domain.LoadRecords(domain.SeedRecords)
	ctx := purchase(200, domain.CategoryFood, "2022-01-01")
	want := e.Evaluate(coupons, ctx)

	var wg sync.WaitGroup
	for i := 0; i < 32; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			got := e.Evaluate(coupons, ctx)
			if assert.Len(t, got.Applied, len(want.Applied)) {
				for j := range got.Applied {
					assert.Equal(t, want.Applied[j].Coupon.Name, got.Applied[j].Coupon.Name)
				}
			}
		}()
	}
	wg.Wait()
}
