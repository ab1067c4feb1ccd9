package domain

// SeedRecords is the initial coupon catalog loaded into an empty store.
var SeedRecords = []CouponRecord{
	{Name: "coupon_1", Discount: 5},
	{Name: "coupon_2", Discount: "20%"},
	{Name: "coupon_3", Discount: 5, Condition: map[string]any{"category": "food"}},
	{Name: "coupon_4", Discount: 20, Condition: map[string]any{"category": "food"}},
	{Name: "coupon_5", Discount: 20, Condition: map[string]any{"price_above": 100}},
	{Name: "coupon_6", Discount: 20, Condition: map[string]any{"price_above": 50}},
	{Name: "coupon_7", Discount: 20, Condition: map[string]any{"price_above": 150}},
	{Name: "coupon_8", Discount: 20, Validity: &ValidityRecord{Start: "2022-01-01", End: "2026-01-01"}},
	{Name: "coupon_9", Discount: 20, Validity: &ValidityRecord{Start: "2022-01-01", End: "2022-01-01"}},
}
