package domain

import (
	"fmt"

	"github.com/shopspring/decimal"
)

const (
	ConditionKeyCategory   = "category"
	ConditionKeyPriceAbove = "price_above"
)

// Condition gates a coupon on the purchase. Nil clauses are absent.
// UnknownKeys holds any keys of the source mapping that are not recognised;
// a condition with unknown keys never matches.
type Condition struct {
	Category    *Category
	PriceAbove  *decimal.Decimal
	UnknownKeys []string
}

func CategoryIs(c Category) *Condition {
	return &Condition{Category: &c}
}

func PriceAbove(threshold decimal.Decimal) *Condition {
	return &Condition{PriceAbove: &threshold}
}

func (c *Condition) Empty() bool {
	return c == nil || (c.Category == nil && c.PriceAbove == nil && len(c.UnknownKeys) == 0)
}

// Match reports whether every clause holds for ctx. It returns
// ErrUnknownConditionKey when the condition carries unknown keys.
func (c *Condition) Match(ctx PurchaseContext) (bool, error) {
	if c == nil {
		return true, nil
	}
	if len(c.UnknownKeys) > 0 {
		return false, fmt.Errorf("%w: %v", ErrUnknownConditionKey, c.UnknownKeys)
	}
	if c.Category != nil && ctx.Category != *c.Category {
		return false, nil
	}
	if c.PriceAbove != nil && !ctx.Total.GreaterThan(*c.PriceAbove) {
		return false, nil
	}
	return true, nil
}
