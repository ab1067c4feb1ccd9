package domain

import (
	"errors"

	"cloud.google.com/go/civil"
	"github.com/shopspring/decimal"
)

var (
	ErrNotFound              = errors.New("coupon not found")
	ErrDuplicateCoupon       = errors.New("coupon already exists")
	ErrNotApplicable         = errors.New("coupon is not applicable")
	ErrInvalidDiscountFormat = errors.New("invalid discount format")
	ErrUnknownConditionKey   = errors.New("unknown condition key")
	ErrInvalidDateRange      = errors.New("invalid validity range, start is after end")
	ErrUnknownCategory       = errors.New("unknown product category")
	ErrMissingName           = errors.New("coupon name is required")
	ErrInvalidCondition      = errors.New("invalid condition value")
)

type Category string

const (
	CategoryFood        Category = "food"
	CategoryFurniture   Category = "furniture"
	CategoryElectronics Category = "electronics"
)

var knownCategories = []Category{CategoryFood, CategoryFurniture, CategoryElectronics}

func (c Category) Known() bool {
	for _, k := range knownCategories {
		if c == k {
			return true
		}
	}
	return false
}

// Coupon is a parsed coupon definition. Condition and Validity are nil when
// the coupon carries no such clause.
type Coupon struct {
	Name      string
	Discount  Discount
	Condition *Condition
	Validity  *Validity
}

// PurchaseContext is what a coupon is evaluated against.
type PurchaseContext struct {
	Date     civil.Date
	Total    decimal.Decimal
	Category Category
}

type Product struct {
	Name     string
	Price    decimal.Decimal
	Category Category
}

// Context returns the purchase context for buying p on date.
func (p Product) Context(date civil.Date) PurchaseContext {
	return PurchaseContext{
		Date:     date,
		Total:    p.Price,
		Category: p.Category,
	}
}

// Application is the outcome of applying one coupon to one product.
type Application struct {
	Coupon     Coupon
	Product    Product
	Discount   decimal.Decimal
	FinalPrice decimal.Decimal
}
