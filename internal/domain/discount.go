package domain

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

type DiscountKind int

const (
	DiscountUnset DiscountKind = iota
	DiscountFixed
	DiscountPercentage
)

func (k DiscountKind) String() string {
	switch k {
	case DiscountFixed:
		return "fixed"
	case DiscountPercentage:
		return "percentage"
	default:
		return "unset"
	}
}

var hundred = decimal.NewFromInt(100)

// Discount is either a fixed amount or a percentage rate in [0, 100].
// The zero value is unset and fails validation.
type Discount struct {
	kind  DiscountKind
	value decimal.Decimal
}

func Fixed(amount decimal.Decimal) Discount {
	return Discount{kind: DiscountFixed, value: amount}
}

func Percentage(rate decimal.Decimal) Discount {
	return Discount{kind: DiscountPercentage, value: rate}
}

func (d Discount) Kind() DiscountKind { return d.kind }

// Amount is the fixed amount. Zero for percentage discounts.
func (d Discount) Amount() decimal.Decimal {
	if d.kind != DiscountFixed {
		return decimal.Zero
	}
	return d.value
}

// Rate is the percentage rate. Zero for fixed discounts.
func (d Discount) Rate() decimal.Decimal {
	if d.kind != DiscountPercentage {
		return decimal.Zero
	}
	return d.value
}

func (d Discount) Validate() error {
	switch d.kind {
	case DiscountFixed:
		if d.value.IsNegative() {
			return fmt.Errorf("%w: negative amount %s", ErrInvalidDiscountFormat, d.value)
		}
	case DiscountPercentage:
		if d.value.IsNegative() || d.value.GreaterThan(hundred) {
			return fmt.Errorf("%w: rate %s%% out of range", ErrInvalidDiscountFormat, d.value)
		}
	default:
		return fmt.Errorf("%w: discount is not set", ErrInvalidDiscountFormat)
	}
	return nil
}

// Of resolves the discount against total. Fixed amounts are capped at total.
func (d Discount) Of(total decimal.Decimal) (decimal.Decimal, error) {
	if err := d.Validate(); err != nil {
		return decimal.Zero, err
	}
	if d.kind == DiscountPercentage {
		return total.Mul(d.value).Div(hundred), nil
	}
	return decimal.Min(d.value, total), nil
}

// String renders the discount the way it is written in coupon records:
// "5" for fixed, "20%" for percentage.
func (d Discount) String() string {
	switch d.kind {
	case DiscountFixed:
		return d.value.String()
	case DiscountPercentage:
		return d.value.String() + "%"
	default:
		return ""
	}
}

// ParseDiscount parses the textual form, either "5" or "20%".
func ParseDiscount(raw string) (Discount, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return Discount{}, fmt.Errorf("%w: empty discount", ErrInvalidDiscountFormat)
	}

	kind := DiscountFixed
	if strings.HasSuffix(s, "%") {
		kind = DiscountPercentage
		s = strings.TrimSpace(strings.TrimSuffix(s, "%"))
	}

	value, err := decimal.NewFromString(s)
	if err != nil {
		return Discount{}, fmt.Errorf("%w: %q", ErrInvalidDiscountFormat, raw)
	}

	d := Discount{kind: kind, value: value}
	if err := d.Validate(); err != nil {
		return Discount{}, err
	}
	return d, nil
}
