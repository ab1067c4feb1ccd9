package domain

import (
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"

	"cloud.google.com/go/civil"
	"github.com/shopspring/decimal"
)

// CouponRecord is the loosely typed shape coupons arrive in: discount is a
// number or a "N%" string, condition and validity are free-form mappings.
type CouponRecord struct {
	Name      string          `json:"name"`
	Discount  any             `json:"discount"`
	Condition map[string]any  `json:"condition,omitempty"`
	Validity  *ValidityRecord `json:"validity,omitempty"`
}

type ValidityRecord struct {
	Start string `json:"start"`
	End   string `json:"end"`
}

// LoadFailure is a record that could not be turned into a Coupon.
type LoadFailure struct {
	Name string
	Err  error
}

func (f LoadFailure) Error() string {
	return fmt.Sprintf("coupon %q: %v", f.Name, f.Err)
}

func (f LoadFailure) Unwrap() error { return f.Err }

// ParseRecord validates a record and converts it into a Coupon.
func ParseRecord(r CouponRecord) (Coupon, error) {
	name := strings.TrimSpace(r.Name)
	if name == "" {
		return Coupon{}, ErrMissingName
	}

	discount, err := parseDiscountValue(r.Discount)
	if err != nil {
		return Coupon{}, err
	}

	cond, err := parseCondition(r.Condition)
	if err != nil {
		return Coupon{}, err
	}

	var validity *Validity
	if r.Validity != nil {
		validity, err = parseValidity(*r.Validity)
		if err != nil {
			return Coupon{}, err
		}
	}

	return Coupon{
		Name:      name,
		Discount:  discount,
		Condition: cond,
		Validity:  validity,
	}, nil
}

// LoadRecords parses every record, keeping the ones that are valid. Records
// are reported individually; a duplicate name keeps the first occurrence.
func LoadRecords(records []CouponRecord) ([]Coupon, []LoadFailure) {
	coupons := make([]Coupon, 0, len(records))
	var failures []LoadFailure
	seen := make(map[string]struct{}, len(records))

	for _, r := range records {
		c, err := ParseRecord(r)
		if err != nil {
			failures = append(failures, LoadFailure{Name: r.Name, Err: err})
			continue
		}
		if _, ok := seen[c.Name]; ok {
			failures = append(failures, LoadFailure{Name: c.Name, Err: ErrDuplicateCoupon})
			continue
		}
		seen[c.Name] = struct{}{}
		coupons = append(coupons, c)
	}

	return coupons, failures
}

// Record converts the coupon back into its record shape.
func (c Coupon) Record() CouponRecord {
	r := CouponRecord{Name: c.Name}

	switch c.Discount.Kind() {
	case DiscountFixed:
		r.Discount = json.Number(c.Discount.Amount().String())
	case DiscountPercentage:
		r.Discount = c.Discount.String()
	}

	if !c.Condition.Empty() {
		r.Condition = map[string]any{}
		if c.Condition.Category != nil {
			r.Condition[ConditionKeyCategory] = string(*c.Condition.Category)
		}
		if c.Condition.PriceAbove != nil {
			r.Condition[ConditionKeyPriceAbove] = json.Number(c.Condition.PriceAbove.String())
		}
		for _, k := range c.Condition.UnknownKeys {
			r.Condition[k] = nil
		}
	}

	if c.Validity != nil {
		r.Validity = &ValidityRecord{
			Start: c.Validity.Start.String(),
			End:   c.Validity.End.String(),
		}
	}
	return r
}

func parseDiscountValue(v any) (Discount, error) {
	switch d := v.(type) {
	case nil:
		return Discount{}, fmt.Errorf("%w: discount is mandatory", ErrInvalidDiscountFormat)
	case string:
		return ParseDiscount(d)
	case json.Number:
		return ParseDiscount(d.String())
	case decimal.Decimal:
		return validated(Fixed(d))
	case int:
		return validated(Fixed(decimal.NewFromInt(int64(d))))
	case int32:
		return validated(Fixed(decimal.NewFromInt32(d)))
	case int64:
		return validated(Fixed(decimal.NewFromInt(d)))
	case float64:
		return validated(Fixed(decimal.NewFromFloat(d)))
	default:
		return Discount{}, fmt.Errorf("%w: unsupported type %T", ErrInvalidDiscountFormat, v)
	}
}

func validated(d Discount) (Discount, error) {
	if err := d.Validate(); err != nil {
		return Discount{}, err
	}
	return d, nil
}

func parseCondition(m map[string]any) (*Condition, error) {
	if len(m) == 0 {
		return nil, nil
	}

	cond := &Condition{}
	for key, value := range m {
		switch key {
		case ConditionKeyCategory:
			s, ok := value.(string)
			if !ok {
				return nil, fmt.Errorf("%w: %s must be a string, got %T", ErrInvalidCondition, key, value)
			}
			cat := Category(s)
			cond.Category = &cat
		case ConditionKeyPriceAbove:
			threshold, err := parseAmount(value)
			if err != nil {
				return nil, fmt.Errorf("%w: %s: %v", ErrInvalidCondition, key, err)
			}
			cond.PriceAbove = &threshold
		default:
			cond.UnknownKeys = append(cond.UnknownKeys, key)
		}
	}
	sort.Strings(cond.UnknownKeys)
	return cond, nil
}

func parseAmount(v any) (decimal.Decimal, error) {
	switch n := v.(type) {
	case int:
		return decimal.NewFromInt(int64(n)), nil
	case int64:
		return decimal.NewFromInt(n), nil
	case float64:
		return decimal.NewFromFloat(n), nil
	case json.Number:
		return decimal.NewFromString(n.String())
	case string:
		return decimal.NewFromString(n)
	case decimal.Decimal:
		return n, nil
	default:
		return decimal.Zero, errors.New("not a number")
	}
}

func parseValidity(r ValidityRecord) (*Validity, error) {
	start, err := civil.ParseDate(r.Start)
	if err != nil {
		return nil, fmt.Errorf("%w: start %q: %v", ErrInvalidDateRange, r.Start, err)
	}
	end, err := civil.ParseDate(r.End)
	if err != nil {
		return nil, fmt.Errorf("%w: end %q: %v", ErrInvalidDateRange, r.End, err)
	}
	return NewValidity(start, end)
}
