package evaluator

import (
	"sort"
	"strings"
)

// Ordering sorts evaluation results in place.
type Ordering func([]Applied)

// GreatestDiscountFirst orders by discount descending, then by coupon name
// ascending.
func GreatestDiscountFirst(applied []Applied) {
	sort.SliceStable(applied, func(i, j int) bool {
		if c := applied[i].Discount.Cmp(applied[j].Discount); c != 0 {
			return c > 0
		}
		return strings.Compare(applied[i].Coupon.Name, applied[j].Coupon.Name) < 0
	})
}

// ByName orders by coupon name only.
func ByName(applied []Applied) {
	sort.SliceStable(applied, func(i, j int) bool {
		return applied[i].Coupon.Name < applied[j].Coupon.Name
	})
}
