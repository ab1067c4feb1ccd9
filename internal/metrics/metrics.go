package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	Evaluations = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "coupon",
		Name:      "evaluations_total",
		Help:      "Purchase contexts evaluated against the catalog.",
	})

	CouponsApplicable = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "coupon",
		Name:      "applicable_total",
		Help:      "Coupons found applicable across all evaluations.",
	})

	CouponFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "coupon",
		Name:      "failures_total",
		Help:      "Coupons that could not be loaded or evaluated, by reason.",
	}, []string{"reason"})

	Applications = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "coupon",
		Name:      "applications_total",
		Help:      "Single coupon applications to a product, by outcome.",
	}, []string{"outcome"})
)

func Handler() http.Handler {
	return promhttp.Handler()
}
