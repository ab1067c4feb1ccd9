package usecase

import (
	"context"

	"github.com/azizikri/coupon-evaluator/internal/domain"
	"github.com/azizikri/coupon-evaluator/internal/evaluator"
)

// CouponGateway is how the HTTP layer reaches evaluation, either in process
// or through Kafka request/reply.
type CouponGateway interface {
	Evaluate(ctx context.Context, purchase domain.PurchaseContext) (evaluator.Result, error)
	ApplyCoupon(ctx context.Context, name string, product domain.Product) (*domain.Application, error)
}
