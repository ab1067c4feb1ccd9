package kafka

import (
	"context"

	"github.com/azizikri/coupon-evaluator/internal/domain"
	"github.com/azizikri/coupon-evaluator/internal/evaluator"
	"github.com/azizikri/coupon-evaluator/internal/usecase"
)

// DirectGateway evaluates in process, for deployments without Kafka.
type DirectGateway struct {
	service *usecase.CouponService
}

func NewDirectGateway(service *usecase.CouponService) usecase.CouponGateway {
	return &DirectGateway{service: service}
}

func (g *DirectGateway) Evaluate(ctx context.Context, purchase domain.PurchaseContext) (evaluator.Result, error) {
	return g.service.Evaluate(ctx, purchase)
}

func (g *DirectGateway) ApplyCoupon(ctx context.Context, name string, product domain.Product) (*domain.Application, error) {
	return g.service.ApplyCoupon(ctx, name, product)
}
