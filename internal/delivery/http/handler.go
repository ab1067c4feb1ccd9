package http

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	"cloud.google.com/go/civil"
	"github.com/azizikri/coupon-evaluator/internal/domain"
	"github.com/azizikri/coupon-evaluator/internal/evaluator"
	"github.com/azizikri/coupon-evaluator/internal/usecase"
	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/samber/lo"
	"github.com/shopspring/decimal"
)

type ValidityRequest struct {
	Start string `json:"start" validate:"required,datetime=2006-01-02"`
	End   string `json:"end" validate:"required,datetime=2006-01-02"`
}

type CouponRequest struct {
	Name      string           `json:"name" validate:"required"`
	Discount  any              `json:"discount" validate:"required"`
	Condition map[string]any   `json:"condition"`
	Validity  *ValidityRequest `json:"validity"`
}

type ProductRequest struct {
	Name     string          `json:"name" validate:"required"`
	Price    decimal.Decimal `json:"price"`
	Category string          `json:"category" validate:"required,oneof=food furniture electronics"`
}

type EvaluateRequest struct {
	Date     string          `json:"date" validate:"omitempty,datetime=2006-01-02"`
	Total    decimal.Decimal `json:"total"`
	Category string          `json:"category" validate:"omitempty,oneof=food furniture electronics"`
}

type ProductResponse struct {
	Name     string          `json:"name"`
	Price    decimal.Decimal `json:"price"`
	Category string          `json:"category"`
}

type ApplyResponse struct {
	Coupon        string          `json:"coupon"`
	OriginalPrice decimal.Decimal `json:"original_price"`
	Discount      decimal.Decimal `json:"discount"`
	Product       ProductResponse `json:"product"`
}

type AppliedResponse struct {
	Coupon   string          `json:"coupon"`
	Discount decimal.Decimal `json:"discount"`
}

type FailureResponse struct {
	Coupon string `json:"coupon"`
	Error  string `json:"error"`
}

type EvaluateResponse struct {
	Applied  []AppliedResponse `json:"applied"`
	Failures []FailureResponse `json:"failures"`
}

type Handler struct {
	service  *usecase.CouponService
	gateway  usecase.CouponGateway
	validate *validator.Validate
}

// NewHandler serves catalog management from service and routes evaluation
// through gateway.
func NewHandler(service *usecase.CouponService, gateway usecase.CouponGateway) *Handler {
	return &Handler{
		service:  service,
		gateway:  gateway,
		validate: validator.New(),
	}
}

func (h *Handler) Routes(r chi.Router) {
	r.Route("/api", func(r chi.Router) {
		r.Get("/coupons", h.ListCoupons)
		r.Post("/coupons", h.CreateCoupon)
		r.Get("/coupons/{name}", h.GetCoupon)
		r.Put("/coupons/{name}", h.UpdateCoupon)
		r.Delete("/coupons/{name}", h.DeleteCoupon)
		r.Post("/coupons/{name}/apply", h.ApplyCoupon)
		r.Post("/evaluate", h.Evaluate)
	})
}

func (h *Handler) ListCoupons(w http.ResponseWriter, r *http.Request) {
	coupons, _, err := h.service.ListCoupons(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, lo.Map(coupons, func(c domain.Coupon, _ int) domain.CouponRecord {
		return c.Record()
	}))
}

func (h *Handler) GetCoupon(w http.ResponseWriter, r *http.Request) {
	coupon, err := h.service.GetCoupon(r.Context(), chi.URLParam(r, "name"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, coupon.Record())
}

func (h *Handler) CreateCoupon(w http.ResponseWriter, r *http.Request) {
	var req CouponRequest
	if err := h.decode(r, &req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	coupon, err := h.service.CreateCoupon(r.Context(), req.record())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, coupon.Record())
}

func (h *Handler) UpdateCoupon(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")

	var req CouponRequest
	if err := decodeJSON(r, &req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if req.Name != "" && req.Name != name {
		http.Error(w, "coupon name cannot be changed", http.StatusBadRequest)
		return
	}
	req.Name = name
	if err := h.validate.Struct(req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	coupon, err := h.service.UpdateCoupon(r.Context(), req.record())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, coupon.Record())
}

func (h *Handler) DeleteCoupon(w http.ResponseWriter, r *http.Request) {
	if err := h.service.DeleteCoupon(r.Context(), chi.URLParam(r, "name")); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusOK)
}

func (h *Handler) ApplyCoupon(w http.ResponseWriter, r *http.Request) {
	var req ProductRequest
	if err := h.decode(r, &req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if req.Price.IsNegative() {
		http.Error(w, "price must not be negative", http.StatusBadRequest)
		return
	}

	product := domain.Product{Name: req.Name, Price: req.Price, Category: domain.Category(req.Category)}
	app, err := h.gateway.ApplyCoupon(r.Context(), chi.URLParam(r, "name"), product)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, ApplyResponse{
		Coupon:        app.Coupon.Name,
		OriginalPrice: req.Price,
		Discount:      app.Discount,
		Product: ProductResponse{
			Name:     app.Product.Name,
			Price:    app.FinalPrice,
			Category: string(app.Product.Category),
		},
	})
}

func (h *Handler) Evaluate(w http.ResponseWriter, r *http.Request) {
	var req EvaluateRequest
	if err := h.decode(r, &req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if req.Total.IsNegative() {
		http.Error(w, "total must not be negative", http.StatusBadRequest)
		return
	}

	purchase := domain.PurchaseContext{Total: req.Total, Category: domain.Category(req.Category)}
	if req.Date != "" {
		date, err := civil.ParseDate(req.Date)
		if err != nil {
			http.Error(w, "invalid date", http.StatusBadRequest)
			return
		}
		purchase.Date = date
	}

	res, err := h.gateway.Evaluate(r.Context(), purchase)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, newEvaluateResponse(res))
}

func (h *Handler) decode(r *http.Request, dst any) error {
	if err := decodeJSON(r, dst); err != nil {
		return err
	}
	return h.validate.Struct(dst)
}

// decodeJSON keeps JSON numbers as json.Number so fixed discounts and price
// thresholds reach the domain without float rounding.
func decodeJSON(r *http.Request, dst any) error {
	body, err := io.ReadAll(r.Body)
	if err != nil {
		return errors.New("invalid request body")
	}
	dec := json.NewDecoder(bytes.NewReader(body))
	dec.UseNumber()
	if err := dec.Decode(dst); err != nil {
		return fmt.Errorf("invalid request body: %w", err)
	}
	return nil
}

func (req CouponRequest) record() domain.CouponRecord {
	record := domain.CouponRecord{
		Name:      req.Name,
		Discount:  req.Discount,
		Condition: req.Condition,
	}
	if req.Validity != nil {
		record.Validity = &domain.ValidityRecord{Start: req.Validity.Start, End: req.Validity.End}
	}
	return record
}

func newEvaluateResponse(res evaluator.Result) EvaluateResponse {
	return EvaluateResponse{
		Applied: lo.Map(res.Applied, func(a evaluator.Applied, _ int) AppliedResponse {
			return AppliedResponse{Coupon: a.Coupon.Name, Discount: a.Discount}
		}),
		Failures: lo.Map(res.Failures, func(f evaluator.Failure, _ int) FailureResponse {
			return FailureResponse{Coupon: f.Coupon, Error: f.Err.Error()}
		}),
	}
}

func writeError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, domain.ErrNotFound):
		http.Error(w, "coupon not found", http.StatusNotFound)
	case errors.Is(err, domain.ErrDuplicateCoupon):
		http.Error(w, "coupon already exists", http.StatusConflict)
	case errors.Is(err, domain.ErrNotApplicable):
		http.Error(w, "coupon is not applicable", http.StatusUnprocessableEntity)
	case errors.Is(err, domain.ErrInvalidDiscountFormat),
		errors.Is(err, domain.ErrUnknownConditionKey),
		errors.Is(err, domain.ErrInvalidDateRange),
		errors.Is(err, domain.ErrUnknownCategory),
		errors.Is(err, domain.ErrMissingName),
		errors.Is(err, domain.ErrInvalidCondition):
		http.Error(w, err.Error(), http.StatusBadRequest)
	default:
		http.Error(w, "internal server error", http.StatusInternalServerError)
	}
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(body)
}
