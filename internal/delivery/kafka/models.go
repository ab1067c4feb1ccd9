package kafka

import (
	"errors"

	"cloud.google.com/go/civil"
	"github.com/azizikri/coupon-evaluator/internal/domain"
	"github.com/azizikri/coupon-evaluator/internal/evaluator"
	"github.com/samber/lo"
	"github.com/shopspring/decimal"
)

const (
	StatusSuccess = "SUCCESS"
	StatusError   = "ERROR"
)

const (
	ErrCodeNotFound            = "NOT_FOUND"
	ErrCodeNotApplicable       = "NOT_APPLICABLE"
	ErrCodeInvalidDiscount     = "INVALID_DISCOUNT_FORMAT"
	ErrCodeUnknownConditionKey = "UNKNOWN_CONDITION_KEY"
	ErrCodeInvalidDateRange    = "INVALID_DATE_RANGE"
	ErrCodeDuplicateCoupon     = "DUPLICATE_COUPON"
	ErrCodeUnknownCategory     = "UNKNOWN_CATEGORY"
	ErrCodeMissingName         = "MISSING_NAME"
	ErrCodeInvalidCondition    = "INVALID_CONDITION"
	ErrCodeInvalidRequest      = "INVALID_REQUEST"
	ErrCodeInternalError       = "INTERNAL_ERROR"
)

var codeSentinels = []struct {
	code string
	err  error
}{
	{ErrCodeNotFound, domain.ErrNotFound},
	{ErrCodeNotApplicable, domain.ErrNotApplicable},
	{ErrCodeInvalidDiscount, domain.ErrInvalidDiscountFormat},
	{ErrCodeUnknownConditionKey, domain.ErrUnknownConditionKey},
	{ErrCodeInvalidDateRange, domain.ErrInvalidDateRange},
	{ErrCodeDuplicateCoupon, domain.ErrDuplicateCoupon},
	{ErrCodeUnknownCategory, domain.ErrUnknownCategory},
	{ErrCodeMissingName, domain.ErrMissingName},
	{ErrCodeInvalidCondition, domain.ErrInvalidCondition},
}

type PurchaseMessage struct {
	Date     string          `json:"date,omitempty"`
	Total    decimal.Decimal `json:"total"`
	Category string          `json:"category,omitempty"`
}

type ProductMessage struct {
	Name     string          `json:"name"`
	Price    decimal.Decimal `json:"price"`
	Category string          `json:"category,omitempty"`
}

type AppliedMessage struct {
	Coupon   domain.CouponRecord `json:"coupon"`
	Discount decimal.Decimal     `json:"discount"`
}

type FailureMessage struct {
	Coupon       string `json:"coupon"`
	ErrorCode    string `json:"error_code"`
	ErrorMessage string `json:"error_message"`
}

type ApplicationMessage struct {
	Coupon     domain.CouponRecord `json:"coupon"`
	Product    ProductMessage      `json:"product"`
	Discount   decimal.Decimal     `json:"discount"`
	FinalPrice decimal.Decimal     `json:"final_price"`
}

type RequestPayload struct {
	SchemaVersion int              `json:"schema_version"`
	CorrelationID string           `json:"correlation_id"`
	ReplyTo       string           `json:"reply_to"`
	CouponName    string           `json:"coupon_name,omitempty"`
	Purchase      *PurchaseMessage `json:"purchase,omitempty"`
	Product       *ProductMessage  `json:"product,omitempty"`
}

type ResponsePayload struct {
	SchemaVersion int                 `json:"schema_version"`
	CorrelationID string              `json:"correlation_id"`
	Status        string              `json:"status"`
	ErrorCode     string              `json:"error_code,omitempty"`
	ErrorMessage  string              `json:"error_message,omitempty"`
	Applied       []AppliedMessage    `json:"applied,omitempty"`
	Failures      []FailureMessage    `json:"failures,omitempty"`
	Application   *ApplicationMessage `json:"application,omitempty"`
}

// remoteError carries an error reported by another instance. It unwraps to
// the matching domain sentinel when the code has one.
type remoteError struct {
	code     string
	message  string
	sentinel error
}

func (e *remoteError) Error() string { return e.message }

func (e *remoteError) Unwrap() error { return e.sentinel }

func errorCode(err error) string {
	for _, cs := range codeSentinels {
		if errors.Is(err, cs.err) {
			return cs.code
		}
	}
	return ErrCodeInternalError
}

func decodeError(code, message string) error {
	if message == "" {
		message = code
	}
	rerr := &remoteError{code: code, message: message}
	for _, cs := range codeSentinels {
		if cs.code == code {
			rerr.sentinel = cs.err
		}
	}
	return rerr
}

func newPurchaseMessage(p domain.PurchaseContext) *PurchaseMessage {
	msg := &PurchaseMessage{Total: p.Total, Category: string(p.Category)}
	if p.Date.IsValid() {
		msg.Date = p.Date.String()
	}
	return msg
}

func (m PurchaseMessage) toDomain() (domain.PurchaseContext, error) {
	purchase := domain.PurchaseContext{Total: m.Total, Category: domain.Category(m.Category)}
	if m.Date != "" {
		date, err := civil.ParseDate(m.Date)
		if err != nil {
			return domain.PurchaseContext{}, err
		}
		purchase.Date = date
	}
	return purchase, nil
}

func newProductMessage(p domain.Product) ProductMessage {
	return ProductMessage{Name: p.Name, Price: p.Price, Category: string(p.Category)}
}

func (m ProductMessage) toDomain() domain.Product {
	return domain.Product{Name: m.Name, Price: m.Price, Category: domain.Category(m.Category)}
}

func newResultResponse(correlationID string, res evaluator.Result) *ResponsePayload {
	resp := successResponse(correlationID)
	resp.Applied = lo.Map(res.Applied, func(a evaluator.Applied, _ int) AppliedMessage {
		return AppliedMessage{Coupon: a.Coupon.Record(), Discount: a.Discount}
	})
	resp.Failures = lo.Map(res.Failures, func(f evaluator.Failure, _ int) FailureMessage {
		return FailureMessage{Coupon: f.Coupon, ErrorCode: errorCode(f.Err), ErrorMessage: f.Err.Error()}
	})
	return resp
}

// result rebuilds the evaluation result carried by a reply. Coupons are
// re-parsed from their records so callers get the same typed values as an
// in-process evaluation.
func (r *ResponsePayload) result() (evaluator.Result, error) {
	res := evaluator.Result{
		Applied:  make([]evaluator.Applied, 0, len(r.Applied)),
		Failures: make([]evaluator.Failure, 0, len(r.Failures)),
	}
	for _, a := range r.Applied {
		c, err := domain.ParseRecord(a.Coupon)
		if err != nil {
			return evaluator.Result{}, err
		}
		res.Applied = append(res.Applied, evaluator.Applied{Coupon: c, Discount: a.Discount})
	}
	for _, f := range r.Failures {
		res.Failures = append(res.Failures, evaluator.Failure{
			Coupon: f.Coupon,
			Err:    decodeError(f.ErrorCode, f.ErrorMessage),
		})
	}
	return res, nil
}

func newApplicationResponse(correlationID string, app *domain.Application) *ResponsePayload {
	resp := successResponse(correlationID)
	resp.Application = &ApplicationMessage{
		Coupon:     app.Coupon.Record(),
		Product:    newProductMessage(app.Product),
		Discount:   app.Discount,
		FinalPrice: app.FinalPrice,
	}
	return resp
}

func (m *ApplicationMessage) toDomain() (*domain.Application, error) {
	c, err := domain.ParseRecord(m.Coupon)
	if err != nil {
		return nil, err
	}
	return &domain.Application{
		Coupon:     c,
		Product:    m.Product.toDomain(),
		Discount:   m.Discount,
		FinalPrice: m.FinalPrice,
	}, nil
}

func successResponse(correlationID string) *ResponsePayload {
	return &ResponsePayload{
		SchemaVersion: SchemaVersion,
		CorrelationID: correlationID,
		Status:        StatusSuccess,
	}
}

func errorResponse(correlationID, code, message string) *ResponsePayload {
	return &ResponsePayload{
		SchemaVersion: SchemaVersion,
		CorrelationID: correlationID,
		Status:        StatusError,
		ErrorCode:     code,
		ErrorMessage:  message,
	}
}
