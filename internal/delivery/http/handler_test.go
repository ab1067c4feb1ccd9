package http

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/azizikri/coupon-evaluator/internal/delivery/kafka"
	"github.com/azizikri/coupon-evaluator/internal/domain"
	"github.com/azizikri/coupon-evaluator/internal/evaluator"
	"github.com/azizikri/coupon-evaluator/internal/repository"
	"github.com/azizikri/coupon-evaluator/internal/usecase"
	"github.com/go-chi/chi/v5"
	"github.com/go-logr/logr"
	"github.com/samber/lo"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestServer(t *testing.T) *httptest.Server {
	t.Helper()

	store, err := repository.OpenSQLite(":memory:")
	require.NoError(t, err)

	svc := usecase.NewCouponService(store,
		usecase.WithLogger(logr.Discard()),
		usecase.WithClock(func() time.Time { return time.Date(2022, 1, 1, 9, 0, 0, 0, time.UTC) }),
	)
	_, err = svc.SeedCatalog(context.Background(), domain.SeedRecords)
	require.NoError(t, err)

	r := chi.NewRouter()
	NewHandler(svc, kafka.NewDirectGateway(svc)).Routes(r)

	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)
	return srv
}

func do(t *testing.T, srv *httptest.Server, method, path, body string) *http.Response {
	t.Helper()

	req, err := http.NewRequest(method, srv.URL+path, strings.NewReader(body))
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")

	resp, err := srv.Client().Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func decodeBody[T any](t *testing.T, resp *http.Response) T {
	t.Helper()
	var v T
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&v))
	return v
}

func TestListAndGetCoupons(t *testing.T) {
	srv := newTestServer(t)

	resp := do(t, srv, http.MethodGet, "/api/coupons", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	list := decodeBody[[]domain.CouponRecord](t, resp)
	assert.Len(t, list, 9)

	resp = do(t, srv, http.MethodGet, "/api/coupons/coupon_2", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	got := decodeBody[domain.CouponRecord](t, resp)
	assert.Equal(t, "coupon_2", got.Name)
	assert.Equal(t, "20%", got.Discount)

	resp = do(t, srv, http.MethodGet, "/api/coupons/coupon_404", "")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestCreateCoupon(t *testing.T) {
	srv := newTestServer(t)

	body := `{"name":"winter","discount":"15%","condition":{"category":"furniture","price_above":200},
		"validity":{"start":"2022-01-01","end":"2022-03-31"}}`
	resp := do(t, srv, http.MethodPost, "/api/coupons", body)
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	resp = do(t, srv, http.MethodPost, "/api/coupons", body)
	assert.Equal(t, http.StatusConflict, resp.StatusCode)

	cases := map[string]string{
		"malformed json":    `{"name":`,
		"missing discount":  `{"name":"x"}`,
		"bad discount":      `{"name":"x","discount":"abc"}`,
		"unknown key":       `{"name":"x","discount":5,"condition":{"weekday":"monday"}}`,
		"unknown category":  `{"name":"x","discount":5,"condition":{"category":"toys"}}`,
		"inverted validity": `{"name":"x","discount":5,"validity":{"start":"2022-02-01","end":"2022-01-01"}}`,
		"bad date":          `{"name":"x","discount":5,"validity":{"start":"yesterday","end":"2022-01-01"}}`,
		"numeric category":  `{"name":"x","discount":5,"condition":{"category":5}}`,
		"text price_above":  `{"name":"y","discount":5,"condition":{"price_above":"lots"}}`,
	}
	for name, body := range cases {
		t.Run(name, func(t *testing.T) {
			resp := do(t, srv, http.MethodPost, "/api/coupons", body)
			assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
		})
	}
}

func TestUpdateAndDeleteCoupon(t *testing.T) {
	srv := newTestServer(t)

	resp := do(t, srv, http.MethodPut, "/api/coupons/coupon_1", `{"discount":"50%"}`)
	require.Equal(t, http.StatusAccepted, resp.StatusCode)
	assert.Equal(t, "50%", decodeBody[domain.CouponRecord](t, resp).Discount)

	resp = do(t, srv, http.MethodPut, "/api/coupons/coupon_1", `{"name":"renamed","discount":1}`)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp = do(t, srv, http.MethodPut, "/api/coupons/ghost", `{"discount":1}`)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	resp = do(t, srv, http.MethodDelete, "/api/coupons/coupon_1", "")
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp = do(t, srv, http.MethodDelete, "/api/coupons/coupon_1", "")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestApplyCoupon(t *testing.T) {
	srv := newTestServer(t)

	resp := do(t, srv, http.MethodPost, "/api/coupons/coupon_5/apply", `{"name":"desk","price":150,"category":"furniture"}`)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	applied := decodeBody[ApplyResponse](t, resp)
	assert.Equal(t, "coupon_5", applied.Coupon)
	assert.Equal(t, "130", applied.Product.Price.String())
	assert.Equal(t, "20", applied.Discount.String())
	assert.Equal(t, "150", applied.OriginalPrice.String())

	resp = do(t, srv, http.MethodPost, "/api/coupons/coupon_5/apply", `{"name":"desk","price":100,"category":"furniture"}`)
	assert.Equal(t, http.StatusUnprocessableEntity, resp.StatusCode)

	resp = do(t, srv, http.MethodPost, "/api/coupons/coupon_404/apply", `{"name":"desk","price":100,"category":"furniture"}`)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	resp = do(t, srv, http.MethodPost, "/api/coupons/coupon_5/apply", `{"name":"desk","price":100,"category":"garden"}`)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp = do(t, srv, http.MethodPost, "/api/coupons/coupon_5/apply", `{"name":"desk","price":-1,"category":"food"}`)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestEvaluate(t *testing.T) {
	srv := newTestServer(t)

	resp := do(t, srv, http.MethodPost, "/api/evaluate", `{"date":"2022-01-01","total":120,"category":"food"}`)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	res := decodeBody[EvaluateResponse](t, resp)

	assert.Equal(t, []string{
		"coupon_2", "coupon_4", "coupon_5", "coupon_6", "coupon_8", "coupon_9", "coupon_1", "coupon_3",
	}, lo.Map(res.Applied, func(a AppliedResponse, _ int) string { return a.Coupon }))
	assert.Equal(t, "24", res.Applied[0].Discount.String())
	assert.Empty(t, res.Failures)
}

func TestEvaluate_DefaultsToToday(t *testing.T) {
	srv := newTestServer(t)

	// the test clock sits on 2022-01-01, the single day coupon_9 is valid
	resp := do(t, srv, http.MethodPost, "/api/evaluate", `{"total":10,"category":"electronics"}`)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	res := decodeBody[EvaluateResponse](t, resp)
	assert.Contains(t, lo.Map(res.Applied, func(a AppliedResponse, _ int) string { return a.Coupon }), "coupon_9")
}

func TestEvaluate_BadRequests(t *testing.T) {
	srv := newTestServer(t)

	for _, body := range []string{
		`{"total":"ten"}`,
		`{"total":-5}`,
		`{"total":5,"date":"01/01/2022"}`,
		`{"total":5,"category":"garden"}`,
	} {
		resp := do(t, srv, http.MethodPost, "/api/evaluate", body)
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode, body)
	}
}

type failingGateway struct{ err error }

func (g failingGateway) Evaluate(context.Context, domain.PurchaseContext) (evaluator.Result, error) {
	return evaluator.Result{}, g.err
}

func (g failingGateway) ApplyCoupon(context.Context, string, domain.Product) (*domain.Application, error) {
	return nil, g.err
}

func TestEvaluate_GatewayError(t *testing.T) {
	r := chi.NewRouter()
	NewHandler(nil, failingGateway{err: errors.New("timeout waiting for response")}).Routes(r)
	srv := httptest.NewServer(r)
	defer srv.Close()

	resp := do(t, srv, http.MethodPost, "/api/evaluate", `{"total":10}`)
	assert.Equal(t, http.StatusInternalServerError, resp.StatusCode)
}
