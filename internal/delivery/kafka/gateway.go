package kafka

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/azizikri/coupon-evaluator/internal/domain"
	"github.com/azizikri/coupon-evaluator/internal/evaluator"
	"github.com/azizikri/coupon-evaluator/internal/usecase"
	"github.com/go-logr/logr"
	"github.com/google/uuid"
	"github.com/twmb/franz-go/pkg/kgo"
)

var ErrRequestTimeout = errors.New("timeout waiting for response")

// Gateway sends evaluation requests over Kafka and waits for the reply on
// this instance's reply topic.
type Gateway struct {
	out         producer
	replyTo     string
	timeout     time.Duration
	logger      logr.Logger
	pendingResp sync.Map
}

func NewGateway(client *kgo.Client, instanceID string, logger logr.Logger) *Gateway {
	return &Gateway{
		out:     client,
		replyTo: ReplyTopic(instanceID),
		timeout: RequestTimeout,
		logger:  logger,
	}
}

func (g *Gateway) Evaluate(ctx context.Context, purchase domain.PurchaseContext) (evaluator.Result, error) {
	req := g.newRequest()
	req.Purchase = newPurchaseMessage(purchase)

	resp, err := g.requestReply(ctx, TopicEvaluateRequest, []byte(string(purchase.Category)), req)
	if err != nil {
		return evaluator.Result{}, err
	}
	if resp.Status == StatusError {
		return evaluator.Result{}, decodeError(resp.ErrorCode, resp.ErrorMessage)
	}
	return resp.result()
}

func (g *Gateway) ApplyCoupon(ctx context.Context, name string, product domain.Product) (*domain.Application, error) {
	req := g.newRequest()
	req.CouponName = name
	msg := newProductMessage(product)
	req.Product = &msg

	resp, err := g.requestReply(ctx, TopicApplyRequest, []byte(name), req)
	if err != nil {
		return nil, err
	}
	if resp.Status == StatusError {
		return nil, decodeError(resp.ErrorCode, resp.ErrorMessage)
	}
	if resp.Application == nil {
		return nil, fmt.Errorf("apply %s: empty reply", name)
	}
	return resp.Application.toDomain()
}

func (g *Gateway) newRequest() RequestPayload {
	return RequestPayload{
		SchemaVersion: SchemaVersion,
		CorrelationID: uuid.New().String(),
		ReplyTo:       g.replyTo,
	}
}

func (g *Gateway) requestReply(ctx context.Context, topic string, key []byte, req RequestPayload) (*ResponsePayload, error) {
	respChan := make(chan *ResponsePayload, 1)
	g.pendingResp.Store(req.CorrelationID, respChan)
	defer g.pendingResp.Delete(req.CorrelationID)

	payload, err := json.Marshal(req)
	if err != nil {
		return nil, err
	}
	record := &kgo.Record{
		Topic: topic,
		Key:   key,
		Value: payload,
	}

	if err := g.out.ProduceSync(ctx, record).FirstErr(); err != nil {
		return nil, err
	}

	timer := time.NewTimer(g.timeout)
	defer timer.Stop()

	select {
	case resp := <-respChan:
		return resp, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-timer.C:
		return nil, ErrRequestTimeout
	}
}

// HandleResponse routes a reply to the request waiting on its correlation id.
func (g *Gateway) HandleResponse(payload []byte) {
	dec := json.NewDecoder(bytes.NewReader(payload))
	dec.UseNumber()

	var resp ResponsePayload
	if err := dec.Decode(&resp); err != nil {
		g.logger.Error(err, "failed to decode response payload")
		return
	}

	if ch, ok := g.pendingResp.Load(resp.CorrelationID); ok {
		select {
		case ch.(chan *ResponsePayload) <- &resp:
		default:
			g.logger.V(1).Info("duplicate response dropped", "correlation_id", resp.CorrelationID)
		}
		return
	}

	g.logger.V(1).Info("no pending response", "correlation_id", resp.CorrelationID)
}

// StartReplyPoller feeds records from the reply topic into HandleResponse
// until the client is closed.
func (g *Gateway) StartReplyPoller(ctx context.Context, client *kgo.Client) {
	go func() {
		for {
			fetches := client.PollFetches(ctx)
			if fetches.IsClientClosed() || ctx.Err() != nil {
				return
			}
			iter := fetches.RecordIter()
			for !iter.Done() {
				g.HandleResponse(iter.Next().Value)
			}
		}
	}()
}

var _ usecase.CouponGateway = (*Gateway)(nil)
