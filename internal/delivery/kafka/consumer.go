package kafka

import (
	"context"
	"encoding/json"
	"strconv"
	"strings"
	"time"

	"github.com/azizikri/coupon-evaluator/internal/usecase"
	"github.com/go-logr/logr"
	"github.com/twmb/franz-go/pkg/kgo"
)

// producer is the part of *kgo.Client the consumer writes through.
type producer interface {
	ProduceSync(ctx context.Context, rs ...*kgo.Record) kgo.ProduceResults
}

type Consumer struct {
	client  *kgo.Client
	out     producer
	service usecase.CouponGateway
	logger  logr.Logger
	now     func() time.Time
}

func NewConsumer(client *kgo.Client, service usecase.CouponGateway, logger logr.Logger) *Consumer {
	return &Consumer{
		client:  client,
		out:     client,
		service: service,
		logger:  logger,
		now:     time.Now,
	}
}

func (c *Consumer) Start(ctx context.Context) {
	for {
		fetches := c.client.PollFetches(ctx)
		if fetches.IsClientClosed() || ctx.Err() != nil {
			return
		}
		if errs := fetches.Errors(); len(errs) > 0 {
			c.logger.Error(errs[0].Err, "consumer poll errors", "count", len(errs))
		}

		iter := fetches.RecordIter()
		for !iter.Done() {
			c.processRecord(ctx, iter.Next())
		}

		if err := c.client.CommitRecords(ctx, fetches.Records()...); err != nil {
			c.logger.Error(err, "failed to commit records")
		}
	}
}

// StartRetry moves records from the retry topics back onto their request
// topics once their backoff has elapsed.
func (c *Consumer) StartRetry(ctx context.Context) {
	for {
		fetches := c.client.PollFetches(ctx)
		if fetches.IsClientClosed() || ctx.Err() != nil {
			return
		}
		iter := fetches.RecordIter()
		for !iter.Done() {
			record := iter.Next()

			// records wait in turn, so one backoff holds the rest of the batch
			if nextAt, ok := retryNextAt(record); ok && c.now().Before(nextAt) {
				select {
				case <-time.After(nextAt.Sub(c.now())):
				case <-ctx.Done():
					return
				}
			}

			requeued := &kgo.Record{
				Topic:   strings.TrimSuffix(record.Topic, TopicRetrySuffix) + TopicRequestSuffix,
				Key:     record.Key,
				Value:   record.Value,
				Headers: record.Headers,
			}
			if err := c.out.ProduceSync(ctx, requeued).FirstErr(); err != nil {
				c.logger.Error(err, "failed to requeue retry record", "topic", requeued.Topic)
			}
		}
		if err := c.client.CommitRecords(ctx, fetches.Records()...); err != nil {
			c.logger.Error(err, "failed to commit retry records")
		}
	}
}

func (c *Consumer) processRecord(ctx context.Context, record *kgo.Record) {
	switch record.Topic {
	case TopicEvaluateRequest:
		c.handleEvaluate(ctx, record)
	case TopicApplyRequest:
		c.handleApply(ctx, record)
	default:
		c.logger.V(1).Info("ignoring record on unexpected topic", "topic", record.Topic)
	}
}

func (c *Consumer) handleEvaluate(ctx context.Context, record *kgo.Record) {
	var req RequestPayload
	if err := json.Unmarshal(record.Value, &req); err != nil || req.Purchase == nil {
		c.sendError(ctx, record, ErrCodeInvalidRequest, "invalid evaluate payload")
		return
	}

	purchase, err := req.Purchase.toDomain()
	if err != nil {
		c.sendError(ctx, record, ErrCodeInvalidRequest, "invalid purchase date: "+err.Error())
		return
	}

	res, err := c.service.Evaluate(ctx, purchase)
	if err != nil {
		c.fail(ctx, record, req, err)
		return
	}
	c.sendResponse(ctx, req.ReplyTo, newResultResponse(req.CorrelationID, res))
}

func (c *Consumer) handleApply(ctx context.Context, record *kgo.Record) {
	var req RequestPayload
	if err := json.Unmarshal(record.Value, &req); err != nil || req.Product == nil || req.CouponName == "" {
		c.sendError(ctx, record, ErrCodeInvalidRequest, "invalid apply payload")
		return
	}

	app, err := c.service.ApplyCoupon(ctx, req.CouponName, req.Product.toDomain())
	if err != nil {
		c.fail(ctx, record, req, err)
		return
	}
	c.sendResponse(ctx, req.ReplyTo, newApplicationResponse(req.CorrelationID, app))
}

// fail replies with a domain error straight away. Anything else is treated
// as transient and goes through the retry topic until MaxAttempts is reached.
func (c *Consumer) fail(ctx context.Context, record *kgo.Record, req RequestPayload, err error) {
	code := errorCode(err)
	if code != ErrCodeInternalError {
		c.sendResponse(ctx, req.ReplyTo, errorResponse(req.CorrelationID, code, err.Error()))
		return
	}

	attempt := retryAttempt(record) + 1
	if attempt >= MaxAttempts {
		c.logger.Error(err, "giving up on request", "topic", record.Topic, "correlation_id", req.CorrelationID, "attempts", attempt)
		c.sendError(ctx, record, ErrCodeInternalError, err.Error())
		return
	}

	retry := &kgo.Record{
		Topic: strings.TrimSuffix(record.Topic, TopicRequestSuffix) + TopicRetrySuffix,
		Key:   record.Key,
		Value: record.Value,
		Headers: []kgo.RecordHeader{
			{Key: RetryHeaderAttempt, Value: []byte(strconv.Itoa(attempt))},
			{Key: RetryHeaderNextAt, Value: []byte(c.now().Add(RetryBackoff * time.Duration(attempt)).UTC().Format(time.RFC3339Nano))},
			{Key: ErrorHeaderKey, Value: []byte(err.Error())},
		},
	}
	if perr := c.out.ProduceSync(ctx, retry).FirstErr(); perr != nil {
		c.logger.Error(perr, "failed to schedule retry", "topic", retry.Topic)
		c.sendError(ctx, record, ErrCodeInternalError, err.Error())
		return
	}
	c.logger.V(1).Info("request scheduled for retry", "topic", retry.Topic, "attempt", attempt, "error", err.Error())
}

func (c *Consumer) sendResponse(ctx context.Context, topic string, resp *ResponsePayload) {
	if topic == "" {
		return
	}
	payload, err := json.Marshal(resp)
	if err != nil {
		c.logger.Error(err, "failed to encode response", "correlation_id", resp.CorrelationID)
		return
	}
	record := &kgo.Record{
		Topic: topic,
		Key:   []byte(resp.CorrelationID),
		Value: payload,
	}
	if err := c.out.ProduceSync(ctx, record).FirstErr(); err != nil {
		c.logger.Error(err, "failed to send response", "topic", topic)
	}
}

// sendError replies to the caller, when the payload names one, and parks the
// original record on the DLQ.
func (c *Consumer) sendError(ctx context.Context, record *kgo.Record, code, message string) {
	var req RequestPayload
	_ = json.Unmarshal(record.Value, &req)

	c.sendResponse(ctx, req.ReplyTo, errorResponse(req.CorrelationID, code, message))

	dlq := &kgo.Record{
		Topic: strings.TrimSuffix(record.Topic, TopicRetrySuffix) + TopicDLQSuffix,
		Key:   record.Key,
		Value: record.Value,
		Headers: []kgo.RecordHeader{
			{Key: ErrorHeaderKey, Value: []byte(message)},
		},
	}
	if err := c.out.ProduceSync(ctx, dlq).FirstErr(); err != nil {
		c.logger.Error(err, "failed to write dlq record", "topic", dlq.Topic)
	}
}

func retryNextAt(record *kgo.Record) (time.Time, bool) {
	value, ok := header(record, RetryHeaderNextAt)
	if !ok {
		return time.Time{}, false
	}
	nextAt, err := time.Parse(time.RFC3339Nano, value)
	if err != nil {
		return time.Time{}, false
	}
	return nextAt, true
}

func retryAttempt(record *kgo.Record) int {
	value, ok := header(record, RetryHeaderAttempt)
	if !ok {
		return 0
	}
	attempt, err := strconv.Atoi(value)
	if err != nil || attempt < 0 {
		return 0
	}
	return attempt
}

func header(record *kgo.Record, key string) (string, bool) {
	for _, h := range record.Headers {
		if h.Key == key {
			return string(h.Value), true
		}
	}
	return "", false
}
