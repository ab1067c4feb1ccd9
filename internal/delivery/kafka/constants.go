package kafka

import "time"

const (
	TopicEvaluateRequest = "coupon.evaluate.req"
	TopicApplyRequest    = "coupon.apply.req"
	TopicEvaluateRetry   = "coupon.evaluate.retry"
	TopicApplyRetry      = "coupon.apply.retry"
	TopicReplyPrefix     = "coupon.reply."
	TopicRequestSuffix   = ".req"
	TopicRetrySuffix     = ".retry"
	TopicDLQSuffix       = ".dlq"

	RequestTimeout = 3 * time.Second

	// MaxAttempts bounds how often a request is requeued through its retry
	// topic before it is parked on the DLQ.
	MaxAttempts  = 3
	RetryBackoff = 500 * time.Millisecond

	RetryHeaderNextAt  = "x-next-at"
	RetryHeaderAttempt = "x-attempt"
	ErrorHeaderKey     = "x-error"

	SchemaVersion = 1
)

// RequestTopics are consumed by the evaluation workers.
var RequestTopics = []string{TopicEvaluateRequest, TopicApplyRequest}

// RetryTopics are consumed by the requeue loop.
var RetryTopics = []string{TopicEvaluateRetry, TopicApplyRetry}

func ReplyTopic(instanceID string) string {
	return TopicReplyPrefix + instanceID
}
