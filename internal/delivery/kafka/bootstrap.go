package kafka

import (
	"context"
	"fmt"
	"strings"

	"github.com/azizikri/coupon-evaluator/internal/config"
	"github.com/go-logr/logr"
	"github.com/twmb/franz-go/pkg/kadm"
	"github.com/twmb/franz-go/pkg/kgo"
)

// Topics lists every topic an instance needs: request topics with their
// retry and DLQ companions, and its own reply topic.
func Topics(instanceID string) []string {
	topics := make([]string, 0, 3*len(RequestTopics)+1)
	for _, req := range RequestTopics {
		base := strings.TrimSuffix(req, TopicRequestSuffix)
		topics = append(topics, req, base+TopicRetrySuffix, req+TopicDLQSuffix)
	}
	return append(topics, ReplyTopic(instanceID))
}

func EnsureTopics(ctx context.Context, client *kgo.Client, cfg *config.Config, logger logr.Logger) error {
	adm := kadm.NewClient(client)

	partitions := cfg.TopicPartitions()
	retryPartitions := cfg.RetryPartitions()
	replicationFactor := cfg.ReplicationFactor()

	for _, topic := range Topics(cfg.KafkaInstanceID) {
		p := partitions
		if strings.HasSuffix(topic, TopicRetrySuffix) || strings.HasSuffix(topic, TopicDLQSuffix) {
			p = retryPartitions
		}

		resp, err := adm.CreateTopics(ctx, int32(p), replicationFactor, nil, topic)
		if err != nil {
			return fmt.Errorf("failed to create topic %s: %w", topic, err)
		}
		for _, detail := range resp {
			if detail.Err != nil && !strings.Contains(detail.Err.Error(), "already exists") {
				return fmt.Errorf("failed to create topic %s: %w", detail.Topic, detail.Err)
			}
		}
	}

	logger.Info("all topics ensured", "instance", cfg.KafkaInstanceID)
	return nil
}
