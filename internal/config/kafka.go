package config

import (
	"fmt"

	"github.com/IBM/sarama"
)

// SaramaConfig builds the client configuration shared by the consumer group
// and the event writer.
func (q *queueConfig) SaramaConfig() (*sarama.Config, error) {
	cfg := sarama.NewConfig()
	cfg.ClientID = q.ClientID
	if q.Version != "" {
		version, err := sarama.ParseKafkaVersion(q.Version)
		if err != nil {
			return nil, fmt.Errorf("invalid kafka version %q: %w", q.Version, err)
		}
		cfg.Version = version
	}

	cfg.Producer.Return.Successes = true
	cfg.Producer.RequiredAcks = sarama.WaitForAll
	cfg.Producer.Idempotent = false

	cfg.Consumer.Return.Errors = true
	cfg.Consumer.Offsets.Initial = sarama.OffsetOldest
	// Offsets are marked only after a scan finished, so autocommit flushes
	// nothing that was not handled.
	cfg.Consumer.Offsets.AutoCommit.Enable = true
	cfg.Consumer.Group.Rebalance.GroupStrategies = []sarama.BalanceStrategy{sarama.NewBalanceStrategyRoundRobin()}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// KafkaEnabled reports whether brokers are configured.
func (q *queueConfig) KafkaEnabled() bool {
	return len(q.Brokers) > 0 && q.Brokers[0] != ""
}
