package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/IBM/sarama"
	"github.com/flowfc-progression/internal/config"
	"github.com/flowfc-progression/internal/domain"
)

// StatIngester processes stat record submissions
type StatIngester interface {
	IngestStatRecord(ctx context.Context, caller domain.Caller, raw domain.RawStatRecord) (domain.IngestResult, error)
}

// StatMessage is the JSON payload of one submission on the stat topic
type StatMessage struct {
	domain.RawStatRecord
	CallerID string `json:"caller_id"`
}

// DecodeStatMessage parses a message value. Messages without a caller are
// attributed to the system caller.
func DecodeStatMessage(value []byte) (domain.Caller, domain.RawStatRecord, error) {
	var msg StatMessage
	if err := json.Unmarshal(value, &msg); err != nil {
		return domain.Caller{}, domain.RawStatRecord{}, fmt.Errorf("decoding stat message: %w", err)
	}
	caller := domain.System
	if msg.CallerID != "" {
		caller = domain.Caller{ID: msg.CallerID}
	}
	return caller, msg.RawStatRecord, nil
}

// Consumer consumes stat record messages from Kafka
type Consumer struct {
	config        *config.KafkaConfig
	handler       StatIngester
	logger        *slog.Logger
	consumerGroup sarama.ConsumerGroup
	ctx           context.Context
	cancel        context.CancelFunc
	wg            sync.WaitGroup
	ready         chan bool
}

// NewConsumer creates a new Kafka consumer
func NewConsumer(cfg *config.KafkaConfig, handler StatIngester, logger *slog.Logger) (*Consumer, error) {
	saramaConfig := sarama.NewConfig()
	saramaConfig.Version = sarama.V3_0_0_0
	saramaConfig.Consumer.Group.Rebalance.GroupStrategies = []sarama.BalanceStrategy{sarama.NewBalanceStrategyRoundRobin()}
	saramaConfig.Consumer.Offsets.Initial = sarama.OffsetOldest
	saramaConfig.Consumer.Return.Errors = true

	consumerGroup, err := sarama.NewConsumerGroup(cfg.Brokers, cfg.GroupID, saramaConfig)
	if err != nil {
		return nil, fmt.Errorf("creating consumer group: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())

	return &Consumer{
		config:        cfg,
		handler:       handler,
		logger:        logger,
		consumerGroup: consumerGroup,
		ctx:           ctx,
		cancel:        cancel,
		ready:         make(chan bool),
	}, nil
}

// Start begins consuming messages from Kafka
func (c *Consumer) Start() error {
	c.logger.Info("starting kafka consumer",
		"brokers", c.config.Brokers,
		"topic", c.config.Topic,
		"group_id", c.config.GroupID,
	)

	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		for {
			handler := &consumerGroupHandler{
				consumer: c,
				ready:    c.ready,
			}

			if err := c.consumerGroup.Consume(c.ctx, []string{c.config.Topic}, handler); err != nil {
				if errors.Is(err, sarama.ErrClosedConsumerGroup) {
					return
				}
				c.logger.Error("error from consumer", "error", err)
			}

			if c.ctx.Err() != nil {
				return
			}

			c.ready = make(chan bool)
		}
	}()

	// Wait until consumer is ready
	select {
	case <-c.ready:
	case <-c.ctx.Done():
		return c.ctx.Err()
	}
	c.logger.Info("kafka consumer ready")

	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		for {
			select {
			case <-c.ctx.Done():
				return
			case err, ok := <-c.consumerGroup.Errors():
				if !ok {
					return
				}
				c.logger.Error("consumer group error", "error", err)
			}
		}
	}()

	return nil
}

// Stop gracefully stops the consumer
func (c *Consumer) Stop() error {
	c.logger.Info("stopping kafka consumer")
	c.cancel()
	c.wg.Wait()
	return c.consumerGroup.Close()
}

// handleMessage ingests one message value and reports whether its offset
// may be marked. Ingestion runs detached from the session, bounded only by
// the handler timeout. A cancelled ingestion leaves the offset unmarked;
// every other outcome is final and a rejected message is logged and skipped.
func (c *Consumer) handleMessage(ctx context.Context, value []byte, partition int32, offset int64) (mark bool) {
	caller, raw, err := DecodeStatMessage(value)
	if err != nil {
		c.logger.Warn("failed to unmarshal message",
			"error", err,
			"partition", partition,
			"offset", offset,
		)
		return true
	}

	timeout := c.config.HandlerTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), timeout)
	defer cancel()

	result, err := c.handler.IngestStatRecord(ctx, caller, raw)
	switch {
	case err == nil:
		c.logger.Debug("ingested stat message",
			"record_id", result.Record.ID,
			"player_id", result.Record.PlayerID,
			"partition", partition,
			"offset", offset,
		)
	case errors.Is(err, context.Canceled):
		c.logger.Warn("stat message ingestion cancelled, leaving offset for redelivery",
			"player_id", raw.PlayerID,
			"partition", partition,
			"offset", offset,
		)
		return false
	case domain.IsClientError(err), domain.IsNotFoundError(err):
		c.logger.Warn("rejected stat message",
			"player_id", raw.PlayerID,
			"caller_id", caller.ID,
			"error", err,
			"partition", partition,
			"offset", offset,
		)
	default:
		c.logger.Error("failed to ingest stat message",
			"player_id", raw.PlayerID,
			"error", err,
			"partition", partition,
			"offset", offset,
		)
	}
	return true
}

// consumerGroupHandler implements sarama.ConsumerGroupHandler
type consumerGroupHandler struct {
	consumer *Consumer
	ready    chan bool
}

// Setup is called at the beginning of a new session
func (h *consumerGroupHandler) Setup(sarama.ConsumerGroupSession) error {
	close(h.ready)
	return nil
}

// Cleanup is called at the end of a session
func (h *consumerGroupHandler) Cleanup(sarama.ConsumerGroupSession) error {
	return nil
}

// ConsumeClaim processes messages from a topic partition in order
func (h *consumerGroupHandler) ConsumeClaim(session sarama.ConsumerGroupSession, claim sarama.ConsumerGroupClaim) error {
	for {
		select {
		case <-session.Context().Done():
			return nil

		case message, ok := <-claim.Messages():
			if !ok {
				return nil
			}
			if !h.consumer.handleMessage(session.Context(), message.Value, message.Partition, message.Offset) {
				return nil
			}
			session.MarkMessage(message, "")
		}
	}
}
