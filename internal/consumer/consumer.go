// Package consumer implements the event ingestion adapter: a pipeline of
// stages that receives bus messages from one shard, parses and validates
// them, suppresses recent duplicates and appends the survivors to the
// events store in batches.
package consumer

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/sqs/types"
	"go.uber.org/zap"

	"github.com/variantlab/experiment-analytics-service/internal/config"
	"github.com/variantlab/experiment-analytics-service/internal/queue"
	"github.com/variantlab/experiment-analytics-service/internal/store"
)

// Consumer orchestrates the ingestion pipeline for one bus shard
type Consumer struct {
	receiver    *Receiver
	parser      *ParserStage
	deduper     *Deduper
	batchWriter *BatchWriter
	log         *zap.Logger
}

// NewConsumer wires the pipeline stages for a single shard
func NewConsumer(cfg *config.Config, shard queue.QueueConsumer, eventStore store.EventStore, metrics *Metrics, log *zap.Logger) (*Consumer, error) {
	log = log.With(zap.String("shard", shard.QueueURL()))

	receiver := NewReceiver(shard, ReceiverConfig{
		MaxMessages:     10,
		WaitTimeSeconds: 20,
		BufferSize:      100,
	}, log)

	parser := NewParserStage(shard, NewJSONEventParser(), metrics, log)

	deduper, err := NewDeduper(cfg.Consumer.DedupWindowSize, metrics, log)
	if err != nil {
		return nil, fmt.Errorf("failed to create dedup window: %w", err)
	}

	batchWriter := NewBatchWriter(eventStore, deduper, BatchWriterConfig{
		MaxBatchSize: cfg.Consumer.BatchSizeMax,
		FlushTimeout: time.Duration(cfg.Consumer.BatchTimeoutSec) * time.Second,
	}, metrics, log)

	return &Consumer{
		receiver:    receiver,
		parser:      parser,
		deduper:     deduper,
		batchWriter: batchWriter,
		log:         log,
	}, nil
}

// Start runs the shard pipeline until the context is cancelled
func (c *Consumer) Start(ctx context.Context) error {
	messageChan := make(chan types.Message, 100)
	parsedChan := make(chan *Envelope, 100)
	dedupedChan := make(chan *Envelope, 100)

	var wg sync.WaitGroup
	wg.Add(4)

	go func() {
		defer wg.Done()
		c.receiver.Start(ctx, messageChan)
	}()

	go func() {
		defer wg.Done()
		c.parser.Start(ctx, messageChan, parsedChan)
	}()

	go func() {
		defer wg.Done()
		c.deduper.Start(ctx, parsedChan, dedupedChan)
	}()

	go func() {
		defer wg.Done()
		c.batchWriter.Start(ctx, dedupedChan)
	}()

	wg.Wait()
	return nil
}
