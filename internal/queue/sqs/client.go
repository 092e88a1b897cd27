package sqs

import (
	"context"
	"encoding/json"
	"fmt"
	"hash/fnv"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/aws/aws-sdk-go-v2/service/sqs/types"
	"go.uber.org/zap"

	envConfig "github.com/variantlab/experiment-analytics-service/internal/config"
	"github.com/variantlab/experiment-analytics-service/internal/domain"
)

// Client wraps the SQS API for one set of shard queues
type Client struct {
	client *sqs.Client
	config envConfig.SQS
	log    *zap.Logger
}

// ShardClient is a view of the Client bound to a single shard queue. Each
// consumer pipeline owns exactly one shard.
type ShardClient struct {
	*Client
	queueURL string
}

// NewClient creates a new SQS client
func NewClient(ctx context.Context, SQSConfig envConfig.SQS, log *zap.Logger) (*Client, error) {
	configOpts := []func(*config.LoadOptions) error{
		config.WithRegion(SQSConfig.Region),
	}

	var clientOpts []func(*sqs.Options)

	// Configure for local development with ElasticMQ
	if SQSConfig.Endpoint != "" {
		log.Info("Configuring SQS for local development",
			zap.String("endpoint", SQSConfig.Endpoint))
		configOpts = append(configOpts,
			config.WithCredentialsProvider(credentials.NewStaticCredentialsProvider("dummy", "dummy", "")))

		clientOpts = append(clientOpts, func(o *sqs.Options) {
			o.BaseEndpoint = aws.String(SQSConfig.Endpoint)
		})
	}

	cfg, err := config.LoadDefaultConfig(ctx, configOpts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	sqsClient := sqs.NewFromConfig(cfg, clientOpts...)

	log.Info("SQS client created",
		zap.String("region", SQSConfig.Region),
		zap.Int("shards", len(SQSConfig.QueueURLs)))

	return &Client{
		client: sqsClient,
		config: SQSConfig,
		log:    log,
	}, nil
}

// Shards returns one ShardClient per configured queue URL
func (c *Client) Shards() []*ShardClient {
	shards := make([]*ShardClient, 0, len(c.config.QueueURLs))
	for _, url := range c.config.QueueURLs {
		shards = append(shards, &ShardClient{Client: c, queueURL: url})
	}
	return shards
}

// ReceiveMessages receives messages from the shard queue
func (s *ShardClient) ReceiveMessages(ctx context.Context, input *sqs.ReceiveMessageInput) (*sqs.ReceiveMessageOutput, error) {
	return s.client.ReceiveMessage(ctx, input)
}

// DeleteMessage deletes a message from the shard queue
func (s *ShardClient) DeleteMessage(ctx context.Context, input *sqs.DeleteMessageInput) (*sqs.DeleteMessageOutput, error) {
	return s.client.DeleteMessage(ctx, input)
}

// QueueURL returns the shard's queue URL
func (s *ShardClient) QueueURL() string {
	return s.queueURL
}

// shardFor routes a user id to one of the shard queues. Same user, same
// shard, so per-user order is preserved by the bus.
func (c *Client) shardFor(userID string) string {
	h := fnv.New32a()
	h.Write([]byte(userID))
	return c.config.QueueURLs[int(h.Sum32())%len(c.config.QueueURLs)]
}

// PublishEvent publishes an event to the shard queue owning its user
func (c *Client) PublishEvent(ctx context.Context, event *domain.Event) error {
	isValid := 0
	if event.IsValid() {
		isValid = 1
	}

	messageBody := map[string]interface{}{
		"id":            event.ID,
		"experiment_id": event.ExperimentID,
		"user_id":       event.UserID,
		"variant_id":    event.VariantID,
		"variant_key":   event.VariantKey,
		"event_type":    event.EventType,
		"timestamp":     event.Timestamp.UTC().Format("2006-01-02T15:04:05.000Z07:00"),
		"assignment_at": event.AssignmentAt.UTC().Format("2006-01-02T15:04:05.000Z07:00"),
		"properties":    event.Properties,
		"is_valid":      isValid,
	}

	bodyJSON, err := json.Marshal(messageBody)
	if err != nil {
		c.log.Error("Failed to marshal event",
			zap.String("id", event.ID),
			zap.Error(err))
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	queueURL := c.shardFor(event.UserID)

	_, err = c.client.SendMessage(ctx, &sqs.SendMessageInput{
		QueueUrl:    aws.String(queueURL),
		MessageBody: aws.String(string(bodyJSON)),
		MessageAttributes: map[string]types.MessageAttributeValue{
			"EventType": {
				DataType:    aws.String("String"),
				StringValue: aws.String(event.EventType),
			},
		},
	})
	if err != nil {
		c.log.Error("Failed to send message to SQS",
			zap.String("id", event.ID),
			zap.String("queue_url", queueURL),
			zap.Error(err))
		return fmt.Errorf("failed to send message to SQS: %w", err)
	}

	c.log.Info("Event published to SQS",
		zap.String("id", event.ID),
		zap.String("event_type", event.EventType))

	return nil
}
