package queue

import (
	"context"
	"fmt"
	"sync"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
)

// sqsAPI is the subset of the SQS client the transport uses.
type sqsAPI interface {
	ReceiveMessage(ctx context.Context, params *sqs.ReceiveMessageInput, optFns ...func(*sqs.Options)) (*sqs.ReceiveMessageOutput, error)
	SendMessage(ctx context.Context, params *sqs.SendMessageInput, optFns ...func(*sqs.Options)) (*sqs.SendMessageOutput, error)
	DeleteMessage(ctx context.Context, params *sqs.DeleteMessageInput, optFns ...func(*sqs.Options)) (*sqs.DeleteMessageOutput, error)
	ChangeMessageVisibility(ctx context.Context, params *sqs.ChangeMessageVisibilityInput, optFns ...func(*sqs.Options)) (*sqs.ChangeMessageVisibilityOutput, error)
	GetQueueUrl(ctx context.Context, params *sqs.GetQueueUrlInput, optFns ...func(*sqs.Options)) (*sqs.GetQueueUrlOutput, error)
}

// SQSConfig holds SQS-specific configuration.
type SQSConfig struct {
	Region            string
	Endpoint          string
	VisibilityTimeout int32
	WaitTimeSeconds   int32
}

// SQSClient implements Client on AWS SQS. It exists for deployments where a
// managed queue is preferred over a self-hosted broker; the queue names of
// the bus map directly onto SQS queue names.
type SQSClient struct {
	client            sqsAPI
	visibilityTimeout int32
	waitTimeSeconds   int32

	mu            sync.Mutex
	queueURLCache map[string]string
}

// NewSQSClient creates an SQS transport. A custom endpoint supports
// LocalStack and compatible stand-ins.
func NewSQSClient(ctx context.Context, cfg SQSConfig) (*SQSClient, error) {
	awsCfg, err := config.LoadDefaultConfig(ctx, config.WithRegion(cfg.Region))
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	var client *sqs.Client
	if cfg.Endpoint != "" {
		client = sqs.NewFromConfig(awsCfg, func(o *sqs.Options) {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		})
	} else {
		client = sqs.NewFromConfig(awsCfg)
	}

	visibilityTimeout := cfg.VisibilityTimeout
	if visibilityTimeout == 0 {
		visibilityTimeout = 300
	}
	waitTimeSeconds := cfg.WaitTimeSeconds
	if waitTimeSeconds == 0 {
		waitTimeSeconds = 20
	}

	return &SQSClient{
		client:            client,
		visibilityTimeout: visibilityTimeout,
		waitTimeSeconds:   waitTimeSeconds,
		queueURLCache:     make(map[string]string),
	}, nil
}

func (c *SQSClient) resolveQueueURL(ctx context.Context, queueName string) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if url, ok := c.queueURLCache[queueName]; ok {
		return url, nil
	}

	result, err := c.client.GetQueueUrl(ctx, &sqs.GetQueueUrlInput{
		QueueName: aws.String(queueName),
	})
	if err != nil {
		return "", fmt.Errorf("failed to resolve queue URL for %s: %w", queueName, err)
	}

	url := aws.ToString(result.QueueUrl)
	c.queueURLCache[queueName] = url
	return url, nil
}

// sqsMessage wraps an SQS delivery for the Message interface.
type sqsMessage struct {
	body          []byte
	queueURL      string
	receiptHandle string
}

func (m *sqsMessage) Body() []byte {
	return m.body
}

// Publish sends body to the named queue.
func (c *SQSClient) Publish(ctx context.Context, queueName string, body []byte) error {
	queueURL, err := c.resolveQueueURL(ctx, queueName)
	if err != nil {
		return err
	}

	_, err = c.client.SendMessage(ctx, &sqs.SendMessageInput{
		QueueUrl:    aws.String(queueURL),
		MessageBody: aws.String(string(body)),
	})
	if err != nil {
		return fmt.Errorf("failed to send to %s: %w", queueName, err)
	}
	return nil
}

// Receive long-polls the named queue until a message arrives or the context
// is cancelled.
func (c *SQSClient) Receive(ctx context.Context, queueName string) (Message, error) {
	queueURL, err := c.resolveQueueURL(ctx, queueName)
	if err != nil {
		return nil, err
	}

	for {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		default:
		}

		resp, err := c.client.ReceiveMessage(ctx, &sqs.ReceiveMessageInput{
			QueueUrl:            aws.String(queueURL),
			MaxNumberOfMessages: 1,
			WaitTimeSeconds:     c.waitTimeSeconds,
			VisibilityTimeout:   c.visibilityTimeout,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to receive from %s: %w", queueName, err)
		}
		if len(resp.Messages) == 0 {
			continue
		}

		msg := resp.Messages[0]
		return &sqsMessage{
			body:          []byte(aws.ToString(msg.Body)),
			queueURL:      queueURL,
			receiptHandle: aws.ToString(msg.ReceiptHandle),
		}, nil
	}
}

// Ack deletes the message from its queue.
func (c *SQSClient) Ack(ctx context.Context, msg Message) error {
	sqsMsg, ok := msg.(*sqsMessage)
	if !ok {
		return fmt.Errorf("invalid message type: expected *sqsMessage")
	}

	_, err := c.client.DeleteMessage(ctx, &sqs.DeleteMessageInput{
		QueueUrl:      aws.String(sqsMsg.queueURL),
		ReceiptHandle: aws.String(sqsMsg.receiptHandle),
	})
	if err != nil {
		return fmt.Errorf("failed to ack message: %w", err)
	}
	return nil
}

// Nack makes the message immediately visible again for redelivery.
func (c *SQSClient) Nack(ctx context.Context, msg Message) error {
	sqsMsg, ok := msg.(*sqsMessage)
	if !ok {
		return fmt.Errorf("invalid message type: expected *sqsMessage")
	}

	_, err := c.client.ChangeMessageVisibility(ctx, &sqs.ChangeMessageVisibilityInput{
		QueueUrl:          aws.String(sqsMsg.queueURL),
		ReceiptHandle:     aws.String(sqsMsg.receiptHandle),
		VisibilityTimeout: 0,
	})
	if err != nil {
		return fmt.Errorf("failed to nack message: %w", err)
	}
	return nil
}

// Close is a no-op for SQS.
func (c *SQSClient) Close() error {
	return nil
}
