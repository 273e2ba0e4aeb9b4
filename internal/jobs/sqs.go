package jobs

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/sqs"
	sqstypes "github.com/aws/aws-sdk-go-v2/service/sqs/types"

	"github.com/imrishuroy/go-commerce-erpsync/internal/aws"
)

// SQSQueue keeps envelopes in an SQS queue. A received message stays invisible
// until Ack deletes it, so a crash mid-job leads to redelivery.
type SQSQueue struct {
	client    aws.SQSAPI
	publisher *aws.Publisher
	queueURL  string
	waitTime  int32
}

func NewSQSQueue(client aws.SQSAPI, queueURL string) *SQSQueue {
	return &SQSQueue{
		client:    client,
		publisher: aws.NewPublisher(client, queueURL),
		queueURL:  queueURL,
		waitTime:  20,
	}
}

func (q *SQSQueue) Enqueue(ctx context.Context, env Envelope) error {
	return q.send(ctx, env, 0)
}

func (q *SQSQueue) Retry(ctx context.Context, env Envelope, delay time.Duration) error {
	return q.send(ctx, env, delay)
}

func (q *SQSQueue) send(ctx context.Context, env Envelope, delay time.Duration) error {
	body, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("marshal envelope: %w", err)
	}
	attrs := map[string]string{
		"job_type":    env.Type,
		"delivery_id": env.DeliveryID,
		"attempt":     strconv.Itoa(env.Attempt),
	}
	return q.publisher.Send(ctx, aws.Message{
		Body:       string(body),
		Attributes: attrs,
		Delay:      delay,
		GroupID:    groupOf(env),
	})
}

// groupOf keeps every job of one order in one FIFO group.
func groupOf(env Envelope) string {
	if env.OrderID > 0 {
		return "order-" + strconv.FormatInt(env.OrderID, 10)
	}
	return env.Resource
}

// Dequeue long-polls until one message arrives or ctx is done.
func (q *SQSQueue) Dequeue(ctx context.Context) (*Delivery, error) {
	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		out, err := q.client.ReceiveMessage(ctx, &sqs.ReceiveMessageInput{
			QueueUrl:            &q.queueURL,
			MaxNumberOfMessages: 1,
			WaitTimeSeconds:     q.waitTime,
		})
		if err != nil {
			return nil, fmt.Errorf("receive message: %w", err)
		}
		if len(out.Messages) == 0 {
			continue
		}
		return q.toDelivery(out.Messages[0])
	}
}

func (q *SQSQueue) toDelivery(msg sqstypes.Message) (*Delivery, error) {
	handle := msg.ReceiptHandle
	ack := func(ctx context.Context) error {
		_, err := q.client.DeleteMessage(ctx, &sqs.DeleteMessageInput{
			QueueUrl:      &q.queueURL,
			ReceiptHandle: handle,
		})
		if err != nil {
			return fmt.Errorf("delete message: %w", err)
		}
		return nil
	}

	var env Envelope
	body := ""
	if msg.Body != nil {
		body = *msg.Body
	}
	if err := json.Unmarshal([]byte(body), &env); err != nil {
		// poison message: surface it with an empty type so the worker drops and acks it
		return NewDelivery(Envelope{}, ack), nil
	}
	return NewDelivery(env, ack), nil
}

// Len reports ApproximateNumberOfMessages.
func (q *SQSQueue) Len(ctx context.Context) (int, error) {
	out, err := q.client.GetQueueAttributes(ctx, &sqs.GetQueueAttributesInput{
		QueueUrl:       &q.queueURL,
		AttributeNames: []sqstypes.QueueAttributeName{sqstypes.QueueAttributeNameApproximateNumberOfMessages},
	})
	if err != nil {
		return 0, fmt.Errorf("get queue attributes: %w", err)
	}
	n, _ := strconv.Atoi(out.Attributes[string(sqstypes.QueueAttributeNameApproximateNumberOfMessages)])
	return n, nil
}
