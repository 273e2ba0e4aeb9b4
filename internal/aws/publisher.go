package aws

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/sqs"
	sqstypes "github.com/aws/aws-sdk-go-v2/service/sqs/types"
)

// maxSQSDelay is the largest DelaySeconds SQS accepts.
const maxSQSDelay = 15 * time.Minute

// defaultGroup is the FIFO message group used when a message names none.
const defaultGroup = "jobs"

// Message is one job message bound for SQS.
type Message struct {
	Body       string
	Attributes map[string]string
	Delay      time.Duration
	// GroupID orders messages on FIFO queues; standard queues ignore it.
	GroupID string
}

// Publisher sends job messages to one queue.
type Publisher struct {
	SQS      SQSAPI
	QueueURL string
	fifo     bool
}

func NewPublisher(sqsClient SQSAPI, queueURL string) *Publisher {
	return &Publisher{
		SQS:      sqsClient,
		QueueURL: queueURL,
		fifo:     strings.HasSuffix(queueURL, ".fifo"),
	}
}

// Send publishes msg. FIFO queues reject per-message delays, so a delay is
// dropped there and the message is deduplicated by a hash of its body.
func (p *Publisher) Send(ctx context.Context, msg Message) error {
	body := msg.Body
	input := &sqs.SendMessageInput{
		QueueUrl:    &p.QueueURL,
		MessageBody: &body,
	}

	if p.fifo {
		group := msg.GroupID
		if group == "" {
			group = defaultGroup
		}
		sum := sha256.Sum256([]byte(body))
		input.MessageGroupId = awsString(group)
		input.MessageDeduplicationId = awsString(hex.EncodeToString(sum[:]))
	} else if msg.Delay > 0 {
		delay := msg.Delay
		if delay > maxSQSDelay {
			delay = maxSQSDelay
		}
		input.DelaySeconds = int32(delay / time.Second)
	}

	attrs := map[string]sqstypes.MessageAttributeValue{}
	for k, v := range msg.Attributes {
		if v == "" {
			continue
		}
		attrs[k] = sqstypes.MessageAttributeValue{
			DataType:    awsString("String"),
			StringValue: awsString(v),
		}
	}
	if len(attrs) > 0 {
		input.MessageAttributes = attrs
	}

	if _, err := p.SQS.SendMessage(ctx, input); err != nil {
		return fmt.Errorf("send message: %w", err)
	}
	return nil
}

func awsString(s string) *string { return &s }
