package jobs

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/sqs"
	sqstypes "github.com/aws/aws-sdk-go-v2/service/sqs/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type mockSQS struct {
	sent    []*sqs.SendMessageInput
	inbox   []sqstypes.Message
	deleted []string
	approxN string
}

func (m *mockSQS) SendMessage(ctx context.Context, in *sqs.SendMessageInput, _ ...func(*sqs.Options)) (*sqs.SendMessageOutput, error) {
	m.sent = append(m.sent, in)
	return &sqs.SendMessageOutput{}, nil
}

func (m *mockSQS) ReceiveMessage(ctx context.Context, in *sqs.ReceiveMessageInput, _ ...func(*sqs.Options)) (*sqs.ReceiveMessageOutput, error) {
	if len(m.inbox) == 0 {
		return &sqs.ReceiveMessageOutput{}, nil
	}
	msg := m.inbox[0]
	m.inbox = m.inbox[1:]
	return &sqs.ReceiveMessageOutput{Messages: []sqstypes.Message{msg}}, nil
}

func (m *mockSQS) DeleteMessage(ctx context.Context, in *sqs.DeleteMessageInput, _ ...func(*sqs.Options)) (*sqs.DeleteMessageOutput, error) {
	m.deleted = append(m.deleted, *in.ReceiptHandle)
	return &sqs.DeleteMessageOutput{}, nil
}

func (m *mockSQS) GetQueueAttributes(ctx context.Context, in *sqs.GetQueueAttributesInput, _ ...func(*sqs.Options)) (*sqs.GetQueueAttributesOutput, error) {
	return &sqs.GetQueueAttributesOutput{Attributes: map[string]string{"ApproximateNumberOfMessages": m.approxN}}, nil
}

func strPtr(s string) *string { return &s }

func TestSQSQueueEnqueueAndRetry(t *testing.T) {
	m := &mockSQS{}
	q := NewSQSQueue(m, "https://sqs.local/q")
	ctx := context.Background()

	env := Envelope{Type: TypeOrderCreated, DeliveryID: "d-1", OrderID: 1001, Payload: json.RawMessage(`{"id":1001}`)}
	require.NoError(t, q.Enqueue(ctx, env))
	env.Attempt = 1
	require.NoError(t, q.Retry(ctx, env, 30*time.Second))

	require.Len(t, m.sent, 2)
	assert.Equal(t, int32(0), m.sent[0].DelaySeconds)
	assert.Equal(t, int32(30), m.sent[1].DelaySeconds)
	assert.Equal(t, "d-1", *m.sent[0].MessageAttributes["delivery_id"].StringValue)

	var back Envelope
	require.NoError(t, json.Unmarshal([]byte(*m.sent[1].MessageBody), &back))
	assert.Equal(t, 1, back.Attempt)
	assert.Equal(t, int64(1001), back.OrderID)
}

func TestSQSQueueDequeueAndAck(t *testing.T) {
	body, _ := json.Marshal(Envelope{Type: TypeRefundCreated, OrderID: 5})
	m := &mockSQS{inbox: []sqstypes.Message{
		{Body: strPtr("not json"), ReceiptHandle: strPtr("h-0")},
		{Body: strPtr(string(body)), ReceiptHandle: strPtr("h-1")},
	}, approxN: "4"}
	q := NewSQSQueue(m, "q")
	ctx := context.Background()

	d, err := q.Dequeue(ctx)
	require.NoError(t, err)
	assert.Equal(t, "", d.Envelope.Type)
	require.NoError(t, d.Ack(ctx))

	d, err = q.Dequeue(ctx)
	require.NoError(t, err)
	assert.Equal(t, TypeRefundCreated, d.Envelope.Type)
	require.NoError(t, d.Ack(ctx))
	assert.Equal(t, []string{"h-0", "h-1"}, m.deleted)

	n, err := q.Len(ctx)
	require.NoError(t, err)
	assert.Equal(t, 4, n)
}

func TestSQSQueueDequeueCancelled(t *testing.T) {
	q := NewSQSQueue(&mockSQS{}, "q")
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := q.Dequeue(ctx)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestSQSQueueFIFOGroupsByOrder(t *testing.T) {
	m := &mockSQS{}
	q := NewSQSQueue(m, "https://sqs.local/jobs.fifo")
	ctx := context.Background()

	require.NoError(t, q.Enqueue(ctx, Envelope{Type: TypeOrderUpdated, Resource: "order", OrderID: 1001}))
	require.NoError(t, q.Retry(ctx, Envelope{Type: TypeRefundCreated, Resource: "refund", OrderID: 1001, Attempt: 1}, time.Minute))
	require.NoError(t, q.Enqueue(ctx, Envelope{Type: TypeCustomerCreated, Resource: "customer"}))

	require.Len(t, m.sent, 3)
	assert.Equal(t, "order-1001", *m.sent[0].MessageGroupId)
	assert.Equal(t, "order-1001", *m.sent[1].MessageGroupId)
	assert.Equal(t, "customer", *m.sent[2].MessageGroupId)
	assert.Equal(t, int32(0), m.sent[1].DelaySeconds)
	assert.NotEqual(t, *m.sent[0].MessageDeduplicationId, *m.sent[1].MessageDeduplicationId)
}
