package storage

import (
	"context"
	"time"

	"github.com/Azure/azure-sdk-for-go/sdk/storage/azqueue"
	"github.com/bytedance/sonic"

	"taskboard/domain"
)

// FailedWrite describes a create or patch the backend rejected.
type FailedWrite struct {
	AppID          string        `json:"appId"`
	Op             string        `json:"op"`
	RecordID       string        `json:"recordId,omitempty"`
	Fields         domain.Fields `json:"fields"`
	IdempotencyKey string        `json:"idempotencyKey,omitempty"`
	Error          string        `json:"error"`
	Kind           ErrorKind     `json:"kind,omitempty"`
	FailedAt       int64         `json:"failedAt"` // unix nanoseconds
}

type messageQueue interface {
	EnqueueMessage(ctx context.Context, content string, o *azqueue.EnqueueMessageOptions) (azqueue.EnqueueMessagesResponse, error)
}

// DeadLetterQueue records failed writes on an Azure storage queue so an
// operator can replay them.
type DeadLetterQueue struct {
	queue messageQueue
	ttl   time.Duration
}

// NewDeadLetterQueue connects to queueName. Messages expire after ttl; zero
// keeps the service default of seven days.
func NewDeadLetterQueue(connStr, queueName string, ttl time.Duration) (*DeadLetterQueue, error) {
	q, err := azqueue.NewQueueClientFromConnectionString(connStr, queueName, queueClientOptions())
	if err != nil {
		return nil, err
	}
	return &DeadLetterQueue{queue: q, ttl: ttl}, nil
}

// Enqueue stores fw as one JSON message.
func (d *DeadLetterQueue) Enqueue(ctx context.Context, fw FailedWrite) error {
	if fw.FailedAt == 0 {
		fw.FailedAt = time.Now().UnixNano()
	}
	data, err := sonic.Marshal(fw)
	if err != nil {
		return err
	}
	var opts *azqueue.EnqueueMessageOptions
	if d.ttl > 0 {
		secs := int32(d.ttl / time.Second)
		opts = &azqueue.EnqueueMessageOptions{TimeToLive: &secs}
	}
	_, err = d.queue.EnqueueMessage(ctx, string(data), opts)
	return err
}
