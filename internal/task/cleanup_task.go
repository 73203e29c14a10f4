package task

import (
	"DriveVault/internal/mq"
	"context"
	"encoding/json"
	"time"
)

// OrphanMessage asks the cleanup worker to remove a blob that no record
// references.
type OrphanMessage struct {
	StorageKey string    `json:"storage_key"`
	Bucket     string    `json:"bucket"`
	Attempt    int       `json:"attempt"`
	ReportedAt time.Time `json:"reported_at"`
}

// OrphanPublisher enqueues orphaned blob keys on the cleanup exchange.
type OrphanPublisher struct {
	bucket  string
	publish func(ctx context.Context, body []byte) error
}

// NewOrphanPublisher publishes through the shared RabbitMQ publisher.
func NewOrphanPublisher(bucket string) *OrphanPublisher {
	return &OrphanPublisher{bucket: bucket, publish: publishCleanup}
}

func publishCleanup(ctx context.Context, body []byte) error {
	client, err := mq.GetPublisher()
	if err != nil {
		return err
	}
	return client.PublishTask(ctx, body)
}

// ReportOrphan enqueues storageKey for asynchronous removal.
func (p *OrphanPublisher) ReportOrphan(ctx context.Context, storageKey string) error {
	body, err := json.Marshal(OrphanMessage{
		StorageKey: storageKey,
		Bucket:     p.bucket,
		Attempt:    0,
		ReportedAt: time.Now().UTC(),
	})
	if err != nil {
		return err
	}
	return p.publish(ctx, body)
}
