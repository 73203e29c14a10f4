package worker

import (
	"DriveVault/internal/metrics"
	"DriveVault/internal/mq"
	"DriveVault/internal/storage"
	"DriveVault/internal/task"
	"context"
	"encoding/json"
	"errors"
	"log"
	"sync"
	"time"

	"github.com/minio/minio-go/v7"
	amqp "github.com/rabbitmq/amqp091-go"
	"golang.org/x/time/rate"
)

var errBucketMismatch = errors.New("message targets another bucket")

// nonRetryableCodes are S3 errors that another attempt cannot fix.
var nonRetryableCodes = map[string]bool{
	"AccessDenied":          true,
	"InvalidAccessKeyId":    true,
	"SignatureDoesNotMatch": true,
	"NoSuchBucket":          true,
	"InvalidBucketName":     true,
}

// RetryPublisher is the subset of mq.Client the cleaner needs.
type RetryPublisher interface {
	PublishRetry(ctx context.Context, body []byte, delay time.Duration) error
	PublishDLQ(ctx context.Context, body []byte) error
}

// KeyIndex tells whether a blob is still referenced by a record.
type KeyIndex interface {
	ReferencesKey(ctx context.Context, storageKey string) (bool, error)
}

// Outcome tells the consumer loop what to do with a delivery.
type Outcome int

const (
	Ack Outcome = iota
	Requeue
)

type dlqMessage struct {
	StorageKey string    `json:"storage_key"`
	Bucket     string    `json:"bucket"`
	Attempt    int       `json:"attempt"`
	Error      string    `json:"error"`
	FailedAt   time.Time `json:"failed_at"`
}

// Cleaner removes orphaned blobs reported by the broker.
type Cleaner struct {
	blobs    storage.BlobStore
	bucket   string
	records  KeyIndex
	pub      RetryPublisher
	limiter  *rate.Limiter
	retryMax int
	delays   []time.Duration
}

// NewCleaner builds a cleaner. A nil limiter means no throttling.
func NewCleaner(
	blobs storage.BlobStore,
	bucket string,
	records KeyIndex,
	pub RetryPublisher,
	limiter *rate.Limiter,
	retryMax int,
	delays []time.Duration,
) *Cleaner {
	if retryMax < 0 {
		retryMax = 0
	}
	return &Cleaner{
		blobs:    blobs,
		bucket:   bucket,
		records:  records,
		pub:      pub,
		limiter:  limiter,
		retryMax: retryMax,
		delays:   delays,
	}
}

// NewLimiter builds the cleanup throttle; rps <= 0 disables it.
func NewLimiter(rps float64, burst int) *rate.Limiter {
	if burst <= 0 {
		burst = 1
	}
	if rps <= 0 {
		return rate.NewLimiter(rate.Inf, burst)
	}
	return rate.NewLimiter(rate.Limit(rps), burst)
}

// RunCleanupWorker consumes orphan messages until ctx is done.
func RunCleanupWorker(ctx context.Context, client *mq.Client, cleaner *Cleaner, prefetch, concurrency int) error {
	if err := client.DeclareTopology(); err != nil {
		return err
	}
	if prefetch <= 0 {
		prefetch = 1
	}
	if err := client.Channel.Qos(prefetch, 0, false); err != nil {
		return err
	}

	deliveries, err := client.Channel.Consume(
		mq.QueueCleanup,
		"",
		false,
		false,
		false,
		false,
		nil,
	)
	if err != nil {
		return err
	}

	return consume(ctx, deliveries, concurrency, func(d amqp.Delivery) {
		settle(d, cleaner.Process(ctx, d.Body))
	})
}

// consume fans deliveries out to at most concurrency handlers. It returns
// only after every started handler has finished, so the caller may close
// the stores and the channel right away.
func consume(ctx context.Context, deliveries <-chan amqp.Delivery, concurrency int, handle func(amqp.Delivery)) error {
	if concurrency <= 0 {
		concurrency = 1
	}
	sem := make(chan struct{}, concurrency)
	var inflight sync.WaitGroup
	defer inflight.Wait()

	for {
		select {
		case <-ctx.Done():
			return nil
		case delivery, ok := <-deliveries:
			if !ok {
				return errors.New("cleanup worker: delivery channel closed")
			}
			sem <- struct{}{}
			inflight.Add(1)
			go func(d amqp.Delivery) {
				defer inflight.Done()
				defer func() { <-sem }()
				handle(d)
			}(delivery)
		}
	}
}

type acknowledger interface {
	Ack(multiple bool) error
	Nack(multiple, requeue bool) error
}

func settle(d acknowledger, outcome Outcome) {
	if outcome == Requeue {
		_ = d.Nack(false, true)
		return
	}
	_ = d.Ack(false)
}

// Process handles one message body and reports whether it should be
// acknowledged or requeued.
func (w *Cleaner) Process(ctx context.Context, body []byte) Outcome {
	var msg task.OrphanMessage
	if err := json.Unmarshal(body, &msg); err != nil || msg.StorageKey == "" {
		log.Printf("[cleanup-worker] invalid message: %s", body)
		metrics.CleanupResults.WithLabelValues("invalid").Inc()
		return Ack
	}

	if w.limiter != nil {
		if err := w.limiter.Wait(ctx); err != nil {
			return Requeue
		}
	}

	err := w.clean(ctx, msg)
	if err == nil {
		return Ack
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return Requeue
	}

	if shouldRetry(err) {
		if err := w.scheduleRetry(ctx, msg, err); err != nil {
			log.Printf("[cleanup-worker] retry schedule failed key=%s: %v", msg.StorageKey, err)
			return Requeue
		}
		return Ack
	}
	if err := w.deadLetter(ctx, msg, err); err != nil {
		log.Printf("[cleanup-worker] dead letter failed key=%s: %v", msg.StorageKey, err)
		return Requeue
	}
	return Ack
}

func (w *Cleaner) clean(ctx context.Context, msg task.OrphanMessage) error {
	if msg.Bucket != "" && msg.Bucket != w.bucket {
		return errBucketMismatch
	}
	referenced, err := w.records.ReferencesKey(ctx, msg.StorageKey)
	if err != nil {
		return err
	}
	if referenced {
		// the record write landed after all; the blob is live
		log.Printf("[cleanup-worker] key still referenced, skipping key=%s", msg.StorageKey)
		metrics.CleanupResults.WithLabelValues("skipped").Inc()
		return nil
	}
	if err := w.blobs.RemoveObject(ctx, msg.StorageKey); err != nil {
		return err
	}
	log.Printf("[cleanup-worker] removed orphan key=%s attempt=%d", msg.StorageKey, msg.Attempt)
	metrics.CleanupResults.WithLabelValues("removed").Inc()
	return nil
}

func shouldRetry(err error) bool {
	if errors.Is(err, errBucketMismatch) {
		return false
	}
	return !nonRetryableCodes[minio.ToErrorResponse(err).Code]
}

func (w *Cleaner) scheduleRetry(ctx context.Context, msg task.OrphanMessage, procErr error) error {
	nextAttempt := msg.Attempt + 1
	if w.retryMax == 0 || nextAttempt > w.retryMax {
		return w.deadLetter(ctx, msg, procErr)
	}

	delay := pickRetryDelay(nextAttempt, w.delays)
	msg.Attempt = nextAttempt
	body, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	if err := w.pub.PublishRetry(ctx, body, delay); err != nil {
		return err
	}
	log.Printf("[cleanup-worker] retry scheduled key=%s attempt=%d delay=%s err=%v", msg.StorageKey, nextAttempt, delay, procErr)
	metrics.CleanupResults.WithLabelValues("retry").Inc()
	return nil
}

func (w *Cleaner) deadLetter(ctx context.Context, msg task.OrphanMessage, procErr error) error {
	body, err := json.Marshal(dlqMessage{
		StorageKey: msg.StorageKey,
		Bucket:     msg.Bucket,
		Attempt:    msg.Attempt,
		Error:      procErr.Error(),
		FailedAt:   time.Now().UTC(),
	})
	if err != nil {
		return err
	}
	if err := w.pub.PublishDLQ(ctx, body); err != nil {
		return err
	}
	log.Printf("[cleanup-worker] dead-lettered key=%s attempt=%d: %v", msg.StorageKey, msg.Attempt, procErr)
	metrics.CleanupResults.WithLabelValues("dead_letter").Inc()
	return nil
}

func pickRetryDelay(attempt int, delays []time.Duration) time.Duration {
	if len(delays) == 0 {
		return 0
	}
	index := attempt - 1
	if index < 0 {
		index = 0
	}
	if index >= len(delays) {
		return delays[len(delays)-1]
	}
	return delays[index]
}
