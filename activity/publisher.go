// Package activity forwards committed board mutations to an Azure queue for
// downstream consumers such as notification digests and audit trails.
package activity

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/azcore/policy"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azqueue"
	"github.com/bytedance/sonic"
	log "github.com/sirupsen/logrus"

	"board-room/domain"
)

type queue interface {
	EnqueueMessage(ctx context.Context, content string, o *azqueue.EnqueueMessageOptions) (azqueue.EnqueueMessagesResponse, error)
}

type Options struct {
	Workers        int
	Buffer         int
	EnqueueTimeout time.Duration
	HandoffTimeout time.Duration
}

// Publisher hands activities to a bounded worker pool. Publish never blocks
// longer than the handoff timeout; saturated activities are dropped.
type Publisher struct {
	queue          queue
	jobs           chan domain.Activity
	enqueueTimeout time.Duration
	handoffTimeout time.Duration
	log            *log.Logger
	wg             sync.WaitGroup
	closeOnce      sync.Once
}

// NewQueueClient connects to the activity queue from a storage connection string.
func NewQueueClient(connStr, queueName string) (*azqueue.QueueClient, error) {
	opts := azqueue.ClientOptions{
		ClientOptions: azcore.ClientOptions{
			Retry: policy.RetryOptions{
				MaxRetries:    5,
				TryTimeout:    time.Minute,
				RetryDelay:    time.Second,
				MaxRetryDelay: time.Second * 60,
				StatusCodes:   []int{408, 429, 500, 502, 503, 504},
			},
		},
	}
	return azqueue.NewQueueClientFromConnectionString(connStr, queueName, &opts)
}

func NewPublisher(q queue, opts Options, logger *log.Logger) *Publisher {
	if logger == nil {
		panic("Logger is not initialized")
	}
	if opts.Workers <= 0 {
		opts.Workers = 4
	}
	if opts.Buffer <= 0 {
		opts.Buffer = 1024
	}
	if opts.EnqueueTimeout <= 0 {
		opts.EnqueueTimeout = 30 * time.Second
	}

	p := &Publisher{
		queue:          q,
		jobs:           make(chan domain.Activity, opts.Buffer),
		enqueueTimeout: opts.EnqueueTimeout,
		handoffTimeout: opts.HandoffTimeout,
		log:            logger,
	}
	for i := 0; i < opts.Workers; i++ {
		p.wg.Add(1)
		go p.worker(i)
	}
	logger.Infof("activity publisher started, workers: %d, buffer: %d, timeout: %v, handoff: %v",
		opts.Workers, opts.Buffer, opts.EnqueueTimeout, opts.HandoffTimeout)
	return p
}

func (p *Publisher) worker(id int) {
	defer p.wg.Done()
	for a := range p.jobs {
		payload, err := sonic.MarshalString(a)
		if err != nil {
			p.log.Errorf("activity encode failed, err: %v, board: %s, action: %s", err, a.BoardID, a.Action)
			continue
		}
		ctx, cancel := context.WithTimeout(context.Background(), p.enqueueTimeout)
		_, err = p.queue.EnqueueMessage(ctx, payload, nil)
		cancel()
		if err != nil {
			p.log.Errorf("activity enqueue failed, err: %v, board: %s, action: %s, worker: %d", err, a.BoardID, a.Action, id)
		}
	}
}

// Publish offers a to the pool. It reports false when the pool is saturated or closed.
func (p *Publisher) Publish(_ context.Context, a domain.Activity) bool {
	if ok, closed := trySendNonBlocking(p.jobs, a); closed {
		return false
	} else if ok {
		return true
	}

	if p.handoffTimeout <= 0 {
		p.log.Warnf("activity dropped, board: %s, action: %s", a.BoardID, a.Action)
		return false
	}

	timer := time.NewTimer(p.handoffTimeout)
	defer timer.Stop()

	ok, closed := sendWithTimer(p.jobs, a, timer.C)
	if !ok && !closed {
		p.log.Warnf("activity dropped, board: %s, action: %s", a.BoardID, a.Action)
	}
	return ok
}

// Close stops accepting activities and waits for queued ones to be sent.
func (p *Publisher) Close() {
	p.closeOnce.Do(func() {
		close(p.jobs)
	})
	p.wg.Wait()
}

func trySendNonBlocking(ch chan domain.Activity, a domain.Activity) (ok bool, closed bool) {
	defer func() {
		if r := recover(); r != nil {
			ok = false
			closed = true
		}
	}()

	select {
	case ch <- a:
		return true, false
	default:
		return false, false
	}
}

func sendWithTimer(ch chan domain.Activity, a domain.Activity, timer <-chan time.Time) (ok bool, closed bool) {
	defer func() {
		if r := recover(); r != nil {
			ok = false
			closed = true
		}
	}()

	select {
	case ch <- a:
		return true, false
	case <-timer:
		return false, false
	}
}

// EnsureQueue creates the activity queue if it does not exist yet.
func EnsureQueue(ctx context.Context, q *azqueue.QueueClient) error {
	_, err := q.Create(ctx, nil)
	if err == nil {
		return nil
	}
	var respErr *azcore.ResponseError
	if errors.As(err, &respErr) && respErr.ErrorCode == "QueueAlreadyExists" {
		return nil
	}
	return err
}
