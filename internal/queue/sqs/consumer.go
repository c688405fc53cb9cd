package sqsqueue

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/aws/aws-sdk-go-v2/service/sqs/types"
)

type Consumer struct {
	SQS      API
	QueueURL string

	WaitTimeSeconds   int32
	MaxMessages       int32
	VisibilityTimeout int32
}

type Handler func(ctx context.Context, msg DispatchMessage) error

func (c *Consumer) Poll(ctx context.Context, handler Handler) error {
	for {
		msgs, err := c.receive(ctx)
		if err != nil {
			return err
		}
		for _, m := range msgs {
			c.handle(ctx, m, handler)
		}
	}
}

// PollConcurrent processes messages with a worker pool. Messages are deleted only after handler completes.
func (c *Consumer) PollConcurrent(ctx context.Context, workers int, handler Handler) error {
	if workers <= 0 {
		return c.Poll(ctx, handler)
	}

	jobs := make(chan types.Message, workers*2)
	errCh := make(chan error, 1)

	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for m := range jobs {
				c.handle(ctx, m, handler)
			}
		}()
	}

	// Producer: fetch messages and enqueue for workers
	go func() {
		defer close(jobs)
		for {
			msgs, err := c.receive(ctx)
			if err != nil {
				errCh <- err
				return
			}
			for _, m := range msgs {
				select {
				case jobs <- m:
				case <-ctx.Done():
					errCh <- ctx.Err()
					return
				}
			}
		}
	}()

	err := <-errCh

	// Let workers finish whatever is already in `jobs` (channel will be closed by producer)
	wg.Wait()
	return err
}

// receive long-polls once. Transport errors are logged and retried; only
// context cancellation ends the loop.
func (c *Consumer) receive(ctx context.Context) ([]types.Message, error) {
	for {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		out, err := c.SQS.ReceiveMessage(ctx, &sqs.ReceiveMessageInput{
			QueueUrl:            &c.QueueURL,
			MaxNumberOfMessages: c.MaxMessages,
			WaitTimeSeconds:     c.WaitTimeSeconds,
			VisibilityTimeout:   c.VisibilityTimeout,
		})
		if err == nil {
			return out.Messages, nil
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		slog.Error("sqs receive message failed", "err", err)
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(500 * time.Millisecond):
		}
	}
}

func (c *Consumer) handle(ctx context.Context, m types.Message, handler Handler) {
	// Always handle poison / invalid messages so they don't loop forever
	var msg DispatchMessage
	if m.Body == nil || json.Unmarshal([]byte(*m.Body), &msg) != nil || msg.JobID == "" {
		slog.Warn("sqs dropping malformed dispatch message", "message_id", deref(m.MessageId))
		c.delete(ctx, m)
		return
	}

	if err := handler(ctx, msg); err != nil {
		// do NOT delete => visibility timeout / redrive handles it
		slog.Error("sqs handler error", "err", err, "job_id", msg.JobID)
		return
	}
	c.delete(ctx, m)
}

func (c *Consumer) delete(ctx context.Context, m types.Message) {
	if _, err := c.SQS.DeleteMessage(ctx, &sqs.DeleteMessageInput{
		QueueUrl:      &c.QueueURL,
		ReceiptHandle: m.ReceiptHandle,
	}); err != nil {
		slog.Error("sqs delete message failed", "err", err, "message_id", deref(m.MessageId))
	}
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
