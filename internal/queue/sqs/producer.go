package sqsqueue

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/aws/aws-sdk-go-v2/service/sqs"
)

// API is the subset of the SQS client the queue uses.
type API interface {
	SendMessage(ctx context.Context, in *sqs.SendMessageInput, optFns ...func(*sqs.Options)) (*sqs.SendMessageOutput, error)
	ReceiveMessage(ctx context.Context, in *sqs.ReceiveMessageInput, optFns ...func(*sqs.Options)) (*sqs.ReceiveMessageOutput, error)
	DeleteMessage(ctx context.Context, in *sqs.DeleteMessageInput, optFns ...func(*sqs.Options)) (*sqs.DeleteMessageOutput, error)
}

// DispatchMessage asks a worker to dispatch one fax job. It carries only the
// id; the worker reloads the row and skips jobs that are no longer queued.
type DispatchMessage struct {
	JobID string `json:"job_id"`
}

type Producer struct {
	SQS      API
	QueueURL string
}

func (p *Producer) EnqueueDispatch(ctx context.Context, jobID string) error {
	body, err := json.Marshal(DispatchMessage{JobID: jobID})
	if err != nil {
		return err
	}

	in := &sqs.SendMessageInput{
		QueueUrl:    &p.QueueURL,
		MessageBody: str(string(body)),
	}
	if strings.HasSuffix(p.QueueURL, ".fifo") {
		// one group per job; duplicate enqueues inside the dedup window collapse
		in.MessageGroupId = str(jobID)
		in.MessageDeduplicationId = str(jobID)
	}
	_, err = p.SQS.SendMessage(ctx, in)
	return err
}

func str(s string) *string { return &s }
