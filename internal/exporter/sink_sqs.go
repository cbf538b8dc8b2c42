package exporter

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	sqsTypes "github.com/aws/aws-sdk-go-v2/service/sqs/types"
)

// maxBatchEntries is the SQS SendMessageBatch entry limit per request.
const maxBatchEntries = 10

// SQSSender abstracts the SQS SendMessageBatch operation for testability.
// Production code uses the *sqs.Client from aws-sdk-go-v2.
type SQSSender interface {
	SendMessageBatch(ctx context.Context, params *sqs.SendMessageBatchInput, optFns ...func(*sqs.Options)) (*sqs.SendMessageBatchOutput, error)
}

// SQSSink publishes records to an SQS queue, one message per record,
// batched to the SendMessageBatch entry limit. The batch ID travels as a
// message attribute so a downstream consumer can group or deduplicate.
type SQSSink struct {
	client   SQSSender
	queueURL string
	logger   *slog.Logger
}

// NewSQSSink creates an SQSSink publishing to the given queue URL.
func NewSQSSink(client SQSSender, queueURL string, logger *slog.Logger) *SQSSink {
	if logger == nil {
		logger = slog.Default()
	}
	return &SQSSink{
		client:   client,
		queueURL: queueURL,
		logger:   logger,
	}
}

// Name implements Sink.
func (s *SQSSink) Name() string { return "sqs" }

// Send publishes every record in the batch. Any failed entry fails the
// whole send; the exporter restores the records and the next flush retries
// them, so a partial SQS acceptance can deliver duplicates downstream but
// never silently lose records.
func (s *SQSSink) Send(ctx context.Context, batch Batch) error {
	for i := 0; i < len(batch.Records); i += maxBatchEntries {
		chunk := batch.Records[i:min(i+maxBatchEntries, len(batch.Records))]

		entries := make([]sqsTypes.SendMessageBatchRequestEntry, 0, len(chunk))
		for j, record := range chunk {
			body, err := json.Marshal(record)
			if err != nil {
				return fmt.Errorf("encoding record %d of batch %s: %w", i+j, batch.ID, err)
			}
			entries = append(entries, sqsTypes.SendMessageBatchRequestEntry{
				Id:          aws.String(fmt.Sprintf("rec-%d", i+j)),
				MessageBody: aws.String(string(body)),
				MessageAttributes: map[string]sqsTypes.MessageAttributeValue{
					"BatchId": {
						DataType:    aws.String("String"),
						StringValue: aws.String(batch.ID),
					},
				},
			})
		}

		out, err := s.client.SendMessageBatch(ctx, &sqs.SendMessageBatchInput{
			QueueUrl: aws.String(s.queueURL),
			Entries:  entries,
		})
		if err != nil {
			return fmt.Errorf("sending batch %s to queue: %w", batch.ID, err)
		}
		if len(out.Failed) > 0 {
			first := out.Failed[0]
			return fmt.Errorf("queue rejected %d entries of batch %s: %s (%s)",
				len(out.Failed), batch.ID, aws.ToString(first.Message), aws.ToString(first.Code))
		}
	}
	return nil
}
