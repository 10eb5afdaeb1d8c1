package queue

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/aws/aws-sdk-go-v2/service/sqs/types"
)

const defaultRegion = "us-east-1"

type sender interface {
	SendMessage(ctx context.Context, params *sqs.SendMessageInput, optFns ...func(*sqs.Options)) (*sqs.SendMessageOutput, error)
}

// SQSClient publishes analysis messages to one SQS queue. The same client is
// handed to the long-polling worker for receives and deletes.
type SQSClient struct {
	client   *sqs.Client
	send     sender
	queueURL string
}

func NewSQSClient(ctx context.Context, queueURL, region string) (*SQSClient, error) {
	queueURL = strings.TrimSpace(queueURL)
	if queueURL == "" {
		return nil, fmt.Errorf("sqs queue url is required")
	}
	if strings.TrimSpace(region) == "" {
		region = defaultRegion
	}
	cfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(region))
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}
	client := sqs.NewFromConfig(cfg)
	return &SQSClient{client: client, send: client, queueURL: queueURL}, nil
}

// SQS exposes the underlying client for consumers that poll the same queue.
func (s *SQSClient) SQS() *sqs.Client { return s.client }

func (s *SQSClient) QueueURL() string { return s.queueURL }

// Send publishes msg. Routing fields are repeated as message attributes so
// they show up in the console without decoding the body.
func (s *SQSClient) Send(ctx context.Context, msg Message) error {
	payload, err := EncodeMessage(msg)
	if err != nil {
		return fmt.Errorf("encode sqs message: %w", err)
	}
	_, err = s.send.SendMessage(ctx, &sqs.SendMessageInput{
		QueueUrl:          aws.String(s.queueURL),
		MessageBody:       aws.String(string(payload)),
		MessageAttributes: attributesFor(msg),
	})
	if err != nil {
		return fmt.Errorf("sqs send analysis %s: %w", msg.AnalysisID, err)
	}
	return nil
}

func attributesFor(msg Message) map[string]types.MessageAttributeValue {
	attrs := map[string]types.MessageAttributeValue{
		"analysisId": {DataType: aws.String("String"), StringValue: aws.String(msg.AnalysisID)},
		"version":    {DataType: aws.String("Number"), StringValue: aws.String(strconv.Itoa(msg.Version))},
	}
	if msg.RequestID != "" {
		attrs["requestId"] = types.MessageAttributeValue{DataType: aws.String("String"), StringValue: aws.String(msg.RequestID)}
	}
	return attrs
}

var _ Client = (*SQSClient)(nil)
