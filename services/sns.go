package services

import (
	"context"
	"fmt"
	"strings"
	"unicode"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/sns"
	"go.uber.org/zap"
)

// SNS subjects must be printable ASCII and at most 100 characters.
const maxSNSSubject = 100

type snsPublisher interface {
	Publish(ctx context.Context, params *sns.PublishInput, optFns ...func(*sns.Options)) (*sns.PublishOutput, error)
}

// SNSChannel publishes alerts to an AWS SNS topic.
type SNSChannel struct {
	svc      snsPublisher
	topicArn string
	logger   *zap.Logger
}

func NewSNSChannel(ctx context.Context, region, topicArn string, logger *zap.Logger) (*SNSChannel, error) {
	cfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(region))
	if err != nil {
		return nil, fmt.Errorf("unable to load SDK config: %w", err)
	}

	return &SNSChannel{
		svc:      sns.NewFromConfig(cfg),
		topicArn: topicArn,
		logger:   logger,
	}, nil
}

func (c *SNSChannel) Name() string { return "sns" }

func (c *SNSChannel) Send(ctx context.Context, n Notification) error {
	input := &sns.PublishInput{
		TopicArn: aws.String(c.topicArn),
		Subject:  aws.String(snsSubject(n.Title)),
		Message:  aws.String(n.Body),
	}

	result, err := c.svc.Publish(ctx, input)
	if err != nil {
		return fmt.Errorf("failed to publish to SNS: %w", err)
	}

	c.logger.Debug("Published alert to SNS", zap.String("message_id", aws.ToString(result.MessageId)))
	return nil
}

func snsSubject(title string) string {
	subject := strings.TrimSpace(strings.Map(func(r rune) rune {
		if r > unicode.MaxASCII || !unicode.IsPrint(r) {
			return -1
		}
		return r
	}, title))

	if subject == "" {
		subject = "Greenhouse alert"
	}
	if len(subject) > maxSNSSubject {
		subject = subject[:maxSNSSubject]
	}
	return subject
}
