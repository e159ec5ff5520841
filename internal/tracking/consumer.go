package tracking

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"strings"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	sqstypes "github.com/aws/aws-sdk-go-v2/service/sqs/types"

	"github.com/ignite/drip-engine/internal/domain"
	"github.com/ignite/drip-engine/internal/pkg/logger"
	"github.com/ignite/drip-engine/internal/service/enrollment"
)

// SQSAPI is the subset of the SQS client the consumer needs.
type SQSAPI interface {
	ReceiveMessage(ctx context.Context, in *sqs.ReceiveMessageInput, optFns ...func(*sqs.Options)) (*sqs.ReceiveMessageOutput, error)
	DeleteMessage(ctx context.Context, in *sqs.DeleteMessageInput, optFns ...func(*sqs.Options)) (*sqs.DeleteMessageOutput, error)
}

// Recorder applies engagement to enrollments. *enrollment.Service
// satisfies it.
type Recorder interface {
	RecordOpened(ctx context.Context, id string) (*domain.Enrollment, error)
	RecordClicked(ctx context.Context, id string) (*domain.Enrollment, error)
	Unsubscribe(ctx context.Context, id string) (*domain.Enrollment, error)
	MarkBounced(ctx context.Context, id string) (*domain.Enrollment, error)
	MarkConverted(ctx context.Context, id string) (bool, error)
}

// DeliveryRecorder bumps a campaign's delivered counter. *campaign.Service
// satisfies it.
type DeliveryRecorder interface {
	RecordDelivered(ctx context.Context, campaignID string, n int64) error
}

type Consumer struct {
	sqsClient   SQSAPI
	queueURL    string
	waitSeconds int32
	enrollments Recorder
	deliveries  DeliveryRecorder

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func NewConsumer(sqsClient SQSAPI, queueURL string, waitSeconds int, enrollments Recorder, deliveries DeliveryRecorder) *Consumer {
	return &Consumer{
		sqsClient:   sqsClient,
		queueURL:    queueURL,
		waitSeconds: int32(waitSeconds),
		enrollments: enrollments,
		deliveries:  deliveries,
	}
}

func (c *Consumer) Start(ctx context.Context) {
	ctx, c.cancel = context.WithCancel(ctx)
	log.Printf("SQS tracking consumer started (queue=%s)", c.queueURL)
	c.wg.Add(1)
	go c.poll(ctx)
}

func (c *Consumer) Stop() {
	if c.cancel != nil {
		c.cancel()
	}
	c.wg.Wait()
}

func (c *Consumer) poll(ctx context.Context) {
	defer c.wg.Done()
	for {
		if ctx.Err() != nil {
			return
		}
		if _, err := c.PollOnce(ctx); err != nil {
			if ctx.Err() != nil {
				return
			}
			logger.Error("SQS receive failed", "queue", c.queueURL, "error", err)
			select {
			case <-ctx.Done():
				return
			case <-time.After(5 * time.Second):
			}
		}
	}
}

// PollOnce receives one batch and handles it. Messages are deleted once
// applied, or when they can never apply (malformed, unknown enrollment,
// terminal status). Others stay queued for redelivery.
func (c *Consumer) PollOnce(ctx context.Context) (int, error) {
	out, err := c.sqsClient.ReceiveMessage(ctx, &sqs.ReceiveMessageInput{
		QueueUrl:            aws.String(c.queueURL),
		MaxNumberOfMessages: 10,
		WaitTimeSeconds:     c.waitSeconds,
	})
	if err != nil {
		return 0, err
	}

	for _, msg := range out.Messages {
		if c.handle(ctx, msg) {
			c.deleteMessage(ctx, msg.ReceiptHandle)
		}
	}
	return len(out.Messages), nil
}

func (c *Consumer) handle(ctx context.Context, msg sqstypes.Message) bool {
	evt, err := ParseMessage(aws.ToString(msg.Body))
	if err != nil {
		logger.Warn("SQS bad message", "message_id", aws.ToString(msg.MessageId), "error", err)
		return true
	}
	if evt == nil {
		return true
	}

	err = c.apply(ctx, *evt)
	switch {
	case err == nil:
		return true
	case errors.Is(err, enrollment.ErrNotFound), errors.Is(err, domain.ErrInvalidTransition):
		logger.Info("tracking event not applicable", "event_type", string(evt.EventType),
			"enrollment_id", evt.EnrollmentID, "reason", err)
		return true
	default:
		logger.Error("tracking event failed", "event_type", string(evt.EventType),
			"enrollment_id", evt.EnrollmentID, "error", err)
		return false
	}
}

func (c *Consumer) apply(ctx context.Context, evt Event) error {
	return apply(ctx, c.enrollments, c.deliveries, evt)
}

// DirectSink applies link events in-process. It stands in for a Publisher
// when no queue is configured.
type DirectSink struct {
	Enrollments Recorder
	Deliveries  DeliveryRecorder
}

func (s DirectSink) Publish(ctx context.Context, evt Event) error {
	return apply(ctx, s.Enrollments, s.Deliveries, evt)
}

func apply(ctx context.Context, enrollments Recorder, deliveries DeliveryRecorder, evt Event) error {
	var err error
	switch evt.EventType {
	case EventOpen:
		_, err = enrollments.RecordOpened(ctx, evt.EnrollmentID)
	case EventClick:
		_, err = enrollments.RecordClicked(ctx, evt.EnrollmentID)
	case EventUnsubscribe:
		_, err = enrollments.Unsubscribe(ctx, evt.EnrollmentID)
	case EventBounce:
		_, err = enrollments.MarkBounced(ctx, evt.EnrollmentID)
	case EventConvert:
		_, err = enrollments.MarkConverted(ctx, evt.EnrollmentID)
	case EventDelivered:
		if deliveries == nil || evt.CampaignID == "" {
			return nil
		}
		err = deliveries.RecordDelivered(ctx, evt.CampaignID, 1)
	default:
		logger.Warn("unknown tracking event type", "event_type", string(evt.EventType))
		return nil
	}
	return err
}

func (c *Consumer) deleteMessage(ctx context.Context, handle *string) {
	_, err := c.sqsClient.DeleteMessage(ctx, &sqs.DeleteMessageInput{
		QueueUrl:      aws.String(c.queueURL),
		ReceiptHandle: handle,
	})
	if err != nil {
		logger.Warn("SQS delete failed", "error", err)
	}
}

// snsEnvelope is the wrapper SNS adds when SES events reach SQS through a
// topic subscription without raw delivery.
type snsEnvelope struct {
	Type    string `json:"Type"`
	Message string `json:"Message"`
}

// sesEvent is the part of an SES event-publishing record used here.
type sesEvent struct {
	EventType        string `json:"eventType"`
	NotificationType string `json:"notificationType"`
	Mail             struct {
		Tags map[string][]string `json:"tags"`
	} `json:"mail"`
	Bounce struct {
		BounceType string `json:"bounceType"`
	} `json:"bounce"`
	Click struct {
		Link string `json:"link"`
	} `json:"click"`
}

// ParseMessage decodes a queue body into an Event. It accepts the engine's
// own events and SES event-publishing records, optionally wrapped in an SNS
// notification. A nil event with no error means the message is valid but
// carries nothing to apply.
func ParseMessage(body string) (*Event, error) {
	var env snsEnvelope
	if err := json.Unmarshal([]byte(body), &env); err == nil && env.Type == "Notification" && env.Message != "" {
		body = env.Message
	}

	var probe struct {
		EventType string `json:"event_type"`
		SESType   string `json:"eventType"`
		SNSType   string `json:"notificationType"`
	}
	if err := json.Unmarshal([]byte(body), &probe); err != nil {
		return nil, fmt.Errorf("decode message: %w", err)
	}

	if probe.EventType != "" {
		var evt Event
		if err := json.Unmarshal([]byte(body), &evt); err != nil {
			return nil, fmt.Errorf("decode event: %w", err)
		}
		if evt.EnrollmentID == "" && evt.EventType != EventDelivered {
			return nil, errors.New("event has no enrollment_id")
		}
		return &evt, nil
	}
	if probe.SESType != "" || probe.SNSType != "" {
		return parseSES(body)
	}
	return nil, errors.New("unrecognised message")
}

func parseSES(body string) (*Event, error) {
	var rec sesEvent
	if err := json.Unmarshal([]byte(body), &rec); err != nil {
		return nil, fmt.Errorf("decode SES event: %w", err)
	}
	kind := rec.EventType
	if kind == "" {
		kind = rec.NotificationType
	}

	evt := &Event{
		EnrollmentID: firstTag(rec.Mail.Tags, "enrollment_id"),
		CampaignID:   firstTag(rec.Mail.Tags, "campaign_id"),
	}
	switch strings.ToLower(kind) {
	case "open":
		evt.EventType = EventOpen
	case "click":
		evt.EventType = EventClick
		evt.LinkURL = rec.Click.Link
	case "complaint":
		evt.EventType = EventBounce
	case "bounce":
		// Transient bounces are retried by SES and do not end the sequence.
		if rec.Bounce.BounceType == "Transient" {
			return nil, nil
		}
		evt.EventType = EventBounce
	case "delivery":
		evt.EventType = EventDelivered
		return evt, nil
	default:
		return nil, nil
	}
	if evt.EnrollmentID == "" {
		return nil, errors.New("SES event has no enrollment_id tag")
	}
	return evt, nil
}

func firstTag(tags map[string][]string, name string) string {
	if v := tags[name]; len(v) > 0 {
		return v[0]
	}
	return ""
}
