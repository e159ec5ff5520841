// Package tracking carries engagement back into the engine: signed
// open/click/unsubscribe links served by Handler, events queued on SQS by
// Publisher, and a Consumer that applies queued events (including SES
// event-publishing notifications) to enrollments.
package tracking

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
)

type EventType string

const (
	EventOpen        EventType = "opened"
	EventClick       EventType = "clicked"
	EventUnsubscribe EventType = "unsubscribed"
	EventBounce      EventType = "bounced"
	EventConvert     EventType = "converted"
	// EventDelivered only feeds the campaign's delivered counter.
	EventDelivered EventType = "delivered"
)

// Event is the queue message for one engagement signal.
type Event struct {
	EventType    EventType `json:"event_type"`
	EnrollmentID string    `json:"enrollment_id"`
	CampaignID   string    `json:"campaign_id,omitempty"`
	LinkURL      string    `json:"link_url,omitempty"`
	IPAddress    string    `json:"ip_address,omitempty"`
	UserAgent    string    `json:"user_agent,omitempty"`
	Timestamp    time.Time `json:"timestamp"`
}

// SQSSender is the subset of the SQS client the publisher needs.
type SQSSender interface {
	SendMessage(ctx context.Context, in *sqs.SendMessageInput, optFns ...func(*sqs.Options)) (*sqs.SendMessageOutput, error)
}

// Publisher queues events for the Consumer.
type Publisher struct {
	client   SQSSender
	queueURL string
}

func NewPublisher(client SQSSender, queueURL string) *Publisher {
	return &Publisher{client: client, queueURL: queueURL}
}

// Publish sends evt with a short timeout independent of the caller, so a
// finished HTTP request does not cancel the enqueue.
func (p *Publisher) Publish(ctx context.Context, evt Event) error {
	body, err := json.Marshal(evt)
	if err != nil {
		return fmt.Errorf("marshal tracking event: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()

	_, err = p.client.SendMessage(ctx, &sqs.SendMessageInput{
		QueueUrl:    aws.String(p.queueURL),
		MessageBody: aws.String(string(body)),
	})
	if err != nil {
		return fmt.Errorf("publish tracking event: %w", err)
	}
	return nil
}
