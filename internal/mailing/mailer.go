// Package mailing holds the outbound side of a drip step: rendering the
// step's Liquid content for one recipient and handing the message to a
// transport (SES, or a logging transport in development).
package mailing

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/ignite/drip-engine/internal/pkg/logger"
)

// ErrRejected marks a permanent refusal by the transport, such as a
// suppressed or malformed address. Retrying the same message cannot succeed.
var ErrRejected = errors.New("message rejected")

// Message is one rendered step addressed to one recipient.
type Message struct {
	// IdempotencyKey is "<enrollment id>:<step number>". Transports that
	// deduplicate use it; the others pass it through as tags.
	IdempotencyKey string
	EnrollmentID   string
	CampaignID     string
	StepNumber     int

	To        string
	ToName    string
	FromEmail string
	FromName  string
	Subject   string
	HTMLBody  string
	TextBody  string
}

// SendResult is the transport's acknowledgement.
type SendResult struct {
	MessageID string
	Transport string
	SentAt    time.Time
}

// Mailer delivers a message. Implementations must be safe for concurrent use.
type Mailer interface {
	Send(ctx context.Context, msg *Message) (*SendResult, error)
}

// IdempotencyKey builds the per-send key for an enrollment's step.
func IdempotencyKey(enrollmentID string, stepNumber int) string {
	return fmt.Sprintf("%s:%d", enrollmentID, stepNumber)
}

// LogMailer logs messages instead of sending them. It remembers keys it has
// seen and acknowledges a repeated key without logging it again.
type LogMailer struct {
	mu   sync.Mutex
	sent map[string]*SendResult
	now  func() time.Time
}

// NewLogMailer creates a LogMailer.
func NewLogMailer() *LogMailer {
	return &LogMailer{sent: make(map[string]*SendResult), now: time.Now}
}

func (m *LogMailer) Send(_ context.Context, msg *Message) (*SendResult, error) {
	if msg.To == "" {
		return nil, fmt.Errorf("%w: empty recipient address", ErrRejected)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if res, ok := m.sent[msg.IdempotencyKey]; ok {
		return res, nil
	}
	res := &SendResult{MessageID: uuid.New().String(), Transport: "log", SentAt: m.now()}
	m.sent[msg.IdempotencyKey] = res

	logger.Info("drip message", "key", msg.IdempotencyKey, "to", msg.To, "subject", msg.Subject,
		"message_id", res.MessageID)
	return res, nil
}

// Sent returns how many distinct messages were accepted.
func (m *LogMailer) Sent() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sent)
}
