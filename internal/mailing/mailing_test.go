package mailing

import (
	"context"
	"errors"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sesv2"
	"github.com/aws/aws-sdk-go-v2/service/sesv2/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRenderBindingsAndFilters(t *testing.T) {
	r := NewRenderer()
	tpl := Template{
		Key:     "step-1",
		Subject: "Welcome, {{ first_name | default: \"there\" }}",
		HTML:    "<p>Hi {{ name | titlecase }}</p><a href=\"https://x.test/?e={{ email | urlencode }}\">go</a>",
		Text:    "{{ bio | truncate_words: 3 }}",
	}
	got, err := r.Render(tpl, map[string]interface{}{
		"name":  "ada LOVELACE",
		"email": "ada@example.com",
		"bio":   "one two three four five",
	})
	require.NoError(t, err)
	assert.Equal(t, "Welcome, there", got.Subject)
	assert.Equal(t, "<p>Hi Ada Lovelace</p><a href=\"https://x.test/?e=ada%40example.com\">go</a>", got.HTML)
	assert.Equal(t, "one two three...", got.Text)
}

func TestRenderUsesCacheByKey(t *testing.T) {
	r := NewRenderer()
	first, err := r.Render(Template{Key: "k", Subject: "A {{ x }}"}, map[string]interface{}{"x": 1})
	require.NoError(t, err)
	assert.Equal(t, "A 1", first.Subject)

	// Same key, different source: the cached parse wins until forgotten.
	second, err := r.Render(Template{Key: "k", Subject: "B {{ x }}"}, map[string]interface{}{"x": 2})
	require.NoError(t, err)
	assert.Equal(t, "A 2", second.Subject)

	r.Forget("k")
	third, err := r.Render(Template{Key: "k", Subject: "B {{ x }}"}, map[string]interface{}{"x": 3})
	require.NoError(t, err)
	assert.Equal(t, "B 3", third.Subject)
}

func TestValidateReportsSyntaxErrors(t *testing.T) {
	r := NewRenderer()
	assert.NoError(t, r.Validate(Template{Subject: "ok {{ a }}"}))
	assert.Error(t, r.Validate(Template{HTML: "{% if x %}never closed"}))
}

func TestLogMailerIdempotent(t *testing.T) {
	m := NewLogMailer()
	msg := &Message{IdempotencyKey: IdempotencyKey("e1", 2), To: "a@example.com", Subject: "hi"}
	assert.Equal(t, "e1:2", msg.IdempotencyKey)

	first, err := m.Send(context.Background(), msg)
	require.NoError(t, err)
	second, err := m.Send(context.Background(), msg)
	require.NoError(t, err)
	assert.Equal(t, first.MessageID, second.MessageID)
	assert.Equal(t, 1, m.Sent())

	_, err = m.Send(context.Background(), &Message{IdempotencyKey: "e2:1"})
	assert.ErrorIs(t, err, ErrRejected)
}

type fakeSES struct {
	in  *sesv2.SendEmailInput
	err error
}

func (f *fakeSES) SendEmail(_ context.Context, in *sesv2.SendEmailInput, _ ...func(*sesv2.Options)) (*sesv2.SendEmailOutput, error) {
	f.in = in
	if f.err != nil {
		return nil, f.err
	}
	return &sesv2.SendEmailOutput{MessageId: aws.String("ses-123")}, nil
}

func TestSESMailerTagsMessage(t *testing.T) {
	fake := &fakeSES{}
	m := NewSESMailerWithClient(fake, "drip-events")

	res, err := m.Send(context.Background(), &Message{
		IdempotencyKey: "e1:3",
		EnrollmentID:   "e1",
		CampaignID:     "c1",
		StepNumber:     3,
		To:             "ada@example.com",
		ToName:         "Ada",
		FromEmail:      "team@example.com",
		FromName:       "Team",
		Subject:        "Hello",
		TextBody:       "plain",
	})
	require.NoError(t, err)
	assert.Equal(t, "ses-123", res.MessageID)
	assert.Equal(t, "ses", res.Transport)

	in := fake.in
	assert.Equal(t, "Team <team@example.com>", aws.ToString(in.FromEmailAddress))
	assert.Equal(t, []string{"Ada <ada@example.com>"}, in.Destination.ToAddresses)
	assert.Equal(t, "drip-events", aws.ToString(in.ConfigurationSetName))
	assert.Nil(t, in.Content.Simple.Body.Html)
	assert.Equal(t, "plain", aws.ToString(in.Content.Simple.Body.Text.Data))

	tags := map[string]string{}
	for _, tag := range in.EmailTags {
		tags[aws.ToString(tag.Name)] = aws.ToString(tag.Value)
	}
	assert.Equal(t, map[string]string{"enrollment_id": "e1", "campaign_id": "c1", "step": "3"}, tags)
}

func TestSESMailerClassifiesRejection(t *testing.T) {
	m := NewSESMailerWithClient(&fakeSES{err: &types.MessageRejected{Message: aws.String("address blacklisted")}}, "")
	_, err := m.Send(context.Background(), &Message{To: "x@example.com"})
	assert.ErrorIs(t, err, ErrRejected)

	m = NewSESMailerWithClient(&fakeSES{err: errors.New("throttled")}, "")
	_, err = m.Send(context.Background(), &Message{To: "x@example.com"})
	require.Error(t, err)
	assert.False(t, errors.Is(err, ErrRejected))
}
