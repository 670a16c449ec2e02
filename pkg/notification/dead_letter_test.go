package notification

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/lalaz-foundation/forge/pkg/queue"
)

func sampleRow() queue.FailedJobRow {
	return queue.FailedJobRow{
		ID:            7,
		OriginalJobID: 42,
		Queue:         "events",
		Task:          "*queue.EventJob",
		Exception:     "listener failed: boom",
		FailedAt:      time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
		TotalAttempts: 5,
		Tags:          []string{"critical"},
	}
}

func TestDeadLetterAlert_DefaultChannels(t *testing.T) {
	prior := defaultSlackWebhook
	t.Cleanup(func() { defaultSlackWebhook = prior })

	defaultSlackWebhook = ""
	alert := &DeadLetterAlert{Job: sampleRow()}
	assert.Equal(t, []string{"mail"}, alert.Via())

	defaultSlackWebhook = "https://hooks.slack.invalid/T000"
	assert.Equal(t, []string{"slack"}, alert.Via())

	alert.Channels = []string{"webhook"}
	assert.Equal(t, []string{"webhook"}, alert.Via())
}

func TestDeadLetterAlert_Payloads(t *testing.T) {
	alert := &DeadLetterAlert{Job: sampleRow(), WebhookURL: "https://ops.example.com/hook"}

	m := alert.ToMail()
	assert.Contains(t, m.Subject, "*queue.EventJob")
	assert.Contains(t, m.Text, "listener failed: boom")

	s := alert.ToSlack()
	assert.Contains(t, s.Text, "dead-lettered")
	assert.Equal(t, "danger", s.Attachments[0].Color)

	w := alert.ToWebhook()
	assert.Equal(t, "https://ops.example.com/hook", w.URL)
	payload := w.Payload.(map[string]interface{})
	assert.Equal(t, int64(42), payload["original_job_id"])
	assert.Equal(t, "events", payload["queue"])
}
