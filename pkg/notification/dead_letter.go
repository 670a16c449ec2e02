package notification

import (
	"fmt"

	"github.com/lalaz-foundation/forge/pkg/queue"
)

// DeadLetterAlert notifies operators that a job exhausted its retries and
// was moved to the dead-letter store. Install it via the queue manager's
// dead-letter hook:
//
//	manager.SetDeadLetterHook(func(row queue.FailedJobRow) {
//	    notification.SendAsync(opsAddress, &notification.DeadLetterAlert{Job: row})
//	})
type DeadLetterAlert struct {
	Job queue.FailedJobRow

	// Channels overrides the default channel set ("slack" when a webhook
	// is configured, "mail" otherwise).
	Channels []string

	// WebhookURL, when set, adds a "webhook" channel posting the full row.
	WebhookURL string
}

func (n *DeadLetterAlert) Via() []string {
	if len(n.Channels) > 0 {
		return n.Channels
	}
	channels := []string{"mail"}
	if defaultSlackWebhook != "" {
		channels = []string{"slack"}
	}
	if n.WebhookURL != "" {
		channels = append(channels, "webhook")
	}
	return channels
}

func (n *DeadLetterAlert) subject() string {
	return fmt.Sprintf("[forge] job dead-lettered: %s (queue %s)", n.Job.Task, n.Job.Queue)
}

func (n *DeadLetterAlert) ToMail() MailData {
	return MailData{
		Subject: n.subject(),
		Text: fmt.Sprintf(
			"Job #%d (%s) on queue %q failed after %d attempt(s).\n\nLast error:\n%s\n",
			n.Job.OriginalJobID, n.Job.Task, n.Job.Queue, n.Job.TotalAttempts, n.Job.Exception,
		),
	}
}

func (n *DeadLetterAlert) ToSlack() SlackData {
	return SlackData{
		Text: n.subject(),
		Attachments: []SlackAttachment{{
			Color:  "danger",
			Title:  fmt.Sprintf("%s — %d attempt(s)", n.Job.Task, n.Job.TotalAttempts),
			Text:   n.Job.Exception,
			Footer: "queue " + n.Job.Queue,
		}},
	}
}

func (n *DeadLetterAlert) ToWebhook() WebhookData {
	return WebhookData{
		URL: n.WebhookURL,
		Payload: map[string]interface{}{
			"event":           "queue.job.dead_lettered",
			"original_job_id": n.Job.OriginalJobID,
			"queue":           n.Job.Queue,
			"task":            n.Job.Task,
			"exception":       n.Job.Exception,
			"total_attempts":  n.Job.TotalAttempts,
			"failed_at":       n.Job.FailedAt,
			"tags":            n.Job.Tags,
		},
	}
}
