// internal/common/notify/notifier.go
package notify

import (
	"context"
	"fmt"
	"html"
	"time"

	"dynamic-site-maker/internal/common/logger"
)

const EventPageCreated = "landing_page.created"

// Mailer sends email.
type Mailer interface {
	SendText(ctx context.Context, from, to, subject, text, html string) (string, error)
}

// Publisher publishes domain events.
type Publisher interface {
	PublishEvent(ctx context.Context, topicARN, eventType string, payload interface{}) (string, error)
}

type Config struct {
	FromEmail string
	TopicARN  string
}

// PageEvent describes a landing page that just went live.
type PageEvent struct {
	PageID    int64     `json:"pageId"`
	Name      string    `json:"name"`
	Email     string    `json:"email"`
	Username  string    `json:"username,omitempty"`
	URL       string    `json:"url"`
	CreatedAt time.Time `json:"createdAt"`
}

// Notifier delivers page notifications. Either channel may be nil, which
// disables it. Delivery failures are logged and never returned.
type Notifier struct {
	config    Config
	mailer    Mailer
	publisher Publisher
	logger    logger.Logger
}

func New(config Config, mailer Mailer, publisher Publisher, log logger.Logger) *Notifier {
	return &Notifier{config: config, mailer: mailer, publisher: publisher, logger: log}
}

// Result reports which channels delivered.
type Result struct {
	EmailSent      bool `json:"emailSent"`
	EventPublished bool `json:"eventPublished"`
}

func (n *Notifier) PageCreated(ctx context.Context, ev PageEvent) Result {
	var res Result

	if n.mailer != nil && n.config.FromEmail != "" && ev.Email != "" {
		subject := "Your landing page is ready"
		text := fmt.Sprintf("Hi %s,\n\nYour landing page is live at %s\n", ev.Name, ev.URL)
		body := fmt.Sprintf(`<p>Hi %s,</p><p>Your landing page is live at <a href="%s">%s</a></p>`,
			html.EscapeString(ev.Name), html.EscapeString(ev.URL), html.EscapeString(ev.URL))

		if _, err := n.mailer.SendText(ctx, n.config.FromEmail, ev.Email, subject, text, body); err != nil {
			n.logger.Warn("page ready email failed", map[string]interface{}{"pageId": ev.PageID, "error": err})
		} else {
			res.EmailSent = true
		}
	}

	if n.publisher != nil && n.config.TopicARN != "" {
		if _, err := n.publisher.PublishEvent(ctx, n.config.TopicARN, EventPageCreated, ev); err != nil {
			n.logger.Warn("page created event failed", map[string]interface{}{"pageId": ev.PageID, "error": err})
		} else {
			res.EventPublished = true
		}
	}

	return res
}
