// Package notify sends best-effort completion emails to users.
package notify

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"

	"gopkg.in/gomail.v2"

	"github.com/maauso/faceswap-api/internal/job"
)

// Event identifies which pipeline milestone a notification reports.
type Event string

// Supported events.
const (
	EventExtractionComplete Event = "extraction_complete"
	EventGenerationComplete Event = "generation_complete"
)

// Sender delivers composed messages. *gomail.Dialer satisfies it.
type Sender interface {
	DialAndSend(m ...*gomail.Message) error
}

// Config holds the SMTP settings. Delivery is disabled unless
// Host, Username and Password are all set.
type Config struct {
	Host     string
	Port     int
	Username string
	Password string
	From     string
}

func (c Config) enabled() bool {
	return c.Host != "" && c.Username != "" && c.Password != ""
}

// Dispatcher renders and sends notification emails.
// Failures are logged and reported as false, never returned.
type Dispatcher struct {
	sender Sender
	from   string
	logger *slog.Logger
}

// NewDispatcher creates a dispatcher that sends through an SMTP dialer.
// Without credentials the dispatcher skips every notification.
func NewDispatcher(cfg Config, logger *slog.Logger) *Dispatcher {
	if logger == nil {
		logger = slog.Default()
	}
	d := &Dispatcher{from: cfg.From, logger: logger}
	if cfg.enabled() {
		d.sender = gomail.NewDialer(cfg.Host, cfg.Port, cfg.Username, cfg.Password)
	} else {
		logger.Info("SMTP credentials not configured, emails will not be sent")
	}
	return d
}

// NewDispatcherWithSender creates a dispatcher around an existing sender.
// A nil sender disables delivery.
func NewDispatcherWithSender(sender Sender, from string, logger *slog.Logger) *Dispatcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Dispatcher{sender: sender, from: from, logger: logger}
}

// Notify sends the email for event and reports whether it was delivered.
// The recipient is the video's notification email when set, else the user's email.
func (d *Dispatcher) Notify(ctx context.Context, event Event, user *job.User, video *job.Video) bool {
	if d.sender == nil {
		return false
	}
	to := recipient(user, video)
	if to == "" {
		d.logger.Debug("skipping notification without recipient", slog.String("event", string(event)))
		return false
	}
	if err := ctx.Err(); err != nil {
		return false
	}

	msg, err := d.compose(event, to, user, video)
	if err != nil {
		d.logger.Warn("failed to render notification",
			slog.String("event", string(event)),
			slog.String("error", err.Error()),
		)
		return false
	}

	if err := d.sender.DialAndSend(msg); err != nil {
		d.logger.Warn("failed to send notification",
			slog.String("event", string(event)),
			slog.String("to", to),
			slog.String("error", err.Error()),
		)
		return false
	}

	d.logger.Info("notification sent", slog.String("event", string(event)), slog.String("to", to))
	return true
}

func recipient(user *job.User, video *job.Video) string {
	if video != nil && video.NotificationEmail != "" {
		return video.NotificationEmail
	}
	if user != nil {
		return user.Email
	}
	return ""
}

// templateData is what the email templates see.
type templateData struct {
	Username     string
	Title        string
	VideoURL     string
	FaceImageURL string
	Note         string
}

func (d *Dispatcher) compose(event Event, to string, user *job.User, video *job.Video) (*gomail.Message, error) {
	tpl, ok := templates[event]
	if !ok {
		return nil, fmt.Errorf("notify: unknown event %q", event)
	}

	data := templateData{}
	if user != nil {
		data.Username = user.Username
		data.FaceImageURL = user.FaceImageURL
	}
	if video != nil {
		data.Title = video.Title
		data.VideoURL = video.VideoURL
		data.Note = video.ErrorMessage
	}

	var text, html bytes.Buffer
	if err := tpl.text.Execute(&text, data); err != nil {
		return nil, fmt.Errorf("notify: render text: %w", err)
	}
	if err := tpl.html.Execute(&html, data); err != nil {
		return nil, fmt.Errorf("notify: render html: %w", err)
	}

	msg := gomail.NewMessage()
	msg.SetHeader("From", d.from)
	msg.SetHeader("To", to)
	msg.SetHeader("Subject", tpl.subject)
	msg.SetBody("text/plain", text.String())
	msg.AddAlternative("text/html", html.String())
	return msg, nil
}
