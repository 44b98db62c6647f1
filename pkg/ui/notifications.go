package ui

import (
	"fmt"
	"net/smtp"
	"os/exec"
	"runtime"
	"strings"

	"github.com/jordan-wright/email"

	"igfeed/pkg/config"
	"igfeed/pkg/logger"
	"igfeed/pkg/models"
	"igfeed/pkg/scraper"
)

// NotificationSender interface for platform-specific notification implementations
type NotificationSender interface {
	Send(title, message string) error
}

// LinuxNotificationSender sends notifications on Linux using notify-send
type LinuxNotificationSender struct{}

func (l *LinuxNotificationSender) Send(title, message string) error {
	return exec.Command("notify-send", title, message).Run()
}

// MacOSNotificationSender sends notifications on macOS using osascript
type MacOSNotificationSender struct{}

func (m *MacOSNotificationSender) Send(title, message string) error {
	script := fmt.Sprintf(`display notification %q with title %q`, message, title)
	return exec.Command("osascript", "-e", script).Run()
}

// DesktopSender returns the sender for the current platform, or nil
func DesktopSender() NotificationSender {
	switch runtime.GOOS {
	case "linux":
		return &LinuxNotificationSender{}
	case "darwin":
		return &MacOSNotificationSender{}
	default:
		return nil
	}
}

// EmailSender delivers alerts over SMTP
type EmailSender struct {
	cfg  config.EmailConfig
	send func(e *email.Email, addr string, auth smtp.Auth) error
}

func NewEmailSender(cfg config.EmailConfig) *EmailSender {
	return &EmailSender{
		cfg: cfg,
		send: func(e *email.Email, addr string, auth smtp.Auth) error {
			return e.Send(addr, auth)
		},
	}
}

func (s *EmailSender) Send(title, message string) error {
	mail := email.NewEmail()
	mail.From = fmt.Sprintf("igfeed <%s>", s.cfg.From)
	mail.To = s.cfg.To
	mail.Subject = "[igfeed] " + title
	mail.Text = []byte(message + "\n")

	var auth smtp.Auth
	if s.cfg.Username != "" {
		auth = smtp.PlainAuth("", s.cfg.Username, s.cfg.Password, s.cfg.Host)
	}
	if err := s.send(mail, fmt.Sprintf("%s:%d", s.cfg.Host, s.cfg.Port), auth); err != nil {
		return fmt.Errorf("send email alert: %w", err)
	}
	return nil
}

// Notifier prints run alerts to the console and forwards them to the
// configured senders. Send failures are logged and never fail a run.
type Notifier struct {
	cfg     config.NotificationConfig
	senders []NotificationSender
	log     logger.Logger
}

func NewNotifier(cfg config.NotificationConfig, log logger.Logger, senders ...NotificationSender) *Notifier {
	return &Notifier{cfg: cfg, senders: senders, log: log}
}

// NewNotifierFromConfig wires the desktop and email senders cfg enables
func NewNotifierFromConfig(cfg config.NotificationConfig, log logger.Logger) *Notifier {
	var senders []NotificationSender
	if cfg.Desktop {
		if s := DesktopSender(); s != nil {
			senders = append(senders, s)
		}
	}
	if cfg.Email.Configured() {
		senders = append(senders, NewEmailSender(cfg.Email))
	}
	return NewNotifier(cfg, log, senders...)
}

func (n *Notifier) IdentityDeactivated(handle, reason string) {
	if !n.cfg.Enabled || !n.cfg.OnDeactivate {
		return
	}
	n.dispatch("Identity deactivated",
		fmt.Sprintf("%s was taken out of rotation: %s. Add a new identity with `igfeed identity add`.", handle, reason))
}

func (n *Notifier) RunFinished(sum *scraper.Summary) {
	if !n.cfg.Enabled {
		return
	}
	if !n.cfg.OnComplete && sum.Status != models.RunFailed {
		return
	}
	title := fmt.Sprintf("Run %s for @%s", sum.Status, sum.Target)
	lines := []string{sum.Message()}
	if sum.Error != "" {
		lines = append(lines, sum.Error)
	}
	n.dispatch(title, strings.Join(lines, "\n"))
}

func (n *Notifier) dispatch(title, message string) {
	fmt.Fprintf(Out, "\n%s: %s\n", Cyan(title), Yellow(message))
	for _, s := range n.senders {
		if err := s.Send(title, message); err != nil {
			n.log.WithError(err).WithField("title", title).Warn("Failed to send notification")
		}
	}
}
