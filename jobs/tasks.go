package jobs

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/smtp"

	"github.com/hibiken/asynq"
)

const (
	// QueueDefault is the default queue name for background jobs.
	QueueDefault = "default"
	// TaskTypeSendEmail is the task type for sending transactional emails.
	TaskTypeSendEmail = "mail:send"
)

// SendEmailPayload describes the information required to send an email.
type SendEmailPayload struct {
	To      string `json:"to"`
	Subject string `json:"subject"`
	Body    string `json:"body"`
}

// NewSendEmailTask constructs an Asynq task.
func NewSendEmailTask(payload SendEmailPayload) (*asynq.Task, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskTypeSendEmail, data), nil
}

// Mailer delivers rendered emails. The SMTP implementation is the default;
// tests substitute a recorder.
type Mailer interface {
	Send(to, subject, body string) error
}

// SMTPMailer delivers mail through a plain SMTP relay (Mailpit in
// development).
type SMTPMailer struct {
	Host string
	Port int
	From string
}

// Send delivers one message.
func (m SMTPMailer) Send(to, subject, body string) error {
	msg := fmt.Sprintf("From: %s\r\nTo: %s\r\nSubject: %s\r\n\r\n%s\r\n", m.From, to, subject, body)
	addr := fmt.Sprintf("%s:%d", m.Host, m.Port)
	return smtp.SendMail(addr, nil, m.From, []string{to}, []byte(msg))
}

// EmailHandler processes TaskTypeSendEmail tasks.
type EmailHandler struct {
	mailer Mailer
	logger *slog.Logger
}

// NewEmailHandler constructs the handler.
func NewEmailHandler(mailer Mailer, logger *slog.Logger) *EmailHandler {
	return &EmailHandler{mailer: mailer, logger: logger}
}

// Handle delivers the email described by the task payload.
func (h *EmailHandler) Handle(ctx context.Context, t *asynq.Task) error {
	var payload SendEmailPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return asynq.SkipRetry
	}
	if payload.To == "" {
		h.logger.Warn("send email task without recipient, dropping", slog.String("subject", payload.Subject))
		return asynq.SkipRetry
	}
	if err := h.mailer.Send(payload.To, payload.Subject, payload.Body); err != nil {
		h.logger.Error("send email", slog.String("to", payload.To), slog.Any("error", err))
		return err
	}
	h.logger.Info("email sent", slog.String("to", payload.To), slog.String("subject", payload.Subject))
	return nil
}
