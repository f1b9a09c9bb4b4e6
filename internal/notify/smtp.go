// Package notify envía el reporte de verificación por email (SMTP vía
// go-mail). Un fallo de envío nunca cambia el resultado de la verificación.
package notify

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"

	mail "github.com/go-mail/mail"

	"github.com/dropDatabas3/rebano/internal/domain/repository"
	"github.com/dropDatabas3/rebano/internal/observability/logger"
)

// Message es un email multipart (texto + html).
type Message struct {
	To      []string
	Subject string
	Text    string
	HTML    string
}

// Sender envía mensajes.
type Sender interface {
	Send(ctx context.Context, m Message) error
}

// SMTPConfig configuración del servidor SMTP.
type SMTPConfig struct {
	Host               string `yaml:"host"`
	Port               int    `yaml:"port"`
	Username           string `yaml:"username"`
	Password           string `yaml:"password"`
	From               string `yaml:"from"`
	TLSMode            string `yaml:"tls_mode"` // "auto" | "starttls" | "ssl" | "none"
	InsecureSkipVerify bool   `yaml:"insecure_skip_verify"`
}

// SMTPSender implementa Sender usando SMTP.
type SMTPSender struct {
	cfg     SMTPConfig
	deliver func(d *mail.Dialer, m *mail.Message) error
}

// NewSMTPSender crea un sender. Port 0 = 587.
func NewSMTPSender(cfg SMTPConfig) *SMTPSender {
	if cfg.Port == 0 {
		cfg.Port = 587
	}
	if cfg.TLSMode == "" {
		cfg.TLSMode = "auto"
	}
	return &SMTPSender{
		cfg:     cfg,
		deliver: func(d *mail.Dialer, m *mail.Message) error { return d.DialAndSend(m) },
	}
}

func (s *SMTPSender) message(m Message) *mail.Message {
	msg := mail.NewMessage()
	msg.SetHeader("From", s.cfg.From)
	msg.SetHeader("To", m.To...)
	msg.SetHeader("Subject", m.Subject)

	// multipart/alternative si vienen las dos versiones
	if m.Text != "" {
		msg.SetBody("text/plain", m.Text)
	}
	if m.HTML != "" {
		if m.Text == "" {
			msg.SetBody("text/html", m.HTML)
		} else {
			msg.AddAlternative("text/html", m.HTML)
		}
	}
	return msg
}

func (s *SMTPSender) dialer() *mail.Dialer {
	d := mail.NewDialer(s.cfg.Host, s.cfg.Port, s.cfg.Username, s.cfg.Password)
	d.TLSConfig = &tls.Config{ServerName: s.cfg.Host, InsecureSkipVerify: s.cfg.InsecureSkipVerify}
	switch s.cfg.TLSMode {
	case "ssl":
		d.SSL = true
	case "none":
		d.StartTLSPolicy = mail.NoStartTLS
	case "starttls":
		d.StartTLSPolicy = mail.MandatoryStartTLS
	}
	return d
}

// Send envía m. Los errores temporales (timeout, dial, 4xx) se envuelven con
// repository.ErrUnavailable para que el caller los reintente.
func (s *SMTPSender) Send(ctx context.Context, m Message) error {
	if len(m.To) == 0 {
		return fmt.Errorf("notify: %w: no recipients", repository.ErrInvalidInput)
	}
	log := logger.From(ctx).With(logger.Component("notify"), logger.String("host", s.cfg.Host), logger.Int("port", s.cfg.Port))
	log.Debug("sending email", logger.String("subject", m.Subject), logger.String("tls_mode", s.cfg.TLSMode))

	if err := ctx.Err(); err != nil {
		return err
	}
	if err := s.deliver(s.dialer(), s.message(m)); err != nil {
		diag := Diagnose(err)
		log.Warn("smtp send failed", logger.String("code", diag.Code), logger.Bool("temporary", diag.Temporary), logger.Err(err))
		if diag.Temporary {
			return fmt.Errorf("notify: smtp %s: %w", diag.Code, errors.Join(repository.ErrUnavailable, err))
		}
		return fmt.Errorf("notify: smtp %s: %w", diag.Code, err)
	}
	log.Info("email sent", logger.Count(len(m.To)))
	return nil
}
