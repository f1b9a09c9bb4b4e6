package notify

import (
	"bytes"
	"context"
	"embed"
	"fmt"
	htmltpl "html/template"
	texttpl "text/template"
	"time"

	"github.com/dropDatabas3/rebano/internal/observability/logger"
	"github.com/dropDatabas3/rebano/internal/retry"
	"github.com/dropDatabas3/rebano/internal/verify"
)

//go:embed templates/*
var templateFS embed.FS

var (
	reportText = texttpl.Must(texttpl.ParseFS(templateFS, "templates/report.txt"))
	reportHTML = htmltpl.Must(htmltpl.ParseFS(templateFS, "templates/report.html"))
)

// Mode decide cuándo se envía el reporte.
type Mode string

const (
	ModeNever     Mode = "never"
	ModeAlways    Mode = "always"
	ModeOnFailure Mode = "on_failure"
)

// Valid indica si m es un modo conocido.
func (m Mode) Valid() bool {
	switch m {
	case ModeNever, ModeAlways, ModeOnFailure:
		return true
	}
	return false
}

// Notifier envía reportes de verificación.
type Notifier struct {
	sender        Sender
	to            []string
	mode          Mode
	subjectPrefix string
	retry         retry.Policy
}

// Options del notifier.
type Options struct {
	To            []string
	Mode          Mode
	SubjectPrefix string // default "[rebano]"
	Retry         retry.Policy
}

// New crea un notifier. Con sender nil o sin destinatarios no envía nada.
func New(sender Sender, opts Options) *Notifier {
	if opts.Mode == "" {
		opts.Mode = ModeOnFailure
	}
	if opts.SubjectPrefix == "" {
		opts.SubjectPrefix = "[rebano]"
	}
	if opts.Retry.MaxAttempts == 0 {
		opts.Retry = retry.Default
	}
	return &Notifier{sender: sender, to: opts.To, mode: opts.Mode, subjectPrefix: opts.SubjectPrefix, retry: opts.Retry}
}

func (n *Notifier) enabled(rep *verify.Report) bool {
	if n == nil || n.sender == nil || len(n.to) == 0 {
		return false
	}
	switch n.mode {
	case ModeAlways:
		return true
	case ModeOnFailure:
		return !rep.FullyReconciled
	}
	return false
}

// Render arma el mensaje del reporte.
func (n *Notifier) Render(rep *verify.Report) (Message, error) {
	status := "OK"
	if !rep.FullyReconciled {
		status = fmt.Sprintf("FAILED (%d categories)", len(rep.Failing()))
	}
	m := Message{
		To:      n.to,
		Subject: fmt.Sprintf("%s verification %s: %d findings left", n.subjectPrefix, status, rep.TotalFindingsAfter),
	}
	var txt, html bytes.Buffer
	if err := reportText.Execute(&txt, rep); err != nil {
		return Message{}, fmt.Errorf("notify: render text: %w", err)
	}
	if err := reportHTML.Execute(&html, rep); err != nil {
		return Message{}, fmt.Errorf("notify: render html: %w", err)
	}
	m.Text, m.HTML = txt.String(), html.String()
	return m, nil
}

// Report envía rep según el modo configurado. Reintenta errores temporales.
func (n *Notifier) Report(ctx context.Context, rep *verify.Report) error {
	if !n.enabled(rep) {
		return nil
	}
	m, err := n.Render(rep)
	if err != nil {
		return err
	}
	log := logger.From(ctx).With(logger.Component("notify"), logger.PassID(rep.PassID))
	_, err = retry.Do(ctx, n.retry, func(ctx context.Context) error {
		return n.sender.Send(ctx, m)
	}, func(attempt int, _ time.Duration, err error) {
		log.Debug("notification retry", logger.Attempt(attempt), logger.Err(err))
	})
	return err
}
