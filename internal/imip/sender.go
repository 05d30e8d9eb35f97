package imip

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/emersion/go-sasl"
	"github.com/emersion/go-smtp"
	"github.com/rs/zerolog"

	"github.com/calfed/itipd/internal/config"
)

// Sender delivers iMIP messages to external calendar users.
type Sender interface {
	Send(ctx context.Context, msg *Message) error
}

func New(cfg *config.Config, logger zerolog.Logger) (Sender, error) {
	switch cfg.IMIP.Mode {
	case "notifier":
		if cfg.IMIP.NotifierURL == "" {
			return nil, errors.New("IMIP_NOTIFIER_URL is required in notifier mode")
		}
		return &NotifierSender{
			url:    cfg.IMIP.NotifierURL,
			client: &http.Client{Timeout: cfg.IMIP.Timeout},
			logger: logger,
		}, nil
	case "smtp", "":
		return &SMTPSender{cfg: cfg.IMIP, serverName: cfg.Scheduling.ServerName, logger: logger}, nil
	default:
		return nil, fmt.Errorf("unknown iMIP mode %q", cfg.IMIP.Mode)
	}
}

// SMTPSender submits the rendered MIME message directly.
type SMTPSender struct {
	cfg        config.IMIPConfig
	serverName string
	logger     zerolog.Logger
}

func (s *SMTPSender) Send(ctx context.Context, msg *Message) error {
	body, err := BuildMIME(msg, s.serverName)
	if err != nil {
		return err
	}

	var auth sasl.Client
	if s.cfg.SMTPUser != "" {
		auth = sasl.NewPlainClient("", s.cfg.SMTPUser, s.cfg.SMTPPassword)
	}

	done := make(chan error, 1)
	go func() {
		done <- smtp.SendMail(s.cfg.SMTPAddr, auth, msg.Originator, []string{msg.Recipient}, bytes.NewReader(body))
	}()
	select {
	case err := <-done:
		if err != nil {
			s.logger.Error().Err(err).
				Str("recipient", msg.Recipient).
				Str("smtp_addr", s.cfg.SMTPAddr).
				Msg("SMTP submission failed")
		}
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// NotifierSender hands the message to an out-of-process notification
// channel as a JSON envelope.
type NotifierSender struct {
	url    string
	client *http.Client
	logger zerolog.Logger
}

type notifierEnvelope struct {
	Recipient string `json:"recipient"`
	ICal      string `json:"ical"`
	IsUpdate  bool   `json:"is_update"`
}

func (n *NotifierSender) Send(ctx context.Context, msg *Message) error {
	payload, err := json.Marshal(notifierEnvelope{
		Recipient: msg.Recipient,
		ICal:      string(msg.ICalData),
		IsUpdate:  msg.IsUpdate,
	})
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.url, bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := n.client.Do(req)
	if err != nil {
		n.logger.Error().Err(err).Str("url", n.url).Msg("notifier handoff failed")
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return fmt.Errorf("notifier returned status %d", resp.StatusCode)
	}
	return nil
}
