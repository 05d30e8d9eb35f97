package imip

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/calfed/itipd/internal/config"
)

func TestNewSenderModes(t *testing.T) {
	cfg := &config.Config{}
	cfg.IMIP.Mode = "smtp"
	s, err := New(cfg, zerolog.Nop())
	require.NoError(t, err)
	assert.IsType(t, &SMTPSender{}, s)

	cfg.IMIP.Mode = "notifier"
	_, err = New(cfg, zerolog.Nop())
	assert.Error(t, err, "notifier mode needs a URL")

	cfg.IMIP.NotifierURL = "http://localhost:9999/notify"
	s, err = New(cfg, zerolog.Nop())
	require.NoError(t, err)
	assert.IsType(t, &NotifierSender{}, s)

	cfg.IMIP.Mode = "carrier-pigeon"
	_, err = New(cfg, zerolog.Nop())
	assert.Error(t, err)
}

func TestNotifierSend(t *testing.T) {
	var got notifierEnvelope
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		require.NoError(t, json.Unmarshal(body, &got))
		w.WriteHeader(http.StatusAccepted)
	}))
	defer srv.Close()

	n := &NotifierSender{
		url:    srv.URL,
		client: &http.Client{Timeout: time.Second},
		logger: zerolog.Nop(),
	}
	err := n.Send(context.Background(), &Message{
		Recipient: "dan@external.org",
		ICalData:  []byte("BEGIN:VCALENDAR\r\nEND:VCALENDAR\r\n"),
		IsUpdate:  true,
	})
	require.NoError(t, err)
	assert.Equal(t, "dan@external.org", got.Recipient)
	assert.Contains(t, got.ICal, "BEGIN:VCALENDAR")
	assert.True(t, got.IsUpdate)
}

func TestNotifierSendRejectedStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "queue full", http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	n := &NotifierSender{
		url:    srv.URL,
		client: &http.Client{Timeout: time.Second},
		logger: zerolog.Nop(),
	}
	err := n.Send(context.Background(), &Message{Recipient: "dan@external.org"})
	assert.ErrorContains(t, err, "503")
}
