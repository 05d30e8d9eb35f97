package ischedule

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeTestKey(t *testing.T) string {
	t.Helper()
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)
	path := filepath.Join(t.TempDir(), "dkim.pem")
	data := pem.EncodeToMemory(&pem.Block{
		Type:  "RSA PRIVATE KEY",
		Bytes: x509.MarshalPKCS1PrivateKey(key),
	})
	require.NoError(t, os.WriteFile(path, data, 0o600))
	return path
}

func TestNewSigner(t *testing.T) {
	s, err := NewSigner("example.com", "cal", writeTestKey(t))
	require.NoError(t, err)
	assert.Equal(t, "example.com", s.Domain())
	assert.Equal(t, "cal", s.Selector())

	_, err = NewSigner("example.com", "cal", filepath.Join(t.TempDir(), "missing.pem"))
	assert.Error(t, err)
}

func TestSignProducesHeaderValue(t *testing.T) {
	s, err := NewSigner("example.com", "cal", writeTestKey(t))
	require.NoError(t, err)

	headers := map[string]string{
		"iSchedule-Version":    "1.0",
		"iSchedule-Message-ID": "<msg-1@node-a>",
		"Content-Type":         "text/calendar; component=VEVENT; method=REQUEST",
		"Originator":           "mailto:alice@example.com",
		"Recipient":            "mailto:dan@peer.org",
	}
	body := []byte("BEGIN:VCALENDAR\r\nEND:VCALENDAR\r\n")

	sig, err := s.Sign(headers, body)
	require.NoError(t, err)
	assert.Contains(t, sig, "d=example.com")
	assert.Contains(t, sig, "s=cal")
	assert.Contains(t, sig, "a=rsa-sha256")
	assert.Contains(t, sig, "bh=")
	assert.NotContains(t, sig, "\r\n")

	// The same message signs deterministically apart from the timestamp,
	// and a different body yields a different body hash.
	sig2, err := s.Sign(headers, []byte("BEGIN:VCALENDAR\r\nCALSCALE:GREGORIAN\r\nEND:VCALENDAR\r\n"))
	require.NoError(t, err)
	assert.NotEqual(t, sig, sig2)
}

func TestTXTRecord(t *testing.T) {
	s, err := NewSigner("example.com", "cal", writeTestKey(t))
	require.NoError(t, err)

	txt, err := s.TXTRecord()
	require.NoError(t, err)
	assert.Contains(t, txt, "v=DKIM1")
	assert.Contains(t, txt, "k=rsa")
	assert.Contains(t, txt, "p=")
}
