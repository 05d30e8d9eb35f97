package ischedule

import (
	"bufio"
	"bytes"
	"crypto"
	"crypto/ed25519"
	"crypto/x509"
	"encoding/base64"
	"encoding/pem"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/emersion/go-msgauth/dkim"
)

// Headers covered by the iSchedule signature, in signing order.
var signedHeaders = []string{
	"iSchedule-Version",
	"iSchedule-Message-ID",
	"Content-Type",
	"Originator",
	"Recipient",
}

// Signer computes DKIM-Signature values over iSchedule requests using
// relaxed header and simple body canonicalization with SHA-256.
type Signer struct {
	domain   string
	selector string
	key      crypto.Signer
}

func NewSigner(domain, selector, keyPath string) (*Signer, error) {
	raw, err := os.ReadFile(keyPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read DKIM key: %w", err)
	}
	block, _ := pem.Decode(raw)
	if block == nil {
		return nil, errors.New("DKIM key is not PEM encoded")
	}
	key, err := parseSigningKey(block)
	if err != nil {
		return nil, err
	}
	return &Signer{domain: domain, selector: selector, key: key}, nil
}

func parseSigningKey(block *pem.Block) (crypto.Signer, error) {
	if k, err := x509.ParsePKCS1PrivateKey(block.Bytes); err == nil {
		return k, nil
	}
	k, err := x509.ParsePKCS8PrivateKey(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("failed to parse DKIM key: %w", err)
	}
	signer, ok := k.(crypto.Signer)
	if !ok {
		return nil, errors.New("DKIM key does not implement crypto.Signer")
	}
	return signer, nil
}

func (s *Signer) Domain() string   { return s.domain }
func (s *Signer) Selector() string { return s.selector }

// TXTRecord renders the DNS TXT record value peers resolve under
// <selector>._domainkey.<domain> to verify this node's signatures.
func (s *Signer) TXTRecord() (string, error) {
	pub := s.key.Public()
	keyType := "rsa"
	var raw []byte
	if ed, ok := pub.(ed25519.PublicKey); ok {
		keyType = "ed25519"
		raw = ed
	} else {
		der, err := x509.MarshalPKIXPublicKey(pub)
		if err != nil {
			return "", err
		}
		raw = der
	}
	return fmt.Sprintf("v=DKIM1; h=sha256; k=%s; p=%s",
		keyType, base64.StdEncoding.EncodeToString(raw)), nil
}

// Sign returns the DKIM-Signature header value for a message assembled
// from the given headers and body.
func (s *Signer) Sign(headers map[string]string, body []byte) (string, error) {
	msg := assembleMessage(headers, body)
	opts := &dkim.SignOptions{
		Domain:                 s.domain,
		Selector:               s.selector,
		Signer:                 s.key,
		Hash:                   crypto.SHA256,
		HeaderCanonicalization: dkim.CanonicalizationRelaxed,
		BodyCanonicalization:   dkim.CanonicalizationSimple,
		HeaderKeys:             presentHeaders(headers),
	}
	var out bytes.Buffer
	if err := dkim.Sign(&out, bytes.NewReader(msg), opts); err != nil {
		return "", err
	}
	return extractSignature(out.Bytes())
}

// Verify checks the DKIM-Signature of an inbound request reassembled
// into message form.
func Verify(headers map[string]string, signature string, body []byte) error {
	withSig := make(map[string]string, len(headers)+1)
	for k, v := range headers {
		withSig[k] = v
	}
	withSig["DKIM-Signature"] = signature
	msg := assembleMessage(withSig, body)
	verifications, err := dkim.Verify(bytes.NewReader(msg))
	if err != nil {
		return err
	}
	for _, v := range verifications {
		if v.Err == nil {
			return nil
		}
	}
	return errors.New("no valid DKIM signature")
}

func presentHeaders(headers map[string]string) []string {
	var keys []string
	for _, name := range signedHeaders {
		if headers[name] != "" {
			keys = append(keys, name)
		}
	}
	return keys
}

// assembleMessage lays the iSchedule headers and iCalendar body out as
// an RFC 5322 message so the DKIM canonicalizations apply unchanged.
func assembleMessage(headers map[string]string, body []byte) []byte {
	var buf bytes.Buffer
	if sig := headers["DKIM-Signature"]; sig != "" {
		buf.WriteString("DKIM-Signature: " + sig + "\r\n")
	}
	for _, name := range signedHeaders {
		if v := headers[name]; v != "" {
			buf.WriteString(name + ": " + v + "\r\n")
		}
	}
	buf.WriteString("\r\n")
	buf.Write(body)
	return buf.Bytes()
}

func extractSignature(signed []byte) (string, error) {
	rd := bufio.NewReader(bytes.NewReader(signed))
	var sig strings.Builder
	inSig := false
	for {
		line, err := rd.ReadString('\n')
		if err != nil {
			break
		}
		trimmed := strings.TrimRight(line, "\r\n")
		if trimmed == "" {
			break
		}
		if inSig && (strings.HasPrefix(line, " ") || strings.HasPrefix(line, "\t")) {
			sig.WriteString(" " + strings.TrimSpace(trimmed))
			continue
		}
		inSig = false
		if v, ok := strings.CutPrefix(trimmed, "DKIM-Signature:"); ok {
			sig.WriteString(strings.TrimSpace(v))
			inSig = true
		}
	}
	if sig.Len() == 0 {
		return "", errors.New("signer produced no DKIM-Signature header")
	}
	return sig.String(), nil
}
