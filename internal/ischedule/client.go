package ischedule

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/calfed/itipd/internal/config"
)

const WellKnownPath = "/.well-known/ischedule"

// Request is one outbound iSchedule POST to a peer server.
type Request struct {
	Server     string
	Port       int
	Originator string
	Recipients []string
	Method     string
	Component  string
	ICalData   []byte
}

type Client struct {
	cfg    config.ISCheduleConfig
	httpc  *http.Client
	signer *Signer
	logger zerolog.Logger
}

func NewClient(cfg config.ISCheduleConfig, signer *Signer, logger zerolog.Logger) *Client {
	return &Client{
		cfg: cfg,
		httpc: &http.Client{
			Timeout: cfg.Timeout,
			CheckRedirect: func(req *http.Request, via []*http.Request) error {
				return http.ErrUseLastResponse
			},
		},
		signer: signer,
		logger: logger,
	}
}

// Submit posts an iTIP message to the peer and returns the parsed
// per-recipient statuses.
func (c *Client) Submit(ctx context.Context, req *Request) ([]RecipientResponse, error) {
	body, err := c.post(ctx, req)
	if err != nil {
		return nil, err
	}
	return ParseScheduleResponse(body)
}

func (c *Client) post(ctx context.Context, req *Request) ([]byte, error) {
	target := c.targetURL(req)

	headers := map[string]string{
		"iSchedule-Version":    "1.0",
		"iSchedule-Message-ID": "<" + uuid.NewString() + "@" + hostOnly(req.Server) + ">",
		"Content-Type":         fmt.Sprintf("text/calendar; charset=utf-8; method=%s; component=%s", req.Method, req.Component),
		"Originator":           "mailto:" + req.Originator,
		"Recipient":            recipientHeader(req.Recipients),
	}

	signature := ""
	if c.signer != nil {
		sig, err := c.signer.Sign(headers, req.ICalData)
		if err != nil {
			return nil, fmt.Errorf("DKIM signing failed: %w", err)
		}
		signature = sig
	}

	for attempt := 0; ; attempt++ {
		httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, target, bytes.NewReader(req.ICalData))
		if err != nil {
			return nil, err
		}
		httpReq.Header.Set("Cache-Control", "no-cache, no-transform")
		for k, v := range headers {
			httpReq.Header.Set(k, v)
		}
		if signature != "" {
			httpReq.Header.Set("DKIM-Signature", signature)
		}

		resp, err := c.httpc.Do(httpReq)
		if err != nil {
			return nil, err
		}

		switch resp.StatusCode {
		case http.StatusMovedPermanently, http.StatusFound,
			http.StatusTemporaryRedirect, http.StatusPermanentRedirect:
			loc := resp.Header.Get("Location")
			resp.Body.Close()
			if loc == "" || attempt >= c.cfg.MaxRedirects {
				return nil, fmt.Errorf("redirect limit reached for %s", target)
			}
			next, err := url.Parse(loc)
			if err != nil {
				return nil, err
			}
			base, _ := url.Parse(target)
			target = base.ResolveReference(next).String()
			c.logger.Debug().Str("location", target).Msg("following iSchedule redirect")
			continue
		case http.StatusOK:
			defer resp.Body.Close()
			return io.ReadAll(io.LimitReader(resp.Body, 4<<20))
		default:
			resp.Body.Close()
			return nil, fmt.Errorf("peer returned status %d", resp.StatusCode)
		}
	}
}

func (c *Client) targetURL(req *Request) string {
	port := req.Port
	if port == 0 {
		port = c.cfg.PeerPort
	}
	scheme := "https"
	if port == 80 || port == 8080 {
		scheme = "http"
	}
	if (scheme == "https" && port == 443) || (scheme == "http" && port == 80) {
		return fmt.Sprintf("%s://%s%s", scheme, req.Server, WellKnownPath)
	}
	return fmt.Sprintf("%s://%s:%d%s", scheme, req.Server, port, WellKnownPath)
}

func recipientHeader(recipients []string) string {
	out := make([]string, 0, len(recipients))
	for _, r := range recipients {
		out = append(out, "mailto:"+r)
	}
	return strings.Join(out, ", ")
}

func hostOnly(s string) string {
	host, _, ok := strings.Cut(s, ":")
	if ok {
		return host
	}
	return s
}
