package sink

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"text/template"
	"time"

	"github.com/devblac/erc20-watch/internal/chain"
	"github.com/devblac/erc20-watch/internal/format"
	"github.com/devblac/erc20-watch/internal/transfer"
)

// Emitter is anything that accepts the transfers of a committed range.
type Emitter interface {
	Emit(ctx context.Context, rng chain.Range, events []transfer.Event) error
}

// Payload is the data passed to senders and templates.
type Payload struct {
	Token       string `json:"token"`
	Symbol      string `json:"symbol"`
	Decimals    uint8  `json:"decimals"`
	From        string `json:"from"`
	To          string `json:"to"`
	Amount      string `json:"amount"`
	Display     string `json:"display_amount"`
	BlockNumber uint64 `json:"block_number"`
	BlockHash   string `json:"block_hash"`
	TxHash      string `json:"tx_hash"`
	LogIndex    uint64 `json:"log_index"`
	Timestamp   uint64 `json:"timestamp"`
	Line        string `json:"line"`
}

// NewPayload flattens an event, resolving symbol and decimals through reg.
func NewPayload(reg *format.Registry, ev transfer.Event) Payload {
	tok, _ := reg.Lookup(ev.Token)
	return Payload{
		Token:       strings.ToLower(ev.Token.Hex()),
		Symbol:      tok.Symbol,
		Decimals:    tok.Decimals,
		From:        strings.ToLower(ev.From.Hex()),
		To:          strings.ToLower(ev.To.Hex()),
		Amount:      ev.Amount.Dec(),
		Display:     format.Amount(&ev.Amount, tok.Decimals),
		BlockNumber: ev.BlockNumber,
		BlockHash:   ev.BlockHash.Hex(),
		TxHash:      ev.TxHash.Hex(),
		LogIndex:    ev.LogIndex,
		Timestamp:   ev.Timestamp,
		Line:        reg.Transfer(ev),
	}
}

// Sender delivers one rendered transfer to an external endpoint.
type Sender interface {
	Send(ctx context.Context, payload Payload) error
}

// bodyFunc shapes the JSON request body from the rendered message and its transfer.
type bodyFunc func(message string, p Payload) any

type httpSender struct {
	url    string
	method string
	render *template.Template
	body   bodyFunc
	client *http.Client
}

func newHTTPSender(url, method, tmpl string, body bodyFunc) (*httpSender, error) {
	if url == "" {
		return nil, fmt.Errorf("webhook url required")
	}
	if method == "" {
		method = http.MethodPost
	}
	t, err := parseTemplate(tmpl)
	if err != nil {
		return nil, err
	}
	return &httpSender{
		url:    url,
		method: strings.ToUpper(method),
		render: t,
		body:   body,
		client: defaultClient(),
	}, nil
}

type webhookBody struct {
	Payload
	Message string `json:"message"`
}

// NewWebhookSender posts the full transfer as JSON with the rendered text in "message".
func NewWebhookSender(url, method, tmpl string) (Sender, error) {
	return newHTTPSender(url, method, tmpl, func(msg string, p Payload) any {
		return webhookBody{Payload: p, Message: msg}
	})
}

// NewSlackSender posts to a Slack incoming webhook.
func NewSlackSender(url, tmpl string) (Sender, error) {
	return newHTTPSender(url, http.MethodPost, tmpl, func(msg string, _ Payload) any {
		return map[string]any{"text": msg, "unfurl_links": false}
	})
}

// NewTeamsSender posts a MessageCard to a Teams incoming webhook.
func NewTeamsSender(url, tmpl string) (Sender, error) {
	return newHTTPSender(url, http.MethodPost, tmpl, func(msg string, p Payload) any {
		return map[string]any{
			"@type":    "MessageCard",
			"@context": "https://schema.org/extensions",
			"summary":  fmt.Sprintf("%s transfer in block %d", p.Symbol, p.BlockNumber),
			"text":     msg,
		}
	})
}

func (s *httpSender) Send(ctx context.Context, payload Payload) error {
	msg, err := executeTemplate(s.render, payload)
	if err != nil {
		return err
	}
	reqBody, err := json.Marshal(s.body(msg, payload))
	if err != nil {
		return fmt.Errorf("marshal body: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, s.method, s.url, bytes.NewReader(reqBody))
	if err != nil {
		return fmt.Errorf("new request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", "erc20-watch")

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("send %s: %w", payload.TxHash, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		detail, _ := io.ReadAll(io.LimitReader(resp.Body, 256))
		return fmt.Errorf("sink http status %d: %s", resp.StatusCode, strings.TrimSpace(string(detail)))
	}
	return nil
}

// DefaultTemplate is used when a sink configures none.
const DefaultTemplate = "Transfer {{.Line}}"

func parseTemplate(tmpl string) (*template.Template, error) {
	if tmpl == "" {
		tmpl = DefaultTemplate
	}
	funcs := template.FuncMap{
		"pretty_json": func(v any) string {
			out, _ := json.MarshalIndent(v, "", "  ")
			return string(out)
		},
		"short_addr": func(addr string) string {
			if len(addr) <= 10 {
				return addr
			}
			return addr[:8] + "..." + addr[len(addr)-4:]
		},
	}
	t, err := template.New("msg").Funcs(funcs).Parse(tmpl)
	if err != nil {
		return nil, fmt.Errorf("parse template: %w", err)
	}
	return t, nil
}

func executeTemplate(t *template.Template, data any) (string, error) {
	var buf bytes.Buffer
	if err := t.Execute(&buf, data); err != nil {
		return "", fmt.Errorf("render template: %w", err)
	}
	return buf.String(), nil
}

func defaultClient() *http.Client {
	return &http.Client{
		Timeout: 8 * time.Second,
	}
}
