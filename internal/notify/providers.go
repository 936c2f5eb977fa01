package notify

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"mime"
	"net"
	"net/http"
	"net/smtp"
	"strconv"
	"strings"
	"time"
)

const (
	sendGridEndpoint = "https://api.sendgrid.com/v3/mail/send"
	linePushEndpoint = "https://api.line.me/v2/bot/message/push"
)

func newHTTPClient(timeout time.Duration) *http.Client {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &http.Client{Timeout: timeout}
}

func postJSON(ctx context.Context, client *http.Client, url, token string, payload any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		detail, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("provider rejected request: %d %s", resp.StatusCode, strings.TrimSpace(string(detail)))
	}
	return nil
}

type SendGridProvider struct {
	apiKey   string
	from     string
	endpoint string
	client   *http.Client
}

func NewSendGrid(apiKey, from string, timeout time.Duration) *SendGridProvider {
	return &SendGridProvider{apiKey: apiKey, from: from, endpoint: sendGridEndpoint, client: newHTTPClient(timeout)}
}

func (p *SendGridProvider) Name() string { return "sendgrid" }

func (p *SendGridProvider) Send(ctx context.Context, msg Message) error {
	type address struct {
		Email string `json:"email"`
	}
	type content struct {
		Type  string `json:"type"`
		Value string `json:"value"`
	}
	payload := struct {
		Personalizations []map[string][]address `json:"personalizations"`
		From             address                `json:"from"`
		Subject          string                 `json:"subject"`
		Content          []content              `json:"content"`
	}{
		Personalizations: []map[string][]address{{"to": {{Email: msg.Recipient}}}},
		From:             address{Email: p.from},
		Subject:          msg.Subject,
		Content:          []content{{Type: "text/plain", Value: msg.Body}},
	}
	return postJSON(ctx, p.client, p.endpoint, p.apiKey, payload)
}

type SMTPConfig struct {
	Host     string
	Port     int
	Username string
	Password string
	From     string
}

// SMTPProvider submits mail over implicit TLS, the way Gmail expects on
// port 465.
type SMTPProvider struct {
	cfg       SMTPConfig
	tlsConfig *tls.Config
}

func NewSMTP(cfg SMTPConfig) *SMTPProvider {
	if cfg.Port == 0 {
		cfg.Port = 465
	}
	if cfg.From == "" {
		cfg.From = cfg.Username
	}
	return &SMTPProvider{cfg: cfg, tlsConfig: &tls.Config{ServerName: cfg.Host}}
}

func (p *SMTPProvider) Name() string { return "smtp" }

func (p *SMTPProvider) Send(ctx context.Context, msg Message) error {
	addr := net.JoinHostPort(p.cfg.Host, strconv.Itoa(p.cfg.Port))
	dialer := &tls.Dialer{Config: p.tlsConfig}
	conn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return err
	}
	if deadline, ok := ctx.Deadline(); ok {
		_ = conn.SetDeadline(deadline)
	}
	client, err := smtp.NewClient(conn, p.cfg.Host)
	if err != nil {
		conn.Close()
		return err
	}
	defer client.Close()

	if p.cfg.Username != "" {
		if err := client.Auth(smtp.PlainAuth("", p.cfg.Username, p.cfg.Password, p.cfg.Host)); err != nil {
			return err
		}
	}
	if err := client.Mail(p.cfg.From); err != nil {
		return err
	}
	if err := client.Rcpt(msg.Recipient); err != nil {
		return err
	}
	w, err := client.Data()
	if err != nil {
		return err
	}
	if _, err := w.Write(composeMail(p.cfg.From, msg)); err != nil {
		w.Close()
		return err
	}
	if err := w.Close(); err != nil {
		return err
	}
	return client.Quit()
}

func composeMail(from string, msg Message) []byte {
	var b bytes.Buffer
	fmt.Fprintf(&b, "From: %s\r\n", from)
	fmt.Fprintf(&b, "To: %s\r\n", msg.Recipient)
	fmt.Fprintf(&b, "Subject: %s\r\n", mime.BEncoding.Encode("UTF-8", msg.Subject))
	b.WriteString("MIME-Version: 1.0\r\n")
	b.WriteString("Content-Type: text/plain; charset=UTF-8\r\n")
	b.WriteString("Content-Transfer-Encoding: 8bit\r\n\r\n")
	b.WriteString(strings.ReplaceAll(msg.Body, "\n", "\r\n"))
	b.WriteString("\r\n")
	return b.Bytes()
}

// LINEProvider pushes the notice to a LINE user or group. The mail
// recipient is ignored.
type LINEProvider struct {
	token    string
	to       string
	endpoint string
	client   *http.Client
}

func NewLINE(token, to string, timeout time.Duration) *LINEProvider {
	return &LINEProvider{token: token, to: to, endpoint: linePushEndpoint, client: newHTTPClient(timeout)}
}

func (p *LINEProvider) Name() string { return "line" }

func (p *LINEProvider) Send(ctx context.Context, msg Message) error {
	type textMessage struct {
		Type string `json:"type"`
		Text string `json:"text"`
	}
	payload := struct {
		To       string        `json:"to"`
		Messages []textMessage `json:"messages"`
	}{
		To:       p.to,
		Messages: []textMessage{{Type: "text", Text: msg.Subject + "\n\n" + msg.Body}},
	}
	return postJSON(ctx, p.client, p.endpoint, p.token, payload)
}

type WebhookProvider struct {
	url    string
	token  string
	client *http.Client
}

func NewWebhook(url, token string, timeout time.Duration) *WebhookProvider {
	return &WebhookProvider{url: url, token: token, client: newHTTPClient(timeout)}
}

func (p *WebhookProvider) Name() string { return "webhook" }

func (p *WebhookProvider) Send(ctx context.Context, msg Message) error {
	payload := map[string]string{
		"channel":   "email",
		"recipient": msg.Recipient,
		"subject":   msg.Subject,
		"message":   msg.Body,
	}
	return postJSON(ctx, p.client, p.url, p.token, payload)
}

// LogProvider writes the notice to the service log. It never fails and
// is meant to sit last in a chain.
type LogProvider struct{}

func (LogProvider) Name() string { return "log" }

func (LogProvider) Send(ctx context.Context, msg Message) error {
	log.Printf("notify to=%s subject=%q body=%q", msg.Recipient, msg.Subject, msg.Body)
	return nil
}
