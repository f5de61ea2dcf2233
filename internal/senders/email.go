package senders

import (
	"bytes"
	"context"
	"crypto/tls"
	"fmt"
	"html"
	"mime/multipart"
	"net"
	"net/smtp"
	"net/textproto"
	"regexp"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/amityvox/notifyd/internal/models"
)

// EmailSender delivers rendered content over SMTP, grounded on the
// smtp.PlainAuth/SendMail pattern but keeping one client per credential
// alive across sends (credential rotation invalidates the cached entry
// through the Credential & Branding Cache, not this sender).
type EmailSender struct {
	mu      sync.Mutex
	clients map[string]*pooledClient
	idleTTL time.Duration
}

type pooledClient struct {
	client     *smtp.Client
	lastUsedAt time.Time
}

// NewEmailSender constructs an EmailSender. A pooled connection idle longer
// than idleTTL is closed and replaced the next time a send needs it.
func NewEmailSender(idleTTL time.Duration) *EmailSender {
	if idleTTL <= 0 {
		idleTTL = 5 * time.Minute
	}
	return &EmailSender{clients: make(map[string]*pooledClient), idleTTL: idleTTL}
}

// Send implements Sender.
func (s *EmailSender) Send(ctx context.Context, cred *models.Credential, content models.RenderedContent, recipient string) (Result, error) {
	host := cred.Secrets["smtp_host"]
	if host == "" {
		return Result{}, &SendError{Reason: models.FailureAuth, Retriable: false, Err: fmt.Errorf("senders/email: missing smtp_host")}
	}
	portStr := cred.Secrets["smtp_port"]
	port, err := strconv.Atoi(portStr)
	if err != nil || port == 0 {
		port = 587
	}
	user := cred.Secrets["smtp_user"]
	pass := cred.Secrets["smtp_pass"]
	from := cred.Secrets["from"]
	if from == "" {
		from = user
	}
	useTLS := cred.Secrets["ssl"] == "true"

	addr := net.JoinHostPort(host, strconv.Itoa(port))
	key := cred.TenantID + "|" + addr + "|" + user

	client, err := s.clientFor(key, addr, host, user, pass, useTLS)
	if err != nil {
		return Result{}, &SendError{Reason: models.FailureNetwork, Retriable: true, Err: fmt.Errorf("senders/email: connecting to %s: %w", addr, err)}
	}

	msg, err := buildMessage(from, recipient, content)
	if err != nil {
		return Result{}, &SendError{Reason: models.FailureInternal, Retriable: true, Err: fmt.Errorf("senders/email: building message: %w", err)}
	}

	if err := client.Mail(from); err != nil {
		s.drop(key)
		return Result{}, classifySMTPError(err)
	}
	if err := client.Rcpt(recipient); err != nil {
		s.drop(key)
		return Result{}, classifySMTPError(err)
	}
	w, err := client.Data()
	if err != nil {
		s.drop(key)
		return Result{}, classifySMTPError(err)
	}
	if _, err := w.Write(msg); err != nil {
		s.drop(key)
		return Result{}, &SendError{Reason: models.FailureNetwork, Retriable: true, Err: fmt.Errorf("senders/email: writing body: %w", err)}
	}
	if err := w.Close(); err != nil {
		s.drop(key)
		return Result{}, classifySMTPError(err)
	}

	return Result{ProviderResponse: "250 accepted"}, nil
}

func (s *EmailSender) clientFor(key, addr, host, user, pass string, useTLS bool) (*smtp.Client, error) {
	s.mu.Lock()
	if entry, ok := s.clients[key]; ok {
		if time.Since(entry.lastUsedAt) < s.idleTTL {
			if err := entry.client.Noop(); err == nil {
				entry.lastUsedAt = time.Now()
				s.mu.Unlock()
				return entry.client, nil
			}
		}
		delete(s.clients, key)
		entry.client.Close()
	}
	s.mu.Unlock()

	var conn net.Conn
	var err error
	dialer := net.Dialer{Timeout: 10 * time.Second}
	if useTLS {
		conn, err = tls.DialWithDialer(&dialer, "tcp", addr, &tls.Config{ServerName: host})
	} else {
		conn, err = dialer.Dial("tcp", addr)
	}
	if err != nil {
		return nil, err
	}

	client, err := smtp.NewClient(conn, host)
	if err != nil {
		conn.Close()
		return nil, err
	}
	if !useTLS {
		if ok, _ := client.Extension("STARTTLS"); ok {
			if err := client.StartTLS(&tls.Config{ServerName: host}); err != nil {
				client.Close()
				return nil, err
			}
		}
	}
	if user != "" {
		auth := smtp.PlainAuth("", user, pass, host)
		if err := client.Auth(auth); err != nil {
			client.Close()
			return nil, fmt.Errorf("auth: %w", err)
		}
	}

	s.mu.Lock()
	s.clients[key] = &pooledClient{client: client, lastUsedAt: time.Now()}
	s.mu.Unlock()
	return client, nil
}

func (s *EmailSender) drop(key string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if entry, ok := s.clients[key]; ok {
		entry.client.Close()
		delete(s.clients, key)
	}
}

// SweepIdle closes connections that have been idle longer than idleTTL.
// Nothing in this module calls it; otherwise an idle connection is closed
// only when a later send for the same key finds it expired.
func (s *EmailSender) SweepIdle() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for key, entry := range s.clients {
		if time.Since(entry.lastUsedAt) >= s.idleTTL {
			entry.client.Close()
			delete(s.clients, key)
		}
	}
}

var htmlTagPattern = regexp.MustCompile(`<[^>]*>`)

// htmlToPlainText degrades a rendered HTML body to plaintext for the
// multipart/alternative part mail clients fall back to when they don't
// render HTML: tags are stripped and entities unescaped.
func htmlToPlainText(body string) string {
	stripped := htmlTagPattern.ReplaceAllString(body, "")
	return strings.TrimSpace(html.UnescapeString(stripped))
}

// buildMessage assembles a multipart/alternative message with a plaintext
// part ahead of the branded HTML part, per RFC 2046 5.1.4 (most preferred
// alternative last).
func buildMessage(from, to string, content models.RenderedContent) ([]byte, error) {
	var b strings.Builder
	fmt.Fprintf(&b, "From: %s\r\n", from)
	fmt.Fprintf(&b, "To: %s\r\n", to)
	fmt.Fprintf(&b, "Subject: %s\r\n", content.Subject)
	b.WriteString("MIME-Version: 1.0\r\n")

	buf := &bytes.Buffer{}
	mw := multipart.NewWriter(buf)
	fmt.Fprintf(&b, "Content-Type: multipart/alternative; boundary=%s\r\n", mw.Boundary())
	b.WriteString("\r\n")

	textPart, err := mw.CreatePart(textproto.MIMEHeader{"Content-Type": {"text/plain; charset=UTF-8"}})
	if err != nil {
		return nil, fmt.Errorf("creating text part: %w", err)
	}
	if _, err := textPart.Write([]byte(htmlToPlainText(content.Body))); err != nil {
		return nil, fmt.Errorf("writing text part: %w", err)
	}

	htmlPart, err := mw.CreatePart(textproto.MIMEHeader{"Content-Type": {"text/html; charset=UTF-8"}})
	if err != nil {
		return nil, fmt.Errorf("creating html part: %w", err)
	}
	if _, err := htmlPart.Write([]byte(content.Body)); err != nil {
		return nil, fmt.Errorf("writing html part: %w", err)
	}

	if err := mw.Close(); err != nil {
		return nil, fmt.Errorf("closing multipart writer: %w", err)
	}

	b.Write(buf.Bytes())
	return []byte(b.String()), nil
}

// classifySMTPError maps an SMTP reply into the failure taxonomy: 5xx
// replies are permanent (bad address, policy rejection), everything else
// is treated as transient.
func classifySMTPError(err error) *SendError {
	msg := err.Error()
	if strings.HasPrefix(msg, "5") {
		return &SendError{Reason: models.FailureProvider, Retriable: false, ProviderResponse: msg, Err: fmt.Errorf("senders/email: %w", err)}
	}
	return &SendError{Reason: models.FailureProvider, Retriable: true, ProviderResponse: msg, Err: fmt.Errorf("senders/email: %w", err)}
}
