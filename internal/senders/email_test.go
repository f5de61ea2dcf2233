package senders

import (
	"bufio"
	"net"
	"strings"
	"testing"
	"time"

	"github.com/amityvox/notifyd/internal/models"
)

// fakeSMTPServer speaks just enough SMTP to exercise EmailSender: greeting,
// EHLO, MAIL FROM, RCPT TO, DATA, and a final reply code it was configured
// with.
func fakeSMTPServer(t *testing.T, rcptReply string) string {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		defer conn.Close()
		r := bufio.NewReader(conn)
		write := func(s string) { conn.Write([]byte(s + "\r\n")) }

		write("220 localhost ESMTP")
		for {
			line, err := r.ReadString('\n')
			if err != nil {
				return
			}
			cmd := strings.ToUpper(strings.TrimSpace(line))
			switch {
			case strings.HasPrefix(cmd, "EHLO"):
				write("250 localhost")
			case strings.HasPrefix(cmd, "MAIL FROM"):
				write("250 OK")
			case strings.HasPrefix(cmd, "RCPT TO"):
				write(rcptReply)
			case strings.HasPrefix(cmd, "DATA"):
				write("354 End with .")
				for {
					l, err := r.ReadString('\n')
					if err != nil || strings.TrimSpace(l) == "." {
						break
					}
				}
				write("250 accepted")
			case strings.HasPrefix(cmd, "QUIT"):
				write("221 bye")
				return
			default:
				write("250 OK")
			}
		}
	}()
	return ln.Addr().String()
}

func TestEmailSender_SuccessfulDelivery(t *testing.T) {
	addr := fakeSMTPServer(t, "250 OK")
	host, port, _ := net.SplitHostPort(addr)

	s := NewEmailSender(time.Minute)
	cred := &models.Credential{TenantID: "t1", Secrets: map[string]string{"smtp_host": host, "smtp_port": port, "from": "noreply@example.com"}}

	res, err := s.Send(t.Context(), cred, models.RenderedContent{Subject: "Hi", Body: "body"}, "user@example.com")
	if err != nil {
		t.Fatalf("Send: %v", err)
	}
	if res.ProviderResponse == "" {
		t.Error("expected a provider response")
	}
}

func TestEmailSender_PermanentRejectionIsProviderError(t *testing.T) {
	addr := fakeSMTPServer(t, "550 No such user")
	host, port, _ := net.SplitHostPort(addr)

	s := NewEmailSender(time.Minute)
	cred := &models.Credential{TenantID: "t1", Secrets: map[string]string{"smtp_host": host, "smtp_port": port, "from": "noreply@example.com"}}

	_, err := s.Send(t.Context(), cred, models.RenderedContent{Subject: "Hi", Body: "body"}, "nobody@example.com")
	assertSendError(t, err, models.FailureProvider, false)
}
