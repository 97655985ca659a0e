package email

import (
	"errors"
	"net/smtp"
	"strings"
	"testing"
)

type sentMail struct {
	addr string
	from string
	to   []string
	msg  string
}

func capture(s *Service, sent *[]sentMail, err error) {
	s.send = func(addr string, _ smtp.Auth, from string, to []string, msg []byte) error {
		*sent = append(*sent, sentMail{addr: addr, from: from, to: to, msg: string(msg)})
		return err
	}
}

func TestServiceIsConfigured(t *testing.T) {
	tests := []struct {
		name     string
		config   Config
		expected bool
	}{
		{name: "empty config", config: Config{}, expected: false},
		{name: "missing host", config: Config{Port: "587", From: "ops@example.com"}, expected: false},
		{name: "missing port", config: Config{Host: "smtp.example.com", From: "ops@example.com"}, expected: false},
		{name: "missing from", config: Config{Host: "smtp.example.com", Port: "587"}, expected: false},
		{name: "fully configured", config: Config{Host: "smtp.example.com", Port: "587", From: "ops@example.com"}, expected: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := NewService(tt.config).IsConfigured(); got != tt.expected {
				t.Errorf("IsConfigured() = %v, want %v", got, tt.expected)
			}
		})
	}
}

func TestSendEmail(t *testing.T) {
	svc := NewService(Config{Host: "smtp.example.com", Port: "587", From: "bot@example.com", FromName: "phonesync"})
	var sent []sentMail
	capture(svc, &sent, nil)

	if err := svc.SendEmail([]string{"ops@example.com"}, "Write\r\nBcc: x@example.com", "body"); err != nil {
		t.Fatalf("SendEmail() error = %v", err)
	}
	if len(sent) != 1 {
		t.Fatalf("expected one mail, got %d", len(sent))
	}
	mail := sent[0]
	if mail.addr != "smtp.example.com:587" || mail.from != "bot@example.com" {
		t.Fatalf("unexpected envelope %+v", mail)
	}
	if !strings.Contains(mail.msg, "From: phonesync <bot@example.com>\r\n") {
		t.Fatalf("missing From header in %q", mail.msg)
	}
	if strings.Contains(mail.msg, "\r\nBcc:") {
		t.Fatalf("subject must not inject headers: %q", mail.msg)
	}
}

func TestSendEmailNotConfigured(t *testing.T) {
	if err := NewService(Config{}).SendEmail([]string{"ops@example.com"}, "s", "b"); err == nil {
		t.Fatal("expected error")
	}
	svc := NewService(Config{Host: "h", Port: "25", From: "f@example.com"})
	if err := svc.SendEmail(nil, "s", "b"); err == nil {
		t.Fatal("expected error without recipients")
	}
}

func TestSendEmailPropagatesError(t *testing.T) {
	svc := NewService(Config{Host: "h", Port: "25", From: "f@example.com"})
	var sent []sentMail
	capture(svc, &sent, errors.New("550 rejected"))
	if err := svc.SendEmail([]string{"ops@example.com"}, "s", "b"); err == nil {
		t.Fatal("expected send error")
	}
}
