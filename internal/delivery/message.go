// Package delivery hands rendered templates to a mail transport.
package delivery

import (
	"bytes"
	"fmt"
	"mime"
	"mime/quotedprintable"
	"net/mail"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Message is a rendered email ready for delivery
type Message struct {
	From    string
	To      string
	Subject string
	Body    string
}

// Build encodes msg as an RFC 5322 text/plain message with CRLF line endings
func Build(msg Message) ([]byte, error) {
	return build(msg, time.Now())
}

func build(msg Message, now time.Time) ([]byte, error) {
	from, err := mail.ParseAddress(msg.From)
	if err != nil {
		return nil, fmt.Errorf("invalid sender %q: %w", msg.From, err)
	}
	to, err := mail.ParseAddress(msg.To)
	if err != nil {
		return nil, fmt.Errorf("invalid recipient %q: %w", msg.To, err)
	}

	var buf bytes.Buffer
	header := func(name, value string) {
		buf.WriteString(name)
		buf.WriteString(": ")
		buf.WriteString(value)
		buf.WriteString("\r\n")
	}

	header("From", from.String())
	header("To", to.String())
	header("Subject", mime.QEncoding.Encode("utf-8", msg.Subject))
	header("Date", now.Format(time.RFC1123Z))
	header("Message-ID", fmt.Sprintf("<%s@%s>", uuid.New().String(), ExtractDomainOrDefault(from.Address, "localhost")))
	header("MIME-Version", "1.0")
	header("Content-Type", "text/plain; charset=utf-8")
	header("Content-Transfer-Encoding", "quoted-printable")
	buf.WriteString("\r\n")

	qp := quotedprintable.NewWriter(&buf)
	if _, err := qp.Write([]byte(normalizeNewlines(msg.Body))); err != nil {
		return nil, fmt.Errorf("failed to encode body: %w", err)
	}
	if err := qp.Close(); err != nil {
		return nil, fmt.Errorf("failed to encode body: %w", err)
	}

	return buf.Bytes(), nil
}

func normalizeNewlines(s string) string {
	s = strings.ReplaceAll(s, "\r\n", "\n")
	return strings.ReplaceAll(s, "\n", "\r\n")
}

// ExtractAddress returns the bare address of "Name <addr>" forms
func ExtractAddress(address string) string {
	if addr, err := mail.ParseAddress(address); err == nil {
		return addr.Address
	}
	return strings.TrimSpace(address)
}

// ExtractDomain returns the lowercased domain of an address, or "" when
// the address has none
func ExtractDomain(address string) string {
	if addr, err := mail.ParseAddress(address); err == nil {
		address = addr.Address
	}
	at := strings.LastIndex(address, "@")
	if at <= 0 || at == len(address)-1 {
		return ""
	}
	return strings.ToLower(address[at+1:])
}

// ExtractDomainOrDefault is ExtractDomain with a fallback
func ExtractDomainOrDefault(address, fallback string) string {
	if domain := ExtractDomain(address); domain != "" {
		return domain
	}
	return fallback
}
