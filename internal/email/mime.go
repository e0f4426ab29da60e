package email

import (
	"bytes"
	"fmt"

	gomail "github.com/wneessen/go-mail"
)

// buildMsg renders a go-mail message with a plain body and an HTML alternative.
func buildMsg(fromName, fromEmail string, m Message) (*gomail.Msg, error) {
	msg := gomail.NewMsg()
	name := fromName
	if m.FromName != "" {
		name = m.FromName
	}
	if err := msg.FromFormat(name, fromEmail); err != nil {
		return nil, fmt.Errorf("email from: %w", err)
	}
	if err := msg.To(m.To); err != nil {
		return nil, fmt.Errorf("email to: %w", err)
	}
	if m.ReplyTo != "" {
		if err := msg.ReplyTo(m.ReplyTo); err != nil {
			return nil, fmt.Errorf("email reply-to: %w", err)
		}
	}
	msg.Subject(m.Subject)
	msg.SetMessageID()
	msg.SetBodyString(gomail.TypeTextPlain, m.Body)

	html, err := renderHTML(m.Subject, m.Body)
	if err != nil {
		return nil, err
	}
	msg.AddAlternativeString(gomail.TypeTextHTML, html)
	return msg, nil
}

// rawMIME renders the full RFC 5322 message.
func rawMIME(msg *gomail.Msg) ([]byte, error) {
	var buf bytes.Buffer
	if _, err := msg.WriteTo(&buf); err != nil {
		return nil, fmt.Errorf("render mime: %w", err)
	}
	return buf.Bytes(), nil
}

func messageID(msg *gomail.Msg) string {
	if ids := msg.GetGenHeader(gomail.HeaderMessageID); len(ids) > 0 {
		return ids[0]
	}
	return ""
}
