// Package mailer builds and delivers the platform's outgoing email:
// confirmation requests, result reports with attachments and failure
// notices. Delivery runs through a background dispatcher that retries
// failed sends.
package mailer

import (
	"fmt"
	"io"
	"mime"
	"path/filepath"
	"strings"
	"time"

	"github.com/emersion/go-message/mail"
)

// Attachment is a named file included with an email.
type Attachment struct {
	Name string
	Data []byte
}

// Email carries everything needed to deliver one message. Text
// attachments ride as UTF-8 text parts; binary attachments get a content
// type guessed from their file extension.
type Email struct {
	Recipient         string
	Subject           string
	Body              string
	TextAttachments   []Attachment
	BinaryAttachments []Attachment
}

// contentTypeFor guesses an attachment content type from its name.
func contentTypeFor(name string) string {
	if ctype := mime.TypeByExtension(filepath.Ext(name)); ctype != "" {
		return ctype
	}
	return "application/octet-stream"
}

// WriteTo renders the full MIME message. The envelope (from, cc) comes
// from the sender configuration rather than the email itself.
func (e *Email) WriteTo(w io.Writer, from string, cc []string) error {
	var header mail.Header
	header.SetDate(time.Now())
	header.SetSubject(e.Subject)

	fromAddr, err := mail.ParseAddress(from)
	if err != nil {
		return fmt.Errorf("invalid from address %q: %w", from, err)
	}
	header.SetAddressList("From", []*mail.Address{fromAddr})

	toAddr, err := mail.ParseAddress(e.Recipient)
	if err != nil {
		return fmt.Errorf("invalid recipient %q: %w", e.Recipient, err)
	}
	header.SetAddressList("To", []*mail.Address{toAddr})

	if len(cc) > 0 {
		ccAddrs := make([]*mail.Address, 0, len(cc))
		for _, addr := range cc {
			parsed, err := mail.ParseAddress(addr)
			if err != nil {
				return fmt.Errorf("invalid cc address %q: %w", addr, err)
			}
			ccAddrs = append(ccAddrs, parsed)
		}
		header.SetAddressList("Cc", ccAddrs)
	}

	mw, err := mail.CreateWriter(w, header)
	if err != nil {
		return fmt.Errorf("failed to create message writer: %w", err)
	}
	defer mw.Close()

	var inlineHeader mail.InlineHeader
	inlineHeader.SetContentType("text/plain", map[string]string{"charset": "utf-8"})
	tw, err := mw.CreateSingleInline(inlineHeader)
	if err != nil {
		return fmt.Errorf("failed to create body part: %w", err)
	}
	if _, err := io.WriteString(tw, e.Body); err != nil {
		tw.Close()
		return fmt.Errorf("failed to write body: %w", err)
	}
	tw.Close()

	for _, att := range e.TextAttachments {
		if err := writeAttachment(mw, att.Name, "text/plain", att.Data); err != nil {
			return err
		}
	}
	for _, att := range e.BinaryAttachments {
		if err := writeAttachment(mw, att.Name, contentTypeFor(att.Name), att.Data); err != nil {
			return err
		}
	}
	return nil
}

func writeAttachment(mw *mail.Writer, name, ctype string, data []byte) error {
	var header mail.AttachmentHeader
	header.SetFilename(name)
	header.SetContentType(ctype, nil)

	aw, err := mw.CreateAttachment(header)
	if err != nil {
		return fmt.Errorf("failed to create attachment %s: %w", name, err)
	}
	defer aw.Close()

	if _, err := aw.Write(data); err != nil {
		return fmt.Errorf("failed to write attachment %s: %w", name, err)
	}
	return nil
}

// Recipients returns the envelope recipient list including cc and bcc.
func (e *Email) Recipients(cc, bcc []string) []string {
	out := make([]string, 0, 1+len(cc)+len(bcc))
	out = append(out, e.Recipient)
	out = append(out, cc...)
	out = append(out, bcc...)
	return out
}

// Summary returns a short log-friendly description of the email.
func (e *Email) Summary() string {
	attachments := len(e.TextAttachments) + len(e.BinaryAttachments)
	return strings.TrimSpace(fmt.Sprintf("%q to %s (%d attachments)", e.Subject, e.Recipient, attachments))
}
