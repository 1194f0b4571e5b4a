package delivery

import (
	"bytes"
	"encoding/base64"
	"fmt"
	"io"
	"mime"
	"mime/multipart"
	"mime/quotedprintable"
	"net/mail"
	"net/textproto"
	"path/filepath"
	"strings"
	"time"
)

const base64LineLength = 76

var contentTypes = map[string]string{
	"epub": "application/epub+zip",
	"pdf":  "application/pdf",
	"mobi": "application/x-mobipocket-ebook",
	"azw3": "application/vnd.amazon.ebook",
	"txt":  "text/plain; charset=utf-8",
	"doc":  "application/msword",
	"docx": "application/vnd.openxmlformats-officedocument.wordprocessingml.document",
	"rtf":  "application/rtf",
	"html": "text/html; charset=utf-8",
}

// SupportedExtension reports whether the device inbox accepts files with ext.
func SupportedExtension(ext string) bool {
	_, ok := contentTypes[normalizeExt(ext)]
	return ok
}

func normalizeExt(ext string) string {
	return strings.ToLower(strings.TrimPrefix(strings.TrimSpace(ext), "."))
}

// Message is an email with a single file attachment.
type Message struct {
	From     string
	To       string
	Subject  string
	Text     string
	FileName string
	Content  []byte
	Date     time.Time
}

// ComposeMessage renders msg as a multipart/mixed RFC 5322 message with a
// text part and a base64 attachment.
func ComposeMessage(msg Message) ([]byte, error) {
	from, err := mail.ParseAddress(msg.From)
	if err != nil {
		return nil, fmt.Errorf("from address: %w", err)
	}
	to, err := mail.ParseAddress(msg.To)
	if err != nil {
		return nil, fmt.Errorf("to address: %w", err)
	}
	date := msg.Date
	if date.IsZero() {
		date = time.Now()
	}

	var body bytes.Buffer
	writer := multipart.NewWriter(&body)

	textHeader := textproto.MIMEHeader{}
	textHeader.Set("Content-Type", "text/plain; charset=utf-8")
	textHeader.Set("Content-Transfer-Encoding", "quoted-printable")
	textPart, err := writer.CreatePart(textHeader)
	if err != nil {
		return nil, err
	}
	qp := quotedprintable.NewWriter(textPart)
	if _, err := qp.Write([]byte(msg.Text)); err != nil {
		return nil, err
	}
	if err := qp.Close(); err != nil {
		return nil, err
	}

	fileName := filepath.Base(msg.FileName)
	contentType, ok := contentTypes[normalizeExt(filepath.Ext(fileName))]
	if !ok {
		contentType = "application/octet-stream"
	}
	fileHeader := textproto.MIMEHeader{}
	fileHeader.Set("Content-Type", contentType)
	fileHeader.Set("Content-Transfer-Encoding", "base64")
	fileHeader.Set("Content-Disposition", mime.FormatMediaType("attachment", map[string]string{"filename": fileName}))
	filePart, err := writer.CreatePart(fileHeader)
	if err != nil {
		return nil, err
	}
	if err := writeBase64Lines(filePart, msg.Content); err != nil {
		return nil, err
	}
	if err := writer.Close(); err != nil {
		return nil, err
	}

	var out bytes.Buffer
	header := func(key, value string) {
		fmt.Fprintf(&out, "%s: %s\r\n", key, value)
	}
	header("From", from.String())
	header("To", to.String())
	header("Subject", mime.QEncoding.Encode("utf-8", msg.Subject))
	header("Date", date.Format(time.RFC1123Z))
	header("MIME-Version", "1.0")
	header("Content-Type", mime.FormatMediaType("multipart/mixed", map[string]string{"boundary": writer.Boundary()}))
	out.WriteString("\r\n")
	out.Write(body.Bytes())
	return out.Bytes(), nil
}

func writeBase64Lines(w io.Writer, data []byte) error {
	encoded := base64.StdEncoding.EncodeToString(data)
	for len(encoded) > 0 {
		n := min(base64LineLength, len(encoded))
		if _, err := w.Write([]byte(encoded[:n] + "\r\n")); err != nil {
			return err
		}
		encoded = encoded[n:]
	}
	return nil
}
