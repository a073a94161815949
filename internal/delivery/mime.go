// Copyright (c) 2026 John Earle
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package delivery

import (
	"bytes"
	"fmt"
	"mime"
	"mime/multipart"
	"mime/quotedprintable"
	"net/textproto"
	"path/filepath"
	"strings"
	"time"

	"github.com/justlegal/serve-mailer/internal/models"
)

// base64LineLen is the RFC 2045 line limit for base64 bodies.
const base64LineLen = 76

// entity is a rendered MIME entity: its own headers plus encoded body.
type entity struct {
	header textproto.MIMEHeader
	body   []byte
}

// buildMIME renders msg as an RFC 5322 message. Bodies become a
// multipart/alternative (or a single part when only one exists);
// attachments wrap that in multipart/mixed.
func buildMIME(msg *models.ComposedMessage, messageID string, now time.Time) ([]byte, error) {
	top, err := bodyEntity(msg)
	if err != nil {
		return nil, err
	}

	if len(msg.Attachments) > 0 {
		top, err = mixedEntity(top, msg.Attachments)
		if err != nil {
			return nil, err
		}
	}

	var buf bytes.Buffer
	fmt.Fprintf(&buf, "From: %s\r\n", msg.From)
	fmt.Fprintf(&buf, "To: %s\r\n", strings.Join(msg.To, ", "))
	fmt.Fprintf(&buf, "Subject: %s\r\n", mime.QEncoding.Encode("utf-8", msg.Subject))
	fmt.Fprintf(&buf, "Date: %s\r\n", now.Format(time.RFC1123Z))
	fmt.Fprintf(&buf, "Message-ID: %s\r\n", messageID)
	buf.WriteString("MIME-Version: 1.0\r\n")
	writeHeader(&buf, top.header)
	buf.WriteString("\r\n")
	buf.Write(top.body)
	return buf.Bytes(), nil
}

func bodyEntity(msg *models.ComposedMessage) (entity, error) {
	if msg.HTML != "" && msg.Text != "" {
		var buf bytes.Buffer
		w := multipart.NewWriter(&buf)
		if err := writeTextPart(w, "text/plain", msg.Text); err != nil {
			return entity{}, err
		}
		if err := writeTextPart(w, "text/html", msg.HTML); err != nil {
			return entity{}, err
		}
		if err := w.Close(); err != nil {
			return entity{}, err
		}
		h := textproto.MIMEHeader{}
		h.Set("Content-Type", "multipart/alternative; boundary="+w.Boundary())
		return entity{header: h, body: buf.Bytes()}, nil
	}

	contentType, content := "text/plain", msg.Text
	if msg.HTML != "" {
		contentType, content = "text/html", msg.HTML
	}
	body, err := encodeQP(content)
	if err != nil {
		return entity{}, err
	}
	return entity{header: textHeader(contentType), body: body}, nil
}

func mixedEntity(inner entity, attachments []models.Attachment) (entity, error) {
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)

	pw, err := w.CreatePart(inner.header)
	if err != nil {
		return entity{}, err
	}
	if _, err := pw.Write(inner.body); err != nil {
		return entity{}, err
	}

	for _, att := range attachments {
		h := textproto.MIMEHeader{}
		h.Set("Content-Type", contentTypeFor(att.Filename))
		h.Set("Content-Disposition", mime.FormatMediaType("attachment", map[string]string{"filename": att.Filename}))
		h.Set("Content-Transfer-Encoding", "base64")
		pw, err := w.CreatePart(h)
		if err != nil {
			return entity{}, err
		}
		if _, err := pw.Write(wrapBase64(att.Content)); err != nil {
			return entity{}, err
		}
	}

	if err := w.Close(); err != nil {
		return entity{}, err
	}
	h := textproto.MIMEHeader{}
	h.Set("Content-Type", "multipart/mixed; boundary="+w.Boundary())
	return entity{header: h, body: buf.Bytes()}, nil
}

func writeTextPart(w *multipart.Writer, contentType, content string) error {
	pw, err := w.CreatePart(textHeader(contentType))
	if err != nil {
		return err
	}
	body, err := encodeQP(content)
	if err != nil {
		return err
	}
	_, err = pw.Write(body)
	return err
}

func textHeader(contentType string) textproto.MIMEHeader {
	h := textproto.MIMEHeader{}
	h.Set("Content-Type", contentType+"; charset=UTF-8")
	h.Set("Content-Transfer-Encoding", "quoted-printable")
	return h
}

func encodeQP(s string) ([]byte, error) {
	var buf bytes.Buffer
	qw := quotedprintable.NewWriter(&buf)
	if _, err := qw.Write([]byte(s)); err != nil {
		return nil, err
	}
	if err := qw.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// wrapBase64 re-flows already-encoded content into 76-column lines.
func wrapBase64(content string) []byte {
	encoded := strings.Join(strings.Fields(content), "")
	var buf bytes.Buffer
	for i := 0; i < len(encoded); i += base64LineLen {
		end := min(i+base64LineLen, len(encoded))
		buf.WriteString(encoded[i:end])
		buf.WriteString("\r\n")
	}
	return buf.Bytes()
}

func contentTypeFor(filename string) string {
	if t := mime.TypeByExtension(filepath.Ext(filename)); t != "" {
		return t
	}
	return "application/octet-stream"
}

func writeHeader(buf *bytes.Buffer, h textproto.MIMEHeader) {
	for _, key := range []string{"Content-Type", "Content-Transfer-Encoding"} {
		if v := h.Get(key); v != "" {
			fmt.Fprintf(buf, "%s: %s\r\n", key, v)
		}
	}
}
