package bridge

import (
	"bytes"
	"encoding/base64"
	"fmt"
	"io"
	"mime"
	"mime/multipart"
	"mime/quotedprintable"
	"net/mail"
	"strings"

	"golang.org/x/text/encoding/htmlindex"
	"golang.org/x/text/transform"
)

const maxMessageBytes = 10 << 20

// ParseMessage 将 RFC 5322 原始邮件解析为 Envelope，附件部分被忽略
func ParseMessage(raw []byte) (Envelope, error) {
	msg, err := mail.ReadMessage(bytes.NewReader(raw))
	if err != nil {
		return Envelope{}, fmt.Errorf("parse mail: %w", err)
	}

	env := Envelope{
		To:      msg.Header.Get("To"),
		From:    msg.Header.Get("From"),
		ReplyTo: msg.Header.Get("Reply-To"),
		Subject: decodeHeader(msg.Header.Get("Subject")),
	}

	mediaType, params, err := mime.ParseMediaType(msg.Header.Get("Content-Type"))
	if err != nil {
		body, _ := io.ReadAll(msg.Body)
		env.Text = string(body)
		return env, nil
	}

	if strings.HasPrefix(mediaType, "multipart/") {
		boundary := params["boundary"]
		if boundary == "" {
			return Envelope{}, fmt.Errorf("multipart message without boundary")
		}
		if err := parseParts(multipart.NewReader(msg.Body, boundary), &env); err != nil {
			return Envelope{}, fmt.Errorf("parse multipart: %w", err)
		}
		return env, nil
	}

	body, err := decodeBody(msg.Body, msg.Header.Get("Content-Transfer-Encoding"), params["charset"])
	if err != nil {
		return Envelope{}, fmt.Errorf("decode body: %w", err)
	}
	if strings.HasPrefix(mediaType, "text/html") {
		env.HTML = body
	} else {
		env.Text = body
	}
	return env, nil
}

func parseParts(mr *multipart.Reader, env *Envelope) error {
	for {
		part, err := mr.NextPart()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return err
		}

		mediaType, params, err := mime.ParseMediaType(part.Header.Get("Content-Type"))
		if err != nil {
			mediaType = "text/plain"
		}

		if disposition := part.Header.Get("Content-Disposition"); disposition != "" {
			if dispType, _, _ := mime.ParseMediaType(disposition); dispType == "attachment" {
				continue
			}
		}

		if strings.HasPrefix(mediaType, "multipart/") {
			if boundary := params["boundary"]; boundary != "" {
				if err := parseParts(multipart.NewReader(part, boundary), env); err != nil {
					return err
				}
			}
			continue
		}

		body, err := decodeBody(part, part.Header.Get("Content-Transfer-Encoding"), params["charset"])
		if err != nil {
			continue
		}

		switch {
		case strings.HasPrefix(mediaType, "text/html") && env.HTML == "":
			env.HTML = body
		case strings.HasPrefix(mediaType, "text/plain") && env.Text == "":
			env.Text = body
		}
	}
}

func decodeBody(r io.Reader, transferEncoding, charset string) (string, error) {
	switch strings.ToLower(strings.TrimSpace(transferEncoding)) {
	case "base64":
		r = base64.NewDecoder(base64.StdEncoding, r)
	case "quoted-printable":
		r = quotedprintable.NewReader(r)
	}

	body, err := io.ReadAll(io.LimitReader(r, maxMessageBytes))
	if err != nil {
		return "", err
	}

	charset = strings.ToLower(strings.TrimSpace(charset))
	if charset == "" || charset == "utf-8" || charset == "us-ascii" {
		return string(body), nil
	}
	enc, err := htmlindex.Get(charset)
	if err != nil {
		return string(body), nil
	}
	converted, _, err := transform.Bytes(enc.NewDecoder(), body)
	if err != nil {
		return string(body), nil
	}
	return string(converted), nil
}

func decodeHeader(value string) string {
	if value == "" {
		return value
	}
	decoded, err := new(mime.WordDecoder).DecodeHeader(value)
	if err != nil {
		return value
	}
	return decoded
}
