package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strings"

	pkgerrors "github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
)

// DefaultTelegramAPI is the base URL of the Telegram Bot API.
const DefaultTelegramAPI = "https://api.telegram.org"

// maxMessageLength is the Bot API's limit of a message text, in runes.
const maxMessageLength = 4096

// Telegram is a Notifier which sends messages through a Telegram bot.
// Recipients are chat IDs.
type Telegram struct {
	Token string
	// BaseURL of the Bot API. If empty, DefaultTelegramAPI is used.
	BaseURL string
	// HTTP client. If nil, http.DefaultClient is used.
	HTTP *http.Client
}

type telegramResponse struct {
	OK          bool   `json:"ok"`
	Description string `json:"description"`
	ErrorCode   int    `json:"error_code"`
}

// Send the message to chat |recipient|. A message with an attachment is
// sent as a document captioned with |text|.
func (t *Telegram) Send(ctx context.Context, recipient, text string, attachment []byte, attachmentName string) (bool, error) {
	if t.Token == "" {
		return false, fmt.Errorf("telegram bot token is not configured")
	} else if recipient == "" {
		return false, fmt.Errorf("recipient is empty")
	}
	text = truncate(text, maxMessageLength)

	var req *http.Request
	var err error

	if attachment == nil {
		var body []byte
		body, err = json.Marshal(map[string]string{
			"chat_id": recipient,
			"text":    text,
		})
		if err != nil {
			return false, err
		}
		if req, err = http.NewRequestWithContext(ctx, "POST", t.method("sendMessage"), bytes.NewReader(body)); err != nil {
			return false, err
		}
		req.Header.Set("Content-Type", "application/json")
	} else {
		var body bytes.Buffer
		var mw = multipart.NewWriter(&body)

		if err = mw.WriteField("chat_id", recipient); err == nil {
			err = mw.WriteField("caption", truncate(text, 1024))
		}
		if err == nil {
			var fw io.Writer
			if fw, err = mw.CreateFormFile("document", attachmentName); err == nil {
				_, err = fw.Write(attachment)
			}
		}
		if err == nil {
			err = mw.Close()
		}
		if err != nil {
			return false, pkgerrors.WithMessage(err, "building multipart body")
		}
		if req, err = http.NewRequestWithContext(ctx, "POST", t.method("sendDocument"), &body); err != nil {
			return false, err
		}
		req.Header.Set("Content-Type", mw.FormDataContentType())
	}

	var client = t.HTTP
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		// Errors of the client include the request URL, which embeds the token.
		return false, fmt.Errorf("telegram request failed: %s", strings.ReplaceAll(err.Error(), t.Token, "<token>"))
	}
	defer resp.Body.Close()

	var out telegramResponse
	if err = json.NewDecoder(io.LimitReader(resp.Body, 1<<20)).Decode(&out); err != nil {
		return false, pkgerrors.WithMessagef(err, "decoding telegram response (status %d)", resp.StatusCode)
	} else if !out.OK {
		return false, fmt.Errorf("telegram error %d: %s", out.ErrorCode, out.Description)
	}

	log.WithFields(log.Fields{
		"recipient":  recipient,
		"attachment": attachmentName,
	}).Debug("sent telegram message")

	return true, nil
}

func (t *Telegram) method(name string) string {
	var base = t.BaseURL
	if base == "" {
		base = DefaultTelegramAPI
	}
	return strings.TrimRight(base, "/") + "/bot" + t.Token + "/" + name
}

func truncate(s string, n int) string {
	var r = []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-1]) + "…"
}
