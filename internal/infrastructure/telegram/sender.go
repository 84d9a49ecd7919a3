package telegram

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"proofwatch/internal/errs"
	"proofwatch/internal/ports"
)

const defaultAPIBase = "https://api.telegram.org"

// Sender delivers rendered notification text over the Bot API. A send is a
// single attempt: retrying is the reconciler's job, and the delivery ledger
// only records after a send succeeds.
type Sender struct {
	apiBase string
	token   string
	client  *http.Client
}

var _ ports.MessageSender = (*Sender)(nil)

func NewSender(apiBase, token string) *Sender {
	base := strings.TrimRight(strings.TrimSpace(apiBase), "/")
	if base == "" {
		base = defaultAPIBase
	}
	return &Sender{
		apiBase: base,
		token:   strings.TrimSpace(token),
		client:  &http.Client{Timeout: 10 * time.Second},
	}
}

type sendMessageRequest struct {
	ChatID    int64  `json:"chat_id"`
	Text      string `json:"text"`
	ParseMode string `json:"parse_mode"`
}

type sendMessageResponse struct {
	OK          bool   `json:"ok"`
	Description string `json:"description"`
}

func (s *Sender) Send(ctx context.Context, chatID int64, text string) error {
	if ctx == nil {
		return errors.New("context is required")
	}
	if s.token == "" {
		return errors.New("bot token is required")
	}

	body, err := json.Marshal(sendMessageRequest{
		ChatID:    chatID,
		Text:      text,
		ParseMode: "Markdown",
	})
	if err != nil {
		return errs.Wrap(err, "marshal send request")
	}

	url := fmt.Sprintf("%s/bot%s/sendMessage", s.apiBase, s.token)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return errs.Wrap(err, "build send request")
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		// Root cause boundary: capture the stack once, callers only wrap.
		return errs.Wrap(errs.WithStack(err), "post sendMessage")
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	payload, err := io.ReadAll(io.LimitReader(resp.Body, 1<<16))
	if err != nil {
		return errs.Wrap(err, "read sendMessage response")
	}

	var parsed sendMessageResponse
	if err := json.Unmarshal(payload, &parsed); err != nil {
		return errs.Wrapf(err, "decode sendMessage response (status %d)", resp.StatusCode)
	}
	if resp.StatusCode != http.StatusOK || !parsed.OK {
		return fmt.Errorf("sendMessage rejected (status %d): %s", resp.StatusCode, parsed.Description)
	}
	return nil
}
