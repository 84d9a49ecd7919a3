package telegram

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestSendPostsMarkdownMessage(t *testing.T) {
	var gotPath string
	var gotBody map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		if err := json.NewDecoder(r.Body).Decode(&gotBody); err != nil {
			t.Errorf("decode request: %v", err)
		}
		_, _ = w.Write([]byte(`{"ok":true}`))
	}))
	t.Cleanup(srv.Close)

	sender := NewSender(srv.URL, "secret-token")
	if err := sender.Send(context.Background(), 42, "*hello*"); err != nil {
		t.Fatalf("Send() error = %v", err)
	}

	if gotPath != "/botsecret-token/sendMessage" {
		t.Fatalf("unexpected path %q", gotPath)
	}
	if gotBody["chat_id"].(float64) != 42 {
		t.Fatalf("chat_id = %v", gotBody["chat_id"])
	}
	if gotBody["text"] != "*hello*" {
		t.Fatalf("text = %v", gotBody["text"])
	}
	if gotBody["parse_mode"] != "Markdown" {
		t.Fatalf("parse_mode = %v", gotBody["parse_mode"])
	}
}

func TestSendSurfacesAPIRejection(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
		_, _ = w.Write([]byte(`{"ok":false,"description":"bot was blocked by the user"}`))
	}))
	t.Cleanup(srv.Close)

	sender := NewSender(srv.URL, "secret-token")
	err := sender.Send(context.Background(), 42, "hello")
	if err == nil {
		t.Fatal("Send() should fail on a rejected message")
	}
}

func TestSendRequiresToken(t *testing.T) {
	sender := NewSender("", "")
	if err := sender.Send(context.Background(), 1, "x"); err == nil {
		t.Fatal("Send() without a token should fail")
	}
}
