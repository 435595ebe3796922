package telegram

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"unicode/utf8"

	"golang.org/x/time/rate"

	"OpportunityPipeline/internal/config"
)

func newTestNotifier(t *testing.T, status int) (*Notifier, *[]string) {
	t.Helper()
	var (
		mu    sync.Mutex
		texts []string
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/botTOKEN/sendMessage" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		if err := r.ParseForm(); err != nil {
			t.Errorf("parse form: %v", err)
		}
		if r.PostForm.Get("chat_id") != "42" {
			t.Errorf("unexpected chat id %q", r.PostForm.Get("chat_id"))
		}
		mu.Lock()
		texts = append(texts, r.PostForm.Get("text"))
		mu.Unlock()
		w.WriteHeader(status)
	}))
	t.Cleanup(srv.Close)

	n := NewNotifier(config.TelegramConfig{BotToken: "TOKEN", ChatID: "42", RatePerSecond: 1000})
	n.apiBase = srv.URL
	return n, &texts
}

func TestNotifySendsMessage(t *testing.T) {
	t.Parallel()
	n, texts := newTestNotifier(t, http.StatusOK)

	if err := n.Notify(context.Background(), "hello"); err != nil {
		t.Fatalf("notify: %v", err)
	}
	if len(*texts) != 1 || (*texts)[0] != "hello" {
		t.Fatalf("unexpected texts %v", *texts)
	}
}

func TestNotifyReportsHTTPFailure(t *testing.T) {
	t.Parallel()
	n, _ := newTestNotifier(t, http.StatusBadRequest)

	if err := n.Notify(context.Background(), "hello"); err == nil {
		t.Fatal("expected error")
	}
}

func TestNotifyMisconfigured(t *testing.T) {
	t.Parallel()
	n := NewNotifier(config.TelegramConfig{})
	if n.Configured() {
		t.Fatal("empty config must not be configured")
	}
	if err := n.Notify(context.Background(), "x"); err == nil {
		t.Fatal("expected error")
	}
}

func TestNotifyHonoursLimiterCancellation(t *testing.T) {
	t.Parallel()
	n, texts := newTestNotifier(t, http.StatusOK)
	n.limiter = rate.NewLimiter(rate.Limit(0.001), 1)

	if err := n.Notify(context.Background(), "first"); err != nil {
		t.Fatalf("first notify: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := n.Notify(ctx, "second"); err == nil {
		t.Fatal("expected limiter wait to fail")
	}
	if len(*texts) != 1 {
		t.Fatalf("expected one send, got %d", len(*texts))
	}
}

func TestTruncateKeepsRuneBoundary(t *testing.T) {
	t.Parallel()
	long := strings.Repeat("ж", maxMessageRunes+10)
	got := truncate(long, maxMessageRunes)
	if utf8.RuneCountInString(got) != maxMessageRunes {
		t.Fatalf("expected %d runes, got %d", maxMessageRunes, utf8.RuneCountInString(got))
	}
}
