package notify

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/fundingbot/internal/domain"
)

type recordingSender struct {
	name   string
	err    error
	titles []string
	bodies []string
}

func (r *recordingSender) Send(_ context.Context, title, message string) error {
	r.titles = append(r.titles, title)
	r.bodies = append(r.bodies, message)
	return r.err
}

func (r *recordingSender) Name() string { return r.name }

func testOpp(id string, rate float64) domain.Opportunity {
	return domain.Opportunity{
		InstrumentID:       id,
		Direction:          domain.DirectionLongSpotShortPerp,
		AnnualizedRate:     rate,
		Risk:               domain.RiskAssessment{Score: 2.345},
		Confidence:         domain.ConfidenceHigh,
		MinCapitalRequired: decimal.NewFromInt(10500),
		TimeToNextFunding:  90*time.Minute + 20*time.Second,
	}
}

func TestNotifyFiltersEvents(t *testing.T) {
	s := &recordingSender{name: "rec"}
	n := NewNotifier([]Sender{s}, []string{EventScanFailed}, slog.New(slog.DiscardHandler))

	report := domain.ScanReport{Profile: "normal"}
	if err := n.Opportunities(context.Background(), report, []domain.Opportunity{testOpp("ETH/USDT", 32.85)}); err != nil {
		t.Fatal(err)
	}
	if len(s.titles) != 0 {
		t.Fatal("filtered event was delivered")
	}

	if err := n.ScanFailed(context.Background(), errors.New("feed down")); err != nil {
		t.Fatal(err)
	}
	if len(s.titles) != 1 || s.bodies[0] != "feed down" {
		t.Fatalf("scan_failed not delivered: %v", s.bodies)
	}
}

func TestDispatchContinuesPastFailures(t *testing.T) {
	bad := &recordingSender{name: "bad", err: errors.New("boom")}
	good := &recordingSender{name: "good"}
	n := NewNotifier([]Sender{bad, good}, nil, slog.New(slog.DiscardHandler))

	err := n.Opportunities(context.Background(), domain.ScanReport{Profile: "aggressive"},
		[]domain.Opportunity{testOpp("ETH/USDT", 32.85), testOpp("SOL/USDT", -21)})
	if err == nil || !strings.Contains(err.Error(), "bad: boom") {
		t.Fatalf("expected aggregated error, got %v", err)
	}
	if len(good.titles) != 1 || good.titles[0] != "2 funding opportunities (aggressive)" {
		t.Fatalf("good sender got %v", good.titles)
	}
}

func TestFormatOpportunities(t *testing.T) {
	out := FormatOpportunities([]domain.Opportunity{testOpp("ETH/USDT", 32.85)})
	want := "ETH/USDT +32.85%/yr, risk 2.3, Buy spot, short perpetual, min $10500.00, funding in 1h30m0s"
	if out != want {
		t.Fatalf("got  %q\nwant %q", out, want)
	}

	many := make([]domain.Opportunity, maxListed+3)
	for i := range many {
		many[i] = testOpp("X/USDT", 1)
	}
	if !strings.HasSuffix(FormatOpportunities(many), "... and 3 more") {
		t.Fatal("long lists should be capped")
	}
}

func TestTelegramSender(t *testing.T) {
	var got map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/botTOKEN/sendMessage" {
			t.Errorf("path = %s", r.URL.Path)
		}
		b, _ := io.ReadAll(r.Body)
		_ = json.Unmarshal(b, &got)
	}))
	defer srv.Close()

	s := NewTelegramSender("TOKEN", "42")
	s.apiBase = srv.URL
	if err := s.Send(context.Background(), "Title", "body"); err != nil {
		t.Fatalf("Send: %v", err)
	}
	if got["chat_id"] != "42" || got["text"] != "Title\nbody" {
		t.Fatalf("payload = %v", got)
	}
}

func TestDiscordSenderReportsStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "rate limited", http.StatusTooManyRequests)
	}))
	defer srv.Close()

	err := NewDiscordSender(srv.URL).Send(context.Background(), "t", "m")
	if err == nil || !strings.Contains(err.Error(), "429") {
		t.Fatalf("expected 429 error, got %v", err)
	}
}

func TestDiscordSenderEmbeds(t *testing.T) {
	var got discordPayload
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		b, _ := io.ReadAll(r.Body)
		_ = json.Unmarshal(b, &got)
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	s := NewDiscordSender(srv.URL)
	s.now = func() time.Time { return time.Date(2026, 10, 18, 8, 0, 0, 0, time.UTC) }
	if err := s.Send(context.Background(), "Scan cycle failed", "feed: timeout"); err != nil {
		t.Fatalf("Send: %v", err)
	}
	if len(got.Embeds) != 1 {
		t.Fatalf("embeds = %+v", got.Embeds)
	}
	e := got.Embeds[0]
	if e.Title != "Scan cycle failed" || e.Color != discordColorError || e.Timestamp != "2026-10-18T08:00:00Z" {
		t.Fatalf("embed = %+v", e)
	}
	if !strings.Contains(e.Description, "feed: timeout") {
		t.Fatalf("description = %q", e.Description)
	}
}

func TestTruncate(t *testing.T) {
	if got := truncate("abcdef", 4); got != "abc…" {
		t.Fatalf("truncate = %q", got)
	}
	if got := truncate("abc", 4); got != "abc" {
		t.Fatalf("truncate = %q", got)
	}
}
