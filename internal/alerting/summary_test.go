package alerting

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/tathienbao/signal-executor/internal/position"
)

func sameDate(a, b time.Time) bool {
	return a.Format("2006-01-02") == b.Format("2006-01-02")
}

func closedTrade(exit time.Time, qty int64, entry, exitSpread string) *position.Record {
	return &position.Record{
		Quantity:    qty,
		ExitTime:    exit,
		EntrySpread: position.Dec(decimal.RequireFromString(entry)),
		ExitSpread:  position.Dec(decimal.RequireFromString(exitSpread)),
	}
}

func TestNewDailySummary(t *testing.T) {
	day := time.Date(2026, 3, 2, 15, 30, 0, 0, time.UTC)
	closed := []*position.Record{
		closedTrade(day.Add(-time.Hour), 100, "10000", "10600"),   // +600
		closedTrade(day.Add(-2*time.Hour), -100, "8000", "8300"),  // -300
		closedTrade(day.Add(-3*time.Hour), 50, "5000", "5100"),    // +100
		closedTrade(day.AddDate(0, 0, -1), 100, "10000", "20000"), // other day
	}

	s := NewDailySummary(day, closed, 2, decimal.Zero, sameDate)

	if s.TotalTrades != 3 {
		t.Errorf("TotalTrades = %d, want 3", s.TotalTrades)
	}
	if s.WinningTrades != 2 || s.LosingTrades != 1 {
		t.Errorf("wins/losses = %d/%d, want 2/1", s.WinningTrades, s.LosingTrades)
	}
	if !s.NetPL.Equal(decimal.NewFromInt(400)) {
		t.Errorf("NetPL = %s, want 400", s.NetPL)
	}
	if !s.BestTrade.Equal(decimal.NewFromInt(600)) || !s.WorstTrade.Equal(decimal.NewFromInt(-300)) {
		t.Errorf("best/worst = %s/%s, want 600/-300", s.BestTrade, s.WorstTrade)
	}
	if s.WinRate.StringFixed(1) != "66.7" {
		t.Errorf("WinRate = %s, want 66.7", s.WinRate.StringFixed(1))
	}
	if s.OpenPositions != 2 {
		t.Errorf("OpenPositions = %d, want 2", s.OpenPositions)
	}
}

func TestNewDailySummary_ZeroTrades(t *testing.T) {
	s := NewDailySummary(time.Now(), nil, 0, decimal.Zero, sameDate)

	if s.TotalTrades != 0 {
		t.Errorf("TotalTrades = %d, want 0", s.TotalTrades)
	}
	if !s.WinRate.IsZero() || !s.NetPL.IsZero() {
		t.Errorf("expected zero summary, got %+v", s)
	}
	if !strings.Contains(s.Headline(), "0 trades") {
		t.Errorf("Headline = %q", s.Headline())
	}
}

func TestNewDailySummary_CostRate(t *testing.T) {
	day := time.Date(2026, 3, 2, 15, 30, 0, 0, time.UTC)
	closed := []*position.Record{closedTrade(day, 100, "10000", "10100")}

	// gross 100, cost 0.01 x 20100 = 201
	s := NewDailySummary(day, closed, 0, decimal.RequireFromString("0.01"), sameDate)
	if !s.NetPL.Equal(decimal.NewFromInt(-101)) {
		t.Errorf("NetPL = %s, want -101", s.NetPL)
	}
	if s.LosingTrades != 1 {
		t.Errorf("LosingTrades = %d, want 1", s.LosingTrades)
	}
}

func TestTelegramAlerter_SendDailySummary(t *testing.T) {
	var got telegramMessage
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasSuffix(r.URL.Path, "/bottoken/sendMessage") {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		_ = json.NewDecoder(r.Body).Decode(&got)
		_, _ = w.Write([]byte(`{"ok":true}`))
	}))
	defer srv.Close()

	tg := NewTelegramAlerter(TelegramConfig{BotToken: "token", ChatID: "42", BaseURL: srv.URL})
	s := DailySummary{Date: time.Date(2026, 3, 2, 0, 0, 0, 0, time.UTC), TotalTrades: 1, NetPL: decimal.NewFromInt(250)}

	if err := tg.SendDailySummary(context.Background(), s); err != nil {
		t.Fatalf("SendDailySummary() error = %v", err)
	}
	if got.ChatID != "42" {
		t.Errorf("ChatID = %s, want 42", got.ChatID)
	}
	if !strings.Contains(got.Text, "net 250.00") {
		t.Errorf("Text = %q", got.Text)
	}
}

func TestTelegramAlerter_APIError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"ok":false,"description":"chat not found"}`))
	}))
	defer srv.Close()

	tg := NewTelegramAlerter(TelegramConfig{BotToken: "token", ChatID: "42", BaseURL: srv.URL})
	err := tg.Alert(context.Background(), SeverityHigh, "slot <3> stuck")
	if err == nil || !strings.Contains(err.Error(), "chat not found") {
		t.Errorf("expected API error, got %v", err)
	}
}
