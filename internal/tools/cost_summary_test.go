package tools

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"testing"
	"time"

	_ "modernc.org/sqlite"

	"github.com/nugget/toolchat/internal/usage"
)

func testUsageStore(t *testing.T) *usage.Store {
	t.Helper()
	db, err := sql.Open("sqlite", ":memory:")
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { db.Close() })

	s, err := usage.NewStoreDB(db)
	if err != nil {
		t.Fatalf("NewStoreDB: %v", err)
	}
	return s
}

func TestFormatTokenCount(t *testing.T) {
	tests := []struct {
		n    int64
		want string
	}{
		{1_230_000, "1.23M"},
		{1_000_000, "1.00M"},
		{456_000, "456.0K"},
		{1_000, "1.0K"},
		{789, "789"},
		{0, "0"},
		{999_999, "1000.0K"},
	}

	for _, tt := range tests {
		if got := formatTokenCount(tt.n); got != tt.want {
			t.Errorf("formatTokenCount(%d) = %q, want %q", tt.n, got, tt.want)
		}
	}
}

func TestParsePeriod(t *testing.T) {
	now := time.Date(2026, 5, 14, 15, 30, 0, 0, time.UTC)
	midnight := time.Date(2026, 5, 14, 0, 0, 0, 0, time.UTC)

	tests := []struct {
		period    string
		wantStart time.Time
		wantEnd   time.Time
	}{
		{"today", midnight, now.Add(time.Minute)},
		{"yesterday", midnight.AddDate(0, 0, -1), midnight},
		{"week", now.AddDate(0, 0, -7), now.Add(time.Minute)},
		{"month", now.AddDate(0, -1, 0), now.Add(time.Minute)},
		{"all", time.Time{}, now.Add(time.Minute)},
		{"bogus", time.Time{}, now.Add(time.Minute)},
	}

	for _, tt := range tests {
		t.Run(tt.period, func(t *testing.T) {
			start, end := parsePeriod(tt.period, now)
			if !start.Equal(tt.wantStart) || !end.Equal(tt.wantEnd) {
				t.Errorf("parsePeriod(%q) = (%v, %v), want (%v, %v)", tt.period, start, end, tt.wantStart, tt.wantEnd)
			}
		})
	}
}

func TestCostSummaryTool(t *testing.T) {
	store := testUsageStore(t)
	ctx := context.Background()

	records := []usage.Record{
		{ConversationID: "kitchen", Model: "gpt-4", InputTokens: 1000, OutputTokens: 200, CostUSD: 0.042},
		{ConversationID: "kitchen", Model: "gpt-3.5-turbo", InputTokens: 500, OutputTokens: 100, CostUSD: 0.0004},
		{ConversationID: "garage", Model: "gpt-4", InputTokens: 2000, OutputTokens: 300, CostUSD: 0.078},
	}
	for _, rec := range records {
		if err := store.Record(ctx, rec); err != nil {
			t.Fatalf("Record: %v", err)
		}
	}

	reg, err := NewRegistry(NewCostSummaryTool(store))
	if err != nil {
		t.Fatal(err)
	}

	t.Run("totals", func(t *testing.T) {
		out, err := reg.Invoke(ctx, "cost_summary", map[string]any{"period": "today"})
		if err != nil {
			t.Fatal(err)
		}
		for _, want := range []string{"Cost Summary (today)", "Completions: 3", "Input tokens: 3.5K", "Estimated cost: $0.1204"} {
			if !strings.Contains(out, want) {
				t.Errorf("output missing %q:\n%s", want, out)
			}
		}
		if strings.Contains(out, "By ") {
			t.Errorf("unexpected breakdown:\n%s", out)
		}
	})

	t.Run("by model", func(t *testing.T) {
		out, err := reg.Invoke(ctx, "cost_summary", map[string]any{"period": "all", "group_by": "model"})
		if err != nil {
			t.Fatal(err)
		}
		if !strings.Contains(out, "By Model:") {
			t.Fatalf("missing breakdown:\n%s", out)
		}
		gpt35 := strings.Index(out, "gpt-3.5-turbo:")
		gpt4 := strings.Index(out, "gpt-4:")
		if gpt35 < 0 || gpt4 < 0 || gpt35 > gpt4 {
			t.Errorf("models not listed in sorted order:\n%s", out)
		}
	})

	t.Run("by conversation", func(t *testing.T) {
		out, err := reg.Invoke(ctx, "cost_summary", map[string]any{"period": "week", "group_by": "conversation"})
		if err != nil {
			t.Fatal(err)
		}
		if !strings.Contains(out, "garage: $0.0780 (1 completions") {
			t.Errorf("missing garage line:\n%s", out)
		}
	})

	t.Run("bad group", func(t *testing.T) {
		_, err := reg.Invoke(ctx, "cost_summary", map[string]any{"period": "all", "group_by": "role"})
		var execErr *ExecutionError
		if !errors.As(err, &execErr) {
			t.Fatalf("err = %v, want ExecutionError", err)
		}
	})
}
