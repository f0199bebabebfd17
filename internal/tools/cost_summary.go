package tools

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/nugget/toolchat/internal/usage"
)

// UsageSource answers token usage queries for the cost_summary tool.
type UsageSource interface {
	Summary(start, end time.Time) (*usage.Summary, error)
	SummaryByModel(start, end time.Time) (map[string]*usage.Summary, error)
	SummaryByConversation(start, end time.Time) (map[string]*usage.Summary, error)
}

// NewCostSummaryTool returns the cost_summary tool, which lets the
// model report its own token usage and estimated spend.
func NewCostSummaryTool(src UsageSource) *Tool {
	return &Tool{
		Name:        "cost_summary",
		Description: "Report token usage and estimated API cost for a period, optionally broken down by model or conversation.",
		Parameters: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"period": map[string]any{
					"type":        "string",
					"enum":        []string{"today", "yesterday", "week", "month", "all"},
					"description": "Time period to summarize.",
				},
				"group_by": map[string]any{
					"type":        "string",
					"enum":        []string{"model", "conversation"},
					"description": "Optional breakdown.",
				},
			},
			"required": []string{"period"},
		},
		Handler: func(_ context.Context, args map[string]any) (string, error) {
			period, _ := args["period"].(string)
			if period == "" {
				period = "today"
			}
			groupBy, _ := args["group_by"].(string)

			start, end := parsePeriod(period, time.Now())

			summary, err := src.Summary(start, end)
			if err != nil {
				return "", fmt.Errorf("query usage summary: %w", err)
			}

			var sb strings.Builder
			fmt.Fprintf(&sb, "Cost Summary (%s):\n", period)
			fmt.Fprintf(&sb, "  Completions: %d\n", summary.TotalRecords)
			fmt.Fprintf(&sb, "  Input tokens: %s\n", formatTokenCount(summary.TotalInputTokens))
			fmt.Fprintf(&sb, "  Output tokens: %s\n", formatTokenCount(summary.TotalOutputTokens))
			fmt.Fprintf(&sb, "  Estimated cost: $%.4f\n", summary.TotalCostUSD)

			var grouped map[string]*usage.Summary
			var label string
			switch groupBy {
			case "model":
				grouped, err = src.SummaryByModel(start, end)
				label = "Model"
			case "conversation":
				grouped, err = src.SummaryByConversation(start, end)
				label = "Conversation"
			case "":
			default:
				return "", fmt.Errorf("unknown group_by %q (expected model or conversation)", groupBy)
			}
			if err != nil {
				return "", fmt.Errorf("query grouped usage: %w", err)
			}

			if len(grouped) > 0 {
				keys := make([]string, 0, len(grouped))
				for k := range grouped {
					keys = append(keys, k)
				}
				sort.Strings(keys)

				fmt.Fprintf(&sb, "\nBy %s:\n", label)
				for _, key := range keys {
					sum := grouped[key]
					display := key
					if display == "" {
						display = "(none)"
					}
					fmt.Fprintf(&sb, "  %s: $%.4f (%d completions, %s in / %s out)\n",
						display, sum.TotalCostUSD, sum.TotalRecords,
						formatTokenCount(sum.TotalInputTokens),
						formatTokenCount(sum.TotalOutputTokens),
					)
				}
			}

			return sb.String(), nil
		},
	}
}

// parsePeriod converts a period name to a time range ending slightly
// after now. Unknown names cover all time.
func parsePeriod(period string, now time.Time) (time.Time, time.Time) {
	end := now.Add(time.Minute)
	midnight := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location())

	switch period {
	case "today":
		return midnight, end
	case "yesterday":
		return midnight.AddDate(0, 0, -1), midnight
	case "week":
		return now.AddDate(0, 0, -7), end
	case "month":
		return now.AddDate(0, -1, 0), end
	default:
		return time.Time{}, end
	}
}

// formatTokenCount formats a token count compactly ("1.23M", "456.0K", "789").
func formatTokenCount(n int64) string {
	if n >= 1_000_000 {
		return fmt.Sprintf("%.2fM", float64(n)/1_000_000.0)
	}
	if n >= 1_000 {
		return fmt.Sprintf("%.1fK", float64(n)/1_000.0)
	}
	return fmt.Sprintf("%d", n)
}
