// Package cli renders hyperopt runs for terminal consumption.
package cli

import (
	"fmt"
	"sort"
	"strings"

	"github.com/luwei0711/ludwig/internal/domain"
)

// PrintHeader prints a section header
func PrintHeader(title string) {
	fmt.Printf("\n=== %s ===\n", title)
}

// PrintField prints a labeled field
func PrintField(label, value string) {
	fmt.Printf("  %-14s %s\n", label+":", value)
}

// FormatParameters renders a sampled parameter set on one line, keys
// sorted for stable output.
func FormatParameters(sample domain.Sample) string {
	keys := make([]string, 0, len(sample))
	for key := range sample {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	parts := make([]string, 0, len(keys))
	for _, key := range keys {
		parts = append(parts, fmt.Sprintf("%s=%v", key, sample[key]))
	}
	return strings.Join(parts, " ")
}

// PrintResultsTable displays ranked trial results in a table format
func PrintResultsTable(metric string, results []domain.TrialResult) {
	PrintHeader(fmt.Sprintf("Hyperopt Results (%d trials)", len(results)))

	if len(results) == 0 {
		fmt.Println("  (no trials ran)")
		return
	}

	// Table header
	fmt.Printf("  %-6s %-12s %s\n", "Rank", metric, "Parameters")
	fmt.Printf("  %-6s %-12s %s\n",
		strings.Repeat("-", 6), strings.Repeat("-", 12), strings.Repeat("-", 40))

	for i, result := range results {
		params := FormatParameters(result.Parameters)
		if len(params) > 70 {
			params = params[:67] + "..."
		}
		fmt.Printf("  %-6d %-12.6g %s\n", i+1, result.MetricScore, params)
	}
}

// PrintBest displays the winning trial of a finished run
func PrintBest(metric string, goal domain.Goal, results []domain.TrialResult) {
	if len(results) == 0 {
		return
	}
	best := results[0]
	PrintHeader("Best Trial")
	PrintField("Goal", string(goal))
	PrintField(metric, fmt.Sprintf("%.6g", best.MetricScore))
	PrintField("Parameters", FormatParameters(best.Parameters))
}
