package main

import (
	"fmt"
	"net/http"

	"github.com/felixgeelhaar/drill/internal/domain"
)

// cmdStats shows per-topic grading statistics
func cmdStats() error {
	if !isRunning() {
		return fmt.Errorf("daemon not running (run 'drill start' first)")
	}

	var result struct {
		Topics []domain.TopicStat `json:"topics"`
	}
	if err := newDaemonClient(daemonAddr).do(http.MethodGet, "/v1/stats", nil, &result); err != nil {
		return fmt.Errorf("get stats: %w", err)
	}

	fmt.Println("Grading Statistics")
	fmt.Println("==================")
	if len(result.Topics) == 0 {
		fmt.Println("No graded attempts yet.")
		return nil
	}

	for _, stat := range result.Topics {
		accuracy := 0.0
		if stat.Attempts > 0 {
			accuracy = float64(stat.Correct) / float64(stat.Attempts)
		}
		fmt.Printf("%-12s %-14s %s %3.0f%% (%d attempts, %d reveals, %d exhausted)\n",
			stat.TopicSlug, stat.Key, renderProgressBar(accuracy, 20), accuracy*100,
			stat.Attempts, stat.Reveals, stat.FinalizedExhausted)
	}

	return nil
}
