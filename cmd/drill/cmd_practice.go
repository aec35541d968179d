package main

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"strconv"
	"strings"

	"github.com/felixgeelhaar/drill/internal/domain"
	"github.com/felixgeelhaar/drill/internal/grading"
	"github.com/felixgeelhaar/drill/internal/issuance"
)

// cmdTopics lists topics and their pool keys
func cmdTopics() error {
	if !isRunning() {
		return fmt.Errorf("daemon not running (run 'drill start' first)")
	}

	var result struct {
		Topics []struct {
			Slug           string            `json:"slug"`
			DefaultPurpose string            `json:"default_purpose"`
			Pool           []domain.PoolItem `json:"pool"`
		} `json:"topics"`
	}
	if err := newDaemonClient(daemonAddr).do(http.MethodGet, "/v1/topics", nil, &result); err != nil {
		return fmt.Errorf("list topics: %w", err)
	}

	fmt.Println("Available Topics:")
	for _, topic := range result.Topics {
		fmt.Printf("  %s (default purpose: %s)\n", topic.Slug, topic.DefaultPurpose)
		for _, item := range topic.Pool {
			fmt.Printf("    %-16s weight=%-3g kind=%s\n", item.Key, item.Weight, item.Kind)
		}
		fmt.Println()
	}

	fmt.Println("Use 'drill practice <topic> [key]' to start")
	return nil
}

// cmdPractice issues exercises and grades answers read from stdin
func cmdPractice(args []string) error {
	if len(args) < 1 {
		return fmt.Errorf("topic required (e.g., drill practice m1.arith)")
	}
	if !isRunning() {
		return fmt.Errorf("daemon not running (run 'drill start' first)")
	}

	client := newDaemonClient(daemonAddr)
	if err := client.login(); err != nil {
		return err
	}

	req := issuance.Request{Topic: args[0], AllowReveal: true}
	if len(args) > 1 {
		req.PinnedKey = args[1]
	}

	fmt.Println("Answer each exercise. '?' reveals, 'n' skips, 'q' quits.")
	return practiceLoop(client, req, bufio.NewReader(os.Stdin), os.Stdout)
}

func practiceLoop(client *daemonClient, req issuance.Request, in *bufio.Reader, out io.Writer) error {
	for {
		var ex issuance.PublicExercise
		if err := client.do(http.MethodPost, "/v1/instances", req, &ex); err != nil {
			return fmt.Errorf("issue exercise: %w", err)
		}
		fmt.Fprintln(out)
		printExercise(out, ex)

		next, err := answerLoop(client, ex, in, out)
		if err != nil || !next {
			return err
		}
	}
}

// answerLoop reads answers until the instance is finalized. It reports
// whether to continue with another exercise.
func answerLoop(client *daemonClient, ex issuance.PublicExercise, in *bufio.Reader, out io.Writer) (bool, error) {
	path := "/v1/instances/" + ex.InstanceID + "/validate"
	for {
		fmt.Fprint(out, "> ")
		line, err := in.ReadString('\n')
		if err != nil && line == "" {
			if errors.Is(err, io.EOF) {
				return false, nil
			}
			return false, err
		}
		line = strings.TrimSpace(line)

		var body map[string]any
		switch line {
		case "q":
			return false, nil
		case "n":
			return true, nil
		case "?":
			body = map[string]any{"reveal": true}
		default:
			answer, err := parseAnswer(ex.Kind, line)
			if err != nil {
				fmt.Fprintf(out, "  %v\n", err)
				continue
			}
			body = map[string]any{"answer": answer}
		}

		var dec grading.Decision
		if err := client.do(http.MethodPost, path, body, &dec); err != nil {
			var apiErr *apiError
			if errors.As(err, &apiErr) {
				fmt.Fprintf(out, "  %s\n", apiErr.Message)
				if apiErr.Code == grading.CodeAlreadyFinalized || apiErr.Code == grading.CodeAttemptsExhausted {
					return true, nil
				}
				continue
			}
			return false, err
		}

		fmt.Fprintf(out, "  %s\n", dec.Summary)
		if len(dec.RevealAnswer) > 0 {
			fmt.Fprintf(out, "  answer: %s\n", dec.RevealAnswer)
		}
		if dec.Explanation != "" {
			fmt.Fprintf(out, "  %s\n", dec.Explanation)
		}
		if dec.Finalized {
			return true, nil
		}
	}
}

func printExercise(out io.Writer, ex issuance.PublicExercise) {
	var payload struct {
		Prompt  string   `json:"prompt"`
		Unit    string   `json:"unit"`
		Choices []string `json:"choices"`
	}
	_ = json.Unmarshal(ex.Payload, &payload)

	fmt.Fprintf(out, "[%s/%s] %s\n", ex.Topic, ex.Provenance.Key, payload.Prompt)
	for i, choice := range payload.Choices {
		fmt.Fprintf(out, "  %d) %s\n", i, choice)
	}
	if payload.Unit != "" {
		fmt.Fprintf(out, "  (answer in %s)\n", payload.Unit)
	}
	if ex.Kind == domain.KindMultiChoice {
		fmt.Fprintln(out, "  (select all that apply, comma separated)")
	}
}

// parseAnswer converts a typed line into an answer of the instance kind
func parseAnswer(kind domain.Kind, line string) (*domain.Answer, error) {
	if line == "" {
		return nil, errors.New("empty answer")
	}

	answer := &domain.Answer{Kind: kind}
	switch kind {
	case domain.KindSingleChoice:
		n, err := strconv.Atoi(line)
		if err != nil {
			return nil, fmt.Errorf("enter an option number")
		}
		answer.Choice = &n
	case domain.KindMultiChoice:
		for _, part := range strings.Split(line, ",") {
			n, err := strconv.Atoi(strings.TrimSpace(part))
			if err != nil {
				return nil, fmt.Errorf("enter option numbers separated by commas")
			}
			answer.Choices = append(answer.Choices, n)
		}
	case domain.KindNumeric:
		v, err := strconv.ParseFloat(line, 64)
		if err != nil {
			return nil, fmt.Errorf("enter a number")
		}
		answer.Value = &v
	default:
		answer.Text = line
	}
	return answer, nil
}
