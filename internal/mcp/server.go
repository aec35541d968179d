package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/felixgeelhaar/drill/internal/auth"
	"github.com/felixgeelhaar/drill/internal/domain"
	"github.com/felixgeelhaar/drill/internal/exercise"
	"github.com/felixgeelhaar/drill/internal/grading"
	"github.com/felixgeelhaar/drill/internal/issuance"
	mcp "github.com/felixgeelhaar/mcp-go"
	"github.com/felixgeelhaar/mcp-go/server"
)

// Server exposes exercise generation and grading as MCP tools. Every call
// acts on behalf of one configured actor.
type Server struct {
	mcpServer  *server.Server
	generator  *exercise.Generator
	issuer     *issuance.Service
	grading    *grading.Controller
	tokens     *auth.Service
	actor      domain.Actor
	difficulty domain.Difficulty
}

// Config contains configuration for the MCP server
type Config struct {
	Generator  *exercise.Generator
	Issuer     *issuance.Service
	Grading    *grading.Controller
	Tokens     *auth.Service
	Actor      domain.Actor
	Difficulty domain.Difficulty
	Version    string
}

// NewServer creates a new MCP server for drill
func NewServer(cfg Config) *Server {
	s := &Server{
		generator:  cfg.Generator,
		issuer:     cfg.Issuer,
		grading:    cfg.Grading,
		tokens:     cfg.Tokens,
		actor:      cfg.Actor,
		difficulty: cfg.Difficulty,
	}

	version := cfg.Version
	if version == "" {
		version = "0.1.0"
	}

	s.mcpServer = server.New(server.Info{
		Name:    "drill",
		Version: version,
	}, server.WithInstructions(`
Drill generates practice exercises and grades answers.

Available tools:
- drill_topics: List topics and their pool keys
- drill_issue: Issue an exercise instance for a topic
- drill_answer: Submit an answer for an instance
- drill_reveal: Reveal the canonical answer (when allowed)

Answers must match the instance kind:
- single_choice: choice (index)
- multi_choice: choices (indices)
- numeric: value
- text: text
`))

	s.registerTools()

	return s
}

// registerTools registers all drill MCP tools
func (s *Server) registerTools() {
	s.mcpServer.Tool("drill_topics").
		Description("List available topics with their default purpose and pool keys.").
		Handler(s.handleTopics)

	s.mcpServer.Tool("drill_issue").
		Description("Issue a new exercise instance for a topic. The expected answer is never returned.").
		Handler(s.handleIssue)

	s.mcpServer.Tool("drill_answer").
		Description("Submit an answer for an issued instance and get it graded.").
		Handler(s.handleAnswer)

	s.mcpServer.Tool("drill_reveal").
		Description("Reveal the canonical answer of an instance. Does not consume an attempt.").
		Handler(s.handleReveal)
}

// Input/Output types for tools

type TopicsInput struct{}

type TopicSummary struct {
	Slug           string   `json:"slug"`
	DefaultPurpose string   `json:"default_purpose"`
	Keys           []string `json:"keys"`
}

type TopicsOutput struct {
	Topics []TopicSummary `json:"topics"`
}

type IssueInput struct {
	Topic      string `json:"topic" jsonschema:"description=Topic slug such as m1.arith or arith"`
	SessionID  string `json:"session_id,omitempty" jsonschema:"description=Session to issue into"`
	Kind       string `json:"kind,omitempty" jsonschema:"description=Preferred answer kind,enum=single_choice,enum=multi_choice,enum=numeric,enum=text"`
	Purpose    string `json:"purpose,omitempty" jsonschema:"description=Preferred purpose,enum=quiz,enum=project"`
	Difficulty string `json:"difficulty,omitempty" jsonschema:"description=Difficulty hint,enum=beginner,enum=intermediate,enum=advanced"`
	Key        string `json:"key,omitempty" jsonschema:"description=Pin a pool key"`
	Salt       string `json:"salt,omitempty" jsonschema:"description=Extra seed salt for a fresh variant"`
}

type IssueOutput struct {
	InstanceID  string          `json:"instance_id"`
	Topic       string          `json:"topic"`
	Kind        string          `json:"kind"`
	Payload     json.RawMessage `json:"payload"`
	Key         string          `json:"key"`
	Mode        string          `json:"mode"`
	CanReveal   bool            `json:"can_reveal"`
	MaxAttempts *int            `json:"max_attempts,omitempty"`
}

type AnswerInput struct {
	InstanceID string   `json:"instance_id" jsonschema:"description=Instance ID from drill_issue"`
	Kind       string   `json:"kind" jsonschema:"description=Answer kind; must match the instance"`
	Choice     *int     `json:"choice,omitempty" jsonschema:"description=Selected option index for single_choice"`
	Choices    []int    `json:"choices,omitempty" jsonschema:"description=Selected option indices for multi_choice"`
	Value      *float64 `json:"value,omitempty" jsonschema:"description=Numeric answer"`
	Text       string   `json:"text,omitempty" jsonschema:"description=Text answer"`
}

type RevealInput struct {
	InstanceID string `json:"instance_id" jsonschema:"description=Instance ID from drill_issue"`
}

type DecisionOutput struct {
	OK              *bool           `json:"ok,omitempty"`
	RevealAnswer    json.RawMessage `json:"reveal_answer,omitempty"`
	Explanation     string          `json:"explanation,omitempty"`
	Finalized       bool            `json:"finalized"`
	AttemptsUsed    int             `json:"attempts_used"`
	AttemptsLeft    *int            `json:"attempts_left,omitempty"`
	SessionComplete bool            `json:"session_complete"`
	Summary         string          `json:"summary"`
}

// Tool handlers

func (s *Server) handleTopics(ctx context.Context, _ TopicsInput) (TopicsOutput, error) {
	bundles := s.generator.Topics()
	out := TopicsOutput{Topics: make([]TopicSummary, 0, len(bundles))}
	for _, b := range bundles {
		out.Topics = append(out.Topics, TopicSummary{
			Slug:           b.Slug(),
			DefaultPurpose: string(b.DefaultPurpose()),
			Keys:           b.Keys(),
		})
	}
	return out, nil
}

func (s *Server) handleIssue(ctx context.Context, input IssueInput) (IssueOutput, error) {
	if strings.TrimSpace(input.Topic) == "" {
		return IssueOutput{}, errors.New("topic is required")
	}

	difficulty := domain.Difficulty(input.Difficulty)
	if difficulty == "" {
		difficulty = s.difficulty
	}

	pub, err := s.issuer.Issue(ctx, s.actor, issuance.Request{
		Topic:            input.Topic,
		SessionID:        input.SessionID,
		Difficulty:       difficulty,
		PreferredKind:    domain.Kind(input.Kind),
		PreferredPurpose: domain.Purpose(input.Purpose),
		PinnedKey:        input.Key,
		Salt:             input.Salt,
		AllowReveal:      true,
	})
	if err != nil {
		return IssueOutput{}, describe("issue exercise", err)
	}

	return IssueOutput{
		InstanceID:  pub.InstanceID,
		Topic:       pub.Topic,
		Kind:        string(pub.Kind),
		Payload:     pub.Payload,
		Key:         pub.Provenance.Key,
		Mode:        string(pub.Mode),
		CanReveal:   pub.CanReveal,
		MaxAttempts: pub.MaxAttempts,
	}, nil
}

func (s *Server) handleAnswer(ctx context.Context, input AnswerInput) (DecisionOutput, error) {
	return s.validate(ctx, grading.Request{
		InstanceID: input.InstanceID,
		Answer: &domain.Answer{
			Kind:    domain.Kind(input.Kind),
			Choice:  input.Choice,
			Choices: input.Choices,
			Value:   input.Value,
			Text:    input.Text,
		},
	})
}

func (s *Server) handleReveal(ctx context.Context, input RevealInput) (DecisionOutput, error) {
	return s.validate(ctx, grading.Request{InstanceID: input.InstanceID, Reveal: true})
}

func (s *Server) validate(ctx context.Context, req grading.Request) (DecisionOutput, error) {
	if strings.TrimSpace(req.InstanceID) == "" {
		return DecisionOutput{}, errors.New("instance_id is required")
	}

	issued, err := s.tokens.Issue(s.actor, "")
	if err != nil {
		return DecisionOutput{}, fmt.Errorf("sign actor token: %w", err)
	}
	req.ActorToken = issued.Token

	dec, err := s.grading.Validate(ctx, req)
	if err != nil {
		if ve, ok := grading.AsValidationError(err); ok && ve.Decision != nil {
			return DecisionOutput{}, fmt.Errorf("%s: %s", ve.Message, ve.Decision.Summary)
		}
		return DecisionOutput{}, describe("validate answer", err)
	}

	return DecisionOutput{
		OK:              dec.OK,
		RevealAnswer:    dec.RevealAnswer,
		Explanation:     dec.Explanation,
		Finalized:       dec.Finalized,
		AttemptsUsed:    dec.Attempts.Used,
		AttemptsLeft:    dec.Attempts.Left,
		SessionComplete: dec.SessionComplete,
		Summary:         dec.Summary,
	}, nil
}

// describe turns service errors into messages a model can act on
func describe(op string, err error) error {
	if code, ok := exercise.CodeOf(err); ok {
		return fmt.Errorf("%s: %s", op, code)
	}
	if ve, ok := grading.AsValidationError(err); ok {
		return fmt.Errorf("%s: %s: %s", op, ve.Code, ve.Message)
	}
	return fmt.Errorf("%s: %w", op, err)
}

// ServeStdio starts the MCP server on stdio
func (s *Server) ServeStdio(ctx context.Context) error {
	return mcp.ServeStdio(ctx, s.mcpServer)
}

// ServeHTTP starts the MCP server on HTTP (alternative transport)
func (s *Server) ServeHTTP(ctx context.Context, addr string) error {
	return mcp.ServeHTTP(ctx, s.mcpServer, addr)
}

// GetMCPServer returns the underlying MCP server (for testing)
func (s *Server) GetMCPServer() *server.Server {
	return s.mcpServer
}
