package daemon

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/felixgeelhaar/drill/internal/api"
	"github.com/felixgeelhaar/drill/internal/domain"
	"github.com/felixgeelhaar/drill/internal/exercise"
	"github.com/felixgeelhaar/drill/internal/grading"
	"github.com/felixgeelhaar/drill/internal/issuance"
	"github.com/google/uuid"
)

const maxBodyBytes = 1 << 20

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	api.WriteJSON(w, http.StatusOK, map[string]any{
		"status":    "healthy",
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	stats := s.generator.Registry().Stats()
	api.WriteJSON(w, http.StatusOK, map[string]any{
		"status":         "running",
		"version":        Version,
		"storage":        s.cfg.Storage.Driver,
		"claims":         s.cfg.Grading.Claims,
		"queue":          s.cfg.Queue.Enabled,
		"topics":         stats.TopicCount,
		"handlers":       stats.HandlerCount,
		"filter_purpose": s.cfg.Generation.FilterPurpose,
	})
}

type topicView struct {
	Slug           string            `json:"slug"`
	DefaultPurpose domain.Purpose    `json:"default_purpose"`
	Keys           []string          `json:"keys"`
	Pool           []domain.PoolItem `json:"pool"`
}

func (s *Server) handleListTopics(w http.ResponseWriter, r *http.Request) {
	bundles := s.generator.Topics()
	topics := make([]topicView, 0, len(bundles))
	for _, b := range bundles {
		topics = append(topics, topicView{
			Slug:           b.Slug(),
			DefaultPurpose: b.DefaultPurpose(),
			Keys:           b.Keys(),
			Pool:           b.DefaultPool(),
		})
	}
	api.WriteJSON(w, http.StatusOK, map[string]any{"topics": topics})
}

type generateResponse struct {
	Topic      string            `json:"topic"`
	Archetype  string            `json:"archetype"`
	Kind       domain.Kind       `json:"kind"`
	Payload    json.RawMessage   `json:"payload"`
	Provenance domain.Provenance `json:"provenance"`
	Forced     bool              `json:"forced,omitempty"`
	Repeated   bool              `json:"repeated,omitempty"`
}

// handleGenerate previews an exercise without persisting an instance
func (s *Server) handleGenerate(w http.ResponseWriter, r *http.Request) {
	actor, ok := s.requireActor(w, r)
	if !ok {
		return
	}

	var req issuance.Request
	if !decodeBody(w, r, &req) {
		return
	}
	if req.Difficulty == "" {
		req.Difficulty = domain.Difficulty(s.cfg.Generation.DefaultDifficulty)
	}

	res, err := s.generator.Generate(r.Context(), exercise.TopicContext{
		TopicSlug:        req.Topic,
		Actor:            actor,
		SessionRef:       req.SessionID,
		Salt:             req.Salt,
		Difficulty:       req.Difficulty,
		PoolOverride:     req.Pool,
		PreferredKind:    req.PreferredKind,
		PreferredPurpose: req.PreferredPurpose,
		PinnedKey:        req.PinnedKey,
		ForceHint:        req.ForceHint,
		Exclusions:       req.Exclusions,
	})
	if err != nil {
		api.WriteErr(w, r, err)
		return
	}

	api.WriteJSON(w, http.StatusOK, generateResponse{
		Topic:      res.Slug.Raw,
		Archetype:  res.Exercise.Archetype,
		Kind:       res.Exercise.Kind,
		Payload:    res.Exercise.Payload,
		Provenance: res.Exercise.Provenance,
		Forced:     res.Forced,
		Repeated:   res.Repeated,
	})
}

func (s *Server) handleIssueInstance(w http.ResponseWriter, r *http.Request) {
	actor, ok := s.requireActor(w, r)
	if !ok {
		return
	}

	var req issuance.Request
	if !decodeBody(w, r, &req) {
		return
	}
	if req.Difficulty == "" {
		req.Difficulty = domain.Difficulty(s.cfg.Generation.DefaultDifficulty)
	}

	ex, err := s.issuer.Issue(r.Context(), actor, req)
	if err != nil {
		api.WriteErr(w, r, err)
		return
	}
	api.WriteJSON(w, http.StatusCreated, ex)
}

func (s *Server) handleGetInstance(w http.ResponseWriter, r *http.Request) {
	actor, ok := s.requireActor(w, r)
	if !ok {
		return
	}

	inst, err := s.instances.GetInstance(r.Context(), r.PathValue("id"))
	if err != nil {
		api.WriteErr(w, r, err)
		return
	}
	if inst.ActorRef != actor.Ref() {
		// Hide existence from other actors
		api.NotFound(w, r, "instance")
		return
	}
	api.WriteJSON(w, http.StatusOK, inst)
}

type validateRequest struct {
	Answer *domain.Answer `json:"answer,omitempty"`
	Reveal bool           `json:"reveal,omitempty"`
}

func (s *Server) handleValidate(w http.ResponseWriter, r *http.Request) {
	var req validateRequest
	if !decodeBody(w, r, &req) {
		return
	}

	dec, err := s.grading.Validate(r.Context(), grading.Request{
		InstanceID: r.PathValue("id"),
		ActorToken: bearerToken(r),
		Answer:     req.Answer,
		Reveal:     req.Reveal,
	})
	if err != nil {
		api.WriteErr(w, r, err)
		return
	}
	api.WriteJSON(w, http.StatusOK, dec)
}

type createSessionRequest struct {
	AssignmentID string `json:"assignment_id,omitempty"`
}

func (s *Server) handleCreateSession(w http.ResponseWriter, r *http.Request) {
	actor, ok := s.requireActor(w, r)
	if !ok {
		return
	}

	var req createSessionRequest
	if !decodeBody(w, r, &req) {
		return
	}

	var assignmentID *string
	if id := strings.TrimSpace(req.AssignmentID); id != "" {
		if _, err := s.sessions.GetAssignment(r.Context(), id); err != nil {
			api.WriteErr(w, r, err)
			return
		}
		assignmentID = &id
	}

	sess := domain.NewSession(actor.Ref(), assignmentID)
	if err := s.sessions.CreateSession(r.Context(), sess); err != nil {
		api.WriteErr(w, r, fmt.Errorf("create session: %w", err))
		return
	}
	api.WriteJSON(w, http.StatusCreated, sess)
}

func (s *Server) handleGetSession(w http.ResponseWriter, r *http.Request) {
	actor, ok := s.requireActor(w, r)
	if !ok {
		return
	}

	sess, err := s.sessions.GetSession(r.Context(), r.PathValue("id"))
	if err != nil {
		api.WriteErr(w, r, err)
		return
	}
	if sess.OwnerRef != actor.Ref() {
		api.NotFound(w, r, "session")
		return
	}
	api.WriteJSON(w, http.StatusOK, sess)
}

type createAssignmentRequest struct {
	Title       string `json:"title"`
	AllowReveal bool   `json:"allow_reveal"`
	MaxAttempts *int   `json:"max_attempts,omitempty"`
	ShowDebug   bool   `json:"show_debug"`
}

func (s *Server) handleCreateAssignment(w http.ResponseWriter, r *http.Request) {
	if _, ok := s.requireActor(w, r); !ok {
		return
	}

	var req createAssignmentRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if strings.TrimSpace(req.Title) == "" {
		api.BadRequest(w, r, "title is required")
		return
	}
	if req.MaxAttempts != nil && *req.MaxAttempts < 1 {
		api.BadRequest(w, r, "max_attempts must be at least 1")
		return
	}

	a := domain.NewAssignment(req.Title, req.AllowReveal, req.MaxAttempts, req.ShowDebug)
	if err := s.sessions.CreateAssignment(r.Context(), a); err != nil {
		api.WriteErr(w, r, fmt.Errorf("create assignment: %w", err))
		return
	}
	api.WriteJSON(w, http.StatusCreated, a)
}

func (s *Server) handleGetAssignment(w http.ResponseWriter, r *http.Request) {
	if _, ok := s.requireActor(w, r); !ok {
		return
	}

	a, err := s.sessions.GetAssignment(r.Context(), r.PathValue("id"))
	if err != nil {
		api.WriteErr(w, r, err)
		return
	}
	api.WriteJSON(w, http.StatusOK, a)
}

type issueTokenRequest struct {
	UserRef   string `json:"user_ref,omitempty"`
	GuestRef  string `json:"guest_ref,omitempty"`
	SessionID string `json:"session_id,omitempty"`
}

// handleIssueToken signs actor tokens for local development. Without a
// user or guest ref a fresh guest identity is minted.
func (s *Server) handleIssueToken(w http.ResponseWriter, r *http.Request) {
	if !s.cfg.Tokens.DevIssue {
		api.NotFound(w, r, "endpoint")
		return
	}

	var req issueTokenRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if req.UserRef != "" && req.GuestRef != "" {
		api.BadRequest(w, r, "set user_ref or guest_ref, not both")
		return
	}

	actor := domain.Actor{UserRef: req.UserRef, GuestRef: req.GuestRef}
	if actor.IsZero() {
		actor.GuestRef = uuid.New().String()
	}

	issued, err := s.tokens.Issue(actor, req.SessionID)
	if err != nil {
		api.WriteErr(w, r, err)
		return
	}
	api.WriteJSON(w, http.StatusCreated, issued)
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	if s.stats == nil {
		api.WriteJSON(w, http.StatusOK, map[string]any{"topics": []domain.TopicStat{}})
		return
	}

	stats, err := s.stats.List(r.Context())
	if err != nil {
		api.WriteErr(w, r, fmt.Errorf("list stats: %w", err))
		return
	}
	if stats == nil {
		stats = []domain.TopicStat{}
	}
	api.WriteJSON(w, http.StatusOK, map[string]any{"topics": stats})
}

// Helper methods

// requireActor resolves the bearer token or writes a 401
func (s *Server) requireActor(w http.ResponseWriter, r *http.Request) (domain.Actor, bool) {
	actor, err := s.tokens.ResolveActor(r.Context(), bearerToken(r))
	if err != nil {
		api.WriteError(w, r, http.StatusUnauthorized,
			api.ErrUnauthorizedWith("invalid or missing actor token").WithCause(err))
		return domain.Actor{}, false
	}
	return actor, true
}

// decodeBody decodes a JSON body into dst. An empty body leaves dst untouched.
func decodeBody(w http.ResponseWriter, r *http.Request, dst any) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil && !errors.Is(err, io.EOF) {
		api.BadRequest(w, r, "invalid request body: "+err.Error())
		return false
	}
	return true
}
