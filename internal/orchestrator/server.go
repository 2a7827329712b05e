package orchestrator

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sort"
	"strconv"
	"strings"

	"github.com/google/uuid"

	"weavechat/internal/eventbus"
	"weavechat/internal/observability"
	"weavechat/internal/persistence"
)

// Server exposes the HTTP API described in §6 over an Orchestrator.
type Server struct {
	orch    *Orchestrator
	mux     *http.ServeMux
	models  []string
	showFunc bool
}

// ServerConfig supplies the handful of process-wide values the HTTP layer
// needs beyond the Orchestrator itself.
type ServerConfig struct {
	Models          []string
	ShowFuncResult  bool
}

// NewServer builds the HTTP API server wired to orch.
func NewServer(orch *Orchestrator, cfg ServerConfig) *Server {
	s := &Server{orch: orch, mux: http.NewServeMux(), models: cfg.Models, showFunc: cfg.ShowFuncResult}
	s.registerRoutes()
	return s
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mux.ServeHTTP(w, r)
}

func (s *Server) registerRoutes() {
	s.mux.HandleFunc("GET /api/user", s.handleUser)
	s.mux.HandleFunc("GET /api/models", s.handleModels)
	s.mux.HandleFunc("GET /api/agents", s.handleAgents)
	s.mux.HandleFunc("GET /api/settings", s.handleSettings)

	s.mux.HandleFunc("GET /api/conversations", s.handleListConversations)
	s.mux.HandleFunc("POST /api/conversations", s.handleCreateConversation)
	s.mux.HandleFunc("GET /api/conversations/{id}", s.handleGetConversation)
	s.mux.HandleFunc("PUT /api/conversations/{id}", s.handleUpdateConversation)
	s.mux.HandleFunc("DELETE /api/conversations/{id}", s.handleDeleteConversation)

	s.mux.HandleFunc("POST /api/conversations/{id}/messages", s.handlePostMessage)
	s.mux.HandleFunc("PATCH /api/conversations/{id}/messages/{seq}/evaluation", s.handleSetEvaluation)
	s.mux.HandleFunc("PATCH /api/conversations/{id}/messages/{seq}/evaluation/clear", s.handleClearEvaluation)
}

// userFromRequest resolves the caller's identity. Authentication itself is
// out of scope; an X-User-Id header (when present and numeric) scopes
// requests to that user, otherwise requests run unscoped (nil owner),
// matching the store's "caller not always present" invariant.
func userFromRequest(r *http.Request) *int64 {
	raw := strings.TrimSpace(r.Header.Get("X-User-Id"))
	if raw == "" {
		return nil
	}
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return nil
	}
	return &id
}

func (s *Server) handleUser(w http.ResponseWriter, r *http.Request) {
	userID := userFromRequest(r)
	resp := map[string]any{
		"user_id":          "anonymous",
		"user_name":        "anonymous",
		"is_authenticated": false,
		"mode":             "anonymous",
	}
	if userID != nil {
		resp["user_id"] = strconv.FormatInt(*userID, 10)
		resp["user_name"] = resp["user_id"]
		resp["is_authenticated"] = true
		resp["mode"] = "header"
	}
	respondJSON(w, http.StatusOK, resp)
}

func (s *Server) handleModels(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]any{"models": s.models})
}

func (s *Server) handleAgents(w http.ResponseWriter, r *http.Request) {
	names := append([]string(nil), s.orch.AgentNames()...)
	sort.Strings(names)
	respondJSON(w, http.StatusOK, map[string]any{"agents": names})
}

func (s *Server) handleSettings(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]any{"show_func_result": s.showFunc})
}

func (s *Server) handleListConversations(w http.ResponseWriter, r *http.Request) {
	userID := userFromRequest(r)
	convs, err := s.orch.conversations.ListConversations(r.Context(), userID)
	if err != nil {
		respondError(w, statusFromError(err), err)
		return
	}
	respondJSON(w, http.StatusOK, convs)
}

func (s *Server) handleCreateConversation(w http.ResponseWriter, r *http.Request) {
	userID := userFromRequest(r)
	var body struct {
		Model string `json:"model"`
	}
	if r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			respondError(w, http.StatusBadRequest, err)
			return
		}
	}
	conv, err := s.orch.conversations.EnsureConversation(r.Context(), userID, uuid.NewString(), "")
	if err != nil {
		respondError(w, statusFromError(err), err)
		return
	}
	if body.Model != "" {
		conv, err = s.orch.conversations.UpdateMetadata(r.Context(), userID, conv.ID, "", body.Model, nil)
		if err != nil {
			respondError(w, statusFromError(err), err)
			return
		}
	}
	respondJSON(w, http.StatusCreated, conv)
}

func (s *Server) handleGetConversation(w http.ResponseWriter, r *http.Request) {
	userID := userFromRequest(r)
	id := r.PathValue("id")
	conv, err := s.orch.conversations.GetConversation(r.Context(), userID, id)
	if err != nil {
		respondError(w, statusFromError(err), err)
		return
	}
	messages, err := s.orch.conversations.ListMessages(r.Context(), userID, id)
	if err != nil {
		respondError(w, statusFromError(err), err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{
		"conversation": conv,
		"messages":     messages,
	})
}

func (s *Server) handleUpdateConversation(w http.ResponseWriter, r *http.Request) {
	userID := userFromRequest(r)
	id := r.PathValue("id")
	var body struct {
		Title                  string            `json:"title"`
		Model                  string            `json:"model"`
		AgentLevelLLMOverwrite map[string]string `json:"agent_level_llm_overwrite"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		respondError(w, http.StatusBadRequest, err)
		return
	}
	conv, err := s.orch.conversations.UpdateMetadata(r.Context(), userID, id, body.Title, body.Model, body.AgentLevelLLMOverwrite)
	if err != nil {
		respondError(w, statusFromError(err), err)
		return
	}
	respondJSON(w, http.StatusOK, conv)
}

func (s *Server) handleDeleteConversation(w http.ResponseWriter, r *http.Request) {
	userID := userFromRequest(r)
	id := r.PathValue("id")
	if err := s.orch.conversations.DeleteConversation(r.Context(), userID, id); err != nil {
		respondError(w, statusFromError(err), err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handlePostMessage(w http.ResponseWriter, r *http.Request) {
	userID := userFromRequest(r)
	id := r.PathValue("id")

	var req MessageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, err)
		return
	}

	bus, err := s.orch.HandleUserMessage(r.Context(), id, userID, req)
	if err != nil {
		respondError(w, statusFromError(err), err)
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		respondError(w, http.StatusInternalServerError, errors.New("streaming not supported"))
		return
	}
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	streamBusToSSE(r.Context(), w, flusher, bus)
}

func (s *Server) handleSetEvaluation(w http.ResponseWriter, r *http.Request) {
	s.updateEvaluation(w, r, false)
}

func (s *Server) handleClearEvaluation(w http.ResponseWriter, r *http.Request) {
	s.updateEvaluation(w, r, true)
}

func (s *Server) updateEvaluation(w http.ResponseWriter, r *http.Request, clear bool) {
	userID := userFromRequest(r)
	id := r.PathValue("id")
	seq, err := strconv.Atoi(r.PathValue("seq"))
	if err != nil {
		respondError(w, http.StatusBadRequest, errors.New("seq must be an integer"))
		return
	}

	var body struct {
		IsSatisfy bool   `json:"is_satisfy"`
		Comment   string `json:"comment"`
	}
	if !clear {
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			respondError(w, http.StatusBadRequest, err)
			return
		}
	}

	messages, err := s.orch.conversations.ListMessages(r.Context(), userID, id)
	if err != nil {
		respondError(w, statusFromError(err), err)
		return
	}
	found := false
	for i := range messages {
		if messages[i].Sequence != seq {
			continue
		}
		found = true
		if clear {
			messages[i].Satisfied = nil
			messages[i].Comment = ""
		} else {
			satisfy := body.IsSatisfy
			messages[i].Satisfied = &satisfy
			messages[i].Comment = body.Comment
		}
		break
	}
	if !found {
		respondError(w, http.StatusNotFound, persistence.ErrNotFound)
		return
	}
	if _, err := s.orch.conversations.SaveMessages(r.Context(), userID, id, messages); err != nil {
		respondError(w, statusFromError(err), err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// streamBusToSSE drains bus, translating each eventbus.Event into the wire
// protocol described in §6, until the done sentinel or the client
// disconnects. Order is preserved: the bus has a single consumer, this loop.
func streamBusToSSE(ctx context.Context, w http.ResponseWriter, flusher http.Flusher, bus *eventbus.Bus) {
	log := observability.LoggerWithTrace(ctx)
	for {
		ev, ok := bus.Next(ctx)
		if !ok {
			return
		}
		switch ev.Kind {
		case eventbus.KindUserMessage:
			writeSSE(w, flusher, "message", map[string]any{"type": "user", "content": ev.Content, "seq": ev.Seq})
		case eventbus.KindAssistantMessage:
			writeSSE(w, flusher, "message", map[string]any{"type": "assistant", "content": ev.Content, "seq": ev.Seq})
		case eventbus.KindAgentInvoked:
			writeSSE(w, flusher, "thinking", map[string]any{"type": "agent_invoked", "name": ev.AgentName})
		case eventbus.KindAgentFinished:
			writeSSE(w, flusher, "thinking", map[string]any{"type": "agent_finished", "name": ev.AgentName})
		case eventbus.KindFunctionStart:
			writeSSE(w, flusher, "thinking", map[string]any{"type": "function_start", "name": ev.FunctionName, "arguments": ev.Arguments})
		case eventbus.KindFunctionEnd:
			writeSSE(w, flusher, "thinking", map[string]any{"type": "function_end", "name": ev.FunctionName, "result": ev.Result})
		case eventbus.KindStream:
			writeSSE(w, flusher, "stream", map[string]any{"text": ev.Content, "executor_id": ev.ExecutorID, "seq": ev.StreamSeq})
		case eventbus.KindDone:
			writeSSE(w, flusher, "done", map[string]any{})
			return
		default:
			log.Debug().Str("kind", string(ev.Kind)).Msg("bus_event_ignored_on_wire")
		}
	}
}

func writeSSE(w http.ResponseWriter, flusher http.Flusher, eventType string, payload any) {
	b, err := json.Marshal(payload)
	if err != nil {
		return
	}
	fmt.Fprintf(w, "event: %s\ndata: %s\n\n", eventType, b)
	flusher.Flush()
}

func respondJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func respondError(w http.ResponseWriter, status int, err error) {
	respondJSON(w, status, map[string]any{"error": err.Error()})
}

func statusFromError(err error) int {
	switch {
	case errors.Is(err, persistence.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, persistence.ErrForbidden):
		return http.StatusForbidden
	case errors.Is(err, ErrInvalidInput):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}
