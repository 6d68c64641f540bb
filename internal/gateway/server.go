// Package gateway implements the RestApiWorker: the HTTP boundary of the
// pipeline. Each request becomes one or more correlated calls to other
// workers through the supervisor.
package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/lfcbot/lfc/internal/api"
	"github.com/lfcbot/lfc/internal/core"
	"github.com/lfcbot/lfc/internal/correlation"
	"github.com/lfcbot/lfc/internal/envelope"
	"github.com/lfcbot/lfc/internal/logging"
)

// Downstream worker routes used by the gateway.
const (
	historyWorker  = "DatabaseInteractionWorker"
	cragWorker     = "CRAGWorker"
	lfPromptWorker = "LogicalFallacyPromptWorker"
)

// Caller issues correlated calls and names the route replies come back on.
type Caller interface {
	Call(ctx context.Context, destination []string, data any) (correlation.Result, error)
	ReturnRoute() string
}

// Server serves the public REST API.
type Server struct {
	caller Caller
	sender correlation.Sender
	logger *logging.Logger
	router chi.Router
	newID  func() string
}

// NewServer creates a gateway server. sender is used for fire-and-forget
// forwards that are not tracked by caller.
func NewServer(caller Caller, sender correlation.Sender, logger *logging.Logger, allowedOrigins []string) *Server {
	if logger == nil {
		logger = logging.NewNop()
	}
	s := &Server{
		caller: caller,
		sender: sender,
		logger: logger,
		newID:  uuid.NewString,
	}

	r := api.NewRouter(logger, allowedOrigins)
	r.Get("/health", s.handleHealth)
	r.Get("/", s.handleGetData)
	r.Get("/prompt", s.handleGetPrompt)
	r.Get("/history/{id}", s.handleGetHistory)
	r.Post("/chat", s.handleChat)
	r.Post("/chat-crag", s.handleChatCRAG)
	s.router = r
	return s
}

// Handler returns the HTTP handler for the server.
func (s *Server) Handler() http.Handler {
	return s.router
}

// ChatRequest is the body of the chat endpoints.
type ChatRequest struct {
	ProjectID string `json:"projectId"`
	Prompt    string `json:"prompt"`
}

// ChatResponse answers POST /chat.
type ChatResponse struct {
	Status string   `json:"status"`
	Data   ChatData `json:"data"`
}

// ChatData identifies the history a chat was recorded under.
type ChatData struct {
	ChatID    string `json:"chat_id"`
	Prompt    string `json:"prompt"`
	ProjectID string `json:"projectId"`
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	api.RespondJSON(w, http.StatusOK, map[string]string{
		"status": "healthy",
		"time":   time.Now().UTC().Format(time.RFC3339),
	})
}

func (s *Server) handleGetData(w http.ResponseWriter, r *http.Request) {
	projectID := r.URL.Query().Get("projectId")
	if projectID == "" {
		api.RespondError(w, http.StatusBadRequest, "projectId is required")
		return
	}
	res, err := s.caller.Call(r.Context(),
		[]string{envelope.RouteTo(historyWorker, "getData", projectID)}, projectID)
	s.writeResult(w, res, err)
}

func (s *Server) handleGetPrompt(w http.ResponseWriter, r *http.Request) {
	projectID := r.URL.Query().Get("project_id")
	if projectID == "" {
		api.RespondError(w, http.StatusBadRequest, "project_id is required")
		return
	}
	res, err := s.caller.Call(r.Context(),
		[]string{envelope.RouteTo(historyWorker, "getPrompt", projectID)},
		map[string]string{"projectId": projectID})
	s.writeResult(w, res, err)
}

func (s *Server) handleGetHistory(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	res, err := s.caller.Call(r.Context(),
		[]string{envelope.RouteTo(historyWorker, "getHistory", id)}, nil)
	s.writeResult(w, res, err)
}

func (s *Server) handleChatCRAG(w http.ResponseWriter, r *http.Request) {
	req, ok := decodeChat(w, r)
	if !ok {
		return
	}
	chatID, res, err := s.createHistory(r.Context(), req)
	if chatID == "" {
		s.writeResult(w, res, err)
		return
	}

	res, err = s.caller.Call(r.Context(),
		[]string{envelope.RouteTo(cragWorker, "generateAnswer", chatID)},
		map[string]string{"projectId": req.ProjectID, "prompt": req.Prompt})
	s.writeResult(w, res, err)
}

func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	req, ok := decodeChat(w, r)
	if !ok {
		return
	}
	chatID, res, err := s.createHistory(r.Context(), req)
	if chatID == "" {
		s.writeResult(w, res, err)
		return
	}

	// The pipeline reports progress into the history; the reply, if any,
	// arrives later as an unmatched onProcessed message.
	if err := s.forward(envelope.RouteTo(lfPromptWorker, "removeLFPrompt"),
		map[string]string{"prompt": req.Prompt, "id": chatID}); err != nil {
		s.logger.Warn("forwarding chat", "chat_id", chatID, "error", err)
		api.RespondError(w, http.StatusBadGateway, "forwarding chat: "+err.Error())
		return
	}

	api.RespondJSON(w, http.StatusOK, ChatResponse{
		Status: "chat history created, progress is recorded as each step completes",
		Data:   ChatData{ChatID: chatID, Prompt: req.Prompt, ProjectID: req.ProjectID},
	})
}

func decodeChat(w http.ResponseWriter, r *http.Request) (ChatRequest, bool) {
	var req ChatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		api.RespondError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return req, false
	}
	if strings.TrimSpace(req.Prompt) == "" {
		api.RespondError(w, http.StatusBadRequest, "prompt is required")
		return req, false
	}
	return req, true
}

// createHistory records the question and returns the new history id. An
// empty id means the call did not complete; res and err describe why.
func (s *Server) createHistory(ctx context.Context, req ChatRequest) (string, correlation.Result, error) {
	res, err := s.caller.Call(ctx,
		[]string{envelope.RouteTo(historyWorker, "createNewHistory")},
		map[string]string{"question": req.Prompt, "projectId": req.ProjectID})
	if err != nil || !res.OK() {
		return "", res, err
	}

	var created []struct {
		ID string `json:"_id"`
	}
	if err := res.Decode(&created); err != nil || len(created) == 0 || created[0].ID == "" {
		return "", correlation.Result{
			MessageID: res.MessageID,
			Status:    envelope.StatusFailed,
			Reason:    "history worker returned no id",
		}, nil
	}
	return created[0].ID, res, nil
}

// forward sends data to route without waiting for a reply.
func (s *Server) forward(route string, data any) error {
	env := envelope.New(s.newID(), envelope.StatusProcessing)
	env.Destination = []string{route, s.caller.ReturnRoute()}
	env, err := env.WithData(data)
	if err != nil {
		return err
	}
	return s.sender.Send(env)
}

// writeResult maps a call outcome onto an HTTP response.
func (s *Server) writeResult(w http.ResponseWriter, res correlation.Result, err error) {
	if err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			api.RespondError(w, http.StatusGatewayTimeout, err.Error())
			return
		}
		api.RespondError(w, http.StatusBadGateway, err.Error())
		return
	}

	switch res.Status {
	case envelope.StatusCompleted:
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		body := res.Result
		if len(body) == 0 {
			body = json.RawMessage(`null`)
		}
		_, _ = w.Write(body)
		_, _ = w.Write([]byte("\n"))
	case envelope.StatusTimeout:
		api.RespondJSON(w, http.StatusGatewayTimeout, map[string]string{
			"error":  "Request timed out",
			"taskId": res.MessageID,
		})
	default:
		api.RespondJSON(w, statusForReason(res.Reason), map[string]string{
			"error":  res.Reason,
			"taskId": res.MessageID,
		})
	}
}

// statusForReason maps a failed reply's reason onto an HTTP status. Reasons
// from domain errors start with their code.
func statusForReason(reason string) int {
	code, _, _ := strings.Cut(reason, ":")
	switch code {
	case envelope.ReasonServerBusy:
		return http.StatusServiceUnavailable
	case core.CodeNotFound:
		return http.StatusNotFound
	case core.CodeBadPayload:
		return http.StatusUnprocessableEntity
	default:
		return http.StatusBadGateway
	}
}
