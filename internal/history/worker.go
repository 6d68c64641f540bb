package history

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/lfcbot/lfc/internal/core"
	"github.com/lfcbot/lfc/internal/envelope"
	"github.com/lfcbot/lfc/internal/worker"
)

// Name is the worker name this package registers under.
const Name = "DatabaseInteractionWorker"

// DefaultDatabasePath is used when the worker config names no database.
const DefaultDatabasePath = ".lfc/history.db"

// Methods exposed on the worker route.
const (
	MethodCreateHistory  = "createNewHistory"
	MethodGetData        = "getData"
	MethodGetPrompt      = "getPrompt"
	MethodCreateProgress = "createNewProgress"
	MethodUpdateProgress = "updateProgress"
	MethodGetHistory     = "getHistory"
	MethodAddData        = "addData"
	MethodSetPrompt      = "setPrompt"
)

// Config is the per-worker configuration.
type Config struct {
	DatabasePath string `mapstructure:"database_path"`
	// MaxConcurrency overrides the runtime default. The worker handles one
	// request at a time unless told otherwise.
	MaxConcurrency int `mapstructure:"max_concurrency"`
}

// Main is the worker entry point.
func Main(ctx context.Context, conn *envelope.Conn, env worker.Env) error {
	var cfg Config
	if err := env.Decode(&cfg); err != nil {
		return err
	}
	if cfg.DatabasePath == "" {
		cfg.DatabasePath = DefaultDatabasePath
	}

	store, err := Open(cfg.DatabasePath)
	if err != nil {
		return fmt.Errorf("opening history store: %w", err)
	}
	defer store.Close()

	opts := env.RuntimeOptions()
	opts.MaxConcurrency = 1
	if cfg.MaxConcurrency > 0 {
		opts.MaxConcurrency = cfg.MaxConcurrency
	}
	rt := worker.New(conn, opts)
	Register(rt, store)

	rt.Logger().Info("history worker ready", "database", store.Path())
	return rt.Run(ctx)
}

// Register installs the history methods on rt.
func Register(rt *worker.Runtime, store *Store) {
	h := &handlers{rt: rt, store: store}
	rt.Handle(MethodCreateHistory, h.createHistory)
	rt.Handle(MethodGetData, h.getData)
	rt.Handle(MethodGetPrompt, h.getPrompt)
	rt.Handle(MethodCreateProgress, h.createProgress)
	rt.Handle(MethodUpdateProgress, h.updateProgress)
	rt.Handle(MethodGetHistory, h.getHistory)
	rt.Handle(MethodAddData, h.addData)
	rt.Handle(MethodSetPrompt, h.setPrompt)
}

// NewHistoryRequest is the createNewHistory payload.
type NewHistoryRequest struct {
	Question  string `json:"question"`
	ProjectID string `json:"projectId"`
}

// ProgressRequest is the createNewProgress and updateProgress payload.
type ProgressRequest struct {
	ProcessName    string          `json:"process_name"`
	SubProcessName string          `json:"sub_process_name,omitempty"`
	Input          json.RawMessage `json:"input,omitempty"`
	Output         json.RawMessage `json:"output,omitempty"`
}

type handlers struct {
	rt    *worker.Runtime
	store *Store
}

func badPayload(err error) error {
	return core.ErrValidation(core.CodeBadPayload, err.Error()).WithCause(err)
}

func (h *handlers) createHistory(ctx context.Context, req worker.Request) error {
	var in NewHistoryRequest
	if err := req.Envelope.Decode(&in); err != nil {
		return badPayload(err)
	}
	hist, err := h.store.CreateHistory(ctx, in.ProjectID, in.Question)
	if err != nil {
		return err
	}
	h.rt.Logger().WithMessage(req.Envelope.MessageID).Info("history created",
		"history_id", hist.ID, "project_id", hist.ProjectID)
	return h.rt.Reply(req.Envelope, []*History{hist})
}

func (h *handlers) getHistory(ctx context.Context, req worker.Request) error {
	id, err := h.param(req, "id")
	if err != nil {
		return err
	}
	hist, err := h.store.GetHistory(ctx, id)
	if err != nil {
		return err
	}
	return h.rt.Reply(req.Envelope, hist)
}

func (h *handlers) createProgress(ctx context.Context, req worker.Request) error {
	id, err := h.param(req, "id")
	if err != nil {
		return err
	}
	var in ProgressRequest
	if err := req.Envelope.Decode(&in); err != nil {
		return badPayload(err)
	}
	if err := h.store.AddProcess(ctx, id, in.ProcessName, in.Input, in.Output); err != nil {
		return err
	}
	return h.rt.Reply(req.Envelope, map[string]string{"history_id": id, "process_name": in.ProcessName})
}

func (h *handlers) updateProgress(ctx context.Context, req worker.Request) error {
	id, err := h.param(req, "id")
	if err != nil {
		return err
	}
	var in ProgressRequest
	if err := req.Envelope.Decode(&in); err != nil {
		return badPayload(err)
	}
	if err := h.store.AddStep(ctx, id, in.ProcessName, in.SubProcessName, in.Input, in.Output); err != nil {
		return err
	}
	return h.rt.Reply(req.Envelope, map[string]string{
		"history_id":       id,
		"process_name":     in.ProcessName,
		"sub_process_name": in.SubProcessName,
	})
}

func (h *handlers) getData(ctx context.Context, req worker.Request) error {
	projectID, err := h.param(req, "projectId")
	if err != nil {
		return err
	}
	docs, err := h.store.Documents(ctx, projectID)
	if err != nil {
		return err
	}
	return h.rt.Reply(req.Envelope, docs)
}

func (h *handlers) addData(ctx context.Context, req worker.Request) error {
	projectID, err := h.param(req, "projectId")
	if err != nil {
		return err
	}
	doc, err := h.store.AddDocument(ctx, projectID, req.Envelope.Data)
	if err != nil {
		return err
	}
	return h.rt.Reply(req.Envelope, doc)
}

func (h *handlers) getPrompt(ctx context.Context, req worker.Request) error {
	projectID, err := h.param(req, "projectId")
	if err != nil {
		return err
	}
	p, err := h.store.Prompt(ctx, projectID)
	if err != nil {
		return err
	}
	return h.rt.Reply(req.Envelope, []*Prompt{p})
}

func (h *handlers) setPrompt(ctx context.Context, req worker.Request) error {
	projectID, err := h.param(req, "projectId")
	if err != nil {
		return err
	}
	var in struct {
		Prompt string `json:"prompt"`
	}
	if err := req.Envelope.Decode(&in); err != nil {
		return badPayload(err)
	}
	if err := h.store.SetPrompt(ctx, projectID, in.Prompt); err != nil {
		return err
	}
	p, err := h.store.Prompt(ctx, projectID)
	if err != nil {
		return err
	}
	return h.rt.Reply(req.Envelope, p)
}

// param returns the route param, falling back to a payload field or a bare
// JSON string payload.
func (h *handlers) param(req worker.Request, field string) (string, error) {
	if req.Route.Param != "" {
		return req.Route.Param, nil
	}
	var s string
	if json.Unmarshal(req.Envelope.Data, &s) == nil && s != "" {
		return s, nil
	}
	var obj map[string]json.RawMessage
	if json.Unmarshal(req.Envelope.Data, &obj) == nil {
		if raw, ok := obj[field]; ok && json.Unmarshal(raw, &s) == nil && s != "" {
			return s, nil
		}
	}
	return "", core.ErrValidation(core.CodeBadPayload,
		fmt.Sprintf("%s requires a %s in the route or payload", req.Route.Method, field))
}
