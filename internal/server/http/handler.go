// Package http exposes the assistant over a JSON API.
package http

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/autopeer-io/homepeer/internal/assistant"
	"github.com/autopeer-io/homepeer/internal/home"
	"github.com/autopeer-io/homepeer/internal/pkg/middleware"
	"github.com/autopeer-io/homepeer/pkg/command"
	"github.com/autopeer-io/homepeer/pkg/log"
)

// Chatter answers one chat message.
type Chatter interface {
	Handle(ctx context.Context, req assistant.Request) (assistant.Reply, error)
}

// ChatRequest is the body of POST /api/chat. PotentialCommands echoes the
// data of a previous question reply and marks Message as its answer.
type ChatRequest struct {
	Message           string                     `json:"message"`
	PotentialCommands []command.PotentialCommand `json:"potential_commands,omitempty"`
}

// ChatResponse carries the executed commands on success and the candidates
// on a question.
type ChatResponse struct {
	Type string `json:"type"`
	Text string `json:"text"`
	Data any    `json:"data,omitempty"`
}

// ControlRequest is the body of POST /api/control.
type ControlRequest struct {
	Type   string `json:"type"`
	Action string `json:"action"`
	Device string `json:"device,omitempty"`
}

// ControlResponse is returned by POST /api/control.
type ControlResponse struct {
	Status  string           `json:"status"`
	Message string           `json:"message"`
	Command *command.Command `json:"command,omitempty"`
}

type errorResponse struct {
	Detail string `json:"detail"`
}

// API holds the handlers of the HTTP surface.
type API struct {
	chat       Chatter
	tracker    *home.Tracker
	dispatcher assistant.Dispatcher
	ready      func(ctx context.Context) error
	timeout    time.Duration
	now        func() time.Time
}

// APIOption configures an API.
type APIOption func(*API)

// WithReadiness sets the check behind /readyz.
func WithReadiness(fn func(ctx context.Context) error) APIOption {
	return func(a *API) { a.ready = fn }
}

// WithRequestTimeout bounds every route except /api/chat, which waits on the
// model with its own timeout.
func WithRequestTimeout(d time.Duration) APIOption {
	return func(a *API) { a.timeout = d }
}

// WithClock overrides the clock stamping manual commands.
func WithClock(now func() time.Time) APIOption {
	return func(a *API) { a.now = now }
}

// NewAPI returns the API handlers.
func NewAPI(chat Chatter, tracker *home.Tracker, d assistant.Dispatcher, opts ...APIOption) *API {
	a := &API{
		chat:       chat,
		tracker:    tracker,
		dispatcher: d,
		timeout:    middleware.DefaultRequestTimeout,
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Router returns the routes with the request ID, logging and CORS
// middlewares applied.
func (a *API) Router() *mux.Router {
	r := mux.NewRouter()
	bounded := middleware.Timeout(a.timeout)

	api := r.PathPrefix("/api").Subrouter()
	api.HandleFunc("/chat", a.handleChat).Methods(http.MethodPost, http.MethodOptions)
	api.Handle("/state", bounded(http.HandlerFunc(a.handleState))).Methods(http.MethodGet, http.MethodOptions)
	api.Handle("/control", bounded(http.HandlerFunc(a.handleControl))).Methods(http.MethodPost, http.MethodOptions)

	r.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	}).Methods(http.MethodGet)
	r.Handle("/readyz", bounded(http.HandlerFunc(a.handleReady))).Methods(http.MethodGet)
	r.Handle("/metrics", promhttp.Handler()).Methods(http.MethodGet)

	r.Use(middleware.RequestID, middleware.AccessLog)
	// Allowed methods are looked up on the subrouter that owns the routes.
	api.Use(mux.CORSMethodMiddleware(api), middleware.CORS)
	return r
}

func (a *API) handleChat(w http.ResponseWriter, r *http.Request) {
	var req ChatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Detail: "invalid request body: " + err.Error()})
		return
	}
	for _, p := range req.PotentialCommands {
		if err := p.Validate(); err != nil {
			writeJSON(w, http.StatusBadRequest, errorResponse{Detail: "invalid potential command: " + err.Error()})
			return
		}
	}

	reply, err := a.chat.Handle(r.Context(), assistant.Request{
		Message:    req.Message,
		Candidates: req.PotentialCommands,
	})
	if err != nil && !errors.Is(err, assistant.ErrEmptyMessage) {
		log.FromContext(r.Context()).Error(err, "Chat request failed")
	}

	resp := ChatResponse{Type: string(reply.Kind), Text: reply.Text}
	switch reply.Kind {
	case assistant.ReplySuccess:
		resp.Data = reply.Commands
	case assistant.ReplyQuestion:
		resp.Data = reply.Candidates
	case assistant.ReplyError:
		if len(reply.Commands) > 0 {
			resp.Data = reply.Commands
		}
	}
	writeJSON(w, http.StatusOK, resp)
}

func (a *API) handleState(w http.ResponseWriter, r *http.Request) {
	states := make(map[command.Type]home.DeviceState)
	for _, d := range a.tracker.Snapshot() {
		states[d.Type] = d
	}
	writeJSON(w, http.StatusOK, states)
}

func (a *API) handleControl(w http.ResponseWriter, r *http.Request) {
	var req ControlRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Detail: "invalid request body: " + err.Error()})
		return
	}

	cmd, err := parseControl(req, a.now())
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Detail: err.Error()})
		return
	}

	if err := a.dispatcher.Dispatch(r.Context(), cmd); err != nil {
		log.FromContext(r.Context()).Error(err, "Manual command failed", "command", cmd.String())
		writeJSON(w, http.StatusInternalServerError, errorResponse{Detail: assistant.TextSendFailure})
		return
	}

	writeJSON(w, http.StatusOK, ControlResponse{
		Status:  "success",
		Message: "已" + cmd.Message(),
		Command: &cmd,
	})
}

func parseControl(req ControlRequest, now time.Time) (command.Command, error) {
	typ, err := command.ParseType(req.Type)
	if err != nil {
		return command.Command{}, err
	}

	action, ok := command.DefaultAction(typ)
	if req.Action != "" || !ok {
		if action, err = command.ParseAction(req.Action); err != nil {
			return command.Command{}, err
		}
	}

	return command.New(typ, req.Device, action, now)
}

func (a *API) handleReady(w http.ResponseWriter, r *http.Request) {
	if a.ready != nil {
		if err := a.ready(r.Context()); err != nil {
			http.Error(w, err.Error(), http.StatusServiceUnavailable)
			return
		}
	}
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("ok"))
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Error(err, "Failed to write response")
	}
}
