// Package console exposes a small read-only HTTP API over the running agent:
// health, the agent's state snapshot, and the journal tail. It only observes;
// every protocol action still goes through the JSON-RPC driver.
package console

import (
	"context"
	"net/http"
	"strings"

	"github.com/danielgtaylor/huma/v2"
	humachi "github.com/danielgtaylor/huma/v2/adapters/humachi"
	"github.com/go-chi/chi/v5"

	"swarmline/internal/agent"
	"swarmline/internal/journal"
)

// StateSource yields the agent snapshot served by /status.
type StateSource interface {
	Snapshot() agent.State
}

// Tailer yields the newest journal entries for /events.
type Tailer interface {
	Tail(ctx context.Context, n int, f journal.Filters) ([]journal.Entry, error)
}

// Config for the console handler.
type Config struct {
	Agent    StateSource
	Journal  Tailer
	BasePath string
	Auth     AuthConfig
}

type apiErrorBody struct {
	Code    string         `json:"code" example:"unauthorized"`
	Message string         `json:"message" example:"authentication required"`
	Details map[string]any `json:"details,omitempty" jsonschema:"type=object,additionalProperties=true"`
}

// apiError models the console's error envelope.
type apiError struct {
	status int
	Body   apiErrorBody `json:"error"`
}

func (e *apiError) GetStatus() int { return e.status }
func (e *apiError) Error() string  { return e.Body.Message }

// New returns an HTTP handler exposing the console API.
func New(cfg Config) http.Handler {
	basePath := cfg.BasePath
	if basePath == "" {
		basePath = "/v0"
	}
	if !strings.HasPrefix(basePath, "/") {
		basePath = "/" + basePath
	}
	huma.DefaultArrayNullable = false
	// Override Huma errors to use the console envelope.
	huma.NewError = func(status int, msg string, errs ...error) huma.StatusError {
		return newAPIError(status, "", msg, nil)
	}

	router := chi.NewRouter()
	router.Use(newAuthMiddleware(basePath, cfg.Auth))
	hcfg := huma.DefaultConfig("Swarmline Console", "0.1.0")
	hcfg.OpenAPIPath = "/openapi"
	api := humachi.New(router, hcfg)
	group := huma.NewGroup(api, basePath)

	registerHealth(group)
	registerStatus(group, cfg.Agent)
	registerEvents(group, cfg.Journal)

	return router
}

func newAPIError(status int, code, message string, details map[string]any) huma.StatusError {
	if code == "" {
		code = defaultCodeForStatus(status)
	}
	return &apiError{
		status: status,
		Body: apiErrorBody{
			Code:    code,
			Message: message,
			Details: details,
		},
	}
}

func defaultCodeForStatus(status int) string {
	switch status {
	case http.StatusBadRequest:
		return "bad_request"
	case http.StatusUnauthorized:
		return "unauthorized"
	case http.StatusNotFound:
		return "not_found"
	case http.StatusInternalServerError:
		return "internal_error"
	default:
		return strings.ToLower(strings.ReplaceAll(http.StatusText(status), " ", "_"))
	}
}

func registerHealth(api huma.API) {
	huma.Register(api, huma.Operation{
		OperationID: "health",
		Method:      http.MethodGet,
		Path:        "/health",
		Summary:     "Health check",
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body map[string]string `json:"body"`
	}, error) {
		return &struct {
			Body map[string]string `json:"body"`
		}{Body: map[string]string{"status": "ok"}}, nil
	})
}

func registerStatus(api huma.API, src StateSource) {
	huma.Register(api, huma.Operation{
		OperationID: "status",
		Method:      http.MethodGet,
		Path:        "/status",
		Summary:     "Agent status",
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body agent.State `json:"body"`
	}, error) {
		if src == nil {
			return nil, newAPIError(http.StatusNotFound, "not_found", "no agent attached", nil)
		}
		return &struct {
			Body agent.State `json:"body"`
		}{Body: src.Snapshot()}, nil
	})
}

func registerEvents(api huma.API, tailer Tailer) {
	type eventsQuery struct {
		Limit  int    `query:"limit" default:"20" minimum:"1" maximum:"500"`
		Type   string `query:"type"`
		TaskID string `query:"task_id"`
	}
	huma.Register(api, huma.Operation{
		OperationID: "list-events",
		Method:      http.MethodGet,
		Path:        "/events",
		Summary:     "Journal tail, newest first",
	}, func(ctx context.Context, input *eventsQuery) (*struct {
		Body struct {
			Events []journal.Entry `json:"events"`
		} `json:"body"`
	}, error) {
		out := &struct {
			Body struct {
				Events []journal.Entry `json:"events"`
			} `json:"body"`
		}{}
		if tailer == nil {
			out.Body.Events = []journal.Entry{}
			return out, nil
		}
		entries, err := tailer.Tail(ctx, input.Limit, journal.Filters{Type: input.Type, TaskID: input.TaskID})
		if err != nil {
			return nil, newAPIError(http.StatusInternalServerError, "internal_error", "internal error", map[string]any{"error": err.Error()})
		}
		if entries == nil {
			entries = []journal.Entry{}
		}
		out.Body.Events = entries
		return out, nil
	})
}
