package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"path"
	"strings"
	"sync"
	"time"

	"github.com/danielgtaylor/huma/v2"
	humachi "github.com/danielgtaylor/huma/v2/adapters/humachi"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/httprate"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/dylanstrategy/swipe-flow-cards-9e97da56-sub002/internal/domain"
	"github.com/dylanstrategy/swipe-flow-cards-9e97da56-sub002/internal/engine"
	"github.com/dylanstrategy/swipe-flow-cards-9e97da56-sub002/internal/engine/auth"
	"github.com/dylanstrategy/swipe-flow-cards-9e97da56-sub002/internal/journal"
	"github.com/dylanstrategy/swipe-flow-cards-9e97da56-sub002/internal/scheduler"
)

// Config for the HTTP API handler.
type Config struct {
	Engine    engine.Engine
	Scheduler *scheduler.Scheduler
	// Journal is optional; without it /activity returns an empty page.
	Journal  *journal.Journal
	BasePath string
	// RateLimit is requests per minute per client IP. Zero disables limiting.
	RateLimit int
	Logger    zerolog.Logger
}

type apiErrorBody struct {
	Code    string         `json:"code" example:"task_locked"`
	Message string         `json:"message" example:"task locked by incomplete dependency"`
	Details map[string]any `json:"details,omitempty" jsonschema:"type=object,additionalProperties=true"`
}

// apiError models the error envelope.
type apiError struct {
	status int
	Body   apiErrorBody `json:"error"`
}

func (e *apiError) GetStatus() int { return e.status }
func (e *apiError) Error() string  { return e.Body.Message }

// New returns an HTTP handler exposing the swipeflow API.
func New(cfg Config) (http.Handler, error) {
	if !cfg.Engine.Ready() {
		return nil, errors.New("server: engine required")
	}
	if cfg.Scheduler == nil {
		return nil, errors.New("server: scheduler required")
	}
	basePath := cfg.BasePath
	if basePath == "" {
		basePath = "/v0"
	}
	if !strings.HasPrefix(basePath, "/") {
		basePath = "/" + basePath
	}
	huma.DefaultArrayNullable = false
	huma.NewError = func(status int, msg string, errs ...error) huma.StatusError {
		return newAPIError(status, "", msg, nil)
	}
	huma.NewErrorWithContext = func(_ huma.Context, status int, msg string, errs ...error) huma.StatusError {
		if status == http.StatusUnprocessableEntity {
			status = http.StatusBadRequest
		}
		var details map[string]any
		if len(errs) > 0 {
			msgs := make([]string, 0, len(errs))
			for _, e := range errs {
				msgs = append(msgs, e.Error())
			}
			details = map[string]any{"errors": msgs}
		}
		return newAPIError(status, "", msg, details)
	}

	logger := cfg.Logger.With().Str("component", "api").Logger()
	router := chi.NewRouter()
	router.Use(middleware.Recoverer)
	router.Use(requestLogger(logger))
	if cfg.RateLimit > 0 {
		router.Use(rateLimit(cfg.RateLimit, time.Minute))
	}
	router.Handle("/metrics", promhttp.Handler())

	hcfg := huma.DefaultConfig("Swipeflow API", "0.1.0")
	hcfg.OpenAPIPath = ""
	hcfg.DocsPath = ""
	api := humachi.New(router, hcfg)
	group := huma.NewGroup(api, basePath)

	registerDocs(router, basePath)
	registerHealth(group)
	registerEvents(group, cfg.Engine)
	registerTasks(group, cfg.Engine)
	registerScheduling(group, cfg.Scheduler)
	registerActivity(group, cfg.Journal)
	registerAuthorization(group, cfg.Engine)
	registerOpenAPI(router, api, basePath)

	return router, nil
}

func requestLogger(logger zerolog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			start := time.Now()
			next.ServeHTTP(ww, r)
			logger.Debug().
				Str("method", r.Method).
				Str("path", r.URL.Path).
				Int("status", ww.Status()).
				Dur("duration", time.Since(start)).
				Msg("request")
		})
	}
}

func rateLimit(limit int, window time.Duration) func(http.Handler) http.Handler {
	return httprate.Limit(
		limit,
		window,
		httprate.WithKeyFuncs(httprate.KeyByIP),
		httprate.WithLimitHandler(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Content-Type", "application/json")
			w.Header().Set("Retry-After", fmt.Sprintf("%d", int(window.Seconds())))
			w.WriteHeader(http.StatusTooManyRequests)
			_ = json.NewEncoder(w).Encode(newAPIError(http.StatusTooManyRequests, "rate_limited", "too many requests", nil))
		}),
	)
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

func handleError(err error) huma.StatusError {
	if err == nil {
		return nil
	}
	var fe auth.ForbiddenError
	if errors.As(err, &fe) {
		return newAPIError(http.StatusForbidden, "forbidden", err.Error(), map[string]any{
			"acting_role":   string(fe.Acting),
			"assigned_role": string(fe.Assigned),
		})
	}
	msg := err.Error()
	switch {
	case errors.Is(err, engine.ErrEventNotFound):
		return newAPIError(http.StatusNotFound, "not_found", msg, nil)
	case errors.Is(err, engine.ErrTaskNotFound):
		return newAPIError(http.StatusNotFound, "task_not_found", msg, nil)
	case errors.Is(err, engine.ErrUnauthorized):
		return newAPIError(http.StatusForbidden, "forbidden", msg, nil)
	case errors.Is(err, engine.ErrTaskLocked):
		return newAPIError(http.StatusConflict, "task_locked", msg, nil)
	case errors.Is(err, engine.ErrPermanent):
		return newAPIError(http.StatusConflict, "completion_permanent", msg, nil)
	case errors.Is(err, engine.ErrNoStamp):
		return newAPIError(http.StatusConflict, "no_stamp", msg, nil)
	case errors.Is(err, engine.ErrDuplicateEvent):
		return newAPIError(http.StatusConflict, "duplicate_event", msg, nil)
	case errors.Is(err, scheduler.ErrNoAvailability):
		return newAPIError(http.StatusConflict, "no_availability", msg, nil)
	case errors.Is(err, engine.ErrDependencyCycle):
		return newAPIError(http.StatusBadRequest, "dependency_cycle", msg, nil)
	case errors.Is(err, engine.ErrInvalidEvent), errors.Is(err, scheduler.ErrInvalidRequest):
		return newAPIError(http.StatusBadRequest, "bad_request", msg, nil)
	default:
		return newAPIError(http.StatusInternalServerError, "internal_error", "internal error", map[string]any{"error": msg})
	}
}

func defaultCodeForStatus(status int) string {
	switch status {
	case http.StatusBadRequest:
		return "bad_request"
	case http.StatusNotFound:
		return "not_found"
	case http.StatusConflict:
		return "conflict"
	case http.StatusForbidden:
		return "forbidden"
	case http.StatusInternalServerError:
		return "internal_error"
	default:
		return strings.ToLower(strings.ReplaceAll(http.StatusText(status), " ", "_"))
	}
}

func registerDocs(r chi.Router, basePath string) {
	r.Get("/docs", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		io.WriteString(w, swaggerHTML(basePath))
	})
}

func registerOpenAPI(r chi.Router, api huma.API, basePath string) {
	var (
		once sync.Once
		spec []byte
	)
	specPath := path.Join(basePath, "openapi.json")
	r.Get(specPath, func(w http.ResponseWriter, r *http.Request) {
		once.Do(func() {
			oas := api.OpenAPI()
			ensureDefaultErrorResponses(oas)
			spec, _ = json.Marshal(oas)
		})
		w.Header().Set("Content-Type", "application/json")
		w.Write(spec)
	})
}

func ensureDefaultErrorResponses(oas *huma.OpenAPI) {
	if oas == nil || oas.Paths == nil {
		return
	}
	for _, item := range oas.Paths {
		for _, op := range []*huma.Operation{
			item.Get, item.Put, item.Post, item.Delete, item.Options, item.Head, item.Patch, item.Trace,
		} {
			if op == nil {
				continue
			}
			if op.Responses == nil {
				op.Responses = map[string]*huma.Response{}
			}
			op.Responses["default"] = &huma.Response{Description: "Error envelope {\"error\":{code,message,details}}"}
		}
	}
}

func swaggerHTML(basePath string) string {
	specURL := path.Join("/", path.Join(basePath, "openapi.json"))
	return fmt.Sprintf(`<!doctype html>
<html lang="en">
  <head>
    <meta charset="utf-8"/>
    <meta name="viewport" content="width=device-width, initial-scale=1"/>
    <title>Swipeflow API Docs</title>
    <link rel="stylesheet" href="https://unpkg.com/swagger-ui-dist@5/swagger-ui.css" />
  </head>
  <body>
    <div id="swagger-ui"></div>
    <script src="https://unpkg.com/swagger-ui-dist@5/swagger-ui-bundle.js" crossorigin></script>
    <script>
      window.onload = () => {
        SwaggerUIBundle({
          url: '%s',
          dom_id: '#swagger-ui'
        });
      };
    </script>
  </body>
</html>`, specURL)
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

type eventOutput struct {
	Body EventResponse `json:"body"`
}

func registerEvents(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "list-events",
		Method:      http.MethodGet,
		Path:        "/events",
		Summary:     "List events, optionally for one role and day",
		Errors:      []int{http.StatusBadRequest},
	}, func(ctx context.Context, input *struct {
		Role string `query:"role" enum:"resident,operator,maintenance,leasing,vendor,prospect"`
		Date string `query:"date" example:"2025-03-10"`
	}) (*struct {
		Body EventList `json:"body"`
	}, error) {
		var events []domain.Event
		switch {
		case input.Date != "":
			date, err := parseDate(input.Date)
			if err != nil {
				return nil, handleError(err)
			}
			if input.Role != "" {
				events = e.EventsForRoleAndDate(domain.Role(input.Role), date)
			} else {
				for _, ev := range e.AllEvents() {
					if domain.SameDay(ev.Date, date) {
						events = append(events, ev)
					}
				}
			}
		case input.Role != "":
			events = e.EventsForRole(domain.Role(input.Role))
		default:
			events = e.AllEvents()
		}
		return &struct {
			Body EventList `json:"body"`
		}{Body: eventList(events)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-event",
		Method:      http.MethodGet,
		Path:        "/events/{id}",
		Summary:     "Get event",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ID string `path:"id"`
	}) (*eventOutput, error) {
		ev, err := e.GetEventByID(input.ID)
		if err != nil {
			return nil, handleError(err)
		}
		return &eventOutput{Body: eventResponse(ev)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "create-event",
		Method:        http.MethodPost,
		Path:          "/events",
		Summary:       "Create event",
		DefaultStatus: http.StatusCreated,
		Errors:        []int{http.StatusBadRequest, http.StatusConflict},
	}, func(ctx context.Context, input *struct {
		Body CreateEventRequest `json:"body"`
	}) (*eventOutput, error) {
		if strings.TrimSpace(input.Body.Title) == "" {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "title is required", nil)
		}
		ev, err := eventFromRequest(input.Body)
		if err != nil {
			return nil, handleError(err)
		}
		out, err := e.AddEvent(ev)
		if err != nil {
			return nil, handleError(err)
		}
		return &eventOutput{Body: eventResponse(out)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "update-event",
		Method:      http.MethodPatch,
		Path:        "/events/{id}",
		Summary:     "Update event fields",
		Errors:      []int{http.StatusBadRequest, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ID   string             `path:"id"`
		Body UpdateEventRequest `json:"body"`
	}) (*eventOutput, error) {
		patch, err := patchFromRequest(input.Body)
		if err != nil {
			return nil, handleError(err)
		}
		out, err := e.UpdateEvent(input.ID, patch)
		if err != nil {
			return nil, handleError(err)
		}
		return &eventOutput{Body: eventResponse(out)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "delete-event",
		Method:        http.MethodDelete,
		Path:          "/events/{id}",
		Summary:       "Remove event",
		DefaultStatus: http.StatusNoContent,
		Errors:        []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ID string `path:"id"`
	}) (*struct{}, error) {
		if err := e.RemoveEvent(input.ID); err != nil {
			return nil, handleError(err)
		}
		return &struct{}{}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "reschedule-event",
		Method:      http.MethodPost,
		Path:        "/events/{id}/reschedule",
		Summary:     "Move event to another date and time",
		Errors:      []int{http.StatusBadRequest, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ID   string            `path:"id"`
		Body RescheduleRequest `json:"body"`
	}) (*eventOutput, error) {
		date, err := parseDate(input.Body.Date)
		if err != nil {
			return nil, handleError(err)
		}
		out, err := e.RescheduleEvent(input.ID, date, input.Body.Time)
		if err != nil {
			return nil, handleError(err)
		}
		return &eventOutput{Body: eventResponse(out)}, nil
	})
}

func registerTasks(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "complete-task",
		Method:      http.MethodPost,
		Path:        "/events/{id}/tasks/{task_id}/complete",
		Summary:     "Complete task as a role",
		Errors: []int{
			http.StatusBadRequest,
			http.StatusForbidden,
			http.StatusNotFound,
			http.StatusConflict,
		},
	}, func(ctx context.Context, input *struct {
		ID     string              `path:"id"`
		TaskID string              `path:"task_id"`
		Body   CompleteTaskRequest `json:"body"`
	}) (*eventOutput, error) {
		out, err := e.CompleteTask(input.ID, input.TaskID, domain.Role(input.Body.ActingRole))
		if err != nil {
			return nil, handleError(err)
		}
		return &eventOutput{Body: eventResponse(out)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "undo-task",
		Method:      http.MethodPost,
		Path:        "/events/{id}/tasks/{task_id}/undo",
		Summary:     "Undo task completion",
		Errors:      []int{http.StatusNotFound, http.StatusConflict},
	}, func(ctx context.Context, input *struct {
		ID     string `path:"id"`
		TaskID string `path:"task_id"`
	}) (*eventOutput, error) {
		out, err := e.UndoTaskCompletion(input.ID, input.TaskID)
		if err != nil {
			return nil, handleError(err)
		}
		return &eventOutput{Body: eventResponse(out)}, nil
	})
}

func registerScheduling(api huma.API, s *scheduler.Scheduler) {
	huma.Register(api, huma.Operation{
		OperationID: "find-availability",
		Method:      http.MethodGet,
		Path:        "/availability",
		Summary:     "First slot free for both scheduling parties",
		Errors:      []int{http.StatusBadRequest},
	}, func(ctx context.Context, input *struct {
		Date     string `query:"date" required:"true" example:"2025-03-10"`
		Duration int    `query:"duration" default:"60" minimum:"1"`
	}) (*struct {
		Body AvailabilityResponse `json:"body"`
	}, error) {
		date, err := parseDate(input.Date)
		if err != nil {
			return nil, handleError(err)
		}
		resp := AvailabilityResponse{Date: input.Date, Duration: input.Duration}
		if slot, ok := s.FindMutualAvailability(date, input.Duration); ok {
			resp.Available = true
			resp.Time = slot.Time()
			resp.End = slot.End.Format(domain.TimeLayout)
		}
		return &struct {
			Body AvailabilityResponse `json:"body"`
		}{Body: resp}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "schedule-work-order",
		Method:        http.MethodPost,
		Path:          "/work-orders",
		Summary:       "Book a work order into the first mutual slot",
		DefaultStatus: http.StatusCreated,
		Errors:        []int{http.StatusBadRequest, http.StatusConflict},
	}, func(ctx context.Context, input *struct {
		Body WorkOrderRequest `json:"body"`
	}) (*struct {
		Body scheduler.Booking `json:"body"`
	}, error) {
		date, err := parseDate(input.Body.Date)
		if err != nil {
			return nil, handleError(err)
		}
		booking, err := s.ScheduleWorkOrder(input.Body.WorkOrderRequest, date, input.Body.RequestedTime)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body scheduler.Booking `json:"body"`
		}{Body: booking}, nil
	})
}

func registerActivity(api huma.API, j *journal.Journal) {
	huma.Register(api, huma.Operation{
		OperationID: "list-activity",
		Method:      http.MethodGet,
		Path:        "/activity",
		Summary:     "Journaled changes after a cursor",
		Errors:      []int{http.StatusBadRequest},
	}, func(ctx context.Context, input *struct {
		After int64 `query:"after" minimum:"0"`
		Limit int   `query:"limit" default:"50" minimum:"1" maximum:"500"`
	}) (*struct {
		Body ActivityResponse `json:"body"`
	}, error) {
		resp := ActivityResponse{Items: []journal.Entry{}, NextAfter: input.After}
		if j != nil {
			items, err := j.Entries(ctx, input.After, input.Limit)
			if err != nil {
				return nil, handleError(err)
			}
			resp.Items = nonNilSlice(items)
			if n := len(items); n > 0 {
				resp.NextAfter = items[n-1].Seq
			}
		}
		return &struct {
			Body ActivityResponse `json:"body"`
		}{Body: resp}, nil
	})
}

func registerAuthorization(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "authorization-overrides",
		Method:      http.MethodGet,
		Path:        "/authorization/overrides",
		Summary:     "Supervisory role overrides in effect",
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body []auth.Override `json:"body"`
	}, error) {
		return &struct {
			Body []auth.Override `json:"body"`
		}{Body: nonNilSlice(e.Auth.Overrides())}, nil
	})
}
