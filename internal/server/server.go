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

	"github.com/danielgtaylor/huma/v2"
	humachi "github.com/danielgtaylor/huma/v2/adapters/humachi"
	"github.com/go-chi/chi/v5"

	"nextread/internal/domain"
	"nextread/internal/engine"
	"nextread/internal/picker"
	"nextread/internal/repo"
	"nextread/internal/state"
)

// Config for the HTTP API handler.
type Config struct {
	Engine   engine.Engine
	BasePath string
	Auth     AuthConfig
}

type apiErrorBody struct {
	Code    string         `json:"code" example:"no_pending_decision"`
	Message string         `json:"message" example:"no decision pending for this series"`
	Details map[string]any `json:"details,omitempty" jsonschema:"type=object,additionalProperties=true"`
}

// apiError models the error envelope returned by every endpoint.
type apiError struct {
	status int
	Body   apiErrorBody `json:"error"`
}

func (e *apiError) GetStatus() int { return e.status }
func (e *apiError) Error() string  { return e.Body.Message }

// New returns an HTTP handler exposing the Nextread API and starts the
// webhook dispatcher when webhooks are configured.
func New(cfg Config) (http.Handler, error) {
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
		if status == http.StatusUnprocessableEntity && strings.Contains(strings.ToLower(msg), "validation") {
			// Schema/request validation errors surface as 400 bad_request.
			status = http.StatusBadRequest
		}
		var details map[string]any
		if len(errs) > 0 {
			details = map[string]any{"errors": errs}
		}
		return newAPIError(status, "", msg, details)
	}

	router := chi.NewRouter()
	router.Use(newAuthMiddleware(basePath, cfg.Auth, cfg.Engine.Repo))
	if cfg.Engine.Config != nil {
		router.Use(newRateLimitMiddleware(basePath, newRateLimiter(cfg.Engine.Config.RateLimit, cfg.Engine.Now)))
	}
	hcfg := huma.DefaultConfig("Nextread API", "0.1.0")
	hcfg.OpenAPIPath = "/openapi"
	hcfg.DocsPath = "" // custom Swagger UI below
	api := humachi.New(router, hcfg)
	group := huma.NewGroup(api, basePath)

	registerDocs(router, basePath)
	registerHealth(group)
	registerLogin(group, cfg.Engine, cfg.Auth)
	registerState(group, cfg.Engine)
	registerPicker(group, cfg.Engine)
	registerBooks(group, cfg.Engine)
	registerSeries(group, cfg.Engine)
	registerRemarks(group, cfg.Engine)
	registerSuggestions(group, cfg.Engine)
	registerProgress(group, cfg.Engine)
	registerMembers(group, cfg.Engine)
	registerEvents(group, cfg.Engine)
	registerOpenAPI(router, api, basePath)

	startWebhookDispatcher(cfg.Engine)
	return router, nil
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
	switch {
	case errors.Is(err, engine.ErrUnknownBook),
		errors.Is(err, engine.ErrUnknownSeries),
		errors.Is(err, repo.ErrNotFound),
		errors.Is(err, state.ErrNotFound):
		return newAPIError(http.StatusNotFound, "not_found", err.Error(), nil)
	case errors.Is(err, engine.ErrAlreadyCompleted):
		return newAPIError(http.StatusConflict, "already_completed", err.Error(), nil)
	case errors.Is(err, engine.ErrDuplicateSuggestion):
		return newAPIError(http.StatusConflict, "duplicate_suggestion", err.Error(), nil)
	case errors.Is(err, state.ErrVersionConflict):
		return newAPIError(http.StatusConflict, "version_conflict", err.Error(), nil)
	case errors.Is(err, engine.ErrNoPendingDecision):
		return newAPIError(http.StatusUnprocessableEntity, "no_pending_decision", err.Error(), nil)
	case errors.Is(err, engine.ErrInvalidTransition):
		return newAPIError(http.StatusUnprocessableEntity, "invalid_transition", err.Error(), nil)
	case errors.Is(err, engine.ErrInvalidDecision):
		return newAPIError(http.StatusBadRequest, "bad_request", err.Error(), nil)
	case errors.Is(err, engine.ErrNotOwner):
		return newAPIError(http.StatusForbidden, "forbidden", err.Error(), nil)
	case errors.Is(err, engine.ErrInvalidPasscode):
		return newAPIError(http.StatusUnauthorized, "invalid_credentials", err.Error(), nil)
	}
	msg := err.Error()
	lowered := strings.ToLower(msg)
	if strings.Contains(lowered, "invalid") || strings.Contains(lowered, "required") ||
		strings.Contains(lowered, "must be") || strings.Contains(lowered, "out of range") {
		return newAPIError(http.StatusBadRequest, "bad_request", msg, nil)
	}
	return newAPIError(http.StatusInternalServerError, "internal_error", "internal error", map[string]any{"error": msg})
}

func defaultCodeForStatus(status int) string {
	switch status {
	case http.StatusBadRequest:
		return "bad_request"
	case http.StatusNotFound:
		return "not_found"
	case http.StatusConflict:
		return "conflict"
	case http.StatusUnprocessableEntity:
		return "validation_failed"
	case http.StatusForbidden:
		return "forbidden"
	case http.StatusTooManyRequests:
		return "rate_limited"
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
	var spec []byte
	specPath := path.Join(basePath, "openapi.json")
	r.Get(specPath, func(w http.ResponseWriter, r *http.Request) {
		if spec == nil {
			oas := api.OpenAPI()
			applyAuthSecurity(oas, basePath)
			spec, _ = json.Marshal(oas)
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write(spec)
	})
}

func applyAuthSecurity(oas *huma.OpenAPI, basePath string) {
	if oas == nil {
		return
	}
	if oas.Components == nil {
		oas.Components = &huma.Components{}
	}
	if oas.Components.SecuritySchemes == nil {
		oas.Components.SecuritySchemes = map[string]*huma.SecurityScheme{}
	}
	oas.Components.SecuritySchemes["bearerAuth"] = &huma.SecurityScheme{
		Type:         "http",
		Scheme:       "bearer",
		BearerFormat: "JWT",
	}
	oas.Components.SecuritySchemes["apiKeyAuth"] = &huma.SecurityScheme{
		Type: "apiKey",
		In:   "header",
		Name: "X-Api-Key",
	}
	security := []map[string][]string{
		{"bearerAuth": {}},
		{"apiKeyAuth": {}},
	}
	oas.Security = security
	open := map[string]bool{
		path.Join("/", basePath, "health"): true,
		path.Join("/", basePath, "login"):  true,
	}
	for route, item := range oas.Paths {
		for _, op := range []*huma.Operation{
			item.Get, item.Put, item.Post, item.Delete, item.Options, item.Head, item.Patch, item.Trace,
		} {
			if op == nil {
				continue
			}
			if open[route] {
				op.Security = []map[string][]string{}
				continue
			}
			op.Security = security
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
    <title>Nextread API Docs</title>
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
    <p style="padding: 1rem; font-family: sans-serif; color: #444;">
      Authenticate with Authorization: Bearer &lt;token&gt; or X-Api-Key.
    </p>
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

type loginRequest struct {
	DisplayName string `json:"display_name" example:"Casey"`
	Passcode    string `json:"passcode"`
}

type loginResponse struct {
	Token  string        `json:"token"`
	Member domain.Member `json:"member"`
}

func registerLogin(api huma.API, e engine.Engine, auth AuthConfig) {
	huma.Register(api, huma.Operation{
		OperationID: "login",
		Method:      http.MethodPost,
		Path:        "/login",
		Summary:     "Log in with the shared club passcode",
		Errors:      []int{http.StatusUnauthorized, http.StatusBadRequest},
	}, func(ctx context.Context, input *struct {
		Body loginRequest `json:"body"`
	}) (*struct {
		Body loginResponse `json:"body"`
	}, error) {
		member, err := e.Authenticate(ctx, input.Body.DisplayName, input.Body.Passcode)
		if err != nil {
			return nil, handleError(err)
		}
		ttl := 30
		if e.Config != nil {
			ttl = e.Config.TokenTTLDaysOrDefault()
		}
		token, err := issueToken(member.ID, auth.JWTSecret, ttl, e.Now())
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body loginResponse `json:"body"`
		}{Body: loginResponse{Token: token, Member: member}}, nil
	})
}

type stateResponse struct {
	State domain.AppState `json:"state"`
	Mode  domain.ModeInfo `json:"mode"`
}

func registerState(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "get-state",
		Method:      http.MethodGet,
		Path:        "/state",
		Summary:     "Shared club state",
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body stateResponse `json:"body"`
	}, error) {
		st, mode, err := e.State(ctx)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body stateResponse `json:"body"`
		}{Body: stateResponse{State: st, Mode: mode}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-mode",
		Method:      http.MethodGet,
		Path:        "/mode",
		Summary:     "Current app mode",
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body domain.ModeInfo `json:"body"`
	}, error) {
		_, mode, err := e.State(ctx)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.ModeInfo `json:"body"`
		}{Body: mode}, nil
	})
}

func registerPicker(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "draw",
		Method:      http.MethodPost,
		Path:        "/draw",
		Summary:     "Pick the next book",
		Errors:      []int{http.StatusConflict, http.StatusUnprocessableEntity},
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body domain.PickResult `json:"body"`
	}, error) {
		memberID, authErr := memberIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		result, err := e.Draw(ctx, memberID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.PickResult `json:"body"`
		}{Body: result}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "complete-book",
		Method:      http.MethodPost,
		Path:        "/books/{book_id}/complete",
		Summary:     "Mark a book completed",
		Errors:      []int{http.StatusNotFound, http.StatusConflict},
	}, func(ctx context.Context, input *struct {
		BookID string `path:"book_id"`
	}) (*struct {
		Body domain.AppState `json:"body"`
	}, error) {
		memberID, authErr := memberIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		st, err := e.Complete(ctx, input.BookID, memberID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.AppState `json:"body"`
		}{Body: st}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "decide-series",
		Method:      http.MethodPost,
		Path:        "/series/{series_name}/decision",
		Summary:     "Resolve a pending series decision",
		Errors:      []int{http.StatusBadRequest, http.StatusNotFound, http.StatusUnprocessableEntity},
	}, func(ctx context.Context, input *struct {
		SeriesName string `path:"series_name"`
		Body       struct {
			Decision string `json:"decision" enum:"continue,pause,drop"`
		} `json:"body"`
	}) (*struct {
		Body domain.AppState `json:"body"`
	}, error) {
		memberID, authErr := memberIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		st, err := e.Decide(ctx, input.SeriesName, input.Body.Decision, memberID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.AppState `json:"body"`
		}{Body: st}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "pause-series",
		Method:      http.MethodPost,
		Path:        "/series/{series_name}/pause",
		Summary:     "Pause an active series",
		Errors:      []int{http.StatusNotFound, http.StatusUnprocessableEntity},
	}, func(ctx context.Context, input *struct {
		SeriesName string `path:"series_name"`
	}) (*struct {
		Body domain.AppState `json:"body"`
	}, error) {
		memberID, authErr := memberIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		st, err := e.Pause(ctx, input.SeriesName, memberID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.AppState `json:"body"`
		}{Body: st}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "resume-series",
		Method:      http.MethodPost,
		Path:        "/series/{series_name}/resume",
		Summary:     "Resume a paused series",
		Errors:      []int{http.StatusNotFound, http.StatusUnprocessableEntity},
	}, func(ctx context.Context, input *struct {
		SeriesName string `path:"series_name"`
	}) (*struct {
		Body domain.AppState `json:"body"`
	}, error) {
		memberID, authErr := memberIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		st, err := e.Resume(ctx, input.SeriesName, memberID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.AppState `json:"body"`
		}{Body: st}, nil
	})
}

type bookResponse struct {
	domain.Book
	Completed   bool               `json:"completed"`
	Eligibility domain.Eligibility `json:"eligibility"`
}

func registerBooks(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "list-books",
		Method:      http.MethodGet,
		Path:        "/books",
		Summary:     "List the catalog with per-book eligibility",
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body []bookResponse `json:"body"`
	}, error) {
		snap, err := e.EnsureState(ctx)
		if err != nil {
			return nil, handleError(err)
		}
		completed := map[string]bool{}
		for _, id := range snap.State.CompletedBookIDs {
			completed[id] = true
		}
		out := make([]bookResponse, 0, len(e.Catalog))
		for _, b := range e.Catalog {
			out = append(out, bookResponse{
				Book:        b,
				Completed:   completed[b.ID],
				Eligibility: picker.BookEligibility(b, snap.State),
			})
		}
		return &struct {
			Body []bookResponse `json:"body"`
		}{Body: out}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-book",
		Method:      http.MethodGet,
		Path:        "/books/{book_id}",
		Summary:     "Book details and eligibility",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		BookID string `path:"book_id"`
	}) (*struct {
		Body bookResponse `json:"body"`
	}, error) {
		book, el, err := e.Eligibility(ctx, input.BookID)
		if err != nil {
			return nil, handleError(err)
		}
		snap, err := e.EnsureState(ctx)
		if err != nil {
			return nil, handleError(err)
		}
		completed := false
		for _, id := range snap.State.CompletedBookIDs {
			if id == input.BookID {
				completed = true
			}
		}
		return &struct {
			Body bookResponse `json:"body"`
		}{Body: bookResponse{Book: book, Completed: completed, Eligibility: el}}, nil
	})
}

type seriesResponse struct {
	Name     string                `json:"name"`
	Progress domain.SeriesProgress `json:"progress"`
}

func registerSeries(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "list-series",
		Method:      http.MethodGet,
		Path:        "/series",
		Summary:     "List series with progress",
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body []seriesResponse `json:"body"`
	}, error) {
		snap, err := e.EnsureState(ctx)
		if err != nil {
			return nil, handleError(err)
		}
		names := map[string]bool{}
		out := []seriesResponse{}
		for _, b := range e.Catalog {
			if b.Series == nil || names[b.Series.Name] {
				continue
			}
			names[b.Series.Name] = true
			out = append(out, seriesResponse{
				Name:     b.Series.Name,
				Progress: picker.SeriesProgress(e.Catalog, snap.State, b.Series.Name),
			})
		}
		return &struct {
			Body []seriesResponse `json:"body"`
		}{Body: out}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-series-progress",
		Method:      http.MethodGet,
		Path:        "/series/{series_name}/progress",
		Summary:     "Series progress",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		SeriesName string `path:"series_name"`
	}) (*struct {
		Body domain.SeriesProgress `json:"body"`
	}, error) {
		progress, err := e.SeriesProgress(ctx, input.SeriesName)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.SeriesProgress `json:"body"`
		}{Body: progress}, nil
	})
}

func registerRemarks(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID:   "add-remark",
		Method:        http.MethodPost,
		Path:          "/books/{book_id}/remarks",
		Summary:       "Add a remark on a book",
		DefaultStatus: http.StatusCreated,
		Errors:        []int{http.StatusBadRequest, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		BookID string `path:"book_id"`
		Body   struct {
			Note   string `json:"note"`
			Rating *int   `json:"rating,omitempty" minimum:"1" maximum:"5"`
		} `json:"body"`
	}) (*struct {
		Body domain.Remark `json:"body"`
	}, error) {
		memberID, authErr := memberIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		rm, err := e.AddRemark(ctx, memberID, input.BookID, input.Body.Note, input.Body.Rating)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Remark `json:"body"`
		}{Body: rm}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-remarks",
		Method:      http.MethodGet,
		Path:        "/books/{book_id}/remarks",
		Summary:     "List remarks for a book",
	}, func(ctx context.Context, input *struct {
		BookID string `path:"book_id"`
	}) (*struct {
		Body []domain.Remark `json:"body"`
	}, error) {
		remarks, err := e.Repo.ListRemarks(ctx, input.BookID)
		if err != nil {
			return nil, handleError(err)
		}
		if remarks == nil {
			remarks = []domain.Remark{}
		}
		return &struct {
			Body []domain.Remark `json:"body"`
		}{Body: remarks}, nil
	})
}

func registerSuggestions(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "list-suggestions",
		Method:      http.MethodGet,
		Path:        "/suggestions",
		Summary:     "List suggestions",
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body []domain.Suggestion `json:"body"`
	}, error) {
		suggestions, err := e.Repo.ListSuggestions(ctx)
		if err != nil {
			return nil, handleError(err)
		}
		if suggestions == nil {
			suggestions = []domain.Suggestion{}
		}
		return &struct {
			Body []domain.Suggestion `json:"body"`
		}{Body: suggestions}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "add-suggestion",
		Method:        http.MethodPost,
		Path:          "/suggestions",
		Summary:       "Suggest a book for the catalog",
		DefaultStatus: http.StatusCreated,
		Errors:        []int{http.StatusBadRequest, http.StatusConflict},
	}, func(ctx context.Context, input *struct {
		Body struct {
			Title    string   `json:"title"`
			Author   string   `json:"author,omitempty"`
			CoverURL string   `json:"cover_url,omitempty"`
			Genres   []string `json:"genres,omitempty"`
		} `json:"body"`
	}) (*struct {
		Body domain.Suggestion `json:"body"`
	}, error) {
		memberID, authErr := memberIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		s, err := e.AddSuggestion(ctx, memberID, input.Body.Title, input.Body.Author, input.Body.CoverURL, input.Body.Genres)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Suggestion `json:"body"`
		}{Body: s}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "vote-suggestion",
		Method:      http.MethodPost,
		Path:        "/suggestions/{suggestion_id}/vote",
		Summary:     "Toggle a vote on a suggestion",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		SuggestionID string `path:"suggestion_id"`
	}) (*struct {
		Body struct {
			Voted bool `json:"voted"`
		} `json:"body"`
	}, error) {
		memberID, authErr := memberIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		voted, err := e.VoteSuggestion(ctx, memberID, input.SuggestionID)
		if err != nil {
			return nil, handleError(err)
		}
		out := &struct {
			Body struct {
				Voted bool `json:"voted"`
			} `json:"body"`
		}{}
		out.Body.Voted = voted
		return out, nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "delete-suggestion",
		Method:        http.MethodDelete,
		Path:          "/suggestions/{suggestion_id}",
		Summary:       "Delete a suggestion",
		DefaultStatus: http.StatusNoContent,
		Errors:        []int{http.StatusForbidden, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		SuggestionID string `path:"suggestion_id"`
	}) (*struct{}, error) {
		memberID, authErr := memberIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		if err := e.DeleteSuggestion(ctx, memberID, input.SuggestionID); err != nil {
			return nil, handleError(err)
		}
		return &struct{}{}, nil
	})
}

func registerProgress(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "set-progress",
		Method:      http.MethodPut,
		Path:        "/books/{book_id}/progress",
		Summary:     "Record the caller's reading position",
		Errors:      []int{http.StatusBadRequest, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		BookID string `path:"book_id"`
		Body   struct {
			CurrentChapter int `json:"current_chapter" minimum:"0"`
			TotalChapters  int `json:"total_chapters" minimum:"1"`
		} `json:"body"`
	}) (*struct {
		Body domain.ReadingProgress `json:"body"`
	}, error) {
		memberID, authErr := memberIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		p, err := e.SetProgress(ctx, memberID, input.BookID, input.Body.CurrentChapter, input.Body.TotalChapters)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.ReadingProgress `json:"body"`
		}{Body: p}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-progress",
		Method:      http.MethodGet,
		Path:        "/books/{book_id}/progress",
		Summary:     "List member positions in a book",
	}, func(ctx context.Context, input *struct {
		BookID string `path:"book_id"`
	}) (*struct {
		Body []domain.ReadingProgress `json:"body"`
	}, error) {
		progress, err := e.Repo.ListProgress(ctx, input.BookID)
		if err != nil {
			return nil, handleError(err)
		}
		if progress == nil {
			progress = []domain.ReadingProgress{}
		}
		return &struct {
			Body []domain.ReadingProgress `json:"body"`
		}{Body: progress}, nil
	})
}

func registerMembers(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "list-members",
		Method:      http.MethodGet,
		Path:        "/members",
		Summary:     "List club members",
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body []domain.Member `json:"body"`
	}, error) {
		members, err := e.Repo.ListMembers(ctx)
		if err != nil {
			return nil, handleError(err)
		}
		if members == nil {
			members = []domain.Member{}
		}
		return &struct {
			Body []domain.Member `json:"body"`
		}{Body: members}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "me",
		Method:      http.MethodGet,
		Path:        "/me",
		Summary:     "Current member profile",
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body domain.Member `json:"body"`
	}, error) {
		memberID, authErr := memberIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		m, err := e.Repo.GetMember(ctx, memberID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Member `json:"body"`
		}{Body: m}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "set-reading-goal",
		Method:      http.MethodPatch,
		Path:        "/me/goal",
		Summary:     "Set the caller's yearly reading goal",
		Errors:      []int{http.StatusBadRequest},
	}, func(ctx context.Context, input *struct {
		Body struct {
			Goal int `json:"goal" minimum:"1"`
		} `json:"body"`
	}) (*struct {
		Body domain.Member `json:"body"`
	}, error) {
		memberID, authErr := memberIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		m, err := e.SetReadingGoal(ctx, memberID, input.Body.Goal)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Member `json:"body"`
		}{Body: m}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "create-api-key",
		Method:        http.MethodPost,
		Path:          "/me/api-keys",
		Summary:       "Mint an API key; the plaintext is returned once",
		DefaultStatus: http.StatusCreated,
	}, func(ctx context.Context, input *struct {
		Body struct {
			Name string `json:"name,omitempty"`
		} `json:"body"`
	}) (*struct {
		Body struct {
			ID        string `json:"id"`
			Name      string `json:"name,omitempty"`
			Key       string `json:"key"`
			CreatedAt string `json:"created_at"`
		} `json:"body"`
	}, error) {
		memberID, authErr := memberIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		key, plaintext, err := e.CreateAPIKey(ctx, memberID, input.Body.Name)
		if err != nil {
			return nil, handleError(err)
		}
		out := &struct {
			Body struct {
				ID        string `json:"id"`
				Name      string `json:"name,omitempty"`
				Key       string `json:"key"`
				CreatedAt string `json:"created_at"`
			} `json:"body"`
		}{}
		out.Body.ID = key.ID
		out.Body.Name = key.Name
		out.Body.Key = plaintext
		out.Body.CreatedAt = key.CreatedAt
		return out, nil
	})
}

func registerEvents(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "list-events",
		Method:      http.MethodGet,
		Path:        "/events",
		Summary:     "Recent audit events, newest first",
	}, func(ctx context.Context, input *struct {
		Limit int `query:"limit" minimum:"1" maximum:"500"`
	}) (*struct {
		Body []domain.Event `json:"body"`
	}, error) {
		evts, err := e.Repo.ListEvents(ctx, input.Limit)
		if err != nil {
			return nil, handleError(err)
		}
		if evts == nil {
			evts = []domain.Event{}
		}
		return &struct {
			Body []domain.Event `json:"body"`
		}{Body: evts}, nil
	})
}
