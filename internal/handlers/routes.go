package handlers

import (
	"net/http"

	"github.com/danielgtaylor/huma/v2"
	"github.com/serroba/resume-tracker/internal/ratelimit"
)

// RegisterRoutes registers all link routes with per-endpoint rate limit configuration.
func RegisterRoutes(api huma.API, h *LinkHandler) {
	// POST /links - Upload an artifact and create its link
	huma.Register(api, huma.Operation{
		OperationID:   "create-link",
		Method:        http.MethodPost,
		Path:          "/links",
		Summary:       "Upload an artifact and create a tracked link",
		Tags:          []string{"Links"},
		DefaultStatus: http.StatusCreated,
		Middlewares:   huma.Middlewares{limitUploadBody(api, h.maxUploadBytes)},
		Metadata: map[string]any{
			ratelimit.MetadataKey: ratelimit.Rule{
				Limits: []ratelimit.Limit{ratelimit.PerMinute(10), ratelimit.PerHour(100)},
			},
		},
	}, h.CreateLink)

	// GET /r/{id} - Record a view and serve the artifact
	huma.Register(api, huma.Operation{
		OperationID: "open-link",
		Method:      http.MethodGet,
		Path:        "/r/{id}",
		Summary:     "Open a tracked link",
		Description: "Records a view event and returns the artifact bytes.",
		Tags:        []string{"Links"},
		Responses: map[string]*huma.Response{
			"200": {
				Description: "The artifact",
				Content:     map[string]*huma.MediaType{"application/octet-stream": {}},
			},
		},
		Metadata: map[string]any{
			ratelimit.MetadataKey: ratelimit.Rule{Limits: []ratelimit.Limit{ratelimit.PerMinute(120)}},
		},
	}, h.OpenLink)

	huma.Register(api, huma.Operation{
		OperationID: "list-links",
		Method:      http.MethodGet,
		Path:        "/links",
		Summary:     "List tracked links",
		Tags:        []string{"Dashboard"},
	}, h.ListLinks)

	huma.Register(api, huma.Operation{
		OperationID: "get-link",
		Method:      http.MethodGet,
		Path:        "/links/{id}",
		Summary:     "Get a link with its view history",
		Tags:        []string{"Dashboard"},
	}, h.GetLink)

	huma.Register(api, huma.Operation{
		OperationID: "list-link-events",
		Method:      http.MethodGet,
		Path:        "/links/{id}/events",
		Summary:     "List the view events of a link",
		Tags:        []string{"Dashboard"},
	}, h.ListEvents)

	huma.Register(api, huma.Operation{
		OperationID: "delete-link",
		Method:      http.MethodDelete,
		Path:        "/links/{id}",
		Summary:     "Delete a link",
		Description: "Deletes the link and its events. The artifact is kept unless deleteArtifact=true.",
		Tags:        []string{"Links"},
	}, h.DeleteLink)

	// Delete-all is two steps: request a token, then confirm with it.
	huma.Register(api, huma.Operation{
		OperationID: "request-wipe",
		Method:      http.MethodPost,
		Path:        "/links/wipe",
		Summary:     "Request confirmation to delete all links",
		Tags:        []string{"Admin"},
		Metadata: map[string]any{
			ratelimit.MetadataKey: ratelimit.Rule{Scope: ratelimit.ScopeAdmin},
		},
	}, h.RequestWipe)

	huma.Register(api, huma.Operation{
		OperationID: "wipe",
		Method:      http.MethodDelete,
		Path:        "/links",
		Summary:     "Delete all links",
		Tags:        []string{"Admin"},
		Metadata: map[string]any{
			ratelimit.MetadataKey: ratelimit.Rule{Scope: ratelimit.ScopeAdmin},
		},
	}, h.Wipe)
}
