package handlers

import (
	"context"
	"time"

	"github.com/danielgtaylor/huma/v2"
	"github.com/serroba/resume-tracker/internal/ledger"
)

type requestMetaKey struct{}

// RequestMeta holds HTTP request metadata recorded with views and events.
type RequestMeta struct {
	ClientIP  string
	UserAgent string
	Referrer  string
}

// Viewer returns the metadata in the form the ledger records with a view.
func (m RequestMeta) Viewer() ledger.Viewer {
	return ledger.Viewer{Address: m.ClientIP, Referrer: m.Referrer, UserAgent: m.UserAgent}
}

// ContextWithRequestMeta adds request metadata to context.
func ContextWithRequestMeta(ctx context.Context, meta RequestMeta) context.Context {
	return context.WithValue(ctx, requestMetaKey{}, meta)
}

// RequestMetaFromContext extracts request metadata from context.
func RequestMetaFromContext(ctx context.Context) RequestMeta {
	if v, ok := ctx.Value(requestMetaKey{}).(RequestMeta); ok {
		return v
	}

	return RequestMeta{}
}

// UploadForm is the multipart body of an upload.
type UploadForm struct {
	File huma.FormFile `form:"file" required:"true"`
}

// CreateLinkRequest uploads an artifact and creates a tracked link for it.
type CreateLinkRequest struct {
	DisplayName string `doc:"Label shown on the dashboard; defaults to the file name" example:"Acme Corp application" query:"displayName"`
	RawBody     huma.MultipartFormFiles[UploadForm]
}

// CreateLinkResponse is the response for a successfully created link.
type CreateLinkResponse struct {
	Headers struct {
		Location string `doc:"The link resource" header:"Location"`
	}
	Body struct {
		ID          string    `doc:"The link id"                     example:"V1StGXR8_Z5jdHi6B-myT" json:"id"`
		ShareURL    string    `doc:"URL to hand out"                 example:"http://localhost:8888/r/V1StGXR8_Z5jdHi6B-myT" json:"shareUrl"`
		ArtifactRef string    `doc:"Where the artifact was stored"   json:"artifactRef"`
		DisplayName string    `doc:"Label shown on the dashboard"    json:"displayName"`
		CreatedAt   time.Time `doc:"Creation time (UTC)"             json:"createdAt"`
	}
}

// LinkIDRequest addresses a single link.
type LinkIDRequest struct {
	ID string `doc:"The link id" maxLength:"64" minLength:"1" path:"id"`
}

// OpenLinkResponse streams the artifact behind a link.
type OpenLinkResponse struct {
	ContentType        string `header:"Content-Type"`
	ContentDisposition string `header:"Content-Disposition"`
	CacheControl       string `header:"Cache-Control"`
	Body               []byte
}

// LinkSummary is one dashboard row.
type LinkSummary struct {
	ID           string     `json:"id"`
	DisplayName  string     `json:"displayName"`
	ShareURL     string     `json:"shareUrl"`
	CreatedAt    time.Time  `json:"createdAt"`
	ViewCount    int        `json:"viewCount"`
	LastViewedAt *time.Time `json:"lastViewedAt,omitempty"`
}

// ListLinksResponse is the dashboard listing in creation order.
type ListLinksResponse struct {
	Body struct {
		Links []LinkSummary `json:"links"`
		Total int           `json:"total"`
	}
}

// LinkDetail is a link with its complete view history.
type LinkDetail struct {
	LinkSummary

	ArtifactRef string             `json:"artifactRef"`
	Events      []ledger.ViewEvent `json:"events"`
}

// GetLinkResponse returns one link with its events.
type GetLinkResponse struct {
	Body LinkDetail
}

// ListEventsResponse returns the view history of one link, oldest first.
type ListEventsResponse struct {
	Body struct {
		LinkID string             `json:"linkId"`
		Events []ledger.ViewEvent `json:"events"`
	}
}

// DeleteLinkRequest removes a link and, when asked, its artifact.
type DeleteLinkRequest struct {
	ID             string `doc:"The link id"                                   maxLength:"64" minLength:"1" path:"id"`
	DeleteArtifact bool   `doc:"Also remove the stored artifact"               query:"deleteArtifact"`
}

// DeleteLinkResponse reports what was removed.
type DeleteLinkResponse struct {
	Body struct {
		ID              string `json:"id"`
		ArtifactDeleted bool   `json:"artifactDeleted"`
	}
}

// WipeRequestResponse carries the confirmation needed to wipe the ledger.
type WipeRequestResponse struct {
	Body struct {
		Token     string    `doc:"Present as ?confirm= to DELETE /links" json:"token"`
		ExpiresAt time.Time `json:"expiresAt"`
		Links     int       `doc:"Links that would be deleted"           json:"links"`
	}
}

// WipeRequest executes a confirmed delete-all.
type WipeRequest struct {
	Confirm string `doc:"Token from POST /links/wipe" query:"confirm" required:"true"`
}

// WipeResponse reports how many links were deleted.
type WipeResponse struct {
	Body struct {
		Deleted int `json:"deleted"`
	}
}
