package handlers

import (
	"context"
	"errors"
	"fmt"
	"mime"
	"path"
	"strings"
	"time"

	"github.com/danielgtaylor/huma/v2"
	"github.com/serroba/resume-tracker/internal/analytics"
	"github.com/serroba/resume-tracker/internal/artifact"
	"github.com/serroba/resume-tracker/internal/ledger"
	"github.com/serroba/resume-tracker/internal/metrics"
	"go.uber.org/zap"
)

const msgInvalidLink = "invalid or expired link"

// Ledger is the subset of the tracking ledger used by the HTTP surface.
type Ledger interface {
	CreateLink(ctx context.Context, artifactRef, displayName string) (ledger.LinkID, error)
	RecordView(ctx context.Context, id ledger.LinkID, viewer ledger.Viewer) (*ledger.ViewEvent, error)
	GetLink(id ledger.LinkID) (ledger.TrackedLink, error)
	ListLinks() []ledger.TrackedLink
	DeleteLink(ctx context.Context, id ledger.LinkID) error
	RequestDeleteAll() ledger.WipeConfirmation
	DeleteAll(ctx context.Context, token string) (int, error)
}

// LinkHandler serves uploads, link opens and the dashboard.
type LinkHandler struct {
	ledger         Ledger
	artifacts      artifact.Store
	baseURL        string
	maxUploadBytes int64
	publish        analytics.Publishers
	metrics        *metrics.Collector
	logger         *zap.Logger
}

// NewLinkHandler creates a new link handler. Uploads larger than
// maxUploadBytes are refused.
func NewLinkHandler(
	l Ledger,
	artifacts artifact.Store,
	baseURL string,
	maxUploadBytes int64,
	publish analytics.Publishers,
	collector *metrics.Collector,
	logger *zap.Logger,
) *LinkHandler {
	return &LinkHandler{
		ledger:         l,
		artifacts:      artifacts,
		baseURL:        strings.TrimRight(baseURL, "/"),
		maxUploadBytes: maxUploadBytes,
		publish:        publish,
		metrics:        collector,
		logger:         logger,
	}
}

func (h *LinkHandler) shareURL(id ledger.LinkID) string {
	return fmt.Sprintf("%s/r/%s", h.baseURL, id)
}

func (h *LinkHandler) CreateLink(ctx context.Context, req *CreateLinkRequest) (*CreateLinkResponse, error) {
	form := req.RawBody.Data()
	if form == nil || !form.File.IsSet {
		return nil, huma.Error422UnprocessableEntity("file is required")
	}

	defer form.File.Close()

	if form.File.Size > h.maxUploadBytes {
		return nil, errUploadTooLarge(h.maxUploadBytes)
	}

	filename := path.Base(strings.ReplaceAll(form.File.Filename, "\\", "/"))
	if filename == "." || filename == "/" {
		filename = ""
	}

	displayName := strings.TrimSpace(req.DisplayName)
	if displayName == "" {
		displayName = filename
	}

	ref, err := h.artifacts.Save(ctx, form.File, filename)
	if err != nil {
		h.metrics.ArtifactErrors.WithLabelValues("save").Inc()
		h.logger.Error("failed to store artifact", zap.String("filename", filename), zap.Error(err))

		return nil, huma.Error500InternalServerError("failed to store artifact")
	}

	id, err := h.ledger.CreateLink(ctx, ref, displayName)
	if err != nil {
		h.discardArtifact(ctx, ref)

		return nil, h.ledgerError("create_link", err)
	}

	link, err := h.ledger.GetLink(id)
	if err != nil {
		return nil, h.ledgerError("create_link", err)
	}

	h.metrics.LinksCreated.Inc()

	meta := RequestMetaFromContext(ctx)
	event := &analytics.LinkCreatedEvent{
		LinkID:      string(id),
		ArtifactRef: ref,
		DisplayName: link.DisplayName,
		CreatedAt:   link.CreatedAt,
		ClientIP:    meta.ClientIP,
		UserAgent:   meta.UserAgent,
	}

	if err := h.publish.LinkCreated(ctx, event); err != nil {
		h.logger.Error("failed to publish analytics event",
			zap.String("link_id", event.LinkID),
			zap.Error(err),
		)
	}

	resp := &CreateLinkResponse{}
	resp.Headers.Location = fmt.Sprintf("%s/links/%s", h.baseURL, id)
	resp.Body.ID = string(id)
	resp.Body.ShareURL = h.shareURL(id)
	resp.Body.ArtifactRef = ref
	resp.Body.DisplayName = link.DisplayName
	resp.Body.CreatedAt = link.CreatedAt

	return resp, nil
}

// discardArtifact removes an artifact whose link was never created.
func (h *LinkHandler) discardArtifact(ctx context.Context, ref string) {
	if err := h.artifacts.Delete(ctx, ref); err != nil && !errors.Is(err, artifact.ErrNotFound) {
		h.metrics.ArtifactErrors.WithLabelValues("delete").Inc()
		h.logger.Warn("failed to remove orphaned artifact", zap.String("artifact_ref", ref), zap.Error(err))
	}
}

// OpenLink records a view and then serves the artifact.
func (h *LinkHandler) OpenLink(ctx context.Context, req *LinkIDRequest) (*OpenLinkResponse, error) {
	id := ledger.LinkID(req.ID)
	meta := RequestMetaFromContext(ctx)

	event, err := h.ledger.RecordView(ctx, id, meta.Viewer())
	if err != nil {
		return nil, h.ledgerError("record_view", err)
	}

	h.metrics.ViewsRecorded.Inc()

	link, err := h.ledger.GetLink(id)
	if err != nil {
		return nil, h.ledgerError("record_view", err)
	}

	viewed := &analytics.LinkViewedEvent{
		LinkID:        string(id),
		ViewedAt:      event.Timestamp,
		ViewerAddress: event.ViewerAddress,
		Referrer:      event.Referrer,
		UserAgent:     event.UserAgent,
		ViewCount:     link.ViewCount,
	}

	if err := h.publish.LinkViewed(ctx, viewed); err != nil {
		h.logger.Error("failed to publish view event",
			zap.String("link_id", viewed.LinkID),
			zap.Error(err),
		)
	}

	data, err := h.artifacts.Retrieve(ctx, link.ArtifactRef)
	if err != nil {
		if errors.Is(err, artifact.ErrNotFound) {
			h.logger.Warn("artifact missing for link",
				zap.String("link_id", string(id)),
				zap.String("artifact_ref", link.ArtifactRef),
			)

			return nil, huma.Error404NotFound(msgInvalidLink)
		}

		h.metrics.ArtifactErrors.WithLabelValues("retrieve").Inc()
		h.logger.Error("failed to retrieve artifact",
			zap.String("link_id", string(id)),
			zap.String("artifact_ref", link.ArtifactRef),
			zap.Error(err),
		)

		return nil, huma.Error500InternalServerError("failed to retrieve artifact")
	}

	return &OpenLinkResponse{
		ContentType:        artifact.ContentType(link.ArtifactRef),
		ContentDisposition: contentDisposition(link.DisplayName, link.ArtifactRef),
		CacheControl:       "no-store",
		Body:               data,
	}, nil
}

// contentDisposition names the download after the display name, keeping the artifact's extension.
func contentDisposition(displayName, ref string) string {
	ext := path.Ext(ref)

	name := displayName
	if !strings.EqualFold(path.Ext(name), ext) {
		name += ext
	}

	return mime.FormatMediaType("inline", map[string]string{"filename": name})
}

func (h *LinkHandler) ListLinks(_ context.Context, _ *struct{}) (*ListLinksResponse, error) {
	links := h.ledger.ListLinks()

	resp := &ListLinksResponse{}
	resp.Body.Links = make([]LinkSummary, 0, len(links))

	for _, link := range links {
		resp.Body.Links = append(resp.Body.Links, h.summary(link))
	}

	resp.Body.Total = len(links)

	return resp, nil
}

func (h *LinkHandler) summary(link ledger.TrackedLink) LinkSummary {
	return LinkSummary{
		ID:           string(link.ID),
		DisplayName:  link.DisplayName,
		ShareURL:     h.shareURL(link.ID),
		CreatedAt:    link.CreatedAt,
		ViewCount:    link.ViewCount,
		LastViewedAt: link.LastViewedAt,
	}
}

func (h *LinkHandler) GetLink(_ context.Context, req *LinkIDRequest) (*GetLinkResponse, error) {
	link, err := h.ledger.GetLink(ledger.LinkID(req.ID))
	if err != nil {
		return nil, h.ledgerError("get_link", err)
	}

	return &GetLinkResponse{Body: LinkDetail{
		LinkSummary: h.summary(link),
		ArtifactRef: link.ArtifactRef,
		Events:      link.Events,
	}}, nil
}

func (h *LinkHandler) ListEvents(_ context.Context, req *LinkIDRequest) (*ListEventsResponse, error) {
	link, err := h.ledger.GetLink(ledger.LinkID(req.ID))
	if err != nil {
		return nil, h.ledgerError("list_events", err)
	}

	resp := &ListEventsResponse{}
	resp.Body.LinkID = string(link.ID)
	resp.Body.Events = link.Events

	return resp, nil
}

// DeleteLink removes a link. The artifact is only removed when explicitly requested,
// and only after the link itself is gone.
func (h *LinkHandler) DeleteLink(ctx context.Context, req *DeleteLinkRequest) (*DeleteLinkResponse, error) {
	id := ledger.LinkID(req.ID)

	link, err := h.ledger.GetLink(id)
	if err != nil {
		return nil, h.ledgerError("delete_link", err)
	}

	if err := h.ledger.DeleteLink(ctx, id); err != nil {
		return nil, h.ledgerError("delete_link", err)
	}

	h.metrics.LinksDeleted.Inc()

	artifactDeleted := false

	if req.DeleteArtifact {
		err := h.artifacts.Delete(ctx, link.ArtifactRef)

		switch {
		case err == nil, errors.Is(err, artifact.ErrNotFound):
			artifactDeleted = err == nil
		default:
			h.metrics.ArtifactErrors.WithLabelValues("delete").Inc()
			h.logger.Error("failed to delete artifact",
				zap.String("link_id", string(id)),
				zap.String("artifact_ref", link.ArtifactRef),
				zap.Error(err),
			)
		}
	}

	event := &analytics.LinkDeletedEvent{
		LinkID:          string(id),
		ArtifactRef:     link.ArtifactRef,
		ArtifactDeleted: artifactDeleted,
		ViewCount:       link.ViewCount,
		DeletedAt:       time.Now().UTC(),
	}

	if err := h.publish.LinkDeleted(ctx, event); err != nil {
		h.logger.Error("failed to publish delete event",
			zap.String("link_id", event.LinkID),
			zap.Error(err),
		)
	}

	resp := &DeleteLinkResponse{}
	resp.Body.ID = string(id)
	resp.Body.ArtifactDeleted = artifactDeleted

	return resp, nil
}

// RequestWipe issues the confirmation token for a delete-all.
func (h *LinkHandler) RequestWipe(_ context.Context, _ *struct{}) (*WipeRequestResponse, error) {
	confirmation := h.ledger.RequestDeleteAll()

	resp := &WipeRequestResponse{}
	resp.Body.Token = confirmation.Token
	resp.Body.ExpiresAt = confirmation.ExpiresAt
	resp.Body.Links = len(h.ledger.ListLinks())

	return resp, nil
}

// Wipe deletes every link once the confirmation token matches.
// Artifacts are left in place.
func (h *LinkHandler) Wipe(ctx context.Context, req *WipeRequest) (*WipeResponse, error) {
	deleted, err := h.ledger.DeleteAll(ctx, req.Confirm)
	if err != nil {
		return nil, h.ledgerError("delete_all", err)
	}

	h.metrics.LedgerWipes.Inc()

	event := &analytics.LedgerWipedEvent{
		Deleted:  deleted,
		WipedAt:  time.Now().UTC(),
		ClientIP: RequestMetaFromContext(ctx).ClientIP,
	}

	if err := h.publish.LedgerWiped(ctx, event); err != nil {
		h.logger.Error("failed to publish wipe event", zap.Error(err))
	}

	resp := &WipeResponse{}
	resp.Body.Deleted = deleted

	return resp, nil
}

// ledgerError maps ledger errors onto HTTP errors.
func (h *LinkHandler) ledgerError(op string, err error) error {
	switch {
	case errors.Is(err, ledger.ErrNotFound):
		return huma.Error404NotFound(msgInvalidLink)
	case errors.Is(err, ledger.ErrInvalidInput):
		return huma.Error422UnprocessableEntity(err.Error())
	case errors.Is(err, ledger.ErrStorage):
		h.metrics.StorageFailures.WithLabelValues(op).Inc()
		h.logger.Error("ledger storage failure", zap.String("operation", op), zap.Error(err))

		return huma.Error500InternalServerError("storage failure, nothing was changed")
	default:
		h.logger.Error("ledger operation failed", zap.String("operation", op), zap.Error(err))

		return huma.Error500InternalServerError("internal server error")
	}
}
