package handlers

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/danielgtaylor/huma/v2"
	"github.com/danielgtaylor/huma/v2/adapters/humachi"
)

// multipartOverhead is the room left in an upload body for part headers and
// boundaries on top of the file itself.
const multipartOverhead = 64 << 10

func errUploadTooLarge(limit int64) error {
	return huma.Error413RequestEntityTooLarge(fmt.Sprintf("upload exceeds %d bytes", limit))
}

// limitUploadBody caps the multipart body of an upload and parses it up front,
// so an oversize request is answered with 413 before any part reaches a handler.
// The form parsed here is the one huma hands to the handler.
func limitUploadBody(api huma.API, maxUploadBytes int64) func(ctx huma.Context, next func(huma.Context)) {
	return func(ctx huma.Context, next func(huma.Context)) {
		r, w := humachi.Unwrap(ctx)

		limit := maxUploadBytes + multipartOverhead
		if r.ContentLength > limit {
			_ = huma.WriteErr(api, ctx, http.StatusRequestEntityTooLarge,
				errUploadTooLarge(maxUploadBytes).Error())

			return
		}

		r.Body = http.MaxBytesReader(w, r.Body, limit)

		if err := r.ParseMultipartForm(humachi.MultipartMaxMemory); err != nil {
			var tooLarge *http.MaxBytesError
			if errors.As(err, &tooLarge) {
				_ = huma.WriteErr(api, ctx, http.StatusRequestEntityTooLarge,
					errUploadTooLarge(maxUploadBytes).Error())

				return
			}
		}

		next(ctx)
	}
}
