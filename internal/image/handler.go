package image

import (
	"errors"
	"net/http"
	"strings"

	"github.com/imagevault/service/internal/response"
	"github.com/imagevault/service/internal/storage"
)

// maxMemory is the part of a multipart body kept in memory before spilling to disk.
const maxMemory = 8 << 20

// Handler holds HTTP handlers for image endpoints.
type Handler struct {
	svc      *Service
	maxBytes int64
}

// NewHandler creates a new image Handler. maxBytes caps the request body, 0 disables it.
func NewHandler(svc *Service, maxBytes int64) *Handler {
	return &Handler{svc: svc, maxBytes: maxBytes}
}

// Upload godoc
//
//	@Summary		Upload an image
//	@Description	Stores one image in the media namespace. The optional name (extension included) becomes the object name with its extension stripped; the original filename is used when it is absent.
//	@Tags			images
//	@Accept			mpfd
//	@Produce		json
//	@Param			file	formData	file	true	"Image file (jpg, jpeg, png, gif, webp)"
//	@Param			name	formData	string	false	"Desired file name, e.g. vacation.png"
//	@Success		200		{object}	response.URLBody
//	@Failure		400		{object}	response.ErrorBody
//	@Failure		413		{object}	response.ErrorBody
//	@Failure		415		{object}	response.ErrorBody
//	@Failure		500		{object}	response.ErrorBody
//	@Router			/upload [post]
func (h *Handler) Upload(w http.ResponseWriter, r *http.Request) {
	if h.maxBytes > 0 {
		r.Body = http.MaxBytesReader(w, r.Body, h.maxBytes)
	}

	if err := r.ParseMultipartForm(maxMemory); err != nil {
		if isTooLarge(err) {
			response.RequestTooLarge(w, "File too large")
			return
		}
		response.BadRequest(w, "No file uploaded")
		return
	}

	file, header, err := r.FormFile("file")
	if err != nil {
		response.BadRequest(w, "No file uploaded")
		return
	}
	defer file.Close()

	url, err := h.svc.Upload(r.Context(), UploadRequest{
		Filename:    header.Filename,
		DesiredName: r.FormValue("name"),
		Body:        file,
		Size:        header.Size,
	})
	switch {
	case err == nil:
		response.OK(w, response.URLBody{URL: url})
	case errors.Is(err, ErrNoFile):
		response.BadRequest(w, "No file uploaded")
	case errors.Is(err, storage.ErrUnsupportedFormat):
		response.UnsupportedMediaType(w, "Unsupported image format, allowed: "+strings.Join(h.svc.media.AllowedFormats, ", "))
	case isTooLarge(err):
		response.RequestTooLarge(w, "File too large")
	default:
		response.InternalError(w, "Failed to upload image")
	}
}

// List godoc
//
//	@Summary		List uploaded images
//	@Description	Returns the URLs of up to the configured maximum of images in the media namespace, in store order. An empty namespace yields an empty array.
//	@Tags			images
//	@Produce		json
//	@Success		200	{array}		string
//	@Failure		500	{object}	response.ErrorBody
//	@Router			/images [get]
func (h *Handler) List(w http.ResponseWriter, r *http.Request) {
	urls, err := h.svc.List(r.Context())
	if err != nil {
		response.InternalError(w, "Failed to fetch images")
		return
	}
	response.OK(w, urls)
}

func isTooLarge(err error) bool {
	var maxErr *http.MaxBytesError
	return errors.As(err, &maxErr) || strings.Contains(err.Error(), "request body too large")
}
