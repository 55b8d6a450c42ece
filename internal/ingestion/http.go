package ingestion

import (
	"encoding/json"
	"errors"
	"io"
	"mime/multipart"
	"net/http"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/your-org/guestlens/internal/media"
)

// CallerHeader carries the guest identity established by the session layer.
const CallerHeader = "X-Guest-ID"

const maxCaptionBytes = 2000

// HTTPHandler exposes REST endpoints for the ingestion service.
type HTTPHandler struct {
	service        *Service
	logger         *zap.Logger
	maxSizeBytes   int64
	formMemBytes   int64
	requestTimeout time.Duration
	now            func() time.Time
	router         chi.Router
}

type HTTPConfig struct {
	MaxSizeBytes   int64
	FormMemBytes   int64
	RequestTimeout time.Duration
}

// NewHTTPHandler constructs the HTTP handler and wires routes.
func NewHTTPHandler(service *Service, logger *zap.Logger, cfg HTTPConfig) *HTTPHandler {
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = 2 * time.Minute
	}
	h := &HTTPHandler{
		service:        service,
		logger:         logger,
		maxSizeBytes:   cfg.MaxSizeBytes,
		formMemBytes:   cfg.FormMemBytes,
		requestTimeout: cfg.RequestTimeout,
		now:            time.Now,
	}
	h.buildRouter()
	return h
}

func (h *HTTPHandler) buildRouter() {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(h.requestTimeout))

	r.Get("/healthz", h.handleHealth)
	r.Post("/api/v1/events/{eventID}/uploads", h.handleUpload)

	h.router = r
}

// Router exposes the configured chi router.
func (h *HTTPHandler) Router() http.Handler {
	return h.router
}

func (h *HTTPHandler) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"status": "ok",
	})
}

func (h *HTTPHandler) handleUpload(w http.ResponseWriter, r *http.Request) {
	callerID := strings.TrimSpace(r.Header.Get(CallerHeader))
	if callerID == "" {
		h.writeFailure(w, media.Validationf(media.CodeMissingCaller, "%s header is required", CallerHeader), nil)
		return
	}

	if r.ContentLength > h.maxSizeBytes {
		h.writeFailure(w, media.Validationf(media.CodeFileTooLarge, "payload too large"), nil)
		return
	}
	r.Body = http.MaxBytesReader(w, r.Body, h.maxSizeBytes)
	if err := r.ParseMultipartForm(h.formMemBytes); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			h.writeFailure(w, media.Validationf(media.CodeFileTooLarge, "payload too large"), nil)
			return
		}
		h.writeFailure(w, media.Validationf(media.CodeInvalidRequest, "invalid multipart form"), nil)
		return
	}
	defer r.MultipartForm.RemoveAll() //nolint:errcheck

	data, header, err := readPart(r, "file")
	if err != nil || header == nil {
		h.writeFailure(w, media.Validationf(media.CodeInvalidRequest, "file field is required"), nil)
		return
	}
	thumb, _, err := readPart(r, "thumbnail")
	if err != nil {
		h.writeFailure(w, media.Validationf(media.CodeInvalidRequest, "unreadable thumbnail"), nil)
		return
	}

	contentType := media.NormalizeMIME(header.Header.Get("Content-Type"))
	kind, err := resolveKind(r.FormValue("kind"), contentType)
	if err != nil {
		h.writeFailure(w, media.Validationf(media.CodeInvalidRequest, "%v", err), nil)
		return
	}

	declaredSize := header.Size
	if raw := strings.TrimSpace(r.FormValue("size")); raw != "" {
		n, err := strconv.ParseInt(raw, 10, 64)
		if err != nil || n < 0 {
			h.writeFailure(w, media.Validationf(media.CodeInvalidRequest, "size must be a non-negative integer"), nil)
			return
		}
		declaredSize = n
	}

	caption := strings.TrimSpace(r.FormValue("caption"))
	if len(caption) > maxCaptionBytes || !utf8.ValidString(caption) {
		h.writeFailure(w, media.Validationf(media.CodeInvalidRequest, "caption must be valid UTF-8 of at most %d bytes", maxCaptionBytes), nil)
		return
	}

	result, err := h.service.Submit(r.Context(), Upload{
		EventID:      chi.URLParam(r, "eventID"),
		CallerID:     callerID,
		Kind:         kind,
		Caption:      caption,
		Filename:     header.Filename,
		DeclaredMIME: contentType,
		DeclaredSize: declaredSize,
		Media:        data,
		Thumbnail:    thumb,
	})
	if err != nil {
		merr, ok := media.AsError(err)
		if !ok {
			h.logger.Error("upload failed", zap.Error(err), zap.String("request_id", middleware.GetReqID(r.Context())))
			merr = &media.Error{Kind: media.ErrInternal, Code: media.CodeValidatorFailure, Message: "upload failed"}
		} else if merr.Kind == media.ErrTransient {
			h.logger.Warn("upload not completed", zap.Error(err))
		}
		h.writeFailure(w, merr, nil)
		return
	}

	if !result.Report.Accepted {
		h.writeFailure(w, result.Report.FirstError(), &result.Report)
		return
	}

	writeJSON(w, http.StatusAccepted, map[string]any{
		"id":       result.MediaID,
		"status":   result.Status,
		"warnings": nonNil(result.Report.Warnings),
		"metadata": result.Report.Metadata,
	})
}

func readPart(r *http.Request, field string) ([]byte, *multipart.FileHeader, error) {
	file, header, err := r.FormFile(field)
	if errors.Is(err, http.ErrMissingFile) {
		return nil, nil, nil
	}
	if err != nil {
		return nil, nil, err
	}
	defer file.Close()
	data, err := io.ReadAll(file)
	if err != nil {
		return nil, nil, err
	}
	return data, header, nil
}

// resolveKind honours the explicit capture-kind flag and falls back to the
// declared type.
func resolveKind(raw, contentType string) (media.Kind, error) {
	if raw != "" {
		return media.ParseKind(raw)
	}
	if kind, ok := media.KindOf(contentType); ok {
		return kind, nil
	}
	return "", errors.New("kind is required")
}

// StatusFor maps a rejection to its HTTP status.
func StatusFor(e *media.Error) int {
	switch e.Kind {
	case media.ErrValidation:
		switch e.Code {
		case media.CodeFileTooLarge:
			return http.StatusRequestEntityTooLarge
		case media.CodeUnsupportedType:
			return http.StatusUnsupportedMediaType
		case media.CodeMissingCaller:
			return http.StatusUnauthorized
		case media.CodeInvalidRequest, media.CodeEmptyFile:
			return http.StatusBadRequest
		default:
			return http.StatusUnprocessableEntity
		}
	case media.ErrRateLimit:
		return http.StatusTooManyRequests
	case media.ErrQuotaExceeded:
		return http.StatusForbidden
	case media.ErrTransient:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

type errorBody struct {
	Code              string `json:"code"`
	Message           string `json:"message"`
	Kind              string `json:"kind"`
	Retryable         bool   `json:"retryable"`
	RetryAfterSeconds int64  `json:"retry_after_seconds,omitempty"`
}

func (h *HTTPHandler) writeFailure(w http.ResponseWriter, e *media.Error, report *media.Report) {
	retryAfter := e.RetryAfter(h.now())
	if retryAfter > 0 {
		w.Header().Set("Retry-After", strconv.FormatInt(int64(retryAfter/time.Second), 10))
	}

	body := map[string]any{
		"error": errorBody{
			Code:              e.Code,
			Message:           e.Message,
			Kind:              string(e.Kind),
			Retryable:         e.Retryable(),
			RetryAfterSeconds: int64(retryAfter / time.Second),
		},
	}
	if report != nil {
		body["errors"] = nonNil(report.Errors)
		body["warnings"] = nonNil(report.Warnings)
	}
	writeJSON(w, StatusFor(e), body)
}

func nonNil(issues []*media.Error) []*media.Error {
	if issues == nil {
		return []*media.Error{}
	}
	return issues
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
	}
}
