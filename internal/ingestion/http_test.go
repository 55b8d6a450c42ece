package ingestion

import (
	"bytes"
	"encoding/json"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/textproto"
	"strconv"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/your-org/guestlens/internal/media"
	"github.com/your-org/guestlens/internal/mediatest"
	"github.com/your-org/guestlens/internal/quota"
)

type part struct {
	field, filename, contentType string
	data                         []byte
}

func multipartBody(t *testing.T, fields map[string]string, parts ...part) (*bytes.Buffer, string) {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	for _, p := range parts {
		h := textproto.MIMEHeader{}
		h.Set("Content-Disposition", `form-data; name="`+p.field+`"; filename="`+p.filename+`"`)
		h.Set("Content-Type", p.contentType)
		w, err := mw.CreatePart(h)
		require.NoError(t, err)
		_, err = w.Write(p.data)
		require.NoError(t, err)
	}
	for k, v := range fields {
		require.NoError(t, mw.WriteField(k, v))
	}
	require.NoError(t, mw.Close())
	return &buf, mw.FormDataContentType()
}

func newHandler(t *testing.T, e env) *HTTPHandler {
	t.Helper()
	return NewHTTPHandler(e.svc, zaptest.NewLogger(t), HTTPConfig{
		MaxSizeBytes: 32 << 20,
		FormMemBytes: 8 << 20,
	})
}

func upload(t *testing.T, h *HTTPHandler, eventID, caller string, fields map[string]string, parts ...part) *httptest.ResponseRecorder {
	t.Helper()
	body, ct := multipartBody(t, fields, parts...)
	req := httptest.NewRequest(http.MethodPost, "/api/v1/events/"+eventID+"/uploads", body)
	req.Header.Set("Content-Type", ct)
	if caller != "" {
		req.Header.Set(CallerHeader, caller)
	}
	rec := httptest.NewRecorder()
	h.Router().ServeHTTP(rec, req)
	return rec
}

func decode(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	return out
}

func errorCode(t *testing.T, rec *httptest.ResponseRecorder) string {
	t.Helper()
	body := decode(t, rec)
	e, ok := body["error"].(map[string]any)
	require.True(t, ok, "body: %s", rec.Body.String())
	return e["code"].(string)
}

func jpegPart() part {
	return part{field: "file", filename: "cake.jpg", contentType: media.MIMEJPEG, data: mediatest.JPEG(800, 600)}
}

func TestHealth(t *testing.T) {
	h := newHandler(t, newEnv(t, quota.Limits{}))
	rec := httptest.NewRecorder()
	h.Router().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestUploadAccepted(t *testing.T) {
	e := newEnv(t, quota.Limits{})
	h := newHandler(t, e)

	rec := upload(t, h, "wedding", "guest-1", map[string]string{"kind": "photo", "caption": "cake"}, jpegPart())
	require.Equal(t, http.StatusAccepted, rec.Code, rec.Body.String())
	body := decode(t, rec)
	assert.Equal(t, "m1", body["id"])
	assert.Equal(t, StatusProcessing, body["status"])
	assert.Equal(t, []any{}, body["warnings"])
}

func TestUploadKindInferredFromType(t *testing.T) {
	h := newHandler(t, newEnv(t, quota.Limits{}))
	rec := upload(t, h, "wedding", "guest-1", nil, jpegPart())
	assert.Equal(t, http.StatusAccepted, rec.Code, rec.Body.String())
}

func TestUploadAcceptedWithWarnings(t *testing.T) {
	h := newHandler(t, newEnv(t, quota.Limits{}))
	p := jpegPart()
	p.filename = "cake.final.jpg"

	rec := upload(t, h, "wedding", "guest-1", map[string]string{"kind": "photo"}, p)
	require.Equal(t, http.StatusAccepted, rec.Code)
	warnings := decode(t, rec)["warnings"].([]any)
	require.Len(t, warnings, 1)
	assert.Equal(t, media.CodeMultipleExtensions, warnings[0].(map[string]any)["code"])
}

func TestUploadDeclaredSizeIsCompared(t *testing.T) {
	h := newHandler(t, newEnv(t, quota.Limits{}))
	p := jpegPart()

	rec := upload(t, h, "wedding", "guest-1", map[string]string{"kind": "photo", "size": "999999"}, p)
	require.Equal(t, http.StatusAccepted, rec.Code, rec.Body.String())
	warnings := decode(t, rec)["warnings"].([]any)
	require.Len(t, warnings, 1)
	assert.Equal(t, media.CodeSizeMismatch, warnings[0].(map[string]any)["code"])

	rec = upload(t, h, "wedding", "guest-1", map[string]string{"kind": "photo", "size": strconv.Itoa(len(p.data))}, p)
	require.Equal(t, http.StatusAccepted, rec.Code)
	assert.Equal(t, []any{}, decode(t, rec)["warnings"])

	rec = upload(t, h, "wedding", "guest-1", map[string]string{"kind": "photo", "size": "-4"}, p)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, media.CodeInvalidRequest, errorCode(t, rec))
}

func TestUploadRequestErrors(t *testing.T) {
	h := newHandler(t, newEnv(t, quota.Limits{}))

	rec := upload(t, h, "wedding", "", nil, jpegPart())
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, media.CodeMissingCaller, errorCode(t, rec))

	rec = upload(t, h, "wedding", "guest-1", map[string]string{"kind": "photo"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = upload(t, h, "wedding", "guest-1", map[string]string{"kind": "hologram"}, jpegPart())
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, media.CodeInvalidRequest, errorCode(t, rec))

	rec = upload(t, h, "bad.event", "guest-1", nil, jpegPart())
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestUploadValidationStatuses(t *testing.T) {
	h := newHandler(t, newEnv(t, quota.Limits{}))

	rec := upload(t, h, "wedding", "guest-1", map[string]string{"kind": "photo"},
		part{field: "file", filename: "doc.pdf", contentType: "application/pdf", data: []byte("%PDF-1.7")})
	assert.Equal(t, http.StatusUnsupportedMediaType, rec.Code)
	assert.Equal(t, media.CodeUnsupportedType, errorCode(t, rec))

	rec = upload(t, h, "wedding", "guest-1", map[string]string{"kind": "photo"},
		part{field: "file", filename: "fake.jpg", contentType: media.MIMEJPEG, data: mediatest.PNG(400, 400)})
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	assert.Equal(t, media.CodeSignatureMismatch, errorCode(t, rec))
	body := decode(t, rec)
	assert.Len(t, body["errors"], 1)

	rec = upload(t, h, "wedding", "guest-1", map[string]string{"kind": "photo"},
		part{field: "file", filename: "tiny.jpg", contentType: media.MIMEJPEG, data: mediatest.JPEG(40, 40)})
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	assert.Equal(t, media.CodeDimensionsTooSmall, errorCode(t, rec))
}

func TestUploadRateLimitedSetsRetryAfter(t *testing.T) {
	h := newHandler(t, newEnv(t, quota.Limits{}))

	for i := 0; i < 5; i++ {
		rec := upload(t, h, "wedding", "guest-1", map[string]string{"kind": "photo"}, jpegPart())
		require.Equal(t, http.StatusAccepted, rec.Code)
	}
	rec := upload(t, h, "wedding", "guest-1", map[string]string{"kind": "photo"}, jpegPart())
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, media.CodeRateLimited, errorCode(t, rec))
	assert.NotEmpty(t, rec.Header().Get("Retry-After"))

	e := decode(t, rec)["error"].(map[string]any)
	assert.Equal(t, true, e["retryable"])
	assert.Greater(t, e["retry_after_seconds"].(float64), 3500.0)
}

func TestUploadQuotaExceeded(t *testing.T) {
	h := newHandler(t, newEnv(t, quota.Limits{MaxTotal: 1}))

	rec := upload(t, h, "wedding", "guest-1", nil, jpegPart())
	require.Equal(t, http.StatusAccepted, rec.Code)

	rec = upload(t, h, "wedding", "guest-2", nil, jpegPart())
	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.Equal(t, media.CodeEventQuota, errorCode(t, rec))
	assert.Empty(t, rec.Header().Get("Retry-After"))
}

func TestUploadTooLarge(t *testing.T) {
	e := newEnv(t, quota.Limits{})
	h := NewHTTPHandler(e.svc, zaptest.NewLogger(t), HTTPConfig{MaxSizeBytes: 1024, FormMemBytes: 1024})

	rec := upload(t, h, "wedding", "guest-1", nil, jpegPart())
	assert.Equal(t, http.StatusRequestEntityTooLarge, rec.Code)
	assert.Equal(t, media.CodeFileTooLarge, errorCode(t, rec))
}

func TestUploadEventBusOutageIs503(t *testing.T) {
	e := newEnv(t, quota.Limits{})
	e.publisher.err = assert.AnError
	h := newHandler(t, e)

	rec := upload(t, h, "wedding", "guest-1", nil, jpegPart())
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Equal(t, media.CodeEventBusUnavailable, errorCode(t, rec))
}

func TestStatusFor(t *testing.T) {
	cases := []struct {
		err  *media.Error
		want int
	}{
		{media.Validationf(media.CodeEmptyFile, "empty"), http.StatusBadRequest},
		{media.Validationf(media.CodeDurationTooLong, "long"), http.StatusUnprocessableEntity},
		{media.QuotaExceeded(media.CodeContributorQuota, "full"), http.StatusForbidden},
		{media.Transient(media.CodeQuotaUnavailable, "down", nil), http.StatusServiceUnavailable},
		{&media.Error{Kind: media.ErrInternal, Code: media.CodeValidatorFailure}, http.StatusInternalServerError},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, StatusFor(tc.err), tc.err.Code)
	}
}
