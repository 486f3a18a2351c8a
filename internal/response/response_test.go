package response

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestOK_WritesBareBody(t *testing.T) {
	rec := httptest.NewRecorder()
	OK(rec, []string{"https://a.test/x.png"})

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
	assert.JSONEq(t, `["https://a.test/x.png"]`, rec.Body.String())
}

func TestErrorHelpers(t *testing.T) {
	tests := []struct {
		write  func(http.ResponseWriter)
		status int
		body   string
	}{
		{func(w http.ResponseWriter) { BadRequest(w, "No file uploaded") }, 400, `{"error":"No file uploaded"}`},
		{func(w http.ResponseWriter) { RequestTooLarge(w, "too big") }, 413, `{"error":"too big"}`},
		{func(w http.ResponseWriter) { UnsupportedMediaType(w, "nope") }, 415, `{"error":"nope"}`},
		{func(w http.ResponseWriter) { InternalError(w, "boom") }, 500, `{"error":"boom"}`},
	}
	for _, tt := range tests {
		rec := httptest.NewRecorder()
		tt.write(rec)
		assert.Equal(t, tt.status, rec.Code)
		assert.JSONEq(t, tt.body, rec.Body.String())
	}
}
