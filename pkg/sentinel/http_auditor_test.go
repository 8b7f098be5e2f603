package sentinel

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func completionResponse(content string) string {
	b, _ := json.Marshal(map[string]any{
		"choices": []map[string]any{
			{"message": map[string]string{"content": content}},
		},
	})
	return string(b)
}

func TestHTTPAuditor_ParsesSafeVerdict(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(completionResponse(`{"safe": true, "reason": "standard build command"}`)))
	}))
	defer srv.Close()

	a := NewHTTPAuditor(srv.URL, "router-default", "/workspace", nil)
	safe, reason, err := a.AuditCommand(context.Background(), "npm install")
	require.NoError(t, err)
	assert.True(t, safe)
	assert.Equal(t, "standard build command", reason)
}

func TestHTTPAuditor_ParsesVerdictWrappedInProse(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(completionResponse("Here is my answer: " + `{"safe": false, "reason": "deletes root"}` + " — hope that helps.")))
	}))
	defer srv.Close()

	a := NewHTTPAuditor(srv.URL, "router-default", "/workspace", nil)
	safe, reason, err := a.AuditCommand(context.Background(), "rm -rf /")
	require.NoError(t, err)
	assert.False(t, safe)
	assert.Equal(t, "deletes root", reason)
}

func TestHTTPAuditor_NonOKStatusIsError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	a := NewHTTPAuditor(srv.URL, "router-default", "/workspace", nil)
	_, _, err := a.AuditCommand(context.Background(), "echo hi")
	assert.Error(t, err)
}

func TestHTTPAuditor_MalformedContentIsError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(completionResponse("not json at all")))
	}))
	defer srv.Close()

	a := NewHTTPAuditor(srv.URL, "router-default", "/workspace", nil)
	_, _, err := a.AuditCommand(context.Background(), "echo hi")
	assert.Error(t, err)
}
