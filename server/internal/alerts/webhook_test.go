package alerts_test

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nasalert/nasalert/server/internal/alerts"
)

func capture(t *testing.T, status int) (*httptest.Server, *[]byte) {
	t.Helper()
	var body []byte
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		body, _ = io.ReadAll(r.Body)
		w.WriteHeader(status)
	}))
	t.Cleanup(srv.Close)
	return srv, &body
}

func batch() *alerts.Batch {
	a := degraded("tank")
	a.ID = "abc"
	return &alerts.Batch{Policy: alerts.PolicyImmediately, New: []*alerts.Alert{a}}
}

func TestWebhook_Slack(t *testing.T) {
	srv, body := capture(t, http.StatusOK)
	w, err := alerts.NewWebhook("slack", srv.URL)
	require.NoError(t, err)
	require.NoError(t, w.Notify(context.Background(), batch()))

	var got map[string]string
	require.NoError(t, json.Unmarshal(*body, &got))
	assert.Contains(t, got["text"], "[CRITICAL]")
	assert.Contains(t, got["text"], "Pool tank state is DEGRADED")
}

func TestWebhook_Teams(t *testing.T) {
	srv, body := capture(t, http.StatusOK)
	w, err := alerts.NewWebhook("teams", srv.URL)
	require.NoError(t, err)
	require.NoError(t, w.Notify(context.Background(), batch()))

	var got map[string]interface{}
	require.NoError(t, json.Unmarshal(*body, &got))
	assert.Equal(t, "MessageCard", got["@type"])
	assert.Equal(t, "FF4F6A", got["themeColor"])
}

func TestWebhook_HTTP(t *testing.T) {
	srv, body := capture(t, http.StatusAccepted)
	w, err := alerts.NewWebhook("http", srv.URL)
	require.NoError(t, err)
	require.NoError(t, w.Notify(context.Background(), batch()))

	var got struct {
		Policy string `json:"policy"`
		New    []struct {
			ID    string         `json:"id"`
			Klass string         `json:"klass"`
			Level string         `json:"level"`
			Args  map[string]any `json:"args"`
		} `json:"new"`
	}
	require.NoError(t, json.Unmarshal(*body, &got))
	assert.Equal(t, "IMMEDIATELY", got.Policy)
	require.Len(t, got.New, 1)
	assert.Equal(t, "abc", got.New[0].ID)
	assert.Equal(t, "CRITICAL", got.New[0].Level)
	assert.Equal(t, "DEGRADED", got.New[0].Args["state"])
}

func TestWebhook_ErrorStatus(t *testing.T) {
	srv, _ := capture(t, http.StatusInternalServerError)
	w, err := alerts.NewWebhook("http", srv.URL)
	require.NoError(t, err)
	assert.Error(t, w.Notify(context.Background(), batch()))
}

func TestNewWebhook_Validation(t *testing.T) {
	_, err := alerts.NewWebhook("carrier-pigeon", "http://x")
	assert.Error(t, err)
	_, err = alerts.NewWebhook("slack", "")
	assert.Error(t, err)
}
