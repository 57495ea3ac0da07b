package judge

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"followup/internal/classify"
	"followup/internal/model"

	"github.com/charmbracelet/log"
	"github.com/openai/openai-go/option"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseJudgment(t *testing.T) {
	j, err := ParseJudgment(`{"needs_action":"Yes","action_type":"user_reply_needed","reason":" Bob asked for numbers ","directed_at":"Jane","confidence":"HIGH"}`)
	require.NoError(t, err)
	assert.True(t, j.NeedsAction)
	assert.Equal(t, model.ActionUserReplyNeeded, j.ActionType)
	assert.Equal(t, "Bob asked for numbers", j.Reason)
	assert.Equal(t, "Jane", j.DirectedAt)
	assert.Equal(t, model.ConfidenceHigh, j.Confidence)

	j, err = ParseJudgment(`{"needs_action":false,"action_type":"no_action"}`)
	require.NoError(t, err)
	assert.False(t, j.NeedsAction)
	assert.Equal(t, model.ConfidenceMedium, j.Confidence)
}

func TestParseJudgmentMalformed(t *testing.T) {
	for _, in := range []string{
		`not json`,
		`{"action_type":"closed"}`,
		`{"needs_action":"maybe","action_type":"closed"}`,
		`{"needs_action":"No","action_type":"later"}`,
	} {
		_, err := ParseJudgment(in)
		assert.ErrorIs(t, err, ErrMalformed, in)
	}
}

func TestParseUrgency(t *testing.T) {
	u, err := ParseUrgency(`{"is_urgent":"yes","reason":"due tomorrow"}`)
	require.NoError(t, err)
	assert.True(t, u.IsUrgent)
	assert.Equal(t, "due tomorrow", u.Reason)

	_, err = ParseUrgency(`{"reason":"?"}`)
	assert.ErrorIs(t, err, ErrMalformed)
}

func completionServer(t *testing.T, status int, content string, seen *map[string]any) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasSuffix(r.URL.Path, "/chat/completions") {
			http.NotFound(w, r)
			return
		}
		if seen != nil {
			body, _ := io.ReadAll(r.Body)
			_ = json.Unmarshal(body, seen)
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		if status != http.StatusOK {
			_, _ = w.Write([]byte(`{"error":{"message":"nope","type":"server_error"}}`))
			return
		}
		_ = json.NewEncoder(w).Encode(map[string]any{
			"id":      "chatcmpl-1",
			"object":  "chat.completion",
			"created": 1,
			"model":   "gpt-4o",
			"choices": []map[string]any{{
				"index":         0,
				"finish_reason": "stop",
				"message":       map[string]any{"role": "assistant", "content": content},
			}},
		})
	}))
	t.Cleanup(srv.Close)
	return srv
}

func testService(srv *httptest.Server) *Service {
	return New(log.New(io.Discard), "test-key", srv.URL+"/v1/", "", option.WithMaxRetries(0))
}

func TestServiceJudge(t *testing.T) {
	var req map[string]any
	srv := completionServer(t, http.StatusOK, `{"needs_action":"No","action_type":"closed","reason":"done","confidence":"low"}`, &req)

	j, err := testService(srv).Judge(context.Background(), "--- Message 1 ---", classify.NewIdentity("jane.doe@example.com"))
	require.NoError(t, err)
	assert.Equal(t, model.ActionClosed, j.ActionType)
	assert.Equal(t, model.ConfidenceLow, j.Confidence)

	assert.Equal(t, DefaultModel, req["model"])
	assert.InDelta(t, 0.1, req["temperature"], 1e-9)
	format, _ := req["response_format"].(map[string]any)
	assert.Equal(t, "json_object", format["type"])
}

func TestServiceUrgency(t *testing.T) {
	srv := completionServer(t, http.StatusOK, `{"is_urgent":"Yes","reason":"outage"}`, nil)
	u, err := testService(srv).Urgency(context.Background(), "Prod down", "help")
	require.NoError(t, err)
	assert.True(t, u.IsUrgent)
}

func TestServiceTransientErrors(t *testing.T) {
	srv := completionServer(t, http.StatusTooManyRequests, "", nil)
	_, err := testService(srv).Judge(context.Background(), "x", classify.NewIdentity("a@b.c"))
	require.Error(t, err)
	assert.True(t, errors.Is(err, model.ErrTransient))

	srv = completionServer(t, http.StatusBadRequest, "", nil)
	_, err = testService(srv).Judge(context.Background(), "x", classify.NewIdentity("a@b.c"))
	require.Error(t, err)
	assert.False(t, errors.Is(err, model.ErrTransient))
}

func TestServiceMalformedAnswer(t *testing.T) {
	srv := completionServer(t, http.StatusOK, `I think yes`, nil)
	_, err := testService(srv).Judge(context.Background(), "x", classify.NewIdentity("a@b.c"))
	assert.ErrorIs(t, err, ErrMalformed)
}
