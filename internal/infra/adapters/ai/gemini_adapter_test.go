//go:build !integration

package ai

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/genai"

	"photo-restyler/internal/domain"
	"photo-restyler/internal/domain/model"
	"photo-restyler/internal/domain/ports/adapter"
	"photo-restyler/internal/infra/logging"
)

type fakeGemini struct {
	mu     sync.Mutex
	bodies []map[string]any
	status int
	reply  string
}

func (f *fakeGemini) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if !strings.HasSuffix(r.URL.Path, ":generateContent") {
		http.NotFound(w, r)
		return
	}
	raw, _ := io.ReadAll(r.Body)
	var body map[string]any
	_ = json.Unmarshal(raw, &body)
	f.mu.Lock()
	f.bodies = append(f.bodies, body)
	f.mu.Unlock()
	w.Header().Set("Content-Type", "application/json")
	if f.status != 0 {
		w.WriteHeader(f.status)
	}
	_, _ = io.WriteString(w, f.reply)
}

func newTestAPI(t *testing.T, f *fakeGemini) *GeminiImageAPI {
	t.Helper()
	srv := httptest.NewServer(f)
	t.Cleanup(srv.Close)
	api, err := NewGeminiImageAPI(context.Background(), "test-key", srv.URL, logging.Nop())
	require.NoError(t, err)
	return api
}

func TestNewGeminiImageAPI_RequiresKey(t *testing.T) {
	_, err := NewGeminiImageAPI(context.Background(), " ", "", logging.Nop())
	assert.True(t, errors.Is(err, domain.ErrNotConfigured))
}

func TestGenerate_MapsPartsAndSeed(t *testing.T) {
	f := &fakeGemini{reply: `{"candidates":[{"content":{"role":"model","parts":[
		{"text":"done"},
		{"inlineData":{"mimeType":"image/png","data":"AQID"}}
	]},"finishReason":"STOP"}]}`}
	api := newTestAPI(t, f)

	resp, err := api.Generate(context.Background(), adapter.GenerateRequest{
		Model: "gemini-2.5-flash-image", Prompt: "warm light",
		Image: []byte{9}, MIMEType: "image/jpeg",
		Seed: genai.Ptr[int32](7), ResponseModalities: []string{"IMAGE"},
	})
	require.NoError(t, err)
	require.Len(t, resp.Parts, 2)
	assert.Equal(t, "done", resp.Parts[0].Text)
	assert.Equal(t, []byte{1, 2, 3}, resp.Parts[1].InlineData.Data)
	assert.Equal(t, "STOP", resp.FinishReason)

	require.Len(t, f.bodies, 1)
	gen, ok := f.bodies[0]["generationConfig"].(map[string]any)
	require.True(t, ok)
	assert.EqualValues(t, 7, gen["seed"])

	// without a seed the field must not be sent at all
	_, err = api.Generate(context.Background(), adapter.GenerateRequest{Model: "m", Prompt: "p"})
	require.NoError(t, err)
	gen, _ = f.bodies[1]["generationConfig"].(map[string]any)
	_, hasSeed := gen["seed"]
	assert.False(t, hasSeed)
}

func TestGenerate_TransportError(t *testing.T) {
	f := &fakeGemini{
		status: http.StatusBadRequest,
		reply:  `{"error":{"code":400,"message":"Invalid JSON payload received. Unknown name \"seed\"","status":"INVALID_ARGUMENT"}}`,
	}
	api := newTestAPI(t, f)

	_, err := api.Generate(context.Background(), adapter.GenerateRequest{Model: "m", Prompt: "p"})
	require.Error(t, err)
	var te *domain.TransportError
	require.True(t, errors.As(err, &te))
	assert.Equal(t, 400, te.Code)
	assert.Equal(t, "INVALID_ARGUMENT", te.Status)
	assert.Contains(t, te.Message, "seed")
	assert.True(t, errors.Is(err, domain.ErrTransport))
}

func TestMapJobState(t *testing.T) {
	cases := map[genai.JobState]model.BatchJobState{
		genai.JobStateQueued:             model.JobPending,
		genai.JobStatePending:            model.JobPending,
		genai.JobStateRunning:            model.JobRunning,
		genai.JobStateSucceeded:          model.JobSucceeded,
		genai.JobStatePartiallySucceeded: model.JobSucceeded,
		genai.JobStateFailed:             model.JobFailed,
		genai.JobStateExpired:            model.JobFailed,
		genai.JobStateCancelled:          model.JobCancelled,
		"BATCH_STATE_SUCCEEDED":          model.JobSucceeded,
		"BATCH_STATE_RUNNING":            model.JobRunning,
		genai.JobStateUnspecified:        model.JobUnknown,
		"":                               model.JobUnknown,
	}
	for in, want := range cases {
		assert.Equal(t, want, mapJobState(in), string(in))
	}
}

func TestMapError(t *testing.T) {
	assert.Nil(t, mapError(nil))
	assert.Equal(t, context.Canceled, mapError(context.Canceled))

	err := mapError(genai.APIError{Code: 503, Status: "UNAVAILABLE", Message: "overloaded"})
	var te *domain.TransportError
	require.True(t, errors.As(err, &te))
	assert.Equal(t, 503, te.Code)

	err = mapError(errors.New("dial tcp: refused"))
	require.True(t, errors.As(err, &te))
	assert.Equal(t, 0, te.Code)
	assert.Contains(t, err.Error(), "refused")
}
