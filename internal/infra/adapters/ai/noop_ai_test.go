//go:build !integration

package ai_test

import (
	"bytes"
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"photo-restyler/internal/batchwire"
	"photo-restyler/internal/domain/model"
	"photo-restyler/internal/domain/ports/adapter"
	ai "photo-restyler/internal/infra/adapters/ai"
	"photo-restyler/internal/infra/logging"
)

func TestNoopImageAPI_BatchRoundTrip(t *testing.T) {
	ctx := context.Background()
	api := ai.NewNoopImageAPI(logging.Nop())

	var in bytes.Buffer
	require.NoError(t, batchwire.EncodeRequests(&in, []batchwire.RequestLine{
		batchwire.NewRequestLine(batchwire.Item{RunID: "r", FileName: "a.jpg", Model: "m", Prompt: "p", Image: []byte{1}, MIMEType: "image/jpeg"}),
	}))
	ref, err := api.UploadFile(ctx, "input", "application/jsonl", in.Bytes())
	require.NoError(t, err)
	job, err := api.CreateBatch(ctx, "m", ref, "test")
	require.NoError(t, err)

	st, err := api.GetBatch(ctx, job)
	require.NoError(t, err)
	assert.Equal(t, model.JobRunning, st.State)

	st, err = api.GetBatch(ctx, job)
	require.NoError(t, err)
	require.Equal(t, model.JobSucceeded, st.State)

	out, err := api.DownloadFile(ctx, st.OutputFileRef)
	require.NoError(t, err)
	decoded, err := batchwire.DecodeResponses(bytes.NewReader(out))
	require.NoError(t, err)
	require.Len(t, decoded, 1)
	res := batchwire.Extract(decoded[0].Line)
	assert.True(t, res.OK())
	assert.Equal(t, []byte{1}, res.Image)
	assert.Equal(t, "r::a.jpg", res.ID)
}

func TestLimitedImageAPI_PassesThrough(t *testing.T) {
	api := ai.NewLimitedImageAPI(ai.NewNoopImageAPI(logging.Nop()), 1)
	resp, err := api.Generate(context.Background(), adapter.GenerateRequest{Image: []byte{5}, MIMEType: "image/png"})
	require.NoError(t, err)
	require.Len(t, resp.Parts, 1)
	assert.Equal(t, []byte{5}, resp.Parts[0].InlineData.Data)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = api.Generate(ctx, adapter.GenerateRequest{})
	assert.Error(t, err)
}
