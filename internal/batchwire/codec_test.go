//go:build !integration

package batchwire_test

import (
	"bytes"
	"encoding/json"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"photo-restyler/internal/batchwire"
	"photo-restyler/internal/domain"
)

func TestCorrelationRoundTrip(t *testing.T) {
	t.Parallel()
	cases := []struct{ run, file string }{
		{"20250101-120000-kitchen-final-abcd1234", "IMG_0001.jpg"},
		{"r", "a b c.png"},
		{"20250101-120000-run-final-00000000", "with::colons.jpg"},
	}
	for _, tc := range cases {
		id := batchwire.CorrelationID(tc.run, tc.file)
		run, file, err := batchwire.ParseCorrelationID(id)
		require.NoError(t, err)
		assert.Equal(t, tc.run, run)
		assert.Equal(t, tc.file, file)
	}
}

func TestParseCorrelationID_Malformed(t *testing.T) {
	t.Parallel()
	for _, id := range []string{"", "noseparator", "::file.jpg", "run::"} {
		_, _, err := batchwire.ParseCorrelationID(id)
		assert.True(t, errors.Is(err, domain.ErrInvalidArgument), "id %q", id)
	}
}

func TestEncodeRequests_OneRecordPerLine(t *testing.T) {
	t.Parallel()
	seed := int32(42)
	lines := []batchwire.RequestLine{
		batchwire.NewRequestLine(batchwire.Item{
			RunID: "run-1", FileName: "a.jpg", Model: "m", Prompt: "warm light",
			Image: []byte{1, 2, 3}, MIMEType: "image/jpeg", Seed: &seed, OutputSize: "2K",
		}),
		batchwire.NewRequestLine(batchwire.Item{
			RunID: "run-1", FileName: "b.png", Model: "m", Prompt: "p",
			Image: []byte{4}, MIMEType: "image/png",
		}),
	}

	var buf bytes.Buffer
	require.NoError(t, batchwire.EncodeRequests(&buf, lines))

	raw := strings.Split(strings.TrimRight(buf.String(), "\n"), "\n")
	require.Len(t, raw, 2)

	var first map[string]any
	require.NoError(t, json.Unmarshal([]byte(raw[0]), &first))
	assert.Equal(t, "run-1::a.jpg", first["customId"])
	gen := first["request"].(map[string]any)["generationConfig"].(map[string]any)
	assert.EqualValues(t, 42, gen["seed"])
	assert.Equal(t, []any{"IMAGE"}, gen["responseModalities"])
	assert.Equal(t, "2K", gen["imageConfig"].(map[string]any)["imageSize"])

	// no seed key at all when the item has none
	assert.NotContains(t, raw[1], `"seed"`)
	assert.NotContains(t, raw[1], `"imageConfig"`)

	back, err := batchwire.DecodeRequests(&buf)
	require.NoError(t, err)
	require.Len(t, back, 2)
	assert.Equal(t, []byte{1, 2, 3}, back[0].Request.Contents[0].Parts[1].InlineData.Data)
	assert.Equal(t, "warm light", back[0].Request.Contents[0].Parts[0].Text)
}

func TestEncodeRequests_RequiresID(t *testing.T) {
	t.Parallel()
	err := batchwire.EncodeRequests(&bytes.Buffer{}, []batchwire.RequestLine{{}})
	assert.Error(t, err)
}

const imgB64 = "AQID" // {1,2,3}

func TestDecodeResponses_CorruptLineIsIsolated(t *testing.T) {
	t.Parallel()
	in := strings.Join([]string{
		`{"customId":"r::a.jpg","response":{"candidates":[{"content":{"parts":[{"inlineData":{"mimeType":"image/png","data":"` + imgB64 + `"}}]}}]}}`,
		`{not json`,
		``,
		`{"key":"r::c.jpg","response":{"candidates":[]}}`,
		`{"response":{}}`,
	}, "\n")

	got, err := batchwire.DecodeResponses(strings.NewReader(in))
	require.NoError(t, err)
	require.Len(t, got, 4)

	assert.NoError(t, got[0].Err)
	assert.Equal(t, "r::a.jpg", got[0].Line.ID())
	assert.Error(t, got[1].Err)
	assert.Equal(t, 2, got[1].LineNo)
	assert.NoError(t, got[2].Err)
	assert.Equal(t, "r::c.jpg", got[2].Line.ID())
	assert.Error(t, got[3].Err, "missing id")
}

func decodeOne(t *testing.T, s string) *batchwire.ResponseLine {
	t.Helper()
	got, err := batchwire.DecodeResponses(strings.NewReader(s))
	require.NoError(t, err)
	require.Len(t, got, 1)
	require.NoError(t, got[0].Err)
	return got[0].Line
}

func TestExtract_Precedence(t *testing.T) {
	t.Parallel()
	image := `{"content":{"parts":[{"text":"here"},{"inlineData":{"mimeType":"image/png","data":"` + imgB64 + `"}}]}}`

	cases := []struct {
		name    string
		line    string
		wantErr string
	}{
		{"top-level error beats image", `{"customId":"r::a","error":{"code":400,"message":"bad request"},"response":{"candidates":[` + image + `]}}`, "bad request"},
		{"string error", `{"customId":"r::a","error":"quota exceeded"}`, "quota exceeded"},
		{"nested error beats image", `{"customId":"r::a","response":{"error":{"status":"INTERNAL"},"candidates":[` + image + `]}}`, "INTERNAL"},
		{"no response", `{"customId":"r::a"}`, batchwire.MsgNoCandidates},
		{"no candidates", `{"customId":"r::a","response":{"candidates":[]}}`, batchwire.MsgNoCandidates},
		{"no parts", `{"customId":"r::a","response":{"candidates":[{"content":{"parts":[]}}]}}`, batchwire.MsgNoParts},
		{"text only", `{"customId":"r::a","response":{"candidates":[{"content":{"parts":[{"text":"sorry"}]}}]}}`, batchwire.MsgNoImageData},
		{"image", `{"customId":"r::a","response":{"candidates":[` + image + `]}}`, ""},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			res := batchwire.Extract(decodeOne(t, tc.line))
			assert.Equal(t, "r::a", res.ID)
			assert.Equal(t, tc.wantErr, res.Error)
			if tc.wantErr == "" {
				assert.True(t, res.OK())
				assert.Equal(t, []byte{1, 2, 3}, res.Image)
				assert.Equal(t, "image/png", res.MIMEType)
			} else {
				assert.Nil(t, res.Image)
			}
		})
	}
}
