package llmclient

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest"
	"go.uber.org/zap/zaptest/observer"
	"google.golang.org/genai"

	"github.com/xkilldash9x/webpilot/api/schemas"
)

func newTestClient(t *testing.T, f *fakeModels) *GeminiClient {
	t.Helper()
	c := newGeminiClient(f, getValidLLMConfig(), zaptest.NewLogger(t))
	c.maxElapsed = 5 * time.Second
	return c
}

func TestNewGeminiClient_Validation(t *testing.T) {
	cfg := getValidLLMConfig()
	cfg.APIKey = ""
	_, err := NewGeminiClient(context.Background(), cfg, zaptest.NewLogger(t))
	assert.EqualError(t, err, "Gemini API Key is required")

	cfg = getValidLLMConfig()
	cfg.Model = ""
	_, err = NewGeminiClient(context.Background(), cfg, zaptest.NewLogger(t))
	assert.EqualError(t, err, "Gemini model name is required")
}

func TestGenerate_Success(t *testing.T) {
	core, logs := observer.New(zap.InfoLevel)
	f := &fakeModels{replies: []fakeReply{{resp: textResponse(`{"tool":"click"}`)}}}
	c := newGeminiClient(f, getValidLLMConfig(), zap.New(core))

	out, err := c.Generate(context.Background(), schemas.GenerationRequest{
		SystemPrompt: "You drive a browser.",
		UserPrompt:   "Next action?",
		Options:      schemas.GenerationOptions{ForceJSONFormat: true},
	})
	require.NoError(t, err)
	assert.Equal(t, `{"tool":"click"}`, out)
	assert.Equal(t, 1, f.calls)

	require.NotNil(t, f.lastCfg)
	assert.Equal(t, "application/json", f.lastCfg.ResponseMIMEType)
	assert.Equal(t, int32(1024), f.lastCfg.MaxOutputTokens, "falls back to the model default")
	require.NotNil(t, f.lastCfg.Temperature)
	assert.InDelta(t, 0.2, *f.lastCfg.Temperature, 1e-6)
	require.NotNil(t, f.lastCfg.SystemInstruction)
	assert.Equal(t, "You drive a browser.", f.lastCfg.SystemInstruction.Parts[0].Text)
	require.Len(t, f.lastIn, 1)
	assert.Equal(t, "Next action?", f.lastIn[0].Parts[0].Text)

	entries := logs.FilterMessage("LLM generation complete (Gemini)").All()
	require.Len(t, entries, 1)
	assert.Equal(t, int64(15), entries[0].ContextMap()["total_tokens"])
}

func TestGenerate_RequestOptionsOverrideDefaults(t *testing.T) {
	f := &fakeModels{replies: []fakeReply{{resp: textResponse("ok")}}}
	c := newTestClient(t, f)

	_, err := c.Generate(context.Background(), schemas.GenerationRequest{
		UserPrompt: "hi",
		Options:    schemas.GenerationOptions{Temperature: 0.9, MaxTokens: 64},
	})
	require.NoError(t, err)
	assert.Equal(t, int32(64), f.lastCfg.MaxOutputTokens)
	assert.InDelta(t, 0.9, *f.lastCfg.Temperature, 1e-6)
	assert.Empty(t, f.lastCfg.ResponseMIMEType)
	assert.Nil(t, f.lastCfg.SystemInstruction)
}

func TestGenerate_RetriesTransientErrors(t *testing.T) {
	f := &fakeModels{replies: []fakeReply{
		{err: genai.APIError{Code: 503, Message: "overloaded"}},
		{resp: textResponse("recovered")},
	}}
	out, err := newTestClient(t, f).Generate(context.Background(), schemas.GenerationRequest{UserPrompt: "x"})
	require.NoError(t, err)
	assert.Equal(t, "recovered", out)
	assert.Equal(t, 2, f.calls)
}

func TestGenerate_PermanentFailures(t *testing.T) {
	tests := []struct {
		name    string
		reply   fakeReply
		wantErr string
	}{
		{"client error", fakeReply{err: genai.APIError{Code: 400, Message: "bad request"}}, "status 400"},
		{"no candidates", fakeReply{resp: &genai.GenerateContentResponse{}}, "no candidates"},
		{"blocked prompt", fakeReply{resp: &genai.GenerateContentResponse{
			PromptFeedback: &genai.GenerateContentResponsePromptFeedback{BlockReason: genai.BlockedReasonSafety},
		}}, "blocked the prompt"},
		{"safety stop", fakeReply{resp: &genai.GenerateContentResponse{
			Candidates: []*genai.Candidate{{FinishReason: genai.FinishReasonSafety}},
		}}, "blocked the request"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := &fakeModels{replies: []fakeReply{tt.reply}}
			_, err := newTestClient(t, f).Generate(context.Background(), schemas.GenerationRequest{UserPrompt: "x"})
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
			assert.Equal(t, 1, f.calls, "permanent errors are not retried")
		})
	}
}

func TestGenerate_ContextCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	f := &fakeModels{replies: []fakeReply{{resp: textResponse("never")}}}
	_, err := newTestClient(t, f).Generate(ctx, schemas.GenerationRequest{UserPrompt: "x"})
	assert.ErrorIs(t, err, context.Canceled)
	assert.Zero(t, f.calls)
}

func TestCollectText_SkipsThoughts(t *testing.T) {
	content := genai.NewContentFromParts([]*genai.Part{
		{Text: "internal musing", Thought: true},
		{Text: "visible "},
		{Text: "answer"},
	}, genai.RoleModel)
	assert.Equal(t, "visible answer", collectText(content))
	assert.Equal(t, "", collectText(nil))
}

func TestNewLimiter(t *testing.T) {
	assert.True(t, newLimiter(0).Allow())
	l := newLimiter(60)
	assert.True(t, l.Allow())
	assert.False(t, l.Allow(), "second request within the same second waits")
}
