package recommend

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/arbiterhq/arbiter/internal/model"
	"github.com/arbiterhq/arbiter/internal/signals"
	"github.com/arbiterhq/arbiter/internal/testutil"
)

func testEntity() model.SubjectEntity {
	domain := "acme.example"
	return model.SubjectEntity{Name: "Acme Corp", Domain: &domain}
}

func TestFallbackShape(t *testing.T) {
	rec := Fallback("provider offline")

	assert.Equal(t, model.ActionReviewManually, rec.Action)
	assert.Equal(t, model.ConfidenceLow, rec.Confidence)
	assert.Equal(t, "fallback", rec.ModelID)
	assert.True(t, rec.Degraded)
	assert.Contains(t, rec.RationaleText(), "provider offline")
}

func TestNewEngineSelection(t *testing.T) {
	logger := testutil.TestLogger()

	_, isFallback := NewEngine(Config{}, logger).(fallbackEngine)
	assert.True(t, isFallback)

	_, isOpenAI := NewEngine(Config{APIKey: "sk-test"}, logger).(*OpenAIEngine)
	assert.True(t, isOpenAI)
}

func TestValidate(t *testing.T) {
	good := Recommendation{
		Action:     model.ActionApprove,
		Confidence: model.ConfidenceHigh,
		Rationale:  []string{"looks fine"},
	}
	require.NoError(t, validate(good))

	bad := good
	bad.Action = "greenlight"
	require.Error(t, validate(bad))

	bad = good
	bad.Confidence = "certain"
	require.Error(t, validate(bad))

	bad = good
	bad.Rationale = nil
	require.Error(t, validate(bad))
}

// chatReply wraps model output into the provider's chat completion envelope.
func chatReply(t *testing.T, out providerOutput) []byte {
	t.Helper()
	content, err := json.Marshal(out)
	require.NoError(t, err)
	reply, err := json.Marshal(map[string]any{
		"choices": []map[string]any{
			{"message": map[string]any{"role": "assistant", "content": string(content)}},
		},
	})
	require.NoError(t, err)
	return reply
}

func TestOpenAIEngineSuccess(t *testing.T) {
	var gotAuth string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		assert.Equal(t, "/chat/completions", r.URL.Path)

		var req chatRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "gpt-4o-mini", req.Model)
		require.Len(t, req.Messages, 2)
		assert.Contains(t, req.Messages[1].Content, "acme.example")

		_, _ = w.Write(chatReply(t, providerOutput{
			Action:              "approve_with_conditions",
			Confidence:          "medium",
			Rationale:           []string{"solid signals", "large deal size"},
			SuggestedConditions: []string{"net-30 payment terms"},
		}))
	}))
	defer srv.Close()

	engine := NewOpenAIEngine(Config{APIKey: "sk-test", BaseURL: srv.URL}, testutil.TestLogger())
	amount := 48000.0
	rec := engine.Recommend(context.Background(), testEntity(), signals.Bundle{}, model.KindDiscount, &amount)

	assert.Equal(t, "Bearer sk-test", gotAuth)
	assert.False(t, rec.Degraded)
	assert.Equal(t, model.ActionApproveWithConditions, rec.Action)
	assert.Equal(t, model.ConfidenceMedium, rec.Confidence)
	assert.Equal(t, []string{"net-30 payment terms"}, rec.SuggestedConditions)
	assert.Equal(t, "gpt-4o-mini", rec.ModelID)
}

func TestOpenAIEngineProviderError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"error":{"message":"quota","type":"rate_limit"}}`, http.StatusTooManyRequests)
	}))
	defer srv.Close()

	engine := NewOpenAIEngine(Config{APIKey: "sk-test", BaseURL: srv.URL}, testutil.TestLogger())
	rec := engine.Recommend(context.Background(), testEntity(), signals.Bundle{}, model.KindDiscount, nil)

	assert.True(t, rec.Degraded)
	assert.Equal(t, model.ActionReviewManually, rec.Action)
}

func TestOpenAIEngineMalformedContent(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		reply, _ := json.Marshal(map[string]any{
			"choices": []map[string]any{
				{"message": map[string]any{"role": "assistant", "content": "I cannot help with that."}},
			},
		})
		_, _ = w.Write(reply)
	}))
	defer srv.Close()

	engine := NewOpenAIEngine(Config{APIKey: "sk-test", BaseURL: srv.URL}, testutil.TestLogger())
	rec := engine.Recommend(context.Background(), testEntity(), signals.Bundle{}, model.KindDiscount, nil)

	assert.True(t, rec.Degraded)
}

func TestOpenAIEngineOutOfContractAction(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write(chatReply(t, providerOutput{
			Action:     "escalate_to_board",
			Confidence: "high",
			Rationale:  []string{"big deal"},
		}))
	}))
	defer srv.Close()

	engine := NewOpenAIEngine(Config{APIKey: "sk-test", BaseURL: srv.URL}, testutil.TestLogger())
	rec := engine.Recommend(context.Background(), testEntity(), signals.Bundle{}, model.KindDiscount, nil)

	assert.True(t, rec.Degraded)
	assert.Equal(t, model.ActionReviewManually, rec.Action)
}

func TestOpenAIEngineUnreachable(t *testing.T) {
	engine := NewOpenAIEngine(Config{APIKey: "sk-test", BaseURL: "http://127.0.0.1:1"}, testutil.TestLogger())
	rec := engine.Recommend(context.Background(), testEntity(), signals.Bundle{}, model.KindDiscount, nil)

	assert.True(t, rec.Degraded)
	assert.Contains(t, rec.RationaleText(), "unreachable")
}
