package llm

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGenerateReturnsContentAndUsage(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer test-key", r.Header.Get("Authorization"))
		_ = json.NewEncoder(w).Encode(map[string]interface{}{
			"choices": []map[string]interface{}{
				{"message": map[string]string{"content": "hello there"}},
			},
			"usage": map[string]int{"prompt_tokens": 10, "completion_tokens": 2},
		})
	}))
	defer server.Close()

	client := New(server.URL, "test-key", "gpt-test")
	content, promptTokens, completionTokens, err := client.Generate(t.Context(), []Message{
		{Role: "user", Content: "hi"},
	})
	require.NoError(t, err)
	assert.Equal(t, "hello there", content)
	assert.Equal(t, 10, promptTokens)
	assert.Equal(t, 2, completionTokens)
}

func TestGenerateFailsOnEmptyChoices(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]interface{}{"choices": []map[string]interface{}{}})
	}))
	defer server.Close()

	client := New(server.URL, "", "gpt-test")
	_, _, _, err := client.Generate(t.Context(), []Message{{Role: "user", Content: "hi"}})
	require.Error(t, err)
}

func TestGenerateFailsOnHTTPError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	client := New(server.URL, "", "gpt-test")
	_, _, _, err := client.Generate(t.Context(), []Message{{Role: "user", Content: "hi"}})
	require.Error(t, err)
}

type examplePlan struct {
	Steps []string `json:"steps"`
}

func TestGenerateStructuredUnmarshalsIntoOut(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req chatRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "json_schema", req.ResponseFormat.Type)
		assert.Equal(t, "plan", req.ResponseFormat.JSONSchema.Name)

		_ = json.NewEncoder(w).Encode(map[string]interface{}{
			"choices": []map[string]interface{}{
				{"message": map[string]string{"content": `{"steps":["a","b"]}`}},
			},
			"usage": map[string]int{"prompt_tokens": 5, "completion_tokens": 1},
		})
	}))
	defer server.Close()

	client := New(server.URL, "", "gpt-test")
	var out examplePlan
	promptTokens, completionTokens, err := client.GenerateStructured(t.Context(), []Message{
		{Role: "user", Content: "plan it"},
	}, "plan", &out)
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b"}, out.Steps)
	assert.Equal(t, 5, promptTokens)
	assert.Equal(t, 1, completionTokens)
}

func TestGenerateStructuredFailsOnSchemaMismatch(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]interface{}{
			"choices": []map[string]interface{}{
				{"message": map[string]string{"content": `not json`}},
			},
		})
	}))
	defer server.Close()

	client := New(server.URL, "", "gpt-test")
	var out examplePlan
	_, _, err := client.GenerateStructured(t.Context(), []Message{{Role: "user", Content: "plan it"}}, "plan", &out)
	require.Error(t, err)
}
