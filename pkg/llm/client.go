// Package llm provides the OpenAI-compatible chat-completions client used
// for plan generation, SQL generation, and reflection: every call that needs
// the model to produce data structured enough to act on goes through
// GenerateStructured, which asks the endpoint for a response constrained by
// a JSON Schema reflected from the target type and decodes it into the
// caller's value. The decoded response is not checked against the schema
// locally.
package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/invopop/jsonschema"
	"github.com/kadirpekel/queryagent/pkg/apperrors"
	"github.com/kadirpekel/queryagent/pkg/httpclient"
)

// Message is one turn in a chat-completions request.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Client talks to a single OpenAI-compatible endpoint. It owns no model
// selection state beyond the default passed at construction; Generate and
// GenerateStructured take no per-call model override.
type Client struct {
	baseURL      string
	apiKey       string
	defaultModel string
	http         *httpclient.Client
}

func New(baseURL, apiKey, defaultModel string) *Client {
	return &Client{
		baseURL:      baseURL,
		apiKey:       apiKey,
		defaultModel: defaultModel,
		http: httpclient.New(
			httpclient.WithMaxRetries(3),
			httpclient.WithHTTPClient(&http.Client{Timeout: 60 * time.Second}),
		),
	}
}

type chatRequest struct {
	Model       string         `json:"model"`
	Messages    []Message      `json:"messages"`
	Temperature float64        `json:"temperature,omitempty"`
	Stream      bool           `json:"stream,omitempty"`
	ResponseFormat *responseFormat `json:"response_format,omitempty"`
}

type responseFormat struct {
	Type       string          `json:"type"`
	JSONSchema *jsonSchemaSpec `json:"json_schema,omitempty"`
}

type jsonSchemaSpec struct {
	Name   string          `json:"name"`
	Schema *jsonschema.Schema `json:"schema"`
	Strict bool            `json:"strict"`
}

type chatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
	Usage struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
	} `json:"usage"`
}

// Generate produces a plain-text completion for messages.
func (c *Client) Generate(ctx context.Context, messages []Message) (string, int, int, error) {
	req := chatRequest{Model: c.defaultModel, Messages: messages, Temperature: 0.2}
	resp, err := c.post(ctx, req)
	if err != nil {
		return "", 0, 0, err
	}
	if len(resp.Choices) == 0 {
		return "", 0, 0, apperrors.New(apperrors.QueryFailed, "llm", "generate", "empty choices in response")
	}
	return resp.Choices[0].Message.Content, resp.Usage.PromptTokens, resp.Usage.CompletionTokens, nil
}

// GenerateStructured produces a response constrained to schema (derived
// from the shape of out) and unmarshals it into out. name labels the schema
// in the request for providers that surface it in error messages.
func (c *Client) GenerateStructured(ctx context.Context, messages []Message, name string, out interface{}) (int, int, error) {
	reflector := &jsonschema.Reflector{DoNotReference: true, ExpandedStruct: true}
	schema := reflector.Reflect(out)

	req := chatRequest{
		Model:       c.defaultModel,
		Messages:    messages,
		Temperature: 0.0,
		ResponseFormat: &responseFormat{
			Type:       "json_schema",
			JSONSchema: &jsonSchemaSpec{Name: name, Schema: schema, Strict: true},
		},
	}

	resp, err := c.post(ctx, req)
	if err != nil {
		return 0, 0, err
	}
	if len(resp.Choices) == 0 {
		return 0, 0, apperrors.New(apperrors.QueryFailed, "llm", "generate_structured", "empty choices in response")
	}

	if err := json.Unmarshal([]byte(resp.Choices[0].Message.Content), out); err != nil {
		return 0, 0, apperrors.Wrap(apperrors.QueryFailed, "llm", "generate_structured",
			"model response did not match the requested schema for "+name, err)
	}
	return resp.Usage.PromptTokens, resp.Usage.CompletionTokens, nil
}

func (c *Client) post(ctx context.Context, reqBody chatRequest) (*chatResponse, error) {
	body, err := json.Marshal(reqBody)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.QueryFailed, "llm", "request", "marshalling request body", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return nil, apperrors.Wrap(apperrors.QueryFailed, "llm", "request", "building request", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.http.Do(httpReq)
	if err != nil {
		if ctx.Err() == context.DeadlineExceeded {
			return nil, apperrors.Wrap(apperrors.Timeout, "llm", "request", "chat completions request timed out", err)
		}
		return nil, apperrors.Wrap(apperrors.QueryFailed, "llm", "request", "calling chat completions endpoint", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return nil, apperrors.New(apperrors.QueryFailed, "llm", "request", fmt.Sprintf("chat completions returned HTTP %d", resp.StatusCode))
	}

	var out chatResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, apperrors.Wrap(apperrors.QueryFailed, "llm", "request", "decoding response body", err)
	}
	return &out, nil
}
