package transport

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/kadirpekel/queryagent/pkg/llm"
	"github.com/kadirpekel/queryagent/pkg/model"
)

type chatCompletionsRequest struct {
	Messages     []llm.Message `json:"messages"`
	Model        string        `json:"model"`
	Stream       bool          `json:"stream"`
	ConnectionID string        `json:"connection_id,omitempty"`
}

// handleChatCompletions is the OpenAI-compatible entry point: it treats the
// last user message as the utterance driving the orchestrator, and streams
// one StreamEvent per SSE frame when stream=true, or collects the whole run
// into a single JSON response otherwise.
func (s *Server) handleChatCompletions(w http.ResponseWriter, r *http.Request) {
	var req chatCompletionsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	utterance := lastUserMessage(req.Messages)
	if utterance == "" {
		writeError(w, http.StatusBadRequest, "no user message found")
		return
	}

	events := s.orchestrator.Run(r.Context(), utterance, req.ConnectionID)

	if !req.Stream {
		var collected []model.StreamEvent
		for ev := range events {
			collected = append(collected, ev)
		}
		writeJSON(w, http.StatusOK, map[string]interface{}{"events": collected})
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)

	for ev := range events {
		data, err := json.Marshal(ev)
		if err != nil {
			continue
		}
		fmt.Fprintf(w, "data: %s\n\n", data)
		flusher.Flush()
	}
	fmt.Fprint(w, "data: [DONE]\n\n")
	flusher.Flush()
}

func lastUserMessage(messages []llm.Message) string {
	for i := len(messages) - 1; i >= 0; i-- {
		if messages[i].Role == "user" {
			return messages[i].Content
		}
	}
	return ""
}

type queryRequest struct {
	Question     string `json:"question"`
	ConnectionID string `json:"connection_id,omitempty"`
}

// handleNaturalLanguageQuery runs the orchestrator to completion and
// returns the aggregated final result plus the executed SQL, without
// streaming intermediate events.
func (s *Server) handleNaturalLanguageQuery(w http.ResponseWriter, r *http.Request) {
	var req queryRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if req.Question == "" {
		writeError(w, http.StatusBadRequest, "missing question")
		return
	}

	events := s.orchestrator.Run(r.Context(), req.Question, req.ConnectionID)

	var final *model.FinalResult
	var errMsg string
	var executedSQL string
	for ev := range events {
		switch ev.Kind {
		case model.EventResult:
			final = ev.Final
		case model.EventError:
			errMsg = ev.Message
		case model.EventQuery:
			if ev.SQL != "" {
				executedSQL = ev.SQL
			}
		}
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"result": final,
		"sql":    executedSQL,
		"error":  errMsg,
	})
}
