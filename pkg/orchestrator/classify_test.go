package orchestrator

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestClassify(t *testing.T) {
	tests := []struct {
		name      string
		utterance string
		want      Classification
	}{
		{"greeting", "hello, how are you?", ClassGeneral},
		{"select_keyword", "select the top 5 rows from orders", ClassDataAnalysis},
		{"how_many", "how many users signed up last month?", ClassDataAnalysis},
		{"chart_request", "plot a chart of monthly revenue", ClassDataAnalysis},
		{"general_question", "what is the capital of France?", ClassGeneral},
		{"population_stat", "what is the population of Seoul?", ClassDataAnalysis},
		{"mixed_case", "SELECT Count(*) FROM Table", ClassDataAnalysis},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Classify(tt.utterance))
		})
	}
}
