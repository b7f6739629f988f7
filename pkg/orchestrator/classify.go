package orchestrator

import "strings"

// dataAnalysisKeywords are the terms whose presence routes an utterance into
// the plan loop instead of a direct LLM answer. The boundary is a heuristic,
// not a correctness constraint: a false "general" classification still gets
// a reasonable direct answer, just without tool access.
var dataAnalysisKeywords = []string{
	"select", "query", "table", "database", "sql",
	"how many", "count", "average", "sum", "total", "top",
	"trend", "compare", "chart", "graph", "plot", "visualize", "visualise",
	"statistics", "data", "population", "rate", "percentage",
}

// Classification is the routing decision made before planning.
type Classification string

const (
	ClassGeneral      Classification = "general"
	ClassDataAnalysis Classification = "data_analysis"
)

// Classify applies the keyword heuristic to utterance.
func Classify(utterance string) Classification {
	lower := strings.ToLower(utterance)
	for _, kw := range dataAnalysisKeywords {
		if strings.Contains(lower, kw) {
			return ClassDataAnalysis
		}
	}
	return ClassGeneral
}
