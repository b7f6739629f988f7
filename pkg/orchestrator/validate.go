package orchestrator

import (
	"fmt"
	"regexp"

	"github.com/kadirpekel/queryagent/pkg/apperrors"
	"github.com/kadirpekel/queryagent/pkg/model"
)

// tableRefPattern matches the table name following a FROM or JOIN keyword,
// quoted or bare, for the pre-execution table-reference check below. It
// doesn't attempt to parse SQL in general; subquery/CTE aliases simply
// don't match an identifier immediately after FROM/JOIN and are skipped.
var tableRefPattern = regexp.MustCompile(`(?i)\b(?:FROM|JOIN)\s+"?([A-Za-z_][A-Za-z0-9_]*)"?`)

// referencedTables returns the distinct table names an inline SQL query
// string references via FROM/JOIN.
func referencedTables(sql string) []string {
	matches := tableRefPattern.FindAllStringSubmatch(sql, -1)
	seen := map[string]bool{}
	var tables []string
	for _, m := range matches {
		if !seen[m[1]] {
			seen[m[1]] = true
			tables = append(tables, m[1])
		}
	}
	return tables
}

// validatePlan enforces the plan validation rules: contiguous indices from
// 1, known tools with typed required arguments, inline SQL or a
// sub_question on every query step, and table references resolvable to an
// earlier step or an already-registered workspace table.
func validatePlan(plan *model.Plan, tools map[string]model.ToolSpec, knownTables map[string]bool) error {
	if len(plan.Steps) == 0 {
		return apperrors.New(apperrors.PlanInvalid, "orchestrator", "validate", "plan has no steps")
	}

	produced := map[string]bool{}
	for k := range knownTables {
		produced[k] = true
	}

	for i, step := range plan.Steps {
		if step.Index != i+1 {
			return apperrors.New(apperrors.PlanInvalid, "orchestrator", "validate",
				fmt.Sprintf("step indices must be contiguous from 1, got %d at position %d", step.Index, i+1))
		}

		switch step.Kind {
		case model.StepToolCall:
			tool, ok := tools[step.ToolName]
			if !ok {
				return apperrors.New(apperrors.PlanInvalid, "orchestrator", "validate", "unknown tool "+step.ToolName)
			}
			if err := validateToolArgs(tool, step.Arguments); err != nil {
				return err
			}
			produced[fmt.Sprintf("step%d_%s", step.Index, step.ToolName)] = true

		case model.StepQuery:
			if step.SQL == "" && step.SubQuestion == "" {
				return apperrors.New(apperrors.PlanInvalid, "orchestrator", "validate",
					fmt.Sprintf("query step %d needs inline SQL or a sub_question", step.Index))
			}
			if step.SQL != "" {
				for _, t := range referencedTables(step.SQL) {
					if !produced[t] {
						return apperrors.New(apperrors.PlanInvalid, "orchestrator", "validate",
							fmt.Sprintf("query step %d references unknown table %s", step.Index, t))
					}
				}
			}
			produced[fmt.Sprintf("step%d_query", step.Index)] = true

		case model.StepVisualization:
			if step.TableName == "" {
				return apperrors.New(apperrors.PlanInvalid, "orchestrator", "validate",
					fmt.Sprintf("visualization step %d needs a table_name", step.Index))
			}
			if !produced[step.TableName] {
				return apperrors.New(apperrors.PlanInvalid, "orchestrator", "validate",
					fmt.Sprintf("visualization step %d references unknown table %s", step.Index, step.TableName))
			}

		default:
			return apperrors.New(apperrors.PlanInvalid, "orchestrator", "validate", "unknown step kind "+string(step.Kind))
		}
	}
	return nil
}

func validateToolArgs(tool model.ToolSpec, args map[string]interface{}) error {
	for _, p := range tool.Parameters {
		if !p.Required {
			continue
		}
		v, ok := args[p.Name]
		if !ok || v == nil {
			return apperrors.New(apperrors.PlanInvalid, "orchestrator", "validate",
				fmt.Sprintf("tool %s missing required argument %s", tool.Name, p.Name))
		}
		if !typeMatches(p.Type, v) {
			return apperrors.New(apperrors.PlanInvalid, "orchestrator", "validate",
				fmt.Sprintf("tool %s argument %s must be of type %s", tool.Name, p.Name, p.Type))
		}
	}
	return nil
}

func typeMatches(want string, v interface{}) bool {
	switch want {
	case "string":
		_, ok := v.(string)
		return ok
	case "number":
		switch v.(type) {
		case float64, float32, int, int32, int64:
			return true
		default:
			return false
		}
	case "bool", "boolean":
		_, ok := v.(bool)
		return ok
	case "object":
		_, ok := v.(map[string]interface{})
		return ok
	case "array":
		_, ok := v.([]interface{})
		return ok
	default:
		return true
	}
}
