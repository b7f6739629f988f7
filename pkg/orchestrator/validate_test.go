package orchestrator

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kadirpekel/queryagent/pkg/apperrors"
	"github.com/kadirpekel/queryagent/pkg/model"
)

func fetchTool() model.ToolSpec {
	return model.ToolSpec{
		Name: "fetch_kosis_data",
		Parameters: []model.ToolParam{
			{Name: "table", Type: "string", Required: true},
			{Name: "filters", Type: "object", Required: false},
		},
	}
}

func TestValidatePlan(t *testing.T) {
	tools := map[string]model.ToolSpec{"fetch_kosis_data": fetchTool()}

	t.Run("empty plan rejected", func(t *testing.T) {
		err := validatePlan(&model.Plan{}, tools, nil)
		require.Error(t, err)
		assert.Equal(t, apperrors.PlanInvalid, apperrors.KindOf(err))
	})

	t.Run("non contiguous indices rejected", func(t *testing.T) {
		plan := &model.Plan{Steps: []model.Step{
			{Index: 2, Kind: model.StepQuery, SQL: "SELECT 1"},
		}}
		err := validatePlan(plan, tools, nil)
		require.Error(t, err)
	})

	t.Run("query step needs sql or sub_question", func(t *testing.T) {
		plan := &model.Plan{Steps: []model.Step{
			{Index: 1, Kind: model.StepQuery},
		}}
		err := validatePlan(plan, tools, nil)
		require.Error(t, err)
	})

	t.Run("tool call validated against tool spec", func(t *testing.T) {
		plan := &model.Plan{Steps: []model.Step{
			{Index: 1, Kind: model.StepToolCall, ToolName: "fetch_kosis_data", Arguments: map[string]interface{}{
				"table": "statistics_list",
			}},
		}}
		require.NoError(t, validatePlan(plan, tools, nil))
	})

	t.Run("tool call missing required argument rejected", func(t *testing.T) {
		plan := &model.Plan{Steps: []model.Step{
			{Index: 1, Kind: model.StepToolCall, ToolName: "fetch_kosis_data", Arguments: map[string]interface{}{}},
		}}
		err := validatePlan(plan, tools, nil)
		require.Error(t, err)
	})

	t.Run("unknown tool rejected", func(t *testing.T) {
		plan := &model.Plan{Steps: []model.Step{
			{Index: 1, Kind: model.StepToolCall, ToolName: "not_a_tool"},
		}}
		err := validatePlan(plan, tools, nil)
		require.Error(t, err)
	})

	t.Run("visualization step resolves a produced table", func(t *testing.T) {
		plan := &model.Plan{Steps: []model.Step{
			{Index: 1, Kind: model.StepQuery, SQL: "SELECT 1"},
			{Index: 2, Kind: model.StepVisualization, TableName: "step1_query"},
		}}
		require.NoError(t, validatePlan(plan, tools, nil))
	})

	t.Run("visualization step can reference an already-known table", func(t *testing.T) {
		plan := &model.Plan{Steps: []model.Step{
			{Index: 1, Kind: model.StepVisualization, TableName: "sales"},
		}}
		require.NoError(t, validatePlan(plan, tools, map[string]bool{"sales": true}))
	})

	t.Run("visualization step referencing unknown table rejected", func(t *testing.T) {
		plan := &model.Plan{Steps: []model.Step{
			{Index: 1, Kind: model.StepVisualization, TableName: "ghost"},
		}}
		err := validatePlan(plan, tools, nil)
		require.Error(t, err)
	})

	t.Run("query step referencing an earlier step's table is fine", func(t *testing.T) {
		plan := &model.Plan{Steps: []model.Step{
			{Index: 1, Kind: model.StepQuery, SQL: "SELECT 1"},
			{Index: 2, Kind: model.StepQuery, SQL: `SELECT region FROM "step1_query"`},
		}}
		require.NoError(t, validatePlan(plan, tools, nil))
	})

	t.Run("query step referencing an unproduced table rejected before execution", func(t *testing.T) {
		plan := &model.Plan{Steps: []model.Step{
			{Index: 1, Kind: model.StepQuery, SQL: "SELECT * FROM step99_foo"},
		}}
		err := validatePlan(plan, tools, nil)
		require.Error(t, err)
		assert.Equal(t, apperrors.PlanInvalid, apperrors.KindOf(err))
	})
}

func TestTypeMatches(t *testing.T) {
	assert.True(t, typeMatches("string", "x"))
	assert.False(t, typeMatches("string", 1))
	assert.True(t, typeMatches("number", 1.5))
	assert.True(t, typeMatches("number", 1))
	assert.False(t, typeMatches("number", "1"))
	assert.True(t, typeMatches("bool", true))
	assert.True(t, typeMatches("object", map[string]interface{}{}))
	assert.True(t, typeMatches("array", []interface{}{}))
	assert.True(t, typeMatches("anything-else", 42))
}
