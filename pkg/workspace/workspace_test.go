package workspace

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kadirpekel/queryagent/pkg/model"
)

func TestNormalizeTableName(t *testing.T) {
	assert.Equal(t, "monthly_sales", normalizeTableName("Monthly Sales"))
	assert.Equal(t, "a_b_c", normalizeTableName("a/b.c"))
	assert.Equal(t, "table", normalizeTableName(""))
	assert.Equal(t, "t_2024_sales", normalizeTableName("2024 sales"))
}

func TestNormalizeTableNameTruncates(t *testing.T) {
	long := ""
	for i := 0; i < 100; i++ {
		long += "x"
	}
	got := normalizeTableName(long)
	assert.LessOrEqual(t, len(got), 63)
}

func TestInferColumnTypes(t *testing.T) {
	cols := []string{"id", "price", "label"}
	rows := []model.Row{
		{"id": int64(1), "price": 9.99, "label": "a"},
		{"id": int64(2), "price": 10.0, "label": "b"},
	}
	types := inferColumnTypes(cols, rows)
	assert.Equal(t, typeInteger, types["id"])
	assert.Equal(t, typeReal, types["price"])
	assert.Equal(t, typeText, types["label"])
}

func TestInferColumnTypesAllNullStaysInteger(t *testing.T) {
	types := inferColumnTypes([]string{"x"}, []model.Row{{"x": nil}})
	assert.Equal(t, typeInteger, types["x"])
}

func TestInferColumnTypesMixedNumericDowngradesToText(t *testing.T) {
	rows := []model.Row{
		{"v": int64(1)},
		{"v": "not a number"},
	}
	types := inferColumnTypes([]string{"v"}, rows)
	assert.Equal(t, typeText, types["v"])
}

func TestColumnTypeSQLType(t *testing.T) {
	assert.Equal(t, "INTEGER", typeInteger.sqlType())
	assert.Equal(t, "REAL", typeReal.sqlType())
	assert.Equal(t, "TEXT", typeText.sqlType())
}

func TestPickChartKind(t *testing.T) {
	assert.Equal(t, model.ChartPie, pickChartKind(5, 1))
	assert.Equal(t, model.ChartLine, pickChartKind(20, 2))
	assert.Equal(t, model.ChartBar, pickChartKind(10, 2))
}

func TestColumnIsNumeric(t *testing.T) {
	rows := []model.Row{{"c": 1.0}, {"c": "2.5"}, {"c": nil}}
	assert.True(t, columnIsNumeric(rows, "c"))

	rows2 := []model.Row{{"c": "abc"}}
	assert.False(t, columnIsNumeric(rows2, "c"))
}

func TestToFloat(t *testing.T) {
	assert.Equal(t, 3.0, toFloat(3))
	assert.Equal(t, 3.5, toFloat(3.5))
	assert.Equal(t, 4.0, toFloat("4"))
	assert.Equal(t, 0.0, toFloat(nil))
}

func TestChartifyResultRejectsSingleColumn(t *testing.T) {
	_, err := chartifyResult(&model.QueryResult{Columns: []string{"only"}}, "")
	require.Error(t, err)
}

func TestChartifyResultRejectsNoNumericColumn(t *testing.T) {
	result := &model.QueryResult{
		Columns: []string{"region", "note"},
		Rows:    []model.Row{{"region": "seoul", "note": "n/a"}},
	}
	_, err := chartifyResult(result, "")
	require.Error(t, err)
}

func TestChartifyResultHonoursExplicitHint(t *testing.T) {
	result := &model.QueryResult{
		Columns: []string{"month", "revenue"},
		Rows: []model.Row{
			{"month": "jan", "revenue": 100.0},
			{"month": "feb", "revenue": 200.0},
		},
	}
	data, err := chartifyResult(result, "doughnut")
	require.NoError(t, err)
	assert.Equal(t, model.ChartDoughnut, data.ChartKind)
	assert.Equal(t, []string{"jan", "feb"}, data.Labels)
	require.Len(t, data.Datasets, 1)
	assert.Equal(t, "revenue", data.Datasets[0].Label)
	assert.Equal(t, []float64{100.0, 200.0}, data.Datasets[0].Values)
}

func TestChartifyResultHonoursExplicitColumnHint(t *testing.T) {
	result := &model.QueryResult{
		Columns: []string{"month", "revenue", "cost"},
		Rows: []model.Row{
			{"month": "jan", "revenue": 100.0, "cost": 40.0},
			{"month": "feb", "revenue": 200.0, "cost": 50.0},
		},
	}
	data, err := chartifyResult(result, "month,cost")
	require.NoError(t, err)
	require.Len(t, data.Datasets, 1)
	assert.Equal(t, "cost", data.Datasets[0].Label)
	assert.Equal(t, []float64{40.0, 50.0}, data.Datasets[0].Values)
}

func TestChartifyResultExplicitColumnHintWithKindSuffix(t *testing.T) {
	result := &model.QueryResult{
		Columns: []string{"month", "revenue", "cost"},
		Rows: []model.Row{
			{"month": "jan", "revenue": 100.0, "cost": 40.0},
		},
	}
	data, err := chartifyResult(result, "month,revenue,cost:bar")
	require.NoError(t, err)
	assert.Equal(t, model.ChartBar, data.ChartKind)
	require.Len(t, data.Datasets, 2)
}

func TestChartifyResultFallsBackOnUnknownColumnInHint(t *testing.T) {
	result := &model.QueryResult{
		Columns: []string{"month", "revenue"},
		Rows:    []model.Row{{"month": "jan", "revenue": 100.0}},
	}
	data, err := chartifyResult(result, "month,nonexistent")
	require.NoError(t, err)
	assert.Equal(t, "revenue", data.Datasets[0].Label)
}

func TestChartifyResultFallsBackToPolicyOnUnknownHint(t *testing.T) {
	result := &model.QueryResult{
		Columns: []string{"label", "value"},
		Rows:    []model.Row{{"label": "a", "value": 1.0}},
	}
	data, err := chartifyResult(result, "not-a-real-kind")
	require.NoError(t, err)
	assert.Equal(t, model.ChartPie, data.ChartKind)
}

func TestWorkspaceRegisterAndSQLRoundtrip(t *testing.T) {
	ctx := context.Background()
	ws, err := New(ctx)
	require.NoError(t, err)
	defer ws.Close()

	result := &model.QueryResult{
		Columns: []string{"id", "name"},
		Rows: []model.Row{
			{"id": int64(1), "name": "alice"},
			{"id": int64(2), "name": "bob"},
		},
	}
	name, err := ws.Register(ctx, "Users!", result)
	require.NoError(t, err)
	assert.Equal(t, "users_", name)

	out, err := ws.SQL(ctx, `SELECT COUNT(*) AS n FROM "users_"`)
	require.NoError(t, err)
	require.Len(t, out.Rows, 1)
	assert.EqualValues(t, 2, out.Rows[0]["n"])
}

func TestWorkspaceRegisterDisambiguatesCollisions(t *testing.T) {
	ctx := context.Background()
	ws, err := New(ctx)
	require.NoError(t, err)
	defer ws.Close()

	result := &model.QueryResult{Columns: []string{"x"}, Rows: []model.Row{{"x": int64(1)}}}
	first, err := ws.Register(ctx, "report", result)
	require.NoError(t, err)
	second, err := ws.Register(ctx, "report", result)
	require.NoError(t, err)

	assert.Equal(t, "report", first)
	assert.Equal(t, "report_2", second)
}
