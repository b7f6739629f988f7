package backend

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIsRequiredKOSISParam(t *testing.T) {
	assert.True(t, isRequiredKOSISParam("statistics_search", "searchNm"))
	assert.True(t, isRequiredKOSISParam("statistics_data", "orgId"))
	assert.True(t, isRequiredKOSISParam("statistics_data", "tblId"))
	assert.False(t, isRequiredKOSISParam("statistics_data", "objL1"))
	assert.True(t, isRequiredKOSISParam("statistics_explanation", "statId"))
	assert.True(t, isRequiredKOSISParam("statistics_table_detail", "tblId"))
	assert.True(t, isRequiredKOSISParam("statistics_bigdata", "userStatsId"))
	assert.False(t, isRequiredKOSISParam("statistics_list", "vwCd"))
	assert.False(t, isRequiredKOSISParam("unknown_table", "anything"))
}

func TestNormalizeKOSISValue(t *testing.T) {
	assert.Nil(t, normalizeKOSISValue("C1_NM", ""))
	assert.Equal(t, "서울", normalizeKOSISValue("C1_NM", "서울"))
	assert.InDelta(t, 1234.5, normalizeKOSISValue("DT", "1234.5"), 0.0001)
	assert.Equal(t, "n/a", normalizeKOSISValue("DT", "n/a"))
	assert.Equal(t, 42, normalizeKOSISValue("COUNT", 42))
}

func TestSplitDataPath(t *testing.T) {
	assert.Equal(t, []string{"result"}, splitDataPath("result"))
	assert.Equal(t, []string{"result", "data"}, splitDataPath("result.data"))
	assert.Equal(t, []string{"a", "b", "c"}, splitDataPath("a.b.c"))
}

func TestExtractKOSISRowsFlattensArray(t *testing.T) {
	body := []byte(`{"result":[{"C1_NM":"서울","DT":"100.5"},{"C1_NM":"","DT":""}]}`)
	result, err := extractKOSISRows(body, "result")
	require.NoError(t, err)
	assert.True(t, result.Success)
	assert.Equal(t, 2, result.RowCount)
	assert.Contains(t, result.Columns, "DT")
	assert.InDelta(t, 100.5, result.Rows[0]["DT"], 0.0001)
	assert.Nil(t, result.Rows[1]["DT"])
}

func TestExtractKOSISRowsNestedPath(t *testing.T) {
	body := []byte(`{"result":{"data":[{"tblId":"ABC"}]}}`)
	result, err := extractKOSISRows(body, "result.data")
	require.NoError(t, err)
	assert.Equal(t, 1, result.RowCount)
	assert.Equal(t, "ABC", result.Rows[0]["tblId"])
}
