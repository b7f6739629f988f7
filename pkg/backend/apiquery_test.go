package backend

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseVirtualQuerySimple(t *testing.T) {
	vq, err := parseVirtualQuery("test", "SELECT * FROM statistics_list")
	require.NoError(t, err)
	assert.Equal(t, "statistics_list", vq.Table)
	assert.Empty(t, vq.Where)
}

func TestParseVirtualQueryWithWhere(t *testing.T) {
	vq, err := parseVirtualQuery("test", "select * from orders where status = 'open' AND region = 2;")
	require.NoError(t, err)
	assert.Equal(t, "orders", vq.Table)
	assert.Equal(t, map[string]string{"status": "open", "region": "2"}, vq.Where)
}

func TestParseVirtualQueryRejectsMissingSelect(t *testing.T) {
	_, err := parseVirtualQuery("test", "UPDATE orders SET x = 1")
	require.Error(t, err)
}

func TestParseVirtualQueryRejectsMissingFrom(t *testing.T) {
	_, err := parseVirtualQuery("test", "SELECT *")
	require.Error(t, err)
}

func TestParseVirtualQueryRejectsJoin(t *testing.T) {
	_, err := parseVirtualQuery("test", "SELECT * FROM a, b")
	require.Error(t, err)
}

func TestParseVirtualQueryRejectsOr(t *testing.T) {
	_, err := parseVirtualQuery("test", "SELECT * FROM orders WHERE a = 1 OR b = 2")
	require.Error(t, err)
}

func TestParseVirtualQueryRejectsNonEqualityPredicate(t *testing.T) {
	_, err := parseVirtualQuery("test", "SELECT * FROM orders WHERE a > 1")
	require.Error(t, err)
}

func TestParseEqClause(t *testing.T) {
	key, val, err := parseEqClause("test", " region = 'seoul' ")
	require.NoError(t, err)
	assert.Equal(t, "region", key)
	assert.Equal(t, "seoul", val)
}

func TestWordIndicesMatchesStandaloneTokensOnly(t *testing.T) {
	assert.True(t, containsWord("SELECT * FROM ORDERS", "FROM"))
	assert.False(t, containsWord("SELECT * FROM FROMAGE", "FROMAGE2"))
	assert.False(t, containsWord("PERFORMANCE", "FORM"))
}
