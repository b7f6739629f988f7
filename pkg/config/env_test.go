package config

import (
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestExpandEnvVarsBraced(t *testing.T) {
	t.Setenv("QA_TEST_HOST", "db.internal")
	assert.Equal(t, "db.internal", expandEnvVars("${QA_TEST_HOST}"))
}

func TestExpandEnvVarsWithDefaultUsesEnvWhenSet(t *testing.T) {
	t.Setenv("QA_TEST_KEY", "real-key")
	assert.Equal(t, "real-key", expandEnvVars("${QA_TEST_KEY:-fallback}"))
}

func TestExpandEnvVarsWithDefaultFallsBackWhenUnset(t *testing.T) {
	os.Unsetenv("QA_TEST_UNSET")
	assert.Equal(t, "fallback", expandEnvVars("${QA_TEST_UNSET:-fallback}"))
}

func TestExpandEnvVarsSimpleForm(t *testing.T) {
	t.Setenv("QA_TEST_SIMPLE", "value")
	assert.Equal(t, "value", expandEnvVars("$QA_TEST_SIMPLE"))
}

func TestExpandEnvVarsLeavesPlainStringsUntouched(t *testing.T) {
	assert.Equal(t, "no vars here", expandEnvVars("no vars here"))
}

func TestParseValue(t *testing.T) {
	assert.Equal(t, true, parseValue("true"))
	assert.Equal(t, false, parseValue("FALSE"))
	assert.Equal(t, 42, parseValue("42"))
	assert.Equal(t, 3.14, parseValue("3.14"))
	assert.Equal(t, "hello", parseValue("hello"))
}

func TestExpandEnvVarsInDataRecursesThroughMapsAndSlices(t *testing.T) {
	t.Setenv("QA_TEST_PORT", "5432")
	data := map[string]interface{}{
		"port": "${QA_TEST_PORT}",
		"tags": []interface{}{"${QA_TEST_PORT}", "static"},
	}
	out := ExpandEnvVarsInData(data).(map[string]interface{})
	assert.Equal(t, 5432, out["port"])
	tags := out["tags"].([]interface{})
	assert.Equal(t, 5432, tags[0])
	assert.Equal(t, "static", tags[1])
}

func TestGetProviderAPIKey(t *testing.T) {
	t.Setenv("OPENAI_API_KEY", "sk-test")
	assert.Equal(t, "sk-test", GetProviderAPIKey("openai"))
	assert.Equal(t, "", GetProviderAPIKey("unknown-provider"))
}
