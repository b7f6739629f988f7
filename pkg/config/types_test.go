package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"
)

func TestBoolPtrAndValue(t *testing.T) {
	assert.True(t, *BoolPtr(true))
	assert.Equal(t, true, BoolValue(BoolPtr(true), false))
	assert.Equal(t, false, BoolValue(nil, false))
	assert.Equal(t, true, BoolValue(nil, true))
}

func TestIntPtr(t *testing.T) {
	assert.Equal(t, 5, *IntPtr(5))
}

type durationHolder struct {
	Timeout Duration `yaml:"timeout"`
}

func TestDurationUnmarshalYAMLString(t *testing.T) {
	var h durationHolder
	require.NoError(t, yaml.Unmarshal([]byte("timeout: 5m"), &h))
	assert.Equal(t, 5*time.Minute, h.Timeout.Duration())
}

func TestDurationUnmarshalYAMLRejectsInvalidString(t *testing.T) {
	var h durationHolder
	err := yaml.Unmarshal([]byte("timeout: not-a-duration"), &h)
	require.Error(t, err)
}

func TestDurationString(t *testing.T) {
	d := Duration(90 * time.Second)
	assert.Equal(t, "1m30s", d.String())
}
