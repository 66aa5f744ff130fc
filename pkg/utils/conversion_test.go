package utils

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestToBool(t *testing.T) {
	assert.True(t, ToBool(true))
	assert.True(t, ToBool("true"))
	assert.True(t, ToBool("1"))
	assert.True(t, ToBool(1))
	assert.False(t, ToBool(false))
	assert.False(t, ToBool("false"))
	assert.False(t, ToBool(nil))
	assert.False(t, ToBool("garbage"))
}

func TestToStringSlice(t *testing.T) {
	assert.Equal(t, []string{"a", "b"}, ToStringSlice([]interface{}{"a", "b"}))
	assert.Equal(t, []string{"a"}, ToStringSlice([]string{"a"}))
	assert.Equal(t, []string{"a", "1"}, ToStringSlice([]interface{}{"a", 1}))
	assert.Nil(t, ToStringSlice("not a list"))
}

func TestFormatTextArray(t *testing.T) {
	assert.Equal(t, `{}`, FormatTextArray(nil))
	assert.Equal(t, `{"a","b"}`, FormatTextArray([]string{"a", "b"}))
	assert.Equal(t, `{"say \"hi\""}`, FormatTextArray([]string{`say "hi"`}))
	assert.Equal(t, `{"back\\slash"}`, FormatTextArray([]string{`back\slash`}))
}

func TestParseTextArray(t *testing.T) {
	assert.Equal(t, []string{}, ParseTextArray(`{}`))
	assert.Equal(t, []string{"a", "b"}, ParseTextArray(`{a,b}`))
	assert.Equal(t, []string{"a", "b"}, ParseTextArray(`{"a","b"}`))
	assert.Equal(t, []string{`say "hi"`}, ParseTextArray(`{"say \"hi\""}`))
	assert.Equal(t, []string{"with space"}, ParseTextArray(`{"with space"}`))
}

func TestParseTextArray_RoundTrip(t *testing.T) {
	values := []string{"plain", `quo"ted`, "with,comma", `back\slash`}
	assert.Equal(t, values, ParseTextArray(FormatTextArray(values)))
}
