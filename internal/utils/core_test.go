package utils

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestGenerateNanoIDWithPrefix(t *testing.T) {
	id := GenerateNanoIDWithPrefix("acct", 16)
	assert.True(t, strings.HasPrefix(id, "acct_"))
	assert.Len(t, id, len("acct_")+16)

	other := GenerateNanoIDWithPrefix("acct", 16)
	assert.NotEqual(t, id, other)
}

func TestNormalizeMessageID(t *testing.T) {
	assert.Equal(t, "abc@example.com", NormalizeMessageID("<abc@example.com>"))
	assert.Equal(t, "abc@example.com", NormalizeMessageID("  <abc@example.com>  "))
	assert.Equal(t, "abc@example.com", NormalizeMessageID("abc@example.com"))
	assert.Equal(t, "", NormalizeMessageID(""))
}

func TestNormalizeEmailSubject(t *testing.T) {
	assert.Equal(t, "quarterly numbers", NormalizeEmailSubject("Re: quarterly numbers"))
	assert.Equal(t, "quarterly numbers", NormalizeEmailSubject("RE: FWD: quarterly numbers"))
	assert.Equal(t, "quarterly numbers", NormalizeEmailSubject("Fw: Re: quarterly numbers"))
	assert.Equal(t, "quarterly numbers", NormalizeEmailSubject("quarterly numbers"))
	assert.Equal(t, "", NormalizeEmailSubject(""))
}

func TestIsStringInSlice(t *testing.T) {
	assert.True(t, IsStringInSlice("b", []string{"a", "b"}))
	assert.False(t, IsStringInSlice("c", []string{"a", "b"}))
	assert.False(t, IsStringInSlice("a", nil))
}
