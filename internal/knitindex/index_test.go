package knitindex

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/prn-tf/knitstore/internal/domain"
)

func TestHasNoEOL(t *testing.T) {
	assert.True(t, HasNoEOL([]string{"line-delta", string(domain.FlagNoEOL)}))
	assert.False(t, HasNoEOL([]string{"line-delta"}))
	assert.False(t, HasNoEOL(nil))
}

func TestMethodFromOptions(t *testing.T) {
	assert.Equal(t, domain.MethodFulltext, MethodFromOptions([]string{"fulltext"}))
	assert.Equal(t, domain.MethodLineDelta, MethodFromOptions([]string{"line-delta", string(domain.FlagNoEOL)}))
	assert.Equal(t, domain.StorageMethod(""), MethodFromOptions([]string{string(domain.FlagNoEOL)}))
	assert.Equal(t, domain.StorageMethod(""), MethodFromOptions(nil))
}
