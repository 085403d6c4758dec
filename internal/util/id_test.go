package util

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNewID(t *testing.T) {
	id := NewID("pl")
	assert.True(t, strings.HasPrefix(id, "pl_"))
	assert.Len(t, id, len("pl_")+24)
	assert.NotEqual(t, id, NewID("pl"))
	assert.Len(t, NewID(""), 24)
}
