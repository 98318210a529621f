package hash

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSum(t *testing.T) {
	assert.Equal(t, "e3b0c44298fc1c149afbf4c8996fb92427ae41e4649b934ca495991b7852b855", Sum(nil))
	assert.Len(t, Sum([]byte("x")), 64)
}

func TestFieldsSeparatesValues(t *testing.T) {
	assert.NotEqual(t, Fields("ab", "c"), Fields("a", "bc"))
	assert.Equal(t, Fields("a", "b"), Fields("a", "b"))
	assert.Equal(t, Sum([]byte("a\x00b")), Fields("a", "b"))
}
