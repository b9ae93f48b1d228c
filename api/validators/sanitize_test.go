package validators

import (
	"testing"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
)

func TestSanitizeString(t *testing.T) {
	assert.Equal(t, "ordered twice", SanitizeString("  ordered twice\t", 0))
	assert.Equal(t, "line one\nline two", SanitizeString("line one\x00\nline two\x1b", 100))
	assert.Equal(t, "abc", SanitizeString("abcdef", 3))

	got := SanitizeString("कवर टूट गया", 4)
	assert.True(t, utf8.ValidString(got))
	assert.Equal(t, "कवर", got)
}
