package claim

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRandomCode_Format(t *testing.T) {
	for i := 0; i < 2000; i++ {
		code, err := randomCode()
		require.NoError(t, err)
		require.Regexp(t, `^\d{6}$`, code)
	}
}

func TestFormatCode(t *testing.T) {
	assert.Equal(t, "123 456", FormatCode("123456"))
	assert.Equal(t, "000 042", FormatCode("000042"))
	assert.Equal(t, "12345", FormatCode("12345"))
}

func TestNormalizeCode(t *testing.T) {
	assert.Equal(t, "123456", NormalizeCode(" 123 456 "))
	assert.True(t, IsWellFormed(NormalizeCode("123 456")))
	assert.False(t, IsWellFormed("12a456"))
	assert.False(t, IsWellFormed("1234567"))
	assert.False(t, IsWellFormed("١٢٣٤٥٦"))
}

func TestClaimURL(t *testing.T) {
	assert.Equal(t, "https://mail.example/claim?code=123456", ClaimURL("https://mail.example/claim", "123456"))
	assert.Equal(t, "https://mail.example/claim?code=123456&ref=mail", ClaimURL("https://mail.example/claim?ref=mail", "123456"))
	assert.Equal(t, "?code=123456", ClaimURL("", "123456"))
}
