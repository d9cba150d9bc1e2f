// SPDX-License-Identifier: MIT

package validate

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidatorAccumulatesErrors(t *testing.T) {
	v := New()
	v.Port("ui.port", 0)
	v.NotEmpty("name", "  ")
	v.URL("url", "ftp://example.com/live", []string{"rtmp", "rtmps"})

	assert.False(t, v.IsValid())
	assert.Len(t, v.Errors(), 3)

	err := v.Err()
	require.Error(t, err)

	var verr ValidationError
	require.True(t, errors.As(err, &verr))
	assert.Len(t, verr.Errors(), 3)
	assert.Contains(t, verr.Error(), "ui.port")
	assert.Contains(t, verr.Error(), "name")
	assert.Contains(t, verr.Error(), "url")
}

func TestValidatorValidInput(t *testing.T) {
	v := New()
	v.Port("port", 1935)
	v.URL("url", "rtmps://live.example.com/app", []string{"rtmp", "rtmps"})
	v.NotEmpty("key", "sk_live")
	v.Range("delay", 5000, 0, 60000)

	assert.True(t, v.IsValid())
	assert.NoError(t, v.Err())
}

func TestURLRequiresHost(t *testing.T) {
	v := New()
	v.URL("url", "rtmp://", []string{"rtmp"})
	require.False(t, v.IsValid())
	assert.Contains(t, v.Errors()[0].Message, "host")
}

func TestErrReturnsNilWhenValid(t *testing.T) {
	v := New()
	assert.NoError(t, v.Err())
}

func TestMatchUsesPredicate(t *testing.T) {
	isLower := func(s string) bool { return s == "abc" }

	v := New()
	v.Match("id", "abc", "must be lowercase", isLower)
	assert.True(t, v.IsValid())

	v.Match("id", "ABC", "must be lowercase", isLower)
	require.False(t, v.IsValid())
	assert.Equal(t, "must be lowercase", v.Errors()[0].Message)
}
