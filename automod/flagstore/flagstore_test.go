package flagstore

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestMemFlagStoreBasics(t *testing.T) {
	assert := assert.New(t)
	ctx := context.Background()

	fs := NewMemFlagStore()

	l, err := fs.Get(ctx, "user/42")
	assert.NoError(err)
	assert.Empty(l)

	assert.NoError(fs.Add(ctx, "user/42", []string{"media-restricted", "classifier-fallback"}))
	assert.NoError(fs.Add(ctx, "user/42", []string{"media-restricted", "auto-ban-candidate"}))
	l, err = fs.Get(ctx, "user/42")
	assert.NoError(err)
	assert.Equal(3, len(l))

	assert.NoError(fs.Remove(ctx, "user/42", []string{"media-restricted", "auto-ban-candidate", "never-set"}))
	l, err = fs.Get(ctx, "user/42")
	assert.NoError(err)
	assert.Equal([]string{"classifier-fallback"}, l)
}
