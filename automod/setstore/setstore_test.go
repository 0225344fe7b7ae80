package setstore

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestMemSetStoreBasics(t *testing.T) {
	assert := assert.New(t)
	ctx := context.Background()

	ss := NewMemSetStore()

	ok, err := ss.InSet(ctx, "suspicious-domains", "bit.ly")
	assert.NoError(err)
	assert.False(ok)

	assert.NoError(ss.AddToSet(ctx, "suspicious-domains", []string{"bit.ly", "tinyurl.com"}))
	ok, err = ss.InSet(ctx, "suspicious-domains", "bit.ly")
	assert.NoError(err)
	assert.True(ok)
	ok, err = ss.InSet(ctx, "suspicious-domains", "example.com")
	assert.NoError(err)
	assert.False(ok)
}

func TestMemSetStoreLoadJSON(t *testing.T) {
	assert := assert.New(t)
	ctx := context.Background()

	p := filepath.Join(t.TempDir(), "sets.json")
	assert.NoError(os.WriteFile(p, []byte(`{"shareable-actions": ["force_join:verify"]}`), 0644))

	ss := NewMemSetStore()
	assert.NoError(ss.LoadFromFileJSON(p))

	ok, err := ss.InSet(ctx, "shareable-actions", "force_join:verify")
	assert.NoError(err)
	assert.True(ok)
}
