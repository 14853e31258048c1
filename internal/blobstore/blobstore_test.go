package blobstore

import (
	"context"
	"errors"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemory_RoundTrip(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()

	key := ObjectKey(uuid.New(), uuid.New())
	ref, err := m.Put(ctx, key, []byte("hostname core1"))
	require.NoError(t, err)
	assert.Equal(t, "mem://backups/"+key, ref)

	data, err := m.Get(ctx, ref)
	require.NoError(t, err)
	assert.Equal(t, "hostname core1", string(data))

	require.NoError(t, m.Delete(ctx, ref))
	_, err = m.Get(ctx, ref)
	assert.True(t, errors.Is(err, ErrNotFound))
	assert.Equal(t, 0, m.Len())
}

func TestParseRef(t *testing.T) {
	key, err := ParseRef("s3://configs/backups/a/b.cfg", "s3", "configs")
	require.NoError(t, err)
	assert.Equal(t, "backups/a/b.cfg", key)

	for _, ref := range []string{
		"azblob://configs/backups/a/b.cfg",
		"s3://other/backups/a/b.cfg",
		"s3://configs/",
		"",
	} {
		_, err := ParseRef(ref, "s3", "configs")
		assert.ErrorIs(t, err, ErrBadRef, ref)
	}
}
