package files

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type flakyDeleter struct {
	failuresLeft map[string]int
	calls        int
}

func (d *flakyDeleter) DeleteObjects(ctx context.Context, keys []string) ([]string, error) {
	d.calls++
	var failed []string
	for _, key := range keys {
		if d.failuresLeft[key] > 0 {
			d.failuresLeft[key]--
			failed = append(failed, key)
		}
	}
	if len(failed) > 0 {
		return failed, errors.New("slow down")
	}
	return nil, nil
}

func TestPurgeKeysRetriesFailures(t *testing.T) {
	d := &flakyDeleter{failuresLeft: map[string]int{"b": 1}}
	pending, err := PurgeKeys(context.Background(), d, []string{"a", "b"}, 2, 0)
	require.NoError(t, err)
	assert.Empty(t, pending)
	assert.Equal(t, 2, d.calls)
}

func TestPurgeKeysGivesUp(t *testing.T) {
	d := &flakyDeleter{failuresLeft: map[string]int{"b": 10}}
	pending, err := PurgeKeys(context.Background(), d, []string{"a", "b"}, 2, 0)
	require.Error(t, err)
	assert.Equal(t, []string{"b"}, pending)
	assert.Equal(t, 3, d.calls)
}

func TestMimePatterns(t *testing.T) {
	patterns, err := compileMimePatterns([]string{"image/*", " Application/PDF ", ""})
	require.NoError(t, err)
	assert.True(t, patterns.matches("image/png"))
	assert.True(t, patterns.matches("image/svg+xml"))
	assert.True(t, patterns.matches("application/pdf"))
	assert.False(t, patterns.matches("application/pdfx"))
	assert.False(t, patterns.matches("video/mp4"))

	_, err = compileMimePatterns([]string{" "})
	require.Error(t, err)
}
