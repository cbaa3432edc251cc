//go:build unix

package docstore

import (
	"context"
	"os"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestLockerStaleSentinel(t *testing.T) {
	// A sentinel left behind by a crashed process carries no flock and must
	// not block the document.
	l := NewLocker(t.TempDir(), LockOptions{})
	require.NoError(t, os.WriteFile(l.Path("crashed.json"), nil, 0o644))

	lk, err := l.Acquire(context.Background(), "crashed.json")
	require.NoError(t, err)
	require.NoError(t, lk.Release())
	_, err = os.Stat(l.Path("crashed.json"))
	require.ErrorIs(t, err, os.ErrNotExist)
}
