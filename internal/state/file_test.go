package state

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"ipwatch/internal/types"
)

func TestFileStore(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "nested", SavedFileName)
	s := NewFileStore(path, zaptest.NewLogger(t))

	_, err := s.Load(ctx)
	assert.ErrorIs(t, err, ErrNotFound)

	want := types.SavedIPPair{External: "203.0.113.7", Local: "192.168.1.20"}
	require.NoError(t, s.Save(ctx, want))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "203.0.113.7\n192.168.1.20\n", string(data))

	got, err := s.Load(ctx)
	require.NoError(t, err)
	assert.Equal(t, want, *got)
	require.NoError(t, s.Close())
}

func TestFileStoreCorrupt(t *testing.T) {
	testCases := map[string]string{
		"empty":         "",
		"single line":   "203.0.113.7\n",
		"bad external":  "not-an-ip\n192.168.1.20\n",
		"bad local":     "203.0.113.7\nlocalhost\n",
		"garbage":       "\x00\x01\x02",
		"blank line":    "\n\n",
		"whitespace ip": "203.0.113.7 x\n192.168.1.20\n",
	}

	for name, content := range testCases {
		t.Run(name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), SavedFileName)
			require.NoError(t, os.WriteFile(path, []byte(content), 0644))

			_, err := NewFileStore(path, nil).Load(context.Background())
			assert.ErrorIs(t, err, ErrCorrupt)
		})
	}
}

func TestFileStoreToleratesCRLF(t *testing.T) {
	path := filepath.Join(t.TempDir(), SavedFileName)
	require.NoError(t, os.WriteFile(path, []byte("203.0.113.7\r\n10.0.0.2\r\n"), 0644))

	got, err := NewFileStore(path, nil).Load(context.Background())
	require.NoError(t, err)
	assert.Equal(t, types.SavedIPPair{External: "203.0.113.7", Local: "10.0.0.2"}, *got)
}

func TestFileStoreRejectsInvalidPair(t *testing.T) {
	path := filepath.Join(t.TempDir(), SavedFileName)
	s := NewFileStore(path, nil)

	err := s.Save(context.Background(), types.SavedIPPair{External: "", Local: "127.0.0.1"})
	assert.ErrorIs(t, err, ErrCorrupt)

	_, statErr := os.Stat(path)
	assert.True(t, os.IsNotExist(statErr))
}

func TestNew(t *testing.T) {
	dir := t.TempDir()

	s, err := New(Config{}, dir, nil)
	require.NoError(t, err)
	fs, ok := s.(*FileStore)
	require.True(t, ok)
	assert.Equal(t, filepath.Join(dir, SavedFileName), fs.Path())

	s, err = New(Config{Driver: DriverFile, Path: "/tmp/x.txt"}, "", nil)
	require.NoError(t, err)
	assert.Equal(t, "/tmp/x.txt", s.(*FileStore).Path())

	_, err = New(Config{}, "", nil)
	assert.Error(t, err)

	_, err = New(Config{Driver: "etcd"}, dir, nil)
	assert.Error(t, err)

	_, err = New(Config{Driver: DriverRedis}, dir, nil)
	assert.Error(t, err)
}
