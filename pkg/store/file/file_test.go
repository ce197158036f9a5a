package file

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/marmos91/dittolog/pkg/store"
	storetesting "github.com/marmos91/dittolog/pkg/store/testing"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFileStore(t *testing.T) {
	suite := &storetesting.StoreTestSuite{
		NewBackend: func(t *testing.T) store.Backend {
			s, err := New(context.Background(), Config{
				Path: filepath.Join(t.TempDir(), "aesdsocketdata"),
			})
			require.NoError(t, err)
			return s
		},
	}
	suite.Run(t)
}

func TestNew_TruncatesExistingFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "aesdsocketdata")
	require.NoError(t, os.WriteFile(path, []byte("stale content\n"), 0644))

	s, err := New(context.Background(), Config{Path: path})
	require.NoError(t, err)
	defer func() { _ = s.Close() }()

	size, err := s.Size(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(0), size)

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, int64(0), info.Size())
}

func TestNew_CreatesOwnerOnlyFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "aesdsocketdata")

	s, err := New(context.Background(), Config{Path: path, Fsync: true})
	require.NoError(t, err)
	defer func() { _ = s.Close() }()

	require.NoError(t, s.Append(context.Background(), []byte("hello\n")))

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0600), info.Mode().Perm())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "hello\n", string(data))
}

func TestRemove_DeletesFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "aesdsocketdata")

	s, err := New(context.Background(), Config{Path: path})
	require.NoError(t, err)
	require.NoError(t, s.Close())
	require.NoError(t, s.Remove())

	_, err = os.Stat(path)
	assert.True(t, os.IsNotExist(err))
}

func TestNew_CancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := New(ctx, Config{Path: filepath.Join(t.TempDir(), "x")})
	assert.ErrorIs(t, err, context.Canceled)
}

// tornFile accepts only the first half of the next write and then fails.
type tornFile struct {
	storeFile
	fail bool
}

func (f *tornFile) Write(p []byte) (int, error) {
	if !f.fail {
		return f.storeFile.Write(p)
	}
	n, err := f.storeFile.Write(p[:len(p)/2])
	if err != nil {
		return n, err
	}
	return n, errors.New("no space left on device")
}

func TestAppend_PartialWriteIsRolledBack(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "aesdsocketdata")

	s, err := New(ctx, Config{Path: path})
	require.NoError(t, err)
	defer func() { _ = s.Close() }()

	torn := &tornFile{storeFile: s.f}
	s.f = torn

	require.NoError(t, s.Append(ctx, []byte("first\n")))

	torn.fail = true
	err = s.Append(ctx, []byte("second packet\n"))
	require.Error(t, err)

	size, err := s.Size(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(len("first\n")), size)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "first\n", string(data), "torn bytes must not stay in the file")

	torn.fail = false
	require.NoError(t, s.Append(ctx, []byte("third\n")))

	data, err = os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "first\nthird\n", string(data))
}
