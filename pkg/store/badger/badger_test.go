package badger

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/marmos91/dittolog/pkg/store"
	storetesting "github.com/marmos91/dittolog/pkg/store/testing"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBadgerStore(t *testing.T) {
	suite := &storetesting.StoreTestSuite{
		NewBackend: func(t *testing.T) store.Backend {
			s, err := New(context.Background(), Config{Path: filepath.Join(t.TempDir(), "db")})
			require.NoError(t, err)
			return s
		},
	}
	suite.Run(t)
}

func TestBadgerStore_InMemory(t *testing.T) {
	suite := &storetesting.StoreTestSuite{
		NewBackend: func(t *testing.T) store.Backend {
			s, err := New(context.Background(), Config{InMemory: true})
			require.NoError(t, err)
			return s
		},
	}
	suite.Run(t)
}

func TestNew_DropsPreviousContent(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "db")

	s, err := New(ctx, Config{Path: path})
	require.NoError(t, err)
	require.NoError(t, s.Append(ctx, []byte("old\n")))
	require.NoError(t, s.Close())

	s, err = New(ctx, Config{Path: path})
	require.NoError(t, err)
	defer func() { _ = s.Close() }()

	size, err := s.Size(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(0), size)
}

func TestRemove_DeletesDirectory(t *testing.T) {
	path := filepath.Join(t.TempDir(), "db")

	s, err := New(context.Background(), Config{Path: path})
	require.NoError(t, err)
	require.NoError(t, s.Close())
	require.NoError(t, s.Remove())

	_, err = os.Stat(path)
	assert.True(t, os.IsNotExist(err))
}

func TestRecordKey_Ordering(t *testing.T) {
	assert.Less(t, string(recordKey(9)), string(recordKey(10)))
	assert.Less(t, string(recordKey(255)), string(recordKey(256)))
}
