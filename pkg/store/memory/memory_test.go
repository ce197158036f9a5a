package memory

import (
	"testing"

	"github.com/marmos91/dittolog/pkg/store"
	storetesting "github.com/marmos91/dittolog/pkg/store/testing"
)

func TestMemoryStore(t *testing.T) {
	suite := &storetesting.StoreTestSuite{
		NewBackend: func(t *testing.T) store.Backend {
			return New()
		},
	}
	suite.Run(t)
}
