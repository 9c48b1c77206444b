package mongostore

import (
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/nainya/metastore/pkg/docstore"
	"github.com/nainya/metastore/pkg/docstore/storetest"
)

// Set METASTORE_TEST_MONGO_URL (e.g. mongodb://localhost:27017/metastore_test)
// to run against a live server.
func TestStoreContract(t *testing.T) {
	url := os.Getenv("METASTORE_TEST_MONGO_URL")
	if url == "" {
		t.Skip("METASTORE_TEST_MONGO_URL not set")
	}

	n := 0
	storetest.Run(t, func(t *testing.T) docstore.Store {
		n++
		s, err := Open(Config{
			URL:        url,
			Collection: fmt.Sprintf("records_%d_%d", time.Now().UnixNano(), n),
			Timeout:    5 * time.Second,
		})
		require.NoError(t, err)
		t.Cleanup(func() {
			_ = s.DropAll()
			s.Close()
		})
		return s
	})
}
