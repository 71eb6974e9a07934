//go:build integration

package procurement

import (
	"context"
	"testing"

	"github.com/vajraai/vajra/internal/testutil"
)

func TestPostgresStore_Container(t *testing.T) {
	db := testutil.PGContainer(t)
	runStoreContract(t, func(t *testing.T) Store {
		t.Cleanup(func() { testutil.TruncateAll(context.Background(), db) })
		return NewPostgresStore(db)
	})
}
