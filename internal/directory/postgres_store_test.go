package directory

import (
	"context"
	"testing"

	"github.com/mbd888/bankguard/internal/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPostgresStore_TierOf(t *testing.T) {
	db, cleanup := testutil.PGTest(t)
	defer cleanup()
	store := NewPostgresStore(db)
	ctx := context.Background()

	_, err := db.Exec(`INSERT INTO customers (id, name, customer_type) VALUES
		('c-biz', 'Acme', 'BUSINESS'), ('c-tmp', 'Visitor', 'TEMPORARY')`)
	require.NoError(t, err)
	_, err = db.Exec(`INSERT INTO accounts (id, customer_id) VALUES
		('acc-biz', 'c-biz'), ('acc-tmp', 'c-tmp'), ('acc-orphan', NULL)`)
	require.NoError(t, err)

	tier, err := store.TierOf(ctx, "acc-biz")
	require.NoError(t, err)
	assert.Equal(t, TierBusiness, tier)

	tier, err = store.TierOf(ctx, "acc-tmp")
	require.NoError(t, err)
	assert.Equal(t, TierTemporary, tier)

	tier, err = store.TierOf(ctx, "acc-orphan")
	require.NoError(t, err)
	assert.Equal(t, TierPersonal, tier)

	_, err = store.TierOf(ctx, "acc-missing")
	assert.ErrorIs(t, err, ErrAccountNotFound)
}
