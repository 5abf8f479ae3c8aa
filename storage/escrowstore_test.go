package storage

import (
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/require"

	"skillchain/native/escrow"
)

func storeAddress(fill byte) common.Address {
	var addr common.Address
	for i := range addr {
		addr[i] = fill
	}
	return addr
}

func newStoredEscrow(t *testing.T, store *EscrowStore, projectID string, client, freelancer common.Address, amount int64) *escrow.Escrow {
	t.Helper()
	id, err := store.EscrowNextID()
	require.NoError(t, err)
	esc := &escrow.Escrow{
		ID:         id,
		ProjectID:  projectID,
		Client:     client,
		Freelancer: freelancer,
		Amount:     big.NewInt(amount),
		Status:     escrow.StatusCreated,
		CreatedAt:  1_700_000_000,
		UpdatedAt:  1_700_000_000,
	}
	require.NoError(t, store.EscrowPut(esc))
	return esc
}

func TestEscrowStoreRoundTrip(t *testing.T) {
	store := NewEscrowStore(NewMemDB())
	client := storeAddress(0x10)
	freelancer := storeAddress(0x20)
	esc := newStoredEscrow(t, store, "p1", client, freelancer, 750)

	loaded, ok, err := store.EscrowGet(esc.ID)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, esc.ID, loaded.ID)
	require.Equal(t, "p1", loaded.ProjectID)
	require.Equal(t, client, loaded.Client)
	require.Equal(t, freelancer, loaded.Freelancer)
	require.Zero(t, loaded.Amount.Cmp(big.NewInt(750)))
	require.Equal(t, escrow.StatusCreated, loaded.Status)

	loaded.Status = escrow.StatusFunded
	loaded.UpdatedAt = 1_700_000_100
	require.NoError(t, store.EscrowPut(loaded))
	reloaded, ok, err := store.EscrowGet(esc.ID)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, escrow.StatusFunded, reloaded.Status)
	require.Equal(t, int64(1_700_000_100), reloaded.UpdatedAt)

	_, ok, err = store.EscrowGet(9_999)
	require.NoError(t, err)
	require.False(t, ok)
}

func TestEscrowStoreSequence(t *testing.T) {
	db := NewMemDB()
	store := NewEscrowStore(db)
	first, err := store.EscrowNextID()
	require.NoError(t, err)
	second, err := store.EscrowNextID()
	require.NoError(t, err)
	require.Equal(t, uint64(1), first)
	require.Equal(t, uint64(2), second)

	// The counter is persisted, not process-local.
	reopened := NewEscrowStore(db)
	third, err := reopened.EscrowNextID()
	require.NoError(t, err)
	require.Equal(t, uint64(3), third)
}

func TestEscrowStoreSecondaryIndexes(t *testing.T) {
	store := NewEscrowStore(NewMemDB())
	clientA := storeAddress(0x10)
	clientB := storeAddress(0x11)
	freelancerA := storeAddress(0x20)
	freelancerB := storeAddress(0x21)

	newStoredEscrow(t, store, "alpha", clientA, freelancerA, 100)
	newStoredEscrow(t, store, "alpha", clientB, freelancerA, 200)
	newStoredEscrow(t, store, "beta", clientA, freelancerB, 300)

	byProject, err := store.EscrowsByProject("alpha")
	require.NoError(t, err)
	require.Len(t, byProject, 2)
	require.Less(t, byProject[0].ID, byProject[1].ID)

	byClient, err := store.EscrowsByClient(clientA)
	require.NoError(t, err)
	require.Len(t, byClient, 2)
	for _, esc := range byClient {
		require.Equal(t, clientA, esc.Client)
	}

	byFreelancer, err := store.EscrowsByFreelancer(freelancerA)
	require.NoError(t, err)
	require.Len(t, byFreelancer, 2)

	empty, err := store.EscrowsByProject("gamma")
	require.NoError(t, err)
	require.Empty(t, empty)
}

func TestEscrowStoreRejectsInvalidRecords(t *testing.T) {
	store := NewEscrowStore(NewMemDB())
	esc := &escrow.Escrow{
		ProjectID:  "p1",
		Client:     storeAddress(0x10),
		Freelancer: storeAddress(0x20),
		Amount:     big.NewInt(10),
		Status:     escrow.StatusCreated,
	}
	require.Error(t, store.EscrowPut(esc), "unallocated id must be rejected")

	esc.ID = 1
	esc.Amount = big.NewInt(0)
	require.Error(t, store.EscrowPut(esc), "non-positive amount must be rejected")
}

func TestMemDBPrefixIteration(t *testing.T) {
	db := NewMemDB()
	require.NoError(t, db.Put([]byte("a/1"), []byte("one")))
	require.NoError(t, db.Put([]byte("a/2"), []byte("two")))
	require.NoError(t, db.Put([]byte("b/1"), []byte("other")))

	var keys []string
	require.NoError(t, db.IteratePrefix([]byte("a/"), func(key, _ []byte) bool {
		keys = append(keys, string(key))
		return true
	}))
	require.Equal(t, []string{"a/1", "a/2"}, keys)

	has, err := db.Has([]byte("b/1"))
	require.NoError(t, err)
	require.True(t, has)
	require.NoError(t, db.Delete([]byte("b/1")))
	_, err = db.Get([]byte("b/1"))
	require.ErrorIs(t, err, ErrKeyNotFound)
}
