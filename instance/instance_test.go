package instance

import (
	"testing"
	"time"

	"github.com/javacruft/galera/evserr"
	"github.com/javacruft/galera/ident"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEnsure_CreatesOnFirstObservation(t *testing.T) {
	table := NewTable(0x80000000)
	u := ident.New()

	inst := table.Ensure(u)
	assert.Equal(t, u, inst.UUID)
	assert.False(t, inst.Operational)
	assert.False(t, inst.Installed)
	assert.Equal(t, 1, table.Len())

	again := table.Ensure(u)
	assert.Same(t, inst, again, "a second Ensure must return the same instance")
}

func TestDelete_MissingFails(t *testing.T) {
	table := NewTable(0x80000000)
	err := table.Delete(ident.New())
	assert.ErrorIs(t, err, evserr.ErrMissing)
}

func TestDelete_RemovesInstance(t *testing.T) {
	table := NewTable(0x80000000)
	u := ident.New()
	table.Ensure(u)
	require.NoError(t, table.Delete(u))
	_, ok := table.Get(u)
	assert.False(t, ok)
	assert.Equal(t, 0, table.Len())
}

func TestTouch_UpdatesTimestamp(t *testing.T) {
	defer func() { timeNow = time.Now }()
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	timeNow = func() time.Time { return base }

	table := NewTable(0x80000000)
	u := ident.New()
	inst := table.Touch(u)
	assert.Equal(t, base, inst.Timestamp)

	later := base.Add(time.Minute)
	timeNow = func() time.Time { return later }
	table.Touch(u)
	assert.Equal(t, later, inst.Timestamp)
}

func TestExpireOlderThan_MarksNonOperational(t *testing.T) {
	defer func() { timeNow = time.Now }()
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	timeNow = func() time.Time { return base }

	table := NewTable(0x80000000)
	stale, fresh := ident.New(), ident.New()
	staleInst := table.Touch(stale)
	staleInst.Operational = true
	freshInst := table.Touch(fresh)
	freshInst.Operational = true

	timeNow = func() time.Time { return base.Add(2 * time.Second) }
	table.Touch(fresh) // refresh fresh's timestamp only

	expired := table.ExpireOlderThan(time.Second)
	require.Len(t, expired, 1)
	assert.Equal(t, stale, expired[0])
	assert.False(t, staleInst.Operational)
	assert.True(t, freshInst.Operational)
}

func TestRange_VisitsEveryInstance(t *testing.T) {
	table := NewTable(0x80000000)
	a, b := ident.New(), ident.New()
	table.Ensure(a)
	table.Ensure(b)

	seen := map[ident.UUID]bool{}
	table.Range(func(inst *Instance) bool {
		seen[inst.UUID] = true
		return true
	})
	assert.Len(t, seen, 2)
	assert.True(t, seen[a])
	assert.True(t, seen[b])
}
