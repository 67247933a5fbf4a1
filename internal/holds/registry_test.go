package holds

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/seatwave/seatwave/internal/observability"
	"github.com/seatwave/seatwave/internal/store/storetest"
)

type recordingBroadcaster struct {
	mu    sync.Mutex
	holds [][]int
}

func (r *recordingBroadcaster) BroadcastHolds(eventID uuid.UUID, held []int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.holds = append(r.holds, held)
}

func (r *recordingBroadcaster) last() []int {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.holds) == 0 {
		return nil
	}
	return r.holds[len(r.holds)-1]
}

func newRegistry(t *testing.T) (*Registry, *storetest.Backend, *recordingBroadcaster) {
	t.Helper()
	b := storetest.New()
	bc := &recordingBroadcaster{}
	return NewRegistry(b.Holds(), 5*time.Second, bc, observability.NewLogger()), b, bc
}

func TestSetHoldsGrantsFreeSeats(t *testing.T) {
	r, _, bc := newRegistry(t)
	ctx := context.Background()
	eventID := uuid.New()

	granted, conflicting, err := r.SetHolds(ctx, eventID, "alice", []int{3, 1, 2})
	require.NoError(t, err)
	assert.Equal(t, []int{1, 2, 3}, granted)
	assert.Empty(t, conflicting)
	assert.Equal(t, []int{1, 2, 3}, bc.last())
}

func TestSetHoldsReportsConflicts(t *testing.T) {
	r, _, _ := newRegistry(t)
	ctx := context.Background()
	eventID := uuid.New()

	_, _, err := r.SetHolds(ctx, eventID, "alice", []int{1, 2})
	require.NoError(t, err)

	granted, conflicting, err := r.SetHolds(ctx, eventID, "bob", []int{2, 3})
	require.NoError(t, err)
	assert.Equal(t, []int{3}, granted)
	assert.Equal(t, []int{2}, conflicting)
}

func TestSetHoldsReleasesDroppedSeats(t *testing.T) {
	r, _, bc := newRegistry(t)
	ctx := context.Background()
	eventID := uuid.New()

	_, _, err := r.SetHolds(ctx, eventID, "alice", []int{1, 2, 3})
	require.NoError(t, err)

	granted, conflicting, err := r.SetHolds(ctx, eventID, "alice", []int{2, 4})
	require.NoError(t, err)
	assert.Equal(t, []int{2, 4}, granted)
	assert.Empty(t, conflicting)
	assert.Equal(t, []int{2, 4}, bc.last())

	// the dropped seats are immediately grantable to someone else
	granted, _, err = r.SetHolds(ctx, eventID, "bob", []int{1, 3})
	require.NoError(t, err)
	assert.Equal(t, []int{1, 3}, granted)
}

func TestSetHoldsIgnoresDuplicatesAndNonPositive(t *testing.T) {
	r, _, _ := newRegistry(t)
	ctx := context.Background()
	eventID := uuid.New()

	granted, conflicting, err := r.SetHolds(ctx, eventID, "alice", []int{2, 2, 0, -1, 5})
	require.NoError(t, err)
	assert.Equal(t, []int{2, 5}, granted)
	assert.Empty(t, conflicting)
}

func TestExpiredHoldIsGrantable(t *testing.T) {
	r, backend, _ := newRegistry(t)
	ctx := context.Background()
	eventID := uuid.New()

	_, _, err := r.SetHolds(ctx, eventID, "alice", []int{7})
	require.NoError(t, err)

	backend.Advance(6 * time.Second)

	granted, conflicting, err := r.SetHolds(ctx, eventID, "bob", []int{7})
	require.NoError(t, err)
	assert.Equal(t, []int{7}, granted)
	assert.Empty(t, conflicting)
}

func TestHeartbeatExtendsHolds(t *testing.T) {
	r, backend, _ := newRegistry(t)
	ctx := context.Background()
	eventID := uuid.New()

	_, _, err := r.SetHolds(ctx, eventID, "alice", []int{1, 2})
	require.NoError(t, err)

	// a heartbeat every 3s keeps a 5s hold alive indefinitely
	for i := 0; i < 3; i++ {
		backend.Advance(3 * time.Second)
		require.NoError(t, r.Heartbeat(ctx, eventID, "alice"))
	}

	held, err := r.HeldSeats(ctx, eventID)
	require.NoError(t, err)
	assert.Equal(t, []int{1, 2}, held)
}

func TestHeartbeatNeverStealsBackAnExpiredSeat(t *testing.T) {
	r, backend, _ := newRegistry(t)
	ctx := context.Background()
	eventID := uuid.New()

	_, _, err := r.SetHolds(ctx, eventID, "alice", []int{1})
	require.NoError(t, err)

	backend.Advance(6 * time.Second)
	granted, _, err := r.SetHolds(ctx, eventID, "bob", []int{1})
	require.NoError(t, err)
	require.Equal(t, []int{1}, granted)

	require.NoError(t, r.Heartbeat(ctx, eventID, "alice"))

	// bob still owns the seat; alice's index forgot it
	granted, conflicting, err := r.SetHolds(ctx, eventID, "carol", []int{1})
	require.NoError(t, err)
	assert.Empty(t, granted)
	assert.Equal(t, []int{1}, conflicting)

	seats, err := backend.Holds().OwnerSeats(ctx, eventID, "alice")
	require.NoError(t, err)
	assert.Empty(t, seats)
}

func TestClearHoldsReleasesEverything(t *testing.T) {
	r, _, bc := newRegistry(t)
	ctx := context.Background()
	eventID := uuid.New()

	_, _, err := r.SetHolds(ctx, eventID, "alice", []int{1, 2, 3})
	require.NoError(t, err)
	_, _, err = r.SetHolds(ctx, eventID, "bob", []int{4})
	require.NoError(t, err)

	require.NoError(t, r.ClearHolds(ctx, eventID, "alice"))

	held, err := r.HeldSeats(ctx, eventID)
	require.NoError(t, err)
	assert.Equal(t, []int{4}, held)
	assert.Equal(t, []int{4}, bc.last())
}

func TestHoldsAreScopedByEvent(t *testing.T) {
	r, _, _ := newRegistry(t)
	ctx := context.Background()
	eventA := uuid.New()
	eventB := uuid.New()

	_, _, err := r.SetHolds(ctx, eventA, "alice", []int{1})
	require.NoError(t, err)

	granted, conflicting, err := r.SetHolds(ctx, eventB, "bob", []int{1})
	require.NoError(t, err)
	assert.Equal(t, []int{1}, granted)
	assert.Empty(t, conflicting)
}
