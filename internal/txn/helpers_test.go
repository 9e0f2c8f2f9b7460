package txn

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/roach88/relbind/internal/ir"
	"github.com/roach88/relbind/internal/queryir"
	"github.com/roach88/relbind/internal/store"
	"github.com/roach88/relbind/internal/testutil"
)

func personScheme() ir.Scheme {
	return ir.Scheme{
		Name: "person",
		Attributes: []ir.Attribute{
			{Name: "id", Type: ir.TypeInt},
			{Name: "name", Type: ir.TypeString},
			{Name: "editable", Type: ir.TypeBool},
		},
		Key: []string{"id"},
	}
}

func petScheme() ir.Scheme {
	return ir.Scheme{
		Name:       "pet",
		Attributes: []ir.Attribute{{Name: "name", Type: ir.TypeString}, {Name: "owner", Type: ir.TypeInt}},
		Key:        []string{"name"},
	}
}

func person(id int64, name string, editable bool) ir.IRObject {
	return ir.IRObject{"id": ir.IRInt(id), "name": ir.IRString(name), "editable": ir.IRBool(editable)}
}

func insertPerson(id int64, name string) queryir.Mutation {
	return queryir.Insert{Relation: "person", Row: person(id, name, true)}
}

func rename(id int64, name string) queryir.Mutation {
	return queryir.Update{
		Relation: "person",
		Filter:   queryir.Eq("id", ir.IRInt(id)),
		Set:      ir.IRObject{"name": ir.IRString(name)},
	}
}

// newTestCoordinator wires a coordinator over an in-memory store with a
// deterministic clock and IDs.
func newTestCoordinator(t *testing.T) (*Coordinator, *store.Memory) {
	t.Helper()
	mem, err := store.NewMemory(personScheme(), petScheme())
	require.NoError(t, err)
	c := New(mem,
		WithClock(testutil.NewDeterministicClock()),
		WithIDGenerator(testutil.NewSequentialIDs("tx")),
		WithLogger(testutil.Logger(t)),
	)
	return c, mem
}

// startCoordinator runs c in the background until the test ends.
func startCoordinator(t *testing.T, c *Coordinator) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- c.Run(ctx) }()
	t.Cleanup(func() {
		cancel()
		select {
		case <-errCh:
		case <-time.After(2 * time.Second):
			t.Error("coordinator did not stop")
		}
	})
}

// recorder collects change events delivered to a subscription.
type recorder struct {
	mu     sync.Mutex
	events []ChangeEvent
	ch     chan ChangeEvent
}

func newRecorder() *recorder {
	return &recorder{ch: make(chan ChangeEvent, 64)}
}

func (r *recorder) fn(ev ChangeEvent) {
	r.mu.Lock()
	r.events = append(r.events, ev)
	r.mu.Unlock()
	r.ch <- ev
}

func (r *recorder) next(t *testing.T) ChangeEvent {
	t.Helper()
	select {
	case ev := <-r.ch:
		return ev
	case <-time.After(2 * time.Second):
		t.Fatal("no change event delivered")
		return ChangeEvent{}
	}
}

func (r *recorder) none(t *testing.T) {
	t.Helper()
	select {
	case ev := <-r.ch:
		t.Fatalf("unexpected event: kind=%s seq=%d", ev.Kind, ev.Seq)
	case <-time.After(50 * time.Millisecond):
	}
}

func personNames(t *testing.T, s store.Store) []string {
	t.Helper()
	rows, err := s.Query(context.Background(), queryir.Select{From: "person"})
	require.NoError(t, err)
	names := make([]string, len(rows))
	for i, r := range rows {
		names[i] = string(r["name"].(ir.IRString))
	}
	return names
}

func personSelect() queryir.Select {
	return queryir.Select{From: "person"}
}
