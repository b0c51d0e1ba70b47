package tenant

import (
	"context"
	"errors"
	"reflect"
	"sync"
	"testing"

	"github.com/Hawon-Oh/NyamNyamPing/internal/storage"
	logx "github.com/Hawon-Oh/NyamNyamPing/pkg/logx"
)

type memStore struct {
	mu      sync.Mutex
	saved   map[string]storage.TenantRecord
	saves   int
	failErr error
	loadErr error
}

func (s *memStore) LoadTenants(context.Context) (map[string]storage.TenantRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.loadErr != nil {
		return nil, s.loadErr
	}
	out := map[string]storage.TenantRecord{}
	for k, v := range s.saved {
		out[k] = v
	}
	return out, nil
}

func (s *memStore) SaveTenants(_ context.Context, m map[string]storage.TenantRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failErr != nil {
		return s.failErr
	}
	s.saves++
	s.saved = m
	return nil
}

func (s *memStore) AppendAudit(context.Context, storage.AuditEntry) error { return nil }
func (s *memStore) Close() error                                          { return nil }

func newTestRegistry(t *testing.T, st *memStore) *Registry {
	t.Helper()
	r := NewRegistry(st, DefaultDefaults, logx.Nop(), nil)
	if err := r.Load(context.Background()); err != nil {
		t.Fatalf("Load: %v", err)
	}
	return r
}

func TestReconcileIsIdempotent(t *testing.T) {
	t.Parallel()

	st := &memStore{saved: map[string]storage.TenantRecord{
		"gone": {Channel: "general"},
		"kept": {Channel: "점심", SchedulerOn: true},
	}}
	r := newTestRegistry(t, st)
	ctx := context.Background()

	added, removed, err := r.Reconcile(ctx, []string{"kept", "new"})
	if err != nil {
		t.Fatalf("Reconcile: %v", err)
	}
	if !reflect.DeepEqual(added, []string{"new"}) || !reflect.DeepEqual(removed, []string{"gone"}) {
		t.Fatalf("added=%v removed=%v", added, removed)
	}
	first := r.Snapshot()
	saves := st.saves

	added, removed, err = r.Reconcile(ctx, []string{"new", "kept"})
	if err != nil || len(added) != 0 || len(removed) != 0 {
		t.Fatalf("second reconcile added=%v removed=%v err=%v", added, removed, err)
	}
	if st.saves != saves {
		t.Fatalf("unchanged reconcile persisted: saves %d -> %d", saves, st.saves)
	}
	if !reflect.DeepEqual(first, r.Snapshot()) {
		t.Fatalf("snapshot changed: %+v vs %+v", first, r.Snapshot())
	}

	c, _ := r.Get("new")
	want := Config{TenantID: "new", Channel: "general", HolidaySkip: true}
	if c != want {
		t.Fatalf("new tenant=%+v want %+v", c, want)
	}
	if k, _ := r.Get("kept"); k.Channel != "점심" || !k.SchedulerOn {
		t.Fatalf("kept tenant changed: %+v", k)
	}
}

func TestToggleIsInvolution(t *testing.T) {
	t.Parallel()

	r := newTestRegistry(t, &memStore{saved: map[string]storage.TenantRecord{"1": {Channel: "general", HolidaySkip: true}}})
	ctx := context.Background()
	orig, _ := r.Get("1")

	for _, toggle := range []func(context.Context, string) (Config, error){r.ToggleHolidaySkip, r.ToggleScheduler} {
		if _, err := toggle(ctx, "1"); err != nil {
			t.Fatal(err)
		}
		if _, err := toggle(ctx, "1"); err != nil {
			t.Fatal(err)
		}
		if got, _ := r.Get("1"); got != orig {
			t.Fatalf("got %+v want %+v", got, orig)
		}
	}
}

func TestMutateRollsBackOnWriteFailure(t *testing.T) {
	t.Parallel()

	st := &memStore{saved: map[string]storage.TenantRecord{"1": {Channel: "general"}}}
	r := newTestRegistry(t, st)
	st.failErr = errors.New("disk full")

	if _, err := r.SetChannel(context.Background(), "1", "random"); !errors.Is(err, ErrStorageWrite) {
		t.Fatalf("err=%v want ErrStorageWrite", err)
	}
	if c, _ := r.Get("1"); c.Channel != "general" {
		t.Fatalf("in-memory change not rolled back: %+v", c)
	}

	// A tenant created by the failed mutation disappears again.
	if _, err := r.ToggleScheduler(context.Background(), "2"); !errors.Is(err, ErrStorageWrite) {
		t.Fatalf("err=%v", err)
	}
	if _, ok := r.Get("2"); ok {
		t.Fatalf("tenant 2 should not exist after rollback")
	}
}

func TestMutateCreatesMissingTenant(t *testing.T) {
	t.Parallel()

	st := &memStore{}
	r := newTestRegistry(t, st)
	c, err := r.ToggleScheduler(context.Background(), "9")
	if err != nil {
		t.Fatal(err)
	}
	if !c.SchedulerOn || c.Channel != "general" || !c.HolidaySkip {
		t.Fatalf("got %+v", c)
	}
	if st.saved["9"] != (storage.TenantRecord{Channel: "general", HolidaySkip: true, SchedulerOn: true}) {
		t.Fatalf("persisted %+v", st.saved)
	}
}

func TestAddRemoveIdempotent(t *testing.T) {
	t.Parallel()

	st := &memStore{}
	r := newTestRegistry(t, st)
	ctx := context.Background()
	if _, err := r.Add(ctx, "1"); err != nil {
		t.Fatal(err)
	}
	if _, err := r.SetChannel(ctx, "1", "random"); err != nil {
		t.Fatal(err)
	}
	// A second join keeps the existing settings.
	c, err := r.Add(ctx, "1")
	if err != nil || c.Channel != "random" {
		t.Fatalf("c=%+v err=%v", c, err)
	}
	if err := r.Remove(ctx, "1"); err != nil {
		t.Fatal(err)
	}
	if err := r.Remove(ctx, "1"); err != nil {
		t.Fatal(err)
	}
	if r.Len() != 0 || len(st.saved) != 0 {
		t.Fatalf("len=%d saved=%v", r.Len(), st.saved)
	}
}

func TestLoadFailureWrapsStorageRead(t *testing.T) {
	t.Parallel()

	r := NewRegistry(&memStore{loadErr: errors.New("corrupt")}, DefaultDefaults, logx.Nop(), nil)
	if err := r.Load(context.Background()); !errors.Is(err, ErrStorageRead) {
		t.Fatalf("err=%v", err)
	}
}
