package rotation

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/example/partition-rotator/internal/data"
	"github.com/example/partition-rotator/internal/ddl"
	"github.com/example/partition-rotator/internal/partition"
	"github.com/example/partition-rotator/internal/rotatorcfg"
)

// memStore keeps a filegroup catalog and applies ADD/REMOVE FILEGROUP
// statements from executed batches.
type memStore struct {
	mu         sync.Mutex
	filegroups map[string]bool
	executed   []ddl.Batch
	failKinds  map[ddl.Kind]error
	invErr     error
}

func newMemStore(groups ...string) *memStore {
	m := &memStore{filegroups: map[string]bool{"PRIMARY": true}, failKinds: map[ddl.Kind]error{}}
	for _, g := range groups {
		m.filegroups[g] = true
	}
	return m
}

func (m *memStore) Inventory(_ context.Context, naming partition.Naming) (partition.Inventory, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.invErr != nil {
		return nil, m.invErr
	}
	names := make([]string, 0, len(m.filegroups))
	for g := range m.filegroups {
		names = append(names, g)
	}
	return naming.InventoryOf(names), nil
}

func (m *memStore) Exec(_ context.Context, batch ddl.Batch) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.executed = append(m.executed, batch)
	if err := m.failKinds[batch.Kind]; err != nil {
		return err
	}
	for _, s := range batch.Statements {
		if i := strings.Index(s, " ADD FILEGROUP "); i >= 0 {
			m.filegroups[strings.TrimSuffix(s[i+len(" ADD FILEGROUP "):], ";")] = true
		}
		if i := strings.Index(s, " REMOVE FILEGROUP "); i >= 0 {
			delete(m.filegroups, strings.TrimSuffix(s[i+len(" REMOVE FILEGROUP "):], ";"))
		}
	}
	return nil
}

func (m *memStore) kinds() []ddl.Kind {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]ddl.Kind, 0, len(m.executed))
	for _, b := range m.executed {
		out = append(out, b.Kind)
	}
	return out
}

type heldLocker struct{}

func (heldLocker) Lock(context.Context) (data.Unlock, error) { return nil, data.ErrLockHeld }
func (heldLocker) Backend() string                             { return "test" }

func testConfig() rotatorcfg.PartitionConfig {
	return rotatorcfg.PartitionConfig{
		DatabaseName:            "LogDb",
		TableName:               "Log",
		FilePrefix:              "LogFile",
		StoragePath:             "/var/opt/mssql/data",
		FunctionName:            "LogPartitionFunction",
		SchemeName:              "LogPartitionScheme",
		FileSizeMB:              5,
		FileMaxSizeMB:           100,
		FileGrowthMB:            5,
		RetentionDays:           30,
		TaskIntervalDays:        1,
		LookaheadPartitionCount: 3,
		KeyColumn:               "Id",
		PartitionColumn:         "CreateTime",
	}
}

func newRotator(t *testing.T, store Store, lock data.Locker) *Rotator {
	t.Helper()
	r, err := New(testConfig(), store, lock)
	if err != nil { t.Fatalf("new rotator: %v", err) }
	return r
}

func day(y int, m time.Month, d int) time.Time { return time.Date(y, m, d, 0, 0, 0, 0, time.UTC) }

func TestTick_FreshInventory(t *testing.T) {
	store := newMemStore()
	r := newRotator(t, store, nil)
	res, err := r.Tick(context.Background(), day(2024, 1, 1))
	if err != nil { t.Fatal(err) }
	if len(res.Plan.Create) != 3 || res.Plan.HasRetire() {
		t.Fatalf("plan: %s", res.Plan)
	}
	if got := store.kinds(); len(got) != 1 || got[0] != ddl.KindCreate {
		t.Fatalf("executed: %v", got)
	}
	if !store.filegroups["Log20240104"] {
		t.Fatalf("lookahead filegroup not created")
	}
}

func TestTick_CreateBeforeRetire(t *testing.T) {
	var groups []string
	for d := day(2023, 12, 1); !d.After(day(2024, 1, 3)); d = d.AddDate(0, 0, 1) {
		groups = append(groups, "Log"+string(partition.KeyOf(d)))
	}
	store := newMemStore(groups...)
	r := newRotator(t, store, nil)
	res, err := r.Tick(context.Background(), day(2024, 1, 1))
	if err != nil { t.Fatal(err) }
	if res.Plan.Retire != "20231202" {
		t.Fatalf("retire: %q", res.Plan.Retire)
	}
	got := store.kinds()
	if len(got) != 2 || got[0] != ddl.KindCreate || got[1] != ddl.KindRetire {
		t.Fatalf("batch order: %v", got)
	}
}

func TestTick_RetireAttemptedAfterCreateFailure(t *testing.T) {
	store := newMemStore("Log20231202")
	createErr := errors.New("disk full")
	store.failKinds[ddl.KindCreate] = createErr
	r := newRotator(t, store, nil)
	res, err := r.Tick(context.Background(), day(2024, 1, 1))
	if !errors.Is(err, createErr) {
		t.Fatalf("expected create error to surface, got %v", err)
	}
	if res.RetireErr != nil {
		t.Fatalf("retire should have succeeded: %v", res.RetireErr)
	}
	if got := store.kinds(); len(got) != 2 || got[1] != ddl.KindRetire {
		t.Fatalf("retire not attempted: %v", got)
	}
	if store.filegroups["Log20231202"] {
		t.Fatalf("retired filegroup still present")
	}
}

func TestTick_BothFailuresJoined(t *testing.T) {
	store := newMemStore("Log20231202")
	e1, e2 := errors.New("create boom"), errors.New("retire boom")
	store.failKinds[ddl.KindCreate] = e1
	store.failKinds[ddl.KindRetire] = e2
	_, err := newRotator(t, store, nil).Tick(context.Background(), day(2024, 1, 1))
	if !errors.Is(err, e1) || !errors.Is(err, e2) {
		t.Fatalf("expected both errors, got %v", err)
	}
}

func TestTick_SelfHealsAfterFailure(t *testing.T) {
	store := newMemStore()
	store.failKinds[ddl.KindCreate] = errors.New("transient")
	r := newRotator(t, store, nil)
	if _, err := r.Tick(context.Background(), day(2024, 1, 1)); err == nil {
		t.Fatalf("expected failure")
	}
	delete(store.failKinds, ddl.KindCreate)
	res, err := r.Tick(context.Background(), day(2024, 1, 1))
	if err != nil { t.Fatal(err) }
	if len(res.Plan.Create) != 3 {
		t.Fatalf("second tick should redo the whole lookahead, got %s", res.Plan)
	}
	res, err = r.Tick(context.Background(), day(2024, 1, 1))
	if err != nil || !res.Plan.Empty() {
		t.Fatalf("third tick should be a no-op: %s %v", res.Plan, err)
	}
}

func TestTick_LockHeldSkips(t *testing.T) {
	store := newMemStore()
	r := newRotator(t, store, heldLocker{})
	_, err := r.Tick(context.Background(), day(2024, 1, 1))
	if !errors.Is(err, data.ErrLockHeld) {
		t.Fatalf("expected ErrLockHeld, got %v", err)
	}
	if len(store.kinds()) != 0 {
		t.Fatalf("nothing should execute without the lock")
	}
}

func TestTick_InventoryError(t *testing.T) {
	store := newMemStore()
	store.invErr = errors.New("login failed")
	_, err := newRotator(t, store, nil).Tick(context.Background(), day(2024, 1, 1))
	if !errors.Is(err, store.invErr) {
		t.Fatalf("expected inventory error, got %v", err)
	}
}

func TestPreview_DoesNotExecute(t *testing.T) {
	store := newMemStore("Log20240102")
	r := newRotator(t, store, heldLocker{})
	res, err := r.Preview(context.Background(), day(2024, 2, 1))
	if err != nil { t.Fatal(err) }
	if res.Plan.Retire != partition.KeyOf(day(2024, 1, 2)) {
		t.Fatalf("retire: %s", res.Plan)
	}
	if res.Create.Empty() || res.Retire.Empty() {
		t.Fatalf("expected both batches rendered")
	}
	if len(store.kinds()) != 0 {
		t.Fatalf("preview executed batches: %v", store.kinds())
	}
}

func TestBootstrapThenTicks_WindowSize(t *testing.T) {
	store := newMemStore()
	r := newRotator(t, store, nil)
	start := day(2024, 1, 1)
	l, err := r.Bootstrap(context.Background(), start)
	if err != nil { t.Fatal(err) }
	w := r.Window()
	if len(l.Units) != w.Units() || len(l.Boundaries) != w.Size() {
		t.Fatalf("layout: units=%d boundaries=%d", len(l.Units), len(l.Boundaries))
	}
	for i := 1; i <= 90; i++ {
		res, err := r.Tick(context.Background(), start.AddDate(0, 0, i))
		if err != nil { t.Fatalf("tick %d: %v", i, err) }
		if len(res.Plan.Create) != 1 || !res.Plan.HasRetire() {
			t.Fatalf("tick %d: steady state should create one and retire one, got %s", i, res.Plan)
		}
		inv, _ := store.Inventory(context.Background(), r.Builder().Naming())
		if inv.Size() != w.Size() || !inv.Has(partition.FloorKey) {
			t.Fatalf("tick %d: inventory size %d want %d", i, inv.Size(), w.Size())
		}
	}
}

func TestBootstrap_LockHeld(t *testing.T) {
	store := newMemStore()
	if _, err := newRotator(t, store, heldLocker{}).Bootstrap(context.Background(), day(2024, 1, 1)); !errors.Is(err, data.ErrLockHeld) {
		t.Fatalf("expected ErrLockHeld, got %v", err)
	}
}

func TestNew_InvalidConfig(t *testing.T) {
	cfg := testConfig()
	cfg.SchemeName = "bad name"
	if _, err := New(cfg, newMemStore(), nil); !errors.Is(err, ddl.ErrInvalidIdentifier) {
		t.Fatalf("expected identifier error, got %v", err)
	}
}

func TestService_TicksAndReadiness(t *testing.T) {
	store := newMemStore()
	r := newRotator(t, store, nil)
	svc := NewService(r, "", time.Hour, time.UTC)
	svc.now = func() time.Time { return day(2024, 1, 1) }

	rec := httptest.NewRecorder()
	svc.handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("readyz before first tick: %d", rec.Code)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- svc.Run(ctx) }()
	deadline := time.Now().Add(2 * time.Second)
	for !svc.ready.Load() && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	cancel()
	if err := <-done; err != nil { t.Fatal(err) }

	if got := store.kinds(); len(got) != 1 || got[0] != ddl.KindCreate {
		t.Fatalf("service should tick once on start: %v", got)
	}
	rec = httptest.NewRecorder()
	svc.handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("readyz after first tick: %d", rec.Code)
	}
}
