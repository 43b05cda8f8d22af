package coord

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/renwick/coordinator/internal/clock"
	"github.com/renwick/coordinator/internal/events"
)

// fakeSource serves descriptors from a map keyed by task path.
type fakeSource map[string]*TaskDescriptor

func (s fakeSource) Parse(taskPath string) (*TaskDescriptor, error) {
	d, ok := s[taskPath]
	if !ok {
		return nil, fmt.Errorf("no descriptor at %s", taskPath)
	}
	cp := *d
	return &cp, nil
}

// fakeStore is an in-memory Store that can be told to fail.
type fakeStore struct {
	mu         sync.Mutex
	err        error
	admissions int
	releases   int
	reclaims   int
	completed  map[string]bool
}

func newFakeStore() *fakeStore {
	return &fakeStore{completed: make(map[string]bool)}
}

func (s *fakeStore) fail(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.err = err
}

func (s *fakeStore) CommitAdmission(ctx context.Context, agent Agent, locks []Lock) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	s.admissions++
	return nil
}

func (s *fakeStore) CommitRelease(ctx context.Context, agentID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	s.releases++
	return nil
}

func (s *fakeStore) CommitReclaim(ctx context.Context, now time.Time, staleAgents []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	s.reclaims++
	return nil
}

func (s *fakeStore) SaveAgent(ctx context.Context, agent Agent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

func (s *fakeStore) LoadState(ctx context.Context) ([]Lock, []Agent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return nil, nil, s.err
}

func (s *fakeStore) MarkTaskComplete(ctx context.Context, taskID string, completedAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	s.completed[taskID] = true
	return nil
}

// testCoordinator wires a Coordinator with fakes and a controllable clock.
func testCoordinator(t *testing.T, source fakeSource, oracle CompletionOracle) (*Coordinator, *clock.Fake, *fakeStore) {
	t.Helper()
	if oracle == nil {
		oracle = staticOracle{}
	}
	clk := testClock()
	store := newFakeStore()
	c := New(Config{
		Clock:  clk,
		Source: source,
		Oracle: oracle,
		Store:  store,
	})
	return c, clk, store
}

func TestAdmit_FileConflict(t *testing.T) {
	source := fakeSource{
		"tasks/t1.yaml": {TaskID: "t1", ModifiesFiles: []string{"x.txt"}, EstimatedDuration: 30 * time.Minute},
		"tasks/t2.yaml": {TaskID: "t2", ModifiesFiles: []string{"x.txt"}, EstimatedDuration: 30 * time.Minute},
	}
	c, _, _ := testCoordinator(t, source, nil)
	ctx := context.Background()

	first, err := c.AdmitAndRegister(ctx, "a1", "code", "tasks/t1.yaml")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !first.Admitted {
		t.Fatalf("a1 should be admitted, got reasons %v", first.Reasons)
	}
	if len(first.Locked) != 1 || first.Locked[0] != "x.txt" {
		t.Errorf("a1 should hold x.txt, got %v", first.Locked)
	}

	second, err := c.AdmitAndRegister(ctx, "a2", "code", "tasks/t2.yaml")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if second.Admitted {
		t.Fatal("a2 should be rejected")
	}
	if len(second.Reasons) != 1 || !strings.Contains(second.Reasons[0], "file locked: x.txt by a1") {
		t.Errorf("expected x.txt-by-a1 reason, got %v", second.Reasons)
	}
}

func TestAdmit_DependencyIncompleteCreatesNoState(t *testing.T) {
	source := fakeSource{
		"tasks/t2.yaml": {TaskID: "t2", DependsOn: []string{"t1"}, ModifiesFiles: []string{"z.txt"}},
	}
	c, _, store := testCoordinator(t, source, staticOracle{"t1": false})
	ctx := context.Background()

	admission, err := c.AdmitAndRegister(ctx, "a1", "code", "tasks/t2.yaml")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if admission.Admitted {
		t.Fatal("t2 should be rejected while t1 is incomplete")
	}
	if !strings.Contains(strings.Join(admission.Reasons, "\n"), "dependency not complete: t1") {
		t.Errorf("expected dependency reason, got %v", admission.Reasons)
	}

	report, _ := c.Status(ctx)
	if report.ActiveAgents != 0 || report.ActiveLocks != 0 {
		t.Errorf("rejection must create no state: %d agents, %d locks", report.ActiveAgents, report.ActiveLocks)
	}
	if store.admissions != 0 {
		t.Error("nothing should have been persisted")
	}
}

func TestAdmit_DescriptorUnavailable(t *testing.T) {
	c, _, _ := testCoordinator(t, fakeSource{}, nil)

	admission, err := c.AdmitAndRegister(context.Background(), "a1", "code", "tasks/missing.yaml")
	if err != nil {
		t.Fatalf("parse failure must not be an error: %v", err)
	}
	if admission.Admitted {
		t.Fatal("unparseable descriptor should reject")
	}
	if !strings.Contains(admission.Reasons[0], "descriptor unavailable") {
		t.Errorf("expected descriptor-unavailable reason, got %v", admission.Reasons)
	}
}

func TestAdmit_ConflictingTaskActive(t *testing.T) {
	source := fakeSource{
		"tasks/t1.yaml": {TaskID: "t1", ModifiesFiles: []string{"a.txt"}},
		"tasks/t2.yaml": {TaskID: "t2", ConflictsWith: []string{"t1"}, ModifiesFiles: []string{"b.txt"}},
	}
	c, _, _ := testCoordinator(t, source, nil)
	ctx := context.Background()

	if admission, _ := c.AdmitAndRegister(ctx, "a1", "code", "tasks/t1.yaml"); !admission.Admitted {
		t.Fatalf("a1 should be admitted: %v", admission.Reasons)
	}

	admission, _ := c.AdmitAndRegister(ctx, "a2", "code", "tasks/t2.yaml")
	if admission.Admitted {
		t.Fatal("t2 conflicts with active t1 and should be rejected")
	}
	if !strings.Contains(admission.Reasons[0], "conflicting task active: t1") {
		t.Errorf("expected conflicting-task reason, got %v", admission.Reasons)
	}
}

func TestAdmit_ConcurrentSameFileAdmitsExactlyOne(t *testing.T) {
	source := fakeSource{}
	for i := 0; i < 16; i++ {
		source[fmt.Sprintf("tasks/t%d.yaml", i)] = &TaskDescriptor{
			TaskID:        fmt.Sprintf("t%d", i),
			ModifiesFiles: []string{"contested.txt"},
		}
	}
	c, _, _ := testCoordinator(t, source, nil)
	ctx := context.Background()

	var mu sync.Mutex
	admitted := 0
	rejected := 0

	g := new(errgroup.Group)
	for i := 0; i < 16; i++ {
		i := i
		g.Go(func() error {
			admission, err := c.AdmitAndRegister(ctx,
				fmt.Sprintf("a%d", i), "code", fmt.Sprintf("tasks/t%d.yaml", i))
			if err != nil {
				return err
			}
			mu.Lock()
			defer mu.Unlock()
			if admission.Admitted {
				admitted++
			} else {
				if !strings.Contains(strings.Join(admission.Reasons, "\n"), "contested.txt") {
					return fmt.Errorf("rejection must cite contested.txt: %v", admission.Reasons)
				}
				rejected++
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		t.Fatal(err)
	}

	if admitted != 1 || rejected != 15 {
		t.Errorf("expected exactly 1 admitted and 15 rejected, got %d/%d", admitted, rejected)
	}
}

func TestRelease_CompleteAndIdempotent(t *testing.T) {
	source := fakeSource{
		"tasks/t1.yaml": {TaskID: "t1", ModifiesFiles: []string{"a.txt", "b.txt"}},
	}
	c, _, _ := testCoordinator(t, source, nil)
	ctx := context.Background()

	if admission, _ := c.AdmitAndRegister(ctx, "a1", "code", "tasks/t1.yaml"); !admission.Admitted {
		t.Fatalf("admission failed: %v", admission.Reasons)
	}

	if err := c.Release(ctx, "a1"); err != nil {
		t.Fatalf("release failed: %v", err)
	}

	report, _ := c.Status(ctx)
	for _, l := range report.Locks {
		if l.Holder == "a1" {
			t.Errorf("lock %s still held by a1 after release", l.Resource)
		}
	}
	if report.ActiveAgents != 0 {
		t.Errorf("agent still registered after release")
	}

	// Releasing again, or releasing an unknown agent, is a safe no-op.
	if err := c.Release(ctx, "a1"); err != nil {
		t.Errorf("double release should be a no-op: %v", err)
	}
	if err := c.Release(ctx, "never-registered"); err != nil {
		t.Errorf("release of unknown agent should be a no-op: %v", err)
	}
}

func TestAdmit_StorageFailureRollsBack(t *testing.T) {
	source := fakeSource{
		"tasks/t1.yaml": {TaskID: "t1", ModifiesFiles: []string{"x.txt"}},
	}
	c, _, store := testCoordinator(t, source, nil)
	ctx := context.Background()

	store.fail(fmt.Errorf("disk gone"))
	if _, err := c.AdmitAndRegister(ctx, "a1", "code", "tasks/t1.yaml"); err == nil {
		t.Fatal("expected storage error to surface")
	}

	// In-memory state was rolled back, so the same admission succeeds once
	// the store recovers.
	store.fail(nil)
	admission, err := c.AdmitAndRegister(ctx, "a1", "code", "tasks/t1.yaml")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !admission.Admitted {
		t.Fatalf("admission after recovery should succeed, got %v", admission.Reasons)
	}
}

func TestReclaim_StaleAgentFullyReleased(t *testing.T) {
	source := fakeSource{
		"tasks/t1.yaml": {TaskID: "t1", ModifiesFiles: []string{"x.txt"}},
	}
	c, clk, _ := testCoordinator(t, source, nil)
	ctx := context.Background()

	if admission, _ := c.AdmitAndRegister(ctx, "a1", "code", "tasks/t1.yaml"); !admission.Admitted {
		t.Fatal("admission failed")
	}

	clk.Advance(16 * time.Minute) // past DefaultStaleThreshold

	report, err := c.Reclaim(ctx)
	if err != nil {
		t.Fatalf("reclaim failed: %v", err)
	}
	if len(report.ReclaimedAgents) != 1 || report.ReclaimedAgents[0] != "a1" {
		t.Errorf("expected [a1] reclaimed, got %v", report.ReclaimedAgents)
	}

	status, _ := c.Status(ctx)
	if status.ActiveAgents != 0 || status.ActiveLocks != 0 {
		t.Errorf("stale agent's state should be gone, got %d agents %d locks",
			status.ActiveAgents, status.ActiveLocks)
	}
}

func TestAdmit_ExpiredLockDoesNotBlock(t *testing.T) {
	source := fakeSource{
		"tasks/t1.yaml": {TaskID: "t1", ModifiesFiles: []string{"y.txt"}},
		"tasks/t2.yaml": {TaskID: "t2", ModifiesFiles: []string{"y.txt"}},
	}
	c, clk, _ := testCoordinator(t, source, nil)
	ctx := context.Background()

	if admission, _ := c.AdmitAndRegister(ctx, "a1", "code", "tasks/t1.yaml"); !admission.Admitted {
		t.Fatal("a1 admission failed")
	}

	clk.Advance(61 * time.Minute) // past the default 60 minute TTL

	admission, err := c.AdmitAndRegister(ctx, "a2", "code", "tasks/t2.yaml")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !admission.Admitted {
		t.Fatalf("expired lock must not block a2: %v", admission.Reasons)
	}

	report, _ := c.Status(ctx)
	for _, l := range report.Locks {
		if l.Resource == "y.txt" && l.Holder != "a2" {
			t.Errorf("stale y.txt entry survived: %+v", l)
		}
	}
}

func TestStatus_RunsReclamation(t *testing.T) {
	source := fakeSource{
		"tasks/t1.yaml": {TaskID: "t1", ModifiesFiles: []string{"x.txt"}},
	}
	c, clk, store := testCoordinator(t, source, nil)
	ctx := context.Background()

	if admission, _ := c.AdmitAndRegister(ctx, "a1", "code", "tasks/t1.yaml"); !admission.Admitted {
		t.Fatal("admission failed")
	}
	clk.Advance(2 * time.Hour)

	report, err := c.Status(ctx)
	if err != nil {
		t.Fatalf("status failed: %v", err)
	}
	if report.ActiveLocks != 0 || report.ActiveAgents != 0 {
		t.Errorf("status should have reclaimed everything, got %d/%d",
			report.ActiveAgents, report.ActiveLocks)
	}
	if store.reclaims == 0 {
		t.Error("status should have persisted a reclamation pass")
	}
	if !report.CoordinationEnabled {
		t.Error("healthy store should report coordination enabled")
	}
}

func TestUpdateStatusAndHeartbeat(t *testing.T) {
	source := fakeSource{
		"tasks/t1.yaml": {TaskID: "t1"},
	}
	c, clk, _ := testCoordinator(t, source, nil)
	ctx := context.Background()

	if admission, _ := c.AdmitAndRegister(ctx, "a1", "code", "tasks/t1.yaml"); !admission.Admitted {
		t.Fatal("admission failed")
	}

	ok, err := c.UpdateStatus(ctx, "a1", AgentRunning)
	if err != nil || !ok {
		t.Fatalf("update status failed: ok=%v err=%v", ok, err)
	}

	clk.Advance(10 * time.Minute)
	if ok, _ := c.TouchHeartbeat(ctx, "a1"); !ok {
		t.Fatal("heartbeat failed")
	}

	// The refreshed heartbeat keeps a1 off the stale list.
	clk.Advance(10 * time.Minute)
	report, _ := c.Reclaim(ctx)
	if len(report.ReclaimedAgents) != 0 {
		t.Errorf("heartbeating agent should not be reclaimed: %v", report.ReclaimedAgents)
	}

	if ok, _ := c.UpdateStatus(ctx, "ghost", AgentRunning); ok {
		t.Error("status update for unknown agent should report false")
	}
}

func TestCompatibleTasks(t *testing.T) {
	source := fakeSource{
		"tasks/t1.yaml": {TaskID: "t1", ModifiesFiles: []string{"x.txt"}},
	}
	c, _, _ := testCoordinator(t, source, staticOracle{"t0": true})
	ctx := context.Background()

	if admission, _ := c.AdmitAndRegister(ctx, "a1", "code", "tasks/t1.yaml"); !admission.Admitted {
		t.Fatal("admission failed")
	}

	descriptors := []*TaskDescriptor{
		{TaskID: "t2", ParallelCompatible: true, ModifiesFiles: []string{"x.txt"}},   // blocked by a1's lock
		{TaskID: "t3", ParallelCompatible: true, ModifiesFiles: []string{"y.txt"}, DependsOn: []string{"t0"}},
		{TaskID: "t4", ParallelCompatible: false, ModifiesFiles: []string{"z.txt"}}, // not parallel-safe
	}

	compatible := c.CompatibleTasks(descriptors)
	if len(compatible) != 1 || compatible[0] != "t3" {
		t.Errorf("expected [t3], got %v", compatible)
	}
}

func TestAdmit_PublishesEvents(t *testing.T) {
	source := fakeSource{
		"tasks/t1.yaml": {TaskID: "t1", ModifiesFiles: []string{"x.txt"}},
	}
	clk := testClock()
	bus := events.NewBus()
	defer bus.Close()
	sub := bus.Subscribe(events.TopicAdmission, 4)

	c := New(Config{
		Clock:  clk,
		Source: source,
		Oracle: staticOracle{},
		Store:  newFakeStore(),
		Bus:    bus,
	})

	if admission, _ := c.AdmitAndRegister(context.Background(), "a1", "code", "tasks/t1.yaml"); !admission.Admitted {
		t.Fatal("admission failed")
	}

	select {
	case event := <-sub:
		admitted, ok := event.(events.AgentAdmittedEvent)
		if !ok {
			t.Fatalf("expected AgentAdmittedEvent, got %T", event)
		}
		if admitted.ID != "a1" || admitted.TaskID != "t1" {
			t.Errorf("unexpected event payload: %+v", admitted)
		}
	case <-time.After(time.Second):
		t.Fatal("no admission event published")
	}
}

func TestRun_StopsOnCancel(t *testing.T) {
	c, _, _ := testCoordinator(t, fakeSource{}, nil)
	c.cfg.SweepInterval = 10 * time.Millisecond

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- c.Run(ctx) }()

	time.Sleep(30 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		if err != context.Canceled {
			t.Errorf("expected context.Canceled, got %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("Run did not stop on cancel")
	}
}
