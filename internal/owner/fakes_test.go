package owner_test

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"build-orchestrator/internal/clock"
	"build-orchestrator/internal/entity"
	"build-orchestrator/internal/owner"
)

var epoch = time.Date(2026, 5, 4, 9, 0, 0, 0, time.UTC)

// ---- fakes ----

// memStore keeps JSON snapshots so callers never share memory with the
// "persisted" copy.
type memStore struct {
	mu    sync.Mutex
	data  map[string][]byte
	saves int
}

func newMemStore() *memStore { return &memStore{data: map[string][]byte{}} }

func (s *memStore) Load(ctx context.Context, jobID string) (*entity.JobState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.data[jobID]
	if !ok {
		return nil, entity.ErrNotFound
	}
	var st entity.JobState
	if err := json.Unmarshal(b, &st); err != nil {
		return nil, err
	}
	return &st, nil
}

func (s *memStore) Save(ctx context.Context, st *entity.JobState) error {
	b, err := json.Marshal(st)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data[st.JobID] = b
	s.saves++
	return nil
}

func (s *memStore) put(t *testing.T, st *entity.JobState) {
	t.Helper()
	if err := s.Save(context.Background(), st); err != nil {
		t.Fatalf("seed state: %v", err)
	}
}

func (s *memStore) get(t *testing.T, jobID string) *entity.JobState {
	t.Helper()
	st, err := s.Load(context.Background(), jobID)
	if err != nil {
		t.Fatalf("load %s: %v", jobID, err)
	}
	return st
}

func (s *memStore) saveCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.saves
}

func (s *memStore) ListActive(ctx context.Context, limit int) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var ids []string
	for id, b := range s.data {
		var st entity.JobState
		_ = json.Unmarshal(b, &st)
		if !st.Status.Terminal() {
			ids = append(ids, id)
		}
	}
	return ids, nil
}

type scheduled struct {
	jobID string
	at    time.Time
}

type fakeScheduler struct {
	mu    sync.Mutex
	calls []scheduled
	err   error
}

func (f *fakeScheduler) Schedule(ctx context.Context, jobID string, at time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.calls = append(f.calls, scheduled{jobID, at})
	return nil
}

func (f *fakeScheduler) PopDue(ctx context.Context, now time.Time, limit int64) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var due []string
	rest := f.calls[:0]
	for _, c := range f.calls {
		if !c.at.After(now) {
			due = append(due, c.jobID)
		} else {
			rest = append(rest, c)
		}
	}
	f.calls = rest
	return due, nil
}

func (f *fakeScheduler) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

// recordedUpdate pairs an update with the status persisted when it was sent.
type recordedUpdate struct {
	update    entity.StatusUpdate
	persisted entity.JobStatus
}

type fakeNotifier struct {
	mu      sync.Mutex
	store   *memStore
	updates []recordedUpdate
}

func (n *fakeNotifier) Notify(callbackURL string, update entity.StatusUpdate) {
	var persisted entity.JobStatus
	if st, err := n.store.Load(context.Background(), update.JobID); err == nil {
		persisted = st.Status
	}
	n.mu.Lock()
	defer n.mu.Unlock()
	n.updates = append(n.updates, recordedUpdate{update, persisted})
}

func (n *fakeNotifier) kinds() []entity.UpdateKind {
	n.mu.Lock()
	defer n.mu.Unlock()
	out := make([]entity.UpdateKind, 0, len(n.updates))
	for _, u := range n.updates {
		out = append(out, u.update.Status)
	}
	return out
}

func (n *fakeNotifier) last() recordedUpdate {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.updates[len(n.updates)-1]
}

type fakePlanner struct {
	mu    sync.Mutex
	plan  entity.WorkPlan
	err   error
	calls int
}

func (p *fakePlanner) Plan(ctx context.Context, job entity.BuildJob) (*entity.WorkPlan, []string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls++
	if p.err != nil {
		return nil, nil, p.err
	}
	cp := p.plan
	cp.Branch = job.BranchName()
	cp.Items = append([]entity.WorkItem(nil), p.plan.Items...)
	return &cp, nil, nil
}

type fakeGenerator struct {
	mu        sync.Mutex
	content   map[string]string
	fail      map[string]error
	tokensIn  int64
	tokensOut int64
	calls     []string
}

func (g *fakeGenerator) Generate(ctx context.Context, item entity.WorkItem, spec entity.SpecContext) (entity.Generation, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.calls = append(g.calls, item.Path)
	if err := g.fail[item.Path]; err != nil {
		return entity.Generation{}, err
	}
	content, ok := g.content[item.Path]
	if !ok {
		content = "// generated " + item.Path
	}
	return entity.Generation{Content: content, TokensIn: g.tokensIn, TokensOut: g.tokensOut}, nil
}

type fakeWriter struct {
	mu         sync.Mutex
	branches   []string
	written    []entity.WorkItem
	opened     int
	failBranch error
	failPath   map[string]error
	failOpen   error
	delay      time.Duration
}

func (w *fakeWriter) CreateBranch(ctx context.Context, repo entity.RepoRef, branch string) entity.WriteResult {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.failBranch != nil {
		return entity.WriteFailed(w.failBranch)
	}
	w.branches = append(w.branches, branch)
	return entity.WriteOK()
}

func (w *fakeWriter) WriteFile(ctx context.Context, repo entity.RepoRef, branch string, item entity.WorkItem, message string) entity.WriteResult {
	if w.delay > 0 {
		time.Sleep(w.delay)
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	if err := w.failPath[item.Path]; err != nil {
		return entity.WriteFailed(err)
	}
	w.written = append(w.written, item)
	return entity.WriteOK()
}

func (w *fakeWriter) OpenResult(ctx context.Context, repo entity.RepoRef, branch string, plan *entity.WorkPlan) entity.WriteResult {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.failOpen != nil {
		return entity.WriteFailed(w.failOpen)
	}
	w.opened++
	return entity.WriteResult{OK: true, URL: fmt.Sprintf("https://github.com/%s/%s/pull/1", repo.Owner, repo.Name)}
}

func (w *fakeWriter) paths() []string {
	w.mu.Lock()
	defer w.mu.Unlock()
	out := make([]string, 0, len(w.written))
	for _, it := range w.written {
		out = append(out, it.Path)
	}
	return out
}

// ---- helpers ----

type harness struct {
	store     *memStore
	scheduler *fakeScheduler
	notifier  *fakeNotifier
	planner   *fakePlanner
	generator *fakeGenerator
	writer    *fakeWriter
	clock     *clock.FakeClock
	registry  *owner.Registry
}

type option func(h *harness, deps *owner.Deps)

func withGenerator(g *fakeGenerator) option {
	return func(h *harness, deps *owner.Deps) {
		h.generator = g
		deps.Generator = g
	}
}

func withConfig(cfg owner.Config) option {
	return func(h *harness, deps *owner.Deps) { deps.Config = cfg }
}

func newHarness(items []entity.WorkItem, opts ...option) *harness {
	store := newMemStore()
	h := &harness{
		store:     store,
		scheduler: &fakeScheduler{},
		notifier:  &fakeNotifier{store: store},
		planner:   &fakePlanner{plan: entity.WorkPlan{Title: "Add widgets", Summary: "adds widgets", Items: items}},
		writer:    &fakeWriter{},
		clock:     clock.Fake(epoch),
	}
	deps := owner.Deps{
		Store:     h.store,
		Scheduler: h.scheduler,
		Notifier:  h.notifier,
		Planner:   h.planner,
		Writer:    h.writer,
		Clock:     h.clock,
		Logger:    slog.New(slog.NewTextHandler(io.Discard, nil)),
		Config:    owner.Config{StallThreshold: 15 * time.Minute},
	}
	for _, opt := range opts {
		opt(h, &deps)
	}
	h.registry = owner.NewRegistry(deps)
	return h
}

func items(paths ...string) []entity.WorkItem {
	out := make([]entity.WorkItem, 0, len(paths))
	for _, p := range paths {
		out = append(out, entity.WorkItem{Path: p, Content: "// TODO " + p, Description: "implement " + p})
	}
	return out
}

func buildJob(id string) entity.BuildJob {
	return entity.BuildJob{
		JobID:        id,
		SpecID:       "spec-" + id,
		UserID:       "user-1",
		RepoOwner:    "acme",
		RepoName:     "widgets",
		BaseBranch:   "main",
		SpecMarkdown: "# Add widgets",
		Priority:     entity.PriorityNormal,
		CallbackURL:  "https://hooks.example.com/build",
		Budget:       entity.BudgetLimits{MaxTokens: 100000, MaxDollars: 5},
	}
}

func mustStart(t *testing.T, h *harness, job entity.BuildJob) {
	t.Helper()
	res, err := h.registry.StartJob(context.Background(), job)
	if err != nil {
		t.Fatalf("start job: %v", err)
	}
	if !res.Accepted {
		t.Fatalf("expected accepted, got %#v", res)
	}
}

var errBoom = errors.New("boom")
