package webhook

import (
	"context"
	"fmt"
	"sync"
	"time"

	"server/internal/domain"
)

type fakeJobRepo struct {
	mu   sync.Mutex
	jobs map[string]*domain.Job
}

func newFakeJobRepo(jobs ...*domain.Job) *fakeJobRepo {
	r := &fakeJobRepo{jobs: map[string]*domain.Job{}}
	for _, j := range jobs {
		clone := *j
		r.jobs[j.ID] = &clone
	}
	return r
}

func (r *fakeJobRepo) get(id string) *domain.Job {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.jobs[id]
}

func (r *fakeJobRepo) Create(_ context.Context, job *domain.Job) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.jobs[job.ID]; exists {
		return domain.ErrDuplicateOperation
	}
	clone := *job
	clone.CreatedAt = time.Now()
	r.jobs[job.ID] = &clone
	return nil
}

func (r *fakeJobRepo) GetByID(_ context.Context, jobID string) (*domain.Job, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	j, ok := r.jobs[jobID]
	if !ok {
		return nil, domain.ErrNotFound
	}
	clone := *j
	return &clone, nil
}

func (r *fakeJobRepo) GetByTaskID(_ context.Context, taskID string) (*domain.Job, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, j := range r.jobs {
		if j.ProviderTaskID == taskID && taskID != "" {
			clone := *j
			return &clone, nil
		}
	}
	return nil, domain.ErrNotFound
}

func (r *fakeJobRepo) ChildByIndex(_ context.Context, parentID string, index int) (*domain.Job, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, j := range r.jobs {
		if j.ParentID == parentID && j.OutputIndex == index {
			clone := *j
			return &clone, nil
		}
	}
	return nil, domain.ErrNotFound
}

func (r *fakeJobRepo) ListChildren(_ context.Context, parentID string) ([]domain.Job, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []domain.Job
	for _, j := range r.jobs {
		if j.ParentID == parentID {
			out = append(out, *j)
		}
	}
	return out, nil
}

func (r *fakeJobRepo) UpdateStatus(_ context.Context, jobID string, status domain.JobStatus, errMsg string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	j, ok := r.jobs[jobID]
	if !ok {
		return domain.ErrNotFound
	}
	if j.Status.Terminal() {
		return domain.ErrInvalidTransition
	}
	j.Status = status
	j.ErrorMessage = errMsg
	return nil
}

func (r *fakeJobRepo) SetOutput(_ context.Context, jobID, location string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	j, ok := r.jobs[jobID]
	if !ok {
		return domain.ErrNotFound
	}
	if j.Status.Terminal() {
		return domain.ErrInvalidTransition
	}
	j.Status = domain.JobStatusCompleted
	j.OutputLocation = location
	return nil
}

func (r *fakeJobRepo) MarkSubmitted(_ context.Context, jobID, taskID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	j, ok := r.jobs[jobID]
	if !ok {
		return domain.ErrNotFound
	}
	j.ProviderTaskID = taskID
	j.Status = domain.JobStatusProcessing
	return nil
}

func (r *fakeJobRepo) Cancel(_ context.Context, jobID, userID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	j, ok := r.jobs[jobID]
	if !ok || j.UserID != userID || j.Status.Terminal() {
		return domain.ErrNotFound
	}
	j.Status = domain.JobStatusCancelled
	return nil
}

func (r *fakeJobRepo) ClaimPending(_ context.Context) (*domain.Job, error) {
	return nil, domain.ErrNotFound
}

type fakeEventRepo struct {
	mu     sync.Mutex
	events map[string]*domain.WebhookEvent
}

func newFakeEventRepo() *fakeEventRepo {
	return &fakeEventRepo{events: map[string]*domain.WebhookEvent{}}
}

func eventKey(taskID, subtype string) string {
	return taskID + "\x00" + subtype
}

func (r *fakeEventRepo) Find(_ context.Context, taskID, subtype string) (*domain.WebhookEvent, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	ev, ok := r.events[eventKey(taskID, subtype)]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return ev, nil
}

func (r *fakeEventRepo) Insert(_ context.Context, event *domain.WebhookEvent) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	key := eventKey(event.TaskID, event.Subtype)
	if _, exists := r.events[key]; exists {
		return domain.ErrDuplicateOperation
	}
	r.events[key] = event
	return nil
}

type fakeSecurityRepo struct {
	mu     sync.Mutex
	events []*domain.SecurityEvent
}

func (r *fakeSecurityRepo) Append(_ context.Context, event *domain.SecurityEvent) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, event)
	return nil
}

func (r *fakeSecurityRepo) byLayer(layer string) []*domain.SecurityEvent {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*domain.SecurityEvent
	for _, ev := range r.events {
		if ev.Layer == layer {
			out = append(out, ev)
		}
	}
	return out
}

type fakeAuditRepo struct {
	mu      sync.Mutex
	records []*domain.SettlementAudit
}

func (r *fakeAuditRepo) Append(_ context.Context, record *domain.SettlementAudit) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.records = append(r.records, record)
	return nil
}

func (r *fakeAuditRepo) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.records)
}

type fakeLedger struct {
	mu        sync.Mutex
	reserved  map[string]int64
	released  map[string]int
	finalized map[string]int
}

func newFakeLedger() *fakeLedger {
	return &fakeLedger{
		reserved:  map[string]int64{},
		released:  map[string]int{},
		finalized: map[string]int{},
	}
}

func (l *fakeLedger) Reserve(_ context.Context, _, jobID string, amount int64) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, exists := l.reserved[jobID]; exists {
		return domain.ErrDuplicateOperation
	}
	l.reserved[jobID] = amount
	return nil
}

func (l *fakeLedger) Release(_ context.Context, jobID string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.released[jobID]++
	return nil
}

func (l *fakeLedger) Finalize(_ context.Context, jobID string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.finalized[jobID]++
	return nil
}

type fakeAnalytics struct {
	mu       sync.Mutex
	counters map[string]int
}

func newFakeAnalytics() *fakeAnalytics {
	return &fakeAnalytics{counters: map[string]int{}}
}

func (a *fakeAnalytics) IncrementCounters(_ context.Context, _ time.Time, counters map[string]int) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	for k, v := range counters {
		a.counters[k] += v
	}
	return nil
}

func (a *fakeAnalytics) get(counter string) int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.counters[counter]
}

type fakeStore struct {
	mu      sync.Mutex
	objects map[string][]byte
	failAll bool
}

func newFakeStore() *fakeStore {
	return &fakeStore{objects: map[string][]byte{}}
}

func (s *fakeStore) Upload(_ context.Context, key string, data []byte, _ string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failAll {
		return "", fmt.Errorf("store unavailable")
	}
	s.objects[key] = data
	return "https://cdn.test/" + key, nil
}

func (s *fakeStore) SignedURL(_ context.Context, key string, _ time.Duration) (string, error) {
	return "https://cdn.test/" + key + "?signed=1", nil
}

func (s *fakeStore) size() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.objects)
}

type fakeWorkflows struct {
	mu       sync.Mutex
	advanced []map[string]any
	failed   []string
}

func (f *fakeWorkflows) Advance(_ context.Context, _ *domain.Job, outputs map[string]any) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.advanced = append(f.advanced, outputs)
	return nil
}

func (f *fakeWorkflows) OnStepFailed(_ context.Context, _ *domain.Job, reason string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failed = append(f.failed, reason)
	return nil
}
