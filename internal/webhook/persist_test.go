package webhook

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"server/internal/domain"
	"server/internal/storage"
)

func newResultServer(t *testing.T) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case strings.HasSuffix(r.URL.Path, ".png"):
			w.Header().Set("Content-Type", "image/png")
			_, _ = w.Write([]byte("png-bytes"))
		case strings.HasSuffix(r.URL.Path, "/stream"):
			// Streaming endpoint: no extension, useless content type.
			w.Header().Set("Content-Type", "application/octet-stream")
			_, _ = w.Write([]byte("audio-bytes"))
		case strings.HasSuffix(r.URL.Path, "/missing"):
			http.NotFound(w, r)
		default:
			w.Header().Set("Content-Type", "image/jpeg")
			_, _ = w.Write([]byte("jpeg-bytes"))
		}
	}))
	t.Cleanup(srv.Close)
	return srv
}

func newPersistEnv(jobs *fakeJobRepo) (*Persister, *fakeAuditRepo, *fakeStore) {
	audit := &fakeAuditRepo{}
	store := newFakeStore()
	p := NewPersister(jobs, audit, store, storage.NewDownloader(5*time.Second), zerolog.Nop())
	return p, audit, store
}

func TestPersistSingleOutput(t *testing.T) {
	srv := newResultServer(t)
	job := testJob(time.Minute)
	jobs := newFakeJobRepo(job)
	p, audit, store := newPersistEnv(jobs)

	outcome, err := p.Persist(context.Background(), job, []string{srv.URL + "/result.png"}, nil)
	if err != nil {
		t.Fatalf("persist: %v", err)
	}
	if outcome.Batch() {
		t.Fatalf("single output reported as batch")
	}
	if outcome.Location == "" {
		t.Fatalf("missing location")
	}
	if !strings.HasSuffix(outcome.Location, ".png") {
		t.Fatalf("location = %q, want .png suffix", outcome.Location)
	}
	if store.size() != 1 {
		t.Fatalf("stored objects = %d, want 1", store.size())
	}
	if audit.count() != 1 {
		t.Fatalf("audit records = %d, want 1", audit.count())
	}

	stored := jobs.get(job.ID)
	if stored.Status != domain.JobStatusCompleted {
		t.Fatalf("status = %s, want completed", stored.Status)
	}
	if stored.OutputLocation != outcome.Location {
		t.Fatalf("output location not recorded")
	}
}

func TestPersistBatchFanOut(t *testing.T) {
	srv := newResultServer(t)
	job := testJob(time.Minute)
	jobs := newFakeJobRepo(job)
	p, audit, _ := newPersistEnv(jobs)

	urls := []string{srv.URL + "/a.png", srv.URL + "/b.png", srv.URL + "/c.png"}
	outcome, err := p.Persist(context.Background(), job, urls, nil)
	if err != nil {
		t.Fatalf("persist: %v", err)
	}
	if !outcome.Batch() || len(outcome.ChildLocations) != 3 {
		t.Fatalf("outcome = %+v, want 3 child locations", outcome)
	}

	children, _ := jobs.ListChildren(context.Background(), job.ID)
	if len(children) != 3 {
		t.Fatalf("children = %d, want 3", len(children))
	}
	seen := map[int]bool{}
	for _, c := range children {
		seen[c.OutputIndex] = true
		if c.Status != domain.JobStatusCompleted {
			t.Fatalf("child %d status = %s", c.OutputIndex, c.Status)
		}
		if c.OutputLocation == "" {
			t.Fatalf("child %d missing location", c.OutputIndex)
		}
		if c.ParentID != job.ID {
			t.Fatalf("child %d parent = %q", c.OutputIndex, c.ParentID)
		}
		if c.ReservedCredits != 0 {
			t.Fatalf("child %d carries credits", c.OutputIndex)
		}
	}
	for i := 0; i < 3; i++ {
		if !seen[i] {
			t.Fatalf("missing child at index %d", i)
		}
	}

	parent := jobs.get(job.ID)
	if parent.Status != domain.JobStatusCompleted {
		t.Fatalf("parent status = %s, want completed", parent.Status)
	}
	if parent.OutputLocation != "" {
		t.Fatalf("batch parent must not carry a direct location")
	}
	if audit.count() != 1 {
		t.Fatalf("audit records = %d, want 1", audit.count())
	}
}

func TestPersistBatchIdempotentPerIndex(t *testing.T) {
	srv := newResultServer(t)
	job := testJob(time.Minute)
	existing := &domain.Job{
		ID:             "child-0",
		UserID:         job.UserID,
		Kind:           job.Kind,
		Status:         domain.JobStatusCompleted,
		OutputLocation: "https://cdn.test/prior/child-0.png",
		ParentID:       job.ID,
		OutputIndex:    0,
	}
	jobs := newFakeJobRepo(job, existing)
	p, _, store := newPersistEnv(jobs)

	urls := []string{srv.URL + "/a.png", srv.URL + "/b.png"}
	outcome, err := p.Persist(context.Background(), job, urls, nil)
	if err != nil {
		t.Fatalf("persist: %v", err)
	}
	if outcome.ChildLocations[0] != existing.OutputLocation {
		t.Fatalf("index 0 refetched: %q", outcome.ChildLocations[0])
	}
	if store.size() != 1 {
		t.Fatalf("stored objects = %d, want only the new index", store.size())
	}
}

func TestPersistBatchPartialFailure(t *testing.T) {
	srv := newResultServer(t)
	job := testJob(time.Minute)
	jobs := newFakeJobRepo(job)
	p, _, _ := newPersistEnv(jobs)

	urls := []string{srv.URL + "/a.png", srv.URL + "/missing"}
	outcome, err := p.Persist(context.Background(), job, urls, nil)
	if err != nil {
		t.Fatalf("persist: %v", err)
	}
	children, _ := jobs.ListChildren(context.Background(), job.ID)
	if len(children) != 1 {
		t.Fatalf("children = %d, want 1 surviving output", len(children))
	}
	if outcome.ChildLocations[1] != "" {
		t.Fatalf("failed index must stay empty")
	}
	if jobs.get(job.ID).Status != domain.JobStatusCompleted {
		t.Fatalf("parent with partial success must complete")
	}
}

func TestPersistAllOutputsFail(t *testing.T) {
	srv := newResultServer(t)
	job := testJob(time.Minute)
	jobs := newFakeJobRepo(job)
	p, audit, _ := newPersistEnv(jobs)

	urls := []string{srv.URL + "/missing", srv.URL + "/missing"}
	if _, err := p.Persist(context.Background(), job, urls, nil); err == nil {
		t.Fatalf("expected error when every output fails")
	}
	if jobs.get(job.ID).Status.Terminal() {
		t.Fatalf("persister must not mark the job terminal; settlement owns that")
	}
	if audit.count() != 1 {
		t.Fatalf("audit records = %d, want 1 failure record", audit.count())
	}
	if audit.records[0].FailureClass != domain.FailureClassInfrastructure {
		t.Fatalf("failure class = %s", audit.records[0].FailureClass)
	}
}

func TestPersistInline(t *testing.T) {
	job := testJob(time.Minute)
	jobs := newFakeJobRepo(job)
	p, audit, store := newPersistEnv(jobs)

	location, err := p.PersistInline(context.Background(), job, []byte("png-bytes"), "image/png")
	if err != nil {
		t.Fatalf("persist inline: %v", err)
	}
	if !strings.HasSuffix(location, ".png") {
		t.Fatalf("location = %q", location)
	}
	if store.size() != 1 || audit.count() != 1 {
		t.Fatalf("objects = %d, audits = %d", store.size(), audit.count())
	}
	if jobs.get(job.ID).Status != domain.JobStatusCompleted {
		t.Fatalf("inline persist must complete the job")
	}
}

func TestResolveExtension(t *testing.T) {
	cases := []struct {
		url         string
		contentType string
		kind        domain.ContentKind
		want        string
		wantErr     bool
	}{
		{"https://cdn.test/a.png?sig=x", "application/octet-stream", domain.ContentKindImage, ".png", false},
		{"https://cdn.test/stream", "image/jpeg", domain.ContentKindImage, ".jpg", false},
		{"https://cdn.test/stream", "audio/mpeg; charset=binary", domain.ContentKindAudio, ".mp3", false},
		{"https://cdn.test/stream", "application/octet-stream", domain.ContentKindAudio, ".mp3", false},
		{"https://cdn.test/stream", "application/octet-stream", domain.ContentKindImage, "", true},
	}
	for _, tc := range cases {
		got, err := resolveExtension(tc.url, tc.contentType, tc.kind)
		if tc.wantErr {
			if err == nil {
				t.Fatalf("%s %s: expected error", tc.url, tc.contentType)
			}
			continue
		}
		if err != nil {
			t.Fatalf("%s %s: %v", tc.url, tc.contentType, err)
		}
		if got != tc.want {
			t.Fatalf("%s %s: ext = %q, want %q", tc.url, tc.contentType, got, tc.want)
		}
	}
}
