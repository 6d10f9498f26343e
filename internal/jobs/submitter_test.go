package jobs

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"server/internal/domain"
	"server/internal/provider"
)

type memJobRepo struct {
	domain.JobRepository
	jobs      map[string]*domain.Job
	createErr error
}

func newMemJobRepo() *memJobRepo {
	return &memJobRepo{jobs: map[string]*domain.Job{}}
}

func (r *memJobRepo) Create(_ context.Context, job *domain.Job) error {
	if r.createErr != nil {
		return r.createErr
	}
	r.jobs[job.ID] = job
	return nil
}

type memLedger struct {
	reserved map[string]int64
	released map[string]int
	balance  int64
}

func newMemLedger(balance int64) *memLedger {
	return &memLedger{reserved: map[string]int64{}, released: map[string]int{}, balance: balance}
}

func (l *memLedger) Reserve(_ context.Context, _, jobID string, amount int64) error {
	if l.balance < amount {
		return domain.ErrInsufficientCredit
	}
	l.balance -= amount
	l.reserved[jobID] = amount
	return nil
}

func (l *memLedger) Release(_ context.Context, jobID string) error {
	l.released[jobID]++
	l.balance += l.reserved[jobID]
	return nil
}

func (l *memLedger) Finalize(context.Context, string) error { return nil }

func testRegistry() *provider.Registry {
	return provider.NewRegistry(provider.ModelConfig{
		Name:             "test-model",
		Provider:         "testprov",
		Kind:             domain.ContentKindImage,
		ExpectedDuration: 30 * time.Second,
		CreditCost:       5,
		Defaults:         map[string]any{"size": "1024x1024"},
	})
}

func TestSubmitCreatesPendingJob(t *testing.T) {
	repo := newMemJobRepo()
	ledger := newMemLedger(10)
	s := NewSubmitter(repo, ledger, testRegistry(), "https://api.example.com", "static-secret", zerolog.Nop())

	job, err := s.Submit(context.Background(), SubmitSpec{
		UserID: "user-1",
		Model:  "test-model",
		Prompt: "a red fox",
		Params: map[string]any{"seed": float64(7)},
	})
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if job.Status != domain.JobStatusPending {
		t.Fatalf("status = %s", job.Status)
	}
	if job.Provider != "testprov" {
		t.Fatalf("provider = %q, want catalog default", job.Provider)
	}
	if job.Kind != domain.ContentKindImage {
		t.Fatalf("kind = %s", job.Kind)
	}
	if job.ReservedCredits != 5 {
		t.Fatalf("reserved = %d", job.ReservedCredits)
	}
	if job.VerifyToken == "" || len(job.VerifyToken) < 32 {
		t.Fatalf("verify token = %q", job.VerifyToken)
	}
	if job.Params["size"] != "1024x1024" || job.Params["seed"] != float64(7) {
		t.Fatalf("params = %v", job.Params)
	}
	if ledger.balance != 5 {
		t.Fatalf("balance = %d, want 5", ledger.balance)
	}
	if _, ok := repo.jobs[job.ID]; !ok {
		t.Fatalf("job row not created")
	}
}

func TestSubmitUnknownModel(t *testing.T) {
	s := NewSubmitter(newMemJobRepo(), newMemLedger(10), testRegistry(), "https://api.example.com", "tok", zerolog.Nop())
	_, err := s.Submit(context.Background(), SubmitSpec{UserID: "user-1", Model: "nope"})
	if !errors.Is(err, domain.ErrUnknownModel) {
		t.Fatalf("err = %v, want ErrUnknownModel", err)
	}
}

func TestSubmitInsufficientCredit(t *testing.T) {
	s := NewSubmitter(newMemJobRepo(), newMemLedger(2), testRegistry(), "https://api.example.com", "tok", zerolog.Nop())
	_, err := s.Submit(context.Background(), SubmitSpec{UserID: "user-1", Model: "test-model"})
	if !errors.Is(err, domain.ErrInsufficientCredit) {
		t.Fatalf("err = %v, want ErrInsufficientCredit", err)
	}
}

func TestSubmitReleasesReservationOnCreateFailure(t *testing.T) {
	repo := newMemJobRepo()
	repo.createErr = errors.New("db down")
	ledger := newMemLedger(10)
	s := NewSubmitter(repo, ledger, testRegistry(), "https://api.example.com", "tok", zerolog.Nop())

	_, err := s.Submit(context.Background(), SubmitSpec{UserID: "user-1", Model: "test-model"})
	if err == nil {
		t.Fatalf("expected error")
	}
	if ledger.balance != 10 {
		t.Fatalf("balance = %d, reservation leaked", ledger.balance)
	}
}

func TestSubmitMintsUniqueVerifyTokens(t *testing.T) {
	s := NewSubmitter(newMemJobRepo(), newMemLedger(100), testRegistry(), "https://api.example.com", "tok", zerolog.Nop())
	seen := map[string]bool{}
	for i := 0; i < 10; i++ {
		job, err := s.Submit(context.Background(), SubmitSpec{UserID: "user-1", Model: "test-model"})
		if err != nil {
			t.Fatalf("submit %d: %v", i, err)
		}
		if seen[job.VerifyToken] {
			t.Fatalf("verify token repeated")
		}
		seen[job.VerifyToken] = true
	}
}

func TestCallbackURL(t *testing.T) {
	s := NewSubmitter(newMemJobRepo(), newMemLedger(10), testRegistry(), "https://api.example.com", "static secret", zerolog.Nop())
	u := s.CallbackURL("testprov", "verify-token")
	if !strings.HasPrefix(u, "https://api.example.com/v1/webhooks/testprov?") {
		t.Fatalf("url = %q", u)
	}
	if !strings.Contains(u, "token=static+secret") {
		t.Fatalf("url = %q, static token not escaped", u)
	}
	if !strings.Contains(u, "verify=verify-token") {
		t.Fatalf("url = %q, verify token missing", u)
	}
}
