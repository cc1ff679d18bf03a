package ocr

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/openarquivo/fichas-api/internal/metrics"
	"github.com/openarquivo/fichas-api/internal/models"
	"github.com/openarquivo/fichas-api/internal/storage"
	"github.com/openarquivo/fichas-api/internal/utils"

	"github.com/prometheus/client_golang/prometheus"
)

type fakeProvider struct {
	mu        sync.Mutex
	calls     int
	recognize func(call int) (*Result, error)
}

func (f *fakeProvider) Name() string { return "fake" }

func (f *fakeProvider) Recognize(ctx context.Context, req Request) (*Result, error) {
	f.mu.Lock()
	f.calls++
	call := f.calls
	f.mu.Unlock()
	return f.recognize(call)
}

func (f *fakeProvider) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

type completion struct {
	attachmentID string
	outcome      models.OCRStatus
	recognized   int
	merged       int
	review       []string
}

type fakeStore struct {
	mu           sync.Mutex
	status       models.FichaStatus
	tmpl         *models.Template
	merged       map[string]models.FieldValue
	snapshotErrs int
	done         chan completion
}

func newFakeStore(status models.FichaStatus) *fakeStore {
	return &fakeStore{
		status: status,
		tmpl:   mappingTemplate(),
		merged: make(map[string]models.FieldValue),
		done:   make(chan completion, 8),
	}
}

func (f *fakeStore) FichaSnapshot(ctx context.Context, fichaID string) (models.FichaStatus, *models.Template, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.snapshotErrs > 0 {
		f.snapshotErrs--
		return "", nil, errors.New("database locked")
	}
	return f.status, f.tmpl, nil
}

func (f *fakeStore) MergeRecognized(ctx context.Context, fichaID string, values map[string]models.FieldValue) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	count := 0
	for name, v := range values {
		if _, set := f.merged[name]; !set {
			f.merged[name] = v
			count++
		}
	}
	return count, nil
}

func (f *fakeStore) CompleteAttachment(ctx context.Context, attachmentID string, outcome models.OCRStatus, recognizedFields, mergedFields int, reviewFields []string) error {
	f.done <- completion{attachmentID: attachmentID, outcome: outcome, recognized: recognizedFields, merged: mergedFields, review: reviewFields}
	return nil
}

func (f *fakeStore) waitCompletion(t *testing.T) completion {
	t.Helper()
	select {
	case c := <-f.done:
		return c
	case <-time.After(5 * time.Second):
		t.Fatal("no completion within deadline")
		return completion{}
	}
}

func startDispatcher(t *testing.T, cfg DispatcherConfig, provider Provider, store Store) (*Dispatcher, storage.Storage) {
	t.Helper()
	blobs, err := storage.NewLocalStorage(t.TempDir())
	if err != nil {
		t.Fatalf("storage init failed: %v", err)
	}

	if cfg.Workers == 0 {
		cfg.Workers = 2
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = time.Second
	}
	if cfg.ConfidenceThreshold == 0 {
		cfg.ConfidenceThreshold = 0.8
	}

	d := NewDispatcher(cfg, provider, store, blobs, metrics.New(prometheus.NewRegistry()), utils.NewLogger("error"))

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go d.Start(ctx)

	return d, blobs
}

func enqueueBlob(t *testing.T, d *Dispatcher, blobs storage.Storage, fichaID, attachmentID string) {
	t.Helper()
	key, err := blobs.Put(context.Background(), []byte("conteudo do anexo "+attachmentID), "application/pdf")
	if err != nil {
		t.Fatalf("blob put failed: %v", err)
	}
	err = d.Enqueue(context.Background(), Job{
		FichaID:      fichaID,
		AttachmentID: attachmentID,
		StorageKey:   key,
		MimeType:     "application/pdf",
	})
	if err != nil {
		t.Fatalf("enqueue failed: %v", err)
	}
}

func TestDispatcherSuccessMergesFields(t *testing.T) {
	provider := &fakeProvider{recognize: func(int) (*Result, error) {
		return resultWithLines(
			Line{Text: "Nome Completo: Maria dos Santos", Confidence: 0.95},
			Line{Text: "Renda Mensal: R$ 1.200,00", Confidence: 0.5}, // below threshold
		), nil
	}}
	store := newFakeStore(models.StatusOCRPending)
	d, blobs := startDispatcher(t, DispatcherConfig{Retry: 2}, provider, store)

	enqueueBlob(t, d, blobs, "ficha-1", "att-1")

	c := store.waitCompletion(t)
	if c.outcome != models.OCRStatusDone {
		t.Fatalf("outcome = %s, want done", c.outcome)
	}
	if c.merged != 1 {
		t.Errorf("merged = %d, want 1", c.merged)
	}
	if len(c.review) != 1 || c.review[0] != "renda_mensal" {
		t.Errorf("review = %v, want [renda_mensal]", c.review)
	}
	if _, ok := store.merged["nome_completo"]; !ok {
		t.Error("nome_completo not merged")
	}
}

func TestDispatcherReportsRecognitionWhenFieldAlreadySet(t *testing.T) {
	provider := &fakeProvider{recognize: func(int) (*Result, error) {
		return resultWithLines(Line{Text: "Nome Completo: Maria dos Santos", Confidence: 0.95}), nil
	}}
	store := newFakeStore(models.StatusOCRPending)
	store.merged["nome_completo"] = models.TextValue("Maria S.")
	d, blobs := startDispatcher(t, DispatcherConfig{Retry: 2}, provider, store)

	enqueueBlob(t, d, blobs, "ficha-1", "att-1")

	c := store.waitCompletion(t)
	if c.outcome != models.OCRStatusDone {
		t.Fatalf("outcome = %s, want done", c.outcome)
	}
	if c.recognized != 1 {
		t.Errorf("recognized = %d, want 1", c.recognized)
	}
	if c.merged != 0 {
		t.Errorf("merged = %d, want 0", c.merged)
	}
}

func TestDispatcherRetriesSnapshotErrors(t *testing.T) {
	provider := &fakeProvider{recognize: func(int) (*Result, error) {
		return resultWithLines(Line{Text: "Nome Completo: Ana", Confidence: 0.9}), nil
	}}
	store := newFakeStore(models.StatusOCRPending)
	store.snapshotErrs = 2
	d, blobs := startDispatcher(t, DispatcherConfig{Retry: 2}, provider, store)

	enqueueBlob(t, d, blobs, "ficha-1", "att-1")

	c := store.waitCompletion(t)
	if c.outcome != models.OCRStatusDone {
		t.Fatalf("outcome = %s, want done", c.outcome)
	}
	if c.merged != 1 {
		t.Errorf("merged = %d, want 1", c.merged)
	}
}

func TestDispatcherSnapshotErrorsExhaustRetries(t *testing.T) {
	provider := &fakeProvider{recognize: func(int) (*Result, error) {
		t.Error("provider called without a snapshot")
		return nil, errors.New("unreachable")
	}}
	store := newFakeStore(models.StatusOCRPending)
	store.snapshotErrs = 3
	d, blobs := startDispatcher(t, DispatcherConfig{Retry: 2}, provider, store)

	enqueueBlob(t, d, blobs, "ficha-1", "att-1")

	c := store.waitCompletion(t)
	if c.outcome != models.OCRStatusFailed {
		t.Fatalf("outcome = %s, want failed", c.outcome)
	}
}

func TestDispatcherRetriesTransientThenFails(t *testing.T) {
	provider := &fakeProvider{recognize: func(int) (*Result, error) {
		return nil, &TransientError{Err: errors.New("timeout")}
	}}
	store := newFakeStore(models.StatusOCRPending)
	d, blobs := startDispatcher(t, DispatcherConfig{Retry: 2}, provider, store)

	enqueueBlob(t, d, blobs, "ficha-1", "att-1")

	c := store.waitCompletion(t)
	if c.outcome != models.OCRStatusFailed {
		t.Fatalf("outcome = %s, want failed", c.outcome)
	}
	// retry limit 2 means 3 attempts in total
	if got := provider.callCount(); got != 3 {
		t.Errorf("provider called %d times, want 3", got)
	}
}

func TestDispatcherRecoversAfterTransientFailure(t *testing.T) {
	provider := &fakeProvider{recognize: func(call int) (*Result, error) {
		if call < 3 {
			return nil, &TransientError{Err: errors.New("overloaded")}
		}
		return resultWithLines(Line{Text: "Nome Completo: Ana", Confidence: 0.9}), nil
	}}
	store := newFakeStore(models.StatusOCRPending)
	d, blobs := startDispatcher(t, DispatcherConfig{Retry: 2}, provider, store)

	enqueueBlob(t, d, blobs, "ficha-1", "att-1")

	c := store.waitCompletion(t)
	if c.outcome != models.OCRStatusDone {
		t.Fatalf("outcome = %s, want done", c.outcome)
	}
	if c.merged != 1 {
		t.Errorf("merged = %d, want 1", c.merged)
	}
}

func TestDispatcherPermanentFailureSkipsRetry(t *testing.T) {
	provider := &fakeProvider{recognize: func(int) (*Result, error) {
		return nil, errors.New("corrupted content")
	}}
	store := newFakeStore(models.StatusOCRPending)
	d, blobs := startDispatcher(t, DispatcherConfig{Retry: 2}, provider, store)

	enqueueBlob(t, d, blobs, "ficha-1", "att-1")

	c := store.waitCompletion(t)
	if c.outcome != models.OCRStatusFailed {
		t.Fatalf("outcome = %s, want failed", c.outcome)
	}
	if got := provider.callCount(); got != 1 {
		t.Errorf("provider called %d times, want 1", got)
	}
}

func TestDispatcherArchivedFichaCancelsJob(t *testing.T) {
	provider := &fakeProvider{recognize: func(int) (*Result, error) {
		t.Error("provider called for an archived ficha")
		return nil, errors.New("unreachable")
	}}
	store := newFakeStore(models.StatusArchived)
	d, blobs := startDispatcher(t, DispatcherConfig{Retry: 2}, provider, store)

	enqueueBlob(t, d, blobs, "ficha-1", "att-1")

	c := store.waitCompletion(t)
	if c.outcome != models.OCRStatusCanceled {
		t.Errorf("outcome = %s, want canceled", c.outcome)
	}
}

func TestDispatcherEnqueueIsExclusivePerAttachment(t *testing.T) {
	release := make(chan struct{})
	provider := &fakeProvider{recognize: func(int) (*Result, error) {
		<-release
		return resultWithLines(Line{Text: "Nome Completo: Ana", Confidence: 0.9}), nil
	}}
	store := newFakeStore(models.StatusOCRPending)
	d, blobs := startDispatcher(t, DispatcherConfig{Workers: 4, Retry: 0}, provider, store)

	key, err := blobs.Put(context.Background(), []byte("conteudo"), "application/pdf")
	if err != nil {
		t.Fatalf("blob put failed: %v", err)
	}
	job := Job{FichaID: "ficha-1", AttachmentID: "att-1", StorageKey: key, MimeType: "application/pdf"}

	for i := 0; i < 3; i++ {
		if err := d.Enqueue(context.Background(), job); err != nil {
			t.Fatalf("enqueue %d failed: %v", i, err)
		}
	}
	close(release)

	store.waitCompletion(t)
	select {
	case c := <-store.done:
		t.Errorf("duplicate completion: %+v", c)
	case <-time.After(200 * time.Millisecond):
	}
	if got := provider.callCount(); got != 1 {
		t.Errorf("provider called %d times, want 1", got)
	}
}
