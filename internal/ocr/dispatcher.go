package ocr

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/openarquivo/fichas-api/internal/metrics"
	"github.com/openarquivo/fichas-api/internal/models"
	"github.com/openarquivo/fichas-api/internal/storage"
	"github.com/openarquivo/fichas-api/internal/utils"

	"golang.org/x/sync/errgroup"
)

// Store is the slice of the ficha service the dispatcher needs to report
// outcomes. Keeping it an interface here avoids a package cycle with services.
type Store interface {
	// FichaSnapshot returns the current status and resolved template of a
	// ficha without locking it.
	FichaSnapshot(ctx context.Context, fichaID string) (models.FichaStatus, *models.Template, error)
	// MergeRecognized writes recognized values into the ficha's fields,
	// skipping fields that already hold a value. It returns how many were
	// actually merged.
	MergeRecognized(ctx context.Context, fichaID string, values map[string]models.FieldValue) (int, error)
	// CompleteAttachment records the terminal outcome of an attachment's OCR
	// job and advances the ficha when all its attachments are terminal.
	// recognizedFields counts confident readings whether or not they were
	// merged; a field a clerk filled first still counts as recognized.
	CompleteAttachment(ctx context.Context, attachmentID string, outcome models.OCRStatus, recognizedFields, mergedFields int, reviewFields []string) error
}

// Job is one unit of OCR work. Attempt counts retries already used, so a job
// with Attempt == retry limit will not be requeued again.
type Job struct {
	FichaID      string
	AttachmentID string
	StorageKey   string
	MimeType     string
	Attempt      int
	enqueuedAt   time.Time
}

// DispatcherConfig carries the tunables the dispatcher reads from the
// environment configuration.
type DispatcherConfig struct {
	Workers             int
	QueueSize           int
	MaxPages            int
	Timeout             time.Duration
	Retry               int
	LanguageHints       []string
	ConfidenceThreshold float64
}

// Dispatcher runs the bounded OCR worker pool. Jobs are serialized per
// attachment: an attachment already in flight or queued is not enqueued
// again, and archiving a ficha cancels its pending work.
type Dispatcher struct {
	cfg      DispatcherConfig
	provider Provider
	store    Store
	blobs    storage.Storage
	metrics  *metrics.Metrics
	logger   *utils.Logger

	jobs chan Job

	mu       sync.Mutex
	inflight map[string]bool                          // attachment ID -> queued or running
	cancels  map[string]map[string]context.CancelFunc // ficha ID -> attachment ID -> cancel
}

func NewDispatcher(cfg DispatcherConfig, provider Provider, store Store, blobs storage.Storage, m *metrics.Metrics, logger *utils.Logger) *Dispatcher {
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = cfg.Workers * 16
	}
	return &Dispatcher{
		cfg:      cfg,
		provider: provider,
		store:    store,
		blobs:    blobs,
		metrics:  m,
		logger:   logger,
		jobs:     make(chan Job, cfg.QueueSize),
		inflight: make(map[string]bool),
		cancels:  make(map[string]map[string]context.CancelFunc),
	}
}

// Enqueue schedules OCR for an attachment. It is a no-op when the attachment
// already has queued or running work, and fails when the queue is full.
func (d *Dispatcher) Enqueue(ctx context.Context, job Job) error {
	d.mu.Lock()
	if d.inflight[job.AttachmentID] {
		d.mu.Unlock()
		return nil
	}
	d.inflight[job.AttachmentID] = true
	d.mu.Unlock()

	job.enqueuedAt = time.Now()
	select {
	case d.jobs <- job:
		d.metrics.QueueDepth.Inc()
		return nil
	case <-ctx.Done():
		d.clearInflight(job.AttachmentID)
		return ctx.Err()
	default:
		d.clearInflight(job.AttachmentID)
		return fmt.Errorf("ocr queue full (%d jobs)", cap(d.jobs))
	}
}

// CancelFicha stops the running attempts of a ficha's attachments. Jobs still
// sitting in the queue notice the archived status when a worker picks them up.
func (d *Dispatcher) CancelFicha(fichaID string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	for _, cancel := range d.cancels[fichaID] {
		cancel()
	}
	delete(d.cancels, fichaID)
}

// Start runs the worker pool until ctx is canceled. It blocks, so callers run
// it in its own goroutine.
func (d *Dispatcher) Start(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)
	for i := 0; i < d.cfg.Workers; i++ {
		g.Go(func() error {
			for {
				select {
				case <-ctx.Done():
					return ctx.Err()
				case job := <-d.jobs:
					d.metrics.QueueDepth.Dec()
					d.process(ctx, job)
				}
			}
		})
	}
	return g.Wait()
}

func (d *Dispatcher) process(ctx context.Context, job Job) {
	status, tmpl, err := d.store.FichaSnapshot(ctx, job.FichaID)
	if err != nil {
		if ctx.Err() != nil {
			d.clearInflight(job.AttachmentID)
			return
		}
		// Infrastructure hiccups on the snapshot count against the retry
		// budget like any other transient failure.
		if job.Attempt < d.cfg.Retry {
			d.logger.Warn("ocr snapshot failed, requeueing",
				"ficha_id", job.FichaID, "attempt", job.Attempt, "error", err)
			d.requeue(job)
			return
		}
		d.logger.Error("ocr snapshot failed", "ficha_id", job.FichaID, "error", err)
		d.finish(ctx, job, models.OCRStatusFailed, 0, 0, nil)
		return
	}
	if status == models.StatusArchived {
		d.finish(ctx, job, models.OCRStatusCanceled, 0, 0, nil)
		return
	}

	result, err := d.attempt(ctx, job)
	if err != nil {
		if ctx.Err() != nil {
			// Shutdown, not an outcome; leave the attachment pending.
			d.clearInflight(job.AttachmentID)
			return
		}
		// A mid-attempt archive cancels the attempt context; resolve it as a
		// cancellation rather than a failure.
		if current, _, snapErr := d.store.FichaSnapshot(ctx, job.FichaID); snapErr == nil && current == models.StatusArchived {
			d.finish(ctx, job, models.OCRStatusCanceled, 0, 0, nil)
			return
		}
		if IsTransient(err) && job.Attempt < d.cfg.Retry {
			d.logger.Warn("ocr attempt failed, requeueing",
				"attachment_id", job.AttachmentID, "attempt", job.Attempt, "error", err)
			d.requeue(job)
			return
		}
		d.logger.Error("ocr job failed",
			"attachment_id", job.AttachmentID, "attempt", job.Attempt, "error", err)
		d.finish(ctx, job, models.OCRStatusFailed, 0, 0, nil)
		return
	}

	recognized, merged, review := d.merge(ctx, job, tmpl, result)
	d.finish(ctx, job, models.OCRStatusDone, recognized, merged, review)
}

// attempt runs one recognition pass under the per-attempt timeout, with the
// cancel func registered so CancelFicha can interrupt it.
func (d *Dispatcher) attempt(ctx context.Context, job Job) (*Result, error) {
	d.metrics.AttemptsTotal.Inc()

	data, err := d.blobs.Get(ctx, job.StorageKey)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, fmt.Errorf("loading attachment %s: %w", job.AttachmentID, err)
		}
		// Backend faults on the blob read are retryable; a missing key is not.
		return nil, &TransientError{Err: fmt.Errorf("loading attachment %s: %w", job.AttachmentID, err)}
	}

	attemptCtx, cancel := context.WithTimeout(ctx, d.cfg.Timeout)
	defer cancel()
	d.registerCancel(job, cancel)
	defer d.unregisterCancel(job)

	result, err := d.provider.Recognize(attemptCtx, Request{
		Data:          data,
		MimeType:      job.MimeType,
		MaxPages:      d.cfg.MaxPages,
		LanguageHints: d.cfg.LanguageHints,
	})
	if err != nil {
		if attemptCtx.Err() == context.DeadlineExceeded {
			return nil, &TransientError{Err: fmt.Errorf("recognition timed out after %s", d.cfg.Timeout)}
		}
		return nil, err
	}
	return result, nil
}

// merge maps the recognition result onto the template and writes confident
// values, flagging the rest for review. The returned recognized count covers
// every confident reading, including ones skipped because the field was
// already set.
func (d *Dispatcher) merge(ctx context.Context, job Job, tmpl *models.Template, result *Result) (int, int, []string) {
	candidates := MapFields(result, tmpl)

	values := make(map[string]models.FieldValue)
	var review []string
	for _, c := range candidates {
		if c.Confidence >= d.cfg.ConfidenceThreshold {
			values[c.Name] = c.Value
		} else {
			review = append(review, c.Name)
		}
	}
	d.metrics.FieldsFlaggedTotal.Add(float64(len(review)))

	recognized := len(values)
	if recognized == 0 {
		return 0, 0, review
	}
	merged, err := d.store.MergeRecognized(ctx, job.FichaID, values)
	if err != nil {
		d.logger.Error("merging recognized fields failed", "ficha_id", job.FichaID, "error", err)
		return recognized, 0, review
	}
	d.metrics.FieldsMergedTotal.Add(float64(merged))
	return recognized, merged, review
}

func (d *Dispatcher) finish(ctx context.Context, job Job, outcome models.OCRStatus, recognized, merged int, review []string) {
	d.clearInflight(job.AttachmentID)
	d.metrics.JobsTotal.WithLabelValues(string(outcome)).Inc()
	d.metrics.JobDuration.Observe(time.Since(job.enqueuedAt).Seconds())

	if err := d.store.CompleteAttachment(ctx, job.AttachmentID, outcome, recognized, merged, review); err != nil {
		d.logger.Error("recording ocr outcome failed",
			"attachment_id", job.AttachmentID, "outcome", outcome, "error", err)
	}
}

func (d *Dispatcher) requeue(job Job) {
	job.Attempt++
	select {
	case d.jobs <- job:
		d.metrics.QueueDepth.Inc()
	default:
		// Queue full on retry; fail rather than block a worker.
		d.finish(context.Background(), job, models.OCRStatusFailed, 0, 0, nil)
	}
}

func (d *Dispatcher) clearInflight(attachmentID string) {
	d.mu.Lock()
	delete(d.inflight, attachmentID)
	d.mu.Unlock()
}

func (d *Dispatcher) registerCancel(job Job, cancel context.CancelFunc) {
	d.mu.Lock()
	defer d.mu.Unlock()
	byAttachment, ok := d.cancels[job.FichaID]
	if !ok {
		byAttachment = make(map[string]context.CancelFunc)
		d.cancels[job.FichaID] = byAttachment
	}
	byAttachment[job.AttachmentID] = cancel
}

func (d *Dispatcher) unregisterCancel(job Job) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if byAttachment, ok := d.cancels[job.FichaID]; ok {
		delete(byAttachment, job.AttachmentID)
		if len(byAttachment) == 0 {
			delete(d.cancels, job.FichaID)
		}
	}
}
