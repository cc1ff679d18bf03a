package services

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/openarquivo/fichas-api/internal/models"
	"github.com/openarquivo/fichas-api/internal/ocr"
	"github.com/openarquivo/fichas-api/internal/storage"
	"github.com/openarquivo/fichas-api/internal/utils"
)

// pngHeader makes http.DetectContentType report image/png.
var pngHeader = []byte("\x89PNG\r\n\x1a\n")

func pngBytes(payload string) []byte {
	return append(append([]byte{}, pngHeader...), []byte(payload)...)
}

type memFichaRepo struct {
	mu     sync.Mutex
	fichas map[string]*models.Ficha
}

func newMemFichaRepo() *memFichaRepo {
	return &memFichaRepo{fichas: make(map[string]*models.Ficha)}
}

func (r *memFichaRepo) clone(f *models.Ficha) *models.Ficha {
	c := *f
	c.Fields = f.Fields.Clone()
	return &c
}

func (r *memFichaRepo) Create(ctx context.Context, ficha *models.Ficha) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.fichas[ficha.ID]; exists {
		return fmt.Errorf("duplicate id %s", ficha.ID)
	}
	r.fichas[ficha.ID] = r.clone(ficha)
	return nil
}

func (r *memFichaRepo) GetByID(ctx context.Context, id string) (*models.Ficha, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	f, ok := r.fichas[id]
	if !ok {
		return nil, nil
	}
	return r.clone(f), nil
}

func (r *memFichaRepo) List(ctx context.Context, filter models.FichaFilter) ([]*models.Ficha, int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var matched []*models.Ficha
	for _, f := range r.fichas {
		if filter.TemplateName != "" && f.TemplateName != filter.TemplateName {
			continue
		}
		if filter.Status != "" && f.Status != filter.Status {
			continue
		}
		matched = append(matched, r.clone(f))
	}
	sort.Slice(matched, func(i, j int) bool {
		return matched[i].CreatedAt.After(matched[j].CreatedAt)
	})
	total := len(matched)
	offset := (filter.Page - 1) * filter.PerPage
	if offset >= total {
		return nil, total, nil
	}
	end := offset + filter.PerPage
	if end > total {
		end = total
	}
	return matched[offset:end], total, nil
}

func (r *memFichaRepo) UpdateFields(ctx context.Context, id string, expectedRevision int64, fields models.Fields) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	f, ok := r.fichas[id]
	if !ok || f.Revision != expectedRevision {
		return false, nil
	}
	f.Fields = fields.Clone()
	f.Revision++
	f.UpdatedAt = time.Now()
	return true, nil
}

func (r *memFichaRepo) UpdateStatus(ctx context.Context, id string, expectedRevision int64, status models.FichaStatus) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	f, ok := r.fichas[id]
	if !ok || f.Revision != expectedRevision {
		return false, nil
	}
	f.Status = status
	f.Revision++
	f.UpdatedAt = time.Now()
	return true, nil
}

type memAttachmentRepo struct {
	mu          sync.Mutex
	attachments map[string]*models.Attachment
}

func newMemAttachmentRepo() *memAttachmentRepo {
	return &memAttachmentRepo{attachments: make(map[string]*models.Attachment)}
}

func (r *memAttachmentRepo) Create(ctx context.Context, att *models.Attachment) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	c := *att
	r.attachments[att.ID] = &c
	return nil
}

func (r *memAttachmentRepo) GetByID(ctx context.Context, id string) (*models.Attachment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	att, ok := r.attachments[id]
	if !ok {
		return nil, nil
	}
	c := *att
	return &c, nil
}

func (r *memAttachmentRepo) ListByFicha(ctx context.Context, fichaID string) ([]*models.Attachment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*models.Attachment
	for _, att := range r.attachments {
		if att.FichaID == fichaID {
			c := *att
			out = append(out, &c)
		}
	}
	return out, nil
}

func (r *memAttachmentRepo) FindByFichaAndKey(ctx context.Context, fichaID, storageKey string) (*models.Attachment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, att := range r.attachments {
		if att.FichaID == fichaID && att.StorageKey == storageKey {
			c := *att
			return &c, nil
		}
	}
	return nil, nil
}

func (r *memAttachmentRepo) UpdateOCRStatus(ctx context.Context, id string, status models.OCRStatus, recognizedFields, mergedFields int, reviewFields []string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	att, ok := r.attachments[id]
	if !ok {
		return fmt.Errorf("attachment %s not found", id)
	}
	att.OCRStatus = status
	att.RecognizedFields = recognizedFields
	att.MergedFields = mergedFields
	att.ReviewFields = reviewFields
	return nil
}

type memAuditRepo struct {
	mu      sync.Mutex
	entries []*models.AuditEntry
}

func (r *memAuditRepo) Insert(ctx context.Context, entry *models.AuditEntry) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	c := *entry
	r.entries = append(r.entries, &c)
	return nil
}

func (r *memAuditRepo) ListByEntity(ctx context.Context, entityKind, entityID string) ([]*models.AuditEntry, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*models.AuditEntry
	for _, e := range r.entries {
		if e.EntityKind == entityKind && e.EntityID == entityID {
			c := *e
			out = append(out, &c)
		}
	}
	return out, nil
}

type staticResolver struct {
	tmpl *models.Template
}

func (r *staticResolver) Get(ctx context.Context, name string, version int) (*models.Template, error) {
	if r.tmpl != nil && r.tmpl.Name == name && r.tmpl.Version == version {
		return r.tmpl, nil
	}
	return nil, &models.TemplateNotFoundError{Name: name, Version: version}
}

func (r *staticResolver) GetLatest(ctx context.Context, name string) (*models.Template, error) {
	if r.tmpl != nil && r.tmpl.Name == name {
		return r.tmpl, nil
	}
	return nil, &models.TemplateNotFoundError{Name: name}
}

type recordingQueue struct {
	mu       sync.Mutex
	enqueued []ocr.Job
	canceled []string
}

func (q *recordingQueue) Enqueue(ctx context.Context, job ocr.Job) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.enqueued = append(q.enqueued, job)
	return nil
}

func (q *recordingQueue) CancelFicha(fichaID string) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.canceled = append(q.canceled, fichaID)
}

func serviceTemplate() *models.Template {
	return &models.Template{
		Name:    "ficha-de-cadastro",
		Version: 2,
		Fields: []models.FieldSpec{
			{Name: "nome_completo", Type: models.FieldText, Required: true},
			{Name: "data_nascimento", Type: models.FieldDate, Required: true},
			{Name: "renda_mensal", Type: models.FieldNumber},
			{Name: "observacoes", Type: models.FieldText},
		},
	}
}

func newTestService(t *testing.T) (FichaService, *recordingQueue) {
	svc, queue, _ := newTestServiceAudited(t)
	return svc, queue
}

func newTestServiceAudited(t *testing.T) (FichaService, *recordingQueue, *memAuditRepo) {
	t.Helper()
	blobs, err := storage.NewLocalStorage(t.TempDir())
	if err != nil {
		t.Fatalf("storage init failed: %v", err)
	}
	audit := &memAuditRepo{}
	svc := NewFichaService(
		newMemFichaRepo(),
		newMemAttachmentRepo(),
		&staticResolver{tmpl: serviceTemplate()},
		blobs,
		audit,
		1<<20,
		utils.NewLogger("error"),
	)
	queue := &recordingQueue{}
	svc.SetOCRQueue(queue)
	return svc, queue, audit
}

func TestCreateFicha(t *testing.T) {
	svc, _ := newTestService(t)

	ficha, err := svc.Create(context.Background(), "ficha-de-cadastro", 0, map[string]any{
		"nome_completo": "Carlos Pereira",
	})
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}

	if ficha.Status != models.StatusDraft {
		t.Errorf("status = %s, want draft", ficha.Status)
	}
	if ficha.Revision != 1 {
		t.Errorf("revision = %d, want 1", ficha.Revision)
	}
	if ficha.TemplateVersion != 2 {
		t.Errorf("template version = %d, want latest (2)", ficha.TemplateVersion)
	}
}

func TestCreateFichaRejectsUnknownField(t *testing.T) {
	svc, _ := newTestService(t)

	_, err := svc.Create(context.Background(), "ficha-de-cadastro", 0, map[string]any{
		"telefone": "11 98888-0000",
	})
	var verr *models.ValidationError
	if !errors.As(err, &verr) {
		t.Fatalf("error is %T, want *ValidationError", err)
	}
}

func TestCreateFichaUnknownTemplate(t *testing.T) {
	svc, _ := newTestService(t)

	_, err := svc.Create(context.Background(), "nao-existe", 0, nil)
	var nf *models.TemplateNotFoundError
	if !errors.As(err, &nf) {
		t.Fatalf("error is %T, want *TemplateNotFoundError", err)
	}
}

func TestUpdateFicha(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	ficha, err := svc.Create(ctx, "ficha-de-cadastro", 0, nil)
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}

	updated, err := svc.Update(ctx, ficha.ID, ficha.Revision, map[string]any{
		"nome_completo": "Joana Lima",
		"renda_mensal":  float64(1800),
	})
	if err != nil {
		t.Fatalf("Update failed: %v", err)
	}
	if updated.Revision != ficha.Revision+1 {
		t.Errorf("revision = %d, want %d", updated.Revision, ficha.Revision+1)
	}
	if updated.Fields["nome_completo"].Text != "Joana Lima" {
		t.Errorf("nome_completo = %q", updated.Fields["nome_completo"].Text)
	}

	// nil clears a field
	cleared, err := svc.Update(ctx, ficha.ID, updated.Revision, map[string]any{
		"renda_mensal": nil,
	})
	if err != nil {
		t.Fatalf("clearing update failed: %v", err)
	}
	if _, ok := cleared.Fields["renda_mensal"]; ok {
		t.Error("renda_mensal still set after clearing")
	}
}

func TestUpdateFichaStaleRevision(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	ficha, err := svc.Create(ctx, "ficha-de-cadastro", 0, nil)
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	if _, err := svc.Update(ctx, ficha.ID, ficha.Revision, map[string]any{"nome_completo": "A"}); err != nil {
		t.Fatalf("first update failed: %v", err)
	}

	// second writer still holds the original revision
	_, err = svc.Update(ctx, ficha.ID, ficha.Revision, map[string]any{"nome_completo": "B"})
	var conflict *models.ConflictError
	if !errors.As(err, &conflict) {
		t.Fatalf("error is %T, want *ConflictError", err)
	}

	// the first write is untouched
	current, err := svc.Get(ctx, ficha.ID)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if current.Fields["nome_completo"].Text != "A" {
		t.Errorf("nome_completo = %q, want A", current.Fields["nome_completo"].Text)
	}
}

func TestConcurrentUpdatesExactlyOneWins(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	ficha, err := svc.Create(ctx, "ficha-de-cadastro", 0, nil)
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}

	const writers = 8
	var wg sync.WaitGroup
	results := make(chan error, writers)
	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := svc.Update(ctx, ficha.ID, ficha.Revision, map[string]any{
				"observacoes": fmt.Sprintf("escritor %d", i),
			})
			results <- err
		}(i)
	}
	wg.Wait()
	close(results)

	wins, conflicts := 0, 0
	for err := range results {
		if err == nil {
			wins++
			continue
		}
		var conflict *models.ConflictError
		if errors.As(err, &conflict) {
			conflicts++
		} else {
			t.Errorf("unexpected error: %v", err)
		}
	}
	if wins != 1 || conflicts != writers-1 {
		t.Errorf("wins = %d, conflicts = %d, want 1 and %d", wins, conflicts, writers-1)
	}
}

func TestUpdateImmutableFicha(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	ficha, err := svc.Create(ctx, "ficha-de-cadastro", 0, nil)
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	archived, err := svc.Transition(ctx, ficha.ID, ficha.Revision, models.StatusArchived)
	if err != nil {
		t.Fatalf("archive failed: %v", err)
	}

	_, err = svc.Update(ctx, archived.ID, archived.Revision, map[string]any{"nome_completo": "X"})
	var immutable *models.ImmutableRecordError
	if !errors.As(err, &immutable) {
		t.Fatalf("error is %T, want *ImmutableRecordError", err)
	}
}

func TestTransitionRejectsIllegalMove(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	ficha, err := svc.Create(ctx, "ficha-de-cadastro", 0, nil)
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}

	_, err = svc.Transition(ctx, ficha.ID, ficha.Revision, models.StatusFinalized)
	var trans *models.InvalidTransitionError
	if !errors.As(err, &trans) {
		t.Fatalf("error is %T, want *InvalidTransitionError", err)
	}
}

func TestFinalizeRequiresRequiredFields(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	ficha, err := svc.Create(ctx, "ficha-de-cadastro", 0, map[string]any{
		"nome_completo": "Rita Souza",
	})
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}

	// walk the lifecycle up to reviewed
	f := ficha
	for _, status := range []models.FichaStatus{models.StatusOCRPending, models.StatusOCRFailed, models.StatusReviewed} {
		f, err = svc.Transition(ctx, f.ID, f.Revision, status)
		if err != nil {
			t.Fatalf("transition to %s failed: %v", status, err)
		}
	}

	// data_nascimento is required and still empty
	_, err = svc.Transition(ctx, f.ID, f.Revision, models.StatusFinalized)
	var verr *models.ValidationError
	if !errors.As(err, &verr) {
		t.Fatalf("error is %T, want *ValidationError", err)
	}

	f, err = svc.Update(ctx, f.ID, f.Revision, map[string]any{"data_nascimento": "1990-01-15"})
	if err != nil {
		t.Fatalf("Update failed: %v", err)
	}
	final, err := svc.Transition(ctx, f.ID, f.Revision, models.StatusFinalized)
	if err != nil {
		t.Fatalf("finalize failed: %v", err)
	}
	if final.Status != models.StatusFinalized {
		t.Errorf("status = %s, want finalized", final.Status)
	}
}

func TestArchiveCancelsQueuedOCR(t *testing.T) {
	svc, queue := newTestService(t)
	ctx := context.Background()

	ficha, err := svc.Create(ctx, "ficha-de-cadastro", 0, nil)
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	if _, err := svc.Transition(ctx, ficha.ID, ficha.Revision, models.StatusArchived); err != nil {
		t.Fatalf("archive failed: %v", err)
	}

	if len(queue.canceled) != 1 || queue.canceled[0] != ficha.ID {
		t.Errorf("canceled = %v, want [%s]", queue.canceled, ficha.ID)
	}
}

func TestAddAttachment(t *testing.T) {
	svc, queue := newTestService(t)
	ctx := context.Background()

	ficha, err := svc.Create(ctx, "ficha-de-cadastro", 0, nil)
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}

	att, err := svc.AddAttachment(ctx, ficha.ID, "digitalizacao.png", pngBytes("scan"))
	if err != nil {
		t.Fatalf("AddAttachment failed: %v", err)
	}
	if att.OCRStatus != models.OCRStatusPending {
		t.Errorf("ocr status = %s, want pending", att.OCRStatus)
	}
	if att.MimeType != "image/png" {
		t.Errorf("mime type = %s, want image/png", att.MimeType)
	}

	if len(queue.enqueued) != 1 || queue.enqueued[0].AttachmentID != att.ID {
		t.Fatalf("enqueued jobs = %+v", queue.enqueued)
	}

	// the upload moved the draft into the OCR stage
	current, err := svc.Get(ctx, ficha.ID)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if current.Status != models.StatusOCRPending {
		t.Errorf("ficha status = %s, want ocr_pending", current.Status)
	}
}

func TestAddAttachmentIdenticalBytesIsNoOp(t *testing.T) {
	svc, queue := newTestService(t)
	ctx := context.Background()

	ficha, err := svc.Create(ctx, "ficha-de-cadastro", 0, nil)
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}

	data := pngBytes("mesmo scan")
	first, err := svc.AddAttachment(ctx, ficha.ID, "scan.png", data)
	if err != nil {
		t.Fatalf("first AddAttachment failed: %v", err)
	}
	second, err := svc.AddAttachment(ctx, ficha.ID, "scan-copia.png", data)
	if err != nil {
		t.Fatalf("second AddAttachment failed: %v", err)
	}

	if second.ID != first.ID {
		t.Errorf("duplicate upload created a new attachment")
	}
	if len(queue.enqueued) != 1 {
		t.Errorf("enqueued %d jobs, want 1", len(queue.enqueued))
	}
}

func TestAddAttachmentRejectsUnknownFormat(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	ficha, err := svc.Create(ctx, "ficha-de-cadastro", 0, nil)
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}

	_, err = svc.AddAttachment(ctx, ficha.ID, "planilha.xlsx", []byte("PK\x03\x04conteudo"))
	var verr *models.ValidationError
	if !errors.As(err, &verr) {
		t.Fatalf("error is %T, want *ValidationError", err)
	}
}

func TestMergeRecognizedSkipsSetFields(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	ficha, err := svc.Create(ctx, "ficha-de-cadastro", 0, map[string]any{
		"nome_completo": "Valor do Atendente",
	})
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}

	merged, err := svc.MergeRecognized(ctx, ficha.ID, map[string]models.FieldValue{
		"nome_completo": models.TextValue("Valor do OCR"),
		"renda_mensal":  models.NumberValue(950),
	})
	if err != nil {
		t.Fatalf("MergeRecognized failed: %v", err)
	}
	if merged != 1 {
		t.Errorf("merged = %d, want 1", merged)
	}

	current, err := svc.Get(ctx, ficha.ID)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if got := current.Fields["nome_completo"].Text; got != "Valor do Atendente" {
		t.Errorf("manual value overwritten: %q", got)
	}
	if got := current.Fields["renda_mensal"].Number; got != 950 {
		t.Errorf("renda_mensal = %v, want 950", got)
	}
}

func TestCompleteAttachmentAdvancesFicha(t *testing.T) {
	svc, queue := newTestService(t)
	ctx := context.Background()

	ficha, err := svc.Create(ctx, "ficha-de-cadastro", 0, nil)
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	first, err := svc.AddAttachment(ctx, ficha.ID, "pagina1.png", pngBytes("p1"))
	if err != nil {
		t.Fatalf("AddAttachment failed: %v", err)
	}
	second, err := svc.AddAttachment(ctx, ficha.ID, "pagina2.png", pngBytes("p2"))
	if err != nil {
		t.Fatalf("AddAttachment failed: %v", err)
	}
	if len(queue.enqueued) != 2 {
		t.Fatalf("enqueued %d jobs, want 2", len(queue.enqueued))
	}

	// first outcome alone does not advance the ficha
	if err := svc.CompleteAttachment(ctx, first.ID, models.OCRStatusDone, 2, 2, nil); err != nil {
		t.Fatalf("CompleteAttachment failed: %v", err)
	}
	current, _ := svc.Get(ctx, ficha.ID)
	if current.Status != models.StatusOCRPending {
		t.Fatalf("status = %s, want ocr_pending", current.Status)
	}

	if err := svc.CompleteAttachment(ctx, second.ID, models.OCRStatusFailed, 0, 0, nil); err != nil {
		t.Fatalf("CompleteAttachment failed: %v", err)
	}
	current, _ = svc.Get(ctx, ficha.ID)
	if current.Status != models.StatusOCRDone {
		t.Errorf("status = %s, want ocr_done", current.Status)
	}
}

func TestListFichasFiltersAndPaginates(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	var ids []string
	for i := 0; i < 3; i++ {
		ficha, err := svc.Create(ctx, "ficha-de-cadastro", 0, nil)
		if err != nil {
			t.Fatalf("Create failed: %v", err)
		}
		ids = append(ids, ficha.ID)
	}
	if _, err := svc.Transition(ctx, ids[0], 1, models.StatusArchived); err != nil {
		t.Fatalf("Transition failed: %v", err)
	}

	page, err := svc.List(ctx, models.FichaFilter{})
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	if page.Total != 3 || len(page.Items) != 3 {
		t.Errorf("total = %d, items = %d, want 3 and 3", page.Total, len(page.Items))
	}
	if page.Page != 1 || page.PerPage != 20 {
		t.Errorf("paging normalized to page %d per_page %d, want 1 and 20", page.Page, page.PerPage)
	}

	page, err = svc.List(ctx, models.FichaFilter{Status: models.StatusDraft})
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	if page.Total != 2 {
		t.Errorf("draft total = %d, want 2", page.Total)
	}

	page, err = svc.List(ctx, models.FichaFilter{Page: 2, PerPage: 2})
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	if page.Total != 3 || len(page.Items) != 1 {
		t.Errorf("page 2 of 2: total = %d, items = %d, want 3 and 1", page.Total, len(page.Items))
	}

	page, err = svc.List(ctx, models.FichaFilter{TemplateName: "outra-ficha"})
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	if page.Total != 0 || len(page.Items) != 0 {
		t.Errorf("unknown template: total = %d, items = %d, want 0 and 0", page.Total, len(page.Items))
	}
}

func TestAuditTrailRecordsMutations(t *testing.T) {
	svc, _, audit := newTestServiceAudited(t)
	ctx := context.Background()

	ficha, err := svc.Create(ctx, "ficha-de-cadastro", 0, nil)
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	if _, err := svc.Update(ctx, ficha.ID, 1, map[string]any{"nome_completo": "Ana Lima"}); err != nil {
		t.Fatalf("Update failed: %v", err)
	}
	if _, err := svc.AddAttachment(ctx, ficha.ID, "scan.png", pngBytes("scan")); err != nil {
		t.Fatalf("AddAttachment failed: %v", err)
	}

	entries, err := svc.AuditTrail(ctx, ficha.ID)
	if err != nil {
		t.Fatalf("AuditTrail failed: %v", err)
	}
	want := []string{
		models.AuditActionCreated,
		models.AuditActionFieldsUpdated,
		models.AuditActionAttachmentAdded,
	}
	if len(entries) < len(want) {
		t.Fatalf("recorded %d entries, want at least %d", len(entries), len(want))
	}
	for i, action := range want {
		if entries[i].Action != action {
			t.Errorf("entry %d action = %s, want %s", i, entries[i].Action, action)
		}
	}
	if entries[1].Detail != `{"fields":["nome_completo"]}` {
		t.Errorf("update detail = %s", entries[1].Detail)
	}

	if got := len(audit.entries); got != len(entries) {
		t.Errorf("repo holds %d entries, trail returned %d", got, len(entries))
	}

	if _, err := svc.AuditTrail(ctx, "nao-existe"); err == nil {
		t.Error("AuditTrail for unknown ficha did not fail")
	}
}

func TestCompleteAttachmentAllFailed(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	ficha, err := svc.Create(ctx, "ficha-de-cadastro", 0, nil)
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	att, err := svc.AddAttachment(ctx, ficha.ID, "scan.png", pngBytes("ilegivel"))
	if err != nil {
		t.Fatalf("AddAttachment failed: %v", err)
	}

	if err := svc.CompleteAttachment(ctx, att.ID, models.OCRStatusFailed, 0, 0, nil); err != nil {
		t.Fatalf("CompleteAttachment failed: %v", err)
	}

	current, err := svc.Get(ctx, ficha.ID)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if current.Status != models.StatusOCRFailed {
		t.Errorf("status = %s, want ocr_failed", current.Status)
	}
}

func TestCompleteAttachmentRecognizedWithoutMergeAdvancesToDone(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	// the clerk filled the field before the scan was read
	ficha, err := svc.Create(ctx, "ficha-de-cadastro", 0, map[string]any{
		"nome_completo": "Maria dos Santos",
	})
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	att, err := svc.AddAttachment(ctx, ficha.ID, "scan.png", pngBytes("scan"))
	if err != nil {
		t.Fatalf("AddAttachment failed: %v", err)
	}

	// recognition read the same field with confidence, so nothing new was merged
	if err := svc.CompleteAttachment(ctx, att.ID, models.OCRStatusDone, 1, 0, nil); err != nil {
		t.Fatalf("CompleteAttachment failed: %v", err)
	}

	current, err := svc.Get(ctx, ficha.ID)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if current.Status != models.StatusOCRDone {
		t.Errorf("status = %s, want ocr_done", current.Status)
	}
}
