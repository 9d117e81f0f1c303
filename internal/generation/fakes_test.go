package generation

import (
	"context"
	"encoding/json"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/nikhilbhutani/docissue/internal/apperr"
	"github.com/nikhilbhutani/docissue/internal/document"
	"github.com/nikhilbhutani/docissue/internal/lock"
	"github.com/nikhilbhutani/docissue/internal/models"
	"github.com/nikhilbhutani/docissue/internal/qr"
	"github.com/nikhilbhutani/docissue/internal/render"
	"github.com/nikhilbhutani/docissue/internal/storage"
)

type fakeCatalog struct {
	templates map[uuid.UUID]*models.Template
	students  map[uuid.UUID]*models.Student
	order     []uuid.UUID
}

func (c *fakeCatalog) GetTemplate(_ context.Context, _, id uuid.UUID) (*models.Template, error) {
	t, ok := c.templates[id]
	if !ok {
		return nil, apperr.NotFound("template")
	}
	cp := *t
	return &cp, nil
}

func (c *fakeCatalog) GetStudent(_ context.Context, _, id uuid.UUID) (*models.Student, error) {
	s, ok := c.students[id]
	if !ok {
		return nil, apperr.NotFound("student")
	}
	cp := *s
	return &cp, nil
}

func (c *fakeCatalog) ListStudentIDs(context.Context, uuid.UUID) ([]uuid.UUID, error) {
	return append([]uuid.UUID(nil), c.order...), nil
}

type fakeTenants map[uuid.UUID]*models.Tenant

func (f fakeTenants) GetByID(_ context.Context, id uuid.UUID) (*models.Tenant, error) {
	t, ok := f[id]
	if !ok {
		return nil, apperr.NotFound("tenant")
	}
	return t, nil
}

type pair struct {
	student, template uuid.UUID
}

// fakeDocuments keeps the same uniqueness rules as the documents table.
type fakeDocuments struct {
	mu      sync.Mutex
	docs    map[uuid.UUID]*models.Document
	byPair  map[pair]uuid.UUID
	tokens  map[string]uuid.UUID
	tenants fakeTenants
	issuer  *qr.Issuer
}

func newFakeDocuments(tenants fakeTenants) *fakeDocuments {
	return &fakeDocuments{
		docs:    make(map[uuid.UUID]*models.Document),
		byPair:  make(map[pair]uuid.UUID),
		tokens:  make(map[string]uuid.UUID),
		tenants: tenants,
		issuer:  qr.NewIssuer("https://verify.example.edu"),
	}
}

func cloneDoc(d *models.Document) *models.Document {
	cp := *d
	return &cp
}

func (f *fakeDocuments) GetOrCreate(_ context.Context, nd document.NewDocument) (*models.Document, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	key := pair{nd.StudentID, nd.TemplateID}
	if id, ok := f.byPair[key]; ok {
		return cloneDoc(f.docs[id]), false, nil
	}
	now := time.Now().UTC()
	d := &models.Document{
		ID:         uuid.New(),
		TenantID:   nd.TenantID,
		StudentID:  nd.StudentID,
		TemplateID: nd.TemplateID,
		Title:      nd.Title,
		Metadata:   nd.Snapshot,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	if nd.WithQR {
		tok, err := f.issuer.NewToken()
		if err != nil {
			return nil, false, err
		}
		d.QRToken = &tok
		f.tokens[tok] = d.ID
	}
	f.docs[d.ID] = d
	f.byPair[key] = d.ID
	return cloneDoc(d), true, nil
}

func (f *fakeDocuments) Get(_ context.Context, tenantID, id uuid.UUID) (*models.Document, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	d, ok := f.docs[id]
	if !ok || d.TenantID != tenantID {
		return nil, apperr.NotFound("document")
	}
	return cloneDoc(d), nil
}

func (f *fakeDocuments) GetByToken(_ context.Context, token string) (*document.Issued, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	id, ok := f.tokens[token]
	if !ok {
		return nil, apperr.NotFound("document")
	}
	d := f.docs[id]
	tn := f.tenants[d.TenantID]
	return &document.Issued{Document: cloneDoc(d), IssuerName: tn.Name, IssuerSlug: tn.Slug}, nil
}

func (f *fakeDocuments) ExistingStudentIDs(_ context.Context, templateID uuid.UUID) (map[uuid.UUID]bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make(map[uuid.UUID]bool)
	for p := range f.byPair {
		if p.template == templateID {
			out[p.student] = true
		}
	}
	return out, nil
}

func (f *fakeDocuments) update(id uuid.UUID, fn func(d *models.Document)) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	d, ok := f.docs[id]
	if !ok {
		return apperr.NotFound("document")
	}
	fn(d)
	d.UpdatedAt = time.Now().UTC()
	return nil
}

func (f *fakeDocuments) AttachOutput(_ context.Context, id uuid.UUID, ref, contentType string) error {
	return f.update(id, func(d *models.Document) {
		d.OutputRef = &ref
		d.OutputContentType = &contentType
		d.LastError = nil
	})
}

func (f *fakeDocuments) AttachQRImage(_ context.Context, id uuid.UUID, ref string) error {
	return f.update(id, func(d *models.Document) {
		if d.QRImageRef == nil {
			d.QRImageRef = &ref
		}
	})
}

func (f *fakeDocuments) RecordFailure(_ context.Context, id uuid.UUID, reason string) error {
	return f.update(id, func(d *models.Document) { d.LastError = &reason })
}

func (f *fakeDocuments) Publish(ctx context.Context, tenantID, id uuid.UUID, published bool) (*models.Document, error) {
	if _, err := f.Get(ctx, tenantID, id); err != nil {
		return nil, err
	}
	err := f.update(id, func(d *models.Document) {
		d.IsPublished = published
		if !published {
			d.PublishedAt = nil
		} else if d.PublishedAt == nil {
			now := time.Now().UTC()
			d.PublishedAt = &now
		}
	})
	if err != nil {
		return nil, err
	}
	return f.Get(ctx, tenantID, id)
}

func (f *fakeDocuments) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.docs)
}

// stubRenderer counts calls and delegates to fn.
type stubRenderer struct {
	calls atomic.Int32
	mu    sync.Mutex
	reqs  []render.Request
	fn    func(ctx context.Context, req render.Request) (*render.Output, error)
}

func (r *stubRenderer) Render(ctx context.Context, req render.Request) (*render.Output, error) {
	r.calls.Add(1)
	r.mu.Lock()
	r.reqs = append(r.reqs, req)
	r.mu.Unlock()
	if r.fn != nil {
		return r.fn(ctx, req)
	}
	return pdfOutput(), nil
}

func (r *stubRenderer) last() render.Request {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.reqs[len(r.reqs)-1]
}

func pdfOutput() *render.Output {
	return &render.Output{Data: []byte("%PDF-1.4 stub"), ContentType: render.ContentTypePDF}
}

type recordingInvalidator struct {
	mu     sync.Mutex
	tokens []string
	err    error
}

func (r *recordingInvalidator) Invalidate(_ context.Context, token string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tokens = append(r.tokens, token)
	return r.err
}

type sentEvent struct {
	tenantID uuid.UUID
	event    string
	payload  interface{}
}

type recordingNotifier struct {
	mu     sync.Mutex
	events []sentEvent
}

func (r *recordingNotifier) Dispatch(_ context.Context, tenantID uuid.UUID, event string, payload interface{}) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, sentEvent{tenantID, event, payload})
	return nil
}

func (r *recordingNotifier) names() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []string
	for _, e := range r.events {
		out = append(out, e.event)
	}
	return out
}

// fixture is one tenant with one template and a roster of students.
type fixture struct {
	tenant      *models.Tenant
	template    *models.Template
	catalog     *fakeCatalog
	docs        *fakeDocuments
	store       *storage.Memory
	objects     *storage.Objects
	renderer    *stubRenderer
	invalidator *recordingInvalidator
	notifier    *recordingNotifier
	rdb         *redis.Client
}

func newFixture(t *testing.T, students int, qrEnabled bool) *fixture {
	t.Helper()
	settings, _ := json.Marshal(models.TenantSettings{QREnabled: qrEnabled})
	tn := &models.Tenant{ID: uuid.New(), Name: "State University", Slug: "state-u", Settings: settings}
	tpl := &models.Template{
		ID:           uuid.New(),
		TenantID:     tn.ID,
		Name:         "Provisional Certificate",
		TitlePattern: "Provisional Certificate - {{name}}",
		Type:         models.TemplateRichText,
		Content:      "<p>{{name}}</p>",
		QREnabled:    true,
	}
	cat := &fakeCatalog{
		templates: map[uuid.UUID]*models.Template{tpl.ID: tpl},
		students:  make(map[uuid.UUID]*models.Student),
	}
	for i := 0; i < students; i++ {
		s := &models.Student{
			ID:       uuid.New(),
			TenantID: tn.ID,
			Name:     "Student " + string(rune('A'+i)),
			RollNo:   "R-" + string(rune('A'+i)),
		}
		cat.students[s.ID] = s
		cat.order = append(cat.order, s.ID)
	}

	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { rdb.Close() })

	tenants := fakeTenants{tn.ID: tn}
	mem := storage.NewMemory()
	return &fixture{
		tenant:      tn,
		template:    tpl,
		catalog:     cat,
		docs:        newFakeDocuments(tenants),
		store:       mem,
		objects:     storage.NewObjects(mem, "documents"),
		renderer:    &stubRenderer{},
		invalidator: &recordingInvalidator{},
		notifier:    &recordingNotifier{},
		rdb:         rdb,
	}
}

func (f *fixture) deps(renderer render.Renderer) Deps {
	return Deps{
		Templates:   f.catalog,
		Students:    f.catalog,
		Tenants:     f.docs.tenants,
		Documents:   f.docs,
		Renderer:    renderer,
		Objects:     f.objects,
		Codes:       qr.NewIssuer("https://verify.example.edu"),
		Locker:      lock.NewRedisLocker(f.rdb, 2*time.Second),
		Invalidator: f.invalidator,
		Notifier:    f.notifier,
	}
}

func (f *fixture) service(workers int) *Service {
	return NewService(f.deps(f.renderer), Options{Workers: workers, LockTTL: time.Minute})
}

func (f *fixture) student(i int) uuid.UUID {
	return f.catalog.order[i]
}
