package generation

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nikhilbhutani/docissue/internal/models"
	"github.com/nikhilbhutani/docissue/internal/render"
)

func TestGenerateBulk_SkipsStudentsWithDocuments(t *testing.T) {
	f := newFixture(t, 5, true)
	svc := f.service(3)
	ctx := context.Background()

	for _, i := range []int{0, 3} {
		_, err := svc.GenerateDocument(ctx, f.tenant.ID, f.student(i), f.template.ID)
		require.NoError(t, err)
	}

	report, err := svc.GenerateBulk(ctx, f.tenant.ID, f.template.ID, nil)
	require.NoError(t, err)
	assert.Equal(t, 5, report.Total)
	assert.Equal(t, 3, report.Succeeded)
	assert.Equal(t, 2, report.Skipped)
	assert.Zero(t, report.Failed)
	assert.Zero(t, report.Pending)
	assert.False(t, report.Cancelled)
	assert.Empty(t, report.Failures)
	assert.Equal(t, int32(5), f.renderer.calls.Load())
	assert.Equal(t, 5, f.docs.count())

	again, err := svc.GenerateBulk(ctx, f.tenant.ID, f.template.ID, nil)
	require.NoError(t, err)
	assert.Equal(t, 5, again.Skipped)
	assert.Equal(t, int32(5), f.renderer.calls.Load())
}

func TestGenerateBulk_ExplicitStudentsAreDeduplicated(t *testing.T) {
	f := newFixture(t, 3, false)
	ids := []uuid.UUID{f.student(2), f.student(0), f.student(2)}

	report, err := f.service(2).GenerateBulk(context.Background(), f.tenant.ID, f.template.ID, ids)
	require.NoError(t, err)
	assert.Equal(t, 2, report.Total)
	assert.Equal(t, 2, report.Succeeded)
	assert.Equal(t, 2, f.docs.count())
}

func TestGenerateBulk_MissingStudentIsReported(t *testing.T) {
	f := newFixture(t, 1, false)
	ghost := uuid.New()

	report, err := f.service(2).GenerateBulk(context.Background(), f.tenant.ID, f.template.ID,
		[]uuid.UUID{f.student(0), ghost})
	require.NoError(t, err)
	assert.Equal(t, 1, report.Succeeded)
	assert.Equal(t, 1, report.Failed)
	require.Len(t, report.Failures, 1)
	assert.Equal(t, ghost, report.Failures[0].StudentID)
	assert.Equal(t, "student not found", report.Failures[0].Reason)
}

func TestGenerateBulk_TimeoutFailsOneAndContinues(t *testing.T) {
	f := newFixture(t, 4, true)
	slow := f.catalog.students[f.student(1)].Name
	f.renderer.fn = func(ctx context.Context, req render.Request) (*render.Output, error) {
		if req.Data[KeyName] == slow {
			<-ctx.Done()
			return nil, ctx.Err()
		}
		return &render.Output{
			Data:        []byte("%PDF-1.4"),
			ContentType: render.ContentTypePDF,
			Warnings:    []string{"font fallback"},
		}, nil
	}
	svc := NewService(f.deps(render.WithTimeout(f.renderer, 100*time.Millisecond)), Options{Workers: 2, LockTTL: time.Minute})

	report, err := svc.GenerateBulk(context.Background(), f.tenant.ID, f.template.ID, nil)
	require.NoError(t, err)
	assert.Equal(t, 4, report.Total)
	assert.Equal(t, 3, report.Succeeded)
	assert.Equal(t, 1, report.Failed)
	require.Len(t, report.Failures, 1)
	assert.Equal(t, f.student(1), report.Failures[0].StudentID)
	assert.Contains(t, report.Failures[0].Reason, render.ReasonTimeout)
	assert.Len(t, report.Warnings, 3)

	// The timed-out student keeps a record without output.
	existing, err := f.docs.ExistingStudentIDs(context.Background(), f.template.ID)
	require.NoError(t, err)
	assert.True(t, existing[f.student(1)])
}

func TestGenerateBulk_CancelStopsLaunching(t *testing.T) {
	f := newFixture(t, 4, false)
	started := make(chan struct{}, 4)
	release := make(chan struct{})
	f.renderer.fn = func(ctx context.Context, _ render.Request) (*render.Output, error) {
		started <- struct{}{}
		<-release
		// In-flight work is detached from the caller's cancellation.
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		return pdfOutput(), nil
	}
	svc := f.service(1)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan struct{})
	var (
		report *models.BatchReport
		runErr error
	)
	go func() {
		defer close(done)
		report, runErr = svc.GenerateBulk(ctx, f.tenant.ID, f.template.ID, nil)
	}()

	<-started
	cancel()
	close(release)
	<-done

	require.NoError(t, runErr)
	assert.Equal(t, 4, report.Total)
	assert.Equal(t, 1, report.Succeeded)
	assert.Zero(t, report.Failed)
	assert.Equal(t, 3, report.Pending)
	assert.True(t, report.Cancelled)
	assert.Equal(t, int32(1), f.renderer.calls.Load())
	assert.Equal(t, 1, f.docs.count())
}

func TestAggregate_EveryStudentCountedOnce(t *testing.T) {
	ids := []uuid.UUID{uuid.New(), uuid.New(), uuid.New(), uuid.New()}
	report := aggregate(ids, []outcome{
		{kind: outcomeSucceeded, warnings: []string{"w"}},
		{kind: outcomeSkipped},
		{kind: outcomeFailed, reason: "boom"},
		{},
	})
	assert.Equal(t, 4, report.Total)
	assert.Equal(t, report.Total, report.Succeeded+report.Skipped+report.Failed+report.Pending)
	assert.Equal(t, 1, report.Pending)
	assert.Equal(t, ids[2], report.Failures[0].StudentID)
	assert.Equal(t, ids[0], report.Warnings[0].StudentID)
}
