package batch

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sievehq/sieve/internal/dispatch"
	"github.com/sievehq/sieve/internal/idgen"
	"github.com/sievehq/sieve/internal/jobstore"
	"github.com/sievehq/sieve/internal/llm"
	"github.com/sievehq/sieve/internal/logutil"
	"github.com/sievehq/sieve/internal/qa"
)

// stubCaller answers every criterion prompt with the same judgment
type stubCaller struct {
	judgment string
}

func (s *stubCaller) Call(_ context.Context, req llm.Request, _ dispatch.CallOptions) (*dispatch.Result, error) {
	text := fmt.Sprintf(`{"judgment": %q, "reason": "stated in methods", "evidence_quotes": ["quote"]}`, s.judgment)
	return &dispatch.Result{Provider: req.Provider, Model: req.Model, Text: text, LatencyMS: 2}, nil
}

func okExtractor(_ context.Context, data []byte) (string, error) {
	return "extracted: " + string(data), nil
}

type testEnv struct {
	store       *jobstore.MemoryStore
	coordinator *Coordinator
	snapshot    string
	pdfDir      string
}

func newTestEnv(t *testing.T, extract TextExtractor) *testEnv {
	t.Helper()
	dir := t.TempDir()
	logger := logutil.NewBufferLogger()

	store := jobstore.NewMemoryStore()
	ids, err := idgen.New(filepath.Join(dir, "ids"), logger)
	require.NoError(t, err)
	assessor, err := qa.NewAssessor(&stubCaller{judgment: "star awarded"}, logger, "gpt-4.1", 0)
	require.NoError(t, err)

	env := &testEnv{
		store:    store,
		snapshot: filepath.Join(dir, "snapshot.json"),
		pdfDir:   filepath.Join(dir, "pdfs"),
	}
	env.coordinator, err = New(store, ids, assessor, extract, logger, Config{
		PDFDir:       env.pdfDir,
		SnapshotPath: env.snapshot,
		PDFRetention: time.Hour,
	})
	require.NoError(t, err)
	return env
}

func uploads(n int) []UploadFile {
	var files []UploadFile
	for i := 0; i < n; i++ {
		files = append(files, UploadFile{
			Filename:     fmt.Sprintf("study-%d.pdf", i+1),
			Data:         []byte(fmt.Sprintf("pdf-bytes-%d", i+1)),
			DocumentType: qa.DocCohort,
		})
	}
	return files
}

func TestBatchCompletesAllAssessments(t *testing.T) {
	env := newTestEnv(t, okExtractor)
	ctx := context.Background()

	batch, err := env.coordinator.CreateBatch(ctx, uploads(3))
	require.NoError(t, err)
	assert.Equal(t, 3, batch.TotalFiles)
	assert.Len(t, batch.AssessmentIDs, 3)
	assert.Equal(t, qa.BatchProcessing, batch.Status)

	env.coordinator.Wait()

	for _, id := range batch.AssessmentIDs {
		job, found, err := env.coordinator.GetAssessment(ctx, id)
		require.NoError(t, err)
		require.True(t, found)
		assert.Equal(t, qa.StatusCompleted, job.Status)
		// NOS for cohorts carries 8 items.
		assert.Equal(t, 8, job.SummaryTotalCriteriaEvaluated)
		assert.Equal(t, 0, job.SummaryNegativeFindings)
		assert.Equal(t, 8, job.Progress.Current)
		assert.Equal(t, 8, job.Progress.Total)
		assert.Len(t, job.Details, 8)
	}

	final, found, err := env.coordinator.GetBatch(ctx, batch.BatchID)
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, qa.BatchCompleted, final.Status)
	assert.Len(t, final.SuccessfulFilenames, 3)
}

func TestBatchRejectsNonPDF(t *testing.T) {
	env := newTestEnv(t, okExtractor)

	batch, err := env.coordinator.CreateBatch(context.Background(), []UploadFile{
		{Filename: "notes.txt", Data: []byte("plain text")},
		{Filename: "study.pdf", Data: []byte("pdf"), DocumentType: qa.DocCohort},
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"notes.txt"}, batch.FailedFilenames)
	assert.Len(t, batch.AssessmentIDs, 1)
	env.coordinator.Wait()
}

func TestBatchAllRejectedCompletesImmediately(t *testing.T) {
	env := newTestEnv(t, okExtractor)
	batch, err := env.coordinator.CreateBatch(context.Background(), []UploadFile{
		{Filename: "a.txt"}, {Filename: "b.docx"},
	})
	require.NoError(t, err)
	assert.Equal(t, qa.BatchCompleted, batch.Status)
	assert.Empty(t, batch.AssessmentIDs)
}

func TestExtractionFailureTransitionsToError(t *testing.T) {
	failing := func(_ context.Context, _ []byte) (string, error) {
		return "", errors.New("encrypted pdf")
	}
	env := newTestEnv(t, failing)
	ctx := context.Background()

	batch, err := env.coordinator.CreateBatch(ctx, uploads(1))
	require.NoError(t, err)
	env.coordinator.Wait()

	job, found, err := env.coordinator.GetAssessment(ctx, batch.AssessmentIDs[0])
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, qa.StatusError, job.Status)
	assert.Contains(t, job.Message, "encrypted pdf")

	// The batch still reaches a terminal state: error is terminal too.
	final, _, err := env.coordinator.GetBatch(ctx, batch.BatchID)
	require.NoError(t, err)
	assert.Equal(t, qa.BatchCompleted, final.Status)
}

func TestOneFailureDoesNotStopTheBatch(t *testing.T) {
	mixed := func(_ context.Context, data []byte) (string, error) {
		if string(data) == "pdf-bytes-1" {
			return "", errors.New("unreadable")
		}
		return "extracted", nil
	}
	env := newTestEnv(t, mixed)
	ctx := context.Background()

	batch, err := env.coordinator.CreateBatch(ctx, uploads(2))
	require.NoError(t, err)
	env.coordinator.Wait()

	statuses := map[qa.Status]int{}
	for _, id := range batch.AssessmentIDs {
		job, _, err := env.coordinator.GetAssessment(ctx, id)
		require.NoError(t, err)
		statuses[job.Status]++
	}
	assert.Equal(t, 1, statuses[qa.StatusError])
	assert.Equal(t, 1, statuses[qa.StatusCompleted])
}

func TestSnapshotWrittenAndRecoverable(t *testing.T) {
	env := newTestEnv(t, okExtractor)
	ctx := context.Background()

	batch, err := env.coordinator.CreateBatch(ctx, uploads(2))
	require.NoError(t, err)
	env.coordinator.Wait()

	_, err = os.Stat(env.snapshot)
	require.NoError(t, err, "terminal transitions checkpoint the snapshot")

	// Simulate losing the live store: wipe it, then recover.
	for _, id := range batch.AssessmentIDs {
		require.NoError(t, env.store.Delete(ctx, jobstore.AssessmentKey(id)))
	}
	restored, err := env.coordinator.Recover(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, restored)

	job, found, err := env.coordinator.GetAssessment(ctx, batch.AssessmentIDs[0])
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, qa.StatusCompleted, job.Status)
	assert.Empty(t, job.RawText, "the snapshot drops extracted text")
}

func TestContentAddressedPDFStorage(t *testing.T) {
	env := newTestEnv(t, okExtractor)
	ctx := context.Background()

	// Two identical payloads share one stored file.
	files := []UploadFile{
		{Filename: "a.pdf", Data: []byte("same-bytes"), DocumentType: qa.DocCohort},
		{Filename: "b.pdf", Data: []byte("same-bytes"), DocumentType: qa.DocCohort},
	}
	_, err := env.coordinator.CreateBatch(ctx, files)
	require.NoError(t, err)
	env.coordinator.Wait()

	entries, err := os.ReadDir(env.pdfDir)
	require.NoError(t, err)
	assert.Len(t, entries, 1)
}

func TestSweepRemovesOnlyOldFiles(t *testing.T) {
	env := newTestEnv(t, okExtractor)
	ctx := context.Background()

	_, err := env.coordinator.CreateBatch(ctx, uploads(1))
	require.NoError(t, err)
	env.coordinator.Wait()

	entries, err := os.ReadDir(env.pdfDir)
	require.NoError(t, err)
	require.Len(t, entries, 1)

	// Fresh file survives the sweep.
	removed, err := env.coordinator.SweepPDFs(ctx)
	require.NoError(t, err)
	assert.Zero(t, removed)

	// Backdated file is collected.
	old := filepath.Join(env.pdfDir, entries[0].Name())
	past := time.Now().Add(-2 * time.Hour)
	require.NoError(t, os.Chtimes(old, past, past))

	removed, err = env.coordinator.SweepPDFs(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, removed)
}

func TestProgressUpdatesAreMonotonic(t *testing.T) {
	env := newTestEnv(t, okExtractor)
	ctx := context.Background()

	// A stale lower progress value must not overwrite a newer one.
	id := "stale-test"
	job := qa.AssessmentJob{AssessmentID: id, Status: qa.StatusProcessing,
		Progress: qa.Progress{Current: 5, Total: 8}}
	require.NoError(t, env.store.Put(ctx, jobstore.AssessmentKey(id), job, time.Minute))

	env.coordinator.persistProgress(ctx, id, qa.Progress{Current: 3, Total: 8})
	var got qa.AssessmentJob
	_, err := env.store.Get(ctx, jobstore.AssessmentKey(id), &got)
	require.NoError(t, err)
	assert.Equal(t, 5, got.Progress.Current, "lower progress ignored")

	env.coordinator.persistProgress(ctx, id, qa.Progress{Current: 7, Total: 8})
	_, err = env.store.Get(ctx, jobstore.AssessmentKey(id), &got)
	require.NoError(t, err)
	assert.Equal(t, 7, got.Progress.Current)
}

func TestWorkerConcurrencyBounded(t *testing.T) {
	dir := t.TempDir()
	logger := logutil.NewBufferLogger()
	store := jobstore.NewMemoryStore()
	ids, err := idgen.New(filepath.Join(dir, "ids"), logger)
	require.NoError(t, err)
	assessor, err := qa.NewAssessor(&stubCaller{judgment: "star awarded"}, logger, "gpt-4.1", 0)
	require.NoError(t, err)

	// The extractor records how many workers are inside it at once.
	var mu sync.Mutex
	inFlight, peak := 0, 0
	gated := func(_ context.Context, _ []byte) (string, error) {
		mu.Lock()
		inFlight++
		if inFlight > peak {
			peak = inFlight
		}
		mu.Unlock()
		time.Sleep(20 * time.Millisecond)
		mu.Lock()
		inFlight--
		mu.Unlock()
		return "extracted", nil
	}

	coordinator, err := New(store, ids, assessor, gated, logger, Config{
		PDFDir:                   filepath.Join(dir, "pdfs"),
		MaxConcurrentAssessments: 2,
	})
	require.NoError(t, err)

	_, err = coordinator.CreateBatch(context.Background(), uploads(6))
	require.NoError(t, err)
	coordinator.Wait()

	assert.LessOrEqual(t, peak, 2, "at most two document workers run at once")
	assert.Greater(t, peak, 0)
}

func TestAutoTypeClassification(t *testing.T) {
	rctText := func(_ context.Context, _ []byte) (string, error) {
		return `This randomized controlled trial enrolled adults; participants were
		randomly assigned to placebo in a double-blind design with intention-to-treat analysis.`, nil
	}
	env := newTestEnv(t, rctText)
	ctx := context.Background()

	batch, err := env.coordinator.CreateBatch(ctx, []UploadFile{
		{Filename: "trial.pdf", Data: []byte("bytes"), DocumentType: qa.DocAuto},
	})
	require.NoError(t, err)
	env.coordinator.Wait()

	job, _, err := env.coordinator.GetAssessment(ctx, batch.AssessmentIDs[0])
	require.NoError(t, err)
	assert.Equal(t, qa.DocRCT, job.DocumentType)
	assert.Equal(t, qa.StatusCompleted, job.Status)
	// RoB 2 drives the criterion count once the type is inferred.
	assert.Equal(t, 17, job.SummaryTotalCriteriaEvaluated)
}
