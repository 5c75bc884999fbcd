// Package batch manages multi-document assessment jobs: ID allocation,
// per-file background workers, progressive state persistence, the on-disk
// recovery snapshot, and the stored-PDF retention sweep.
package batch

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/sievehq/sieve/internal/idgen"
	"github.com/sievehq/sieve/internal/jobstore"
	"github.com/sievehq/sieve/internal/logutil"
	"github.com/sievehq/sieve/internal/qa"
	"github.com/sievehq/sieve/internal/ratelimit"
)

// DefaultPDFRetention is how long stored PDFs survive before the sweep
// deletes them.
const DefaultPDFRetention = time.Hour

// persistRetryDelay backs off one beat before the single persistence retry
const persistRetryDelay = 250 * time.Millisecond

// TextExtractor turns uploaded file bytes into plain text. PDF parsing is
// an external concern; the engine only sees this seam.
type TextExtractor func(ctx context.Context, data []byte) (string, error)

// UploadFile is one file of a batch upload
type UploadFile struct {
	Filename     string
	Data         []byte
	DocumentType qa.DocumentType
}

// DefaultMaxConcurrentAssessments bounds how many documents are processed
// at once; each document already fans out one call per criterion.
const DefaultMaxConcurrentAssessments = 4

// Config shapes a Coordinator
type Config struct {
	// PDFDir is where uploaded files are stored content-addressed
	PDFDir string
	// SnapshotPath is the on-disk recovery checkpoint
	SnapshotPath string
	// AssessmentTTL / BatchTTL bound store record lifetimes
	AssessmentTTL time.Duration
	BatchTTL      time.Duration
	// PDFRetention bounds stored file lifetime
	PDFRetention time.Duration
	// MaxConcurrentAssessments caps in-flight document workers; <= 0 uses
	// the default
	MaxConcurrentAssessments int
}

// Coordinator creates batches and drives their assessments through the QA
// pipeline in background workers.
type Coordinator struct {
	store     jobstore.Store
	ids       *idgen.Allocator
	assessor  *qa.Assessor
	extract   TextExtractor
	logger    logutil.LoggerInterface
	snapshots *Snapshot
	cfg       Config

	// sem bounds concurrent document workers across batches
	sem *ratelimit.Semaphore
	// workers tracks in-flight background assessments so Wait can drain
	// them at shutdown
	workers sync.WaitGroup
}

// New creates a coordinator
func New(store jobstore.Store, ids *idgen.Allocator, assessor *qa.Assessor,
	extract TextExtractor, logger logutil.LoggerInterface, cfg Config) (*Coordinator, error) {
	if cfg.AssessmentTTL <= 0 {
		cfg.AssessmentTTL = jobstore.DefaultAssessmentTTL
	}
	if cfg.BatchTTL <= 0 {
		cfg.BatchTTL = jobstore.DefaultBatchTTL
	}
	if cfg.PDFRetention <= 0 {
		cfg.PDFRetention = DefaultPDFRetention
	}
	if cfg.MaxConcurrentAssessments <= 0 {
		cfg.MaxConcurrentAssessments = DefaultMaxConcurrentAssessments
	}
	if cfg.PDFDir != "" {
		if err := os.MkdirAll(cfg.PDFDir, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create pdf directory: %w", err)
		}
	}
	return &Coordinator{
		store:     store,
		ids:       ids,
		assessor:  assessor,
		extract:   extract,
		logger:    logger,
		snapshots: NewSnapshot(cfg.SnapshotPath, logger),
		cfg:       cfg,
		sem:       ratelimit.NewSemaphore(cfg.MaxConcurrentAssessments),
	}, nil
}

// CreateBatch validates and stores the uploaded files, creates the batch
// and assessment records, and spawns one background worker per accepted
// file. The batch record is persisted before this returns; assessment
// processing continues after.
func (c *Coordinator) CreateBatch(ctx context.Context, files []UploadFile) (qa.BatchJob, error) {
	batch := qa.BatchJob{
		BatchID:    uuid.New().String(),
		Status:     qa.BatchUploading,
		TotalFiles: len(files),
		CreatedAt:  time.Now().UTC(),
	}

	type accepted struct {
		job  qa.AssessmentJob
		data []byte
	}
	var work []accepted
	for _, file := range files {
		if !validExtension(file.Filename) {
			c.logger.Warn("rejecting %s: unsupported extension", file.Filename)
			batch.FailedFilenames = append(batch.FailedFilenames, file.Filename)
			continue
		}
		assessmentID := c.ids.Next()
		savedName, err := c.savePDF(file.Data)
		if err != nil {
			c.logger.Error("failed to store %s: %v", file.Filename, err)
			batch.FailedFilenames = append(batch.FailedFilenames, file.Filename)
			continue
		}
		job := qa.AssessmentJob{
			AssessmentID:     assessmentID,
			Filename:         file.Filename,
			DocumentType:     file.DocumentType,
			Status:           qa.StatusUploading,
			SavedPDFFilename: savedName,
			CreatedAt:        time.Now().UTC(),
		}
		if err := c.persistAssessment(ctx, job); err != nil {
			batch.FailedFilenames = append(batch.FailedFilenames, file.Filename)
			continue
		}
		batch.AssessmentIDs = append(batch.AssessmentIDs, assessmentID)
		batch.SuccessfulFilenames = append(batch.SuccessfulFilenames, file.Filename)
		work = append(work, accepted{job: job, data: file.Data})
	}

	batch.Status = qa.BatchProcessing
	if len(batch.AssessmentIDs) == 0 {
		batch.Status = qa.BatchCompleted
	}
	if err := c.persistBatch(ctx, batch); err != nil {
		return qa.BatchJob{}, err
	}

	for _, item := range work {
		c.workers.Add(1)
		// The worker carries everything it needs by value; nothing
		// request-scoped crosses the boundary. The semaphore caps how
		// many documents are in flight at once.
		go func(task workerTask) {
			defer c.workers.Done()
			workerCtx := context.WithoutCancel(ctx)
			if err := c.sem.Acquire(workerCtx); err != nil {
				c.logger.ErrorContext(workerCtx, "worker slot for %s unavailable: %v", task.job.AssessmentID, err)
				return
			}
			defer c.sem.Release()
			c.runAssessment(workerCtx, task)
		}(workerTask{batchID: batch.BatchID, job: item.job, data: item.data})
	}
	return batch, nil
}

// Wait blocks until all in-flight background workers finish. In-flight
// calls run to their own timeouts; there is no forced cancellation.
func (c *Coordinator) Wait() { c.workers.Wait() }

// workerTask is the typed unit handed to a background worker
type workerTask struct {
	batchID string
	job     qa.AssessmentJob
	data    []byte
}

// runAssessment drives one assessment through the QA pipeline states,
// persisting after every transition so observers can poll.
func (c *Coordinator) runAssessment(ctx context.Context, task workerTask) {
	ctx = logutil.WithCorrelationID(ctx, task.job.AssessmentID)
	job := task.job

	fail := func(message string) {
		job.Status = qa.StatusError
		job.Message = message
		c.persistTerminal(ctx, job)
		c.refreshBatch(ctx, task.batchID)
	}

	job.Status = qa.StatusPendingText
	job.Progress = qa.Progress{Message: "Extracting text"}
	if err := c.persistAssessment(ctx, job); err != nil {
		fail("failed to persist job state: " + err.Error())
		return
	}

	text, err := c.extract(ctx, task.data)
	if err != nil {
		fail("text extraction failed: " + err.Error())
		return
	}
	if strings.TrimSpace(text) == "" {
		fail("text extraction produced no content")
		return
	}
	job.RawText = text

	if job.DocumentType == qa.DocAuto || job.DocumentType == "" {
		inferred, _, ok := qa.ClassifyDocument(text)
		if !ok {
			fail("could not classify document type; specify one explicitly")
			return
		}
		job.DocumentType = inferred
	}

	job.Status = qa.StatusProcessing
	if err := c.persistAssessment(ctx, job); err != nil {
		fail("failed to persist job state: " + err.Error())
		return
	}

	results, message := c.assessor.Assess(ctx, job.DocumentType, text, func(progress qa.Progress) {
		c.persistProgress(ctx, job.AssessmentID, progress)
	})

	job.Details = results
	job.SummaryTotalCriteriaEvaluated = len(results)
	job.SummaryNegativeFindings = qa.CountNegatives(results)
	job.Status = qa.StatusCompleted
	job.Message = message
	job.Progress = qa.Progress{Current: len(results), Total: len(results), Message: "Assessment complete"}

	c.persistTerminal(ctx, job)
	c.refreshBatch(ctx, task.batchID)
}

// persistProgress applies a monotonic progress update to the stored record.
// Lower values than already stored are ignored: updates may arrive at the
// store out of completion order.
func (c *Coordinator) persistProgress(ctx context.Context, assessmentID string, progress qa.Progress) {
	key := jobstore.AssessmentKey(assessmentID)
	err := c.store.Update(ctx, key, c.cfg.AssessmentTTL, func(current json.RawMessage) (interface{}, error) {
		var job qa.AssessmentJob
		if current != nil {
			if err := unmarshalJob(current, &job); err != nil {
				return nil, err
			}
		}
		if progress.Current >= job.Progress.Current {
			job.Progress = progress
		}
		return job, nil
	})
	if err != nil {
		c.logger.WarnContext(ctx, "progress update for %s failed: %v", assessmentID, err)
	}
}

// persistAssessment writes the full record, retrying once on failure
func (c *Coordinator) persistAssessment(ctx context.Context, job qa.AssessmentJob) error {
	key := jobstore.AssessmentKey(job.AssessmentID)
	err := c.store.Put(ctx, key, job, c.cfg.AssessmentTTL)
	if err == nil {
		return nil
	}
	c.logger.WarnContext(ctx, "persisting %s failed, retrying: %v", key, err)
	time.Sleep(persistRetryDelay)
	if err = c.store.Put(ctx, key, job, c.cfg.AssessmentTTL); err != nil {
		c.logger.ErrorContext(ctx, "persisting %s failed after retry: %v", key, err)
		return err
	}
	return nil
}

// persistTerminal writes the final record and checkpoints the snapshot.
// The snapshot is what lets batch listings recover after a crash without
// the live store.
func (c *Coordinator) persistTerminal(ctx context.Context, job qa.AssessmentJob) {
	if err := c.persistAssessment(ctx, job); err != nil {
		c.logger.ErrorContext(ctx, "terminal state for %s not persisted to store", job.AssessmentID)
	}
	c.snapshots.RecordAssessment(job, c.ids.Current())
}

func (c *Coordinator) persistBatch(ctx context.Context, batch qa.BatchJob) error {
	key := jobstore.BatchKey(batch.BatchID)
	err := c.store.Put(ctx, key, batch, c.cfg.BatchTTL)
	if err == nil {
		return nil
	}
	c.logger.WarnContext(ctx, "persisting %s failed, retrying: %v", key, err)
	time.Sleep(persistRetryDelay)
	return c.store.Put(ctx, key, batch, c.cfg.BatchTTL)
}

// refreshBatch recomputes a batch's status from its assessments; the batch
// completes when every owned assessment is terminal.
func (c *Coordinator) refreshBatch(ctx context.Context, batchID string) {
	key := jobstore.BatchKey(batchID)

	// The assessments are read before Update: a store may hold its lock for
	// the whole patch callback, so the callback must not call the store.
	var owned qa.BatchJob
	found, err := c.store.Get(ctx, key, &owned)
	if err == nil && !found {
		err = fmt.Errorf("batch %s missing from store", batchID)
	}
	if err != nil {
		c.logger.WarnContext(ctx, "refreshing batch %s failed: %v", batchID, err)
		return
	}
	keys := make([]string, 0, len(owned.AssessmentIDs))
	for _, id := range owned.AssessmentIDs {
		keys = append(keys, jobstore.AssessmentKey(id))
	}
	values, err := c.store.GetMulti(ctx, keys)
	if err != nil {
		c.logger.WarnContext(ctx, "refreshing batch %s failed: %v", batchID, err)
		return
	}
	allTerminal := true
	for _, k := range keys {
		raw, ok := values[k]
		if !ok {
			allTerminal = false
			break
		}
		var job qa.AssessmentJob
		if err := unmarshalJob(raw, &job); err != nil || !job.Status.Terminal() {
			allTerminal = false
			break
		}
	}

	err = c.store.Update(ctx, key, c.cfg.BatchTTL, func(current json.RawMessage) (interface{}, error) {
		var batch qa.BatchJob
		if current == nil {
			return nil, fmt.Errorf("batch %s missing from store", batchID)
		}
		if err := unmarshalJob(current, &batch); err != nil {
			return nil, err
		}
		if allTerminal {
			batch.Status = qa.BatchCompleted
		}
		return batch, nil
	})
	if err != nil {
		c.logger.WarnContext(ctx, "refreshing batch %s failed: %v", batchID, err)
	}
}

// GetAssessment loads one assessment record
func (c *Coordinator) GetAssessment(ctx context.Context, id string) (qa.AssessmentJob, bool, error) {
	var job qa.AssessmentJob
	found, err := c.store.Get(ctx, jobstore.AssessmentKey(id), &job)
	return job, found, err
}

// GetBatch loads one batch record from the live store; found is false when
// the store no longer holds it. Batch records are not reconstructed from the
// snapshot, which holds assessments only.
func (c *Coordinator) GetBatch(ctx context.Context, id string) (qa.BatchJob, bool, error) {
	var batch qa.BatchJob
	found, err := c.store.Get(ctx, jobstore.BatchKey(id), &batch)
	return batch, found, err
}

// Recover reconciles the live store against the disk snapshot after a
// restart: terminal assessments present in the snapshot but missing from
// the store (expired or lost) are restored so batch listings keep working.
func (c *Coordinator) Recover(ctx context.Context) (int, error) {
	state, err := c.snapshots.Load()
	if err != nil {
		return 0, err
	}
	restored := 0
	for id, job := range state.Assessments {
		key := jobstore.AssessmentKey(id)
		var existing qa.AssessmentJob
		found, err := c.store.Get(ctx, key, &existing)
		if err != nil {
			return restored, err
		}
		if found {
			continue
		}
		if err := c.store.Put(ctx, key, job, c.cfg.AssessmentTTL); err != nil {
			return restored, err
		}
		restored++
	}
	if restored > 0 {
		c.logger.InfoContext(ctx, "recovered %d assessments from snapshot", restored)
	}
	return restored, nil
}

// savePDF writes uploaded bytes to a content-addressed path. Identical
// uploads share one file.
func (c *Coordinator) savePDF(data []byte) (string, error) {
	if c.cfg.PDFDir == "" {
		return "", nil
	}
	sum := sha256.Sum256(data)
	name := hex.EncodeToString(sum[:]) + ".pdf"
	path := filepath.Join(c.cfg.PDFDir, name)
	if _, err := os.Stat(path); err == nil {
		return name, nil
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return "", err
	}
	return name, nil
}

// SweepPDFs deletes stored files older than the configured retention.
// Assessment records are never touched by the sweep.
func (c *Coordinator) SweepPDFs(ctx context.Context) (int, error) {
	if c.cfg.PDFDir == "" {
		return 0, nil
	}
	entries, err := os.ReadDir(c.cfg.PDFDir)
	if err != nil {
		return 0, err
	}
	cutoff := time.Now().Add(-c.cfg.PDFRetention)
	removed := 0
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			continue
		}
		if info.ModTime().Before(cutoff) {
			if err := os.Remove(filepath.Join(c.cfg.PDFDir, entry.Name())); err == nil {
				removed++
			}
		}
	}
	if removed > 0 {
		c.logger.InfoContext(ctx, "pdf sweep removed %d files", removed)
	}
	return removed, nil
}

// RunSweeper loops SweepPDFs on an interval until the context is canceled
func (c *Coordinator) RunSweeper(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := c.SweepPDFs(ctx); err != nil {
				c.logger.WarnContext(ctx, "pdf sweep failed: %v", err)
			}
		}
	}
}

func validExtension(filename string) bool {
	return strings.EqualFold(filepath.Ext(filename), ".pdf")
}
