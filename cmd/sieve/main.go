// Command sieve runs the ensemble literature screening and quality
// assessment engine from the command line.
//
// Usage:
//
//	sieve screen --records records.json --criteria criteria.yaml [--out decisions.jsonl]
//	sieve assess --type RCT file1.pdf file2.pdf ...
//	sieve models
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/sievehq/sieve/internal/auditlog"
	"github.com/sievehq/sieve/internal/batch"
	"github.com/sievehq/sieve/internal/breaker"
	"github.com/sievehq/sieve/internal/cache"
	"github.com/sievehq/sieve/internal/config"
	"github.com/sievehq/sieve/internal/core"
	"github.com/sievehq/sieve/internal/dispatch"
	"github.com/sievehq/sieve/internal/ensemble"
	"github.com/sievehq/sieve/internal/idgen"
	"github.com/sievehq/sieve/internal/jobstore"
	"github.com/sievehq/sieve/internal/logutil"
	"github.com/sievehq/sieve/internal/models"
	"github.com/sievehq/sieve/internal/providers"
	"github.com/sievehq/sieve/internal/qa"
	"github.com/sievehq/sieve/internal/ratelimit"
	"github.com/sievehq/sieve/internal/screening"
)

func main() {
	if err := run(os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run(args []string) error {
	if len(args) == 0 {
		usage()
		return fmt.Errorf("a subcommand is required")
	}

	// API keys may live in a .env in the working directory; absence is fine.
	_ = godotenv.Load()

	switch args[0] {
	case "screen":
		return runScreen(args[1:])
	case "assess":
		return runAssess(args[1:])
	case "models":
		return runModels()
	case "help", "-h", "--help":
		usage()
		return nil
	default:
		usage()
		return fmt.Errorf("unknown subcommand %q", args[0])
	}
}

func usage() {
	fmt.Fprintln(os.Stderr, `sieve - ensemble literature screening and quality assessment

Subcommands:
  screen   screen records against review criteria
  assess   run quality assessment over PDF files
  models   list the configured model catalog`)
}

// engine bundles the shared reliability stack
type engine struct {
	cfg        *config.Config
	logger     logutil.LoggerInterface
	dispatcher *dispatch.Dispatcher
}

func buildEngine(configPath string) (*engine, error) {
	bootLogger := logutil.NewSlogLogger(os.Stderr, logutil.InfoLevel)
	cfg, err := config.Load(configPath, bootLogger)
	if err != nil {
		return nil, err
	}
	logger := logutil.NewSlogLogger(os.Stderr, logutil.ParseLogLevel(cfg.LogLevel))

	limiters := ratelimit.NewRegistry(cfg.RateLimit.PerModelRPMInitial, 0,
		cfg.RateLimit.RPMMin, cfg.RateLimit.RPMMax)
	limiters.SetAlpha(cfg.RateLimit.AdjustAlpha)

	breakers := breaker.NewRegistry(breaker.Config{
		FailureThreshold: cfg.CircuitBreaker.FailureThreshold,
		RecoveryTimeout:  cfg.RecoveryTimeout(),
		SuccessThreshold: cfg.CircuitBreaker.SuccessThreshold,
	})

	respCache := cache.New(cfg.Cache.MaxSize, cfg.CacheTTL())
	clientRegistry := providers.NewRegistry(logger, nil)

	dispatcher := dispatch.New(clientRegistry, limiters, breakers, respCache, dispatch.RetryConfig{
		MaxRetries: cfg.Retry.MaxRetries,
		BaseDelay:  time.Duration(cfg.Retry.BaseDelaySec * float64(time.Second)),
		MaxDelay:   time.Duration(cfg.Retry.MaxDelaySec * float64(time.Second)),
		JitterPct:  cfg.Retry.JitterPct,
	}, logger)

	return &engine{cfg: cfg, logger: logger, dispatcher: dispatcher}, nil
}

// criteriaFile is the YAML shape of a criteria definition
type criteriaFile struct {
	Framework           string                  `yaml:"framework"`
	Elements            map[string]core.TermSet `yaml:"elements"`
	CustomElements      []string                `yaml:"custom_elements"`
	LanguageRestriction []string                `yaml:"language_restriction"`
	DateFrom            int                     `yaml:"date_from"`
	DateTo              int                     `yaml:"date_to"`
	StudyDesignExclude  []string                `yaml:"study_design_exclude"`
	Version             string                  `yaml:"version"`
}

func loadCriteria(path string) (core.Criteria, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return core.Criteria{}, fmt.Errorf("failed to read criteria file: %w", err)
	}
	var file criteriaFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return core.Criteria{}, fmt.Errorf("failed to parse criteria file: %w", err)
	}
	criteria := core.Criteria{
		CriteriaID:          filepath.Base(path),
		Framework:           core.Framework(file.Framework),
		Elements:            file.Elements,
		CustomElements:      file.CustomElements,
		LanguageRestriction: file.LanguageRestriction,
		DateFrom:            file.DateFrom,
		DateTo:              file.DateTo,
		StudyDesignExclude:  file.StudyDesignExclude,
		CriteriaVersion:     file.Version,
	}
	if !criteria.Framework.Valid() {
		return core.Criteria{}, fmt.Errorf("unknown criteria framework %q", file.Framework)
	}
	return criteria, nil
}

func runScreen(args []string) error {
	fs := flag.NewFlagSet("screen", flag.ContinueOnError)
	configPath := fs.String("config", "", "path to config file")
	recordsPath := fs.String("records", "", "path to records JSON file")
	criteriaPath := fs.String("criteria", "", "path to criteria YAML file")
	outPath := fs.String("out", "", "path for decisions JSONL (default stdout)")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *recordsPath == "" || *criteriaPath == "" {
		return fmt.Errorf("screen requires --records and --criteria")
	}

	eng, err := buildEngine(*configPath)
	if err != nil {
		return err
	}

	criteria, err := loadCriteria(*criteriaPath)
	if err != nil {
		return err
	}
	data, err := os.ReadFile(*recordsPath)
	if err != nil {
		return fmt.Errorf("failed to read records file: %w", err)
	}
	var records []core.Record
	if err := json.Unmarshal(data, &records); err != nil {
		return fmt.Errorf("failed to parse records file: %w", err)
	}

	var audit auditlog.Logger = auditlog.NewNoopLogger()
	if eng.cfg.AuditLogPath != "" {
		fileAudit, err := auditlog.NewFileLogger(eng.cfg.AuditLogPath, eng.logger)
		if err != nil {
			return err
		}
		defer func() { _ = fileAudit.Close() }()
		audit = fileAudit
	}

	pipeline, err := screening.New(eng.dispatcher, audit, eng.logger, screening.Config{
		ModelIDs: eng.cfg.ScreeningModels,
		Thresholds: ensemble.Thresholds{
			High: eng.cfg.Ensemble.TauHigh,
			Mid:  eng.cfg.Ensemble.TauMid,
			Low:  eng.cfg.Ensemble.TauLow,
		},
		RecordDeadline: eng.cfg.RecordDeadline(),
	})
	if err != nil {
		return err
	}

	out := os.Stdout
	if *outPath != "" {
		f, err := os.Create(*outPath)
		if err != nil {
			return err
		}
		defer func() { _ = f.Close() }()
		out = f
	}
	encoder := json.NewEncoder(out)

	ctx := context.Background()
	for _, record := range records {
		decision, err := pipeline.Screen(ctx, record, criteria)
		if err != nil {
			return fmt.Errorf("screening record %s: %w", record.RecordID, err)
		}
		if err := encoder.Encode(decision); err != nil {
			return err
		}
	}
	return nil
}

func runAssess(args []string) error {
	fs := flag.NewFlagSet("assess", flag.ContinueOnError)
	configPath := fs.String("config", "", "path to config file")
	docType := fs.String("type", string(qa.DocAuto), "document type (or auto)")
	useMemory := fs.Bool("memory-store", false, "use the in-memory job store instead of redis")
	if err := fs.Parse(args); err != nil {
		return err
	}
	files := fs.Args()
	if len(files) == 0 {
		return fmt.Errorf("assess requires at least one PDF file")
	}

	eng, err := buildEngine(*configPath)
	if err != nil {
		return err
	}
	ctx := context.Background()

	var store jobstore.Store
	if *useMemory {
		store = jobstore.NewMemoryStore()
	} else {
		store, err = jobstore.NewRedisStore(ctx, eng.cfg.Storage.RedisAddr,
			eng.cfg.Storage.RedisPassword, eng.cfg.Storage.RedisDB, eng.logger)
		if err != nil {
			return err
		}
	}
	defer func() { _ = store.Close() }()

	ids, err := idgen.New(eng.cfg.Storage.DataDir, eng.logger)
	if err != nil {
		return err
	}
	assessor, err := qa.NewAssessor(eng.dispatcher, eng.logger, eng.cfg.AssessmentModel, 0)
	if err != nil {
		return err
	}
	coordinator, err := batch.New(store, ids, assessor, extractPDFText, eng.logger, batch.Config{
		PDFDir:        filepath.Join(eng.cfg.Storage.DataDir, "pdfs"),
		SnapshotPath:  filepath.Join(eng.cfg.Storage.DataDir, "assessments_snapshot.json"),
		AssessmentTTL: eng.cfg.AssessmentTTL(),
		BatchTTL:      eng.cfg.BatchTTL(),
		PDFRetention:  eng.cfg.PDFRetention(),
	})
	if err != nil {
		return err
	}
	if _, err := coordinator.Recover(ctx); err != nil {
		eng.logger.Warn("snapshot recovery failed: %v", err)
	}

	var uploads []batch.UploadFile
	for _, path := range files {
		data, err := os.ReadFile(path)
		if err != nil {
			return fmt.Errorf("failed to read %s: %w", path, err)
		}
		uploads = append(uploads, batch.UploadFile{
			Filename:     filepath.Base(path),
			Data:         data,
			DocumentType: qa.DocumentType(*docType),
		})
	}

	job, err := coordinator.CreateBatch(ctx, uploads)
	if err != nil {
		return err
	}
	fmt.Printf("batch %s: %d accepted, %d rejected\n",
		job.BatchID, len(job.AssessmentIDs), len(job.FailedFilenames))

	coordinator.Wait()

	for _, id := range job.AssessmentIDs {
		assessment, found, err := coordinator.GetAssessment(ctx, id)
		if err != nil || !found {
			fmt.Printf("  %s: record unavailable\n", id)
			continue
		}
		fmt.Printf("  %s (%s): %s - %d criteria, %d negative findings\n",
			id, assessment.Filename, assessment.Status,
			assessment.SummaryTotalCriteriaEvaluated, assessment.SummaryNegativeFindings)
		if assessment.Message != "" {
			fmt.Printf("    %s\n", assessment.Message)
		}
	}
	return nil
}

func runModels() error {
	for _, id := range models.ListModels() {
		info, _ := models.GetModel(id)
		fmt.Printf("%-20s %-10s %-10s context=%d temperature=%v\n",
			id, info.Provider, info.Type, info.ContextWindow, info.SupportsTemperature)
	}
	return nil
}
