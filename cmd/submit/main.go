package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"mime"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"sync"
	"syscall"

	"github.com/joseph-ayodele/docflow/constants"
	"github.com/joseph-ayodele/docflow/internal/app"
	"github.com/joseph-ayodele/docflow/internal/async"
	"github.com/joseph-ayodele/docflow/internal/common"
	"github.com/joseph-ayodele/docflow/internal/core"
	"github.com/joseph-ayodele/docflow/internal/entity"
	"github.com/joseph-ayodele/docflow/internal/ingest"
	"github.com/joseph-ayodele/docflow/internal/vault"
)

// printError prints an error message to stderr, falling back to stdout if stderr fails
func printError(format string, args ...any) {
	if _, err := fmt.Fprintf(os.Stderr, format, args...); err != nil {
		fmt.Printf(format, args...)
	}
}

func main() {
	var (
		file       = flag.String("file", "", "document to stage in the vault")
		dir        = flag.String("dir", "", "directory of documents to stage (alternative to --file)")
		skipHidden = flag.Bool("skip-hidden", true, "skip hidden files and directories under --dir")
		models     = flag.String("models", "", "comma-separated models, one job each (required)")
		kindStr    = flag.String("kind", "deposition_summary", "workflow kind")
		name       = flag.String("name", "", "job name (defaults to the file name)")
		docID      = flag.String("document-id", "", "document id for the records with --file (defaults to a content hash)")
		container  = flag.String("container", "", "existing vault container id (a new one is created when empty)")
	)
	flag.Parse()

	if (*file == "") == (*dir == "") || *models == "" {
		printError("Error: --models and exactly one of --file or --dir are required\n")
		os.Exit(1)
	}
	kind, ok := constants.CanonicalKind(*kindStr)
	if !ok {
		printError("Error: unknown kind %q, expected one of %s\n", *kindStr, strings.Join(constants.KindsAsStringSlice(), ", "))
		os.Exit(1)
	}
	modelList := splitList(*models)
	if len(modelList) == 0 {
		printError("Error: --models has no entries\n")
		os.Exit(1)
	}

	cfg, err := common.LoadConfig()
	if err != nil {
		printError("Error: loading config: %v\n", err)
		os.Exit(2)
	}
	logger := common.NewLogger(os.Stdout, cfg.LogLevel, cfg.LogFormat)
	slog.SetDefault(logger)
	if err := cfg.Validate(); err != nil {
		printError("Error: %v\n", err)
		os.Exit(2)
	}
	if cfg.Vault.BaseURL == "" {
		printError("Error: VAULT_BASE_URL is required to stage documents\n")
		os.Exit(2)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	scanner := ingest.NewScanner(nil, logger)
	var docs []ingest.Document
	if *file != "" {
		doc, err := scanner.ScanPath(*file)
		if err != nil {
			logger.Error("failed to read document", "path", *file, "error", err)
			os.Exit(1)
		}
		docs = []ingest.Document{doc}
	} else {
		found, stats, err := scanner.ScanDirectory(ctx, *dir, *skipHidden)
		if err != nil {
			logger.Error("failed to scan directory", "dir", *dir, "error", err)
			os.Exit(1)
		}
		for _, d := range found {
			switch {
			case d.Err != "":
				logger.Warn("submit.document.skipped", "path", d.Path, "error", d.Err)
			case d.Duplicate:
				logger.Info("submit.document.duplicate", "path", d.Path, "document_id", d.ID())
			default:
				docs = append(docs, d)
			}
		}
		if len(docs) == 0 {
			printError("Error: no documents found under %s (scanned %d)\n", *dir, stats.Scanned)
			os.Exit(1)
		}
	}

	var blobs vault.BlobStore
	if cfg.Vault.S3Endpoint != "" {
		s3, err := vault.NewS3Store(ctx, cfg.Vault, logger)
		if err != nil {
			logger.Error("failed to connect to blob store", "endpoint", cfg.Vault.S3Endpoint, "error", err)
			os.Exit(1)
		}
		blobs = s3
	}
	vc := vault.NewClient(vault.ConfigFrom(cfg.Vault, cfg.Retry), blobs, logger)

	if *container == "" {
		label := filepath.Base(*dir)
		if *file != "" {
			label = strings.TrimSuffix(docs[0].Filename, filepath.Ext(docs[0].Filename))
		}
		c, err := vc.CreateContainer(ctx, label)
		if err != nil {
			logger.Error("failed to create container", "error", err)
			os.Exit(1)
		}
		*container = c.ID
	}

	a, err := app.New(ctx, cfg, logger)
	if err != nil {
		logger.Error("failed to start", "error", err)
		os.Exit(1)
	}

	var (
		mu      sync.Mutex
		results = map[entity.RecordKey]*entity.JobRecord{}
		failed  = map[entity.RecordKey]error{}
		keys    []entity.RecordKey
	)
	queue := async.NewProcessorQueue(a.Processor, logger,
		append(async.OptionsFrom(cfg.Queue), async.WithResultHandler(func(job async.Job, rec *entity.JobRecord, err error) {
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				failed[job.Request.Key()] = err
			}
			if rec != nil {
				results[job.Request.Key()] = rec
			}
		}))...,
	)

	exit := 0
	for _, doc := range docs {
		obj, err := stage(ctx, vc, *container, doc)
		if err != nil {
			logger.Error("failed to stage document", "path", doc.Path, "error", err)
			exit = 1
			continue
		}
		id := doc.ID()
		if *docID != "" && *file != "" {
			id = *docID
		}
		jobName := *name
		if jobName == "" {
			jobName = doc.Filename
		}
		for _, m := range modelList {
			req := core.GenerateRequest{
				DocumentID:   id,
				Model:        m,
				Kind:         kind,
				DocumentRefs: []string{obj.ID},
				Name:         jobName,
			}
			keys = append(keys, req.Key())
			if err := queue.Enqueue(ctx, async.Job{Request: req}); err != nil {
				logger.Error("failed to enqueue", "record_key", req.Key().String(), "error", err)
			}
		}
	}
	queue.Shutdown(ctx)

	mu.Lock()
	defer mu.Unlock()
	for _, k := range keys {
		rec := results[k]
		switch {
		case failed[k] != nil:
			fmt.Printf("%-40s error: %v\n", k.String(), failed[k])
			exit = 1
		case rec == nil:
			fmt.Printf("%-40s not run\n", k.String())
			exit = 1
		default:
			fmt.Printf("%-40s job=%s state=%s content=%s%s\n", k.String(), rec.Job.ID, rec.Job.State, rec.ContentState, usageText(rec))
		}
	}
	a.Close()
	os.Exit(exit)
}

// stage uploads the document and waits until the vault has ingested it.
func stage(ctx context.Context, vc *vault.Client, containerID string, doc ingest.Document) (vault.Object, error) {
	data, err := os.ReadFile(doc.Path)
	if err != nil {
		return vault.Object{}, err
	}
	obj, err := vc.UploadBlob(ctx, containerID, doc.Filename, contentType(doc.Filename, data), data)
	if err != nil {
		return vault.Object{}, err
	}
	if err := vc.TriggerIngestion(ctx, containerID, obj.ID); err != nil {
		return vault.Object{}, err
	}
	if _, err := vc.WaitForIngestion(ctx, containerID, obj.ID); err != nil {
		return vault.Object{}, err
	}
	return obj, nil
}

func contentType(filename string, data []byte) string {
	if ct := mime.TypeByExtension(filepath.Ext(filename)); ct != "" {
		return constants.NormalizeMime(ct)
	}
	return constants.NormalizeMime(http.DetectContentType(data))
}

func usageText(rec *entity.JobRecord) string {
	if rec.Usage == nil {
		return ""
	}
	s := fmt.Sprintf(" tokens=%d cost=$%.4f", rec.Usage.TotalTokens, rec.Usage.CostUSD)
	if rec.Usage.Estimated {
		s += " (estimated)"
	}
	return s
}

func splitList(s string) []string {
	var out []string
	for _, p := range strings.Split(s, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
