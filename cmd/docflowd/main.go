package main

import (
	"bufio"
	"context"
	"encoding/json"
	"flag"
	"io"
	"log/slog"
	"net"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/google/uuid"

	"github.com/joseph-ayodele/docflow/constants"
	"github.com/joseph-ayodele/docflow/internal/app"
	"github.com/joseph-ayodele/docflow/internal/async"
	"github.com/joseph-ayodele/docflow/internal/common"
	"github.com/joseph-ayodele/docflow/internal/core"
	"github.com/joseph-ayodele/docflow/internal/entity"
	"github.com/joseph-ayodele/docflow/internal/server"
)

// jobLine is one line of the jobs input: {"document_id":..,"model":..,"kind":..,"refs":[..]}.
type jobLine struct {
	DocumentID string   `json:"document_id"`
	Model      string   `json:"model"`
	Kind       string   `json:"kind"`
	Refs       []string `json:"refs"`
	Name       string   `json:"name"`
}

func main() {
	jobsPath := flag.String("jobs", "", "newline-delimited JSON generate requests to enqueue at startup (\"-\" for stdin)")
	noSweep := flag.Bool("no-sweep", false, "disable the periodic reconciliation sweep")
	flag.Parse()

	cfg, err := common.LoadConfig()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(2)
	}
	logger := common.NewLogger(os.Stdout, cfg.LogLevel, cfg.LogFormat)
	slog.SetDefault(logger)
	if err := cfg.Validate(); err != nil {
		logger.Error("invalid configuration", "error", err)
		os.Exit(2)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := app.New(ctx, cfg, logger)
	if err != nil {
		logger.Error("failed to start", "error", err)
		os.Exit(1)
	}
	defer a.Close()

	addr := cfg.Server.GRPCAddr
	if !strings.Contains(addr, ":") {
		addr = ":" + addr
	}
	lis, err := net.Listen("tcp", addr)
	if err != nil {
		logger.Error("failed to listen on address", "addr", addr, "error", err)
		os.Exit(1)
	}
	monitor := server.NewHealthMonitor(a.Store, cfg.Server.HealthInterval, logger)
	go monitor.Watch(ctx)
	go func() {
		if err := monitor.Serve(lis); err != nil {
			logger.Error("gRPC serve error", "error", err)
			stop()
		}
	}()

	opts := append(async.OptionsFrom(cfg.Queue), async.WithResultHandler(func(job async.Job, rec *entity.JobRecord, err error) {
		if err != nil {
			logger.Warn("docflowd.job.error", "trace_id", job.TraceID, "document_id", job.Request.DocumentID, "error", err)
			return
		}
		logger.Info("docflowd.job.done",
			"trace_id", job.TraceID,
			"document_id", rec.DocumentID,
			"model", rec.Model,
			"state", rec.Job.State,
			"content_state", rec.ContentState,
		)
	}))
	queue := async.NewProcessorQueue(a.Processor, logger, opts...)

	if !*noSweep {
		go a.Sweeper.Every(ctx, cfg.Sweep.Interval)
	}

	if *jobsPath != "" {
		go func() {
			n, err := enqueueJobs(ctx, queue, *jobsPath, logger)
			if err != nil {
				logger.Error("docflowd.jobs.read_failed", "path", *jobsPath, "error", err)
			}
			logger.Info("docflowd.jobs.enqueued", "count", n)
		}()
	}

	logger.Info("docflowd started", "addr", addr, "workers", cfg.Queue.Workers, "sweep_interval", cfg.Sweep.Interval)
	<-ctx.Done()
	logger.Info("docflowd shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	queue.Shutdown(shutdownCtx)
	monitor.Stop()
}

func enqueueJobs(ctx context.Context, queue async.Queue, path string, logger *slog.Logger) (int, error) {
	var r io.Reader = os.Stdin
	if path != "-" {
		f, err := os.Open(path)
		if err != nil {
			return 0, err
		}
		defer f.Close()
		r = f
	}

	n := 0
	sc := bufio.NewScanner(r)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		var jl jobLine
		if err := json.Unmarshal([]byte(line), &jl); err != nil {
			logger.Warn("docflowd.jobs.bad_line", "error", err)
			continue
		}
		kind, ok := constants.CanonicalKind(jl.Kind)
		if !ok {
			logger.Warn("docflowd.jobs.unknown_kind", "kind", jl.Kind, "document_id", jl.DocumentID)
			continue
		}
		job := async.Job{
			Request: core.GenerateRequest{
				DocumentID:   jl.DocumentID,
				Model:        jl.Model,
				Kind:         kind,
				DocumentRefs: jl.Refs,
				Name:         jl.Name,
			},
			SubmittedAt: time.Now(),
			TraceID:     uuid.NewString(),
		}
		if err := queue.Enqueue(ctx, job); err != nil {
			return n, err
		}
		n++
	}
	return n, sc.Err()
}
