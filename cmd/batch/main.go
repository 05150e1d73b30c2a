package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/timmy/portalflow/internal/app"
	"github.com/timmy/portalflow/internal/config"
	"github.com/timmy/portalflow/internal/domain"
	"github.com/timmy/portalflow/internal/logger"
)

func main() {
	appLogger := logger.New(&logger.Config{
		Level:       "info",
		Format:      "text",
		ServiceName: app.ServiceName + "-batch",
	})
	logger.SetDefaultLogger(appLogger)

	inputPath := flag.String("file", "identifiers.txt", "File with one identifier per line")
	configPath := flag.String("config", "", "Path to config file")
	userID := flag.String("user", "batch", "User ID recorded on the task")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		appLogger.WithError(err).Fatal("Failed to load config")
	}
	if cfg.Solver.BaseURL == "" {
		appLogger.Warn("SOLVER_BASE_URL is not set; challenge solving will fail")
	}
	// One task, one session: a single executor is enough.
	cfg.Workers.Count = 1

	f, err := os.Open(*inputPath)
	if err != nil {
		appLogger.WithError(err).Fatal("Failed to open identifier file")
	}
	raw, err := readIdentifiers(f)
	f.Close()
	if err != nil {
		appLogger.WithError(err).Fatal("Failed to read identifier file")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	engine, err := app.New(ctx, cfg, appLogger)
	if err != nil {
		appLogger.WithError(err).Fatal("Failed to initialize engine")
	}

	taskID, rejected, err := engine.Registry.Submit(*userID, raw)
	for _, r := range rejected {
		appLogger.WithField("line", r).Warn("Skipping invalid identifier")
	}
	if err != nil {
		appLogger.WithError(err).Fatal("Nothing to process")
	}

	poolDone := make(chan struct{})
	go func() {
		defer close(poolDone)
		_ = engine.Pool.Run(ctx)
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	taskLog := appLogger.WithField(logger.FieldTaskID, taskID)
	taskLog.WithField(logger.FieldCount, len(raw)-len(rejected)).Info("Batch started")

	task := waitForTask(engine, taskID, quit, taskLog)

	cancel()
	<-poolDone

	if err := engine.Snapshots.Flush(context.Background()); err != nil {
		appLogger.WithError(err).Error("Failed to write snapshot")
	}

	taskLog.WithFields(logger.Fields{
		logger.FieldStatus: string(task.Status),
		"processed":        task.Processed,
		"succeeded":        task.Succeeded,
		"failed":           task.Failed,
		"snapshot":         cfg.Snapshot.Path,
	}).Info("Batch finished")

	if task.Status == domain.TaskStatusFailed {
		os.Exit(1)
	}
}

// waitForTask polls until the task is terminal. A signal cancels it cooperatively.
func waitForTask(engine *app.App, id string, quit <-chan os.Signal, log *logger.Logger) domain.Task {
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

	lastProcessed := -1
	for {
		task, err := engine.Registry.Get(id)
		if err != nil {
			log.WithError(err).Fatal("Task disappeared")
		}
		if task.Status.IsTerminal() && task.CompletedAt != nil {
			return task
		}
		if task.Processed != lastProcessed {
			lastProcessed = task.Processed
			log.Infof("Progress: %d/%d (%d%%)", task.Processed, len(task.Identifiers), task.Progress)
		}

		select {
		case <-quit:
			log.Warn("Interrupted, cancelling after the current identifier")
			_ = engine.Registry.Cancel(id)
		case <-ticker.C:
		}
	}
}

// readIdentifiers returns non-empty lines, skipping # comments.
func readIdentifiers(r io.Reader) ([]string, error) {
	var out []string
	sc := bufio.NewScanner(r)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		out = append(out, line)
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("scan identifiers: %w", err)
	}
	return out, nil
}
