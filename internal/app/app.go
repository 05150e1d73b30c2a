// Package app wires configuration into the running engine shared by both binaries.
package app

import (
	"context"
	"fmt"

	"github.com/timmy/portalflow/internal/browser"
	"github.com/timmy/portalflow/internal/config"
	"github.com/timmy/portalflow/internal/extractor"
	"github.com/timmy/portalflow/internal/logger"
	"github.com/timmy/portalflow/internal/registry"
	"github.com/timmy/portalflow/internal/snapshot"
	"github.com/timmy/portalflow/internal/solver"
	"github.com/timmy/portalflow/internal/storage"
	"github.com/timmy/portalflow/internal/worker"
	"github.com/timmy/portalflow/internal/workflow"
)

const (
	ServiceName = "portalflow"
	Version     = "1.0.0"
)

// App holds the long-lived components of the engine.
type App struct {
	Registry  *registry.Registry
	Pool      *worker.Pool
	Snapshots *snapshot.Writer
}

// New builds every component from cfg.
// Parameters:
//   - ctx: context bounding startup checks such as the storage bucket probe.
//   - cfg: loaded configuration.
//   - log: base logger handed to the pool.
//
// Returns:
//   - *App: wired components; the pool is not started.
//   - error: non-nil if a component cannot be created.
func New(ctx context.Context, cfg *config.Config, log *logger.Logger) (*App, error) {
	launcher, err := browser.NewLauncher(browser.Config{
		Driver:    cfg.Browser.Driver,
		Headless:  cfg.Browser.Headless,
		Timeout:   cfg.Browser.Timeout,
		UserAgent: cfg.Browser.UserAgent,
	})
	if err != nil {
		return nil, err
	}

	solverClient := solver.New(solver.Config{
		BaseURL:      cfg.Solver.BaseURL,
		APIKey:       cfg.Solver.APIKey,
		PollInterval: cfg.Solver.PollInterval,
		MaxPolls:     cfg.Solver.MaxPolls,
		RetryBackoff: cfg.Solver.RetryBackoff,
		Timeout:      cfg.Solver.Timeout,
	})

	ext := extractor.New(extractor.Config{
		PayloadAttribute: cfg.Extractor.PayloadAttribute,
		SectionHeading:   cfg.Extractor.SectionHeading,
		Window:           cfg.Extractor.Window,
	})

	runner := workflow.NewRunner(workflowConfig(cfg), solverClient, ext)

	var mirror storage.ObjectStorage
	if cfg.Storage.Enabled {
		mirror, err = storage.New(ctx, storage.Config{
			Type:      storage.StorageType(cfg.Storage.Type),
			Endpoint:  cfg.Storage.Endpoint,
			AccessKey: cfg.Storage.AccessKey,
			SecretKey: cfg.Storage.SecretKey,
			UseSSL:    cfg.Storage.UseSSL,
			Bucket:    cfg.Storage.Bucket,
			Region:    cfg.Storage.Region,
			PublicURL: cfg.Storage.PublicURL,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to initialize snapshot mirror: %w", err)
		}
		log.WithField("url", mirror.URL(cfg.Storage.Key)).Info("Snapshot mirror enabled")
	}

	writer := snapshot.NewWriter(snapshot.Config{
		Path:      cfg.Snapshot.Path,
		Every:     cfg.Snapshot.Every,
		MirrorKey: cfg.Storage.Key,
	}, mirror)

	reg := registry.New(cfg.Queue.Capacity)
	pool := worker.NewPool(reg, launcher, runner, writer, log, &worker.PoolConfig{
		Workers:        cfg.Workers.Count,
		PollWait:       cfg.Workers.PollWait,
		InterItemDelay: cfg.Workers.InterItemDelay,
		LoginURL:       cfg.Portal.LoginURL,
	})

	return &App{Registry: reg, Pool: pool, Snapshots: writer}, nil
}

func workflowConfig(cfg *config.Config) workflow.Config {
	sel := cfg.Selectors
	ind := cfg.Indicators
	return workflow.Config{
		SearchURL:        cfg.Portal.SearchURL,
		SecondaryURL:     cfg.Portal.SecondaryURL,
		LoadDelay:        cfg.Portal.LoadDelay,
		SettleDelay:      cfg.Portal.SettleDelay,
		MaxSolveAttempts: cfg.Solver.MaxAttempts,
		Selectors: workflow.Selectors{
			IdentifierInput:       sel.IdentifierInput,
			ChallengeImage:        sel.ChallengeImage,
			ChallengeInput:        sel.ChallengeInput,
			SubmitButton:          sel.SubmitButton,
			SecondaryName:         sel.Secondary.Name,
			SecondaryNationalID:   sel.Secondary.NationalID,
			SecondaryIdentifier:   sel.Secondary.Identifier,
			SecondaryBirthDate:    sel.Secondary.BirthDate,
			SecondarySubmitButton: sel.Secondary.SubmitButton,
		},
		Indicators: workflow.Indicators{
			Positive:           ind.Positive,
			Negative:           ind.Negative,
			SecondarySuccess:   ind.SecondarySuccess,
			AlternateURLMarker: ind.AlternateURLMarker,
			ProcessedMarker:    ind.ProcessedMarker,
		},
	}
}
