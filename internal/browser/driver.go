// Package browser defines the page-automation contract used by the workflow
// and its two adapters: headless Chrome and a plain HTTP form session.
package browser

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// ErrNoMatch is returned by Find when no candidate selector matches.
var ErrNoMatch = errors.New("no candidate selector matched")

// Target is a located page element.
type Target struct {
	Selector string
}

// Driver is one browser session. Calls are not safe for concurrent use;
// a session belongs to a single executor.
type Driver interface {
	Navigate(ctx context.Context, url string) error
	// Find returns the first candidate that matches an element on the current page.
	Find(ctx context.Context, candidates []string) (Target, error)
	Fill(ctx context.Context, t Target, value string) error
	Click(ctx context.Context, t Target) error
	PressEnter(ctx context.Context) error
	Screenshot(ctx context.Context, t Target) ([]byte, error)
	Content(ctx context.Context) (string, error)
	CurrentURL(ctx context.Context) (string, error)
	Close() error
}

// Launcher opens new sessions.
type Launcher interface {
	Open(ctx context.Context) (Driver, error)
}

// Config selects and tunes the adapter.
type Config struct {
	Driver    string // chrome or http
	Headless  bool
	Timeout   time.Duration
	UserAgent string
}

// NewLauncher returns the launcher for cfg.Driver.
func NewLauncher(cfg Config) (Launcher, error) {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 60 * time.Second
	}
	switch cfg.Driver {
	case "", "chrome":
		return &ChromeLauncher{cfg: cfg}, nil
	case "http":
		return &HTTPLauncher{cfg: cfg}, nil
	default:
		return nil, fmt.Errorf("unsupported browser driver: %s", cfg.Driver)
	}
}
