package solver

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	"image/png"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/timmy/portalflow/internal/domain"
	"github.com/timmy/portalflow/internal/logger"
	"golang.org/x/image/webp"
)

var (
	// ErrSolveFailed is returned when every attempt failed.
	ErrSolveFailed = errors.New("challenge solving failed")
	// ErrTimedOut marks an attempt whose job never became ready.
	ErrTimedOut = errors.New("challenge job timed out")
	// ErrSubmitRejected marks a submission the vendor did not accept.
	ErrSubmitRejected = errors.New("challenge submission rejected")
	// ErrNotConfigured is returned when no vendor base URL is set.
	ErrNotConfigured = errors.New("solver base url is not configured")
)

const (
	notReady = "CAPCHA_NOT_READY"
	okPrefix = "OK|"
)

// Config holds the vendor connection settings.
type Config struct {
	BaseURL      string
	APIKey       string
	PollInterval time.Duration
	MaxPolls     int
	RetryBackoff time.Duration
	Timeout      time.Duration
}

// Client talks to a submit-then-poll challenge solving vendor.
type Client struct {
	client *resty.Client
	cfg    Config
}

// New creates a solver client.
// Parameters:
//   - cfg: vendor settings; zero values fall back to 2s polling, 30 polls, 3s backoff.
//
// Returns:
//   - *Client: client ready to solve challenges.
func New(cfg Config) *Client {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 2 * time.Second
	}
	if cfg.MaxPolls <= 0 {
		cfg.MaxPolls = 30
	}
	if cfg.RetryBackoff < 0 {
		cfg.RetryBackoff = 0
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")

	client := resty.New()
	client.SetTimeout(cfg.Timeout)

	return &Client{client: client, cfg: cfg}
}

// Solve submits the image and polls until the vendor returns its text.
// Parameters:
//   - ctx: context for cancellation.
//   - img: raw challenge image bytes.
//   - maxAttempts: number of submit/poll cycles before giving up.
//
// Returns:
//   - string: solved text.
//   - error: wraps ErrSolveFailed when no attempt succeeded.
func (c *Client) Solve(ctx context.Context, img []byte, maxAttempts int) (string, error) {
	if c.cfg.BaseURL == "" {
		return "", fmt.Errorf("%w: %w", ErrSolveFailed, ErrNotConfigured)
	}
	if maxAttempts < 1 {
		maxAttempts = 1
	}
	data, name, err := normalizeImage(img)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrSolveFailed, err)
	}

	ctx = logger.SetComponent(ctx, "solver")
	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		job, err := c.submit(ctx, data, name)
		if err != nil {
			lastErr = err
			logger.CtxWarn(ctx, "Challenge submission failed (attempt %d/%d): %v", attempt, maxAttempts, err)
			if attempt < maxAttempts {
				if err := sleep(ctx, c.cfg.RetryBackoff); err != nil {
					return "", err
				}
			}
			continue
		}

		if err := c.poll(ctx, job); err != nil {
			lastErr = err
			logger.CtxWarn(ctx, "Challenge job %s ended as %s: %v", job.ID, job.Status, err)
			if ctx.Err() != nil {
				return "", ctx.Err()
			}
			continue
		}

		logger.With(logger.Fields{
			logger.FieldDurationMs: time.Since(job.SubmittedAt).Milliseconds(),
			logger.FieldStatus:     string(job.Status),
		}).Info(ctx, "Challenge solved on attempt %d", attempt)
		return job.Text, nil
	}
	return "", fmt.Errorf("%w after %d attempts: %v", ErrSolveFailed, maxAttempts, lastErr)
}

func (c *Client) submit(ctx context.Context, img []byte, name string) (*domain.ChallengeJob, error) {
	resp, err := c.client.R().
		SetContext(ctx).
		SetFormData(map[string]string{
			"key":    c.cfg.APIKey,
			"method": "post",
		}).
		SetFileReader("file", name, bytes.NewReader(img)).
		Post(c.cfg.BaseURL + "/in.php")
	if err != nil {
		return nil, fmt.Errorf("submit request: %w", err)
	}

	body := strings.TrimSpace(resp.String())
	if !strings.HasPrefix(body, okPrefix) {
		return nil, fmt.Errorf("%w: %s", ErrSubmitRejected, body)
	}
	return &domain.ChallengeJob{
		ID:          strings.TrimPrefix(body, okPrefix),
		SubmittedAt: time.Now(),
		Status:      domain.JobStatusPending,
	}, nil
}

// poll updates job in place until it is solved, fails or runs out of polls.
func (c *Client) poll(ctx context.Context, job *domain.ChallengeJob) error {
	for i := 0; i < c.cfg.MaxPolls; i++ {
		if err := sleep(ctx, c.cfg.PollInterval); err != nil {
			job.Status = domain.JobStatusFailed
			return err
		}

		resp, err := c.client.R().
			SetContext(ctx).
			SetQueryParams(map[string]string{
				"key":    c.cfg.APIKey,
				"action": "get",
				"id":     job.ID,
			}).
			Get(c.cfg.BaseURL + "/res.php")
		if err != nil {
			job.Status = domain.JobStatusFailed
			return fmt.Errorf("poll request: %w", err)
		}

		body := strings.TrimSpace(resp.String())
		switch {
		case strings.HasPrefix(body, okPrefix):
			job.Status = domain.JobStatusSolved
			job.Text = strings.TrimPrefix(body, okPrefix)
			return nil
		case body == notReady:
			continue
		default:
			job.Status = domain.JobStatusFailed
			return fmt.Errorf("vendor error: %s", body)
		}
	}
	job.Status = domain.JobStatusTimedOut
	return fmt.Errorf("%w after %d polls", ErrTimedOut, c.cfg.MaxPolls)
}

// normalizeImage re-encodes formats the vendor rejects as PNG.
func normalizeImage(data []byte) ([]byte, string, error) {
	if len(data) == 0 {
		return nil, "", errors.New("empty challenge image")
	}
	_, format, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil || format != "webp" {
		// Unknown formats are passed through; the vendor decides.
		return data, "challenge." + extension(format), nil
	}

	img, err := webp.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, "", fmt.Errorf("decode webp: %w", err)
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return nil, "", fmt.Errorf("encode png: %w", err)
	}
	return buf.Bytes(), "challenge.png", nil
}

func extension(format string) string {
	switch format {
	case "jpeg":
		return "jpg"
	case "gif", "png":
		return format
	default:
		return "png"
	}
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
