package browser

import (
	"context"
	"fmt"

	"github.com/chromedp/cdproto/cdp"
	"github.com/chromedp/chromedp"
	"github.com/chromedp/chromedp/kb"
)

// ChromeLauncher starts a headless Chrome per session.
type ChromeLauncher struct {
	cfg Config
}

// Open starts a browser process and a tab.
func (l *ChromeLauncher) Open(ctx context.Context) (Driver, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", l.cfg.Headless),
		chromedp.Flag("disable-gpu", true),
		chromedp.Flag("no-sandbox", true),
		chromedp.Flag("disable-dev-shm-usage", true),
		chromedp.WindowSize(1280, 720),
	)
	if l.cfg.UserAgent != "" {
		opts = append(opts, chromedp.UserAgent(l.cfg.UserAgent))
	}

	// The session outlives the caller's ctx; Close releases it.
	allocCtx, allocCancel := chromedp.NewExecAllocator(context.Background(), opts...)
	browserCtx, browserCancel := chromedp.NewContext(allocCtx)

	s := &chromeSession{
		ctx:    browserCtx,
		cfg:    l.cfg,
		cancel: func() { browserCancel(); allocCancel() },
	}
	// The first Run allocates the browser and must not carry a timeout.
	if err := chromedp.Run(browserCtx); err != nil {
		s.cancel()
		return nil, fmt.Errorf("failed to start chrome: %w", err)
	}
	return s, nil
}

type chromeSession struct {
	ctx    context.Context
	cfg    Config
	cancel func()
}

// run executes actions on the tab, bounded by the operation timeout and the caller's ctx.
func (s *chromeSession) run(ctx context.Context, actions ...chromedp.Action) error {
	opCtx, cancel := context.WithTimeout(s.ctx, s.cfg.Timeout)
	defer cancel()
	stop := context.AfterFunc(ctx, cancel)
	defer stop()
	return chromedp.Run(opCtx, actions...)
}

func (s *chromeSession) Navigate(ctx context.Context, url string) error {
	if err := s.run(ctx, chromedp.Navigate(url)); err != nil {
		return fmt.Errorf("navigate %s: %w", url, err)
	}
	return nil
}

func (s *chromeSession) Find(ctx context.Context, candidates []string) (Target, error) {
	for _, sel := range candidates {
		var nodes []*cdp.Node
		err := s.run(ctx, chromedp.Nodes(sel, &nodes, chromedp.ByQueryAll, chromedp.AtLeast(0)))
		if err != nil {
			if ctx.Err() != nil {
				return Target{}, ctx.Err()
			}
			continue
		}
		if len(nodes) > 0 {
			return Target{Selector: sel}, nil
		}
	}
	return Target{}, ErrNoMatch
}

func (s *chromeSession) Fill(ctx context.Context, t Target, value string) error {
	return s.run(ctx,
		chromedp.Clear(t.Selector, chromedp.ByQuery),
		chromedp.SendKeys(t.Selector, value, chromedp.ByQuery),
	)
}

func (s *chromeSession) Click(ctx context.Context, t Target) error {
	return s.run(ctx, chromedp.Click(t.Selector, chromedp.ByQuery))
}

func (s *chromeSession) PressEnter(ctx context.Context) error {
	return s.run(ctx, chromedp.KeyEvent(kb.Enter))
}

func (s *chromeSession) Screenshot(ctx context.Context, t Target) ([]byte, error) {
	var buf []byte
	if err := s.run(ctx, chromedp.Screenshot(t.Selector, &buf, chromedp.ByQuery)); err != nil {
		return nil, fmt.Errorf("screenshot %s: %w", t.Selector, err)
	}
	return buf, nil
}

func (s *chromeSession) Content(ctx context.Context) (string, error) {
	var html string
	if err := s.run(ctx, chromedp.OuterHTML("html", &html, chromedp.ByQuery)); err != nil {
		return "", err
	}
	return html, nil
}

func (s *chromeSession) CurrentURL(ctx context.Context) (string, error) {
	var url string
	if err := s.run(ctx, chromedp.Location(&url)); err != nil {
		return "", err
	}
	return url, nil
}

func (s *chromeSession) Close() error {
	if err := chromedp.Cancel(s.ctx); err != nil {
		s.cancel()
		return err
	}
	s.cancel()
	return nil
}
