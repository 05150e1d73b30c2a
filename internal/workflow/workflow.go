// Package workflow drives one identifier through the search portal and,
// on success, the secondary portal.
package workflow

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/timmy/portalflow/internal/browser"
	"github.com/timmy/portalflow/internal/domain"
	"github.com/timmy/portalflow/internal/logger"
)

// State names a step of the item workflow.
type State string

const (
	StateNavigateSearch   State = "NAVIGATE_SEARCH"
	StateFillIdentifier   State = "FILL_IDENTIFIER"
	StateCaptureChallenge State = "CAPTURE_CHALLENGE"
	StateSolveChallenge   State = "SOLVE_CHALLENGE"
	StateSubmitSearch     State = "SUBMIT_SEARCH"
	StateEvaluateResult   State = "EVALUATE_RESULT"
	StateExtract          State = "EXTRACT"
	StateSubmitSecondary  State = "SUBMIT_SECONDARY"
	StateDone             State = "DONE"
)

const (
	detailInputNotFound          = "input field not found"
	detailChallengeNotFound      = "challenge not found"
	detailChallengeInputNotFound = "challenge input not found"
	detailSolveFailed            = "challenge solving failed"
	detailUnknown                = "unknown"
	detailNoFields               = "success indicator present but no fields extracted"
)

var nationalIDPattern = regexp.MustCompile(`(?:^|\D)\d{16}(?:\D|$)`)

// Solver turns a challenge image into its text.
type Solver interface {
	Solve(ctx context.Context, image []byte, maxAttempts int) (string, error)
}

// Extractor recovers a record from result markup.
type Extractor interface {
	Extract(markup string) domain.ExtractedRecord
}

// Selectors lists candidate CSS selectors per element, tried in order.
type Selectors struct {
	IdentifierInput []string
	ChallengeImage  []string
	ChallengeInput  []string
	SubmitButton    []string

	SecondaryName         []string
	SecondaryNationalID   []string
	SecondaryIdentifier   []string
	SecondaryBirthDate    []string
	SecondarySubmitButton []string
}

// Indicators are lowercase markers matched against page content.
type Indicators struct {
	Positive           []string
	Negative           []string
	SecondarySuccess   []string
	AlternateURLMarker string
	ProcessedMarker    string
}

// Config holds everything a Runner needs besides its collaborators.
type Config struct {
	SearchURL        string
	SecondaryURL     string
	LoadDelay        time.Duration
	SettleDelay      time.Duration
	MaxSolveAttempts int
	Selectors        Selectors
	Indicators       Indicators
}

// Runner executes the workflow for a single identifier on an open session.
type Runner struct {
	cfg       Config
	solver    Solver
	extractor Extractor
	sleep     func(ctx context.Context, d time.Duration) error
}

// NewRunner creates a Runner.
func NewRunner(cfg Config, solver Solver, extractor Extractor) *Runner {
	if cfg.MaxSolveAttempts < 1 {
		cfg.MaxSolveAttempts = 3
	}
	cfg.Indicators.Positive = lower(cfg.Indicators.Positive)
	cfg.Indicators.Negative = lower(cfg.Indicators.Negative)
	cfg.Indicators.SecondarySuccess = lower(cfg.Indicators.SecondarySuccess)
	cfg.Indicators.AlternateURLMarker = strings.ToLower(cfg.Indicators.AlternateURLMarker)
	cfg.Indicators.ProcessedMarker = strings.ToLower(cfg.Indicators.ProcessedMarker)
	return &Runner{cfg: cfg, solver: solver, extractor: extractor, sleep: sleep}
}

// run carries per-item state between steps.
type run struct {
	driver     browser.Driver
	identifier string
	image      []byte
	answer     string
	content    string
	record     domain.ExtractedRecord
	secondary  *domain.SecondaryResult
}

// outcome is set by a step that ends the workflow early.
type outcome struct {
	status domain.ItemStatus
	detail string
	record *domain.ExtractedRecord
}

func fail(status domain.ItemStatus, detail string) *outcome {
	return &outcome{status: status, detail: detail}
}

type step func(ctx context.Context, r *run) (State, *outcome)

// Run drives one identifier from the search page to a terminal ItemResult.
// It never returns an empty detail.
func (w *Runner) Run(ctx context.Context, d browser.Driver, identifier string) domain.ItemResult {
	ctx = logger.WithField(ctx, logger.FieldIdentifier, identifier)
	start := time.Now()

	steps := map[State]step{
		StateNavigateSearch:   w.navigateSearch,
		StateFillIdentifier:   w.fillIdentifier,
		StateCaptureChallenge: w.captureChallenge,
		StateSolveChallenge:   w.solveChallenge,
		StateSubmitSearch:     w.submitSearch,
		StateEvaluateResult:   w.evaluateResult,
		StateExtract:          w.extract,
		StateSubmitSecondary:  w.submitSecondary,
	}

	r := &run{driver: d, identifier: identifier}
	state := StateNavigateSearch
	var out *outcome
	for state != StateDone && out == nil {
		if err := ctx.Err(); err != nil {
			out = fail(domain.ItemStatusError, err.Error())
			break
		}
		logger.CtxDebug(logger.WithField(ctx, logger.FieldState, string(state)), "Entering workflow state")
		state, out = steps[state](ctx, r)
	}

	res := domain.ItemResult{Identifier: identifier, Timestamp: time.Now()}
	if out != nil {
		res.Status = out.status
		res.Detail = out.detail
		res.Record = out.record
	} else {
		rec := r.record
		res.Status = domain.ItemStatusSuccess
		res.Record = &rec
		res.Secondary = r.secondary
		res.Detail = "record extracted; secondary submission " + string(r.secondary.Outcome)
	}
	if res.Detail == "" {
		res.Detail = detailUnknown
	}

	logger.With(logger.Fields{
		logger.FieldStatus: string(res.Status),
	}).WithDuration(time.Since(start).Milliseconds()).Info(ctx, "Identifier processed: %s", res.Detail)
	return res
}

func (w *Runner) navigateSearch(ctx context.Context, r *run) (State, *outcome) {
	if err := r.driver.Navigate(ctx, w.cfg.SearchURL); err != nil {
		return "", fail(domain.ItemStatusError, err.Error())
	}
	if err := w.sleep(ctx, w.cfg.LoadDelay); err != nil {
		return "", fail(domain.ItemStatusError, err.Error())
	}
	return StateFillIdentifier, nil
}

func (w *Runner) fillIdentifier(ctx context.Context, r *run) (State, *outcome) {
	t, err := r.driver.Find(ctx, w.cfg.Selectors.IdentifierInput)
	if err != nil {
		return "", findFailure(err, detailInputNotFound)
	}
	if err := r.driver.Fill(ctx, t, r.identifier); err != nil {
		return "", fail(domain.ItemStatusError, fmt.Sprintf("fill identifier: %v", err))
	}
	return StateCaptureChallenge, nil
}

func (w *Runner) captureChallenge(ctx context.Context, r *run) (State, *outcome) {
	t, err := r.driver.Find(ctx, w.cfg.Selectors.ChallengeImage)
	if err != nil {
		return "", findFailure(err, detailChallengeNotFound)
	}
	img, err := r.driver.Screenshot(ctx, t)
	if err != nil {
		return "", fail(domain.ItemStatusError, err.Error())
	}
	r.image = img
	return StateSolveChallenge, nil
}

func (w *Runner) solveChallenge(ctx context.Context, r *run) (State, *outcome) {
	answer, err := w.solver.Solve(ctx, r.image, w.cfg.MaxSolveAttempts)
	if err != nil {
		logger.CtxWarn(ctx, "Challenge solving failed: %v", err)
		return "", fail(domain.ItemStatusFailed, detailSolveFailed)
	}
	r.answer = answer
	return StateSubmitSearch, nil
}

func (w *Runner) submitSearch(ctx context.Context, r *run) (State, *outcome) {
	t, err := r.driver.Find(ctx, w.cfg.Selectors.ChallengeInput)
	if err != nil {
		return "", findFailure(err, detailChallengeInputNotFound)
	}
	if err := r.driver.Fill(ctx, t, r.answer); err != nil {
		return "", fail(domain.ItemStatusError, fmt.Sprintf("fill challenge answer: %v", err))
	}
	if err := w.submit(ctx, r.driver, w.cfg.Selectors.SubmitButton); err != nil {
		return "", fail(domain.ItemStatusError, err.Error())
	}
	if err := w.sleep(ctx, w.cfg.SettleDelay); err != nil {
		return "", fail(domain.ItemStatusError, err.Error())
	}
	content, err := r.driver.Content(ctx)
	if err != nil {
		return "", fail(domain.ItemStatusError, fmt.Sprintf("read result page: %v", err))
	}
	r.content = content
	return StateEvaluateResult, nil
}

// evaluateResult prefers success: any positive marker wins over negatives.
func (w *Runner) evaluateResult(_ context.Context, r *run) (State, *outcome) {
	lc := strings.ToLower(r.content)
	if containsAny(lc, w.cfg.Indicators.Positive) != "" || nationalIDPattern.MatchString(r.content) {
		return StateExtract, nil
	}
	if neg := containsAny(lc, w.cfg.Indicators.Negative); neg != "" {
		return "", fail(domain.ItemStatusFailed, neg)
	}
	return "", fail(domain.ItemStatusFailed, detailUnknown)
}

func (w *Runner) extract(_ context.Context, r *run) (State, *outcome) {
	rec := w.extractor.Extract(r.content)
	rec.Identifier = r.identifier
	if rec.IsEmpty() {
		return "", &outcome{
			status: domain.ItemStatusPartial,
			detail: detailNoFields,
			record: &domain.ExtractedRecord{Identifier: r.identifier},
		}
	}
	r.record = rec
	return StateSubmitSecondary, nil
}

// submitSecondary never fails the item; problems become an UNKNOWN sub-outcome.
func (w *Runner) submitSecondary(ctx context.Context, r *run) (State, *outcome) {
	res, err := w.secondary(ctx, r.driver, r.record)
	if err != nil {
		logger.CtxWarn(ctx, "Secondary submission failed: %v", err)
		res = &domain.SecondaryResult{Outcome: domain.SecondaryUnknown, Detail: err.Error()}
	}
	r.secondary = res
	return StateDone, nil
}

func (w *Runner) secondary(ctx context.Context, d browser.Driver, rec domain.ExtractedRecord) (*domain.SecondaryResult, error) {
	if w.cfg.SecondaryURL == "" {
		return nil, errors.New("secondary portal not configured")
	}
	if err := d.Navigate(ctx, w.cfg.SecondaryURL); err != nil {
		return nil, err
	}
	if err := w.sleep(ctx, w.cfg.LoadDelay); err != nil {
		return nil, err
	}

	sel := w.cfg.Selectors
	fields := []struct {
		name       string
		value      string
		candidates []string
	}{
		{"name", rec.Name, sel.SecondaryName},
		{"national_id", rec.NationalID, sel.SecondaryNationalID},
		{"identifier", rec.Identifier, sel.SecondaryIdentifier},
		{"birth_date", rec.BirthDate, sel.SecondaryBirthDate},
	}
	filled := 0
	for _, f := range fields {
		if f.value == "" {
			continue
		}
		t, err := d.Find(ctx, f.candidates)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			logger.CtxDebug(ctx, "Secondary field %s not present", f.name)
			continue
		}
		if err := d.Fill(ctx, t, f.value); err != nil {
			return nil, fmt.Errorf("fill %s: %w", f.name, err)
		}
		filled++
	}
	if filled == 0 {
		return nil, errors.New("no secondary form fields found")
	}

	if err := w.submit(ctx, d, sel.SecondarySubmitButton); err != nil {
		return nil, err
	}
	if err := w.sleep(ctx, w.cfg.SettleDelay); err != nil {
		return nil, err
	}

	url, err := d.CurrentURL(ctx)
	if err != nil {
		return nil, err
	}
	content, err := d.Content(ctx)
	if err != nil {
		return nil, err
	}
	return w.classifySecondary(url, content), nil
}

func (w *Runner) classifySecondary(url, content string) *domain.SecondaryResult {
	ind := w.cfg.Indicators
	lc := strings.ToLower(content)
	res := &domain.SecondaryResult{URL: url}
	switch {
	case ind.AlternateURLMarker != "" && strings.Contains(strings.ToLower(url), ind.AlternateURLMarker):
		res.Outcome = domain.SecondaryRedirected
		res.Detail = "redirected to alternate flow"
	case containsAny(lc, ind.SecondarySuccess) != "":
		res.Outcome = domain.SecondarySuccess
		res.Detail = "confirmation marker " + containsAny(lc, ind.SecondarySuccess)
	case ind.ProcessedMarker != "" && strings.Contains(lc, ind.ProcessedMarker):
		res.Outcome = domain.SecondaryProcessed
		res.Detail = "processed without confirmation"
	default:
		res.Outcome = domain.SecondaryUnknown
		res.Detail = "no recognizable response"
	}
	return res
}

// submit clicks the first matching button, falling back to the keyboard.
func (w *Runner) submit(ctx context.Context, d browser.Driver, buttons []string) error {
	return firstOf(ctx,
		action{"click submit button", func(ctx context.Context) error {
			t, err := d.Find(ctx, buttons)
			if err != nil {
				return err
			}
			return d.Click(ctx, t)
		}},
		action{"press enter", d.PressEnter},
	)
}

type action struct {
	name string
	do   func(ctx context.Context) error
}

// firstOf runs actions in order until one succeeds.
func firstOf(ctx context.Context, actions ...action) error {
	var errs []error
	for _, a := range actions {
		err := a.do(ctx)
		if err == nil {
			return nil
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		logger.CtxDebug(ctx, "Action %q failed: %v", a.name, err)
		errs = append(errs, fmt.Errorf("%s: %w", a.name, err))
	}
	return fmt.Errorf("all submit actions failed: %w", errors.Join(errs...))
}

func findFailure(err error, notFound string) *outcome {
	if errors.Is(err, browser.ErrNoMatch) {
		return fail(domain.ItemStatusError, notFound)
	}
	return fail(domain.ItemStatusError, err.Error())
}

// containsAny returns the first marker found in s, in list order.
func containsAny(s string, markers []string) string {
	for _, m := range markers {
		if m != "" && strings.Contains(s, m) {
			return m
		}
	}
	return ""
}

func lower(in []string) []string {
	out := make([]string, len(in))
	for i, s := range in {
		out[i] = strings.ToLower(s)
	}
	return out
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
