package workflow

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/timmy/portalflow/internal/browser"
	"github.com/timmy/portalflow/internal/domain"
)

const (
	searchURL    = "https://portal.test/search"
	secondaryURL = "https://second.test/form"
)

var testSelectors = Selectors{
	IdentifierInput:       []string{"#id-input"},
	ChallengeImage:        []string{"#captcha"},
	ChallengeInput:        []string{"#answer"},
	SubmitButton:          []string{"#search-btn"},
	SecondaryName:         []string{"#s-name"},
	SecondaryNationalID:   []string{"#s-nid"},
	SecondaryIdentifier:   []string{"#s-id"},
	SecondaryBirthDate:    []string{"#s-dob"},
	SecondarySubmitButton: []string{"#s-btn"},
}

// fakePortal moves between search, result, secondary and confirm pages.
type fakePortal struct {
	page     string
	elements map[string]map[string]bool

	resultContent  string
	confirmContent string
	confirmURL     string

	navErr       error
	secondaryErr error
	shotErr      error
	clickErr     error

	filled  map[string]string
	entered int
}

func newFakePortal() *fakePortal {
	return &fakePortal{
		elements: map[string]map[string]bool{
			"search":    {"#id-input": true, "#captcha": true, "#answer": true, "#search-btn": true},
			"secondary": {"#s-name": true, "#s-nid": true, "#s-id": true, "#s-btn": true},
		},
		confirmContent: "<p>Registration successful</p>",
		confirmURL:     secondaryURL + "/done",
		filled:         map[string]string{},
	}
}

func (f *fakePortal) Navigate(_ context.Context, url string) error {
	if url == secondaryURL {
		if f.secondaryErr != nil {
			return f.secondaryErr
		}
		f.page = "secondary"
		return nil
	}
	if f.navErr != nil {
		return f.navErr
	}
	f.page = "search"
	return nil
}

func (f *fakePortal) Find(_ context.Context, candidates []string) (browser.Target, error) {
	for _, c := range candidates {
		if f.elements[f.page][c] {
			return browser.Target{Selector: c}, nil
		}
	}
	return browser.Target{}, browser.ErrNoMatch
}

func (f *fakePortal) Fill(_ context.Context, t browser.Target, v string) error {
	f.filled[t.Selector] = v
	return nil
}

func (f *fakePortal) advance() {
	switch f.page {
	case "search":
		f.page = "result"
	case "secondary":
		f.page = "confirm"
	}
}

func (f *fakePortal) Click(context.Context, browser.Target) error {
	if f.clickErr != nil {
		return f.clickErr
	}
	f.advance()
	return nil
}

func (f *fakePortal) PressEnter(context.Context) error {
	f.entered++
	f.advance()
	return nil
}

func (f *fakePortal) Screenshot(context.Context, browser.Target) ([]byte, error) {
	if f.shotErr != nil {
		return nil, f.shotErr
	}
	return []byte("img"), nil
}

func (f *fakePortal) Content(context.Context) (string, error) {
	switch f.page {
	case "result":
		return f.resultContent, nil
	case "confirm":
		return f.confirmContent, nil
	}
	return "", nil
}

func (f *fakePortal) CurrentURL(context.Context) (string, error) {
	if f.page == "confirm" {
		return f.confirmURL, nil
	}
	return searchURL, nil
}

func (f *fakePortal) Close() error { return nil }

type fakeSolver struct {
	answer string
	err    error
	calls  int
}

func (s *fakeSolver) Solve(context.Context, []byte, int) (string, error) {
	s.calls++
	return s.answer, s.err
}

type extractFunc func(string) domain.ExtractedRecord

func (f extractFunc) Extract(markup string) domain.ExtractedRecord { return f(markup) }

func nameExtractor(markup string) domain.ExtractedRecord {
	if strings.Contains(markup, "Ana Lee") {
		return domain.ExtractedRecord{Name: "Ana Lee", NationalID: "1234567890123456"}
	}
	return domain.ExtractedRecord{}
}

func newRunner(solver Solver) *Runner {
	return NewRunner(Config{
		SearchURL:    searchURL,
		SecondaryURL: secondaryURL,
		Selectors:    testSelectors,
		Indicators: Indicators{
			Positive:           []string{"Success", "record found"},
			Negative:           []string{"not found", "invalid", "challenge incorrect", "expired", "failed"},
			SecondarySuccess:   []string{"successful", "registered"},
			AlternateURLMarker: "mobile",
			ProcessedMarker:    "processed",
		},
	}, solver, extractFunc(nameExtractor))
}

func TestRunOutcomes(t *testing.T) {
	tests := []struct {
		name       string
		setup      func(p *fakePortal, s *fakeSolver)
		wantStatus domain.ItemStatus
		wantDetail string
	}{
		{
			name:       "negative indicator",
			setup:      func(p *fakePortal, _ *fakeSolver) { p.resultContent = "<p>Record not found</p>" },
			wantStatus: domain.ItemStatusFailed,
			wantDetail: "not found",
		},
		{
			name:       "first negative in list order",
			setup:      func(p *fakePortal, _ *fakeSolver) { p.resultContent = "session expired, input invalid" },
			wantStatus: domain.ItemStatusFailed,
			wantDetail: "invalid",
		},
		{
			name:       "no indicator at all",
			setup:      func(p *fakePortal, _ *fakeSolver) { p.resultContent = "<p>Please wait</p>" },
			wantStatus: domain.ItemStatusFailed,
			wantDetail: "unknown",
		},
		{
			name:       "input missing",
			setup:      func(p *fakePortal, _ *fakeSolver) { delete(p.elements["search"], "#id-input") },
			wantStatus: domain.ItemStatusError,
			wantDetail: "input field not found",
		},
		{
			name:       "challenge missing",
			setup:      func(p *fakePortal, _ *fakeSolver) { delete(p.elements["search"], "#captcha") },
			wantStatus: domain.ItemStatusError,
			wantDetail: "challenge not found",
		},
		{
			name:       "challenge input missing",
			setup:      func(p *fakePortal, _ *fakeSolver) { delete(p.elements["search"], "#answer") },
			wantStatus: domain.ItemStatusError,
			wantDetail: "challenge input not found",
		},
		{
			name:       "solver gives up",
			setup:      func(_ *fakePortal, s *fakeSolver) { s.err = errors.New("vendor down") },
			wantStatus: domain.ItemStatusFailed,
			wantDetail: "challenge solving failed",
		},
		{
			name:       "navigation error",
			setup:      func(p *fakePortal, _ *fakeSolver) { p.navErr = errors.New("connection refused") },
			wantStatus: domain.ItemStatusError,
			wantDetail: "connection refused",
		},
		{
			name:       "screenshot error",
			setup:      func(p *fakePortal, _ *fakeSolver) { p.shotErr = errors.New("element detached") },
			wantStatus: domain.ItemStatusError,
			wantDetail: "element detached",
		},
		{
			name:       "success marker without fields",
			setup:      func(p *fakePortal, _ *fakeSolver) { p.resultContent = "<p>Success</p>" },
			wantStatus: domain.ItemStatusPartial,
			wantDetail: "success indicator present but no fields extracted",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := newFakePortal()
			s := &fakeSolver{answer: "x7k2p"}
			tt.setup(p, s)

			res := newRunner(s).Run(context.Background(), p, "12345678901")
			if res.Status != tt.wantStatus {
				t.Errorf("status = %s, want %s", res.Status, tt.wantStatus)
			}
			if res.Detail != tt.wantDetail {
				t.Errorf("detail = %q, want %q", res.Detail, tt.wantDetail)
			}
			if res.Identifier != "12345678901" {
				t.Errorf("identifier = %q", res.Identifier)
			}
		})
	}
}

func TestRunPartialCarriesIdentifierOnly(t *testing.T) {
	p := newFakePortal()
	p.resultContent = "<p>Success</p>"

	res := newRunner(&fakeSolver{answer: "a"}).Run(context.Background(), p, "12345678901")
	if res.Record == nil || res.Record.Identifier != "12345678901" || !res.Record.IsEmpty() {
		t.Fatalf("unexpected record: %+v", res.Record)
	}
	if res.Secondary != nil {
		t.Error("partial result must not reach the secondary portal")
	}
}

func TestRunSuccess(t *testing.T) {
	p := newFakePortal()
	p.resultContent = "<p>Record found</p><p>Name: Ana Lee</p>"
	s := &fakeSolver{answer: "x7k2p"}

	res := newRunner(s).Run(context.Background(), p, "12345678901")
	if res.Status != domain.ItemStatusSuccess {
		t.Fatalf("status = %s (%s)", res.Status, res.Detail)
	}
	if res.Record == nil || res.Record.Name != "Ana Lee" || res.Record.Identifier != "12345678901" {
		t.Errorf("unexpected record: %+v", res.Record)
	}
	if res.Secondary == nil || res.Secondary.Outcome != domain.SecondarySuccess {
		t.Fatalf("unexpected secondary: %+v", res.Secondary)
	}
	if res.Detail == "" {
		t.Error("detail must not be empty")
	}
	if p.filled["#answer"] != "x7k2p" || p.filled["#id-input"] != "12345678901" {
		t.Errorf("search form not filled: %v", p.filled)
	}
	if p.filled["#s-name"] != "Ana Lee" || p.filled["#s-nid"] != "1234567890123456" || p.filled["#s-id"] != "12345678901" {
		t.Errorf("secondary form not filled: %v", p.filled)
	}
	if _, ok := p.filled["#s-dob"]; ok {
		t.Error("empty birth date must not be filled")
	}
	if s.calls != 1 {
		t.Errorf("solver calls = %d", s.calls)
	}
}

func TestRunSuccessIsFailOpen(t *testing.T) {
	tests := []struct {
		name    string
		content string
	}{
		{name: "positive beside negative", content: "<p>Success</p><p>Ana Lee</p><p>previous attempt failed</p>"},
		{name: "national id pattern", content: "<td>Ana Lee</td><td>1234567890123456</td><td>expired</td>"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := newFakePortal()
			p.resultContent = tt.content
			res := newRunner(&fakeSolver{answer: "a"}).Run(context.Background(), p, "12345678901")
			if res.Status != domain.ItemStatusSuccess {
				t.Errorf("status = %s (%s)", res.Status, res.Detail)
			}
		})
	}
}

func TestRunKeyboardFallback(t *testing.T) {
	p := newFakePortal()
	p.resultContent = "<p>Record found</p><p>Ana Lee</p>"
	p.clickErr = errors.New("not clickable")

	res := newRunner(&fakeSolver{answer: "a"}).Run(context.Background(), p, "12345678901")
	if res.Status != domain.ItemStatusSuccess {
		t.Fatalf("status = %s (%s)", res.Status, res.Detail)
	}
	if p.entered != 2 {
		t.Errorf("expected keyboard submit on both portals, got %d", p.entered)
	}
}

func TestSecondaryOutcomes(t *testing.T) {
	tests := []struct {
		name  string
		setup func(p *fakePortal)
		want  domain.SecondaryOutcome
	}{
		{
			name:  "alternate flow url",
			setup: func(p *fakePortal) { p.confirmURL = "https://second.test/Mobile/verify" },
			want:  domain.SecondaryRedirected,
		},
		{
			name:  "processed marker",
			setup: func(p *fakePortal) { p.confirmContent = "<p>Request processed</p>" },
			want:  domain.SecondaryProcessed,
		},
		{
			name:  "nothing recognizable",
			setup: func(p *fakePortal) { p.confirmContent = "<p>Hello</p>" },
			want:  domain.SecondaryUnknown,
		},
		{
			name:  "secondary navigation error",
			setup: func(p *fakePortal) { p.secondaryErr = errors.New("timeout") },
			want:  domain.SecondaryUnknown,
		},
		{
			name:  "secondary form missing",
			setup: func(p *fakePortal) { p.elements["secondary"] = map[string]bool{} },
			want:  domain.SecondaryUnknown,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := newFakePortal()
			p.resultContent = "<p>Record found</p><p>Ana Lee</p>"
			tt.setup(p)

			res := newRunner(&fakeSolver{answer: "a"}).Run(context.Background(), p, "12345678901")
			if res.Status != domain.ItemStatusSuccess {
				t.Fatalf("secondary problems must not downgrade the item, got %s", res.Status)
			}
			if res.Secondary == nil || res.Secondary.Outcome != tt.want {
				t.Fatalf("secondary = %+v, want %s", res.Secondary, tt.want)
			}
			if res.Secondary.Detail == "" {
				t.Error("secondary detail must not be empty")
			}
		})
	}
}

func TestRunCancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	res := newRunner(&fakeSolver{}).Run(ctx, newFakePortal(), "12345678901")
	if res.Status != domain.ItemStatusError || res.Detail == "" {
		t.Errorf("unexpected result: %+v", res)
	}
}

func TestFirstOf(t *testing.T) {
	var order []string
	err := firstOf(context.Background(),
		action{"a", func(context.Context) error { order = append(order, "a"); return errors.New("no") }},
		action{"b", func(context.Context) error { order = append(order, "b"); return nil }},
		action{"c", func(context.Context) error { order = append(order, "c"); return nil }},
	)
	if err != nil || strings.Join(order, ",") != "a,b" {
		t.Errorf("firstOf ran %v, err %v", order, err)
	}

	err = firstOf(context.Background(), action{"a", func(context.Context) error { return errors.New("boom") }})
	if err == nil || !strings.Contains(err.Error(), "boom") {
		t.Errorf("expected joined error, got %v", err)
	}
}
