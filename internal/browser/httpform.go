package browser

import (
	"bytes"
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"net/http/cookiejar"
	"net/url"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/go-resty/resty/v2"
)

// HTTPLauncher opens cookie-jar sessions for portals that render server side.
type HTTPLauncher struct {
	cfg Config
}

// Open creates a session with its own cookie jar.
func (l *HTTPLauncher) Open(ctx context.Context) (Driver, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	jar, err := cookiejar.New(nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create cookie jar: %w", err)
	}
	client := resty.New().
		SetCookieJar(jar).
		SetTimeout(l.cfg.Timeout)
	if l.cfg.UserAgent != "" {
		client.SetHeader("User-Agent", l.cfg.UserAgent)
	}
	return &formSession{client: client, values: make(map[string]string)}, nil
}

type formSession struct {
	client *resty.Client
	url    *url.URL
	body   string
	doc    *goquery.Document
	// values typed into named fields since the last page load
	values map[string]string
	active *goquery.Selection
}

func (s *formSession) Navigate(ctx context.Context, raw string) error {
	resp, err := s.client.R().SetContext(ctx).Get(raw)
	if err != nil {
		return fmt.Errorf("navigate %s: %w", raw, err)
	}
	return s.load(resp)
}

func (s *formSession) load(resp *resty.Response) error {
	if resp.IsError() {
		return fmt.Errorf("unexpected status %d from %s", resp.StatusCode(), resp.Request.URL)
	}
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(resp.Body()))
	if err != nil {
		return fmt.Errorf("parse page: %w", err)
	}
	s.doc = doc
	s.body = resp.String()
	s.url = resp.RawResponse.Request.URL
	s.values = make(map[string]string)
	s.active = nil
	return nil
}

func (s *formSession) Find(ctx context.Context, candidates []string) (Target, error) {
	if err := ctx.Err(); err != nil {
		return Target{}, err
	}
	if s.doc == nil {
		return Target{}, ErrNoMatch
	}
	for _, sel := range candidates {
		if s.doc.Find(sel).Length() > 0 {
			return Target{Selector: sel}, nil
		}
	}
	return Target{}, ErrNoMatch
}

func (s *formSession) element(t Target) (*goquery.Selection, error) {
	if s.doc == nil {
		return nil, errors.New("no page loaded")
	}
	sel := s.doc.Find(t.Selector).First()
	if sel.Length() == 0 {
		return nil, fmt.Errorf("%w: %s", ErrNoMatch, t.Selector)
	}
	return sel, nil
}

func (s *formSession) Fill(_ context.Context, t Target, value string) error {
	el, err := s.element(t)
	if err != nil {
		return err
	}
	name, ok := el.Attr("name")
	if !ok || name == "" {
		return fmt.Errorf("field %s has no name", t.Selector)
	}
	s.values[name] = value
	s.active = el
	return nil
}

func (s *formSession) Click(ctx context.Context, t Target) error {
	el, err := s.element(t)
	if err != nil {
		return err
	}
	form := el.Closest("form")
	if form.Length() == 0 {
		href, ok := el.Attr("href")
		if !ok {
			return fmt.Errorf("%s is neither a link nor inside a form", t.Selector)
		}
		return s.Navigate(ctx, s.resolve(href))
	}
	return s.submit(ctx, form, el)
}

// PressEnter submits the form holding the last filled field, or the first form on the page.
func (s *formSession) PressEnter(ctx context.Context) error {
	if s.doc == nil {
		return errors.New("no page loaded")
	}
	var form *goquery.Selection
	if s.active != nil {
		form = s.active.Closest("form")
	}
	if form == nil || form.Length() == 0 {
		form = s.doc.Find("form").First()
	}
	if form.Length() == 0 {
		return errors.New("no form to submit")
	}
	return s.submit(ctx, form, nil)
}

func (s *formSession) submit(ctx context.Context, form, submitter *goquery.Selection) error {
	values := url.Values{}
	form.Find("input, select, textarea").Each(func(_ int, f *goquery.Selection) {
		name, ok := f.Attr("name")
		if !ok || name == "" {
			return
		}
		if _, disabled := f.Attr("disabled"); disabled {
			return
		}
		switch goquery.NodeName(f) {
		case "textarea":
			values.Add(name, f.Text())
		case "select":
			opt := f.Find("option[selected]").First()
			if opt.Length() == 0 {
				opt = f.Find("option").First()
			}
			if v, ok := opt.Attr("value"); ok {
				values.Add(name, v)
			} else {
				values.Add(name, opt.Text())
			}
		default:
			typ := strings.ToLower(f.AttrOr("type", "text"))
			switch typ {
			case "submit", "button", "image", "reset", "file":
				return
			case "checkbox", "radio":
				if _, checked := f.Attr("checked"); !checked {
					return
				}
				values.Add(name, f.AttrOr("value", "on"))
			default:
				values.Add(name, f.AttrOr("value", ""))
			}
		}
	})
	for name, v := range s.values {
		values.Set(name, v)
	}
	if submitter != nil {
		if name, ok := submitter.Attr("name"); ok && name != "" {
			values.Set(name, submitter.AttrOr("value", ""))
		}
	}

	action := s.resolve(form.AttrOr("action", ""))
	req := s.client.R().SetContext(ctx)
	var (
		resp *resty.Response
		err  error
	)
	if strings.EqualFold(form.AttrOr("method", "get"), "post") {
		resp, err = req.SetFormDataFromValues(values).Post(action)
	} else {
		resp, err = req.SetQueryParamsFromValues(values).Get(action)
	}
	if err != nil {
		return fmt.Errorf("submit form to %s: %w", action, err)
	}
	return s.load(resp)
}

func (s *formSession) resolve(ref string) string {
	if s.url == nil {
		return ref
	}
	u, err := s.url.Parse(ref)
	if err != nil {
		return ref
	}
	return u.String()
}

// Screenshot returns the image behind an <img> element, fetched within the session.
func (s *formSession) Screenshot(ctx context.Context, t Target) ([]byte, error) {
	el, err := s.element(t)
	if err != nil {
		return nil, err
	}
	src, ok := el.Attr("src")
	if !ok || src == "" {
		return nil, fmt.Errorf("%s has no image source", t.Selector)
	}
	if strings.HasPrefix(src, "data:") {
		return decodeDataURL(src)
	}

	resp, err := s.client.R().SetContext(ctx).Get(s.resolve(src))
	if err != nil {
		return nil, fmt.Errorf("fetch image: %w", err)
	}
	if resp.IsError() {
		return nil, fmt.Errorf("fetch image: status %d", resp.StatusCode())
	}
	return resp.Body(), nil
}

func decodeDataURL(src string) ([]byte, error) {
	meta, data, ok := strings.Cut(strings.TrimPrefix(src, "data:"), ",")
	if !ok {
		return nil, errors.New("malformed data url")
	}
	if strings.HasSuffix(meta, ";base64") {
		return base64.StdEncoding.DecodeString(data)
	}
	unescaped, err := url.PathUnescape(data)
	if err != nil {
		return nil, err
	}
	return []byte(unescaped), nil
}

func (s *formSession) Content(context.Context) (string, error) {
	return s.body, nil
}

func (s *formSession) CurrentURL(context.Context) (string, error) {
	if s.url == nil {
		return "", nil
	}
	return s.url.String(), nil
}

func (s *formSession) Close() error {
	s.client.GetClient().CloseIdleConnections()
	return nil
}
