package app

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/timmy/portalflow/internal/config"
	"github.com/timmy/portalflow/internal/domain"
	"github.com/timmy/portalflow/internal/logger"
	"github.com/timmy/portalflow/internal/snapshot"
)

const (
	searchForm = `<form action="/result" method="post">
<input type="text" name="identifier"><img id="captcha_img" src="/captcha.png">
<input type="text" name="captcha"><button type="submit">Search</button></form>`
	foundPage = `<h3>Participant Name</h3><table>
<tr><td>Name</td><td>Jane Doe</td></tr><tr><td>NID</td><td>3201234567890123</td></tr>
</table><p>Record found</p>`
	registerForm = `<form action="/register/done" method="post">
<input name="name"><input name="national_id"><input name="identifier">
<button type="submit">Send</button></form>`
)

func newPortal(t *testing.T) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/login", func(w http.ResponseWriter, r *http.Request) {
		http.SetCookie(w, &http.Cookie{Name: "sid", Value: "s1", Path: "/"})
		fmt.Fprint(w, "<p>welcome</p>")
	})
	mux.HandleFunc("/search", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, searchForm)
	})
	mux.HandleFunc("/captcha.png", func(w http.ResponseWriter, r *http.Request) {
		if _, err := r.Cookie("sid"); err != nil {
			http.Error(w, "no session", http.StatusForbidden)
			return
		}
		w.Write([]byte("challenge-bytes"))
	})
	mux.HandleFunc("/result", func(w http.ResponseWriter, r *http.Request) {
		if r.PostFormValue("captcha") != "x7k2p" {
			fmt.Fprint(w, "<p>Challenge incorrect</p>")
			return
		}
		if r.PostFormValue("identifier") == "12345678901" {
			fmt.Fprint(w, foundPage)
			return
		}
		fmt.Fprint(w, "<p>Record not found</p>")
	})
	mux.HandleFunc("/register", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, registerForm)
	})
	mux.HandleFunc("/register/done", func(w http.ResponseWriter, r *http.Request) {
		if r.PostFormValue("national_id") == "3201234567890123" && r.PostFormValue("name") == "Jane Doe" {
			fmt.Fprint(w, "<p>Registration successful</p>")
			return
		}
		fmt.Fprint(w, "<p>Hello</p>")
	})
	mux.HandleFunc("/in.php", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, "OK|job-1")
	})
	mux.HandleFunc("/res.php", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, "OK|x7k2p")
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func testConfig(baseURL, snapshotPath string) *config.Config {
	cfg := &config.Config{}
	cfg.Queue.Capacity = 10
	cfg.Workers = config.WorkersConfig{Count: 1, PollWait: 10 * time.Millisecond}
	cfg.Browser = config.BrowserConfig{Driver: "http", Timeout: 5 * time.Second}
	cfg.Portal = config.PortalConfig{
		LoginURL:     baseURL + "/login",
		SearchURL:    baseURL + "/search",
		SecondaryURL: baseURL + "/register",
	}
	cfg.Selectors = config.SelectorsConfig{
		IdentifierInput: []string{`#identifier`, `input[name="identifier"]`},
		ChallengeImage:  []string{`#captcha_img`},
		ChallengeInput:  []string{`input[name="captcha"]`},
		SubmitButton:    []string{`button[type="submit"]`},
		Secondary: config.SecondarySelectorsConfig{
			Name:         []string{`input[name="name"]`},
			NationalID:   []string{`input[name="national_id"]`},
			Identifier:   []string{`input[name="identifier"]`},
			BirthDate:    []string{`input[name="birth_date"]`},
			SubmitButton: []string{`button[type="submit"]`},
		},
	}
	cfg.Indicators = config.IndicatorsConfig{
		Positive:           []string{"record found"},
		Negative:           []string{"not found", "challenge incorrect"},
		SecondarySuccess:   []string{"successful"},
		AlternateURLMarker: "mobile",
		ProcessedMarker:    "processed",
	}
	cfg.Solver = config.SolverConfig{
		BaseURL:      baseURL,
		APIKey:       "k",
		MaxAttempts:  2,
		PollInterval: time.Millisecond,
		MaxPolls:     3,
		Timeout:      5 * time.Second,
	}
	cfg.Snapshot = config.SnapshotConfig{Path: snapshotPath, Every: 1}
	return cfg
}

func TestEndToEnd(t *testing.T) {
	srv := newPortal(t)
	snapPath := filepath.Join(t.TempDir(), "results.json")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	a, err := New(ctx, testConfig(srv.URL, snapPath), logger.GetDefault())
	require.NoError(t, err)

	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = a.Pool.Run(ctx)
	}()
	defer func() {
		cancel()
		<-done
	}()

	id, rejected, err := a.Registry.Submit("tester", []string{"123-456-789-01", "0000 0000 000", "bad"})
	require.NoError(t, err)
	assert.Equal(t, []string{"bad"}, rejected)

	var task domain.Task
	require.Eventually(t, func() bool {
		task, err = a.Registry.Get(id)
		return err == nil && task.Status.IsTerminal()
	}, 10*time.Second, 10*time.Millisecond)

	require.Equal(t, domain.TaskStatusCompleted, task.Status)
	require.Len(t, task.Results, 2)
	assert.Equal(t, 1, task.Succeeded)
	assert.Equal(t, 1, task.Failed)

	ok := task.Results[0]
	require.Equal(t, domain.ItemStatusSuccess, ok.Status, ok.Detail)
	require.NotNil(t, ok.Record)
	assert.Equal(t, "Jane Doe", ok.Record.Name)
	assert.Equal(t, "3201234567890123", ok.Record.NationalID)
	assert.Equal(t, "12345678901", ok.Record.Identifier)
	require.NotNil(t, ok.Secondary)
	assert.Equal(t, domain.SecondarySuccess, ok.Secondary.Outcome)

	miss := task.Results[1]
	assert.Equal(t, domain.ItemStatusFailed, miss.Status)
	assert.Equal(t, "not found", miss.Detail)

	require.NoError(t, a.Snapshots.Flush(ctx))
	data, err := os.ReadFile(snapPath)
	require.NoError(t, err)
	var doc snapshot.Document
	require.NoError(t, json.Unmarshal(data, &doc))
	assert.Equal(t, 2, doc.Metadata.TotalProcessed)
	assert.Equal(t, 1, doc.Metadata.Successful)
}

func TestNewRejectsUnknownDriver(t *testing.T) {
	cfg := testConfig("http://localhost", filepath.Join(t.TempDir(), "r.json"))
	cfg.Browser.Driver = "lynx"
	_, err := New(context.Background(), cfg, logger.GetDefault())
	assert.Error(t, err)
}
