package httpapi

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/go-github/v68/github"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/agentrelay/relay/internal/evidence"
	"github.com/agentrelay/relay/internal/forge"
	"github.com/agentrelay/relay/internal/labels"
	"github.com/agentrelay/relay/internal/store"
)

const testRelayKey = "test-shared-secret"

// fakeForgeClient implements forge.Client in memory so handler tests can
// script PR heads, issue metadata, and comment state without a live server.
type fakeForgeClient struct {
	prHeads map[int]string
	prErr   error
	issue   *github.Issue

	comments map[int64]string
	nextID   int64

	putLabelsCalls [][]string
	createCalls    int
	updateCalls    int
}

func newFakeForgeClient() *fakeForgeClient {
	return &fakeForgeClient{
		prHeads:  map[int]string{},
		issue:    &github.Issue{Number: github.Ptr(42)},
		comments: map[int64]string{},
		nextID:   1000,
	}
}

func (f *fakeForgeClient) PRHeadSHA(_ context.Context, _ string, pr int) (string, error) {
	if f.prErr != nil {
		return "", f.prErr
	}
	head, ok := f.prHeads[pr]
	if !ok {
		return "", &forge.ForgeError{Status: 404, Body: "pr not found"}
	}
	return head, nil
}

func (f *fakeForgeClient) GetIssue(context.Context, string, int) (*github.Issue, error) {
	return f.issue, nil
}

func (f *fakeForgeClient) ListComments(_ context.Context, _ string, _ int, page int) ([]*github.IssueComment, error) {
	if page > 1 {
		return nil, nil
	}
	out := make([]*github.IssueComment, 0, len(f.comments))
	for id, body := range f.comments {
		out = append(out, &github.IssueComment{ID: github.Ptr(id), Body: github.Ptr(body)})
	}
	return out, nil
}

func (f *fakeForgeClient) CreateComment(_ context.Context, _ string, _ int, body string) (*github.IssueComment, error) {
	f.createCalls++
	f.nextID++
	f.comments[f.nextID] = body
	return &github.IssueComment{ID: github.Ptr(f.nextID), Body: github.Ptr(body)}, nil
}

func (f *fakeForgeClient) UpdateComment(_ context.Context, _ string, commentID int64, body string) error {
	f.updateCalls++
	if _, ok := f.comments[commentID]; !ok {
		return &forge.ForgeError{Status: 404, Body: "comment not found"}
	}
	f.comments[commentID] = body
	return nil
}

func (f *fakeForgeClient) PutLabels(_ context.Context, _ string, _ int, next []string) error {
	f.putLabelsCalls = append(f.putLabelsCalls, next)
	return nil
}

func (f *fakeForgeClient) CloseIssue(context.Context, string, int) error {
	return nil
}

func issueWithLabels(names ...string) *github.Issue {
	ls := make([]*github.Label, 0, len(names))
	for _, n := range names {
		ls = append(ls, &github.Label{Name: github.Ptr(n)})
	}
	return &github.Issue{Number: github.Ptr(42), Labels: ls}
}

// memObjectStore backs the evidence service in handler tests.
type memObjectStore struct {
	objects map[string][]byte
}

func (m *memObjectStore) Put(_ context.Context, key string, r io.Reader, _ int64, _ string, _ map[string]string) error {
	data, err := io.ReadAll(r)
	if err != nil {
		return err
	}
	m.objects[key] = data
	return nil
}

func (m *memObjectStore) Get(_ context.Context, key string) (io.ReadCloser, error) {
	data, ok := m.objects[key]
	if !ok {
		return nil, evidence.ErrNotFound
	}
	return io.NopCloser(bytes.NewReader(data)), nil
}

const testRulesJSON = `{
	"qa.result_submitted": {
		"PASS": {"add": ["status:verified"], "remove": ["status:qa"]},
		"FAIL": {"add": ["status:rejected"], "remove": ["status:qa"]}
	}
}`

type testEnv struct {
	server  *Server
	router  http.Handler
	forge   *fakeForgeClient
	store   *store.Store
	objects *memObjectStore
	clock   time.Time
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	st, err := store.Open(filepath.Join(t.TempDir(), "relay.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	rules, err := labels.ParseRules([]byte(testRulesJSON))
	require.NoError(t, err)

	fc := newFakeForgeClient()
	objects := &memObjectStore{objects: map[string][]byte{}}

	env := &testEnv{
		forge:   fc,
		store:   st,
		objects: objects,
		clock:   time.Date(2026, 3, 1, 14, 30, 0, 0, time.UTC),
	}
	env.server = &Server{
		Store:          st,
		Evidence:       evidence.NewService(objects, st),
		Rules:          rules,
		RelayKey:       testRelayKey,
		V1PAT:          "test-pat",
		Logger:         zerolog.Nop(),
		NewForgeClient: func() forge.Client { return fc },
		now: func() time.Time {
			env.clock = env.clock.Add(time.Second)
			return env.clock
		},
	}
	env.router = env.server.Router()
	return env
}

func (env *testEnv) do(t *testing.T, method, path string, body []byte, authed bool) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	if authed {
		req.Header.Set(relayKeyHeader, testRelayKey)
	}
	rr := httptest.NewRecorder()
	env.router.ServeHTTP(rr, req)
	return rr
}

func (env *testEnv) postEvent(t *testing.T, body string) *httptest.ResponseRecorder {
	t.Helper()
	return env.do(t, http.MethodPost, "/v2/events", []byte(body), true)
}
