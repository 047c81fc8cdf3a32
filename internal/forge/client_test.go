package forge

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"

	"github.com/google/go-github/v68/github"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const baseURLPath = "/api-v3"

// setup creates a test HTTP server and a Client configured to talk to it.
// Handlers registered on the returned mux receive requests with baseURLPath
// stripped.
func setup(t *testing.T) (Client, *http.ServeMux) {
	t.Helper()

	mux := http.NewServeMux()

	apiHandler := http.NewServeMux()
	apiHandler.Handle(baseURLPath+"/", http.StripPrefix(baseURLPath, mux))

	server := httptest.NewServer(apiHandler)
	t.Cleanup(server.Close)

	ghClient := github.NewClient(nil)
	u, _ := url.Parse(server.URL + baseURLPath + "/")
	ghClient.BaseURL = u

	return NewClientWithGitHub(ghClient), mux
}

func TestPRHeadSHA(t *testing.T) {
	client, mux := setup(t)

	mux.HandleFunc("/repos/acme/web/pulls/7", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodGet, r.Method)
		_, _ = fmt.Fprint(w, `{"number":7,"head":{"sha":"ABC1234DEF"}}`)
	})

	sha, err := client.PRHeadSHA(context.Background(), "acme/web", 7)
	require.NoError(t, err)
	assert.Equal(t, "abc1234def", sha, "head SHA must be lowercased")
}

func TestPRHeadSHA_NotFoundIsForgeError(t *testing.T) {
	client, mux := setup(t)

	mux.HandleFunc("/repos/acme/web/pulls/404", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		_, _ = fmt.Fprint(w, `{"message":"Not Found"}`)
	})

	_, err := client.PRHeadSHA(context.Background(), "acme/web", 404)
	var fe *ForgeError
	require.ErrorAs(t, err, &fe)
	assert.Equal(t, http.StatusNotFound, fe.Status)
}

func TestGetIssue(t *testing.T) {
	client, mux := setup(t)

	mux.HandleFunc("/repos/acme/web/issues/42", func(w http.ResponseWriter, _ *http.Request) {
		_, _ = fmt.Fprint(w, `{"number":42,"labels":[{"name":"status:qa"}],"assignees":[{"login":"octocat"}]}`)
	})

	issue, err := client.GetIssue(context.Background(), "acme/web", 42)
	require.NoError(t, err)
	assert.Equal(t, 42, issue.GetNumber())
	require.Len(t, issue.Labels, 1)
	assert.Equal(t, "status:qa", issue.Labels[0].GetName())
}

func TestListComments_RequestsHundredPerPage(t *testing.T) {
	client, mux := setup(t)

	mux.HandleFunc("/repos/acme/web/issues/42/comments", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "100", r.URL.Query().Get("per_page"))
		assert.Equal(t, "2", r.URL.Query().Get("page"))
		_, _ = fmt.Fprint(w, `[{"id":1,"body":"hello"}]`)
	})

	comments, err := client.ListComments(context.Background(), "acme/web", 42, 2)
	require.NoError(t, err)
	require.Len(t, comments, 1)
	assert.Equal(t, "hello", comments[0].GetBody())
}

func TestCreateComment(t *testing.T) {
	client, mux := setup(t)

	mux.HandleFunc("/repos/acme/web/issues/42/comments", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)

		var body map[string]string
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "status body", body["body"])

		w.WriteHeader(http.StatusCreated)
		_, _ = fmt.Fprint(w, `{"id":1001,"body":"status body"}`)
	})

	comment, err := client.CreateComment(context.Background(), "acme/web", 42, "status body")
	require.NoError(t, err)
	assert.Equal(t, int64(1001), comment.GetID())
}

func TestUpdateComment(t *testing.T) {
	client, mux := setup(t)

	mux.HandleFunc("/repos/acme/web/issues/comments/1001", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPatch, r.Method)
		_, _ = fmt.Fprint(w, `{"id":1001}`)
	})

	require.NoError(t, client.UpdateComment(context.Background(), "acme/web", 1001, "updated"))
}

func TestPutLabels_ReplacesFullSet(t *testing.T) {
	client, mux := setup(t)

	mux.HandleFunc("/repos/acme/web/issues/42/labels", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPut, r.Method)

		var body []string
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, []string{"prio:P1", "status:verified"}, body)

		_, _ = fmt.Fprint(w, `[{"name":"prio:P1"},{"name":"status:verified"}]`)
	})

	require.NoError(t, client.PutLabels(context.Background(), "acme/web", 42, []string{"prio:P1", "status:verified"}))
}

func TestPutLabels_NilBecomesEmptySet(t *testing.T) {
	client, mux := setup(t)

	mux.HandleFunc("/repos/acme/web/issues/42/labels", func(w http.ResponseWriter, r *http.Request) {
		var body []string
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Empty(t, body)
		_, _ = fmt.Fprint(w, `[]`)
	})

	require.NoError(t, client.PutLabels(context.Background(), "acme/web", 42, nil))
}

func TestCloseIssue(t *testing.T) {
	client, mux := setup(t)

	mux.HandleFunc("/repos/acme/web/issues/42", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPatch, r.Method)

		var body map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "closed", body["state"])

		_, _ = fmt.Fprint(w, `{"number":42,"state":"closed"}`)
	})

	require.NoError(t, client.CloseIssue(context.Background(), "acme/web", 42))
}
