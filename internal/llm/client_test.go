package llm

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

type recordedRequest struct {
	auth string
	body chatRequest
}

func newTestServer(t *testing.T, status int, content string) (*httptest.Server, *[]recordedRequest) {
	t.Helper()

	var mu sync.Mutex
	requests := make([]recordedRequest, 0, 2)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/chat/completions" {
			t.Errorf("unexpected path: %s", r.URL.Path)
		}
		var req chatRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("decode request: %v", err)
		}
		mu.Lock()
		requests = append(requests, recordedRequest{auth: r.Header.Get("Authorization"), body: req})
		mu.Unlock()

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		if status >= 300 {
			_, _ = w.Write([]byte(`{"error":{"message":"rate limited"}}`))
			return
		}
		_ = json.NewEncoder(w).Encode(map[string]any{
			"choices": []map[string]any{{"message": map[string]any{"content": content}}},
		})
	}))
	t.Cleanup(srv.Close)
	return srv, &requests
}

func newTestClient(endpoint string) *Client {
	return NewClient(Options{
		Endpoint:          endpoint + "/v1",
		APIKey:            "secret",
		Model:             "classifier-model",
		ClusterModel:      "cluster-model",
		Timeout:           5 * time.Second,
		RequestsPerMinute: 6000,
	}, zerolog.Nop())
}

func TestClassifyBatch_ParsesFencedJudgments(t *testing.T) {
	t.Parallel()

	content := "```json\n[{\"index\":0,\"is_relevant\":true,\"summary\":\"Vandals hit a synagogue.\",\"category\":\"Hate Crimes & Violence\"}," +
		"{\"index\":1,\"is_relevant\":false,\"summary\":null,\"category\":null}]\n```"
	srv, requests := newTestServer(t, http.StatusOK, content)
	client := newTestClient(srv.URL)

	judgments, err := client.ClassifyBatch(context.Background(), []ArticleInput{
		{Index: 0, Title: "Synagogue vandalized", Source: "Daily", Content: "Graffiti was found."},
		{Index: 1, Title: "Bakery opens", Source: "Local"},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(judgments) != 2 {
		t.Fatalf("unexpected judgment count: got %d want 2", len(judgments))
	}
	if !judgments[0].IsRelevant || judgments[0].Category == nil || *judgments[0].Category != "Hate Crimes & Violence" {
		t.Fatalf("unexpected first judgment: %+v", judgments[0])
	}
	if judgments[1].IsRelevant || judgments[1].Summary != nil {
		t.Fatalf("unexpected second judgment: %+v", judgments[1])
	}

	if len(*requests) != 1 {
		t.Fatalf("unexpected request count: %d", len(*requests))
	}
	req := (*requests)[0]
	if req.auth != "Bearer secret" {
		t.Fatalf("unexpected auth header: %q", req.auth)
	}
	if req.body.Model != "classifier-model" {
		t.Fatalf("unexpected model: %q", req.body.Model)
	}
	if !strings.Contains(req.body.Messages[1].Content, "[1]\nTitle: Bakery opens") {
		t.Fatalf("prompt does not index articles:\n%s", req.body.Messages[1].Content)
	}
}

func TestClassifyBatch_MalformedOutputIsParseError(t *testing.T) {
	t.Parallel()

	cases := map[string]string{
		"not json":        "I think these are relevant.",
		"wrong shape":     `{"index":0,"is_relevant":true}`,
		"missing field":   `[{"index":0}]`,
		"trailing text":   `[{"index":0,"is_relevant":false}] thanks`,
		"negative index":  `[{"index":-1,"is_relevant":false}]`,
		"string relevant": `[{"index":0,"is_relevant":"yes"}]`,
	}
	for name, content := range cases {
		t.Run(name, func(t *testing.T) {
			t.Parallel()

			srv, _ := newTestServer(t, http.StatusOK, content)
			_, err := newTestClient(srv.URL).ClassifyBatch(context.Background(), []ArticleInput{{Index: 0, Title: "x"}})
			if !IsParseError(err) {
				t.Fatalf("expected parse error, got %v", err)
			}
		})
	}
}

func TestClassifyBatch_StatusErrorIsNotParseError(t *testing.T) {
	t.Parallel()

	srv, _ := newTestServer(t, http.StatusTooManyRequests, "")
	_, err := newTestClient(srv.URL).ClassifyBatch(context.Background(), []ArticleInput{{Index: 0, Title: "x"}})
	if err == nil || IsParseError(err) {
		t.Fatalf("expected transport error, got %v", err)
	}
	if !strings.Contains(err.Error(), "rate limited") {
		t.Fatalf("expected endpoint message in error, got %v", err)
	}
}

func TestGroupStories_AcceptsNumericAndStringIDs(t *testing.T) {
	t.Parallel()

	content := `[{"cluster_id":1,"primary_article_id":12,"related_article_ids":["14",15],"cluster_headline":" Synagogue attack in Ohio "},` +
		`{"cluster_id":"2","primary_article_id":"16","related_article_ids":[],"cluster_headline":"Lone story"}]`
	srv, requests := newTestServer(t, http.StatusOK, content)

	groups, err := newTestClient(srv.URL).GroupStories(context.Background(), "Hate Crimes & Violence", []StoryMember{
		{ID: "12", Title: "a"}, {ID: "14", Title: "b"}, {ID: "15", Title: "c"}, {ID: "16", Title: "d"},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(groups) != 2 {
		t.Fatalf("unexpected group count: %d", len(groups))
	}
	if groups[0].PrimaryID != "12" || len(groups[0].RelatedIDs) != 2 || groups[0].RelatedIDs[1] != "15" {
		t.Fatalf("unexpected first group: %+v", groups[0])
	}
	if groups[0].Headline != "Synagogue attack in Ohio" {
		t.Fatalf("unexpected headline: %q", groups[0].Headline)
	}
	if (*requests)[0].body.Model != "cluster-model" {
		t.Fatalf("unexpected cluster model: %q", (*requests)[0].body.Model)
	}
}

func TestSummarizeCategory(t *testing.T) {
	t.Parallel()

	srv, _ := newTestServer(t, http.StatusOK, `["First development.", " Second development. "]`)
	bullets, err := newTestClient(srv.URL).SummarizeCategory(context.Background(), "International", []SummaryInput{
		{Title: "a", Source: "s", Summary: "x"},
		{Title: "b", Source: "s", Summary: "y"},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(bullets) != 2 || bullets[1] != "Second development." {
		t.Fatalf("unexpected bullets: %q", bullets)
	}
}

func TestComplete_RespectsCanceledContext(t *testing.T) {
	t.Parallel()

	srv, _ := newTestServer(t, http.StatusOK, "[]")
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := newTestClient(srv.URL).ClassifyBatch(ctx, []ArticleInput{{Index: 0, Title: "x"}})
	if err == nil || !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context canceled, got %v", err)
	}
}

func TestStripFences(t *testing.T) {
	t.Parallel()

	cases := map[string]string{
		"```json\n[1,2]\n```": "[1,2]",
		"```\n{}\n```":        "{}",
		"  [3]  ":             "[3]",
		"```json [4] ```":     "[4]",
	}
	for in, want := range cases {
		if got := StripFences(in); got != want {
			t.Fatalf("unexpected strip of %q: got %q want %q", in, got, want)
		}
	}
}

func TestChatCompletionsURL(t *testing.T) {
	t.Parallel()

	cases := []struct {
		in   string
		want string
	}{
		{in: "", want: "https://api.openai.com/v1/chat/completions"},
		{in: "http://127.0.0.1:8845/v1", want: "http://127.0.0.1:8845/v1/chat/completions"},
		{in: "http://127.0.0.1:8845/v1/", want: "http://127.0.0.1:8845/v1/chat/completions"},
		{in: "localhost:9000", want: "http://localhost:9000/v1/chat/completions"},
		{in: "https://llm.internal/v1/chat/completions", want: "https://llm.internal/v1/chat/completions"},
	}
	for _, tc := range cases {
		if got := chatCompletionsURL(tc.in); got != tc.want {
			t.Fatalf("unexpected url for %q: got %q want %q", tc.in, got, tc.want)
		}
	}
}
