package metrics

import (
	"errors"
	"io"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func TestHandlerExposesRecordedMetrics(t *testing.T) {
	ObserveStage("classify", 2*time.Second, nil)
	ObserveStage("cluster", time.Second, errors.New("boom"))
	AddArticles("ingested", 3)
	AddArticles("ignored", 0)
	RecordRun("completed", 4, time.Unix(1772352000, 0))

	recorder := httptest.NewRecorder()
	Handler().ServeHTTP(recorder, httptest.NewRequest("GET", "/metrics", nil))
	body, err := io.ReadAll(recorder.Result().Body)
	if err != nil {
		t.Fatalf("read metrics body: %v", err)
	}

	for _, want := range []string{
		`newswatch_stage_duration_seconds_count{stage="classify",status="ok"}`,
		`newswatch_stage_duration_seconds_count{stage="cluster",status="error"}`,
		`newswatch_articles_total{outcome="ingested"} 3`,
		`newswatch_runs_total{status="completed"}`,
		`newswatch_remaining_unanalyzed 4`,
	} {
		if !strings.Contains(string(body), want) {
			t.Fatalf("metrics output missing %q", want)
		}
	}
	if strings.Contains(string(body), `outcome="ignored"`) {
		t.Fatalf("zero additions must not create a series")
	}
}
