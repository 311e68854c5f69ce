package httptransport_test

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"build-orchestrator/internal/entity"
	"build-orchestrator/internal/service"
	httptransport "build-orchestrator/internal/transport/http"
)

// ---- fakes ----

type statesStub struct {
	states map[string]*entity.JobState
}

func (s *statesStub) Load(ctx context.Context, jobID string) (*entity.JobState, error) {
	st, ok := s.states[jobID]
	if !ok {
		return nil, entity.ErrNotFound
	}
	return st, nil
}

type deadLettersStub struct {
	records map[string][]entity.DeadLetterRecord
}

func (d *deadLettersStub) ListByJob(ctx context.Context, jobID string) ([]entity.DeadLetterRecord, error) {
	return d.records[jobID], nil
}

type approverStub struct {
	approved []string
	err      error
}

func (a *approverStub) Approve(ctx context.Context, jobID string) error {
	if a.err != nil {
		return a.err
	}
	a.approved = append(a.approved, jobID)
	return nil
}

type queueStub struct {
	bodies     [][]byte
	priorities []entity.Priority
	err        error
}

func (q *queueStub) Enqueue(ctx context.Context, body []byte, priority entity.Priority) (string, error) {
	if q.err != nil {
		return "", q.err
	}
	q.bodies = append(q.bodies, body)
	q.priorities = append(q.priorities, priority)
	return fmt.Sprintf("msg-%d", len(q.bodies)), nil
}

// ---- helpers ----

const secret = "test-secret"

type fixture struct {
	states      *statesStub
	deadLetters *deadLettersStub
	approver    *approverStub
	queue       *queueStub
	router      http.Handler
}

func newFixture() *fixture {
	f := &fixture{
		states:      &statesStub{states: map[string]*entity.JobState{}},
		deadLetters: &deadLettersStub{records: map[string][]entity.DeadLetterRecord{}},
		approver:    &approverStub{},
		queue:       &queueStub{},
	}
	svc := service.NewBuildService(f.states, f.deadLetters, f.approver, f.queue)
	f.router = httptransport.Routes(httptransport.NewHandler(svc, nil), []byte(secret))
	return f
}

func (f *fixture) do(req *http.Request) *httptest.ResponseRecorder {
	rr := httptest.NewRecorder()
	f.router.ServeHTTP(rr, req)
	return rr
}

func token(t *testing.T, key, sub string) string {
	t.Helper()
	tok := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub": sub,
		"exp": time.Now().Add(time.Hour).Unix(),
	})
	s, err := tok.SignedString([]byte(key))
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}
	return s
}

func approveRequest(t *testing.T, id, bearer string) *http.Request {
	req := httptest.NewRequest(http.MethodPost, "/jobs/"+id+"/approve", nil)
	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	}
	return req
}

const validJob = `{
	"jobId": "job-1",
	"specId": "spec-1",
	"repoOwner": "acme",
	"repoName": "widgets",
	"specMarkdown": "# Widgets",
	"priority": "high",
	"callbackUrl": "https://hooks.example.com/build",
	"budget": {"maxTokens": 100000, "maxDollars": 5}
}`

// ---- tests ----

func TestHTTP_Health(t *testing.T) {
	f := newFixture()
	rr := f.do(httptest.NewRequest(http.MethodGet, "/health", nil))
	if rr.Code != http.StatusOK || rr.Body.String() != "ok" {
		t.Fatalf("expected 200 ok, got %d %q", rr.Code, rr.Body.String())
	}
}

func TestHTTP_SubmitJob_202(t *testing.T) {
	f := newFixture()

	req := httptest.NewRequest(http.MethodPost, "/jobs", bytes.NewBufferString(validJob))
	req.Header.Set("Content-Type", "application/json")
	rr := f.do(req)

	if rr.Code != http.StatusAccepted {
		t.Fatalf("expected 202, got %d, body=%s", rr.Code, rr.Body.String())
	}

	var resp struct {
		MessageID string `json:"messageId"`
		JobID     string `json:"jobId"`
	}
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("invalid json response: %v, body=%s", err, rr.Body.String())
	}
	if resp.MessageID != "msg-1" || resp.JobID != "job-1" {
		t.Fatalf("unexpected response %+v", resp)
	}

	if len(f.queue.priorities) != 1 || f.queue.priorities[0] != entity.PriorityHigh {
		t.Fatalf("expected one high priority message, got %v", f.queue.priorities)
	}
	var queued entity.BuildJob
	if err := json.Unmarshal(f.queue.bodies[0], &queued); err != nil {
		t.Fatalf("queued body is not a job: %v", err)
	}
	if queued.JobID != "job-1" || queued.RepoName != "widgets" {
		t.Fatalf("unexpected queued job %+v", queued)
	}
}

func TestHTTP_SubmitJob_400(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"invalid json", `{`},
		{"missing ids", `{"repoOwner":"acme","repoName":"widgets","specMarkdown":"x","callbackUrl":"https://a.example"}`},
		{"bad callback", strings.Replace(validJob, "https://hooks.example.com/build", "ftp://hooks", 1)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture()
			rr := f.do(httptest.NewRequest(http.MethodPost, "/jobs", bytes.NewBufferString(tt.body)))
			if rr.Code != http.StatusBadRequest {
				t.Fatalf("expected 400, got %d, body=%s", rr.Code, rr.Body.String())
			}
			if len(f.queue.bodies) != 0 {
				t.Fatalf("expected nothing enqueued")
			}
		})
	}
}

func TestHTTP_SubmitJob_500OnQueueError(t *testing.T) {
	f := newFixture()
	f.queue.err = fmt.Errorf("redis down")

	rr := f.do(httptest.NewRequest(http.MethodPost, "/jobs", bytes.NewBufferString(validJob)))
	if rr.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500, got %d", rr.Code)
	}
	if strings.Contains(rr.Body.String(), "redis") {
		t.Fatalf("internal error leaked: %s", rr.Body.String())
	}
}

func TestHTTP_GetJob(t *testing.T) {
	f := newFixture()
	f.states.states["job-1"] = &entity.JobState{
		JobID:          "job-1",
		Status:         entity.StatusComplete,
		ResultRef:      "https://github.com/acme/widgets/pull/7",
		CompletedItems: []string{"a.go"},
	}

	rr := f.do(httptest.NewRequest(http.MethodGet, "/jobs/job-1", nil))
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	var st entity.JobState
	if err := json.Unmarshal(rr.Body.Bytes(), &st); err != nil {
		t.Fatalf("invalid json: %v", err)
	}
	if st.Status != entity.StatusComplete || st.ResultRef == "" {
		t.Fatalf("unexpected state %+v", st)
	}

	rr = f.do(httptest.NewRequest(http.MethodGet, "/jobs/missing", nil))
	if rr.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rr.Code)
	}
}

func TestHTTP_DeadLetters(t *testing.T) {
	f := newFixture()
	f.deadLetters.records["job-1"] = []entity.DeadLetterRecord{{
		Job:      entity.BuildJob{JobID: "job-1"},
		Error:    "boom",
		Attempts: 3,
		Category: entity.CategoryTransient,
	}}

	rr := f.do(httptest.NewRequest(http.MethodGet, "/jobs/job-1/dead-letters", nil))
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	var records []entity.DeadLetterRecord
	if err := json.Unmarshal(rr.Body.Bytes(), &records); err != nil {
		t.Fatalf("invalid json: %v", err)
	}
	if len(records) != 1 || records[0].Attempts != 3 {
		t.Fatalf("unexpected records %+v", records)
	}

	rr = f.do(httptest.NewRequest(http.MethodGet, "/jobs/other/dead-letters", nil))
	if strings.TrimSpace(rr.Body.String()) != "[]" {
		t.Fatalf("expected empty array, got %s", rr.Body.String())
	}
}

func TestHTTP_Approve(t *testing.T) {
	f := newFixture()

	rr := f.do(approveRequest(t, "job-1", token(t, secret, "alice")))
	if rr.Code != http.StatusNoContent {
		t.Fatalf("expected 204, got %d, body=%s", rr.Code, rr.Body.String())
	}
	if len(f.approver.approved) != 1 || f.approver.approved[0] != "job-1" {
		t.Fatalf("expected job-1 approved, got %v", f.approver.approved)
	}
}

func TestHTTP_Approve_Unauthorized(t *testing.T) {
	tests := []struct {
		name   string
		bearer func(t *testing.T) string
	}{
		{"missing token", func(t *testing.T) string { return "" }},
		{"wrong key", func(t *testing.T) string { return token(t, "other", "alice") }},
		{"no subject", func(t *testing.T) string { return token(t, secret, "") }},
		{"garbage", func(t *testing.T) string { return "not-a-jwt" }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture()
			rr := f.do(approveRequest(t, "job-1", tt.bearer(t)))
			if rr.Code != http.StatusUnauthorized {
				t.Fatalf("expected 401, got %d", rr.Code)
			}
			if len(f.approver.approved) != 0 {
				t.Fatalf("expected no approval")
			}
		})
	}
}

func TestHTTP_Approve_Errors(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"not found", entity.ErrNotFound, http.StatusNotFound},
		{"not paused", fmt.Errorf("%w: status is running", entity.ErrNotPaused), http.StatusConflict},
		{"store error", fmt.Errorf("load state: connection reset"), http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture()
			f.approver.err = tt.err
			rr := f.do(approveRequest(t, "job-1", token(t, secret, "alice")))
			if rr.Code != tt.want {
				t.Fatalf("expected %d, got %d", tt.want, rr.Code)
			}
		})
	}
}
