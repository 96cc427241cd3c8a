package api

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/goccy/go-json"
	"github.com/google/uuid"
	"github.com/labstack/echo/v5"

	"github.com/samcharles93/kprof/internal/backend"
	"github.com/samcharles93/kprof/internal/kernel"
	"github.com/samcharles93/kprof/internal/logger"
	"github.com/samcharles93/kprof/internal/profiler"
	"github.com/samcharles93/kprof/internal/tensor"
	"github.com/samcharles93/kprof/internal/workload"
)

func tinySet(t *testing.T) *workload.Set {
	t.Helper()
	set, err := workload.NewSet(&workload.Workload{
		Name:        "tiny_gemm",
		Description: "tiny f32 gemm",
		Signature: kernel.Signature{Kind: kernel.KindGemm, A: tensor.F32, B: tensor.F32, E: tensor.F32,
			ALayout: kernel.Row, BLayout: kernel.Col, ELayout: kernel.Row},
		Problem: kernel.GemmProblem{M: 64, N: 64, K: 32},
	})
	if err != nil {
		t.Fatalf("workload set: %v", err)
	}
	return set
}

func newTestEcho(t *testing.T, opts ...Option) *echo.Echo {
	t.Helper()
	b, err := backend.Open(backend.Host)
	if err != nil {
		t.Fatalf("open host backend: %v", err)
	}
	t.Cleanup(func() { _ = b.Close() })

	opts = append([]Option{WithLogger(logger.Discard()), WithDefaults(Defaults{Warmup: 0, Repeat: 1})}, opts...)
	server := NewServer(b, tinySet(t), opts...)
	e := echo.New()
	server.Register(e)
	return e
}

func doJSON(t *testing.T, e *echo.Echo, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	return rec
}

func decodeBody[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	if err := json.Unmarshal(rec.Body.Bytes(), &out); err != nil {
		t.Fatalf("decode body %q: %v", rec.Body.String(), err)
	}
	return out
}

func TestListWorkloads(t *testing.T) {
	t.Parallel()

	e := newTestEcho(t)
	rec := doJSON(t, e, http.MethodGet, "/v1/workloads", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status: got %d body=%s", rec.Code, rec.Body.String())
	}
	list := decodeBody[WorkloadList](t, rec)
	if len(list.Data) != 1 || list.Data[0].Name != "tiny_gemm" {
		t.Fatalf("unexpected workloads: %+v", list.Data)
	}
	if list.Data[0].Flops != 2*64*64*32 {
		t.Fatalf("flops: got %d", list.Data[0].Flops)
	}
}

func TestListInstancesRegistersFamilies(t *testing.T) {
	t.Parallel()

	e := newTestEcho(t)
	rec := doJSON(t, e, http.MethodGet, "/v1/workloads/tiny_gemm/instances", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status: got %d body=%s", rec.Code, rec.Body.String())
	}
	list := decodeBody[InstanceList](t, rec)
	if len(list.Data) == 0 {
		t.Fatal("no instances listed")
	}
	var supported int
	for _, inst := range list.Data {
		if inst.Supported {
			supported++
		}
	}
	if supported == 0 {
		t.Fatal("no instance supports the tiny gemm")
	}

	sigs := decodeBody[SignatureList](t, doJSON(t, e, http.MethodGet, "/v1/signatures", ""))
	if len(sigs.Data) != 1 || len(sigs.Data[0].Families) == 0 {
		t.Fatalf("unexpected signatures: %+v", sigs.Data)
	}

	rec = doJSON(t, e, http.MethodGet, "/v1/workloads/nope/instances", "")
	if rec.Code != http.StatusNotFound {
		t.Fatalf("unknown workload status: got %d", rec.Code)
	}
}

func TestInstanceListingMatchesProfile(t *testing.T) {
	t.Parallel()

	e := newTestEcho(t)
	list := decodeBody[InstanceList](t, doJSON(t, e, http.MethodGet, "/v1/workloads/tiny_gemm/instances", ""))
	rec := doJSON(t, e, http.MethodPost, "/v1/profile", `{"workload":"tiny_gemm"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("profile status: got %d body=%s", rec.Code, rec.Body.String())
	}
	rep := decodeBody[profiler.Report](t, rec)
	if len(rep.Measurements) != len(list.Data) {
		t.Fatalf("listed %d instances, profiled %d", len(list.Data), len(rep.Measurements))
	}
	for i, m := range rep.Measurements {
		if m.Name != list.Data[i].Name || m.Supported != list.Data[i].Supported {
			t.Fatalf("instance %d: listed %+v, profiled %+v", i, list.Data[i], m)
		}
	}
}

func TestProfileAndFetchSession(t *testing.T) {
	t.Parallel()

	e := newTestEcho(t)
	rec := doJSON(t, e, http.MethodPost, "/v1/profile", `{"workload":"tiny_gemm","verify":true,"seed":9}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("profile status: got %d body=%s", rec.Code, rec.Body.String())
	}
	resp := decodeBody[map[string]any](t, rec)
	if resp["passed"] != true {
		t.Fatalf("session did not pass: %s", rec.Body.String())
	}
	id, _ := resp["id"].(string)
	if id == "" {
		t.Fatalf("missing session id: %s", rec.Body.String())
	}
	if _, ok := resp["best"].(map[string]any); !ok {
		t.Fatalf("missing best result: %s", rec.Body.String())
	}

	got := doJSON(t, e, http.MethodGet, "/v1/sessions/"+id, "")
	if got.Code != http.StatusOK {
		t.Fatalf("get session status: got %d body=%s", got.Code, got.Body.String())
	}
	if !strings.Contains(got.Body.String(), id) {
		t.Fatalf("session body missing id: %s", got.Body.String())
	}
}

func TestProfileRequestErrors(t *testing.T) {
	t.Parallel()

	e := newTestEcho(t)
	tests := []struct {
		name string
		body string
		want int
	}{
		{"malformed", `{"workload":`, http.StatusBadRequest},
		{"unknown field", `{"workload":"tiny_gemm","repeats":3}`, http.StatusBadRequest},
		{"missing workload", `{}`, http.StatusBadRequest},
		{"zero repeat", `{"workload":"tiny_gemm","repeat":0}`, http.StatusBadRequest},
		{"unknown workload", `{"workload":"huge_gemm"}`, http.StatusNotFound},
	}
	for _, tc := range tests {
		rec := doJSON(t, e, http.MethodPost, "/v1/profile", tc.body)
		if rec.Code != tc.want {
			t.Fatalf("%s: status got %d want %d body=%s", tc.name, rec.Code, tc.want, rec.Body.String())
		}
	}
}

func TestProfileErrorNamesParam(t *testing.T) {
	t.Parallel()

	e := newTestEcho(t)
	rec := doJSON(t, e, http.MethodPost, "/v1/profile", `{"workload":"tiny_gemm","warmup":-2}`)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status: got %d", rec.Code)
	}
	body := decodeBody[struct {
		Error ResponseError `json:"error"`
	}](t, rec)
	if body.Error.Param != "warmup" || body.Error.Type != "invalid_request_error" {
		t.Fatalf("unexpected error body: %+v", body.Error)
	}
	if !strings.Contains(body.Error.Message, "-2") {
		t.Fatalf("message should echo the value: %q", body.Error.Message)
	}
}

func TestProfileRateLimited(t *testing.T) {
	t.Parallel()

	e := newTestEcho(t, WithRateLimit(0.001, 1))
	first := doJSON(t, e, http.MethodPost, "/v1/profile", `{"workload":"tiny_gemm"}`)
	if first.Code != http.StatusOK {
		t.Fatalf("first status: got %d body=%s", first.Code, first.Body.String())
	}
	second := doJSON(t, e, http.MethodPost, "/v1/profile", `{"workload":"tiny_gemm"}`)
	if second.Code != http.StatusTooManyRequests {
		t.Fatalf("second status: got %d want 429", second.Code)
	}
}

func TestGetSessionErrors(t *testing.T) {
	t.Parallel()

	e := newTestEcho(t)
	if rec := doJSON(t, e, http.MethodGet, "/v1/sessions/not-a-uuid", ""); rec.Code != http.StatusBadRequest {
		t.Fatalf("bad id status: got %d", rec.Code)
	}
	if rec := doJSON(t, e, http.MethodGet, "/v1/sessions/6f1c1a4e-8d1e-4f5b-9c55-0f3d2b6f4a11", ""); rec.Code != http.StatusNotFound {
		t.Fatalf("missing id status: got %d", rec.Code)
	}
}

func TestSessionStoreEvictsOldest(t *testing.T) {
	t.Parallel()

	store := NewSessionStore(2)
	var ids []uuid.UUID
	for range 3 {
		rep := &profiler.Report{ID: uuid.New()}
		store.Put(rep)
		ids = append(ids, rep.ID)
	}
	if store.Len() != 2 {
		t.Fatalf("store len: got %d want 2", store.Len())
	}
	if _, ok := store.Get(ids[0]); ok {
		t.Fatal("oldest report was not evicted")
	}
	if _, ok := store.Get(ids[2]); !ok {
		t.Fatal("newest report missing")
	}
}
