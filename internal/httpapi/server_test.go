package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"

	"github.com/sirupsen/logrus"

	"github.com/careforge/trialscreen/internal/screening"
	"github.com/careforge/trialscreen/internal/trialstore"
)

const testProtocol = `STUDY PROTOCOL

INCLUSION CRITERIA:
1. Age 18-75 years
2. Diagnosis of Type 2 Diabetes Mellitus

EXCLUSION CRITERIA:
1. Type 1 Diabetes diagnosis
2. Current use of insulin therapy
`

func testPatient() map[string]any {
	return map[string]any{
		"patient_id": "P-100",
		"age":        58,
		"sex":        "male",
		"diagnoses":  []any{"Type 2 Diabetes Mellitus"},
		"medications": []any{
			map[string]any{"name": "Metformin", "dosage": "1000mg"},
		},
		"lab_values": map[string]any{"hba1c": 8.2},
	}
}

type stubRenderer struct {
	err error
}

func (r *stubRenderer) Render(_ context.Context, report string) ([]byte, error) {
	if r.err != nil {
		return nil, r.err
	}
	return []byte("%PDF-1.4 " + report[:20]), nil
}

func newServerForTest(t *testing.T, renderer PDFRenderer) (http.Handler, *trialstore.Store) {
	t.Helper()
	store, err := trialstore.NewStore(filepath.Join(t.TempDir(), "api.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })

	log := logrus.New()
	log.SetLevel(logrus.ErrorLevel)
	pipeline := screening.NewPipeline(nil, nil, store, screening.Config{})
	return NewServer(pipeline, store, renderer, log), store
}

func postJSON(t *testing.T, h http.Handler, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	blob, err := json.Marshal(body)
	if err != nil {
		t.Fatalf("marshal body: %v", err)
	}
	req := httptest.NewRequest(http.MethodPost, path, bytes.NewReader(blob))
	req.Header.Set("Content-Type", "application/json")
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	return rr
}

func do(t *testing.T, h http.Handler, method, path string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, nil)
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	return rr
}

func decodeMap(t *testing.T, rr *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	out := map[string]any{}
	if err := json.Unmarshal(rr.Body.Bytes(), &out); err != nil {
		t.Fatalf("decode response: %v body=%s", err, rr.Body.String())
	}
	return out
}

func TestScreenEndpoint(t *testing.T) {
	h, _ := newServerForTest(t, nil)

	rr := postJSON(t, h, "/v1/screen", map[string]any{
		"patient_data":   testPatient(),
		"trial_protocol": testProtocol,
	})
	if rr.Code != http.StatusOK {
		t.Fatalf("status=%d body=%s", rr.Code, rr.Body.String())
	}
	if rr.Header().Get("X-Request-ID") == "" {
		t.Fatal("expected X-Request-ID header")
	}

	out := decodeMap(t, rr)
	if out["decision"] != "ELIGIBLE" {
		t.Fatalf("decision=%v", out["decision"])
	}
	id, _ := out["screening_id"].(string)
	if !strings.HasPrefix(id, "SCR-") {
		t.Fatalf("screening_id=%q", id)
	}
}

func TestScreenPersistsOutcome(t *testing.T) {
	h, store := newServerForTest(t, nil)

	rr := postJSON(t, h, "/v1/screen", map[string]any{
		"patient_data":   testPatient(),
		"trial_protocol": testProtocol,
	})
	if rr.Code != http.StatusOK {
		t.Fatalf("status=%d body=%s", rr.Code, rr.Body.String())
	}
	id := decodeMap(t, rr)["screening_id"].(string)

	saved, err := store.GetScreening(context.Background(), id)
	if err != nil {
		t.Fatalf("get screening: %v", err)
	}
	if saved.Decision != screening.DecisionEligible {
		t.Fatalf("persisted decision=%s", saved.Decision)
	}
}

func TestScreenValidation(t *testing.T) {
	h, _ := newServerForTest(t, nil)

	rr := postJSON(t, h, "/v1/screen", map[string]any{"trial_protocol": testProtocol})
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("missing patient: status=%d", rr.Code)
	}

	rr = postJSON(t, h, "/v1/screen", map[string]any{"patient_data": testPatient()})
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("missing protocol: status=%d", rr.Code)
	}
}

func TestScreenUnknownTrialIs404(t *testing.T) {
	h, _ := newServerForTest(t, nil)

	rr := postJSON(t, h, "/v1/screen", map[string]any{
		"patient_data": testPatient(),
		"trial_id":     "TRIAL-404",
	})
	if rr.Code != http.StatusNotFound {
		t.Fatalf("status=%d body=%s", rr.Code, rr.Body.String())
	}
}

func TestGetScreening(t *testing.T) {
	h, _ := newServerForTest(t, nil)

	rr := postJSON(t, h, "/v1/screen", map[string]any{
		"patient_data":   testPatient(),
		"trial_protocol": testProtocol,
	})
	id := decodeMap(t, rr)["screening_id"].(string)

	rr = do(t, h, http.MethodGet, "/v1/screenings/"+id)
	if rr.Code != http.StatusOK {
		t.Fatalf("status=%d body=%s", rr.Code, rr.Body.String())
	}
	if decodeMap(t, rr)["screening_id"] != id {
		t.Fatalf("unexpected body: %s", rr.Body.String())
	}

	rr = do(t, h, http.MethodGet, "/v1/screenings/SCR-MISSING")
	if rr.Code != http.StatusNotFound {
		t.Fatalf("missing: status=%d", rr.Code)
	}
}

func TestScreeningReportPDF(t *testing.T) {
	h, _ := newServerForTest(t, &stubRenderer{})

	rr := postJSON(t, h, "/v1/screen", map[string]any{
		"patient_data":   testPatient(),
		"trial_protocol": testProtocol,
	})
	id := decodeMap(t, rr)["screening_id"].(string)

	rr = do(t, h, http.MethodGet, "/v1/screenings/"+id+"/report.pdf")
	if rr.Code != http.StatusOK {
		t.Fatalf("status=%d body=%s", rr.Code, rr.Body.String())
	}
	if got := rr.Header().Get("Content-Type"); got != "application/pdf" {
		t.Fatalf("content type=%q", got)
	}
	if !bytes.HasPrefix(rr.Body.Bytes(), []byte("%PDF")) {
		t.Fatalf("unexpected body prefix: %q", rr.Body.String()[:10])
	}
}

func TestScreeningReportPDFWithoutRenderer(t *testing.T) {
	h, _ := newServerForTest(t, nil)

	rr := postJSON(t, h, "/v1/screen", map[string]any{
		"patient_data":   testPatient(),
		"trial_protocol": testProtocol,
	})
	id := decodeMap(t, rr)["screening_id"].(string)

	rr = do(t, h, http.MethodGet, "/v1/screenings/"+id+"/report.pdf")
	if rr.Code != http.StatusNotImplemented {
		t.Fatalf("status=%d", rr.Code)
	}
}

func TestTrialLifecycle(t *testing.T) {
	h, _ := newServerForTest(t, nil)

	rr := postJSON(t, h, "/v1/trials", map[string]any{
		"trial_id": "TRIAL-001",
		"documents": []map[string]any{
			{"section": "inclusion", "title": "T2DM Study", "condition": "Type 2 Diabetes", "document": testProtocol},
		},
	})
	if rr.Code != http.StatusOK {
		t.Fatalf("put: status=%d body=%s", rr.Code, rr.Body.String())
	}

	rr = do(t, h, http.MethodGet, "/v1/trials")
	if rr.Code != http.StatusOK {
		t.Fatalf("list: status=%d", rr.Code)
	}
	trials, _ := decodeMap(t, rr)["trials"].([]any)
	if len(trials) != 1 {
		t.Fatalf("trials=%d", len(trials))
	}

	rr = do(t, h, http.MethodGet, "/v1/trials/TRIAL-001")
	if rr.Code != http.StatusOK {
		t.Fatalf("get: status=%d", rr.Code)
	}

	// Screening against the stored trial resolves the protocol.
	rr = postJSON(t, h, "/v1/screen", map[string]any{
		"patient_data": testPatient(),
		"trial_id":     "TRIAL-001",
	})
	if rr.Code != http.StatusOK {
		t.Fatalf("screen by trial id: status=%d body=%s", rr.Code, rr.Body.String())
	}

	rr = do(t, h, http.MethodDelete, "/v1/trials/TRIAL-001")
	if rr.Code != http.StatusOK {
		t.Fatalf("delete: status=%d", rr.Code)
	}
	rr = do(t, h, http.MethodDelete, "/v1/trials/TRIAL-001")
	if rr.Code != http.StatusNotFound {
		t.Fatalf("second delete: status=%d", rr.Code)
	}
	rr = do(t, h, http.MethodGet, "/v1/trials/TRIAL-001")
	if rr.Code != http.StatusNotFound {
		t.Fatalf("get after delete: status=%d", rr.Code)
	}
}

func TestTrialValidation(t *testing.T) {
	h, _ := newServerForTest(t, nil)

	rr := postJSON(t, h, "/v1/trials", map[string]any{"documents": []map[string]any{{"document": "x"}}})
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("missing trial_id: status=%d", rr.Code)
	}
	rr = postJSON(t, h, "/v1/trials", map[string]any{"trial_id": "TRIAL-002"})
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("missing documents: status=%d", rr.Code)
	}
}

func TestHealth(t *testing.T) {
	h, _ := newServerForTest(t, nil)
	rr := do(t, h, http.MethodGet, "/v1/health")
	if rr.Code != http.StatusOK {
		t.Fatalf("status=%d", rr.Code)
	}
	if decodeMap(t, rr)["ok"] != true {
		t.Fatalf("body=%s", rr.Body.String())
	}
}

func TestMethodNotAllowed(t *testing.T) {
	h, _ := newServerForTest(t, nil)
	rr := do(t, h, http.MethodGet, "/v1/screen")
	if rr.Code != http.StatusMethodNotAllowed {
		t.Fatalf("status=%d", rr.Code)
	}
}
