package jobs

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gorilla/mux"

	"github.com/iayos/backend/internal/middleware"
	"github.com/iayos/backend/internal/models"
	"github.com/iayos/backend/internal/validate"
)

// httpFixture routes requests the way cmd/api does, with the actor injected instead of a JWT.
type httpFixture struct {
	*fixture
	router *mux.Router
	as     models.Actor
}

func newHTTP(t *testing.T) *httpFixture {
	t.Helper()
	hf := &httpFixture{fixture: setup(t)}
	h := NewHandler(hf.svc, nil)
	v := validate.MustNew()

	inject := func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			next.ServeHTTP(w, r.WithContext(middleware.WithActor(r.Context(), hf.as)))
		})
	}
	r := mux.NewRouter()
	r.Use(inject)
	r.Handle("/jobs", middleware.SchemaCheck(v, validate.CreateJob)(http.HandlerFunc(h.CreateJob))).Methods(http.MethodPost)
	r.HandleFunc("/jobs", h.ListJobs).Methods(http.MethodGet)
	r.HandleFunc("/jobs/{jobID}", h.GetJob).Methods(http.MethodGet)
	r.HandleFunc("/jobs/{jobID}", h.DeleteJob).Methods(http.MethodDelete)
	r.Handle("/jobs/{jobID}/applications", middleware.SchemaCheck(v, validate.Apply)(http.HandlerFunc(h.Apply))).Methods(http.MethodPost)
	r.HandleFunc("/jobs/{jobID}/applications", h.Applications).Methods(http.MethodGet)
	r.HandleFunc("/jobs/{jobID}/applications/{appID}/accept", h.AcceptApplication).Methods(http.MethodPost)
	r.HandleFunc("/jobs/{jobID}/start", h.ConfirmWorkStarted).Methods(http.MethodPost)
	r.HandleFunc("/jobs/{jobID}/complete", h.MarkComplete).Methods(http.MethodPost)
	r.HandleFunc("/jobs/{jobID}/approve", h.ApproveCompletion).Methods(http.MethodPost)
	hf.router = r
	return hf
}

func (hf *httpFixture) do(t *testing.T, as models.Actor, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	hf.as = as
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	rec := httptest.NewRecorder()
	hf.router.ServeHTTP(rec, req)
	return rec
}

func decodeInto(t *testing.T, rec *httptest.ResponseRecorder, v interface{}) {
	t.Helper()
	if err := json.Unmarshal(rec.Body.Bytes(), v); err != nil {
		t.Fatalf("decode %s: %v", rec.Body.String(), err)
	}
}

func TestHTTPListingLifecycle(t *testing.T) {
	hf := newHTTP(t)
	client, worker := hf.client("5000"), hf.worker()

	body := fmt.Sprintf(`{"title":"Fix sink","category_id":%d,"payment_model":"PROJECT","job_type":"LISTING","budget":"1000"}`, plumbing)
	rec := hf.do(t, client, http.MethodPost, "/jobs", body)
	if rec.Code != http.StatusCreated {
		t.Fatalf("create: %d %s", rec.Code, rec.Body.String())
	}
	var j models.Job
	decodeInto(t, rec, &j)
	money(t, "escrow", j.EscrowAmount, "500")
	base := "/jobs/" + j.ID.String()

	rec = hf.do(t, worker, http.MethodPost, base+"/applications", `{"budget_option":"ACCEPT"}`)
	if rec.Code != http.StatusCreated {
		t.Fatalf("apply: %d %s", rec.Code, rec.Body.String())
	}
	var app models.Application
	decodeInto(t, rec, &app)

	if rec := hf.do(t, worker, http.MethodGet, base+"/applications", ""); rec.Code != http.StatusForbidden {
		t.Fatalf("worker listing applications: %d", rec.Code)
	}
	rec = hf.do(t, client, http.MethodPost, base+"/applications/"+app.ID.String()+"/accept", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("accept: %d %s", rec.Code, rec.Body.String())
	}

	for _, step := range []struct {
		as   models.Actor
		path string
		body string
	}{
		{client, "/start", ""},
		{worker, "/complete", `{"notes":"replaced the trap"}`},
		{client, "/approve", `{"payment_method":"WALLET"}`},
	} {
		if rec := hf.do(t, step.as, http.MethodPost, base+step.path, step.body); rec.Code != http.StatusOK {
			t.Fatalf("%s: %d %s", step.path, rec.Code, rec.Body.String())
		}
	}
	if got := hf.job(t, j.ID).Status; got != models.JobCompleted {
		t.Fatalf("status %s", got)
	}
	money(t, "client balance", hf.walletOf(t, client.AccountID).Balance, "3900")
}

func TestHTTPCreateErrors(t *testing.T) {
	hf := newHTTP(t)
	poor := hf.client("100")

	rec := hf.do(t, poor, http.MethodPost, "/jobs", `{"title":"Fix sink","category_id":1,"payment_model":"PROJECT","job_type":"LISTING"}`)
	if rec.Code != http.StatusUnprocessableEntity {
		t.Fatalf("schema: %d %s", rec.Code, rec.Body.String())
	}
	rec = hf.do(t, poor, http.MethodPost, "/jobs", `{"title":"Fix sink","category_id":1,"payment_model":"PROJECT","job_type":"LISTING","budget":"1000"}`)
	if rec.Code != http.StatusPaymentRequired {
		t.Fatalf("funds: %d %s", rec.Code, rec.Body.String())
	}
	if !strings.Contains(rec.Body.String(), `"required":"600.00"`) {
		t.Fatalf("shortfall missing: %s", rec.Body.String())
	}
	if rec := hf.do(t, poor, http.MethodGet, "/jobs/not-a-uuid", ""); rec.Code != http.StatusBadRequest {
		t.Fatalf("bad id: %d", rec.Code)
	}
}

func TestHTTPDeleteRefunds(t *testing.T) {
	hf := newHTTP(t)
	client := hf.client("5000")
	j := hf.post(t, client, listing("1000"))

	if rec := hf.do(t, client, http.MethodDelete, "/jobs/"+j.ID.String(), ""); rec.Code != http.StatusNoContent {
		t.Fatalf("delete: %d %s", rec.Code, rec.Body.String())
	}
	money(t, "reserved", hf.walletOf(t, client.AccountID).ReservedBalance, "0")
	if rec := hf.do(t, client, http.MethodGet, "/jobs/"+j.ID.String(), ""); rec.Code != http.StatusNotFound {
		t.Fatalf("get deleted: %d", rec.Code)
	}
}
