package api_test

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"testing"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/estatedesk/crm/internal/access"
	"github.com/estatedesk/crm/internal/api"
	"github.com/estatedesk/crm/internal/models"
)

func newResourceRouter(svc *mockResourceService, rt models.ResourceType) *gin.Engine {
	r := newTestRouter(testAgent)
	api.NewResourceHandler(svc, rt, testLogger()).Register(r.Group(""))

	return r
}

type errorBody struct {
	Code    string         `json:"code"`
	Message string         `json:"message"`
	Details map[string]any `json:"details"`
}

func decodeError(t *testing.T, body []byte) errorBody {
	t.Helper()

	var e errorBody
	if err := json.Unmarshal(body, &e); err != nil {
		t.Fatalf("invalid JSON: %v", err)
	}
	return e
}

func TestResourceList_PassesFilters(t *testing.T) {
	t.Parallel()

	var gotScope string
	var gotFilters models.ListFilters
	var gotType models.ResourceType

	svc := &mockResourceService{
		listFn: func(_ context.Context, _ access.Principal, rt models.ResourceType, scope string, f models.ListFilters) (*models.ListResult, error) {
			gotType, gotScope, gotFilters = rt, scope, f
			return &models.ListResult{
				Items:      []models.Record{{ID: testRecordID, Type: rt, Title: "Main St"}},
				Pagination: models.NewPagination(2, 10, 11),
			}, nil
		},
	}

	r := newResourceRouter(svc, models.ResourceEscrow)
	w := doRequest(r, http.MethodGet, "/escrows?scope=user&status=Active&from=2026-01-01&to=2026-02-01T00:00:00Z&search=main&archived=true&page=2&limit=10", "")

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}

	if gotType != models.ResourceEscrow || gotScope != "user" {
		t.Errorf("type=%q scope=%q", gotType, gotScope)
	}
	if gotFilters.Status != "Active" || gotFilters.Search != "main" || !gotFilters.Archived {
		t.Errorf("filters = %+v", gotFilters)
	}
	if gotFilters.Page != 2 || gotFilters.Limit != 10 {
		t.Errorf("page=%d limit=%d", gotFilters.Page, gotFilters.Limit)
	}
	if gotFilters.From == nil || !gotFilters.From.Equal(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)) {
		t.Errorf("from = %v", gotFilters.From)
	}
	if gotFilters.To == nil {
		t.Error("to not parsed")
	}

	var body models.ListResult
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatalf("invalid JSON: %v", err)
	}
	if len(body.Items) != 1 || body.Pagination.TotalPages != 2 {
		t.Errorf("body = %+v", body)
	}
}

func TestResourceList_BadQuery(t *testing.T) {
	t.Parallel()

	svc := &mockResourceService{}
	r := newResourceRouter(svc, models.ResourceLead)

	for _, q := range []string{"from=yesterday", "archived=maybe", "from=2026-02-01&to=2026-01-01"} {
		w := doRequest(r, http.MethodGet, "/leads?"+q, "")
		if w.Code != http.StatusBadRequest {
			t.Errorf("%s: expected 400, got %d", q, w.Code)
		}
	}
}

func TestResourceList_ScopeErrors(t *testing.T) {
	t.Parallel()

	_, invalid := access.ValidateScope("galaxy", access.RoleAgent)
	_, forbidden := access.ValidateScope("all", access.RoleAgent)
	_, noBroker := access.Build(access.Principal{ID: "b", Role: access.RoleBroker}, access.ScopeBrokerage, "t", 1)

	tests := []struct {
		name     string
		err      error
		wantCode int
		wantBody string
	}{
		{"invalid", invalid, http.StatusBadRequest, api.ErrCodeInvalidScope},
		{"forbidden", forbidden, http.StatusForbidden, api.ErrCodeForbiddenScope},
		{"missing broker", noBroker, http.StatusBadRequest, api.ErrCodeMissingBroker},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			if tc.err == nil {
				t.Fatal("test setup produced no error")
			}

			svc := &mockResourceService{
				listFn: func(context.Context, access.Principal, models.ResourceType, string, models.ListFilters) (*models.ListResult, error) {
					return nil, tc.err
				},
			}
			r := newResourceRouter(svc, models.ResourceClient)

			w := doRequest(r, http.MethodGet, "/clients", "")
			if w.Code != tc.wantCode {
				t.Fatalf("expected %d, got %d", tc.wantCode, w.Code)
			}
			if e := decodeError(t, w.Body.Bytes()); e.Code != tc.wantBody {
				t.Errorf("code = %q, want %q", e.Code, tc.wantBody)
			}
		})
	}
}

func TestResourceGet(t *testing.T) {
	t.Parallel()

	svc := &mockResourceService{
		getFn: func(_ context.Context, _ access.Principal, rt models.ResourceType, id string) (*models.Record, error) {
			if id != testRecordID {
				return nil, models.ErrNotFound
			}
			return &models.Record{ID: id, Type: rt, Version: 7}, nil
		},
	}
	r := newResourceRouter(svc, models.ResourceListing)

	w := doRequest(r, http.MethodGet, "/listings/"+testRecordID, "")
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	if etag := w.Header().Get("ETag"); etag != `"7"` {
		t.Errorf("ETag = %q", etag)
	}

	w = doRequest(r, http.MethodGet, "/listings/00000000-0000-0000-0000-000000000002", "")
	if w.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", w.Code)
	}

	w = doRequest(r, http.MethodGet, "/listings/not-a-uuid", "")
	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for bad id, got %d", w.Code)
	}
}

func TestResourceCreate(t *testing.T) {
	t.Parallel()

	svc := &mockResourceService{
		createFn: func(_ context.Context, p access.Principal, rt models.ResourceType, m models.Mutation) (*models.Record, error) {
			if m.Title == nil {
				return nil, &models.ValidationError{Err: models.ErrMissingTitle}
			}
			return &models.Record{ID: testRecordID, Type: rt, OwnerID: p.ID, Title: *m.Title, Version: 1}, nil
		},
	}
	r := newResourceRouter(svc, models.ResourceLead)

	w := doRequest(r, http.MethodPost, "/leads", `{"title":"Jane Doe","is_private":true}`)
	if w.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", w.Code, w.Body.String())
	}

	var rec models.Record
	if err := json.Unmarshal(w.Body.Bytes(), &rec); err != nil {
		t.Fatalf("invalid JSON: %v", err)
	}
	if rec.OwnerID != testAgent.ID || rec.Title != "Jane Doe" {
		t.Errorf("record = %+v", rec)
	}

	w = doRequest(r, http.MethodPost, "/leads", `{"status":"new"}`)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", w.Code)
	}
	if e := decodeError(t, w.Body.Bytes()); e.Code != api.ErrCodeValidationError {
		t.Errorf("code = %q", e.Code)
	}

	w = doRequest(r, http.MethodPost, "/leads", `{not json`)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for malformed body, got %d", w.Code)
	}
}

func TestResourceUpdate_VersionConflict(t *testing.T) {
	t.Parallel()

	var gotVersion *int
	svc := &mockResourceService{
		updateFn: func(_ context.Context, _ access.Principal, _ models.ResourceType, id string, m models.Mutation) (*models.Record, error) {
			gotVersion = m.Version
			return nil, &models.VersionConflictError{Resource: "escrow", ID: id, CurrentVersion: 5, AttemptedVersion: *m.Version}
		},
	}
	r := newResourceRouter(svc, models.ResourceEscrow)

	w := doRequest(r, http.MethodPatch, "/escrows/"+testRecordID, `{"status":"closed"}`, "If-Match", `"4"`)
	if w.Code != http.StatusConflict {
		t.Fatalf("expected 409, got %d: %s", w.Code, w.Body.String())
	}
	if gotVersion == nil || *gotVersion != 4 {
		t.Fatalf("version from If-Match = %v", gotVersion)
	}

	e := decodeError(t, w.Body.Bytes())
	if e.Code != api.ErrCodeVersionConflict {
		t.Errorf("code = %q", e.Code)
	}
	if e.Details["current_version"] != float64(5) || e.Details["attempted_version"] != float64(4) {
		t.Errorf("details = %v", e.Details)
	}
}

func TestResourceUpdate_BodyVersionWins(t *testing.T) {
	t.Parallel()

	var gotVersion *int
	svc := &mockResourceService{
		updateFn: func(_ context.Context, _ access.Principal, rt models.ResourceType, id string, m models.Mutation) (*models.Record, error) {
			gotVersion = m.Version
			return &models.Record{ID: id, Type: rt, Version: *m.Version + 1}, nil
		},
	}
	r := newResourceRouter(svc, models.ResourceEscrow)

	w := doRequest(r, http.MethodPatch, "/escrows/"+testRecordID, `{"title":"x","version":2}`, "If-Match", `"9"`)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	if gotVersion == nil || *gotVersion != 2 {
		t.Fatalf("version = %v, want 2", gotVersion)
	}
	if etag := w.Header().Get("ETag"); etag != `"3"` {
		t.Errorf("ETag = %q", etag)
	}
}

func TestResourceLifecycle(t *testing.T) {
	t.Parallel()

	tests := []struct {
		method     string
		path       string
		headers    []string
		wantOp     string
		wantExpect *int
	}{
		{http.MethodPost, "/clients/" + testRecordID + "/archive", []string{"If-Match", `"3"`}, "archive", intPtr(3)},
		{http.MethodPost, "/clients/" + testRecordID + "/restore", nil, "restore", nil},
		{http.MethodDelete, "/clients/" + testRecordID + "?version=6", nil, "delete", intPtr(6)},
		{http.MethodDelete, "/clients/" + testRecordID, []string{"If-Match", `W/"2"`}, "delete", intPtr(2)},
	}

	for _, tc := range tests {
		t.Run(fmt.Sprintf("%s %s", tc.method, tc.path), func(t *testing.T) {
			t.Parallel()

			var got writeCall
			svc := &mockResourceService{
				writeFn: func(call writeCall) (*models.Record, error) {
					got = call
					return &models.Record{ID: call.id, Type: models.ResourceClient, Version: 10}, nil
				},
			}
			r := newResourceRouter(svc, models.ResourceClient)

			w := doRequest(r, tc.method, tc.path, "", tc.headers...)
			if w.Code != http.StatusOK {
				t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
			}
			if got.op != tc.wantOp || got.id != testRecordID {
				t.Errorf("call = %+v", got)
			}
			switch {
			case tc.wantExpect == nil && got.expect != nil:
				t.Errorf("expect = %d, want nil", *got.expect)
			case tc.wantExpect != nil && (got.expect == nil || *got.expect != *tc.wantExpect):
				t.Errorf("expect = %v, want %d", got.expect, *tc.wantExpect)
			}
		})
	}
}

func TestResourceLifecycle_Errors(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		err      error
		wantCode int
	}{
		{"already archived", models.ErrNotFound, http.StatusNotFound},
		{"conflict", &models.VersionConflictError{CurrentVersion: 2, AttemptedVersion: 1}, http.StatusConflict},
		{"schema", fmt.Errorf("leads: %w", models.ErrSchemaUnsupported), http.StatusNotImplemented},
		{"bad reference", models.ErrInvalidReference, http.StatusUnprocessableEntity},
		{"db", errors.New("connection reset"), http.StatusInternalServerError},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			svc := &mockResourceService{
				writeFn: func(writeCall) (*models.Record, error) { return nil, tc.err },
			}
			r := newResourceRouter(svc, models.ResourceLead)

			w := doRequest(r, http.MethodPost, "/leads/"+testRecordID+"/archive", "")
			if w.Code != tc.wantCode {
				t.Fatalf("expected %d, got %d", tc.wantCode, w.Code)
			}
		})
	}
}

func TestResourceLifecycle_BadIfMatch(t *testing.T) {
	t.Parallel()

	svc := &mockResourceService{
		writeFn: func(writeCall) (*models.Record, error) {
			t.Error("service called with malformed precondition")
			return nil, nil
		},
	}
	r := newResourceRouter(svc, models.ResourceLead)

	for _, v := range []string{`"abc"`, `"0"`, `"1", "2"`} {
		w := doRequest(r, http.MethodDelete, "/leads/"+testRecordID, "", "If-Match", v)
		if w.Code != http.StatusBadRequest {
			t.Errorf("If-Match %s: expected 400, got %d", v, w.Code)
		}
	}
}

func intPtr(n int) *int { return &n }
