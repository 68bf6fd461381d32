package api

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"example.com/reconciliation/internal/auth"
	"example.com/reconciliation/internal/domain"
	"example.com/reconciliation/internal/logging"
	"example.com/reconciliation/internal/migrate"
	"example.com/reconciliation/internal/persistence/memory"
	"example.com/reconciliation/internal/reconcile"
)

var testStart = time.Date(2024, time.May, 1, 7, 0, 0, 0, time.UTC)

func newTestHandler(repo *memory.Repository) *Handler {
	log := logging.NewLogger("test")
	log.SetOutput(io.Discard)
	service := reconcile.NewService(repo, log)
	runner := migrate.NewRunner(repo, log)
	return NewHandler(service, runner, domain.SourceDeviceHealth)
}

func withClaims(req *http.Request, userID string, scopes ...string) *http.Request {
	claims := &auth.Claims{
		UserID:    userID,
		Scopes:    make(map[string]struct{}),
		ExpiresAt: time.Now().Add(time.Hour),
	}
	for _, scope := range scopes {
		claims.Scopes[scope] = struct{}{}
	}
	return req.WithContext(auth.WithClaims(req.Context(), claims))
}

func seedDuplicatePair(t *testing.T, repo *memory.Repository, userID string) (domain.Activity, domain.Activity) {
	t.Helper()
	dh := domain.NewDeviceHealthActivity(userID, domain.NewID(), testStart, testStart.Add(30*time.Minute), 30, 5000)
	fn := domain.NewFitnessNetworkActivity(userID, 4242, testStart.Add(3*time.Minute), testStart.Add(33*time.Minute), 30, 5020)
	if err := repo.Create(context.Background(), dh); err != nil {
		t.Fatalf("seed device-health: %v", err)
	}
	if err := repo.Create(context.Background(), fn); err != nil {
		t.Fatalf("seed fitness-network: %v", err)
	}
	return dh, fn
}

func TestFindDuplicatesSuccess(t *testing.T) {
	repo := memory.NewRepository()
	seedDuplicatePair(t, repo, "user-1")
	handler := newTestHandler(repo)

	req := httptest.NewRequest(http.MethodGet, "/v1/duplicates", nil)
	req = withClaims(req, "user-1", auth.ScopeActivitiesRead)

	rr := httptest.NewRecorder()
	handler.findDuplicates(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200 got %d: %s", rr.Code, rr.Body.String())
	}

	var resp FindDuplicatesResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if len(resp.Pairs) != 1 {
		t.Fatalf("expected 1 pair got %d", len(resp.Pairs))
	}
	if resp.Pairs[0].Similarity < 90 {
		t.Fatalf("expected similarity >= 90 got %f", resp.Pairs[0].Similarity)
	}
	if resp.Pairs[0].DeviceHealth.Source != "device_health" {
		t.Fatalf("unexpected device-health side source %q", resp.Pairs[0].DeviceHealth.Source)
	}
}

func TestFindDuplicatesRequiresAuth(t *testing.T) {
	handler := newTestHandler(memory.NewRepository())

	req := httptest.NewRequest(http.MethodGet, "/v1/duplicates", nil)
	rr := httptest.NewRecorder()
	handler.findDuplicates(rr, req)

	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 got %d", rr.Code)
	}
}

func TestFindDuplicatesRequiresScope(t *testing.T) {
	handler := newTestHandler(memory.NewRepository())

	req := httptest.NewRequest(http.MethodGet, "/v1/duplicates", nil)
	req = withClaims(req, "user-1", auth.ScopeReconcileAdmin)

	rr := httptest.NewRecorder()
	handler.findDuplicates(rr, req)

	if rr.Code != http.StatusForbidden {
		t.Fatalf("expected 403 got %d", rr.Code)
	}
}

func TestResolveDuplicatesSuccess(t *testing.T) {
	repo := memory.NewRepository()
	dh, fn := seedDuplicatePair(t, repo, "user-1")
	handler := newTestHandler(repo)

	body := `{"directives":[{"device_health_id":"` + dh.DeviceHealthID + `","fitness_network_id":` + jsonInt(fn.FitnessNetworkID) + `,"keep_source":"device_health"}]}`
	req := httptest.NewRequest(http.MethodPost, "/v1/duplicates/resolve", strings.NewReader(body))
	req = withClaims(req, "user-1", auth.ScopeActivitiesWrite)

	rr := httptest.NewRecorder()
	handler.resolveDuplicates(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200 got %d: %s", rr.Code, rr.Body.String())
	}

	var resp ResolveResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if resp.Resolved != 1 || resp.Errors != 0 {
		t.Fatalf("expected resolved=1 errors=0 got %+v", resp)
	}

	remaining, err := repo.ListByUser(context.Background(), "user-1")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(remaining) != 1 || remaining[0].Source != domain.SourceDeviceHealth {
		t.Fatalf("expected one surviving device_health record, got %+v", remaining)
	}
}

func TestResolveDuplicatesValidatesBody(t *testing.T) {
	handler := newTestHandler(memory.NewRepository())

	body := `{"directives":[{"device_health_id":"not-a-uuid","fitness_network_id":1,"keep_source":"device_health"}]}`
	req := httptest.NewRequest(http.MethodPost, "/v1/duplicates/resolve", strings.NewReader(body))
	req = withClaims(req, "user-1", auth.ScopeActivitiesWrite)

	rr := httptest.NewRecorder()
	handler.resolveDuplicates(rr, req)

	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 got %d", rr.Code)
	}
}

func TestResolveDuplicatesRejectsEmptyBatch(t *testing.T) {
	handler := newTestHandler(memory.NewRepository())

	req := httptest.NewRequest(http.MethodPost, "/v1/duplicates/resolve", strings.NewReader(`{"directives":[]}`))
	req = withClaims(req, "user-1", auth.ScopeActivitiesWrite)

	rr := httptest.NewRecorder()
	handler.resolveDuplicates(rr, req)

	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 got %d", rr.Code)
	}
}

func TestListActivitiesRange(t *testing.T) {
	repo := memory.NewRepository()
	seedDuplicatePair(t, repo, "user-1")
	handler := newTestHandler(repo)

	req := httptest.NewRequest(http.MethodGet, "/v1/activities?from=2024-05-01T07:01:00Z", nil)
	req = withClaims(req, "user-1", auth.ScopeActivitiesRead)

	rr := httptest.NewRecorder()
	handler.listActivities(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200 got %d: %s", rr.Code, rr.Body.String())
	}

	var resp ListActivitiesResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if len(resp.Items) != 1 {
		t.Fatalf("expected 1 activity in range got %d", len(resp.Items))
	}
	if resp.Items[0].Source != "fitness_network" {
		t.Fatalf("unexpected record in range: %+v", resp.Items[0])
	}
}

func TestActivityByIDNotFound(t *testing.T) {
	handler := newTestHandler(memory.NewRepository())

	req := httptest.NewRequest(http.MethodGet, "/v1/activities/"+domain.NewID(), nil)
	req = withClaims(req, "user-1", auth.ScopeActivitiesRead)

	rr := httptest.NewRecorder()
	handler.activityByID(rr, req)

	if rr.Code != http.StatusNotFound {
		t.Fatalf("expected 404 got %d", rr.Code)
	}
}

func TestAdminDedupRequiresAdminScope(t *testing.T) {
	handler := newTestHandler(memory.NewRepository())

	req := httptest.NewRequest(http.MethodPost, "/v1/admin/dedup", nil)
	req = withClaims(req, "user-1", auth.ScopeActivitiesWrite)

	rr := httptest.NewRecorder()
	handler.automatedDedup(rr, req)

	if rr.Code != http.StatusForbidden {
		t.Fatalf("expected 403 got %d", rr.Code)
	}
}

func TestAdminDedupDefaultPolicy(t *testing.T) {
	repo := memory.NewRepository()
	seedDuplicatePair(t, repo, "user-1")
	handler := newTestHandler(repo)

	req := httptest.NewRequest(http.MethodPost, "/v1/admin/dedup", nil)
	req = withClaims(req, "ops-1", auth.ScopeReconcileAdmin)

	rr := httptest.NewRecorder()
	handler.automatedDedup(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200 got %d: %s", rr.Code, rr.Body.String())
	}

	var resp DedupResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if resp.DuplicatesRemoved != 1 || resp.KeptSource != "device_health" {
		t.Fatalf("unexpected dedup response %+v", resp)
	}
}

func TestAdminBackfillAndCleanup(t *testing.T) {
	repo := memory.NewRepository()
	repo.Seed(domain.Activity{
		ID:             domain.NewID(),
		UserID:         "user-1",
		StartedAt:      testStart,
		EndedAt:        testStart.Add(30 * time.Minute),
		DurationMin:    30,
		DistanceM:      5000,
		DeviceHealthID: domain.NewID(),
		SyncedAt:       testStart,
		CreatedAt:      testStart,
	})
	handler := newTestHandler(repo)

	req := httptest.NewRequest(http.MethodPost, "/v1/admin/backfill-source", nil)
	req = withClaims(req, "ops-1", auth.ScopeReconcileAdmin)
	rr := httptest.NewRecorder()
	handler.backfillSource(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200 got %d: %s", rr.Code, rr.Body.String())
	}
	var backfill BackfillResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &backfill); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if backfill.MigratedCount != 1 || backfill.TotalActivities != 1 {
		t.Fatalf("unexpected backfill response %+v", backfill)
	}

	req = httptest.NewRequest(http.MethodPost, "/v1/admin/cleanup-consistency", nil)
	req = withClaims(req, "ops-1", auth.ScopeReconcileAdmin)
	rr = httptest.NewRecorder()
	handler.cleanupConsistency(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200 got %d: %s", rr.Code, rr.Body.String())
	}
	var cleanup CleanupResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &cleanup); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if cleanup.CleanedCount != 0 || cleanup.TotalActivities != 1 {
		t.Fatalf("unexpected cleanup response %+v", cleanup)
	}
}

func jsonInt(v int64) string {
	b, _ := json.Marshal(v)
	return string(b)
}
