package http

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gofiber/fiber/v2"
	"github.com/jackc/pgx/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/spec-kit/field-ticket-service/internal/api/http/handlers"
	"github.com/spec-kit/field-ticket-service/internal/auth"
	"github.com/spec-kit/field-ticket-service/internal/domain"
	"github.com/spec-kit/field-ticket-service/internal/observability"
	"github.com/spec-kit/field-ticket-service/internal/persistence"
	"github.com/spec-kit/field-ticket-service/internal/service"
	apperrors "github.com/spec-kit/field-ticket-service/pkg/util/errorutil"
)

type employees map[string]domain.Employee

func (m employees) GetByID(_ context.Context, id string) (*domain.Employee, error) {
	e, ok := m[id]
	if !ok {
		return nil, pgx.ErrNoRows
	}
	return &e, nil
}

type call struct {
	op   string
	args []string
}

type fakeWorkflow struct {
	calls []call
	err   error
	res   *service.Result
}

func (f *fakeWorkflow) record(op string, args ...string) (*service.Result, error) {
	copied := make([]string, len(args))
	for i, a := range args {
		copied[i] = strings.Clone(a)
	}
	f.calls = append(f.calls, call{op: op, args: copied})
	if f.err != nil {
		return nil, f.err
	}
	if f.res != nil {
		return f.res, nil
	}
	return &service.Result{Message: op + " ok", Changed: true, Ticket: &domain.Ticket{ID: "tk-1"}}, nil
}

func (f *fakeWorkflow) CreateTicket(_ context.Context, in service.CreateTicketInput) (*service.Result, error) {
	return f.record("create", in.CommerceID, in.TicketNumber, in.DispatcherID)
}

func (f *fakeWorkflow) UpdateState(_ context.Context, ticketID, state string, extra service.StateExtra) (*service.Result, error) {
	return f.record("state", ticketID, state, extra.CoordinatedContactID)
}

func (f *fakeWorkflow) AssignTechnician(_ context.Context, ticketID, technicianID, dispatcherID string) (*service.Result, error) {
	return f.record("assignTechnician", ticketID, technicianID, dispatcherID)
}

func (f *fakeWorkflow) UnassignTechnician(_ context.Context, ticketID, technicianID, dispatcherID string) (*service.Result, error) {
	return f.record("unassignTechnician", ticketID, technicianID, dispatcherID)
}

func (f *fakeWorkflow) AssignDispatcher(_ context.Context, ticketID, newID, currentID string) (*service.Result, error) {
	return f.record("assignDispatcher", ticketID, newID, currentID)
}

func (f *fakeWorkflow) UnassignDispatcher(_ context.Context, ticketID, dispatcherID string) (*service.Result, error) {
	return f.record("unassignDispatcher", ticketID, dispatcherID)
}

func (f *fakeWorkflow) History(_ context.Context, ticketID string, _, _ int) ([]domain.StateHistoryEntry, error) {
	f.calls = append(f.calls, call{op: "history", args: []string{strings.Clone(ticketID)}})
	return []domain.StateHistoryEntry{{ID: "h1", StateID: domain.StateCreated, Description: "Ticket creado"}}, f.err
}

type fakeCache struct{ invalidated []string }

func (f *fakeCache) Invalidate(_ context.Context, commerceID string) error {
	f.invalidated = append(f.invalidated, strings.Clone(commerceID))
	return nil
}

type pinger struct{ err error }

func (p pinger) Ping(context.Context) error { return p.err }

type testServer struct {
	app      *fiber.App
	workflow *fakeWorkflow
	cache    *fakeCache
	tokens   *auth.TokenManager
}

func newTestServer(t *testing.T, redisErr error) *testServer {
	t.Helper()
	return newTestServerWith(t, redisErr, &fakeWorkflow{})
}

func newTestServerWith(t *testing.T, redisErr error, workflow handlers.TicketOperations) *testServer {
	t.Helper()
	reg := prometheus.NewRegistry()
	metrics := observability.NewMetrics(reg)
	tokens := auth.NewTokenManager("test-secret", 5)
	dir := employees{
		"admin": {ID: "admin", Role: domain.EmployeeRoleAdmin},
		"d-1":   {ID: "d-1", Role: domain.EmployeeRoleDispatcher},
	}
	wf, _ := workflow.(*fakeWorkflow)
	cache := &fakeCache{}

	app := fiber.New()
	RegisterMiddlewares(app, zap.NewNop(), metrics, 0)
	RegisterRoutes(app, RouteConfig{
		Health:         handlers.NewHealthHandler("svc", "test", pinger{}, pinger{err: redisErr}),
		Tickets:        handlers.NewTicketsHandler(workflow),
		StateMachines:  handlers.NewStateMachineHandler(cache),
		Metrics:        NewMetricsHandler(reg),
		AuthMiddleware: auth.NewAuthMiddleware(tokens, dir),
	})
	return &testServer{app: app, workflow: wf, cache: cache, tokens: tokens}
}

func (s *testServer) do(t *testing.T, method, path, employeeID, body string) (*http.Response, map[string]any) {
	t.Helper()
	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, reader)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	if employeeID != "" {
		token, _, err := s.tokens.GenerateToken(employeeID)
		require.NoError(t, err)
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := s.app.Test(req)
	require.NoError(t, err)
	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	payload := map[string]any{}
	if len(raw) > 0 && strings.HasPrefix(resp.Header.Get("Content-Type"), "application/json") {
		require.NoError(t, json.Unmarshal(raw, &payload))
	}
	return resp, payload
}

func TestTicketRoutesPassPrincipalAsActor(t *testing.T) {
	s := newTestServer(t, nil)

	resp, _ := s.do(t, http.MethodPost, "/tickets/tk-1/technicians", "d-1", `{"technicianId":"t-1"}`)
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp, _ = s.do(t, http.MethodDelete, "/tickets/tk-1/technicians/t-1", "d-1", "")
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp, _ = s.do(t, http.MethodPost, "/tickets/tk-1/dispatchers", "d-1", `{"dispatcherId":"d-2"}`)
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp, _ = s.do(t, http.MethodDelete, "/tickets/tk-1/dispatchers", "admin", "")
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	require.Len(t, s.workflow.calls, 4)
	assert.Equal(t, call{"assignTechnician", []string{"tk-1", "t-1", "d-1"}}, s.workflow.calls[0])
	assert.Equal(t, call{"unassignTechnician", []string{"tk-1", "t-1", "d-1"}}, s.workflow.calls[1])
	assert.Equal(t, call{"assignDispatcher", []string{"tk-1", "d-2", "d-1"}}, s.workflow.calls[2])
	assert.Equal(t, call{"unassignDispatcher", []string{"tk-1", "admin"}}, s.workflow.calls[3])
}

func TestCreateTicketUsesDispatcherPrincipal(t *testing.T) {
	s := newTestServer(t, nil)

	resp, payload := s.do(t, http.MethodPost, "/tickets", "d-1", `{"commerceId":"c1","ticketNumber":"T-9"}`)
	assert.Equal(t, http.StatusCreated, resp.StatusCode)
	data := payload["data"].(map[string]any)
	assert.Equal(t, true, data["changed"])
	assert.Equal(t, call{"create", []string{"c1", "T-9", "d-1"}}, s.workflow.calls[0])

	resp, _ = s.do(t, http.MethodPost, "/tickets", "d-1", `{"commerceId":"c1"}`)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestUpdateStateAcceptsEmptyBody(t *testing.T) {
	s := newTestServer(t, nil)

	resp, _ := s.do(t, http.MethodPut, "/tickets/tk-1/states/in_service", "d-1", "")
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp, _ = s.do(t, http.MethodPut, "/tickets/tk-1/states/coordinated", "d-1", `{"coordinatedContactId":"ct-1"}`)
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	assert.Equal(t, []string{"tk-1", "in_service", ""}, s.workflow.calls[0].args)
	assert.Equal(t, []string{"tk-1", "coordinated", "ct-1"}, s.workflow.calls[1].args)
}

func TestWorkflowErrorsRenderedAsEnvelope(t *testing.T) {
	s := newTestServer(t, nil)
	s.workflow.err = apperrors.NewForbidden("La transición de created a finished no está permitida")

	resp, payload := s.do(t, http.MethodPost, "/tickets/tk-1/technicians", "d-1", `{"technicianId":"t-1"}`)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
	errBody := payload["error"].(map[string]any)
	assert.Equal(t, apperrors.CodeForbidden, errBody["code"])

	s.workflow.err = errors.New("db down")
	resp, payload = s.do(t, http.MethodPut, "/tickets/tk-1/states/x", "d-1", "")
	assert.Equal(t, http.StatusInternalServerError, resp.StatusCode)
	assert.Equal(t, apperrors.CodeInternal, payload["error"].(map[string]any)["code"])
}

func TestTechnicianIDRequired(t *testing.T) {
	s := newTestServer(t, nil)
	resp, _ := s.do(t, http.MethodPost, "/tickets/tk-1/technicians", "d-1", `{}`)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Empty(t, s.workflow.calls)
}

func TestProtectedRoutesRequireToken(t *testing.T) {
	s := newTestServer(t, nil)
	resp, _ := s.do(t, http.MethodGet, "/tickets/tk-1/history", "", "")
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	resp, payload := s.do(t, http.MethodGet, "/tickets/tk-1/history", "d-1", "")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Len(t, payload["data"], 1)

	resp, _ = s.do(t, http.MethodGet, "/tickets/tk-1/history?limit=0", "d-1", "")
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestStateMachineInvalidationIsAdminOnly(t *testing.T) {
	s := newTestServer(t, nil)

	resp, _ := s.do(t, http.MethodDelete, "/state-machines/c1/cache", "d-1", "")
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
	assert.Empty(t, s.cache.invalidated)

	resp, _ = s.do(t, http.MethodDelete, "/state-machines/c1/cache", "admin", "")
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)
	assert.Equal(t, []string{"c1"}, s.cache.invalidated)
}

func TestReadinessTreatsDisabledRedisAsReady(t *testing.T) {
	s := newTestServer(t, persistence.ErrRedisDisabled)
	resp, payload := s.do(t, http.MethodGet, "/health/ready", "", "")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "disabled", payload["dependencies"].(map[string]any)["redis"])

	down := newTestServer(t, errors.New("connection refused"))
	resp, _ = down.do(t, http.MethodGet, "/health/ready", "", "")
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
}

func TestMetricsEndpoint(t *testing.T) {
	s := newTestServer(t, nil)
	s.do(t, http.MethodGet, "/health/live", "", "")

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	resp, err := s.app.Test(req)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Contains(t, string(raw), "http_requests_total")
}

// retainingWorkflow keeps the state ids exactly as received, without copying.
type retainingWorkflow struct {
	fakeWorkflow
	states []string
}

func (r *retainingWorkflow) UpdateState(_ context.Context, _, state string, _ service.StateExtra) (*service.Result, error) {
	r.states = append(r.states, state)
	return &service.Result{Message: "ok", Changed: true}, nil
}

func TestRouteParamsOutliveTheRequest(t *testing.T) {
	wf := &retainingWorkflow{}
	s := newTestServerWith(t, nil, wf)

	resp, _ := s.do(t, http.MethodPut, "/tickets/tk-1/states/in_service", "d-1", "")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	resp, _ = s.do(t, http.MethodPut, "/tickets/tk-1/states/coordinate", "d-1", "")
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	assert.Equal(t, []string{"in_service", "coordinate"}, wf.states)
}

func TestUnassignTechnicianWithoutID(t *testing.T) {
	s := newTestServer(t, nil)

	resp, _ := s.do(t, http.MethodDelete, "/tickets/tk-1/technicians", "d-1", "")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	require.Len(t, s.workflow.calls, 1)
	assert.Equal(t, call{"unassignTechnician", []string{"tk-1", "", "d-1"}}, s.workflow.calls[0])
}
