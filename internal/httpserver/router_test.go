package httpserver

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"estatecrm/internal/handler"
	"estatecrm/internal/model"
	"estatecrm/internal/service/analytics"
	"estatecrm/internal/service/deal"
	"estatecrm/internal/service/history"
	"estatecrm/internal/service/pipeline"
	"estatecrm/internal/store/memstore"
	"estatecrm/pkg/lock"
	"estatecrm/pkg/rbac"
	"estatecrm/pkg/util"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

const secret = "test-secret"

type fakePinger struct{ err error }

func (p fakePinger) Ping(context.Context) error { return p.err }

type fakeConn struct{ up bool }

func (c fakeConn) IsConnected() bool { return c.up }

func newTestRouter(t *testing.T, opts Options) *gin.Engine {
	t.Helper()
	gin.SetMode(gin.TestMode)
	log := zap.NewNop()
	st := memstore.New()

	pipelines := pipeline.NewService(st, st, lock.NewLocalLocker(), time.Now, log)
	deals := deal.NewService(st, time.Now, log)
	hist := history.NewService(st, log)

	opts.JWTSecret = secret
	return NewRouter(Handlers{
		Pipelines: handler.NewPipelineHandler(pipelines, log),
		Stages:    handler.NewStageHandler(pipelines, log),
		Deals:     handler.NewDealHandler(deals, hist, log),
		Analytics: handler.NewAnalyticsHandler(analytics.NewService(st, time.Now, log), log),
		History:   handler.NewHistoryHandler(hist, log),
		Directory: handler.NewDirectoryHandler(st, log),
	}, opts, log)
}

func token(t *testing.T, role string) string {
	t.Helper()
	tok, err := util.GenerateJWT("user-"+role, role, secret, time.Hour)
	require.NoError(t, err)
	return tok
}

type client struct {
	t      *testing.T
	router *gin.Engine
	token  string
}

func (c client) do(method, path string, body any, headers ...string) *httptest.ResponseRecorder {
	c.t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(c.t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}
	w := httptest.NewRecorder()
	c.router.ServeHTTP(w, req)
	return w
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &v), w.Body.String())
	return v
}

func TestHealthEndpoints(t *testing.T) {
	r := newTestRouter(t, Options{})
	c := client{t: t, router: r}

	assert.Equal(t, http.StatusOK, c.do(http.MethodGet, "/healthz", nil).Code)
	assert.Equal(t, http.StatusOK, c.do(http.MethodHead, "/health", nil).Code)
	assert.Equal(t, http.StatusOK, c.do(http.MethodGet, "/readyz", nil).Code)
	assert.Equal(t, http.StatusOK, c.do(http.MethodGet, "/metrics", nil).Code)
}

func TestReadiness(t *testing.T) {
	down := client{t: t, router: newTestRouter(t, Options{DB: fakePinger{err: errors.New("refused")}})}
	w := down.do(http.MethodGet, "/readyz", nil)
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	assert.Contains(t, w.Body.String(), "db_not_ready")

	noMQ := client{t: t, router: newTestRouter(t, Options{DB: fakePinger{}, MQ: fakeConn{up: false}})}
	w = noMQ.do(http.MethodGet, "/readyz", nil)
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	assert.Contains(t, w.Body.String(), "mq_not_ready")

	ok := client{t: t, router: newTestRouter(t, Options{DB: fakePinger{}, MQ: fakeConn{up: true}})}
	assert.Equal(t, http.StatusOK, ok.do(http.MethodGet, "/readyz", nil).Code)
}

func TestTraceIDPropagates(t *testing.T) {
	c := client{t: t, router: newTestRouter(t, Options{})}
	w := c.do(http.MethodGet, "/healthz", nil, "X-Trace-ID", "trace-123")
	assert.Equal(t, "trace-123", w.Header().Get("X-Trace-ID"))

	w = c.do(http.MethodGet, "/healthz", nil)
	assert.NotEmpty(t, w.Header().Get("X-Trace-ID"))
}

func TestAuthorization(t *testing.T) {
	r := newTestRouter(t, Options{})

	anonymous := client{t: t, router: r}
	assert.Equal(t, http.StatusUnauthorized, anonymous.do(http.MethodGet, "/api/pipelines", nil).Code)

	forged := client{t: t, router: r, token: "not-a-jwt"}
	assert.Equal(t, http.StatusUnauthorized, forged.do(http.MethodGet, "/api/pipelines", nil).Code)

	agent := client{t: t, router: r, token: token(t, rbac.RoleAgent)}
	assert.Equal(t, http.StatusOK, agent.do(http.MethodGet, "/api/pipelines", nil).Code)
	assert.Equal(t, http.StatusForbidden, agent.do(http.MethodPost, "/api/pipelines", map[string]string{"name": "X"}).Code)
	assert.Equal(t, http.StatusForbidden, agent.do(http.MethodDelete, "/api/deals/"+uuid.NewString(), nil).Code)
}

// crmFlow seeds a pipeline with three stages and a client through the API.
type crmFlow struct {
	admin    client
	pipeline model.Pipeline
	stages   []model.Stage
	clientID string
}

func newFlow(t *testing.T) crmFlow {
	t.Helper()
	r := newTestRouter(t, Options{})
	admin := client{t: t, router: r, token: token(t, rbac.RoleAdmin)}

	w := admin.do(http.MethodPost, "/api/pipelines", map[string]string{"name": "Purchase"})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	p := decode[model.Pipeline](t, w)

	var stages []model.Stage
	for i, name := range []string{"Contact", "Viewing", "Deal"} {
		w := admin.do(http.MethodPost, "/api/stages", map[string]any{
			"pipeline_id":       p.ID.String(),
			"name":              name,
			"order":             i,
			"expected_duration": "48h",
		})
		require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
		stages = append(stages, decode[model.Stage](t, w))
	}

	clientID := uuid.NewString()
	w = admin.do(http.MethodPut, "/api/clients/"+clientID, map[string]string{"full_name": "Maria Ivanova"})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	return crmFlow{admin: admin, pipeline: p, stages: stages, clientID: clientID}
}

func (f crmFlow) createDeal(t *testing.T) model.Deal {
	t.Helper()
	w := f.admin.do(http.MethodPost, "/api/deals", map[string]any{
		"title":       "Two-room flat",
		"client_id":   f.clientID,
		"pipeline_id": f.pipeline.ID.String(),
		"stage_id":    f.stages[0].ID.String(),
		"amount":      "12500000",
	})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	assert.Equal(t, `"1"`, w.Header().Get("ETag"))
	return decode[model.Deal](t, w)
}

type dealList struct {
	Deals []model.Deal `json:"deals"`
	Count int          `json:"count"`
}

type moveResponse struct {
	Success bool        `json:"success"`
	Message string      `json:"message"`
	Deal    *model.Deal `json:"deal"`
}

func TestMoveStage(t *testing.T) {
	f := newFlow(t)
	d := f.createDeal(t)
	path := "/api/deals/" + d.ID.String() + "/move-stage"

	w := f.admin.do(http.MethodPost, path, map[string]string{"stage_id": f.stages[2].ID.String()})
	assert.Equal(t, http.StatusUnprocessableEntity, w.Code)
	res := decode[moveResponse](t, w)
	assert.False(t, res.Success)
	assert.Contains(t, res.Message, "cannot skip stages")

	w = f.admin.do(http.MethodPost, path, map[string]string{"stage_id": f.stages[0].ID.String()})
	assert.Equal(t, http.StatusUnprocessableEntity, w.Code)

	w = f.admin.do(http.MethodPost, path, map[string]string{"stage_id": "nope"})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = f.admin.do(http.MethodPost, path, map[string]string{"stage_id": f.stages[1].ID.String(), "notes": "viewing on friday"})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	res = decode[moveResponse](t, w)
	assert.True(t, res.Success)
	assert.Equal(t, f.stages[1].ID, res.Deal.CurrentStageID)
	assert.Equal(t, `"2"`, w.Header().Get("ETag"))

	w = f.admin.do(http.MethodGet, "/api/deals/"+d.ID.String()+"/history", nil)
	require.Equal(t, http.StatusOK, w.Code)
	entries := decode[struct {
		History []model.HistoryEntry `json:"history"`
	}](t, w).History
	require.Len(t, entries, 1)
	assert.Equal(t, "viewing on friday", entries[0].Notes)
}

func TestMoveStageIfMatch(t *testing.T) {
	f := newFlow(t)
	d := f.createDeal(t)
	path := "/api/deals/" + d.ID.String() + "/move-stage"
	body := map[string]string{"stage_id": f.stages[1].ID.String()}

	w := f.admin.do(http.MethodPost, path, body, "If-Match", `"5"`)
	assert.Equal(t, http.StatusConflict, w.Code)

	w = f.admin.do(http.MethodPost, path, body, "If-Match", "garbage")
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = f.admin.do(http.MethodPost, path, body, "If-Match", `"1"`)
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestValidateMove(t *testing.T) {
	f := newFlow(t)
	d := f.createDeal(t)
	base := "/api/deals/" + d.ID.String() + "/validate-move?stage_id="

	w := f.admin.do(http.MethodGet, base+f.stages[1].ID.String(), nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.True(t, decode[moveResponse](t, w).Success)

	w = f.admin.do(http.MethodGet, base+f.stages[2].ID.String(), nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.False(t, decode[moveResponse](t, w).Success)

	w = f.admin.do(http.MethodGet, base+"bad", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestDealErrors(t *testing.T) {
	f := newFlow(t)

	w := f.admin.do(http.MethodGet, "/api/deals/"+uuid.NewString(), nil)
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = f.admin.do(http.MethodGet, "/api/deals/not-a-uuid", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = f.admin.do(http.MethodPost, "/api/deals", map[string]any{
		"title":       "",
		"client_id":   f.clientID,
		"pipeline_id": f.pipeline.ID.String(),
		"stage_id":    f.stages[0].ID.String(),
	})
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "title", decode[map[string]any](t, w)["field"])

	w = f.admin.do(http.MethodPost, "/api/deals", map[string]any{
		"title":       "Flat",
		"client_id":   uuid.NewString(),
		"pipeline_id": f.pipeline.ID.String(),
		"stage_id":    f.stages[0].ID.String(),
	})
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestCloseReopenAndLists(t *testing.T) {
	f := newFlow(t)
	d := f.createDeal(t)
	id := d.ID.String()

	w := f.admin.do(http.MethodPost, "/api/deals/"+id+"/close", nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.False(t, decode[model.Deal](t, w).IsActive)

	w = f.admin.do(http.MethodGet, "/api/deals/active", nil)
	assert.Zero(t, decode[dealList](t, w).Count)

	w = f.admin.do(http.MethodGet, "/api/clients/"+f.clientID+"/deals", nil)
	assert.Len(t, decode[dealList](t, w).Deals, 1)

	w = f.admin.do(http.MethodPost, "/api/deals/"+id+"/reopen", nil)
	require.Equal(t, http.StatusOK, w.Code)

	w = f.admin.do(http.MethodGet, "/api/stages/"+f.stages[0].ID.String()+"/deals", nil)
	assert.Len(t, decode[dealList](t, w).Deals, 1)

	w = f.admin.do(http.MethodDelete, "/api/stages/"+f.stages[0].ID.String(), nil)
	assert.Equal(t, http.StatusConflict, w.Code, "stage still holds a deal")

	w = f.admin.do(http.MethodDelete, "/api/deals/"+id, nil)
	assert.Equal(t, http.StatusNoContent, w.Code)
}

func TestPipelineEndpoints(t *testing.T) {
	f := newFlow(t)

	w := f.admin.do(http.MethodPost, "/api/pipelines", map[string]string{"name": "Purchase"})
	assert.Equal(t, http.StatusConflict, w.Code)

	w = f.admin.do(http.MethodGet, "/api/pipelines/"+f.pipeline.ID.String()+"/with-stages", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Len(t, decode[model.Pipeline](t, w).Stages, 3)

	w = f.admin.do(http.MethodGet, "/api/stages/"+f.stages[2].ID.String()+"/next", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = f.admin.do(http.MethodGet, "/api/stages/"+f.stages[0].ID.String()+"/next", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, f.stages[1].ID, decode[model.Stage](t, w).ID)

	w = f.admin.do(http.MethodPost, "/api/stages", map[string]any{
		"pipeline_id": f.pipeline.ID.String(),
		"name":        "Duplicate",
		"order":       1,
	})
	assert.Equal(t, http.StatusConflict, w.Code)

	w = f.admin.do(http.MethodPost, "/api/pipelines/initialize-defaults", nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	w = f.admin.do(http.MethodGet, "/api/pipelines", nil)
	pipelines := decode[struct {
		Pipelines []model.Pipeline `json:"pipelines"`
	}](t, w).Pipelines
	assert.Len(t, pipelines, 3, "Purchase already existed")
}

func TestAnalyticsEndpoints(t *testing.T) {
	f := newFlow(t)
	f.createDeal(t)
	base := "/api/pipelines/" + f.pipeline.ID.String() + "/analytics/"

	w := f.admin.do(http.MethodGet, base+"deals", nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, float64(1), decode[map[string]any](t, w)["total_deals"])

	w = f.admin.do(http.MethodGet, base+"stages", nil)
	require.Equal(t, http.StatusOK, w.Code)

	w = f.admin.do(http.MethodGet, base+"property-types", nil)
	require.Equal(t, http.StatusOK, w.Code)

	agent := client{t: t, router: f.admin.router, token: token(t, rbac.RoleAgent)}
	assert.Equal(t, http.StatusForbidden, agent.do(http.MethodGet, base+"deals", nil).Code)
}
