package handler

import (
	"context"
	"log/slog"
	"net/http"
	"testing"

	"github.com/go-chi/chi/v5"

	"dhfcore/internal/audittrail"
	auditmemory "dhfcore/internal/audittrail/store/memory"
	phaseservice "dhfcore/internal/phasegate/service"
	phasememory "dhfcore/internal/phasegate/store/memory"
	"dhfcore/internal/project/service"
	"dhfcore/internal/project/store/memory"
	id "dhfcore/pkg/domain"
	dErrors "dhfcore/pkg/domain-errors"
	"dhfcore/pkg/testutil"
)

type noopCounter struct{}

func (noopCounter) CountByProjectAndKind(context.Context, id.ProjectID, id.ArtifactKind) (int, int, error) {
	return 0, 0, nil
}

func newProjectRouter(t *testing.T) chi.Router {
	t.Helper()
	recorder := audittrail.NewRecorder(auditmemory.New())
	projectTx := phaseservice.NewMemoryProjectTx()
	phaseSvc := phaseservice.New(
		phasememory.NewPhaseStore(),
		phasememory.NewInstanceStore(),
		noopCounter{},
		recorder,
		projectTx,
	)
	svc := service.New(memory.New(), phaseSvc, recorder, projectTx)

	router := chi.NewRouter()
	New(svc, slog.Default()).Register(router)
	return router
}

func TestCreateAndGetProject(t *testing.T) {
	router := newProjectRouter(t)
	actor := id.NewActorID()

	req := testutil.NewJSONRequest(t, http.MethodPost, "/projects",
		map[string]string{"name": "Infusion Pump G2", "description": "next-gen pump"})
	rec := testutil.DoRequest(router, testutil.WithActor(req, actor))
	testutil.AssertStatus(t, rec, http.StatusCreated)

	created := testutil.UnmarshalResponse[projectResponse](t, rec)
	if created.ID == "" {
		t.Fatal("expected project id in response")
	}
	if created.Name != "Infusion Pump G2" {
		t.Fatalf("unexpected name %q", created.Name)
	}
	if created.CreatedBy != actor.String() {
		t.Fatalf("expected created_by %s, got %s", actor, created.CreatedBy)
	}

	getReq := testutil.NewRequest(t, http.MethodGet, "/projects/"+created.ID)
	getRec := testutil.DoRequest(router, getReq)
	testutil.AssertStatus(t, getRec, http.StatusOK)

	fetched := testutil.UnmarshalResponse[projectResponse](t, getRec)
	if fetched.ID != created.ID {
		t.Fatalf("expected project %s, got %s", created.ID, fetched.ID)
	}
}

func TestCreateProjectRequiresName(t *testing.T) {
	router := newProjectRouter(t)

	req := testutil.NewJSONRequest(t, http.MethodPost, "/projects", map[string]string{"name": ""})
	rec := testutil.DoRequest(router, testutil.WithActor(req, id.NewActorID()))
	testutil.AssertStatusAndError(t, rec, http.StatusBadRequest, string(dErrors.CodeValidation))
}

func TestGetUnknownProject(t *testing.T) {
	router := newProjectRouter(t)

	req := testutil.NewRequest(t, http.MethodGet, "/projects/"+id.NewProjectID().String())
	rec := testutil.DoRequest(router, req)
	testutil.AssertStatusAndError(t, rec, http.StatusNotFound, string(dErrors.CodeNotFound))
}

func TestGetProjectRejectsMalformedID(t *testing.T) {
	router := newProjectRouter(t)

	req := testutil.NewRequest(t, http.MethodGet, "/projects/not-a-uuid")
	rec := testutil.DoRequest(router, req)
	testutil.AssertStatusAndError(t, rec, http.StatusBadRequest, string(dErrors.CodeInvalidInput))
}

func TestListProjects(t *testing.T) {
	router := newProjectRouter(t)
	actor := id.NewActorID()

	for _, name := range []string{"Pump", "Monitor"} {
		req := testutil.NewJSONRequest(t, http.MethodPost, "/projects", map[string]string{"name": name})
		rec := testutil.DoRequest(router, testutil.WithActor(req, actor))
		testutil.AssertStatus(t, rec, http.StatusCreated)
	}

	rec := testutil.DoRequest(router, testutil.NewRequest(t, http.MethodGet, "/projects"))
	testutil.AssertStatus(t, rec, http.StatusOK)

	projects := testutil.UnmarshalResponse[[]projectResponse](t, rec)
	if len(*projects) != 2 {
		t.Fatalf("expected 2 projects, got %d", len(*projects))
	}
}
