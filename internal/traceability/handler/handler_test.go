package handler

import (
	"log/slog"
	"net/http"
	"testing"

	"github.com/go-chi/chi/v5"

	"dhfcore/internal/audittrail"
	auditmemory "dhfcore/internal/audittrail/store/memory"
	phaseservice "dhfcore/internal/phasegate/service"
	"dhfcore/internal/traceability/service"
	"dhfcore/internal/traceability/store/memory"
	id "dhfcore/pkg/domain"
	dErrors "dhfcore/pkg/domain-errors"
	"dhfcore/pkg/testutil"
)

func newTraceRouter(t *testing.T) chi.Router {
	t.Helper()
	recorder := audittrail.NewRecorder(auditmemory.New())
	svc := service.New(
		memory.NewArtifactStore(),
		memory.NewLinkStore(),
		recorder,
		phaseservice.NewMemoryProjectTx(),
	)
	router := chi.NewRouter()
	New(svc, slog.Default()).Register(router)
	return router
}

func createArtifact(t *testing.T, router chi.Router, projectID id.ProjectID, actor id.ActorID, kind, code string) artifactResponse {
	t.Helper()
	req := testutil.NewJSONRequest(t, http.MethodPost,
		"/projects/"+projectID.String()+"/artifacts",
		map[string]string{"kind": kind, "code": code})
	rec := testutil.DoRequest(router, testutil.WithActor(req, actor))
	testutil.AssertStatus(t, rec, http.StatusCreated)
	return *testutil.UnmarshalResponse[artifactResponse](t, rec)
}

func TestCreateAndGetArtifact(t *testing.T) {
	router := newTraceRouter(t)
	projectID := id.NewProjectID()
	actor := id.NewActorID()

	created := createArtifact(t, router, projectID, actor, string(id.KindUserNeed), "UN-1")
	if created.Status != string(id.ArtifactDraft) || created.Version != 0 {
		t.Fatalf("expected draft at version 0, got %+v", created)
	}
	if created.CreatedBy != actor.String() {
		t.Fatalf("expected created_by %s, got %s", actor, created.CreatedBy)
	}

	req := testutil.NewRequest(t, http.MethodGet, "/artifacts/"+created.ID)
	rec := testutil.DoRequest(router, req)
	testutil.AssertStatus(t, rec, http.StatusOK)

	got := testutil.UnmarshalResponse[artifactResponse](t, rec)
	if got.Code != "UN-1" || got.Kind != string(id.KindUserNeed) {
		t.Fatalf("expected UN-1 user_need back, got %+v", got)
	}
}

func TestCreateArtifactUnknownKind(t *testing.T) {
	router := newTraceRouter(t)

	req := testutil.NewJSONRequest(t, http.MethodPost,
		"/projects/"+id.NewProjectID().String()+"/artifacts",
		map[string]string{"kind": "blueprint", "code": "BP-1"})
	rec := testutil.DoRequest(router, testutil.WithActor(req, id.NewActorID()))
	testutil.AssertStatusAndError(t, rec, http.StatusBadRequest, string(dErrors.CodeInvalidInput))
}

func TestGetArtifactRejectsMalformedID(t *testing.T) {
	router := newTraceRouter(t)

	req := testutil.NewRequest(t, http.MethodGet, "/artifacts/not-a-uuid")
	rec := testutil.DoRequest(router, req)
	testutil.AssertStatusAndError(t, rec, http.StatusBadRequest, string(dErrors.CodeInvalidInput))
}

func TestUpdateArtifactRequiresVersion(t *testing.T) {
	router := newTraceRouter(t)
	projectID := id.NewProjectID()
	actor := id.NewActorID()
	created := createArtifact(t, router, projectID, actor, string(id.KindUserNeed), "UN-1")

	desc := "pump must alarm on occlusion"
	req := testutil.NewJSONRequest(t, http.MethodPatch, "/artifacts/"+created.ID,
		map[string]string{"description": desc})
	rec := testutil.DoRequest(router, testutil.WithActor(req, actor))
	testutil.AssertStatusAndError(t, rec, http.StatusBadRequest, string(dErrors.CodeValidation))
}

func TestUpdateArtifactStaleVersion(t *testing.T) {
	router := newTraceRouter(t)
	projectID := id.NewProjectID()
	actor := id.NewActorID()
	created := createArtifact(t, router, projectID, actor, string(id.KindUserNeed), "UN-1")

	req := testutil.NewJSONRequest(t, http.MethodPatch, "/artifacts/"+created.ID,
		map[string]any{"version": created.Version + 5, "description": "stale edit"})
	rec := testutil.DoRequest(router, testutil.WithActor(req, actor))
	testutil.AssertStatusAndError(t, rec, http.StatusConflict, string(dErrors.CodeConflict))
}

func TestAddAndRemoveLink(t *testing.T) {
	router := newTraceRouter(t)
	projectID := id.NewProjectID()
	actor := id.NewActorID()
	un := createArtifact(t, router, projectID, actor, string(id.KindUserNeed), "UN-1")
	di := createArtifact(t, router, projectID, actor, string(id.KindDesignInput), "DI-1")

	add := testutil.NewJSONRequest(t, http.MethodPost, "/links", map[string]string{
		"source_id": un.ID, "source_kind": un.Kind,
		"target_id": di.ID, "target_kind": di.Kind,
	})
	rec := testutil.DoRequest(router, testutil.WithActor(add, actor))
	testutil.AssertStatus(t, rec, http.StatusCreated)
	link := testutil.UnmarshalResponse[linkResponse](t, rec)

	dup := testutil.NewJSONRequest(t, http.MethodPost, "/links", map[string]string{
		"source_id": un.ID, "source_kind": un.Kind,
		"target_id": di.ID, "target_kind": di.Kind,
	})
	rec = testutil.DoRequest(router, testutil.WithActor(dup, actor))
	testutil.AssertStatusAndError(t, rec, http.StatusConflict, string(dErrors.CodeDuplicateLink))

	remove := testutil.NewRequest(t, http.MethodDelete, "/links/"+link.ID)
	rec = testutil.DoRequest(router, testutil.WithActor(remove, actor))
	testutil.AssertStatus(t, rec, http.StatusNoContent)

	again := testutil.NewRequest(t, http.MethodDelete, "/links/"+link.ID)
	rec = testutil.DoRequest(router, testutil.WithActor(again, actor))
	testutil.AssertStatusAndError(t, rec, http.StatusNotFound, string(dErrors.CodeNotFound))
}

func TestAddLinkOffWhitelist(t *testing.T) {
	router := newTraceRouter(t)
	projectID := id.NewProjectID()
	actor := id.NewActorID()
	di := createArtifact(t, router, projectID, actor, string(id.KindDesignInput), "DI-1")
	ver := createArtifact(t, router, projectID, actor, string(id.KindVerification), "VER-1")

	req := testutil.NewJSONRequest(t, http.MethodPost, "/links", map[string]string{
		"source_id": di.ID, "source_kind": di.Kind,
		"target_id": ver.ID, "target_kind": ver.Kind,
	})
	rec := testutil.DoRequest(router, testutil.WithActor(req, actor))
	testutil.AssertStatusAndError(t, rec, http.StatusUnprocessableEntity, string(dErrors.CodeInvalidLinkType))
}

func TestProjectGraph(t *testing.T) {
	router := newTraceRouter(t)
	projectID := id.NewProjectID()
	actor := id.NewActorID()
	un := createArtifact(t, router, projectID, actor, string(id.KindUserNeed), "UN-1")
	di := createArtifact(t, router, projectID, actor, string(id.KindDesignInput), "DI-1")
	createArtifact(t, router, projectID, actor, string(id.KindDesignOutput), "DO-1")

	add := testutil.NewJSONRequest(t, http.MethodPost, "/links", map[string]string{
		"source_id": un.ID, "source_kind": un.Kind,
		"target_id": di.ID, "target_kind": di.Kind,
	})
	rec := testutil.DoRequest(router, testutil.WithActor(add, actor))
	testutil.AssertStatus(t, rec, http.StatusCreated)

	req := testutil.NewRequest(t, http.MethodGet, "/projects/"+projectID.String()+"/traceability")
	rec = testutil.DoRequest(router, req)
	testutil.AssertStatus(t, rec, http.StatusOK)

	graph := testutil.UnmarshalResponse[service.Graph](t, rec)
	if len(graph.Artifacts) != 3 || len(graph.Links) != 1 {
		t.Fatalf("expected 3 artifacts and 1 link, got %d and %d", len(graph.Artifacts), len(graph.Links))
	}
	orphans := 0
	for _, node := range graph.Artifacts {
		if node.Orphaned {
			orphans++
		}
	}
	if orphans != 1 {
		t.Fatalf("expected only the unlinked design output flagged, got %d orphans", orphans)
	}
}
