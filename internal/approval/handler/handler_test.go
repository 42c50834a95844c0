package handler

import (
	"context"
	"log/slog"
	"net/http"
	"testing"

	"github.com/go-chi/chi/v5"

	"dhfcore/internal/approval/service"
	reviewmemory "dhfcore/internal/approval/store/memory"
	"dhfcore/internal/audittrail"
	auditmemory "dhfcore/internal/audittrail/store/memory"
	phasemodels "dhfcore/internal/phasegate/models"
	phaseservice "dhfcore/internal/phasegate/service"
	phasememory "dhfcore/internal/phasegate/store/memory"
	id "dhfcore/pkg/domain"
	dErrors "dhfcore/pkg/domain-errors"
	"dhfcore/pkg/testutil"
)

type noopCounter struct{}

func (noopCounter) CountByProjectAndKind(context.Context, id.ProjectID, id.ArtifactKind) (int, int, error) {
	return 0, 0, nil
}

func newReviewRouter(t *testing.T) (chi.Router, *phaseservice.Service) {
	t.Helper()
	recorder := audittrail.NewRecorder(auditmemory.New())
	projectTx := phaseservice.NewMemoryProjectTx()
	instances := phasememory.NewInstanceStore()
	phases := phasememory.NewPhaseStore()
	phaseSvc := phaseservice.New(phases, instances, noopCounter{}, recorder, projectTx)
	svc := service.New(instances, phases, reviewmemory.New(), recorder,
		service.NewRoleAuthorizer("approver"), projectTx)

	router := chi.NewRouter()
	New(svc, slog.Default()).Register(router)
	return router, phaseSvc
}

// gateUnderReview drives a fresh project's Inputs phase to under_review and
// returns its instance id.
func gateUnderReview(t *testing.T, phaseSvc *phaseservice.Service, actor id.ActorID) id.InstanceID {
	t.Helper()
	ctx := context.Background()
	projectID := id.NewProjectID()
	if _, err := phaseSvc.SeedInstances(ctx, projectID, actor); err != nil {
		t.Fatalf("seed instances: %v", err)
	}

	planning, err := phaseSvc.ActivatePhase(ctx, projectID, phasemodels.PhasePlanningID, actor)
	if err != nil {
		t.Fatalf("activate planning: %v", err)
	}
	if _, err := phaseSvc.SubmitForReview(ctx, planning.ID, actor); err != nil {
		t.Fatalf("submit planning: %v", err)
	}
	if _, err := phaseSvc.CompleteNonGate(ctx, planning.ID, actor); err != nil {
		t.Fatalf("complete planning: %v", err)
	}

	inputs, err := phaseSvc.ActivatePhase(ctx, projectID, phasemodels.PhaseInputsID, actor)
	if err != nil {
		t.Fatalf("activate inputs: %v", err)
	}
	if _, err := phaseSvc.SubmitForReview(ctx, inputs.ID, actor); err != nil {
		t.Fatalf("submit inputs: %v", err)
	}
	return inputs.ID
}

func TestApproveGate(t *testing.T) {
	router, phaseSvc := newReviewRouter(t)
	actor := id.NewActorID()
	instanceID := gateUnderReview(t, phaseSvc, actor)

	req := testutil.NewJSONRequest(t, http.MethodPost,
		"/phase-instances/"+instanceID.String()+"/approve",
		map[string]string{"comments": "inputs complete", "identity": "J. Rivera, QA Lead"})
	rec := testutil.DoRequest(router, testutil.WithActor(req, actor, "approver"))
	testutil.AssertStatus(t, rec, http.StatusCreated)

	review := testutil.UnmarshalResponse[reviewResponse](t, rec)
	if review.Decision != "approved" {
		t.Fatalf("expected approved, got %s", review.Decision)
	}
	if review.Identity != "J. Rivera, QA Lead" {
		t.Fatalf("expected signer identity echoed, got %s", review.Identity)
	}
	if review.ContentHash == "" || review.SignedAt == "" {
		t.Fatalf("expected signature fields populated, got %+v", review)
	}
}

func TestRejectGate(t *testing.T) {
	router, phaseSvc := newReviewRouter(t)
	actor := id.NewActorID()
	instanceID := gateUnderReview(t, phaseSvc, actor)

	req := testutil.NewJSONRequest(t, http.MethodPost,
		"/phase-instances/"+instanceID.String()+"/reject",
		map[string]string{"comments": "traceability gaps"})
	rec := testutil.DoRequest(router, testutil.WithActor(req, actor, "approver"))
	testutil.AssertStatus(t, rec, http.StatusCreated)

	review := testutil.UnmarshalResponse[reviewResponse](t, rec)
	if review.Decision != "rejected" {
		t.Fatalf("expected rejected, got %s", review.Decision)
	}
	if review.Identity != actor.String() {
		t.Fatalf("expected identity to default to actor id, got %s", review.Identity)
	}
}

func TestApproveRequiresRole(t *testing.T) {
	router, phaseSvc := newReviewRouter(t)
	actor := id.NewActorID()
	instanceID := gateUnderReview(t, phaseSvc, actor)

	req := testutil.NewJSONRequest(t, http.MethodPost,
		"/phase-instances/"+instanceID.String()+"/approve", map[string]string{})
	rec := testutil.DoRequest(router, testutil.WithActor(req, actor))
	testutil.AssertStatusAndError(t, rec, http.StatusForbidden, string(dErrors.CodeForbidden))
}

func TestApproveTwice(t *testing.T) {
	router, phaseSvc := newReviewRouter(t)
	actor := id.NewActorID()
	instanceID := gateUnderReview(t, phaseSvc, actor)

	first := testutil.NewJSONRequest(t, http.MethodPost,
		"/phase-instances/"+instanceID.String()+"/approve", map[string]string{})
	rec := testutil.DoRequest(router, testutil.WithActor(first, actor, "approver"))
	testutil.AssertStatus(t, rec, http.StatusCreated)

	second := testutil.NewJSONRequest(t, http.MethodPost,
		"/phase-instances/"+instanceID.String()+"/approve", map[string]string{})
	rec = testutil.DoRequest(router, testutil.WithActor(second, id.NewActorID(), "approver"))
	testutil.AssertStatusAndError(t, rec, http.StatusConflict, string(dErrors.CodeDuplicateApproval))
}

func TestApproveUnknownInstance(t *testing.T) {
	router, _ := newReviewRouter(t)

	req := testutil.NewJSONRequest(t, http.MethodPost,
		"/phase-instances/"+id.NewInstanceID().String()+"/approve", map[string]string{})
	rec := testutil.DoRequest(router, testutil.WithActor(req, id.NewActorID(), "approver"))
	testutil.AssertStatusAndError(t, rec, http.StatusNotFound, string(dErrors.CodeNotFound))
}

func TestApproveRejectsMalformedID(t *testing.T) {
	router, _ := newReviewRouter(t)

	req := testutil.NewJSONRequest(t, http.MethodPost,
		"/phase-instances/not-a-uuid/approve", map[string]string{})
	rec := testutil.DoRequest(router, req)
	testutil.AssertStatusAndError(t, rec, http.StatusBadRequest, string(dErrors.CodeInvalidInput))
}

func TestListReviews(t *testing.T) {
	router, phaseSvc := newReviewRouter(t)
	actor := id.NewActorID()
	instanceID := gateUnderReview(t, phaseSvc, actor)

	approve := testutil.NewJSONRequest(t, http.MethodPost,
		"/phase-instances/"+instanceID.String()+"/approve", map[string]string{})
	rec := testutil.DoRequest(router, testutil.WithActor(approve, actor, "approver"))
	testutil.AssertStatus(t, rec, http.StatusCreated)

	list := testutil.NewRequest(t, http.MethodGet,
		"/phase-instances/"+instanceID.String()+"/reviews")
	rec = testutil.DoRequest(router, testutil.WithActor(list, actor))
	testutil.AssertStatus(t, rec, http.StatusOK)

	reviews := testutil.UnmarshalResponse[[]reviewResponse](t, rec)
	if len(*reviews) != 1 {
		t.Fatalf("expected 1 review, got %d", len(*reviews))
	}
}
