package engine_test

import (
	"context"
	"errors"
	"sort"
	"sync"
	"testing"
	"time"

	"requestline/internal/app"
	"requestline/internal/domain"
	"requestline/internal/engine"
	"requestline/internal/repo"
)

type testEnv struct {
	Engine engine.Engine
	Ctx    context.Context
}

func newTestEnv(t *testing.T) testEnv {
	t.Helper()
	ctx := context.Background()
	a, err := app.Open(ctx, t.TempDir())
	if err != nil {
		t.Fatalf("open workspace: %v", err)
	}
	t.Cleanup(func() { a.Close() })
	eng := a.Engine
	eng.Now = func() time.Time { return time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC) }
	return testEnv{Engine: eng, Ctx: ctx}
}

func createRequest(t *testing.T, env testEnv, actor string) domain.Request {
	t.Helper()
	req, err := env.Engine.Create(env.Ctx, engine.CreateOptions{
		Type:      "access-change",
		System:    "erp",
		Requester: "Alice",
		Reason:    "grant finance role",
		ActorID:   actor,
	})
	if err != nil {
		t.Fatalf("create request: %v", err)
	}
	return req
}

func stepCount(t *testing.T, env testEnv, requestID string) int {
	t.Helper()
	n, err := env.Engine.Repo.CountSteps(env.Ctx, requestID)
	if err != nil {
		t.Fatalf("count steps: %v", err)
	}
	return n
}

func TestCreateAndApprove(t *testing.T) {
	env := newTestEnv(t)
	req := createRequest(t, env, "u1")
	if req.Status != domain.StatusCreated {
		t.Fatalf("expected created, got %s", req.Status)
	}
	if req.AssigneeID == nil || *req.AssigneeID != "u1" {
		t.Fatalf("expected assignee u1")
	}
	if got := stepCount(t, env, req.ID); got != 1 {
		t.Fatalf("expected 1 step after create, got %d", got)
	}
	req, err := env.Engine.Approve(env.Ctx, req.ID, "u1")
	if err != nil {
		t.Fatalf("approve: %v", err)
	}
	if req.Status != domain.StatusProcessing {
		t.Fatalf("expected processing, got %s", req.Status)
	}
	if got := stepCount(t, env, req.ID); got != 2 {
		t.Fatalf("expected 2 steps after approve, got %d", got)
	}
}

func TestCreateUnknownType(t *testing.T) {
	env := newTestEnv(t)
	_, err := env.Engine.Create(env.Ctx, engine.CreateOptions{Type: "bogus", ActorID: "u1"})
	var it engine.InvalidTypeError
	if !errors.As(err, &it) {
		t.Fatalf("expected InvalidTypeError, got %v", err)
	}
	if it.Code != "bogus" {
		t.Fatalf("unexpected code in error: %s", it.Code)
	}
}

func TestCreateWithClientID(t *testing.T) {
	env := newTestEnv(t)
	req, err := env.Engine.Create(env.Ctx, engine.CreateOptions{
		ID:      "req-2024-001",
		Type:    "access-change",
		ActorID: "u1",
	})
	if err != nil {
		t.Fatalf("create with id: %v", err)
	}
	if req.ID != "req-2024-001" {
		t.Fatalf("expected caller-chosen id, got %s", req.ID)
	}

	// reusing the id must fail with a typed error, not a constraint error
	_, err = env.Engine.Create(env.Ctx, engine.CreateOptions{
		ID:      "req-2024-001",
		Type:    "access-change",
		ActorID: "u2",
	})
	var ve engine.ValidationError
	if !errors.As(err, &ve) {
		t.Fatalf("expected ValidationError on duplicate id, got %v", err)
	}
	if ve.Field != "id" {
		t.Fatalf("unexpected field in error: %s", ve.Field)
	}
	if got := stepCount(t, env, req.ID); got != 1 {
		t.Fatalf("failed duplicate create must not add steps, got %d", got)
	}
}

func TestCompleteOnlyFromProcessing(t *testing.T) {
	env := newTestEnv(t)
	req := createRequest(t, env, "u1")

	// completing while still created must fail and leave nothing behind
	_, err := env.Engine.Complete(env.Ctx, engine.CompleteOptions{RequestID: req.ID, ActorID: "u1"})
	var tr engine.InvalidTransitionError
	if !errors.As(err, &tr) {
		t.Fatalf("expected InvalidTransitionError, got %v", err)
	}
	if got := stepCount(t, env, req.ID); got != 1 {
		t.Fatalf("failed complete must not add steps, got %d", got)
	}
	fresh, err := env.Engine.Repo.GetRequest(env.Ctx, req.ID)
	if err != nil {
		t.Fatal(err)
	}
	if fresh.Status != domain.StatusCreated || fresh.CompletionDate != nil {
		t.Fatalf("failed complete mutated the request")
	}

	if _, err := env.Engine.Approve(env.Ctx, req.ID, "u1"); err != nil {
		t.Fatal(err)
	}
	effort := 2.5
	done, err := env.Engine.Complete(env.Ctx, engine.CompleteOptions{
		RequestID:         req.ID,
		CompletionContent: "role granted",
		ActualEffort:      &effort,
		ActorID:           "u1",
	})
	if err != nil {
		t.Fatalf("complete: %v", err)
	}
	if done.Status != domain.StatusCompleted {
		t.Fatalf("expected completed, got %s", done.Status)
	}
	if done.ActualEffort == nil || *done.ActualEffort != 2.5 {
		t.Fatalf("expected actual effort recorded")
	}
	steps := stepCount(t, env, req.ID)

	// second complete in a row fails with InvalidTransition, no extra step
	_, err = env.Engine.Complete(env.Ctx, engine.CompleteOptions{RequestID: req.ID, ActorID: "u1"})
	if !errors.As(err, &tr) {
		t.Fatalf("expected InvalidTransitionError on double complete, got %v", err)
	}
	if got := stepCount(t, env, req.ID); got != steps {
		t.Fatalf("double complete added a step")
	}
}

func TestRejectExcludesComplete(t *testing.T) {
	env := newTestEnv(t)
	req := createRequest(t, env, "u1")
	if _, err := env.Engine.Approve(env.Ctx, req.ID, "u1"); err != nil {
		t.Fatal(err)
	}
	rejected, err := env.Engine.Reject(env.Ctx, req.ID, "out of scope", "u1")
	if err != nil {
		t.Fatalf("reject: %v", err)
	}
	if rejected.Status != domain.StatusCannotProcess || rejected.RejectReason != "out of scope" {
		t.Fatalf("unexpected reject outcome: %+v", rejected)
	}
	_, err = env.Engine.Complete(env.Ctx, engine.CompleteOptions{RequestID: req.ID, ActorID: "u1"})
	var tr engine.InvalidTransitionError
	if !errors.As(err, &tr) {
		t.Fatalf("expected InvalidTransitionError after reject, got %v", err)
	}
}

func TestAssignImpliesAcceptance(t *testing.T) {
	env := newTestEnv(t)
	req := createRequest(t, env, "u1")
	req, err := env.Engine.Assign(env.Ctx, req.ID, "u2", "u1")
	if err != nil {
		t.Fatalf("assign: %v", err)
	}
	if req.Status != domain.StatusProcessing {
		t.Fatalf("assignment in created must imply processing, got %s", req.Status)
	}
	if req.AssigneeID == nil || *req.AssigneeID != "u2" {
		t.Fatalf("expected assignee u2")
	}
	steps, err := env.Engine.Repo.ListSteps(env.Ctx, repo.StepFilters{RequestID: req.ID})
	if err != nil {
		t.Fatal(err)
	}
	last := steps[len(steps)-1]
	if last.Content != "assignee changed from u1 to u2" {
		t.Fatalf("unexpected step content: %q", last.Content)
	}

	// terminal status blocks assignment
	if _, err := env.Engine.Complete(env.Ctx, engine.CompleteOptions{RequestID: req.ID, ActorID: "u2"}); err != nil {
		t.Fatal(err)
	}
	_, err = env.Engine.Assign(env.Ctx, req.ID, "u3", "u1")
	var tr engine.InvalidTransitionError
	if !errors.As(err, &tr) {
		t.Fatalf("expected InvalidTransitionError on terminal assign, got %v", err)
	}
}

func TestSplitAndAccept(t *testing.T) {
	env := newTestEnv(t)
	parent := createRequest(t, env, "u1")
	if _, err := env.Engine.Approve(env.Ctx, parent.ID, "u1"); err != nil {
		t.Fatal(err)
	}
	parentSteps := stepCount(t, env, parent.ID)

	child, err := env.Engine.Split(env.Ctx, engine.SplitOptions{
		ParentID:     parent.ID,
		SplitContent: "HR part of the change",
		AssigneeID:   "u2",
		DueDate:      "2024-02-01",
		ActorID:      "u1",
	})
	if err != nil {
		t.Fatalf("split: %v", err)
	}
	if child.ParentID == nil || *child.ParentID != parent.ID {
		t.Fatalf("child must point at parent")
	}
	if child.Status != domain.StatusCreated {
		t.Fatalf("child starts created, got %s", child.Status)
	}
	if child.Type != parent.Type || child.Requester != parent.Requester {
		t.Fatalf("child must copy parent type and requester")
	}
	if got := stepCount(t, env, child.ID); got != 1 {
		t.Fatalf("child must gain exactly one step, got %d", got)
	}
	if got := stepCount(t, env, parent.ID); got != parentSteps+1 {
		t.Fatalf("parent must gain exactly one step, got %d", got)
	}
	fresh, err := env.Engine.Repo.GetRequest(env.Ctx, parent.ID)
	if err != nil {
		t.Fatal(err)
	}
	if fresh.Status != domain.StatusProcessing {
		t.Fatalf("split must not change parent status, got %s", fresh.Status)
	}

	effort := 1.25
	accepted, err := env.Engine.Accept(env.Ctx, engine.AcceptOptions{
		RequestID:        child.ID,
		ReceivingOpinion: "can do within the month",
		ExpectedEffort:   &effort,
		ActorID:          "u2",
	})
	if err != nil {
		t.Fatalf("accept: %v", err)
	}
	if accepted.Status != domain.StatusProcessing {
		t.Fatalf("accept moves child to processing, got %s", accepted.Status)
	}
	if accepted.ReceivingOpinion != "can do within the month" {
		t.Fatalf("opinion not recorded")
	}
}

func TestGetRootBoundedOnCycle(t *testing.T) {
	env := newTestEnv(t)
	a := createRequest(t, env, "u1")
	b, err := env.Engine.Split(env.Ctx, engine.SplitOptions{ParentID: a.ID, ActorID: "u1"})
	if err != nil {
		t.Fatal(err)
	}
	// corrupt the chain into a cycle
	if _, err := env.Engine.DB.Exec(`UPDATE requests SET parent_id=? WHERE id=?`, b.ID, a.ID); err != nil {
		t.Fatal(err)
	}
	if _, err := env.Engine.GetRoot(env.Ctx, b.ID); err == nil {
		t.Fatalf("expected cycle error from GetRoot")
	}
}

func TestSiblingsAndPredicates(t *testing.T) {
	env := newTestEnv(t)
	root := createRequest(t, env, "u1")
	c1, err := env.Engine.Split(env.Ctx, engine.SplitOptions{ParentID: root.ID, ActorID: "u1"})
	if err != nil {
		t.Fatal(err)
	}
	c2, err := env.Engine.Split(env.Ctx, engine.SplitOptions{ParentID: root.ID, ActorID: "u1"})
	if err != nil {
		t.Fatal(err)
	}
	if !engine.IsRoot(root) || engine.IsChild(root) {
		t.Fatalf("root predicates wrong")
	}
	if !engine.IsChild(c1) {
		t.Fatalf("child predicate wrong")
	}
	sibs, err := env.Engine.SiblingsAndSelf(env.Ctx, c1.ID)
	if err != nil {
		t.Fatal(err)
	}
	ids := map[string]bool{}
	for _, s := range sibs {
		ids[s.ID] = true
	}
	if len(sibs) != 2 || !ids[c1.ID] || !ids[c2.ID] {
		t.Fatalf("expected both children as siblings, got %d", len(sibs))
	}
}

func TestConcurrentInspectionSequence(t *testing.T) {
	env := newTestEnv(t)
	req := createRequest(t, env, "u1")

	var wg sync.WaitGroup
	seqs := make(chan int, 3)
	errs := make(chan error, 3)
	for i := 0; i < 3; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			in, _, err := env.Engine.RequestInspection(env.Ctx, engine.InspectionOptions{
				RequestID:     req.ID,
				ReviewerName:  "Reviewer",
				ReviewerEmail: "reviewer@example.com",
				ActorID:       "u1",
			})
			if err != nil {
				errs <- err
				return
			}
			seqs <- in.Seq
		}(i)
	}
	wg.Wait()
	close(seqs)
	close(errs)
	for err := range errs {
		t.Fatalf("concurrent inspection: %v", err)
	}
	var got []int
	for s := range seqs {
		got = append(got, s)
	}
	sort.Ints(got)
	want := []int{1, 2, 3}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("expected seq %v, got %v", want, got)
		}
	}
}

func TestInspectionSubmitAndResubmit(t *testing.T) {
	env := newTestEnv(t)
	req := createRequest(t, env, "u1")
	in, token, err := env.Engine.RequestInspection(env.Ctx, engine.InspectionOptions{
		RequestID:     req.ID,
		ReviewerName:  "Bob",
		ReviewerEmail: "bob@example.com",
		ActorID:       "u1",
	})
	if err != nil {
		t.Fatalf("request inspection: %v", err)
	}
	if in.Seq != 1 || in.Result != domain.InspectionPending {
		t.Fatalf("unexpected inspection: %+v", in)
	}
	before := stepCount(t, env, req.ID)

	done, err := env.Engine.SubmitInspectionResult(env.Ctx, token, domain.InspectionNeedsRework, "button misaligned")
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if done.Result != domain.InspectionNeedsRework || done.ResultNote != "button misaligned" {
		t.Fatalf("unexpected result: %+v", done)
	}
	steps, err := env.Engine.Repo.ListSteps(env.Ctx, repo.StepFilters{RequestID: req.ID})
	if err != nil {
		t.Fatal(err)
	}
	if len(steps) != before+1 {
		t.Fatalf("submit must append one step")
	}
	if steps[len(steps)-1].ActorID != nil {
		t.Fatalf("inspection result step must have no actor")
	}

	// resubmission after a recorded verdict is rejected
	_, err = env.Engine.SubmitInspectionResult(env.Ctx, token, domain.InspectionComplete, "")
	var tr engine.InvalidTransitionError
	if !errors.As(err, &tr) {
		t.Fatalf("expected InvalidTransitionError on resubmit, got %v", err)
	}
}

func TestSubmitUnknownToken(t *testing.T) {
	env := newTestEnv(t)
	req := createRequest(t, env, "u1")
	before := stepCount(t, env, req.ID)

	_, err := env.Engine.SubmitInspectionResult(env.Ctx, "deadbeef", domain.InspectionComplete, "")
	if !errors.Is(err, repo.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if got := stepCount(t, env, req.ID); got != before {
		t.Fatalf("unknown token must not produce a step")
	}
}

func TestReleaseFlow(t *testing.T) {
	env := newTestEnv(t)
	req := createRequest(t, env, "u1")
	if _, err := env.Engine.Approve(env.Ctx, req.ID, "u1"); err != nil {
		t.Fatal(err)
	}
	before := stepCount(t, env, req.ID)

	rel, err := env.Engine.RequestRelease(env.Ctx, engine.ReleaseOptions{
		RequestID:    req.ID,
		TargetSystem: "erp",
		TicketNumber: "CHG-100",
		ActorID:      "u1",
	})
	if err != nil {
		t.Fatalf("request release: %v", err)
	}
	if rel.Approved {
		t.Fatalf("release starts unapproved")
	}
	if got := stepCount(t, env, req.ID); got != before+1 {
		t.Fatalf("release request must append a step")
	}

	approved, err := env.Engine.ApproveRelease(env.Ctx, rel.ID, "u2")
	if err != nil {
		t.Fatalf("approve release: %v", err)
	}
	if !approved.Approved || approved.ApproverID == nil || *approved.ApproverID != "u2" {
		t.Fatalf("unexpected approval: %+v", approved)
	}

	// releases are independent of the lifecycle: approve still works after
	// the request completes
	if _, err := env.Engine.Complete(env.Ctx, engine.CompleteOptions{RequestID: req.ID, ActorID: "u1"}); err != nil {
		t.Fatal(err)
	}
	again, err := env.Engine.ApproveRelease(env.Ctx, rel.ID, "u3")
	if err != nil {
		t.Fatalf("re-approve after complete: %v", err)
	}
	if again.ApproverID == nil || *again.ApproverID != "u3" {
		t.Fatalf("re-approval must overwrite the approver")
	}
}

func TestAttachmentsAggregateAtRoot(t *testing.T) {
	env := newTestEnv(t)
	root := createRequest(t, env, "u1")
	child, err := env.Engine.Split(env.Ctx, engine.SplitOptions{ParentID: root.ID, ActorID: "u1"})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := env.Engine.Attach(env.Ctx, engine.AttachOptions{
		RequestID: root.ID,
		Origin:    domain.AttachmentOriginRequest,
		FileName:  "requirements.pdf",
		Data:      []byte("pdf"),
		ActorID:   "u1",
	}); err != nil {
		t.Fatalf("attach to root: %v", err)
	}
	if _, err := env.Engine.Attach(env.Ctx, engine.AttachOptions{
		RequestID: child.ID,
		Origin:    domain.AttachmentOriginReception,
		FileName:  "estimate.xlsx",
		Data:      []byte("xlsx"),
		ActorID:   "u2",
	}); err != nil {
		t.Fatalf("attach to child: %v", err)
	}

	// splits nest: a grandchild's attachment belongs to the same aggregate
	grandchild, err := env.Engine.Split(env.Ctx, engine.SplitOptions{ParentID: child.ID, ActorID: "u2"})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := env.Engine.Attach(env.Ctx, engine.AttachOptions{
		RequestID: grandchild.ID,
		Origin:    domain.AttachmentOriginStep,
		FileName:  "deep.pdf",
		Data:      []byte("pdf"),
		ActorID:   "u3",
	}); err != nil {
		t.Fatalf("attach to grandchild: %v", err)
	}

	for _, id := range []string{root.ID, child.ID, grandchild.ID} {
		items, err := env.Engine.RootAttachments(env.Ctx, id)
		if err != nil {
			t.Fatal(err)
		}
		if len(items) != 3 {
			t.Fatalf("every tree member must see the aggregate, got %d from %s", len(items), id)
		}
	}

	_, err = env.Engine.Attach(env.Ctx, engine.AttachOptions{
		RequestID: root.ID,
		Origin:    "bogus",
		FileName:  "x",
		ActorID:   "u1",
	})
	var ve engine.ValidationError
	if !errors.As(err, &ve) {
		t.Fatalf("expected ValidationError for bad origin, got %v", err)
	}
}

func TestStepStatusSnapshotFilter(t *testing.T) {
	env := newTestEnv(t)
	req := createRequest(t, env, "u1")
	if _, err := env.Engine.Approve(env.Ctx, req.ID, "u1"); err != nil {
		t.Fatal(err)
	}
	if _, err := env.Engine.Complete(env.Ctx, engine.CompleteOptions{RequestID: req.ID, ActorID: "u1"}); err != nil {
		t.Fatal(err)
	}
	created, err := env.Engine.Repo.ListSteps(env.Ctx, repo.StepFilters{RequestID: req.ID, Status: domain.StatusCreated})
	if err != nil {
		t.Fatal(err)
	}
	if len(created) != 1 {
		t.Fatalf("expected 1 step with created snapshot, got %d", len(created))
	}
	processing, err := env.Engine.Repo.ListSteps(env.Ctx, repo.StepFilters{RequestID: req.ID, Status: domain.StatusProcessing})
	if err != nil {
		t.Fatal(err)
	}
	if len(processing) != 1 {
		t.Fatalf("expected 1 step with processing snapshot, got %d", len(processing))
	}
}
