package kernel

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/raphaelgruber/memcp-go/internal/config"
	"github.com/raphaelgruber/memcp-go/internal/convert"
	"github.com/raphaelgruber/memcp-go/internal/diagram"
	"github.com/raphaelgruber/memcp-go/internal/llmgateway"
	"github.com/raphaelgruber/memcp-go/internal/models"
	"github.com/raphaelgruber/memcp-go/internal/objectstore"
	"github.com/raphaelgruber/memcp-go/internal/pipeline"
	"github.com/raphaelgruber/memcp-go/internal/queue"
	"github.com/raphaelgruber/memcp-go/internal/statusrecorder"
	"github.com/raphaelgruber/memcp-go/internal/statusstore"
	"github.com/raphaelgruber/memcp-go/internal/statustopic"
)

const e2ePollTimeout = 5 * time.Second

// e2eEnv wires a full kernel + eleven-worker pipeline + status recorder against
// in-memory/fake collaborators, so a scenario test can drive a job from
// admit_job to a terminal stage without any external service.
type e2eEnv struct {
	Kernel    *Kernel
	Gateway   *llmgateway.FakeGateway
	Renderer  *diagram.FakeRenderer
	Converter *convert.FakeConverter
	OS        objectstore.Store
	Status    *statusstore.MemoryStore
	Broker    *queue.MemoryBroker
	Queues    config.QueueNames
}

func newE2EEnv(t *testing.T) *e2eEnv {
	t.Helper()

	broker := queue.NewMemoryBroker()
	status := statusstore.NewMemoryStore()
	osStore, err := objectstore.NewFSStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewFSStore() error = %v", err)
	}
	topic := statustopic.New(nil)
	gateway := llmgateway.NewFakeGateway()
	renderer := diagram.NewFakeRenderer([]byte("fake-png-bytes"))
	converter := convert.NewFakeConverter([]byte("fake-converted-bytes"))
	cfg := config.Load()
	// Keep the write stage's dependency retry delay short so a dependent
	// section's redelivery lands well inside e2ePollTimeout.
	cfg.DependencyRetryDelaySeconds = 1

	log := slog.New(slog.NewTextHandler(discardWriter{}, nil))

	deps := pipeline.Deps{
		Config:    cfg,
		Broker:    broker,
		Store:     osStore,
		Status:    status,
		Topic:     topic,
		Gateway:   gateway,
		Renderer:  renderer,
		Converter: converter,
		Log:       log,
	}
	workers := pipeline.BuildWorkers(deps)

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	recorder := statusrecorder.New(status, topic, log)
	go recorder.Run(ctx)
	for _, w := range workers {
		go w.Run(ctx)
	}

	k := New(status, osStore, broker, topic, cfg.Queues)

	return &e2eEnv{
		Kernel:    k,
		Gateway:   gateway,
		Renderer:  renderer,
		Converter: converter,
		OS:        osStore,
		Status:    status,
		Broker:    broker,
		Queues:    cfg.Queues,
	}
}

type discardWriter struct{}

func (discardWriter) Write(p []byte) (int, error) { return len(p), nil }

// waitForStatus polls GetStatus until pred is satisfied or e2ePollTimeout
// elapses, failing the test on timeout.
func waitForStatus(t *testing.T, env *e2eEnv, ownerID, jobID string, pred func(StatusView) bool) StatusView {
	t.Helper()
	deadline := time.Now().Add(e2ePollTimeout)
	var last StatusView
	for time.Now().Before(deadline) {
		status, err := env.Kernel.GetStatus(context.Background(), ownerID, jobID)
		if err == nil {
			last = status
			if pred(status) {
				return status
			}
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("waitForStatus() timed out for job %s, last status = %+v", jobID, last)
	return StatusView{}
}

func waitForArtifact(t *testing.T, env *e2eEnv, ownerID, jobID, relativePath string) {
	t.Helper()
	key := objectstore.Path(ownerID, jobID, relativePath)
	deadline := time.Now().Add(e2ePollTimeout)
	for time.Now().Before(deadline) {
		if ok, _ := env.OS.Exists(context.Background(), key); ok {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("waitForArtifact() timed out waiting for %q", key)
}

// intakeQuestionsJSON scripts a minimal interviewer questionnaire.
func intakeQuestionsJSON(t *testing.T) string {
	t.Helper()
	questions := []models.IntakeQuestion{
		{ID: "q1", Q: "What's the primary failure mode readers care about?", Sample: "timeouts"},
	}
	body, err := json.Marshal(questions)
	if err != nil {
		t.Fatalf("marshal intake questions: %v", err)
	}
	return string(body)
}

// twoSectionPlanJSON scripts a plan with one dependency edge (body depends
// on intro), letting a single scenario exercise the dependency-ordering
// path as a side effect of the happy path.
func twoSectionPlanJSON(t *testing.T) string {
	t.Helper()
	plan := models.Plan{
		Sections: []models.Section{
			{ID: "intro", Title: "Introduction", TargetWords: 200},
			{ID: "body", Title: "Deep Dive", DependsOn: []string{"intro"}, TargetWords: 400},
		},
		Glossary:   []string{"retry", "backoff"},
		StyleGuide: "concise, active voice",
	}
	body, err := json.Marshal(plan)
	if err != nil {
		t.Fatalf("marshal plan: %v", err)
	}
	return string(body)
}

func reviewNoteJSON(t *testing.T, needsRewrite bool, issues []models.Issue) string {
	t.Helper()
	body, err := json.Marshal(struct {
		Issues       []models.Issue `json:"issues"`
		NeedsRewrite bool           `json:"needs_rewrite"`
	}{Issues: issues, NeedsRewrite: needsRewrite})
	if err != nil {
		t.Fatalf("marshal review note: %v", err)
	}
	return string(body)
}

func verifyReportJSON(t *testing.T, needsRewrite bool) string {
	t.Helper()
	report := models.VerifyReport{NeedsRewrite: needsRewrite}
	body, err := json.Marshal(report)
	if err != nil {
		t.Fatalf("marshal verify report: %v", err)
	}
	return string(body)
}

// scriptCleanReviewCycle scripts one review cycle's worth of reviewer calls
// (general + style + cohesion, the default-enabled flavors) each reporting
// no rewrite needed, plus the matching verify call.
func scriptCleanReviewCycle(t *testing.T, gw *llmgateway.FakeGateway) {
	t.Helper()
	note := reviewNoteJSON(t, false, nil)
	for i := 0; i < 3; i++ {
		gw.ScriptText(llmgateway.RoleReviewer, note)
	}
	gw.ScriptText(llmgateway.RoleReviewer, verifyReportJSON(t, false))
}

// admitAndAnswer drives a job through plan-intake and intake-resume. Both
// stages call llmgateway.RolePlanner (the interviewer prompt, then the
// outline prompt once intake-resume enqueues plan), so planJSON is scripted
// here, right after the interview questions, to preserve call order.
func admitAndAnswer(t *testing.T, env *e2eEnv, ownerID, title, audience string, cycles int, planJSON string) string {
	t.Helper()
	env.Gateway.ScriptText(llmgateway.RolePlanner, intakeQuestionsJSON(t))
	env.Gateway.ScriptText(llmgateway.RolePlanner, planJSON)

	ctx := context.Background()
	jobID, err := env.Kernel.AdmitJob(ctx, ownerID, title, audience, cycles)
	if err != nil {
		t.Fatalf("AdmitJob() error = %v", err)
	}
	waitForArtifact(t, env, ownerID, jobID, "intake/questions.json")

	if err := env.Kernel.SubmitAnswers(ctx, ownerID, jobID, map[string]string{"q1": "timeouts"}); err != nil {
		t.Fatalf("SubmitAnswers() error = %v", err)
	}
	return jobID
}

func isTerminal(status StatusView) bool {
	return status.Stage == models.StageFinalize && status.Message == "FINALIZE_DONE"
}

// TestE2EHappyPath drives a two-section, one-review-cycle job from
// admission to a finished final.md with no rewrites.
func TestE2EHappyPath(t *testing.T) {
	env := newE2EEnv(t)
	env.Gateway.ScriptText(llmgateway.RoleWriter, "# Introduction\n\nBody text about the introduction.")
	env.Gateway.ScriptText(llmgateway.RoleWriter, "# Deep Dive\n\nBody text about the deep dive.")
	scriptCleanReviewCycle(t, env.Gateway)

	jobID := admitAndAnswer(t, env, "owner-1", "Resilient Systems", "SREs", 1, twoSectionPlanJSON(t))

	status := waitForStatus(t, env, "owner-1", jobID, isTerminal)
	if status.HasError {
		t.Fatalf("job finished with error: %s", status.LastError)
	}

	artifact, err := env.Kernel.FetchArtifact(context.Background(), "owner-1", jobID, "final.md")
	if err != nil {
		t.Fatalf("FetchArtifact() error = %v", err)
	}
	if len(artifact.Body) == 0 {
		t.Fatal("FetchArtifact() returned empty final.md")
	}
	if env.Gateway.CallCount(llmgateway.RoleWriter) != 2 {
		t.Errorf("writer call count = %d, want 2 (one per section)", env.Gateway.CallCount(llmgateway.RoleWriter))
	}
}

// TestE2ERewriteOnce exercises a job whose first review cycle demands a
// rewrite and whose second cycle comes back clean, asserting a second
// review/verify pass runs and the section content changes.
func TestE2ERewriteOnce(t *testing.T) {
	env := newE2EEnv(t)
	env.Gateway.ScriptText(llmgateway.RoleWriter, "# Introduction\n\nOriginal introduction text.")
	env.Gateway.ScriptText(llmgateway.RoleWriter, "# Deep Dive\n\nOriginal deep dive text.")

	// Cycle 1: general reviewer flags the intro, verify agrees a rewrite is
	// needed.
	env.Gateway.ScriptText(llmgateway.RoleReviewer, reviewNoteJSON(t, true, []models.Issue{
		{SectionID: "intro", Severity: models.SeverityHigh, Description: "missing motivation"},
	}))
	env.Gateway.ScriptText(llmgateway.RoleReviewer, reviewNoteJSON(t, false, nil)) // style
	env.Gateway.ScriptText(llmgateway.RoleReviewer, reviewNoteJSON(t, false, nil)) // cohesion
	env.Gateway.ScriptText(llmgateway.RoleReviewer, verifyReportJSON(t, true))

	// Rewrite touches only the flagged section.
	env.Gateway.ScriptText(llmgateway.RoleWriter, "# Introduction\n\nRevised introduction with motivation.")

	// Cycle 2 comes back clean.
	scriptCleanReviewCycle(t, env.Gateway)

	jobID := admitAndAnswer(t, env, "owner-1", "Resilient Systems", "SREs", 2, twoSectionPlanJSON(t))

	status := waitForStatus(t, env, "owner-1", jobID, isTerminal)
	if status.HasError {
		t.Fatalf("job finished with error: %s", status.LastError)
	}
	if status.Cycle < 2 {
		t.Errorf("status.Cycle = %d, want >= 2 after one rewrite", status.Cycle)
	}

	artifact, err := env.Kernel.FetchArtifact(context.Background(), "owner-1", jobID, "drafts/intro.md")
	if err != nil {
		t.Fatalf("FetchArtifact() error = %v", err)
	}
	if !strings.Contains(string(artifact.Body), "Revised introduction") {
		t.Errorf("drafts/intro.md = %q, want the rewritten text", artifact.Body)
	}
	if env.Gateway.CallCount(llmgateway.RoleReviewer) != 8 {
		t.Errorf("reviewer call count = %d, want 8 (3 review + 1 verify per cycle x2 cycles)", env.Gateway.CallCount(llmgateway.RoleReviewer))
	}
}

// TestE2ECycleBudgetExhausted admits a job with only one requested cycle
// whose reviewer keeps demanding a rewrite; verify must still route to
// diagram-prep/finalize once cycle+1 exceeds cycles_requested rather than
// looping forever.
func TestE2ECycleBudgetExhausted(t *testing.T) {
	env := newE2EEnv(t)
	env.Gateway.ScriptText(llmgateway.RoleWriter, "# Introduction\n\nText.")
	env.Gateway.ScriptText(llmgateway.RoleWriter, "# Deep Dive\n\nText.")

	env.Gateway.ScriptText(llmgateway.RoleReviewer, reviewNoteJSON(t, true, []models.Issue{
		{SectionID: "intro", Severity: models.SeverityCritical, Description: "still wrong"},
	}))
	env.Gateway.ScriptText(llmgateway.RoleReviewer, reviewNoteJSON(t, false, nil))
	env.Gateway.ScriptText(llmgateway.RoleReviewer, reviewNoteJSON(t, false, nil))
	env.Gateway.ScriptText(llmgateway.RoleReviewer, verifyReportJSON(t, true))

	jobID := admitAndAnswer(t, env, "owner-1", "One-Shot Doc", "Engineers", 1, twoSectionPlanJSON(t))

	status := waitForStatus(t, env, "owner-1", jobID, isTerminal)
	if status.HasError {
		t.Fatalf("job finished with error: %s", status.LastError)
	}
	if env.Gateway.CallCount(llmgateway.RoleWriter) != 2 {
		t.Errorf("writer call count = %d, want 2 (no rewrite call spent since the budget was exhausted)", env.Gateway.CallCount(llmgateway.RoleWriter))
	}
}

// TestE2EDependencyOrderingRetries delivers the downstream section's write
// message before its dependency's draft exists, bypassing plan-driven
// enqueue order (which would otherwise let the single write worker finish
// the prerequisite section before ever dequeuing the dependent one). It
// asserts the dependent section is abandoned as transient at least once,
// then completes once the broker redelivers it after the dependency lands.
func TestE2EDependencyOrderingRetries(t *testing.T) {
	env := newE2EEnv(t)
	ctx := context.Background()
	ownerID, jobID := "owner-1", "dep-order-job"

	now := time.Now()
	if err := env.Status.CreateJob(ctx, models.Job{
		JobID: jobID, OwnerID: ownerID, Title: "Ordered Doc", Audience: "Engineers",
		CyclesRequested: 1, Stage: models.StagePlan, Message: "PLAN_DONE",
		CreatedTS: now, UpdatedTS: now, SchemaVersion: models.CurrentSchemaVersion,
	}); err != nil {
		t.Fatalf("CreateJob() error = %v", err)
	}
	if err := objectstore.PutJSON(ctx, env.OS, objectstore.Path(ownerID, jobID, "plan.json"), twoSectionPlan(t)); err != nil {
		t.Fatalf("seed plan.json: %v", err)
	}

	env.Gateway.ScriptText(llmgateway.RoleWriter, "# Introduction\n\nText.")
	env.Gateway.ScriptText(llmgateway.RoleWriter, "# Deep Dive\n\nText that depends on the intro.")
	// Once body lands the pipeline enqueues review; script its calls too.
	scriptCleanReviewCycle(t, env.Gateway)

	bodyMsg := models.StageMessage{
		JobID: jobID, OwnerID: ownerID, Stage: models.StageWrite, Attempt: 1,
		Inputs: map[string]string{string(models.InputSection): "body"},
	}
	if err := pipeline.EnqueueAndAnnounce(ctx, env.Broker, nil, env.Queues.Write, models.StageWrite, bodyMsg); err != nil {
		t.Fatalf("enqueue body write: %v", err)
	}

	waitForTimelineMatch(t, env, ownerID, jobID, func(e models.TimelineEvent) bool {
		return e.Stage == models.StageWrite && e.Phase == models.PhaseFailed && e.Details.ErrorKind == string(pipeline.KindTransient)
	})

	introMsg := models.StageMessage{
		JobID: jobID, OwnerID: ownerID, Stage: models.StageWrite, Attempt: 1,
		Inputs: map[string]string{string(models.InputSection): "intro"},
	}
	if err := pipeline.EnqueueAndAnnounce(ctx, env.Broker, nil, env.Queues.Write, models.StageWrite, introMsg); err != nil {
		t.Fatalf("enqueue intro write: %v", err)
	}

	waitForArtifact(t, env, ownerID, jobID, "drafts/intro.md")
	waitForArtifact(t, env, ownerID, jobID, "drafts/body.md")
}

// twoSectionPlan is the struct form of twoSectionPlanJSON, for tests that
// seed plan.json directly rather than scripting the planner.
func twoSectionPlan(t *testing.T) models.Plan {
	t.Helper()
	return models.Plan{
		Sections: []models.Section{
			{ID: "intro", Title: "Introduction", TargetWords: 200},
			{ID: "body", Title: "Deep Dive", DependsOn: []string{"intro"}, TargetWords: 400},
		},
		Glossary:   []string{"retry", "backoff"},
		StyleGuide: "concise, active voice",
	}
}

// waitForTimelineMatch polls GetTimeline until an event satisfies pred or
// e2ePollTimeout elapses, failing the test on timeout.
func waitForTimelineMatch(t *testing.T, env *e2eEnv, ownerID, jobID string, pred func(models.TimelineEvent) bool) models.TimelineEvent {
	t.Helper()
	deadline := time.Now().Add(e2ePollTimeout)
	for time.Now().Before(deadline) {
		events, err := env.Kernel.GetTimeline(context.Background(), ownerID, jobID)
		if err == nil {
			for _, e := range events {
				if pred(e) {
					return e
				}
			}
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("waitForTimelineMatch() timed out for job %s", jobID)
	return models.TimelineEvent{}
}

// TestE2EOwnerIsolation admits two jobs under different owners concurrently
// and asserts neither owner can see or fetch the other's artifacts even
// though both run through the same shared pipeline.
func TestE2EOwnerIsolation(t *testing.T) {
	env := newE2EEnv(t)
	for i := 0; i < 4; i++ {
		env.Gateway.ScriptText(llmgateway.RoleWriter, "# Section\n\nText.")
	}
	scriptCleanReviewCycle(t, env.Gateway)
	scriptCleanReviewCycle(t, env.Gateway)

	// admitAndAnswer scripts intake questions and the plan outline itself, so
	// jobA's plan.json must land before jobB starts scripting into the same
	// shared RolePlanner queue.
	jobA := admitAndAnswer(t, env, "owner-a", "Doc A", "Audience A", 1, twoSectionPlanJSON(t))
	waitForArtifact(t, env, "owner-a", jobA, "plan.json")
	jobB := admitAndAnswer(t, env, "owner-b", "Doc B", "Audience B", 1, twoSectionPlanJSON(t))

	waitForStatus(t, env, "owner-a", jobA, isTerminal)
	waitForStatus(t, env, "owner-b", jobB, isTerminal)

	if _, err := env.Kernel.FetchArtifact(context.Background(), "owner-b", jobA, "final.md"); err == nil {
		t.Error("owner-b fetched owner-a's job artifact, want not-authorized")
	}
	if _, err := env.Kernel.GetStatus(context.Background(), "owner-b", jobA); err == nil {
		t.Error("owner-b got status for owner-a's job, want lookup failure")
	}

	rows, err := env.Kernel.ListDocuments(context.Background(), "owner-a")
	if err != nil {
		t.Fatalf("ListDocuments() error = %v", err)
	}
	for _, row := range rows {
		if row.JobID == jobB {
			t.Error("owner-a's document list includes owner-b's job")
		}
	}
}

// TestE2ETransientLLMFailureThenSuccess scripts a writer failure on the
// first call for a section, relying on Worker.Run's abandon-and-redeliver
// path to retry it, then succeeding on the redelivered attempt.
func TestE2ETransientLLMFailureThenSuccess(t *testing.T) {
	env := newE2EEnv(t)
	env.Gateway.ScriptError(llmgateway.RoleWriter, errors.New("llm: 503 service unavailable"))
	env.Gateway.ScriptText(llmgateway.RoleWriter, "# Introduction\n\nText after retry.")
	env.Gateway.ScriptText(llmgateway.RoleWriter, "# Deep Dive\n\nText.")
	scriptCleanReviewCycle(t, env.Gateway)

	jobID := admitAndAnswer(t, env, "owner-1", "Flaky LLM Doc", "Engineers", 1, twoSectionPlanJSON(t))

	status := waitForStatus(t, env, "owner-1", jobID, isTerminal)
	if status.HasError {
		t.Fatalf("job finished with error: %s", status.LastError)
	}

	events, err := env.Kernel.GetTimeline(context.Background(), "owner-1", jobID)
	if err != nil {
		t.Fatalf("GetTimeline() error = %v", err)
	}
	sawTransientFailure := false
	for _, e := range events {
		if e.Stage == models.StageWrite && e.Phase == models.PhaseFailed && e.Details.ErrorKind == string(pipeline.KindTransient) {
			sawTransientFailure = true
			break
		}
	}
	if !sawTransientFailure {
		t.Error("expected a transient FAILED write event before the retry succeeded")
	}
	if env.Gateway.CallCount(llmgateway.RoleWriter) != 3 {
		t.Errorf("writer call count = %d, want 3 (1 failed + 2 successful)", env.Gateway.CallCount(llmgateway.RoleWriter))
	}
}
