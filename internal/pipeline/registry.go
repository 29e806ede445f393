package pipeline

import (
	"log/slog"
	"time"

	"github.com/raphaelgruber/memcp-go/internal/config"
	"github.com/raphaelgruber/memcp-go/internal/convert"
	"github.com/raphaelgruber/memcp-go/internal/diagram"
	"github.com/raphaelgruber/memcp-go/internal/llmgateway"
	"github.com/raphaelgruber/memcp-go/internal/metrics"
	"github.com/raphaelgruber/memcp-go/internal/models"
	"github.com/raphaelgruber/memcp-go/internal/objectstore"
	"github.com/raphaelgruber/memcp-go/internal/queue"
	"github.com/raphaelgruber/memcp-go/internal/statusstore"
	"github.com/raphaelgruber/memcp-go/internal/statustopic"
)

// Deps bundles every external collaborator a stage handler might need.
// Embedder and Converter may be nil: the cohesion review flavor and the
// PDF/DOCX conversion step both degrade gracefully without them.
type Deps struct {
	Config    config.Config
	Broker    queue.Broker
	Store     objectstore.Store
	Status    statusstore.Store
	Topic     *statustopic.Topic
	Gateway   llmgateway.Gateway
	Embedder  llmgateway.Embedder
	Renderer  diagram.Renderer
	Converter convert.Converter
	Collector *metrics.Collector
	Log       *slog.Logger
}

// BuildWorkers wires one Worker per queue named in deps.Config.Queues.
// cmd/docwriter-worker runs each returned Worker's Run method in its own
// goroutine.
func BuildWorkers(deps Deps) []*Worker {
	q := deps.Config.Queues
	workers := []*Worker{
		newWorker(deps, q.RFPAnalyze, models.StageRFPAnalyze,
			NewRFPAnalyzeHandler(deps.Store, deps.Gateway)),
		newWorker(deps, q.PlanIntake, models.StagePlanIntake,
			NewPlanIntakeHandler(deps.Store, deps.Gateway)),
		newWorker(deps, q.IntakeResume, models.StageIntakeResume,
			NewIntakeResumeHandler(deps.Store, deps.Broker, deps.Topic, q.Plan)),
		newWorker(deps, q.Plan, models.StagePlan,
			NewPlanHandler(deps.Store, deps.Gateway, deps.Broker, deps.Topic, q.Write)),
		newWorker(deps, q.Write, models.StageWrite,
			NewWriteHandler(deps.Store, deps.Status, deps.Gateway, deps.Broker, deps.Topic, q.Review,
				time.Duration(deps.Config.DependencyRetryDelaySeconds)*time.Second)),
		newWorker(deps, q.Review, models.StageReview,
			NewReviewHandler(deps.Store, deps.Gateway, deps.Embedder, deps.Config.Reviews, deps.Broker, deps.Topic, q.Verify)),
		newWorker(deps, q.Verify, models.StageVerify,
			NewVerifyHandler(deps.Store, deps.Gateway, deps.Config.Reviews, deps.Broker, deps.Topic, q.Rewrite, q.DiagramPrep)),
		newWorker(deps, q.Rewrite, models.StageRewrite,
			NewRewriteHandler(deps.Store, deps.Gateway, deps.Broker, deps.Topic, q.Review)),
		newWorker(deps, q.DiagramPrep, models.StageDiagramPrep,
			NewDiagramPrepHandler(deps.Store, deps.Broker, deps.Topic, q.DiagramRender, q.Finalize)),
		newWorker(deps, q.DiagramRender, models.StageDiagramRender,
			NewDiagramRenderHandler(deps.Store, deps.Status, deps.Renderer, deps.Broker, deps.Topic, q.Finalize)),
		newWorker(deps, q.Finalize, models.StageFinalize,
			NewFinalizeHandler(deps.Store, deps.Converter, deps.Log)),
	}
	return workers
}

func newWorker(deps Deps, queueName string, stage models.Stage, handler Handler) *Worker {
	w := NewWorker(queueName, stage, deps.Broker, deps.Topic, handler, deps.Log)
	w.Collector = deps.Collector
	return w
}
