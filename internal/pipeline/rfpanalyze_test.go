package pipeline

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/raphaelgruber/memcp-go/internal/llmgateway"
	"github.com/raphaelgruber/memcp-go/internal/models"
	"github.com/raphaelgruber/memcp-go/internal/objectstore"
)

func TestRFPAnalyzeHandlerPersistsAnalysisAndQuestions(t *testing.T) {
	ctx := context.Background()
	store, err := objectstore.NewFSStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewFSStore() error = %v", err)
	}

	analysis := models.RFPAnalysis{
		Title:    "Cloud Migration Response",
		Audience: "Procurement Committee",
		Summary:  "Vendor response to a cloud migration RFP.",
		Requirements: []models.RFPRequirement{
			{ID: "RFP-REQ-001", Text: "Support multi-region failover", Priority: "high"},
		},
		Questions: []models.IntakeQuestion{
			{ID: "q1", Q: "What's the target completion date?"},
		},
	}
	body, err := json.Marshal(analysis)
	if err != nil {
		t.Fatalf("marshal analysis: %v", err)
	}

	gateway := llmgateway.NewFakeGateway()
	gateway.ScriptText(llmgateway.RoleRFP, string(body))

	handler := NewRFPAnalyzeHandler(store, gateway)
	msg := models.StageMessage{
		JobID:   "job-1",
		OwnerID: "owner-1",
		Stage:   models.StageRFPAnalyze,
		Attempt: 1,
		Inputs:  map[string]string{"rfp_text": "Section 1: We require a cloud migration plan..."},
	}

	result, err := handler(ctx, msg)
	if err != nil {
		t.Fatalf("handler() error = %v", err)
	}
	if result.Message != "RFP_ANALYZED" {
		t.Errorf("result.Message = %q, want RFP_ANALYZED", result.Message)
	}

	var gotAnalysis models.RFPAnalysis
	if err := objectstore.GetJSON(ctx, store, objectstore.Path("owner-1", "job-1", "intake", "rfp_analysis.json"), &gotAnalysis); err != nil {
		t.Fatalf("read rfp_analysis.json: %v", err)
	}
	if gotAnalysis.Title != analysis.Title || gotAnalysis.Audience != analysis.Audience {
		t.Errorf("gotAnalysis = %+v, want title/audience %q/%q", gotAnalysis, analysis.Title, analysis.Audience)
	}

	var gotQuestions []models.IntakeQuestion
	if err := objectstore.GetJSON(ctx, store, objectstore.Path("owner-1", "job-1", "intake", "questions.json"), &gotQuestions); err != nil {
		t.Fatalf("read questions.json: %v", err)
	}
	if len(gotQuestions) != 1 || gotQuestions[0].ID != "q1" {
		t.Errorf("gotQuestions = %+v, want one question with id q1", gotQuestions)
	}
}

func TestRFPAnalyzeHandlerRejectsMissingText(t *testing.T) {
	store, err := objectstore.NewFSStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewFSStore() error = %v", err)
	}
	handler := NewRFPAnalyzeHandler(store, llmgateway.NewFakeGateway())

	_, err = handler(context.Background(), models.StageMessage{JobID: "job-1", OwnerID: "owner-1"})
	if err == nil {
		t.Fatal("handler() error = nil, want validation error for missing rfp_text")
	}
	if KindOf(err) != KindValidation {
		t.Errorf("KindOf(err) = %v, want KindValidation", KindOf(err))
	}
}

func TestRFPAnalyzeHandlerRejectsMissingTitleAudience(t *testing.T) {
	ctx := context.Background()
	store, err := objectstore.NewFSStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewFSStore() error = %v", err)
	}

	body, err := json.Marshal(models.RFPAnalysis{Summary: "no title or audience"})
	if err != nil {
		t.Fatalf("marshal analysis: %v", err)
	}
	gateway := llmgateway.NewFakeGateway()
	gateway.ScriptText(llmgateway.RoleRFP, string(body))

	handler := NewRFPAnalyzeHandler(store, gateway)
	_, err = handler(ctx, models.StageMessage{
		JobID:   "job-1",
		OwnerID: "owner-1",
		Inputs:  map[string]string{"rfp_text": "some rfp text"},
	})
	if err == nil {
		t.Fatal("handler() error = nil, want logic error for missing title/audience")
	}
	if KindOf(err) != KindLogic {
		t.Errorf("KindOf(err) = %v, want KindLogic", KindOf(err))
	}
}
