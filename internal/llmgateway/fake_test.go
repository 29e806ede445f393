package llmgateway

import (
	"context"
	"errors"
	"testing"
)

func TestFakeGatewayScriptOrder(t *testing.T) {
	fake := NewFakeGateway()
	fake.ScriptText(RoleWriter, "draft one")
	fake.ScriptText(RoleWriter, "draft two")

	ctx := context.Background()
	resp1, err := fake.Generate(ctx, Request{Role: RoleWriter})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resp1.Text != "draft one" {
		t.Errorf("first call = %q, want %q", resp1.Text, "draft one")
	}

	resp2, err := fake.Generate(ctx, Request{Role: RoleWriter})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resp2.Text != "draft two" {
		t.Errorf("second call = %q, want %q", resp2.Text, "draft two")
	}

	if got := fake.CallCount(RoleWriter); got != 2 {
		t.Errorf("CallCount = %d, want 2", got)
	}
}

func TestFakeGatewayScriptedError(t *testing.T) {
	fake := NewFakeGateway()
	fake.ScriptError(RoleWriter, errors.New("transient network error"))
	fake.ScriptText(RoleWriter, "draft after retry")

	ctx := context.Background()
	if _, err := fake.Generate(ctx, Request{Role: RoleWriter}); err == nil {
		t.Fatal("expected error on first call")
	}

	resp, err := fake.Generate(ctx, Request{Role: RoleWriter})
	if err != nil {
		t.Fatalf("unexpected error on second call: %v", err)
	}
	if resp.Text != "draft after retry" {
		t.Errorf("second call = %q, want %q", resp.Text, "draft after retry")
	}
}

func TestFakeGatewayIndependentRoles(t *testing.T) {
	fake := NewFakeGateway()
	fake.ScriptText(RolePlanner, "plan output")
	fake.ScriptText(RoleWriter, "write output")

	ctx := context.Background()
	planResp, _ := fake.Generate(ctx, Request{Role: RolePlanner})
	writeResp, _ := fake.Generate(ctx, Request{Role: RoleWriter})

	if planResp.Text != "plan output" || writeResp.Text != "write output" {
		t.Errorf("roles interfered: planner=%q writer=%q", planResp.Text, writeResp.Text)
	}
}
