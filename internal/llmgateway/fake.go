package llmgateway

import (
	"context"
	"fmt"
	"sync"
)

// step is one scripted call outcome: either a Response or an error.
type step struct {
	resp Response
	err  error
}

// FakeGateway is a deterministic test seam: scripted responses keyed by
// role and call ordinal, so pipeline and kernel tests can drive end-to-end
// scenarios without a real provider.
type FakeGateway struct {
	mu      sync.Mutex
	scripts map[Role][]step
	calls   map[Role]int
}

// NewFakeGateway returns an empty FakeGateway; call Script to queue
// responses per role before use.
func NewFakeGateway() *FakeGateway {
	return &FakeGateway{
		scripts: make(map[Role][]step),
		calls:   make(map[Role]int),
	}
}

// Script appends resp to the queue of responses Generate returns for role,
// in call order.
func (f *FakeGateway) Script(role Role, resp Response) *FakeGateway {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.scripts[role] = append(f.scripts[role], step{resp: resp})
	return f
}

// ScriptText is a convenience wrapper around Script for plain-text
// responses that don't need token accounting asserted.
func (f *FakeGateway) ScriptText(role Role, text string) *FakeGateway {
	return f.Script(role, Response{Text: text, PromptTokens: 10, CompletionTokens: 10, Model: "fake-" + string(role)})
}

// ScriptError queues an error to be returned instead of a response on the
// role's next call, e.g. to exercise a transient-failure-then-success
// scenario.
func (f *FakeGateway) ScriptError(role Role, err error) *FakeGateway {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.scripts[role] = append(f.scripts[role], step{err: err})
	return f
}

// Generate returns the next scripted response (or error) for req.Role, in
// the order Script/ScriptError were called. Calling past the end of the
// script is a test bug and panics with a descriptive message.
func (f *FakeGateway) Generate(ctx context.Context, req Request) (Response, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	idx := f.calls[req.Role]
	f.calls[req.Role] = idx + 1

	steps := f.scripts[req.Role]
	if idx >= len(steps) {
		panic(fmt.Sprintf("llmgateway: FakeGateway exhausted script for role %q at call %d", req.Role, idx))
	}

	s := steps[idx]
	if s.err != nil {
		return Response{}, s.err
	}
	return s.resp, nil
}

// CallCount returns how many times Generate has been called for role.
func (f *FakeGateway) CallCount(role Role) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[role]
}

var _ Gateway = (*FakeGateway)(nil)
