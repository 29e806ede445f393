package diagram

import (
	"context"
	"fmt"
	"sync"
)

// FakeRenderer is the deterministic test seam for diagram rendering: it
// returns a fixed payload (or a scripted error) per call, so pipeline tests
// never need a real PlantUML service.
type FakeRenderer struct {
	mu      sync.Mutex
	payload []byte
	err     error
	calls   int
}

// NewFakeRenderer returns a FakeRenderer that always succeeds with payload
// unless overridden with FailNext.
func NewFakeRenderer(payload []byte) *FakeRenderer {
	return &FakeRenderer{payload: payload}
}

// FailNext makes the next Render call (and only that one) return err.
func (f *FakeRenderer) FailNext(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.err = err
}

func (f *FakeRenderer) Render(ctx context.Context, sourceLanguage, sourceText string, format Format) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.err != nil {
		err := f.err
		f.err = nil
		return nil, err
	}
	if len(sourceText) == 0 {
		return nil, fmt.Errorf("diagram: empty source text")
	}
	return f.payload, nil
}

// CallCount returns how many times Render has been invoked.
func (f *FakeRenderer) CallCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

var _ Renderer = (*FakeRenderer)(nil)
