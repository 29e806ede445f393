package convert

import (
	"context"
	"sync"
)

// FakeConverter is the deterministic test seam: it echoes a fixed payload
// per format, or a scripted error, without a live conversion service.
type FakeConverter struct {
	mu       sync.Mutex
	payloads map[Format][]byte
	fail     map[Format]error
	calls    int
}

// NewFakeConverter returns a FakeConverter producing payload for both
// FormatPDF and FormatDOCX unless overridden.
func NewFakeConverter(payload []byte) *FakeConverter {
	return &FakeConverter{
		payloads: map[Format][]byte{FormatPDF: payload, FormatDOCX: payload},
		fail:     make(map[Format]error),
	}
}

// FailFormat makes every subsequent Convert call for format return err.
func (f *FakeConverter) FailFormat(format Format, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.fail[format] = err
}

func (f *FakeConverter) Convert(ctx context.Context, markdown string, format Format) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if err, ok := f.fail[format]; ok {
		return nil, err
	}
	return f.payloads[format], nil
}

// CallCount returns how many times Convert has been invoked.
func (f *FakeConverter) CallCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

var _ Converter = (*FakeConverter)(nil)
