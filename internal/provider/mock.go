package provider

import (
	"context"
	"sync"
)

// MockProvider replays scripted responses. Used in tests and by the
// dry-run mode of the CLI.
type MockProvider struct {
	mu        sync.Mutex
	responses []*Response
	errs      []error
	calls     []Request
	idx       int
}

// NewMockProvider creates a mock that replays the given responses in
// order, then repeats the last one.
func NewMockProvider(responses ...*Response) *MockProvider {
	return &MockProvider{responses: responses}
}

// FailWith queues an error before the scripted responses.
func (p *MockProvider) FailWith(errs ...error) *MockProvider {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.errs = append(p.errs, errs...)
	return p
}

// Name implements Provider.
func (p *MockProvider) Name() string { return "mock" }

// Generate implements Provider.
func (p *MockProvider) Generate(ctx context.Context, req Request) (*Response, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls = append(p.calls, req)

	if len(p.errs) > 0 {
		err := p.errs[0]
		p.errs = p.errs[1:]
		return nil, err
	}
	if len(p.responses) == 0 {
		return &Response{Text: "", Model: "mock"}, nil
	}
	r := p.responses[p.idx]
	if p.idx < len(p.responses)-1 {
		p.idx++
	}
	return r, nil
}

// Calls returns every request the mock has seen.
func (p *MockProvider) Calls() []Request {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]Request, len(p.calls))
	copy(out, p.calls)
	return out
}
