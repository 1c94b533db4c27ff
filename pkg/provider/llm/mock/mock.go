// Package mock provides a scripted llm.Provider for tests.
//
//	p := &mock.Provider{CompleteResponse: &llm.CompletionResponse{Content: "Because of Rayleigh scattering."}}
package mock

import (
	"context"
	"sync"

	"github.com/MrWong99/echovox/pkg/provider/llm"
)

// Provider answers every Complete call with CompleteResponse or CompleteErr
// and records the requests it saw.
type Provider struct {
	mu sync.Mutex

	// CompleteResponse may be nil, in which case Complete returns nil, nil.
	CompleteResponse *llm.CompletionResponse
	CompleteErr      error

	CompleteCalls []llm.CompletionRequest
}

var _ llm.Provider = (*Provider)(nil)

// Complete implements llm.Provider.
func (p *Provider) Complete(_ context.Context, req llm.CompletionRequest) (*llm.CompletionResponse, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.CompleteCalls = append(p.CompleteCalls, req)
	resp, err := p.CompleteResponse, p.CompleteErr
	if err != nil {
		return nil, err
	}
	return resp, nil
}

// CallCount returns the number of Complete calls.
func (p *Provider) CallCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.CompleteCalls)
}
