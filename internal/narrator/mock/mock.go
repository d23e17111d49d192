// Package mock provides a test double for the narrator.Narrator interface.
//
// Queue outputs in Outputs to script a multi-attempt turn; every call is
// recorded so tests can assert on prompts and debug addenda.
package mock

import (
	"context"
	"sync"

	"github.com/MrWong99/arbiter/internal/narrator"
)

// Narrator is a mock implementation of narrator.Narrator.
type Narrator struct {
	mu sync.Mutex

	// Outputs, when non-empty, is consumed one entry per Generate call. Once
	// exhausted, Output is returned.
	Outputs []*narrator.Output

	// Output is returned by Generate after Outputs is exhausted.
	Output *narrator.Output

	// Err, if non-nil, is returned from every Generate call.
	Err error

	// Block, when set, makes Generate wait until ctx is done and return
	// its error.
	Block bool

	// Requests records every request passed to Generate in order.
	Requests []narrator.Request
}

// Generate records req and returns the next scripted output.
func (n *Narrator) Generate(ctx context.Context, req narrator.Request) (*narrator.Output, error) {
	n.mu.Lock()
	n.Requests = append(n.Requests, req)
	block := n.Block
	n.mu.Unlock()

	if block {
		<-ctx.Done()
		return nil, ctx.Err()
	}

	n.mu.Lock()
	defer n.mu.Unlock()
	if n.Err != nil {
		return nil, n.Err
	}
	if len(n.Outputs) > 0 {
		out := n.Outputs[0]
		n.Outputs = n.Outputs[1:]
		return out, nil
	}
	if n.Output == nil {
		return &narrator.Output{}, nil
	}
	return n.Output, nil
}

// Calls returns a copy of the recorded requests. Thread-safe.
func (n *Narrator) Calls() []narrator.Request {
	n.mu.Lock()
	defer n.mu.Unlock()
	out := make([]narrator.Request, len(n.Requests))
	copy(out, n.Requests)
	return out
}

var _ narrator.Narrator = (*Narrator)(nil)
