package rpc

import (
	"sync"
	"time"

	"github.com/pkg/errors"
)

type pendingResult struct {
	envelope Envelope
	err      error
}

type pendingRequest struct {
	correlationID string
	topic         string
	createdAt     time.Time

	// result is filled exactly once, by whoever removes the request from the table.
	result chan pendingResult
}

// pendingRequests is the table of requests waiting for a reply, keyed by correlation id.
type pendingRequests struct {
	lock     sync.Mutex
	requests map[string]*pendingRequest

	// closed is set by failAll, later adds are rejected with ErrProducerClosed
	closed bool
}

func newPendingRequests() *pendingRequests {
	return &pendingRequests{requests: map[string]*pendingRequest{}}
}

func (p *pendingRequests) add(correlationID string, topic string) (*pendingRequest, error) {
	p.lock.Lock()
	defer p.lock.Unlock()

	if p.closed {
		return nil, ErrProducerClosed
	}
	if _, ok := p.requests[correlationID]; ok {
		return nil, errors.Errorf("correlation id %s is already pending", correlationID)
	}

	req := &pendingRequest{
		correlationID: correlationID,
		topic:         topic,
		createdAt:     time.Now(),
		result:        make(chan pendingResult, 1),
	}
	p.requests[correlationID] = req

	return req, nil
}

// resolve removes the request and fills its result.
// It returns false when no request with this correlation id is pending.
func (p *pendingRequests) resolve(correlationID string, result pendingResult) bool {
	p.lock.Lock()
	req, ok := p.requests[correlationID]
	delete(p.requests, correlationID)
	p.lock.Unlock()

	if !ok {
		return false
	}

	req.result <- result
	return true
}

// remove drops the request without filling its result.
// It returns false when the request was already resolved.
func (p *pendingRequests) remove(correlationID string) bool {
	p.lock.Lock()
	defer p.lock.Unlock()

	_, ok := p.requests[correlationID]
	delete(p.requests, correlationID)

	return ok
}

// failAll resolves every pending request with err, closes the table for new requests
// and returns how many requests were pending.
func (p *pendingRequests) failAll(err error) int {
	p.lock.Lock()
	p.closed = true
	requests := p.requests
	p.requests = map[string]*pendingRequest{}
	p.lock.Unlock()

	for _, req := range requests {
		req.result <- pendingResult{err: err}
	}

	return len(requests)
}

func (p *pendingRequests) len() int {
	p.lock.Lock()
	defer p.lock.Unlock()

	return len(p.requests)
}
