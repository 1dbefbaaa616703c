// Package capability is the registry of service connectors the engine calls:
// pollers that check a service for a new occurrence of a trigger, and
// reactors that perform an effect on a service.
//
// A Registry is built once at process start and passed to the polling
// detector and the executor. It is safe for concurrent use; registration is
// expected to finish before the first Poll or Invoke.
package capability

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/tbourn/go-area-backend/internal/domain"
)

var (
	// ErrUnknownCapability is returned when no connector is registered for a
	// service/name pair.
	ErrUnknownCapability = errors.New("unknown capability")
	// ErrCredentialsExpired is returned (possibly wrapped) by connectors when
	// the upstream rejected the access token.
	ErrCredentialsExpired = errors.New("credentials expired")
	// ErrInvalidParams is returned by connectors for unusable parameters.
	ErrInvalidParams = errors.New("invalid parameters")
)

// Credentials are the connected-account tokens handed to a connector.
type Credentials struct {
	UserServiceID string
	AccessToken   string
	RefreshToken  string
	ExpiresAt     *time.Time
}

// PollRequest is the input of a poll call.
type PollRequest struct {
	HookJobID   string
	Cursor      string
	Params      map[string]any
	Credentials Credentials
	Now         time.Time
}

// PollResult is the output of a poll call. Key is the comparison key of the
// latest occurrence; an empty Key means "nothing observed". Payload is the
// event recorded in the HookLog when Key differs from the stored cursor.
type PollResult struct {
	Key     string
	Payload map[string]any
}

// Outcome is what a reactor reports back; it is stored as the execution
// log's response payload.
type Outcome map[string]any

// PollFunc checks a service for a new occurrence.
type PollFunc func(ctx context.Context, req PollRequest) (PollResult, error)

// ReactFunc performs an effect.
type ReactFunc func(ctx context.Context, creds Credentials, params map[string]any) (Outcome, error)

// Registry maps capability keys ("service.name") to connectors.
type Registry struct {
	mu       sync.RWMutex
	pollers  map[string]PollFunc
	reactors map[string]ReactFunc
}

// NewRegistry returns an empty Registry.
func NewRegistry() *Registry {
	return &Registry{
		pollers:  map[string]PollFunc{},
		reactors: map[string]ReactFunc{},
	}
}

// RegisterPoller adds or replaces the poller for service.action.
func (r *Registry) RegisterPoller(service, action string, fn PollFunc) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.pollers[domain.CapabilityKey(service, action)] = fn
}

// RegisterReactor adds or replaces the reactor for service.reaction.
func (r *Registry) RegisterReactor(service, reaction string, fn ReactFunc) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.reactors[domain.CapabilityKey(service, reaction)] = fn
}

// Poll calls the poller registered for service.action.
func (r *Registry) Poll(ctx context.Context, service, action string, req PollRequest) (PollResult, error) {
	key := domain.CapabilityKey(service, action)
	r.mu.RLock()
	fn, ok := r.pollers[key]
	r.mu.RUnlock()
	if !ok {
		return PollResult{}, fmt.Errorf("%w: poll %s", ErrUnknownCapability, key)
	}
	return fn(ctx, req)
}

// Invoke calls the reactor registered for service.reaction.
func (r *Registry) Invoke(ctx context.Context, service, reaction string, creds Credentials, params map[string]any) (Outcome, error) {
	key := domain.CapabilityKey(service, reaction)
	r.mu.RLock()
	fn, ok := r.reactors[key]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: invoke %s", ErrUnknownCapability, key)
	}
	return fn(ctx, creds, params)
}

// HasPoller reports whether service.action has a poller.
func (r *Registry) HasPoller(service, action string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.pollers[domain.CapabilityKey(service, action)]
	return ok
}

// Pollers lists registered poller keys, sorted.
func (r *Registry) Pollers() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return sortedKeys(r.pollers)
}

// Reactors lists registered reactor keys, sorted.
func (r *Registry) Reactors() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return sortedKeys(r.reactors)
}

func sortedKeys[V any](m map[string]V) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
