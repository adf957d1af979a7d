package chains

import (
	"sort"

	"github.com/pkg/errors"
)

// Registry maps chain names to initialized handlers. It is written once
// during startup and read-only afterwards, so lookups take no lock.
type Registry struct {
	handlers map[string]Handler
	frozen   bool
}

// NewRegistry returns an empty handler registry.
func NewRegistry() *Registry {
	return &Registry{handlers: make(map[string]Handler)}
}

// Register adds a handler under its chain name. Registration is only
// legal before Freeze.
func (r *Registry) Register(h Handler) error {
	if r.frozen {
		return errors.New("registry is frozen")
	}
	name := h.ChainName()
	if _, exists := r.handlers[name]; exists {
		return errors.Errorf("handler already registered for chain %s", name)
	}
	r.handlers[name] = h
	return nil
}

// Freeze marks the registry immutable. Called once startup wiring is
// complete, before any concurrent reader exists.
func (r *Registry) Freeze() {
	r.frozen = true
}

// Handler looks up the handler owning a chain name.
func (r *Registry) Handler(chainName string) (Handler, bool) {
	h, ok := r.handlers[chainName]
	return h, ok
}

// Names returns the registered chain names, sorted for deterministic
// iteration.
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.handlers))
	for name := range r.handlers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Handlers returns every registered handler in name order.
func (r *Registry) Handlers() []Handler {
	names := r.Names()
	handlers := make([]Handler, 0, len(names))
	for _, name := range names {
		handlers = append(handlers, r.handlers[name])
	}
	return handlers
}

// Bridgers returns the handlers implementing the Wormhole bridging
// capability, in name order.
func (r *Registry) Bridgers() []WormholeBridger {
	var bridgers []WormholeBridger
	for _, h := range r.Handlers() {
		if b, ok := h.(WormholeBridger); ok {
			bridgers = append(bridgers, b)
		}
	}
	return bridgers
}

// PastCheckers returns the handlers that can scan L2 history, in name
// order.
func (r *Registry) PastCheckers() []Handler {
	var checkers []Handler
	for _, h := range r.Handlers() {
		if h.SupportsPastDepositCheck() {
			checkers = append(checkers, h)
		}
	}
	return checkers
}
