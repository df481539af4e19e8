package dispatch

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"sync"
)

var (
	// ErrTypeNotValid indicates that an event type name does not conform
	// to the dotted-name format (eg. "feedback.created")
	ErrTypeNotValid = errors.New("dispatch: event type not valid")

	// ErrAgentNameTaken indicates that an agent with the same name has
	// already been registered for the event type
	ErrAgentNameTaken = errors.New("dispatch: agent name already registered for type")
)

var typeNameRegex = regexp.MustCompile(`^[\w-]+(\.[\w-]+)*$`)

// Agent is an independent unit of logic reacting to a single event type.
// Agents registered for the same type run concurrently against the same
// event and must be idempotent - delivery is at-least-once and a retried
// event re-runs every agent, including those that succeeded on a previous
// attempt
type Agent interface {
	// Name identifies the agent in registration checks and failure
	// diagnostics
	Name() string

	// Handle processes the event. A non-nil error fails the whole
	// attempt for the event
	Handle(ctx context.Context, evt Event) error
}

// AgentFunc adapts a plain function to the Agent interface
func AgentFunc(name string, fn func(ctx context.Context, evt Event) error) Agent {
	return &agentFunc{
		name: name,
		fn:   fn,
	}
}

type agentFunc struct {
	name string
	fn   func(ctx context.Context, evt Event) error
}

func (a *agentFunc) Name() string { return a.name }

func (a *agentFunc) Handle(ctx context.Context, evt Event) error {
	return a.fn(ctx, evt)
}

// NewRegistry constructs an empty agent registry.
// Register all agents during startup and hand the registry to NewProcessor -
// the registry is safe for concurrent lookup but is not meant to be mutated
// while batches are running
func NewRegistry() *Registry {
	return &Registry{
		agents: make(map[string][]Agent),
	}
}

// Registry maps event types to the agents that react to them
type Registry struct {
	mu     sync.RWMutex
	agents map[string][]Agent
}

// Register registers agents for the given event type, appending to any
// agents registered previously. Agent names must be unique per type
func (r *Registry) Register(eventType string, agents ...Agent) error {
	if !typeNameRegex.MatchString(eventType) {
		return fmt.Errorf("%w: %q", ErrTypeNotValid, eventType)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	for _, agent := range agents {
		for _, existing := range r.agents[eventType] {
			if existing.Name() == agent.Name() {
				return fmt.Errorf("%w: %s/%s", ErrAgentNameTaken, eventType, agent.Name())
			}
		}

		r.agents[eventType] = append(r.agents[eventType], agent)
	}

	return nil
}

// Agents returns the agents registered for the given event type.
// An unknown type yields an empty slice, not an error - an event with no
// matching agents is treated as trivially processed
func (r *Registry) Agents(eventType string) []Agent {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]Agent, len(r.agents[eventType]))
	copy(out, r.agents[eventType])

	return out
}

// Types returns all event types that have at least one registered agent
func (r *Registry) Types() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]string, 0, len(r.agents))

	for t := range r.agents {
		out = append(out, t)
	}

	return out
}
