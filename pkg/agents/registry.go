package agents

import (
	"sort"

	"github.com/pkg/errors"

	"github.com/stylemuse/stylemuse/pkg/graph"
	"github.com/stylemuse/stylemuse/pkg/multiplex"
)

// ErrUnknownAgent is returned when a request names an agent that is not
// registered.
var ErrUnknownAgent = errors.New("unknown agent")

// Agent binds a compiled graph to its streaming configuration.
type Agent struct {
	Key         string
	Description string
	Graph       *graph.Graph
	// NodeFilters tells the multiplexer which nodes are wire-visible.
	NodeFilters map[string]multiplex.NodeFilter
}

// AgentInfo is the public metadata served on /info.
type AgentInfo struct {
	Key         string `json:"key"`
	Description string `json:"description"`
}

// Registry holds the process's agents keyed by name.
type Registry struct {
	agents     map[string]*Agent
	defaultKey string
}

func NewRegistry(defaultKey string) *Registry {
	return &Registry{
		agents:     map[string]*Agent{},
		defaultKey: defaultKey,
	}
}

func (r *Registry) Register(a *Agent) {
	r.agents[a.Key] = a
}

func (r *Registry) DefaultKey() string { return r.defaultKey }

// Get resolves an agent by name; the empty name resolves to the default.
func (r *Registry) Get(key string) (*Agent, error) {
	if key == "" {
		key = r.defaultKey
	}
	a, ok := r.agents[key]
	if !ok {
		return nil, errors.Wrapf(ErrUnknownAgent, "agent %q", key)
	}
	return a, nil
}

// All returns agent metadata sorted by key.
func (r *Registry) All() []AgentInfo {
	out := make([]AgentInfo, 0, len(r.agents))
	for _, a := range r.agents {
		out = append(out, AgentInfo{Key: a.Key, Description: a.Description})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out
}
