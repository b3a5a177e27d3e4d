package connector

import (
	"fmt"
	"sort"
	"strings"

	"github.com/alexisbeaulieu97/reconciler/internal/logger"
	reconerrors "github.com/alexisbeaulieu97/reconciler/pkg/errors"
)

// ScopeAll selects every registered connector.
const ScopeAll = "all"

// Registry is a name-keyed set of connectors built once per invocation.
type Registry struct {
	connectors map[string]Connector
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{connectors: make(map[string]Connector)}
}

// Register adds a connector. Names must be unique identifier-safe tokens.
func (r *Registry) Register(c Connector) error {
	if c == nil {
		return fmt.Errorf("connector is nil")
	}
	name := c.Name()
	if name == "" || logger.SafeToken(name) != name {
		return reconerrors.NewValidationError("connector", fmt.Sprintf("invalid connector name %q", logger.SafeToken(name)), nil)
	}
	if _, exists := r.connectors[name]; exists {
		return fmt.Errorf("connector '%s' already registered", name)
	}
	r.connectors[name] = c
	return nil
}

// Get returns the connector registered under name.
func (r *Registry) Get(name string) (Connector, bool) {
	c, ok := r.connectors[name]
	return c, ok
}

// Names returns registered connector names in sorted order.
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.connectors))
	for name := range r.connectors {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Selection is a resolved scope.
type Selection struct {
	Connectors []Connector
	// Explicit is true when the caller named connectors instead of "all".
	Explicit bool
}

// Resolve turns a scope selector into connectors. Unknown names are rejected
// before any connector is touched; they are sanitized before being echoed.
func (r *Registry) Resolve(scope []string) (Selection, error) {
	if len(scope) == 0 || (len(scope) == 1 && scope[0] == ScopeAll) {
		sel := Selection{}
		for _, name := range r.Names() {
			sel.Connectors = append(sel.Connectors, r.connectors[name])
		}
		return sel, nil
	}

	seen := make(map[string]struct{}, len(scope))
	var unknown []string
	sel := Selection{Explicit: true}
	for _, name := range scope {
		if name == ScopeAll {
			return Selection{}, reconerrors.NewValidationError("scope", "\"all\" cannot be combined with other names", nil)
		}
		if _, dup := seen[name]; dup {
			continue
		}
		seen[name] = struct{}{}
		c, ok := r.connectors[name]
		if !ok {
			unknown = append(unknown, logger.SafeToken(name))
			continue
		}
		sel.Connectors = append(sel.Connectors, c)
	}
	if len(unknown) > 0 {
		sort.Strings(unknown)
		return Selection{}, reconerrors.NewValidationError("scope", "unknown connectors: "+strings.Join(unknown, ", "), nil)
	}
	sort.Slice(sel.Connectors, func(i, j int) bool { return sel.Connectors[i].Name() < sel.Connectors[j].Name() })
	return sel, nil
}
