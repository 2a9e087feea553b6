package actions

import (
	"sort"
	"sync"

	"github.com/rendis/flowlab/pkg/schema"
)

// Registry is the concrete thread-safe ActionRegistry implementation.
type Registry struct {
	mu      sync.RWMutex
	actions map[string]Action
	aliases map[string]string
}

// NewRegistry creates an empty Registry.
func NewRegistry() *Registry {
	return &Registry{
		actions: make(map[string]Action),
		aliases: make(map[string]string),
	}
}

// Register adds an action to the registry. Returns error on duplicate name.
func (r *Registry) Register(action Action) error {
	if action == nil {
		return schema.NewError(schema.ErrCodeValidation, "action is nil")
	}
	name := action.Name()
	if name == "" {
		return schema.NewError(schema.ErrCodeValidation, "action name is empty")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.taken(name) {
		return schema.NewErrorf(schema.ErrCodeConflict, "action %q already registered", name)
	}

	r.actions[name] = action
	return nil
}

// Alias makes an existing action reachable under another name, e.g. the
// "console.log" spelling students bring along for "print".
func (r *Registry) Alias(alias, name string) error {
	if alias == "" {
		return schema.NewError(schema.ErrCodeValidation, "alias is empty")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.actions[name]; !ok {
		return schema.NewErrorf(schema.ErrCodeNotFound, "action %q not registered", name)
	}
	if r.taken(alias) {
		return schema.NewErrorf(schema.ErrCodeConflict, "action %q already registered", alias)
	}
	r.aliases[alias] = name
	return nil
}

// Get retrieves an action by name or alias.
func (r *Registry) Get(name string) (Action, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if target, ok := r.aliases[name]; ok {
		name = target
	}
	action, ok := r.actions[name]
	if !ok {
		return nil, schema.NewErrorf(schema.ErrCodeNotFound, "action %q not registered", name)
	}
	return action, nil
}

// List returns info for all registered actions, sorted by name. Aliases are
// not listed.
func (r *Registry) List() []ActionInfo {
	r.mu.RLock()
	defer r.mu.RUnlock()

	infos := make([]ActionInfo, 0, len(r.actions))
	for _, a := range r.actions {
		s := a.Schema()
		infos = append(infos, ActionInfo{
			Name:        a.Name(),
			Description: s.Description,
		})
	}
	sort.Slice(infos, func(i, j int) bool {
		return infos[i].Name < infos[j].Name
	})
	return infos
}

// Has checks if an action is registered under name or as an alias.
func (r *Registry) Has(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.taken(name)
}

// Count returns the number of registered actions.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.actions)
}

func (r *Registry) taken(name string) bool {
	_, isAction := r.actions[name]
	_, isAlias := r.aliases[name]
	return isAction || isAlias
}

var _ ActionRegistry = (*Registry)(nil)
