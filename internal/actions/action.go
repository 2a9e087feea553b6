package actions

import (
	"context"
	"strings"
)

// Action is a named side effect a Do node can trigger.
type Action interface {
	Name() string
	Schema() ActionSchema
	Execute(ctx context.Context, input ActionInput) (*ActionOutput, error)
	Validate(params map[string]any) error
}

// ActionRegistry manages the lookup of available actions.
type ActionRegistry interface {
	Register(action Action) error
	Get(name string) (Action, error)
	List() []ActionInfo
}

// ActionSchema describes the parameters of an action.
type ActionSchema struct {
	Description string   `json:"description,omitempty"`
	Params      []string `json:"params,omitempty"`
}

// ActionInput is the data provided to an action at execution time.
// Params is the Do node payload (the free text after the action name is
// available as "arg"); Vars is a read-only snapshot of the variables.
type ActionInput struct {
	Params map[string]any `json:"params"`
	Vars   map[string]any `json:"vars,omitempty"`
}

// ActionOutput is what an action hands back to the executor.
type ActionOutput struct {
	// Output lines appended to the execution output log.
	Output []string `json:"output,omitempty"`
	// Assign rebinds (or declares) variables.
	Assign map[string]any `json:"assign,omitempty"`
}

// ActionInfo is a summary of a registered action for listing.
type ActionInfo struct {
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
}

// ParseInvocation splits a Do node action string such as "print hello" into
// the action name and the free text that follows it.
func ParseInvocation(action string) (name, arg string) {
	s := strings.TrimSpace(action)
	if i := strings.IndexAny(s, " \t"); i >= 0 {
		return s[:i], strings.TrimSpace(s[i+1:])
	}
	return s, ""
}

// Str returns a string parameter, "" if absent or not a string.
func (in ActionInput) Str(key string) string {
	s, _ := in.Params[key].(string)
	return s
}
