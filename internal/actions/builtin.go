package actions

import (
	"context"
	"log/slog"

	"github.com/rendis/flowlab/internal/expressions"
	"github.com/rendis/flowlab/internal/logging"
	"github.com/rendis/flowlab/pkg/schema"
)

// RegisterBuiltins registers the built-in Do actions in the given registry.
// eng evaluates expressions and ${{ }} templates inside action parameters.
func RegisterBuiltins(reg *Registry, eng expressions.Engine, logger *slog.Logger) error {
	logger = logging.OrDefault(logger)

	all := []Action{
		&noopAction{},
		&logAction{engine: eng, logger: logger},
		&printAction{engine: eng},
		&evalAction{engine: eng},
		&assertAction{engine: eng},
	}
	for _, a := range all {
		if err := reg.Register(a); err != nil {
			return err
		}
	}
	return reg.Alias("console.log", "print")
}

// message returns the "message" parameter, falling back to the free text, with
// templates rendered against the variables.
func message(ctx context.Context, eng expressions.Engine, in ActionInput) (string, error) {
	msg := in.Str("message")
	if msg == "" {
		msg = in.Str("arg")
	}
	if !expressions.HasTemplate(msg) {
		return msg, nil
	}
	return expressions.Render(ctx, eng, msg, in.Vars)
}

// source returns the named expression parameter, falling back to the free text.
func source(in ActionInput, key string) string {
	if s := in.Str(key); s != "" {
		return s
	}
	return in.Str("arg")
}

// --- noop ---

type noopAction struct{}

func (a *noopAction) Name() string { return "noop" }

func (a *noopAction) Schema() ActionSchema {
	return ActionSchema{Description: "Do nothing"}
}

func (a *noopAction) Validate(map[string]any) error { return nil }

func (a *noopAction) Execute(context.Context, ActionInput) (*ActionOutput, error) {
	return &ActionOutput{}, nil
}

// --- log ---

type logAction struct {
	engine expressions.Engine
	logger *slog.Logger
}

func (a *logAction) Name() string { return "log" }

func (a *logAction) Schema() ActionSchema {
	return ActionSchema{Description: "Write a message to the engine log", Params: []string{"message", "level"}}
}

func (a *logAction) Validate(map[string]any) error { return nil }

func (a *logAction) Execute(ctx context.Context, input ActionInput) (*ActionOutput, error) {
	msg, err := message(ctx, a.engine, input)
	if err != nil {
		return nil, err
	}
	level := slog.LevelInfo
	if lv := input.Str("level"); lv != "" {
		if err := level.UnmarshalText([]byte(lv)); err != nil {
			return nil, schema.NewErrorf(schema.ErrCodeHandler, "log: unknown level %q", lv)
		}
	}
	a.logger.Log(ctx, level, "do: "+msg, "action", a.Name())
	return &ActionOutput{}, nil
}

// --- print ---

type printAction struct {
	engine expressions.Engine
}

func (a *printAction) Name() string { return "print" }

func (a *printAction) Schema() ActionSchema {
	return ActionSchema{Description: "Append a message to the output log", Params: []string{"message"}}
}

func (a *printAction) Validate(map[string]any) error { return nil }

func (a *printAction) Execute(ctx context.Context, input ActionInput) (*ActionOutput, error) {
	msg, err := message(ctx, a.engine, input)
	if err != nil {
		return nil, err
	}
	return &ActionOutput{Output: []string{msg}}, nil
}

// --- eval ---

type evalAction struct {
	engine expressions.Engine
}

func (a *evalAction) Name() string { return "eval" }

func (a *evalAction) Schema() ActionSchema {
	return ActionSchema{
		Description: "Evaluate a statement such as \"i += 2\"; a bare expression is bound to 'variable' when given",
		Params:      []string{"expression", "variable"},
	}
}

func (a *evalAction) Validate(params map[string]any) error {
	if source(ActionInput{Params: params}, "expression") == "" {
		return schema.NewError(schema.ErrCodeValidation, "eval requires an 'expression' parameter")
	}
	return nil
}

func (a *evalAction) Execute(ctx context.Context, input ActionInput) (*ActionOutput, error) {
	stmt, err := expressions.ParseStatement(source(input, "expression"))
	if err != nil {
		return nil, err
	}
	val, err := stmt.Exec(ctx, a.engine, input.Vars)
	if err != nil {
		return nil, err
	}

	target := stmt.Target
	if target == "" {
		target = input.Str("variable")
	}
	if target == "" {
		return &ActionOutput{}, nil
	}
	return &ActionOutput{Assign: map[string]any{target: val}}, nil
}

// --- assert ---

type assertAction struct {
	engine expressions.Engine
}

func (a *assertAction) Name() string { return "assert" }

func (a *assertAction) Schema() ActionSchema {
	return ActionSchema{
		Description: "Fail the execution when a condition does not hold",
		Params:      []string{"condition", "message"},
	}
}

func (a *assertAction) Validate(params map[string]any) error {
	if source(ActionInput{Params: params}, "condition") == "" {
		return schema.NewError(schema.ErrCodeValidation, "assert requires a 'condition' parameter")
	}
	return nil
}

func (a *assertAction) Execute(ctx context.Context, input ActionInput) (*ActionOutput, error) {
	cond := source(input, "condition")
	val, err := a.engine.Evaluate(ctx, cond, input.Vars)
	if err != nil {
		return nil, err
	}
	if expressions.Truthy(val) {
		return &ActionOutput{}, nil
	}

	msg := input.Str("message")
	if msg == "" {
		msg = "assertion failed: " + cond
	}
	return nil, schema.NewError(schema.ErrCodeHandler, msg).
		WithDetails(map[string]any{"condition": cond, "value": val})
}
