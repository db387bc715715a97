package engine

import (
	"context"
	"strings"

	"github.com/taskengine/taskengine/internal/richerr"
)

// staticActivities is the in-process Activities implementation: every
// pure evaluator (evaluate/return/set/switch/if-else/foreach/
// map-reduce/yield) runs the small expression language in expr.go
// directly; the handful of genuinely external calls (LLM prompts,
// integrations, API calls, system commands) are delegated to a
// ToolBackend.
type staticActivities struct {
	backend ToolBackend
}

// NewStaticActivities builds the default Activities implementation.
func NewStaticActivities(backend ToolBackend) Activities {
	if backend == nil {
		backend = NoopToolBackend{}
	}
	return &staticActivities{backend: backend}
}

// stepEnv binds both "input" and "item" to the step's current input;
// inside a foreach or map-reduce child scope that input is the element
// being processed.
func stepEnv(sctx StepContext) evalEnv {
	return evalEnv{input: sctx.CurrentInput, item: sctx.CurrentInput, state: sctx.UserState}
}

func (a *staticActivities) EvaluateStep(_ context.Context, sctx StepContext, step EvaluateStep) (StepOutcome, error) {
	v, err := evalExpr(step.Expr, stepEnv(sctx))
	if err != nil {
		return StepOutcome{}, richerr.BadInput("evaluate: %s", err)
	}
	return StepOutcome{Output: v}, nil
}

func (a *staticActivities) ReturnStep(_ context.Context, sctx StepContext, step ReturnStep) (StepOutcome, error) {
	v, err := evalExpr(step.Expr, stepEnv(sctx))
	if err != nil {
		return StepOutcome{}, richerr.BadInput("return: %s", err)
	}
	return StepOutcome{Output: v}, nil
}

func (a *staticActivities) SetStep(_ context.Context, sctx StepContext, step SetStep) (StepOutcome, error) {
	v, err := evalExpr(step.Expr, stepEnv(sctx))
	if err != nil {
		return StepOutcome{}, richerr.BadInput("set: %s", err)
	}
	return StepOutcome{Output: v}, nil
}

func (a *staticActivities) YieldStep(_ context.Context, sctx StepContext, step YieldStep) (StepOutcome, error) {
	v, err := evalExpr(step.Expr, stepEnv(sctx))
	if err != nil {
		return StepOutcome{}, richerr.BadInput("yield: %s", err)
	}
	return StepOutcome{Output: v}, nil
}

func (a *staticActivities) IfElseWorkflowStep(_ context.Context, sctx StepContext, step IfElseStep) (StepOutcome, error) {
	b, err := evalBool(step.Cond, stepEnv(sctx))
	if err != nil {
		return StepOutcome{}, richerr.BadInput("if_else: %s", err)
	}
	return StepOutcome{Output: b}, nil
}

func (a *staticActivities) SwitchStep(_ context.Context, sctx StepContext, step SwitchStep) (StepOutcome, error) {
	env := stepEnv(sctx)
	for i, c := range step.Cases {
		matched, err := evalBool(c.Case, env)
		if err != nil {
			return StepOutcome{}, richerr.BadInput("switch case %d: %s", i, err)
		}
		if matched {
			return StepOutcome{Output: i + 1}, nil
		}
	}
	return StepOutcome{Output: 0}, nil
}

func (a *staticActivities) ForeachStep(_ context.Context, sctx StepContext, step ForeachStep) (StepOutcome, error) {
	v, err := evalExpr(step.In, stepEnv(sctx))
	if err != nil {
		return StepOutcome{}, richerr.BadInput("foreach: %s", err)
	}
	return StepOutcome{Output: asList(v)}, nil
}

func (a *staticActivities) MapReduceStep(_ context.Context, sctx StepContext, step MapReduceStep) (StepOutcome, error) {
	v, err := evalExpr(step.Over, stepEnv(sctx))
	if err != nil {
		return StepOutcome{}, richerr.BadInput("map_reduce: %s", err)
	}
	return StepOutcome{Output: asList(v)}, nil
}

func asList(v any) []any {
	switch l := v.(type) {
	case []any:
		return l
	case nil:
		return []any{}
	default:
		return []any{l}
	}
}

func (a *staticActivities) WaitForInputStep(ctx context.Context, sctx StepContext, step WaitForInputStep) (StepOutcome, error) {
	if _, err := a.RaiseCompleteAsync(ctx, sctx, step.Prompt); err != nil {
		return StepOutcome{}, err
	}
	return StepOutcome{Output: sctx.CurrentInput}, nil
}

func (a *staticActivities) PromptStep(ctx context.Context, sctx StepContext, step PromptStep) (StepOutcome, error) {
	resp, err := a.backend.CallLLM(ctx, step.Template, sctx)
	if err != nil {
		return StepOutcome{}, richerr.ActivityFailure(err, "prompt_step: llm call failed")
	}

	if resp.FinishReason != "tool_calls" {
		return StepOutcome{Output: resp.Message}, nil
	}

	for _, tc := range resp.ToolCalls {
		if tc.Type == "function" {
			if !step.AutoRunTools {
				return StepOutcome{Output: resp.Message}, nil
			}
			target := sctx.Cursor
			return StepOutcome{
				Output: resp.Message,
				TransitionTo: &struct {
					Type   TransitionType
					Target TransitionTarget
				}{Type: TransitionWait, Target: target},
			}, nil
		}
	}

	out, err := a.runNonFunctionToolCalls(ctx, sctx, resp.ToolCalls)
	if err != nil {
		return StepOutcome{}, err
	}
	if step.Unwrap && len(out) == 1 {
		return StepOutcome{Output: out[0]}, nil
	}
	return StepOutcome{Output: out}, nil
}

func (a *staticActivities) ToolCallStep(ctx context.Context, sctx StepContext, step ToolCallStep) (StepOutcome, error) {
	typ, name := "function", step.ToolRef
	if i := strings.IndexByte(step.ToolRef, ':'); i >= 0 {
		typ, name = step.ToolRef[:i], step.ToolRef[i+1:]
	}

	switch typ {
	case "function":
		target := sctx.Cursor
		return StepOutcome{
			TransitionTo: &struct {
				Type   TransitionType
				Target TransitionTarget
			}{Type: TransitionWait, Target: target},
		}, nil
	case "integration":
		out, err := a.ExecuteIntegration(ctx, sctx, name, nil)
		return StepOutcome{Output: out}, err
	case "api_call":
		out, err := a.ExecuteAPICall(ctx, sctx, map[string]any{"name": name})
		return StepOutcome{Output: out}, err
	case "system":
		out, err := a.ExecuteSystem(ctx, sctx, map[string]any{"name": name})
		return StepOutcome{Output: out}, err
	default:
		return StepOutcome{}, richerr.BadInput("unknown tool call type %q", typ)
	}
}

func (a *staticActivities) runNonFunctionToolCalls(ctx context.Context, sctx StepContext, calls []ToolCall) ([]any, error) {
	out := make([]any, 0, len(calls))
	for _, tc := range calls {
		var (
			res any
			err error
		)
		switch tc.Type {
		case "integration":
			res, err = a.ExecuteIntegration(ctx, sctx, tc.Name, tc.Arguments)
		case "api_call":
			res, err = a.ExecuteAPICall(ctx, sctx, tc.Arguments)
		case "system":
			res, err = a.ExecuteSystem(ctx, sctx, tc.Arguments)
		default:
			err = richerr.BadInput("unsupported tool call type %q", tc.Type)
		}
		if err != nil {
			return nil, err
		}
		out = append(out, res)
	}
	return out, nil
}

func (a *staticActivities) RaiseCompleteAsync(ctx context.Context, sctx StepContext, payload any) (any, error) {
	return payload, nil
}

func (a *staticActivities) ExecuteIntegration(ctx context.Context, sctx StepContext, name string, arguments map[string]any) (any, error) {
	return a.backend.CallIntegration(ctx, name, arguments)
}

func (a *staticActivities) ExecuteAPICall(ctx context.Context, sctx StepContext, arguments map[string]any) (any, error) {
	return a.backend.CallAPI(ctx, renameJSONArg(arguments))
}

// renameJSONArg renames an api_call step's "json_" argument to "json"
// before dispatch, without mutating the caller's map.
func renameJSONArg(arguments map[string]any) map[string]any {
	v, ok := arguments["json_"]
	if !ok {
		return arguments
	}
	out := make(map[string]any, len(arguments))
	for k, val := range arguments {
		if k == "json_" {
			continue
		}
		out[k] = val
	}
	out["json"] = v
	return out
}

func (a *staticActivities) ExecuteSystem(ctx context.Context, sctx StepContext, arguments map[string]any) (any, error) {
	return a.backend.CallSystem(ctx, arguments)
}

func (a *staticActivities) SaveInputsRemote(ctx context.Context, values []any) ([]string, error) {
	ids := make([]string, len(values))
	for i := range values {
		ids[i] = NewID()
	}
	return ids, nil
}

// NoopToolBackend is a deterministic double for environments with no
// real LLM/integration/API/system backend wired in.
type NoopToolBackend struct{}

func (NoopToolBackend) CallLLM(_ context.Context, template string, _ StepContext) (LLMResponse, error) {
	return LLMResponse{Message: template, FinishReason: "stop"}, nil
}

func (NoopToolBackend) CallIntegration(_ context.Context, name string, arguments map[string]any) (any, error) {
	return map[string]any{"name": name, "arguments": arguments}, nil
}

func (NoopToolBackend) CallAPI(_ context.Context, arguments map[string]any) (any, error) {
	return arguments, nil
}

func (NoopToolBackend) CallSystem(_ context.Context, arguments map[string]any) (any, error) {
	return arguments, nil
}
