package engine

import "context"

// Activities is every external collaborator the core invokes, one
// method per step kind that needs more than pure evaluation.
// ToolBackend is the one genuinely external seam (LLM/integration/
// system-command calls); everything else here is a pure evaluator the
// engine can compute in-process.
type Activities interface {
	PromptStep(ctx context.Context, sctx StepContext, step PromptStep) (StepOutcome, error)
	ToolCallStep(ctx context.Context, sctx StepContext, step ToolCallStep) (StepOutcome, error)
	WaitForInputStep(ctx context.Context, sctx StepContext, step WaitForInputStep) (StepOutcome, error)
	SwitchStep(ctx context.Context, sctx StepContext, step SwitchStep) (StepOutcome, error)
	EvaluateStep(ctx context.Context, sctx StepContext, step EvaluateStep) (StepOutcome, error)
	ReturnStep(ctx context.Context, sctx StepContext, step ReturnStep) (StepOutcome, error)
	YieldStep(ctx context.Context, sctx StepContext, step YieldStep) (StepOutcome, error)
	IfElseWorkflowStep(ctx context.Context, sctx StepContext, step IfElseStep) (StepOutcome, error)
	ForeachStep(ctx context.Context, sctx StepContext, step ForeachStep) (StepOutcome, error)
	MapReduceStep(ctx context.Context, sctx StepContext, step MapReduceStep) (StepOutcome, error)
	SetStep(ctx context.Context, sctx StepContext, step SetStep) (StepOutcome, error)

	RaiseCompleteAsync(ctx context.Context, sctx StepContext, payload any) (any, error)
	ExecuteIntegration(ctx context.Context, sctx StepContext, name string, arguments map[string]any) (any, error)
	ExecuteAPICall(ctx context.Context, sctx StepContext, arguments map[string]any) (any, error)
	ExecuteSystem(ctx context.Context, sctx StepContext, arguments map[string]any) (any, error)
	SaveInputsRemote(ctx context.Context, values []any) ([]string, error)
}

// ToolBackend is the opaque, out-of-process side of PromptStep and
// ToolCallStep's non-function tool-call branches: the LLM call
// itself, integration HTTP calls, API calls, and system commands.
// This module ships only a deterministic no-op double; a real binary
// would inject an implementation backed by an HTTP client, an LLM
// SDK, and so on.
type ToolBackend interface {
	CallLLM(ctx context.Context, template string, sctx StepContext) (LLMResponse, error)
	CallIntegration(ctx context.Context, name string, arguments map[string]any) (any, error)
	CallAPI(ctx context.Context, arguments map[string]any) (any, error)
	CallSystem(ctx context.Context, arguments map[string]any) (any, error)
}

// LLMResponse mirrors the OpenAI-shaped response an LLM client
// returns to a prompt step.
type LLMResponse struct {
	Message      string
	FinishReason string // "stop" | "tool_calls"
	ToolCalls    []ToolCall
}
