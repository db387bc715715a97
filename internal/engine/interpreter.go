package engine

import (
	"context"
	"fmt"

	"github.com/taskengine/taskengine/internal/richerr"
)

// interpret is the Step Interpreter (C5): it turns a step's activity
// outcome into the PartialTransition the driver commits next. For the
// composite kinds (if/else, switch, foreach, map-reduce) it recurses
// into executeWorkflow on the selected child workflow, which doubles
// as the Composite Orchestrator (C6) — a child scope always runs to
// its own finish_branch (or suspends) before this function returns.
func (d *Driver) interpret(ctx context.Context, task Task, sctx StepContext, step Step, outcome StepOutcome, state *runState) (PartialTransition, error) {
	switch s := step.(type) {
	case LogStep:
		return PartialTransition{
			Output:   sctx.CurrentInput,
			Metadata: map[string]any{"log": s.Message, "step_type": "log"},
		}, nil

	case ReturnStep:
		typ := TransitionFinish
		if !sctx.IsMain {
			typ = TransitionFinishBranch
		}
		return PartialTransition{Type: typ, Output: outcome.Output}, nil

	case SetStep:
		next := make(map[string]any, len(sctx.UserState)+1)
		for k, v := range sctx.UserState {
			next[k] = v
		}
		next[s.Key] = outcome.Output
		return PartialTransition{Output: sctx.CurrentInput, UserState: next}, nil

	case YieldStep:
		target, ok := task.Workflows[s.Workflow]
		if !ok {
			return PartialTransition{}, richerr.NotFound("workflow %q not found", s.Workflow)
		}
		childCursor := sctx.Cursor.child("yield", 0)
		out, _, suspended, err := d.executeWorkflow(ctx, task, target, childCursor, outcome.Output, sctx.UserState, false, state)
		if err != nil {
			return PartialTransition{}, err
		}
		if suspended {
			return PartialTransition{Suspended: true}, nil
		}
		return PartialTransition{Output: out}, nil

	case WaitForInputStep:
		return PartialTransition{Type: TransitionWait, Output: sctx.CurrentInput, Metadata: map[string]any{"prompt": s.Prompt}}, nil

	case IfElseStep:
		branch, tag := s.Else, "else"
		if truthy(outcome.Output) {
			branch, tag = s.Then, "then"
		}
		childCursor := sctx.Cursor.child(tag, 0)
		out, _, suspended, err := d.executeWorkflow(ctx, task, branch, childCursor, sctx.CurrentInput, sctx.UserState, false, state)
		if err != nil {
			return PartialTransition{}, err
		}
		if suspended {
			return PartialTransition{Suspended: true}, nil
		}
		return PartialTransition{Output: out}, nil

	case SwitchStep:
		idx, ok := toInt(outcome.Output)
		if !ok {
			return PartialTransition{}, richerr.BadInput("switch outcome must be an integer index")
		}
		if idx < 0 {
			return PartialTransition{}, richerr.BadInput("Negative indices not allowed")
		}
		if idx == 0 {
			return PartialTransition{Output: nil}, nil
		}
		branchIdx := idx - 1
		if branchIdx >= len(s.Cases) {
			return PartialTransition{}, richerr.IllegalTransition("switch index %d out of range for %d cases", idx, len(s.Cases))
		}
		childCursor := sctx.Cursor.child(fmt.Sprintf("switch_%d", branchIdx), 0)
		out, _, suspended, err := d.executeWorkflow(ctx, task, s.Cases[branchIdx].Then, childCursor, sctx.CurrentInput, sctx.UserState, false, state)
		if err != nil {
			return PartialTransition{}, err
		}
		if suspended {
			return PartialTransition{Suspended: true}, nil
		}
		return PartialTransition{Output: out}, nil

	case ForeachStep:
		items, ok := outcome.Output.([]any)
		if !ok {
			return PartialTransition{}, richerr.BadInput("foreach source did not evaluate to a list")
		}
		results := make([]any, 0, len(items))
		for i, item := range items {
			childCursor := sctx.Cursor.child(fmt.Sprintf("foreach_%d", i), 0)
			out, _, suspended, err := d.executeWorkflow(ctx, task, s.Do, childCursor, item, sctx.UserState, false, state)
			if err != nil {
				return PartialTransition{}, err
			}
			if suspended {
				return PartialTransition{Suspended: true}, nil
			}
			results = append(results, out)
		}
		return PartialTransition{Output: results}, nil

	case MapReduceStep:
		items, ok := outcome.Output.([]any)
		if !ok {
			return PartialTransition{}, richerr.BadInput("map-reduce source did not evaluate to a list")
		}
		mapOne := func(ctx context.Context, idx int, item any) (any, error) {
			childCursor := sctx.Cursor.child(fmt.Sprintf("map_reduce_%d", idx), 0)
			out, _, suspended, err := d.executeWorkflow(ctx, task, s.Map, childCursor, item, sctx.UserState, false, state)
			if err != nil {
				return nil, err
			}
			if suspended {
				return nil, richerr.NotImplemented("suspension inside a map-reduce branch is not supported")
			}
			return out, nil
		}
		parallelism := s.Parallelism
		if parallelism < 1 {
			parallelism = d.cfg.DefaultParallelism
		}
		mapped, err := runMapBounded(ctx, items, parallelism, mapOne)
		if err != nil {
			return PartialTransition{}, err
		}
		reduceOne := func(_ context.Context, acc, item any) (any, error) {
			return evalExpr(s.Reduce, evalEnv{acc: acc, item: item, input: sctx.CurrentInput, state: sctx.UserState})
		}
		result, err := reduceSerial(ctx, mapped, s.Initial, reduceOne)
		if err != nil {
			return PartialTransition{}, err
		}
		return PartialTransition{Output: result}, nil

	case PromptStep, ToolCallStep:
		if outcome.TransitionTo != nil {
			target := outcome.TransitionTo.Target
			return PartialTransition{Type: outcome.TransitionTo.Type, Next: &target, Output: outcome.Output}, nil
		}
		return PartialTransition{Output: outcome.Output}, nil

	default:
		return PartialTransition{Output: outcome.Output}, nil
	}
}

func truthy(v any) bool {
	b, ok := v.(bool)
	return ok && b
}

func toInt(v any) (int, bool) {
	switch n := v.(type) {
	case int:
		return n, true
	case int64:
		return int(n), true
	case float64:
		return int(n), true
	}
	return 0, false
}
