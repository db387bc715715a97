package engine

import "github.com/taskengine/taskengine/internal/richerr"

// legalSuccessors records, for a given previously-committed transition
// type, which types may legally follow it within the same execution
// scope. The empty type stands for a scope with nothing committed yet,
// which opens with init or init_branch. A scope whose first step is
// also its last goes straight from init to finish (or init_branch to
// finish_branch).
var legalSuccessors = map[TransitionType]map[TransitionType]bool{
	"":                   {TransitionInit: true, TransitionInitBranch: true},
	TransitionInit:       {TransitionWait: true, TransitionStep: true, TransitionError: true, TransitionCancelled: true, TransitionFinish: true},
	TransitionInitBranch: {TransitionWait: true, TransitionStep: true, TransitionError: true, TransitionCancelled: true, TransitionFinishBranch: true},
	TransitionWait:       {TransitionResume: true, TransitionStep: true, TransitionError: true, TransitionCancelled: true},
	TransitionResume: {
		TransitionWait: true, TransitionStep: true, TransitionError: true, TransitionCancelled: true,
		TransitionFinish: true, TransitionFinishBranch: true,
	},
	TransitionStep: {
		TransitionWait: true, TransitionStep: true, TransitionError: true, TransitionCancelled: true,
		TransitionFinish: true, TransitionFinishBranch: true,
	},
}

// resolveDefaultNext computes the successor cursor/type the
// Transition Engine fills in when the interpreter returns no
// explicit Next: the next step in the same scope, or the scope's
// terminal type if cursor is the last step.
func resolveDefaultNext(cursor TransitionTarget, workflowLen int, isMain bool) (TransitionType, *TransitionTarget) {
	if cursor.Step+1 < workflowLen {
		next := cursor.withStep(cursor.Step + 1)
		return TransitionStep, &next
	}
	if isMain {
		return TransitionFinish, nil
	}
	return TransitionFinishBranch, nil
}

// resolveTransition turns a PartialTransition into a fully-formed
// Transition draft (no ExecutionID/Seq yet — the log assigns those),
// validating the (lastType -> toType) pair against legalSuccessors.
func resolveTransition(cursor TransitionTarget, lastType TransitionType, pt PartialTransition, workflowLen int, isMain bool) (Transition, error) {
	toType := pt.Type
	to := pt.Next

	if toType == "" {
		toType, to = resolveDefaultNext(cursor, workflowLen, isMain)
	}

	allowed, ok := legalSuccessors[lastType]
	if !ok || !allowed[toType] {
		return Transition{}, richerr.IllegalTransition("transition %s -> %s is not legal from cursor %+v", lastType, toType, cursor)
	}

	return Transition{
		From:     cursor,
		Type:     toType,
		To:       to,
		Output:   pt.Output,
		Metadata: pt.Metadata,
	}, nil
}
