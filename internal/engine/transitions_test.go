package engine

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestResolveDefaultNext_AdvancesWithinWorkflow(t *testing.T) {
	cursor := TransitionTarget{Workflow: "main", Step: 0}
	typ, to := resolveDefaultNext(cursor, 3, true)
	assert.Equal(t, TransitionStep, typ)
	require.NotNil(t, to)
	assert.Equal(t, 1, to.Step)
}

func TestResolveDefaultNext_TerminatesMainAtLastStep(t *testing.T) {
	cursor := TransitionTarget{Workflow: "main", Step: 2}
	typ, to := resolveDefaultNext(cursor, 3, true)
	assert.Equal(t, TransitionFinish, typ)
	assert.Nil(t, to)
}

func TestResolveDefaultNext_TerminatesBranchWithFinishBranch(t *testing.T) {
	cursor := TransitionTarget{Workflow: "main", Step: 0}
	typ, to := resolveDefaultNext(cursor, 1, false)
	assert.Equal(t, TransitionFinishBranch, typ)
	assert.Nil(t, to)
}

func TestResolveTransition_RejectsIllegalPair(t *testing.T) {
	cursor := TransitionTarget{Workflow: "main", Step: 0}
	_, err := resolveTransition(cursor, TransitionWait, PartialTransition{Type: TransitionInit}, 2, true)
	assert.Error(t, err)
}

func TestResolveTransition_FillsDefaultNextWhenPartialHasNoType(t *testing.T) {
	cursor := TransitionTarget{Workflow: "main", Step: 0}
	draft, err := resolveTransition(cursor, TransitionInit, PartialTransition{Output: "x"}, 2, true)
	require.NoError(t, err)
	assert.Equal(t, TransitionStep, draft.Type)
	require.NotNil(t, draft.To)
	assert.Equal(t, 1, draft.To.Step)
	assert.Equal(t, "x", draft.Output)
}

func TestResolveTransition_HonorsExplicitWaitFromStep(t *testing.T) {
	cursor := TransitionTarget{Workflow: "main", Step: 0}
	draft, err := resolveTransition(cursor, TransitionStep, PartialTransition{Type: TransitionWait}, 3, true)
	require.NoError(t, err)
	assert.Equal(t, TransitionWait, draft.Type)
}
