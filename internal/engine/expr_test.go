package engine

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEvalExpr_Atoms(t *testing.T) {
	env := evalEnv{input: "in", item: "it", acc: 7.0, state: map[string]any{"k": "v"}}

	v, err := evalExpr("input", env)
	require.NoError(t, err)
	assert.Equal(t, "in", v)

	v, err = evalExpr("item", env)
	require.NoError(t, err)
	assert.Equal(t, "it", v)

	v, err = evalExpr("acc", env)
	require.NoError(t, err)
	assert.Equal(t, 7.0, v)

	v, err = evalExpr("state.k", env)
	require.NoError(t, err)
	assert.Equal(t, "v", v)

	v, err = evalExpr(`"hello"`, evalEnv{})
	require.NoError(t, err)
	assert.Equal(t, "hello", v)

	v, err = evalExpr("42", evalEnv{})
	require.NoError(t, err)
	assert.Equal(t, 42.0, v)
}

func TestEvalExpr_BinaryOps(t *testing.T) {
	env := evalEnv{item: 3.0, acc: 4.0}

	v, err := evalExpr("item * 2", env)
	require.NoError(t, err)
	assert.Equal(t, 6.0, v)

	v, err = evalExpr("acc + item", env)
	require.NoError(t, err)
	assert.Equal(t, 7.0, v)

	v, err = evalExpr("acc > item", env)
	require.NoError(t, err)
	assert.Equal(t, true, v)

	_, err = evalExpr("item / 0", evalEnv{item: 1.0})
	assert.Error(t, err)
}

func TestEvalExpr_NegativeLiteralIsNotParsedAsSubtraction(t *testing.T) {
	v, err := evalExpr("-1", evalEnv{})
	require.NoError(t, err)
	assert.Equal(t, -1.0, v)
}

func TestEvalBool_RejectsNonBooleanResult(t *testing.T) {
	_, err := evalBool("42", evalEnv{})
	assert.Error(t, err)
}

func TestEvalBool_True(t *testing.T) {
	b, err := evalBool("item > acc", evalEnv{item: 5.0, acc: 1.0})
	require.NoError(t, err)
	assert.True(t, b)
}
