package expr

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestCompileAndEval(t *testing.T) {
	env, err := NewEnvironment()
	require.NoError(t, err)

	program, err := env.Compile(`type == "image" && size < 1048576`)
	require.NoError(t, err)

	ok, err := program.Eval("sprites/hero.png", "image", 16384)
	require.NoError(t, err)
	require.True(t, ok)

	ok, err = program.Eval("sprites/huge.png", "image", 2*1048576)
	require.NoError(t, err)
	require.False(t, ok)
}

func TestExtHelper(t *testing.T) {
	env, err := NewEnvironment()
	require.NoError(t, err)

	program, err := env.Compile(`ext(path) == ".png" || ext(path) == ".jpg"`)
	require.NoError(t, err)

	ok, err := program.Eval("images/TILE.PNG", "image", 0)
	require.NoError(t, err)
	require.True(t, ok, "extension comparison is case-insensitive")

	ok, err = program.Eval("sounds/jump.wav", "sound", 0)
	require.NoError(t, err)
	require.False(t, ok)
}

func TestCompileRejectsNonBoolean(t *testing.T) {
	env, err := NewEnvironment()
	require.NoError(t, err)

	_, err = env.Compile(`path`)
	require.Error(t, err)
}

func TestCompileRejectsEmptyExpression(t *testing.T) {
	env, err := NewEnvironment()
	require.NoError(t, err)

	_, err = env.Compile("   ")
	require.Error(t, err)
}

func TestProgramSourceTrimmed(t *testing.T) {
	env, err := NewEnvironment()
	require.NoError(t, err)
	program, err := env.Compile(`  true `)
	require.NoError(t, err)
	require.Equal(t, "true", program.Source())
}
