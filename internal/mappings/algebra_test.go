package mappings

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	"crochet/internal/dag"
)

func TestEmit_CopyForMatchingFormat(t *testing.T) {
	b := dag.NewBuilder()
	alg := &Algebra{Builder: b, Format: dag.FormatTiny2}

	res, err := alg.Emit("intermediary", fileSource("intermediary.tiny", Obfuscated, Intermediary))
	require.NoError(t, err)
	require.Equal(t, dag.Output{Task: "intermediary", Name: dag.MappingsSlot}, res.Output)
	require.Equal(t, Obfuscated, res.From)
	require.Equal(t, []string{Intermediary}, res.To)

	task, ok := b.Task("intermediary")
	require.True(t, ok)
	require.Equal(t, dag.TaskCopyMappings, task.Type)
	require.Nil(t, task.SourceJar)
}

func TestEmit_TransformForCompositions(t *testing.T) {
	b := dag.NewBuilder()
	jar := dag.Direct(dag.FileValue("/game/client.jar"))
	alg := &Algebra{Builder: b, Format: dag.FormatTiny2, SourceJar: &jar}

	proguard := FromFile(File{
		Input:  dag.Direct(dag.FileValue("/maps/client.txt")),
		Format: dag.FormatProguard,
		From:   Named,
		To:     []string{Obfuscated},
	})
	converted, err := alg.Emit("official", proguard)
	require.NoError(t, err)
	task, _ := b.Task("official")
	require.Equal(t, dag.TaskTransformMappings, task.Type)
	require.NotNil(t, task.SourceJar)

	intermediary := fileSource("intermediary.tiny", Obfuscated, Intermediary)
	namedToIntermediary, err := alg.Emit("namedToIntermediary", Chain(converted.Source(dag.FormatTiny2), intermediary))
	require.NoError(t, err)
	require.Equal(t, Named, namedToIntermediary.From)
	require.Equal(t, []string{Intermediary}, namedToIntermediary.To)

	back, err := alg.Emit("intermediaryToNamed", Reverse(namedToIntermediary.Source(dag.FormatTiny2)))
	require.NoError(t, err)
	require.Equal(t, Intermediary, back.From)
	require.Equal(t, []string{Named}, back.To)

	task, _ = b.Task("namedToIntermediary")
	require.Equal(t, dag.SourceChained, task.Source.Kind)
	require.Equal(t, []dag.Output{{Task: "official", Name: dag.MappingsSlot}}, task.References())

	cfg, err := b.Freeze()
	require.NoError(t, err)
	require.Equal(t, []string{"official", "namedToIntermediary", "intermediaryToNamed"}, cfg.TopologicalOrder())
}

func TestEmit_PropagatesErrors(t *testing.T) {
	b := dag.NewBuilder()
	alg := &Algebra{Builder: b, Format: dag.FormatTiny2}

	_, err := alg.Emit("bad", Chain(fileSource("a", "x", "y"), fileSource("b", "q", "z")))
	require.ErrorIs(t, err, ErrNamespaceMismatch)
	require.False(t, b.HasTask("bad"), "a failed composition must not add a task")

	_, err = alg.Emit("dup", fileSource("a", "x", "y"))
	require.NoError(t, err)
	_, err = alg.Emit("dup", fileSource("a", "x", "y"))
	require.True(t, errors.Is(err, dag.ErrDuplicateTaskName))
}
