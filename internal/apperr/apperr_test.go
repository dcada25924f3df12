package apperr

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestIsMatchesOnKindAndCode(t *testing.T) {
	err := Wrap(Transient, CodeShardBusy, "shard 3 busy", errors.New("lock held"))
	target := New(Transient, CodeShardBusy, "")
	require.True(t, errors.Is(err, target))

	other := New(Durable, CodeShardBusy, "")
	require.False(t, errors.Is(err, other))
}

func TestUnwrapExposesCause(t *testing.T) {
	cause := errors.New("disk full")
	err := Wrap(Durable, CodeWALAppendFailedFatal, "append failed", cause)
	require.ErrorIs(t, err, cause)
}

func TestKindOfRecognizesDBError(t *testing.T) {
	err := New(Validation, CodeMissingField, "title is required")
	kind, ok := KindOf(err)
	require.True(t, ok)
	require.Equal(t, Validation, kind)

	_, ok = KindOf(errors.New("plain error"))
	require.False(t, ok)
}

func TestKindStringMatchesSpecTaxonomy(t *testing.T) {
	require.Equal(t, "validation", Validation.String())
	require.Equal(t, "not_found", NotFound.String())
	require.Equal(t, "conflict", Conflict.String())
	require.Equal(t, "transient", Transient.String())
	require.Equal(t, "durable", Durable.String())
	require.Equal(t, "integrity", Integrity.String())
}
