package domain

import (
	"errors"
	"fmt"
	"math"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestDefaultState(t *testing.T) {
	t.Parallel()

	s := DefaultState()
	require.Equal(t, "checking", s.Connection)
	require.Equal(t, "ready", s.Listening)
	require.Equal(t, "idle", s.Processing)
	require.Equal(t, "unknown", s.Target)
	require.Zero(t, s.Level)
	require.False(t, s.Visible)
	require.Nil(t, s.Message)
}

func TestClampLevel(t *testing.T) {
	t.Parallel()

	cases := map[float64]float64{
		-3:   0,
		-0.1: 0,
		0:    0,
		0.42: 0.42,
		1:    1,
		1.5:  1,
		1e9:  1,
	}
	for in, want := range cases {
		require.Equal(t, want, ClampLevel(in), "input %v", in)
	}
	require.Equal(t, 0.0, ClampLevel(math.NaN()))
	require.Equal(t, 1.0, ClampLevel(math.Inf(1)))
	require.Equal(t, 0.0, ClampLevel(math.Inf(-1)))
}

func TestNormalizeMessage(t *testing.T) {
	t.Parallel()

	require.Nil(t, NormalizeMessage(nil))
	for _, blank := range []string{"", " ", "\t\n", "   \r\n  "} {
		require.Nil(t, NormalizeMessage(Ptr(blank)), "input %q", blank)
	}
	for _, text := range []string{"Listening...", "  padded  ", "x"} {
		got := NormalizeMessage(Ptr(text))
		require.NotNil(t, got)
		require.Equal(t, text, *got)
	}

	in := "keep"
	out := NormalizeMessage(&in)
	in = "changed"
	require.Equal(t, "keep", *out)
}

func TestPatchApplyLeavesAbsentFieldsUntouched(t *testing.T) {
	t.Parallel()

	base := OverlayState{
		Connection: "online",
		Listening:  "listening",
		Processing: "processing",
		Target:     "selected",
		Level:      0.3,
		Visible:    true,
		Message:    Ptr("hello"),
	}

	got := OverlayPatch{Level: Ptr(0.8)}.Apply(base)
	want := base
	want.Level = 0.8
	require.True(t, want.Equal(got), "got %+v", got)

	got = OverlayPatch{}.Apply(base)
	require.True(t, base.Equal(got))
}

func TestPatchApplyClampsAndNormalizes(t *testing.T) {
	t.Parallel()

	base := DefaultState()
	base.Message = Ptr("busy")

	got := OverlayPatch{Level: Ptr(1.5), Visible: Ptr(true), Message: Ptr("  ")}.Apply(base)
	require.Equal(t, 1.0, got.Level)
	require.True(t, got.Visible)
	require.Nil(t, got.Message)

	got = OverlayPatch{Level: Ptr(-2.0), Message: Ptr("Listening...")}.Apply(base)
	require.Equal(t, 0.0, got.Level)
	require.Equal(t, "Listening...", got.MessageText())
}

func TestPatchApplyIsIdempotent(t *testing.T) {
	t.Parallel()

	p := OverlayPatch{
		Connection: Ptr("online"),
		Level:      Ptr(7.0),
		Message:    Ptr(""),
		Visible:    Ptr(true),
	}
	once := p.Apply(DefaultState())
	twice := p.Apply(once)
	require.True(t, once.Equal(twice))
}

func TestPatchIsEmpty(t *testing.T) {
	t.Parallel()

	require.True(t, OverlayPatch{}.IsEmpty())
	require.False(t, OverlayPatch{Visible: Ptr(false)}.IsEmpty())
}

func TestStateNormalized(t *testing.T) {
	t.Parallel()

	s := OverlayState{Level: 4, Message: Ptr(" ")}.Normalized()
	require.Equal(t, 1.0, s.Level)
	require.Nil(t, s.Message)
}

func TestStateEqualComparesMessageText(t *testing.T) {
	t.Parallel()

	a := DefaultState()
	b := DefaultState()
	a.Message = Ptr("x")
	require.False(t, a.Equal(b))
	b.Message = Ptr("x")
	require.True(t, a.Equal(b))
}

func TestErrorCodesMatchSentinels(t *testing.T) {
	t.Parallel()

	err := fmt.Errorf("store: %w", LockUnavailable(errors.New("panic in writer")))
	require.ErrorIs(t, err, ErrLockUnavailable)
	require.Equal(t, ErrCodeLockUnavailable, CodeOf(err))

	bind := BindFailure("127.0.0.1:1", errors.New("in use"))
	require.NotErrorIs(t, bind, ErrLockUnavailable)
	require.Equal(t, "127.0.0.1:1", bind.Details["addr"])
	require.Contains(t, bind.Error(), "caused by: in use")

	malformed := MalformedPayload("invalid JSON shape", []byte("nope"))
	require.Equal(t, "nope", malformed.Details["payload"])
	require.Equal(t, ErrorCode(""), CodeOf(errors.New("plain")))
}
