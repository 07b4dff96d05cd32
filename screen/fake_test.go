package screen

import (
	"testing"

	"github.com/input-leap/input-leap-sub002/proto"
	"github.com/stretchr/testify/require"
)

func TestFakeEnterLeaveRoundTrip(t *testing.T) {
	f := NewFake(Shape{Width: 1920, Height: 1080})
	require.False(t, f.Entered())

	require.NoError(t, f.Enter(0, 500, 7, 0x0001))
	require.True(t, f.Entered())
	x, y, err := f.GetCursorPos()
	require.NoError(t, err)
	require.EqualValues(t, 0, x)
	require.EqualValues(t, 500, y)

	ok, err := f.Leave()
	require.NoError(t, err)
	require.True(t, ok)
	require.False(t, f.Entered())
}

func TestFakeLeaveCanBeRefused(t *testing.T) {
	f := NewFake(Shape{})
	require.NoError(t, f.Enter(1, 1, 1, 0))
	f.SetLeaveResult(false)

	ok, err := f.Leave()
	require.NoError(t, err)
	require.False(t, ok)
	require.True(t, f.Entered())
}

func TestFakeRecordsKeyAndMouseCalls(t *testing.T) {
	f := NewFake(Shape{})

	require.NoError(t, f.FakeKeyDown(0x61, 0x0001, 0x001E))
	require.NoError(t, f.FakeKeyRepeat(0x61, 0x0001, 0x001E, 3))
	require.NoError(t, f.FakeKeyUp(0x61, 0x0001, 0x001E))
	require.NoError(t, f.FakeMouseButton(1, true))
	require.NoError(t, f.FakeMouseMove(10, 20))
	require.NoError(t, f.FakeMouseRelativeMove(1, -1))
	require.NoError(t, f.FakeMouseWheel(0, -120))

	require.Equal(t, []KeyCall{{0x61, 0x0001, 0x001E}}, f.KeyDowns)
	require.Equal(t, []KeyRepeatCall{{0x61, 0x0001, 0x001E, 3}}, f.KeyRepeats)
	require.Equal(t, []KeyCall{{0x61, 0x0001, 0x001E}}, f.KeyUps)
	require.Equal(t, []ButtonCall{{1, true}}, f.Buttons)
	require.Equal(t, []PointCall{{10, 20}}, f.Moves)
	require.Equal(t, []PointCall{{1, -1}}, f.RelMoves)
	require.Equal(t, []PointCall{{0, -120}}, f.Wheels)

	x, y, err := f.GetCursorPos()
	require.NoError(t, err)
	require.EqualValues(t, 11, x)
	require.EqualValues(t, 19, y)
}

func TestFakeClipboardSlots(t *testing.T) {
	f := NewFake(Shape{})

	c, err := f.GetClipboard(proto.ClipboardSelection(0))
	require.NoError(t, err)
	require.NotNil(t, c)

	_, err = f.GetClipboard(proto.ClipboardSelection(9))
	require.ErrorIs(t, err, ErrInvalidSelection)

	require.NoError(t, f.GrabClipboard(proto.ClipboardSelection(1)))
	require.Equal(t, []proto.ClipboardSelection{1}, f.Grabs)
}

func TestFakeOptionsSetAndReset(t *testing.T) {
	f := NewFake(Shape{})
	require.Nil(t, f.Options())

	opts := Options{"relativeMouseMoves": 1}
	require.NoError(t, f.SetOptions(opts))
	require.Equal(t, opts, f.Options())
	require.Equal(t, opts, f.LastOptions())

	require.NoError(t, f.ResetOptions())
	require.Nil(t, f.Options())
	require.Equal(t, opts, f.LastOptions())
}
