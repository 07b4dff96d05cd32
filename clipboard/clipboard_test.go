package clipboard

import (
	"testing"

	"github.com/input-leap/input-leap-sub002/proto"
	"github.com/stretchr/testify/require"
)

func TestGenerationZeroUntilFirstTakeOwnership(t *testing.T) {
	c := New()
	require.EqualValues(t, 0, c.GetTime())

	require.NoError(t, c.Open())
	require.NoError(t, c.Add(proto.ClipboardText, []byte("hi")))
	require.NoError(t, c.Close())

	// Adding data alone must not advance the generation: it stays 0 until
	// the first TakeOwnership.
	require.EqualValues(t, 0, c.GetTime())

	require.NoError(t, c.TakeOwnership(1))
	require.EqualValues(t, 1, c.GetTime())
	require.True(t, c.Owned())
}

func TestTakeOwnershipRejectsRegression(t *testing.T) {
	c := New()
	require.NoError(t, c.TakeOwnership(5))
	require.Error(t, c.TakeOwnership(4))
	require.EqualValues(t, 5, c.GetTime())
}

func TestClearDoesNotTouchGeneration(t *testing.T) {
	c := New()
	require.NoError(t, c.TakeOwnership(3))
	require.NoError(t, c.Open())
	require.NoError(t, c.Add(proto.ClipboardText, []byte("x")))
	require.NoError(t, c.Close())

	c.Clear()
	require.False(t, c.Has(proto.ClipboardText))
	require.EqualValues(t, 3, c.GetTime())
	require.True(t, c.Owned())
}

func TestAddWithoutOpenFails(t *testing.T) {
	c := New()
	require.ErrorIs(t, c.Add(proto.ClipboardText, []byte("x")), ErrNotOpen)
}

func TestOpenTwiceFails(t *testing.T) {
	c := New()
	require.NoError(t, c.Open())
	require.ErrorIs(t, c.Open(), ErrAlreadyOpen)
}

func TestMarshalRoundTrip(t *testing.T) {
	c := New()
	require.NoError(t, c.Open())
	require.NoError(t, c.Add(proto.ClipboardText, []byte("hello world")))
	require.NoError(t, c.Add(proto.ClipboardHTML, []byte("<b>hi</b>")))
	require.NoError(t, c.Close())

	buf := c.Marshal()
	require.Len(t, buf, 4+(8+len("hello world"))+(8+len("<b>hi</b>")))

	out := New()
	require.NoError(t, out.Unmarshal(buf, 7))
	require.True(t, out.Has(proto.ClipboardText))
	require.Equal(t, []byte("hello world"), out.Get(proto.ClipboardText))
	require.Equal(t, []byte("<b>hi</b>"), out.Get(proto.ClipboardHTML))
	require.False(t, out.Has(proto.ClipboardBitmap))
	require.EqualValues(t, 7, out.GetTime())
}

func TestMarshalEmpty(t *testing.T) {
	c := New()
	buf := c.Marshal()
	require.Equal(t, []byte{0, 0, 0, 0}, buf)

	out := New()
	require.NoError(t, out.Unmarshal(buf, 1))
	require.False(t, out.Has(proto.ClipboardText))
}

func TestUnmarshalRejectsTruncated(t *testing.T) {
	c := New()
	require.NoError(t, c.Open())
	require.NoError(t, c.Add(proto.ClipboardText, []byte("data")))
	require.NoError(t, c.Close())
	buf := c.Marshal()

	out := New()
	for n := 0; n < len(buf); n++ {
		require.Error(t, out.Unmarshal(buf[:n], 1))
	}
}

func TestUnmarshalRejectsTrailingGarbage(t *testing.T) {
	c := New()
	buf := c.Marshal()
	buf = append(buf, 0xFF)

	out := New()
	require.ErrorIs(t, out.Unmarshal(buf, 1), ErrMalformed)
}
