package wire

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestFrameRoundTrip(t *testing.T) {
	cases := []struct {
		name string
		code string
		body []byte
	}{
		{"empty body", "CNOP", nil},
		{"short body", "CALV", []byte{0x01, 0x02}},
		{"typed fields", "DMMV", NewWriter().PutUint16(1920).PutUint16(1080).Bytes()},
		{"string field", "DINF", NewWriter().PutString("alice").Bytes()},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			var buf bytes.Buffer
			BuildFrame(&buf, Code(tc.code), tc.body)

			f, n, err := ReadFrame(buf.Bytes())
			require.NoError(t, err)
			require.Equal(t, buf.Len(), n)
			require.Equal(t, tc.code, CodeString(f.Code))
			require.Equal(t, tc.body, f.Body)
		})
	}
}

func TestReadFrameNeedsMore(t *testing.T) {
	var buf bytes.Buffer
	BuildFrame(&buf, Code("CALV"), []byte{1, 2, 3})

	full := buf.Bytes()
	for n := 0; n < len(full); n++ {
		_, _, err := ReadFrame(full[:n])
		require.ErrorIs(t, err, ErrNeedMore)
	}
}

func TestReadFrameMalformed(t *testing.T) {
	cases := [][]byte{
		{0x00, 0x00, 0x00, 0x00},                   // length shorter than the code itself
		{0xFF, 0xFF, 0xFF, 0xFF, 'C', 'A', 'L', 'V'}, // absurd length
	}
	for _, buf := range cases {
		_, _, err := ReadFrame(buf)
		require.ErrorIs(t, err, ErrMalformedFrame)
	}
}

func TestCodecRoundTrip(t *testing.T) {
	body := NewWriter().
		PutUint8(0x2A).
		PutUint16(0xBEEF).
		PutUint32(0xDEADBEEF).
		PutString("hello").
		Bytes()

	r := NewReader(body)

	u8, err := r.Uint8()
	require.NoError(t, err)
	require.Equal(t, uint8(0x2A), u8)

	u16, err := r.Uint16()
	require.NoError(t, err)
	require.Equal(t, uint16(0xBEEF), u16)

	u32, err := r.Uint32()
	require.NoError(t, err)
	require.Equal(t, uint32(0xDEADBEEF), u32)

	s, err := r.String()
	require.NoError(t, err)
	require.Equal(t, "hello", s)

	require.Equal(t, 0, r.Remaining())
}

func TestCodecTruncated(t *testing.T) {
	r := NewReader([]byte{0x00, 0x01})
	_, err := r.Uint32()
	require.ErrorIs(t, err, ErrMalformedFrame)
}
