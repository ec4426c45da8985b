package export

import (
	"bytes"
	"fmt"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"widerow/pkg/types"
)

func columns(n int) []types.Column {
	out := make([]types.Column, n)
	for i := range out {
		out[i] = types.Column{Key: []byte(fmt.Sprintf("k%03d", i)), Value: []byte{byte(i), 0, 0xff}}
	}
	return out
}

func TestAvroWriter(t *testing.T) {
	want := columns(10)

	var buf bytes.Buffer
	w, err := NewAvroWriter(&buf, "row-1", 3)
	require.NoError(t, err)
	for _, c := range want {
		require.NoError(t, w.Write(c))
	}
	require.NoError(t, w.Flush())

	got, err := ReadAvro(&buf)
	require.NoError(t, err)
	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("columns mismatch (-want +got):\n%s", diff)
	}
}

func TestNew(t *testing.T) {
	var buf bytes.Buffer
	w, err := New(FormatTSV, &buf, "r")
	require.NoError(t, err)
	for _, c := range []types.Column{
		{Key: []byte("a"), Value: []byte("1")},
		{Key: []byte("b"), Value: []byte("2")},
	} {
		require.NoError(t, w.Write(c))
	}
	require.NoError(t, w.Flush())
	assert.Equal(t, "a\t1\nb\t2\n", buf.String())

	buf.Reset()
	w, err = New(FormatAvro, &buf, "r")
	require.NoError(t, err)
	require.NoError(t, w.Flush())
	got, err := ReadAvro(&buf)
	require.NoError(t, err)
	assert.Empty(t, got)

	_, err = New("csv", &buf, "r")
	require.Error(t, err)
}
