package progress

import (
	"bytes"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWriter_KnownTotal(t *testing.T) {
	var (
		buf       bytes.Buffer
		fractions []float64
	)

	pw := NewWriter(&buf, 10, func(f float64) { fractions = append(fractions, f) })

	for _, chunk := range []string{"ACGT", "ACG", "", "TAC"} {
		_, err := pw.Write([]byte(chunk))
		require.NoError(t, err)
	}

	assert.Equal(t, []float64{0.4, 0.7, 1.0}, fractions)
	assert.Equal(t, int64(10), pw.Written())
	assert.Equal(t, "ACGTACGTAC", buf.String())
}

func TestWriter_UnknownTotal(t *testing.T) {
	var fractions []float64

	pw := NewWriter(&bytes.Buffer{}, -1, func(f float64) { fractions = append(fractions, f) })

	_, _ = pw.Write([]byte("a"))
	_, _ = pw.Write([]byte("b"))

	assert.Equal(t, []float64{UnknownFraction, UnknownFraction}, fractions)
}

func TestWriter_ClampsOverflow(t *testing.T) {
	pw := NewWriter(&bytes.Buffer{}, 2, nil)

	_, err := pw.Write([]byte("abc"))
	require.NoError(t, err)
	assert.Equal(t, 1.0, pw.Fraction())
}

type failingWriter struct{}

func (failingWriter) Write([]byte) (int, error) { return 0, errors.New("disk full") }

func TestWriter_NoCallbackOnFailedWrite(t *testing.T) {
	called := false
	pw := NewWriter(failingWriter{}, 10, func(float64) { called = true })

	_, err := pw.Write([]byte("abc"))
	require.Error(t, err)
	assert.False(t, called)
}
