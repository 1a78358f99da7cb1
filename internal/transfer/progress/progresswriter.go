package progress

import "io"

// UnknownFraction is reported while the total size is not known.
const UnknownFraction = 0.5

// Writer wraps an io.Writer and reports the completed fraction via a callback
// after every write that stored at least one byte.
type Writer struct {
	Writer     io.Writer
	Total      int64 // declared size, <= 0 when unknown
	OnProgress func(fraction float64)
	written    int64
}

func NewWriter(w io.Writer, total int64, cb func(fraction float64)) *Writer {
	return &Writer{
		Writer:     w,
		Total:      total,
		OnProgress: cb,
	}
}

func (pw *Writer) Write(p []byte) (int, error) {
	n, err := pw.Writer.Write(p)
	if n > 0 {
		pw.written += int64(n)
		if pw.OnProgress != nil {
			pw.OnProgress(pw.Fraction())
		}
	}

	return n, err
}

// Written returns the number of bytes stored so far.
func (pw *Writer) Written() int64 {
	return pw.written
}

// Fraction returns written/total clamped to 1, or UnknownFraction when the
// total is unknown.
func (pw *Writer) Fraction() float64 {
	if pw.Total <= 0 {
		return UnknownFraction
	}

	f := float64(pw.written) / float64(pw.Total)
	if f > 1 {
		return 1
	}

	return f
}
