package core

import (
	"bufio"
	"bytes"
	"io"
	"unicode/utf8"
)

var utf8BOM = []byte{0xEF, 0xBB, 0xBF}

// UploadReader normalizes an uploaded text file for decoding. A leading
// UTF-8 BOM is dropped and every invalid byte comes out as '?'.
type UploadReader struct {
	src     *bufio.Reader
	raw     *rawCounter
	pending []byte
	scratch [utf8.UTFMax]byte
}

type rawCounter struct {
	r io.Reader
	n int64
}

func (c *rawCounter) Read(p []byte) (int, error) {
	n, err := c.r.Read(p)
	c.n += int64(n)
	return n, err
}

// NewUploadReader wraps r.
func NewUploadReader(r io.Reader) *UploadReader {
	raw := &rawCounter{r: r}
	src := bufio.NewReader(raw)
	if head, err := src.Peek(len(utf8BOM)); err == nil && bytes.Equal(head, utf8BOM) {
		src.Discard(len(utf8BOM))
	}
	return &UploadReader{src: src, raw: raw}
}

// BytesRead returns how many bytes were taken from the upload, BOM included.
// After EOF it is the size of the file.
func (u *UploadReader) BytesRead() int64 {
	return u.raw.n
}

func (u *UploadReader) Read(p []byte) (int, error) {
	n := copy(p, u.pending)
	u.pending = u.pending[n:]

	for n < len(p) {
		r, size, err := u.src.ReadRune()
		if err != nil {
			if n > 0 {
				return n, nil
			}
			return 0, err
		}

		enc := u.scratch[:0]
		if r == utf8.RuneError && size == 1 {
			enc = append(enc, '?')
		} else {
			enc = utf8.AppendRune(enc, r)
		}

		c := copy(p[n:], enc)
		n += c
		if c < len(enc) {
			u.pending = append(u.pending[:0], enc[c:]...)
		}
	}
	return n, nil
}
