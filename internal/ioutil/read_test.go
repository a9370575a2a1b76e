package ioutil

import (
	"fmt"
	"io"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReadLimited(t *testing.T) {
	t.Run("reads content up to limit", func(t *testing.T) {
		r := strings.NewReader("hello world")
		assert.Equal(t, "hello world", ReadLimited(r, 1024))
	})

	t.Run("truncates at limit", func(t *testing.T) {
		r := strings.NewReader("hello world")
		assert.Equal(t, "hello", ReadLimited(r, 5))
	})

	t.Run("read error returns description", func(t *testing.T) {
		r := &failingReader{err: fmt.Errorf("connection reset")}
		assert.Equal(t, "<unreadable: connection reset>", ReadLimited(r, 1024))
	})
}

func TestReadAtMost(t *testing.T) {
	t.Run("exactly at limit", func(t *testing.T) {
		body, err := ReadAtMost(strings.NewReader("hello"), 5)
		require.NoError(t, err)
		assert.Equal(t, "hello", string(body))
	})

	t.Run("over limit", func(t *testing.T) {
		_, err := ReadAtMost(strings.NewReader("hello!"), 5)
		assert.ErrorIs(t, err, ErrTooLarge)
	})

	t.Run("read error propagates", func(t *testing.T) {
		_, err := ReadAtMost(&failingReader{err: io.ErrUnexpectedEOF}, 5)
		assert.ErrorIs(t, err, io.ErrUnexpectedEOF)
	})
}

type failingReader struct {
	err error
}

func (r *failingReader) Read(_ []byte) (int, error) {
	return 0, r.err
}

var _ io.Reader = (*failingReader)(nil)
