package httpmsg

import (
	"bufio"
	"errors"
	"io"
	"strconv"
	"strings"
)

// chunkedReader implements the chunked transfer-coding decode side of
// spec §4.3: read chunk-size hex line, size bytes, CRLF; repeat until size
// 0; discard optional trailers.
type chunkedReader struct {
	r       *bufio.Reader
	remain  int64
	done    bool
	pending error
}

func newChunkedReader(r *bufio.Reader) *chunkedReader {
	return &chunkedReader{r: r}
}

func (c *chunkedReader) Read(p []byte) (int, error) {
	if c.pending != nil {
		return 0, c.pending
	}
	if c.done {
		return 0, io.EOF
	}
	if c.remain == 0 {
		if err := c.nextChunkSize(); err != nil {
			c.pending = err
			return 0, err
		}
		if c.remain == 0 {
			c.done = true
			if err := c.discardTrailers(); err != nil {
				c.pending = err
				return 0, err
			}
			return 0, io.EOF
		}
	}
	if int64(len(p)) > c.remain {
		p = p[:c.remain]
	}
	n, err := c.r.Read(p)
	c.remain -= int64(n)
	if err != nil {
		c.pending = err
		return n, err
	}
	if c.remain == 0 {
		if _, err := c.r.Discard(2); err != nil { // trailing CRLF after chunk data
			c.pending = err
			return n, err
		}
	}
	return n, nil
}

func (c *chunkedReader) nextChunkSize() error {
	line, err := c.r.ReadString('\n')
	if err != nil {
		return err
	}
	line = strings.TrimRight(line, "\r\n")
	if idx := strings.IndexByte(line, ';'); idx >= 0 {
		line = line[:idx] // chunk extensions, discarded
	}
	size, err := strconv.ParseInt(strings.TrimSpace(line), 16, 64)
	if err != nil || size < 0 {
		return errors.New("httpmsg: invalid chunk size")
	}
	c.remain = size
	return nil
}

func (c *chunkedReader) discardTrailers() error {
	for {
		line, err := c.r.ReadString('\n')
		if err != nil {
			return err
		}
		if strings.TrimRight(line, "\r\n") == "" {
			return nil
		}
	}
}

// writeChunked frames body as chunked transfer-coding onto w, per spec
// §4.3's "If the body is a stream, framing uses Transfer-Encoding:
// chunked."
func writeChunked(w io.Writer, body io.Reader) error {
	buf := make([]byte, 32*1024)
	for {
		n, err := body.Read(buf)
		if n > 0 {
			if _, werr := io.WriteString(w, strconv.FormatInt(int64(n), 16)+"\r\n"); werr != nil {
				return werr
			}
			if _, werr := w.Write(buf[:n]); werr != nil {
				return werr
			}
			if _, werr := io.WriteString(w, "\r\n"); werr != nil {
				return werr
			}
		}
		if err == io.EOF {
			_, werr := io.WriteString(w, "0\r\n\r\n")
			return werr
		}
		if err != nil {
			return err
		}
	}
}
