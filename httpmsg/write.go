package httpmsg

import (
	"fmt"
	"io"
	"sort"
	"strconv"
)

// WriteResponse serializes resp onto w: status line, headers, blank line,
// body, per spec §4.3's "Response serialize" rule. Headers are written in
// sorted key order so output is deterministic (the HTTP spec imposes no
// ordering requirement, and spec §8's round-trip property only promises
// bytes preserved "up to header ordering").
func WriteResponse(w io.Writer, resp *Response) error {
	if resp.Headers == nil {
		resp.Headers = Header{}
	}

	reason := resp.Reason
	if reason == "" {
		reason = ReasonPhrase(resp.Status)
	}

	streaming := resp.Stream != nil
	switch {
	case streaming:
		resp.Headers.Set("Transfer-Encoding", "chunked")
		resp.Headers.Del("Content-Length")
	case resp.Status == 101:
		// Switching Protocols carries no body framing at all.
	case resp.Headers.Get("Content-Length") == "":
		resp.Headers.Set("Content-Length", strconv.Itoa(len(resp.Body)))
	}

	if _, err := fmt.Fprintf(w, "HTTP/1.1 %d %s\r\n", resp.Status, reason); err != nil {
		return err
	}

	names := make([]string, 0, len(resp.Headers))
	for name := range resp.Headers {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		for _, value := range resp.Headers[name] {
			if _, err := fmt.Fprintf(w, "%s: %s\r\n", name, value); err != nil {
				return err
			}
		}
	}
	if _, err := io.WriteString(w, "\r\n"); err != nil {
		return err
	}

	if streaming {
		return writeChunked(w, resp.Stream)
	}
	if len(resp.Body) > 0 {
		_, err := w.Write(resp.Body)
		return err
	}
	return nil
}
