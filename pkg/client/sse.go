package client

import (
	"bufio"
	"io"
	"strings"
)

// forEachServerSentEvent reads a text/event-stream body and invokes fn once
// per complete event. Multi-line data fields are joined with newlines, per
// the SSE wire format. Returns when the stream ends.
func forEachServerSentEvent(r io.Reader, fn func(name, data string)) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	var name string
	var data []string
	for scanner.Scan() {
		line := scanner.Text()
		switch {
		case line == "":
			if len(data) > 0 {
				fn(name, strings.Join(data, "\n"))
			}
			name = ""
			data = nil
		case strings.HasPrefix(line, "event:"):
			name = strings.TrimSpace(strings.TrimPrefix(line, "event:"))
		case strings.HasPrefix(line, "data:"):
			data = append(data, strings.TrimSpace(strings.TrimPrefix(line, "data:")))
		}
	}
	if len(data) > 0 {
		fn(name, strings.Join(data, "\n"))
	}
}
