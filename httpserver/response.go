package httpserver

import (
	"fmt"
	"net/http"
	"strconv"
	"strings"
)

// encodeResponse serializes w into a full HTTP/1.1 response, adding
// Content-Length and a Connection header reflecting the decision the
// caller already made for this request (closeAfter mirrors what was
// read off the request, per spec.md §4.5's keep-alive/close framing).
func encodeResponse(w *ResponseWriter, closeAfter bool) []byte {
	var b strings.Builder
	reason := http.StatusText(w.status)
	if reason == "" {
		reason = "Unknown"
	}
	fmt.Fprintf(&b, "HTTP/1.1 %d %s\r\n", w.status, reason)
	for k, v := range w.header {
		fmt.Fprintf(&b, "%s: %s\r\n", k, v)
	}
	fmt.Fprintf(&b, "Content-Length: %s\r\n", strconv.Itoa(len(w.body)))
	if closeAfter {
		b.WriteString("Connection: close\r\n")
	} else {
		b.WriteString("Connection: keep-alive\r\n")
	}
	b.WriteString("\r\n")
	out := []byte(b.String())
	out = append(out, w.body...)
	return out
}
