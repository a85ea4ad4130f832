// Package httpparser implements the streaming, push-style HTTP/1.x
// request/response parser of spec.md §4.5: a single Execute call
// consumes as many bytes as it can, leaving the parser mid-state ready
// for the next call. Grounded on the teacher's explicit phase-enum +
// table-driven transition discipline (queue.Runner's TagState machine),
// applied here to byte-stream parsing instead of ublk tag lifecycle.
package httpparser

import (
	"strconv"
	"strings"
)

// MessageType selects what Execute expects to parse.
type MessageType int

const (
	Request MessageType = iota
	Response
	Either
)

type phase int

const (
	phaseStart phase = iota
	phaseMethodToken
	phaseSpace1
	phaseURL
	phaseSpace2
	phaseVersion
	phaseRequestLineEnd
	phaseStatusVersion
	phaseStatusSpace1
	phaseStatusCode
	phaseStatusSpace2
	phaseStatusReason
	phaseStatusLineEnd
	phaseHeaderName
	phaseColon
	phaseOWS
	phaseHeaderValue
	phaseHeaderLineEnd
	phaseBodyStart
	phaseBody
	phaseChunkSize
	phaseChunkExt
	phaseChunkSizeLineEnd
	phaseChunkData
	phaseChunkDataEnd
	phaseChunkTrailer
	phaseDone
	phaseError
)

// Callbacks is the parser's callback table, per spec.md §4.5. Data
// callbacks may fire multiple times per logical token; structural
// callbacks fire at most once per message. Any callback returning
// non-nil aborts the parse (the error becomes sticky).
type Callbacks struct {
	OnMessageBegin    func() error
	OnURL             func(data []byte) error
	OnStatus          func(data []byte) error
	OnHeaderField     func(data []byte) error
	OnHeaderValue     func(data []byte) error
	OnHeadersComplete func() error
	OnBody            func(data []byte) error
	OnMessageComplete func() error
	OnError           func(err error) error
}

// Config configures a Parser. The zero value is usable (Request,
// non-strict, generous limits).
type Config struct {
	Type          MessageType
	MaxHeaderSize int // per header line, 0 = default 8KB
	MaxHeaders    int // 0 = default 100
	MaxURLSize    int // 0 = default 8KB
	Strict        bool
}

const (
	defaultMaxHeaderSize = 8 * 1024
	defaultMaxHeaders    = 100
	defaultMaxURLSize    = 8 * 1024
)

// Parser is a restartable streaming HTTP/1.x message parser.
type Parser struct {
	cfg Callbacks
	typ MessageType

	maxHeaderSize int
	maxHeaders    int
	maxURLSize    int
	strict        bool

	phase phase

	Method        string
	URL           string
	HTTPMajor     int
	HTTPMinor     int
	StatusCode    int
	ContentLength int64

	chunked            bool
	connectionClose    bool
	connectionKeepAlive bool
	upgrade            bool

	haveContentLength bool
	headerCount       int

	token      []byte
	curField   []byte
	bodyRemain int64
	chunkSize  int64

	complete bool
	err      error
}

// New creates a parser for the given message type with default
// callbacks and limits. Use SetCallbacks to install callbacks, or
// NewWithConfig for non-default limits or strict mode.
func New(typ MessageType) *Parser {
	p := &Parser{typ: typ}
	p.applyDefaults()
	return p
}

// NewWithConfig creates a parser from a full Config.
func NewWithConfig(cfg Config) *Parser {
	p := &Parser{typ: cfg.Type, strict: cfg.Strict}
	p.maxHeaderSize = cfg.MaxHeaderSize
	p.maxHeaders = cfg.MaxHeaders
	p.maxURLSize = cfg.MaxURLSize
	p.applyDefaults()
	return p
}

func (p *Parser) applyDefaults() {
	if p.maxHeaderSize == 0 {
		p.maxHeaderSize = defaultMaxHeaderSize
	}
	if p.maxHeaders == 0 {
		p.maxHeaders = defaultMaxHeaders
	}
	if p.maxURLSize == 0 {
		p.maxURLSize = defaultMaxURLSize
	}
}

// SetCallbacks installs the callback table.
func (p *Parser) SetCallbacks(cb Callbacks) { p.cfg = cb }

// IsComplete reports whether a full message has been parsed.
func (p *Parser) IsComplete() bool { return p.complete }

// Error returns the sticky parse error, if any.
func (p *Parser) Error() error { return p.err }

// Chunked reports whether Transfer-Encoding: chunked was seen.
func (p *Parser) Chunked() bool { return p.chunked }

// ConnectionClose reports whether Connection: close was seen.
func (p *Parser) ConnectionClose() bool { return p.connectionClose }

// ConnectionKeepAlive reports whether Connection: keep-alive was seen.
func (p *Parser) ConnectionKeepAlive() bool { return p.connectionKeepAlive }

// Upgrade reports whether an Upgrade header was present.
func (p *Parser) Upgrade() bool { return p.upgrade }

// Reset returns the parser to phase Start for a new message on the same
// connection, per spec.md §4.5: "a second message in the same stream
// requires reset."
func (p *Parser) Reset() {
	typ, strict := p.typ, p.strict
	maxH, maxHs, maxU := p.maxHeaderSize, p.maxHeaders, p.maxURLSize
	cb := p.cfg
	*p = Parser{}
	p.typ, p.strict = typ, strict
	p.maxHeaderSize, p.maxHeaders, p.maxURLSize = maxH, maxHs, maxU
	p.cfg = cb
}

func isTokenChar(c byte) bool {
	switch {
	case c >= 'A' && c <= 'Z', c >= 'a' && c <= 'z', c >= '0' && c <= '9':
		return true
	}
	switch c {
	case '!', '#', '$', '%', '&', '\'', '*', '+', '-', '.', '^', '_', '`', '|', '~':
		return true
	}
	return false
}

func isCTL(c byte) bool { return c < 0x20 || c == 0x7f }

// Execute feeds buf to the parser and returns the number of bytes
// consumed (always <= len(buf)). Once the parser has errored, further
// calls return 0 and the same error (sticky).
func (p *Parser) Execute(buf []byte) (int, error) {
	if p.err != nil {
		return 0, p.err
	}
	i := 0
	n := len(buf)
	for i < n {
		if p.phase == phaseDone || p.phase == phaseError {
			break
		}
		before := p.phase
		consumed, err := p.step(buf[i:])
		i += consumed
		if err != nil {
			p.fail(err)
			return i, err
		}
		if consumed == 0 && p.phase == before {
			// Parser needs more data than is available in this call
			// (mid-token); stop without spinning.
			break
		}
	}
	return i, nil
}

func (p *Parser) fail(err error) {
	p.phase = phaseError
	p.err = err
	if p.cfg.OnError != nil {
		p.cfg.OnError(err)
	}
}

// step consumes a bounded amount of progress from buf and returns how
// many bytes it used. It never scans past a single line/token boundary
// per call so Execute's outer loop stays O(n) total.
func (p *Parser) step(buf []byte) (int, error) {
	switch p.phase {
	case phaseStart:
		return p.stepStart(buf)
	case phaseMethodToken:
		return p.stepMethodToken(buf)
	case phaseSpace1:
		return p.stepExpectSpace(buf, phaseURL)
	case phaseURL:
		return p.stepURL(buf)
	case phaseSpace2:
		return p.stepExpectSpace(buf, phaseVersion)
	case phaseVersion:
		return p.stepVersion(buf, phaseRequestLineEnd)
	case phaseRequestLineEnd:
		return p.stepLineEnd(buf, phaseHeaderName)
	case phaseStatusVersion:
		return p.stepVersion(buf, phaseStatusSpace1)
	case phaseStatusSpace1:
		return p.stepExpectSpace(buf, phaseStatusCode)
	case phaseStatusCode:
		return p.stepStatusCode(buf)
	case phaseStatusSpace2:
		return p.stepExpectSpace(buf, phaseStatusReason)
	case phaseStatusReason:
		return p.stepStatusReason(buf)
	case phaseStatusLineEnd:
		return p.stepLineEnd(buf, phaseHeaderName)
	case phaseHeaderName:
		return p.stepHeaderName(buf)
	case phaseColon:
		return p.stepColon(buf)
	case phaseOWS:
		return p.stepOWS(buf)
	case phaseHeaderValue:
		return p.stepHeaderValue(buf)
	case phaseHeaderLineEnd:
		return p.stepHeaderLineEnd(buf)
	case phaseBodyStart:
		return p.stepBodyStart(buf)
	case phaseBody:
		return p.stepBody(buf)
	case phaseChunkSize:
		return p.stepChunkSize(buf)
	case phaseChunkExt:
		return p.stepChunkExt(buf)
	case phaseChunkSizeLineEnd:
		return p.stepChunkSizeLineEnd(buf)
	case phaseChunkData:
		return p.stepChunkData(buf)
	case phaseChunkDataEnd:
		return p.stepLineEnd(buf, phaseChunkSize)
	case phaseChunkTrailer:
		return p.stepChunkTrailer(buf)
	}
	return 0, nil
}

func (p *Parser) stepStart(buf []byte) (int, error) {
	typ := p.typ
	if typ == Either {
		if len(buf) < 5 {
			return 0, nil
		}
		if string(buf[:5]) == "HTTP/" {
			typ = Response
		} else {
			typ = Request
		}
		p.typ = typ
	}
	if p.cfg.OnMessageBegin != nil {
		if err := p.cfg.OnMessageBegin(); err != nil {
			return 0, err
		}
	}
	if typ == Response {
		p.phase = phaseStatusVersion
	} else {
		p.phase = phaseMethodToken
	}
	return 0, nil
}

var knownMethods = []string{"GET", "HEAD", "POST", "PUT", "DELETE", "CONNECT", "OPTIONS", "TRACE", "PATCH"}

func (p *Parser) stepMethodToken(buf []byte) (int, error) {
	for idx, c := range buf {
		if c == ' ' {
			p.Method = string(p.token)
			p.token = nil
			if p.strict && !isKnownMethod(p.Method) {
				return 0, errInvalidMethod
			}
			p.phase = phaseSpace1
			return idx, nil
		}
		if !isTokenChar(c) {
			return 0, errInvalidMethod
		}
		p.token = append(p.token, c)
		if len(p.token) > 32 {
			return 0, errInvalidMethod
		}
	}
	return len(buf), nil
}

func isKnownMethod(m string) bool {
	for _, k := range knownMethods {
		if k == m {
			return true
		}
	}
	return false
}

func (p *Parser) stepExpectSpace(buf []byte, next phase) (int, error) {
	if buf[0] != ' ' {
		return 0, errMalformedLine
	}
	p.phase = next
	return 1, nil
}

func (p *Parser) stepURL(buf []byte) (int, error) {
	for idx, c := range buf {
		if c == ' ' {
			if p.cfg.OnURL != nil && len(p.token) > 0 {
				if err := p.cfg.OnURL(p.token); err != nil {
					return 0, err
				}
			}
			p.URL = string(p.token)
			p.token = nil
			p.phase = phaseSpace2
			return idx, nil
		}
		if isCTL(c) {
			return 0, errInvalidURL
		}
		p.token = append(p.token, c)
		if len(p.token) > p.maxURLSize {
			return 0, errURLTooLong
		}
	}
	return len(buf), nil
}

func (p *Parser) stepVersion(buf []byte, next phase) (int, error) {
	// Expect "HTTP/M.N", ended by the line terminator (request line) or by
	// the space before the status code (status line). The terminator or
	// space is left for the next phase to consume; a bare LF is accepted
	// or rejected there according to strict mode.
	for idx, c := range buf {
		if c == '\r' || c == '\n' || (c == ' ' && next == phaseStatusSpace1) {
			maj, min, err := parseVersion(string(p.token))
			if err != nil {
				return 0, err
			}
			p.HTTPMajor, p.HTTPMinor = maj, min
			p.token = nil
			p.phase = next
			return idx, nil
		}
		p.token = append(p.token, c)
		if len(p.token) > 16 {
			return 0, errMalformedLine
		}
	}
	return len(buf), nil
}

func parseVersion(s string) (int, int, error) {
	if !strings.HasPrefix(s, "HTTP/") || len(s) != len("HTTP/1.1") {
		return 0, 0, errMalformedLine
	}
	maj := s[5]
	dot := s[6]
	min := s[7]
	if dot != '.' || maj < '0' || maj > '9' || min < '0' || min > '9' {
		return 0, 0, errMalformedLine
	}
	return int(maj - '0'), int(min - '0'), nil
}

func (p *Parser) stepStatusCode(buf []byte) (int, error) {
	for idx, c := range buf {
		if c == ' ' {
			code, err := strconv.Atoi(string(p.token))
			if err != nil || code < 100 || code > 999 {
				return 0, errInvalidStatusCode
			}
			p.StatusCode = code
			p.token = nil
			p.phase = phaseStatusSpace2
			return idx, nil
		}
		if c < '0' || c > '9' {
			return 0, errInvalidStatusCode
		}
		p.token = append(p.token, c)
		if len(p.token) > 3 {
			return 0, errInvalidStatusCode
		}
	}
	return len(buf), nil
}

func (p *Parser) stepStatusReason(buf []byte) (int, error) {
	for idx, c := range buf {
		if c == '\r' || c == '\n' {
			if p.cfg.OnStatus != nil && len(p.token) > 0 {
				if err := p.cfg.OnStatus(p.token); err != nil {
					return 0, err
				}
			}
			p.token = nil
			p.phase = phaseStatusLineEnd
			return idx, nil
		}
		p.token = append(p.token, c)
	}
	return len(buf), nil
}

func (p *Parser) stepLineEnd(buf []byte, next phase) (int, error) {
	c := buf[0]
	if c == '\r' {
		if len(buf) < 2 {
			return 0, nil
		}
		if buf[1] != '\n' {
			return 0, errMalformedLine
		}
		p.phase = next
		return 2, nil
	}
	if c == '\n' {
		if p.strict {
			return 0, errMalformedLine
		}
		p.phase = next
		return 1, nil
	}
	return 0, errMalformedLine
}

func (p *Parser) stepHeaderName(buf []byte) (int, error) {
	if buf[0] == '\r' || buf[0] == '\n' {
		// Empty line: end of headers.
		return p.finishHeaders(buf)
	}
	for idx, c := range buf {
		if c == ':' {
			p.curField = p.token
			p.token = nil
			p.phase = phaseColon
			return idx, nil
		}
		if c == ' ' && p.strict {
			return 0, errMalformedHeader
		}
		if !isTokenChar(c) && c != ' ' {
			return 0, errMalformedHeader
		}
		p.token = append(p.token, c)
		if len(p.token) > p.maxHeaderSize {
			return 0, errHeaderTooLong
		}
	}
	return len(buf), nil
}

func (p *Parser) finishHeaders(buf []byte) (int, error) {
	if buf[0] == '\r' {
		if len(buf) < 2 {
			return 0, nil
		}
		if buf[1] != '\n' {
			return 0, errMalformedLine
		}
		return p.completeHeaders(2)
	}
	if p.strict {
		return 0, errMalformedLine
	}
	return p.completeHeaders(1)
}

func (p *Parser) completeHeaders(consumed int) (int, error) {
	if p.cfg.OnHeadersComplete != nil {
		if err := p.cfg.OnHeadersComplete(); err != nil {
			return 0, err
		}
	}
	p.phase = phaseBodyStart
	// Resolve the body-framing decision immediately rather than waiting
	// for the next Execute call to reach phaseBodyStart: a message with
	// no body (HEAD, Content-Length: 0) must become complete as soon as
	// headers end, even if this call's buffer has no bytes left.
	if err := p.resolveBodyStart(); err != nil {
		return 0, err
	}
	return consumed, nil
}

// resolveBodyStart applies spec.md §4.5's body-framing precedence
// (chunked > content-length > length-delimited-by-close > empty)
// without consuming any bytes, finishing the message inline when no
// body is expected.
func (p *Parser) resolveBodyStart() error {
	switch {
	case p.chunked:
		p.phase = phaseChunkSize
	case p.haveContentLength && p.ContentLength > 0:
		p.bodyRemain = p.ContentLength
		p.phase = phaseBody
	case p.haveContentLength:
		return p.finishMessage()
	case p.typ == Response:
		p.bodyRemain = -1
		p.phase = phaseBody
	default:
		return p.finishMessage()
	}
	return nil
}

func (p *Parser) stepColon(buf []byte) (int, error) {
	if buf[0] != ':' {
		return 0, errMalformedHeader
	}
	p.headerCount++
	if p.headerCount > p.maxHeaders {
		return 0, errTooManyHeaders
	}
	if p.cfg.OnHeaderField != nil {
		if err := p.cfg.OnHeaderField(p.curField); err != nil {
			return 0, err
		}
	}
	p.phase = phaseOWS
	return 1, nil
}

func (p *Parser) stepOWS(buf []byte) (int, error) {
	i := 0
	for i < len(buf) && (buf[i] == ' ' || buf[i] == '\t') {
		i++
	}
	if i == len(buf) {
		return i, nil
	}
	p.phase = phaseHeaderValue
	return i, nil
}

func (p *Parser) stepHeaderValue(buf []byte) (int, error) {
	for idx, c := range buf {
		if c == '\r' || c == '\n' {
			value := strings.TrimRight(string(p.token), " \t")
			if err := p.onHeaderValueComplete(value); err != nil {
				return 0, err
			}
			p.token = nil
			p.phase = phaseHeaderLineEnd
			return idx, nil
		}
		if isCTL(c) && c != '\t' {
			return 0, errMalformedHeader
		}
		p.token = append(p.token, c)
		if len(p.curField)+len(p.token) > p.maxHeaderSize {
			return 0, errHeaderTooLong
		}
	}
	return len(buf), nil
}

func (p *Parser) onHeaderValueComplete(value string) error {
	if p.cfg.OnHeaderValue != nil {
		if err := p.cfg.OnHeaderValue([]byte(value)); err != nil {
			return err
		}
	}
	name := strings.ToLower(string(p.curField))
	switch name {
	case "content-length":
		n, err := strconv.ParseInt(value, 10, 64)
		if err != nil || n < 0 {
			return errInvalidContentLength
		}
		if p.haveContentLength && n != p.ContentLength {
			return errMultipleContentLength
		}
		p.ContentLength = n
		p.haveContentLength = true
	case "transfer-encoding":
		if strings.EqualFold(strings.TrimSpace(value), "chunked") {
			p.chunked = true
		}
	case "connection":
		for _, tok := range strings.Split(value, ",") {
			tok = strings.TrimSpace(tok)
			if strings.EqualFold(tok, "close") {
				p.connectionClose = true
			} else if strings.EqualFold(tok, "keep-alive") {
				p.connectionKeepAlive = true
			}
		}
	case "upgrade":
		p.upgrade = true
	}
	return nil
}

func (p *Parser) stepHeaderLineEnd(buf []byte) (int, error) {
	return p.stepLineEnd(buf, phaseHeaderName)
}

func (p *Parser) stepBodyStart(buf []byte) (int, error) {
	switch {
	case p.chunked:
		p.phase = phaseChunkSize
	case p.haveContentLength && p.ContentLength > 0:
		p.bodyRemain = p.ContentLength
		p.phase = phaseBody
	case p.haveContentLength:
		return 0, p.finishMessage()
	case p.typ == Response:
		// Length-delimited-by-close: body is "the rest of the stream."
		p.bodyRemain = -1
		p.phase = phaseBody
	default:
		return 0, p.finishMessage()
	}
	return 0, nil
}

func (p *Parser) stepBody(buf []byte) (int, error) {
	if p.bodyRemain == 0 {
		return 0, p.finishMessage()
	}
	n := len(buf)
	if p.bodyRemain > 0 && int64(n) > p.bodyRemain {
		n = int(p.bodyRemain)
	}
	if n > 0 && p.cfg.OnBody != nil {
		if err := p.cfg.OnBody(buf[:n]); err != nil {
			return 0, err
		}
	}
	if p.bodyRemain > 0 {
		p.bodyRemain -= int64(n)
		if p.bodyRemain == 0 {
			if err := p.finishMessage(); err != nil {
				return n, err
			}
		}
	}
	return n, nil
}

func (p *Parser) finishMessage() error {
	p.complete = true
	p.phase = phaseDone
	if p.cfg.OnMessageComplete != nil {
		return p.cfg.OnMessageComplete()
	}
	return nil
}

const maxChunkSize = int64(1) << 40 // overflow guard well beyond any real transfer

func (p *Parser) stepChunkSize(buf []byte) (int, error) {
	for idx, c := range buf {
		switch {
		case c >= '0' && c <= '9', c >= 'a' && c <= 'f', c >= 'A' && c <= 'F':
			var digit int64
			switch {
			case c >= '0' && c <= '9':
				digit = int64(c - '0')
			case c >= 'a' && c <= 'f':
				digit = int64(c-'a') + 10
			default:
				digit = int64(c-'A') + 10
			}
			p.chunkSize = p.chunkSize*16 + digit
			if p.chunkSize > maxChunkSize {
				return 0, errChunkSizeOverflow
			}
		case c == ';':
			p.phase = phaseChunkExt
			return idx + 1, nil
		case c == '\r' || c == '\n':
			p.phase = phaseChunkSizeLineEnd
			return idx, nil
		default:
			return 0, errMalformedChunk
		}
	}
	return len(buf), nil
}

// stepChunkSizeLineEnd consumes the CRLF (or bare LF) ending a
// chunk-size line, then routes to chunk data or the trailer phase
// depending on whether the terminal zero-size chunk was seen.
func (p *Parser) stepChunkSizeLineEnd(buf []byte) (int, error) {
	c := buf[0]
	var consumed int
	switch {
	case c == '\r':
		if len(buf) < 2 {
			return 0, nil
		}
		if buf[1] != '\n' {
			return 0, errMalformedLine
		}
		consumed = 2
	case c == '\n':
		if p.strict {
			return 0, errMalformedLine
		}
		consumed = 1
	default:
		return 0, errMalformedLine
	}
	if p.chunkSize == 0 {
		p.phase = phaseChunkTrailer
	} else {
		p.bodyRemain = p.chunkSize
		p.phase = phaseChunkData
	}
	p.chunkSize = 0
	return consumed, nil
}

func (p *Parser) stepChunkExt(buf []byte) (int, error) {
	for idx, c := range buf {
		if c == '\r' || c == '\n' {
			p.phase = phaseChunkSizeLineEnd
			return idx, nil
		}
	}
	return len(buf), nil
}

func (p *Parser) stepChunkData(buf []byte) (int, error) {
	n := len(buf)
	if int64(n) > p.bodyRemain {
		n = int(p.bodyRemain)
	}
	if n > 0 && p.cfg.OnBody != nil {
		if err := p.cfg.OnBody(buf[:n]); err != nil {
			return 0, err
		}
	}
	p.bodyRemain -= int64(n)
	if p.bodyRemain == 0 {
		p.phase = phaseChunkDataEnd
	}
	return n, nil
}

func (p *Parser) stepChunkTrailer(buf []byte) (int, error) {
	// Trailers are headers after the terminal 0-size chunk; swallow
	// until the blank line per spec.md §4.5's "0 CRLF <trailers> CRLF".
	if buf[0] == '\r' || buf[0] == '\n' {
		return p.finishHeadersAfterTrailer(buf)
	}
	for idx, c := range buf {
		if c == '\n' {
			return idx + 1, nil
		}
	}
	return len(buf), nil
}

func (p *Parser) finishHeadersAfterTrailer(buf []byte) (int, error) {
	if buf[0] == '\r' {
		if len(buf) < 2 {
			return 0, nil
		}
		if buf[1] != '\n' {
			return 0, errMalformedLine
		}
		return 2, p.finishMessage()
	}
	return 1, p.finishMessage()
}
