package multipart

import "bytes"

// consume drops the first n bytes of the buffered region.
func (p *Parser) consume(n int) {
	p.buf = p.buf[n:]
}

// scanFirstBoundary implements spec.md §4.6 step 2 for the Init->first
// part transition: optionally skip a leading CRLF, then match the
// normal boundary (-> PartHeaders) or the empty-multipart terminator
// (-> Complete). Returns false ("need more") if the buffer doesn't yet
// hold enough to decide.
func (p *Parser) scanFirstBoundary() bool {
	off := 0
	if bytes.HasPrefix(p.buf, []byte("\r\n")) {
		off = 2
	}
	rest := p.buf[off:]

	boundaryTok := []byte("--" + p.boundary)
	if len(rest) < len(boundaryTok) {
		if !bytes.HasPrefix(boundaryTok, rest) {
			p.fail(errMalformedPreamble)
		}
		return false
	}
	if !bytes.Equal(rest[:len(boundaryTok)], boundaryTok) {
		p.fail(errMalformedPreamble)
		return false
	}

	after := rest[len(boundaryTok):]
	if len(after) >= 2 && after[0] == '\r' && after[1] == '\n' {
		p.consume(off + len(boundaryTok) + 2)
		p.beginPart()
		return true
	}
	if len(after) >= 2 && after[0] == '-' && after[1] == '-' {
		if len(after) < 4 {
			return false
		}
		if after[2] != '\r' || after[3] != '\n' {
			p.fail(errMalformedPreamble)
			return false
		}
		p.consume(off + len(boundaryTok) + 4)
		p.finishComplete()
		return true
	}
	if len(after) >= 2 {
		p.fail(errMalformedPreamble)
	}
	return false
}

func (p *Parser) beginPart() {
	p.phase = phasePartHeaders
	p.headerCount = 0
	if p.cfg.OnPartBegin != nil {
		if err := p.cfg.OnPartBegin(); err != nil {
			p.fail(err)
		}
	}
}

func (p *Parser) finishComplete() {
	p.phase = phaseComplete
	if p.cfg.OnComplete != nil {
		if err := p.cfg.OnComplete(); err != nil {
			p.fail(err)
		}
	}
}

// scanPartHeaders consumes "field: value" lines until a blank line,
// per spec.md §4.6 step 3.
func (p *Parser) scanPartHeaders() bool {
	progressed := false
	for {
		if len(p.buf) == 0 {
			return progressed
		}
		if p.buf[0] == '\r' || p.buf[0] == '\n' {
			n, ok := lineEndLen(p.buf)
			if !ok {
				return progressed
			}
			p.consume(n)
			p.phase = phasePartBody
			if p.cfg.OnHeadersComplete != nil {
				if err := p.cfg.OnHeadersComplete(); err != nil {
					p.fail(err)
					return true
				}
			}
			return true
		}

		idx := bytes.IndexAny(p.buf, "\r\n")
		if idx < 0 {
			if len(p.buf) > p.maxHeaderSize {
				p.fail(errHeaderTooLong)
			}
			return progressed
		}
		if idx > p.maxHeaderSize {
			p.fail(errHeaderTooLong)
			return true
		}
		line := p.buf[:idx]
		lineEnd, ok := lineEndLen(p.buf[idx:])
		if !ok {
			return progressed
		}

		if err := p.handleHeaderLine(line); err != nil {
			p.fail(err)
			return true
		}
		p.consume(idx + lineEnd)
		progressed = true
	}
}

// lineEndLen returns the byte length of the line terminator at the
// start of buf (2 for "\r\n", 1 for a tolerant bare "\n"), or
// (0, false) if buf doesn't yet contain a full terminator.
func lineEndLen(buf []byte) (int, bool) {
	if len(buf) == 0 {
		return 0, false
	}
	if buf[0] == '\r' {
		if len(buf) < 2 {
			return 0, false
		}
		if buf[1] != '\n' {
			return 0, false
		}
		return 2, true
	}
	if buf[0] == '\n' {
		return 1, true
	}
	return 0, false
}

func (p *Parser) handleHeaderLine(line []byte) error {
	p.headerCount++
	if p.headerCount > p.maxHeaders {
		return errTooManyHeaders
	}
	colon := bytes.IndexByte(line, ':')
	if colon < 0 {
		return errMalformedHeader
	}
	field := bytes.TrimSpace(line[:colon])
	value := bytes.TrimSpace(line[colon+1:])

	if p.cfg.OnHeaderField != nil {
		if err := p.cfg.OnHeaderField(field); err != nil {
			return err
		}
	}
	if p.cfg.OnHeaderValue != nil {
		if err := p.cfg.OnHeaderValue(value); err != nil {
			return err
		}
	}

	if bytes.EqualFold(field, []byte("Content-Disposition")) {
		if name, ok := extractDispositionParam(string(value), "name"); ok && p.cfg.OnName != nil {
			if err := p.cfg.OnName(name); err != nil {
				return err
			}
		}
		if filename, ok := extractDispositionParam(string(value), "filename"); ok && p.cfg.OnFilename != nil {
			if err := p.cfg.OnFilename(filename); err != nil {
				return err
			}
		}
	}
	return nil
}

// scanPartBody implements spec.md §4.6 steps 4-5: find the next
// boundary occurrence in a single pass over the buffered region,
// emitting only bytes that cannot possibly be part of a delimiter.
func (p *Parser) scanPartBody() bool {
	boundaryTok := "--" + p.boundary
	buf := p.buf

	searchStart := 0
	for {
		rel := bytes.IndexByte(buf[searchStart:], '\n')
		if rel < 0 {
			return p.emitSafeBodyPrefix(buf)
		}
		nl := searchStart + rel
		tokStart := nl + 1
		if tokStart+len(boundaryTok) > len(buf) {
			// Not enough bytes yet to know if this newline starts a
			// boundary; wait for more data.
			return p.emitSafeBodyPrefixUpTo(buf, nl)
		}
		if !bytes.Equal(buf[tokStart:tokStart+len(boundaryTok)], []byte(boundaryTok)) {
			searchStart = nl + 1
			continue
		}

		prefixLen := 1
		bodyOff := nl
		if nl > 0 && buf[nl-1] == '\r' {
			prefixLen = 2
			bodyOff = nl - 1
		}

		after := tokStart + len(boundaryTok)
		if len(buf) >= after+2 && buf[after] == '-' && buf[after+1] == '-' {
			if len(buf) < after+4 {
				return p.emitSafeBodyPrefixUpTo(buf, bodyOff)
			}
			if buf[after+2] != '\r' || buf[after+3] != '\n' {
				searchStart = nl + 1
				continue
			}
			p.emitBody(buf[:bodyOff])
			p.consume(after + 4)
			p.finishPart(true)
			return true
		}

		if len(buf) >= after+2 && buf[after] == '\r' && buf[after+1] == '\n' {
			p.emitBody(buf[:bodyOff])
			p.consume(after + 2)
			p.finishPart(false)
			return true
		}
		if len(buf) < after+2 {
			return p.emitSafeBodyPrefixUpTo(buf, bodyOff)
		}
		searchStart = nl + 1
	}
}

func (p *Parser) emitBody(data []byte) {
	if len(data) == 0 || p.cfg.OnPartData == nil {
		return
	}
	if err := p.cfg.OnPartData(data); err != nil {
		p.fail(err)
	}
}

// emitSafeBodyPrefix handles the no-newline-found case: everything but
// the last maxDelimLen-1 bytes is guaranteed not to be a boundary
// prefix, per spec.md §4.6 step 5.
func (p *Parser) emitSafeBodyPrefix(buf []byte) bool {
	safe := len(buf) - (p.maxDelimLen - 1)
	if safe <= 0 {
		return false
	}
	p.emitBody(buf[:safe])
	p.consume(safe)
	return true
}

// emitSafeBodyPrefixUpTo is like emitSafeBodyPrefix but bounds the safe
// region to upTo (a candidate boundary start we can't yet confirm),
// since bytes at/after upTo might still turn out to be part of a
// delimiter once more data arrives.
func (p *Parser) emitSafeBodyPrefixUpTo(buf []byte, upTo int) bool {
	limit := len(buf) - (p.maxDelimLen - 1)
	if limit > upTo {
		limit = upTo
	}
	if limit <= 0 {
		return false
	}
	p.emitBody(buf[:limit])
	p.consume(limit)
	return true
}

func (p *Parser) finishPart(isEnd bool) {
	if p.cfg.OnPartComplete != nil {
		if err := p.cfg.OnPartComplete(); err != nil {
			p.fail(err)
			return
		}
	}
	if isEnd {
		p.finishComplete()
		return
	}
	p.beginPart()
}

// extractDispositionParam extracts name="value" (not decoded, per
// spec.md §7.4's recorded Open Question decision) or name=token from a
// Content-Disposition header value.
func extractDispositionParam(value, key string) (string, bool) {
	search := key + "="
	idx := 0
	for {
		pos := indexFold(value[idx:], search)
		if pos < 0 {
			return "", false
		}
		start := idx + pos + len(search)
		// Reject a match that's a suffix of a longer param name, e.g.
		// "filename=" matching inside "xfilename=".
		if start-len(search) > 0 {
			prev := value[start-len(search)-1]
			if prev != ';' && prev != ' ' && prev != '\t' {
				idx = start
				continue
			}
		}
		if start >= len(value) {
			return "", false
		}
		if value[start] == '"' {
			end := start + 1
			for end < len(value) {
				if value[end] == '\\' && end+1 < len(value) {
					end += 2
					continue
				}
				if value[end] == '"' {
					return value[start+1 : end], true
				}
				end++
			}
			return value[start+1:], true
		}
		end := start
		for end < len(value) && value[end] != ';' && value[end] != ' ' {
			end++
		}
		return value[start:end], true
	}
}

func indexFold(s, substr string) int {
	ls, lsub := len(s), len(substr)
	for i := 0; i+lsub <= ls; i++ {
		if equalFold(s[i:i+lsub], substr) {
			return i
		}
	}
	return -1
}

func equalFold(a, b string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := 0; i < len(a); i++ {
		ca, cb := a[i], b[i]
		if ca >= 'A' && ca <= 'Z' {
			ca += 'a' - 'A'
		}
		if cb >= 'A' && cb <= 'Z' {
			cb += 'a' - 'A'
		}
		if ca != cb {
			return false
		}
	}
	return true
}
