package httpparser

import "errors"

var (
	errInvalidMethod         = errors.New("httpparser: invalid method token")
	errMalformedLine         = errors.New("httpparser: malformed line terminator")
	errInvalidURL            = errors.New("httpparser: invalid URL byte")
	errURLTooLong            = errors.New("httpparser: URL exceeds max_url_size")
	errMalformedHeader       = errors.New("httpparser: malformed header line")
	errHeaderTooLong         = errors.New("httpparser: header exceeds max_header_size")
	errTooManyHeaders        = errors.New("httpparser: too many headers")
	errInvalidStatusCode     = errors.New("httpparser: invalid status code")
	errMultipleContentLength = errors.New("httpparser: multiple Content-Length headers")
	errInvalidContentLength  = errors.New("httpparser: invalid Content-Length value")
	errChunkSizeOverflow     = errors.New("httpparser: chunk size overflow")
	errMalformedChunk        = errors.New("httpparser: malformed chunk encoding")
)
