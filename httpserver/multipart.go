package httpserver

import (
	"mime"
	"strings"

	"github.com/go-aio/aio/internal/multipart"
)

// Part is one decoded multipart/form-data part.
type Part struct {
	Name     string
	Filename string
	Header   map[string]string
	Data     []byte
}

// IsMultipart reports whether r's Content-Type is multipart/form-data.
func (r *Request) IsMultipart() bool {
	ct := r.Header["content-type"]
	return strings.HasPrefix(strings.ToLower(ct), "multipart/form-data")
}

// ParseMultipart decodes r's already-buffered Body as multipart/form-data,
// per spec.md §4.6 wired into request handling for streaming upload
// bodies. r.Body must already hold the full request body (the server's
// read loop buffers it fully before dispatch, see serveConn).
func (r *Request) ParseMultipart() ([]Part, error) {
	_, params, err := mime.ParseMediaType(r.Header["content-type"])
	if err != nil {
		return nil, err
	}
	boundary := params["boundary"]

	p, err := multipart.New(boundary)
	if err != nil {
		return nil, err
	}

	var parts []Part
	var cur *Part
	var curField string
	p.SetCallbacks(multipart.Callbacks{
		OnPartBegin: func() error {
			cur = &Part{Header: make(map[string]string)}
			return nil
		},
		OnHeaderField: func(d []byte) error { curField = string(d); return nil },
		OnHeaderValue: func(d []byte) error {
			cur.Header[strings.ToLower(curField)] = string(d)
			return nil
		},
		OnName:     func(n string) error { cur.Name = n; return nil },
		OnFilename: func(f string) error { cur.Filename = f; return nil },
		OnPartData: func(d []byte) error { cur.Data = append(cur.Data, d...); return nil },
		OnPartComplete: func() error {
			parts = append(parts, *cur)
			return nil
		},
	})

	if _, err := p.Execute(r.Body); err != nil {
		return nil, err
	}
	return parts, nil
}
