package multipart

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestMultipartRoundTripS4(t *testing.T) {
	input := "--X\r\n" +
		"Content-Disposition: form-data; name=\"a\"\r\n" +
		"\r\n" +
		"AAA\r\n" +
		"--X\r\n" +
		"Content-Disposition: form-data; name=\"b\"; filename=\"f.txt\"\r\n" +
		"\r\n" +
		"BBB\r\n" +
		"--X--\r\n"

	p, err := New("X")
	require.NoError(t, err)

	var events []string
	var bodies []string
	p.SetCallbacks(Callbacks{
		OnPartBegin:       func() error { events = append(events, "part-begin"); return nil },
		OnName:            func(n string) error { events = append(events, "name:"+n); return nil },
		OnFilename:        func(f string) error { events = append(events, "filename:"+f); return nil },
		OnHeadersComplete: func() error { events = append(events, "headers-complete"); return nil },
		OnPartData: func(d []byte) error {
			bodies = append(bodies, string(d))
			events = append(events, "part-data:"+string(d))
			return nil
		},
		OnPartComplete: func() error { events = append(events, "part-complete"); return nil },
		OnComplete:     func() error { events = append(events, "complete"); return nil },
	})

	n, err := p.Execute([]byte(input))
	require.NoError(t, err)
	require.Equal(t, len(input), n)
	require.True(t, p.IsComplete())

	require.Equal(t, []string{
		"part-begin",
		"name:a",
		"headers-complete",
		"part-data:AAA",
		"part-complete",
		"part-begin",
		"name:b", "filename:f.txt",
		"headers-complete",
		"part-data:BBB",
		"part-complete",
		"complete",
	}, events)
	require.Equal(t, []string{"AAA", "BBB"}, bodies)
}

func TestEmptyMultipartProducesNoParts(t *testing.T) {
	p, err := New("X")
	require.NoError(t, err)

	var beganParts int
	completed := false
	p.SetCallbacks(Callbacks{
		OnPartBegin: func() error { beganParts++; return nil },
		OnComplete:  func() error { completed = true; return nil },
	})

	input := "--X--\r\n"
	n, err := p.Execute([]byte(input))
	require.NoError(t, err)
	require.Equal(t, len(input), n)
	require.Equal(t, 0, beganParts)
	require.True(t, completed)
}

func TestRejectsBoundaryLongerThan70Bytes(t *testing.T) {
	long := make([]byte, 71)
	for i := range long {
		long[i] = 'a'
	}
	_, err := New(string(long))
	require.Error(t, err)
}

func TestRejectsEmptyBoundary(t *testing.T) {
	_, err := New("")
	require.Error(t, err)
}

func TestStreamedAcrossMultipleExecuteCalls(t *testing.T) {
	input := "--X\r\nContent-Disposition: form-data; name=\"a\"\r\n\r\nhello world\r\n--X--\r\n"
	p, err := New("X")
	require.NoError(t, err)

	var body []byte
	completed := false
	p.SetCallbacks(Callbacks{
		OnPartData: func(d []byte) error { body = append(body, d...); return nil },
		OnComplete: func() error { completed = true; return nil },
	})

	for i := 0; i < len(input); i++ {
		_, err := p.Execute([]byte{input[i]})
		require.NoError(t, err)
	}

	require.Equal(t, "hello world", string(body))
	require.True(t, completed)
}

func TestBoundaryLookalikeInBodyIsNotTreatedAsDelimiter(t *testing.T) {
	// "--X" appears inside the body but not at a true boundary position
	// (no preceding newline immediately before it in the right spot).
	input := "--X\r\nContent-Disposition: form-data; name=\"a\"\r\n\r\n" +
		"value has --X inline but is not a boundary\r\n--X--\r\n"
	p, err := New("X")
	require.NoError(t, err)

	var body []byte
	p.SetCallbacks(Callbacks{
		OnPartData: func(d []byte) error { body = append(body, d...); return nil },
	})
	_, err = p.Execute([]byte(input))
	require.NoError(t, err)
	require.Equal(t, "value has --X inline but is not a boundary", string(body))
}
