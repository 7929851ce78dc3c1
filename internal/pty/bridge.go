package pty

import (
	"errors"
	"io"

	"golang.org/x/text/encoding/unicode"
	"golang.org/x/text/transform"
)

// readChunkSize bounds a single read from the PTY master.
const readChunkSize = 8 * 1024

// runBridge pumps src into EventOutput events until the stream closes or
// fails, then emits exactly one EventClosed. Output is decoded as UTF-8;
// invalid bytes become U+FFFD and a sequence split across two reads is
// completed by the next one. It closes src before returning.
//
// The bridge never touches the registry: an exited session stays
// registered until it is killed.
func runBridge(id string, src io.ReadCloser, emit EventHandler) {
	defer func() {
		_ = src.Close()
		emit(Event{Type: EventClosed, ID: id})
	}()

	dec := newUTF8Stream()
	raw := make([]byte, readChunkSize)
	for {
		n, err := src.Read(raw)
		if n > 0 {
			if text := dec.decode(raw[:n], false); text != "" {
				emit(Event{Type: EventOutput, ID: id, Data: text})
			}
		}
		if err != nil || n == 0 {
			// EOF and read errors (EIO once the child is gone) end the
			// stream the same way; an unfinished sequence becomes U+FFFD.
			if text := dec.decode(nil, true); text != "" {
				emit(Event{Type: EventOutput, ID: id, Data: text})
			}
			return
		}
	}
}

// utf8Stream decodes a byte stream chunk by chunk, holding back a
// trailing incomplete sequence until the next chunk or the end.
type utf8Stream struct {
	dec   transform.Transformer
	carry []byte
	dst   []byte
}

func newUTF8Stream() *utf8Stream {
	return &utf8Stream{
		dec: unicode.UTF8.NewDecoder(),
		dst: make([]byte, readChunkSize),
	}
}

func (s *utf8Stream) decode(chunk []byte, atEOF bool) string {
	src := chunk
	if len(s.carry) > 0 {
		src = append(append([]byte(nil), s.carry...), chunk...)
	}

	var out []byte
	for {
		nDst, nSrc, err := s.dec.Transform(s.dst, src, atEOF)
		out = append(out, s.dst[:nDst]...)
		src = src[nSrc:]
		if !errors.Is(err, transform.ErrShortDst) {
			break
		}
	}
	// Anything left is an incomplete sequence the decoder wants more
	// input for.
	s.carry = append(s.carry[:0], src...)
	return string(out)
}
