// Package sse decodes the text/event-stream wire format incrementally.
//
// Bytes are fed in whatever chunks the network delivers. The decoder keeps
// only the unconsumed suffix of its buffer and returns each frame exactly
// once, as soon as its terminating blank line has been seen.
package sse

import (
	"bytes"
	"strings"
)

// Frame is one dispatched event-stream block.
type Frame struct {
	// Event is the value of the "event:" field, empty for bare data frames.
	Event string
	// Data holds every "data:" line of the frame joined by "\n".
	Data string
	// ID is the value of the last "id:" field seen in the frame.
	ID string
}

// Decoder is an incremental event-stream parser. It is not safe for
// concurrent use.
type Decoder struct {
	buf []byte

	// pending frame fields
	event   string
	data    strings.Builder
	hasData bool
	id      string

	lastEventID string
	skipLF      bool
	started     bool
}

// NewDecoder creates an empty decoder.
func NewDecoder() *Decoder {
	return &Decoder{}
}

// Feed appends chunk to the buffer and returns every frame completed by it,
// in arrival order.
func (d *Decoder) Feed(chunk []byte) []Frame {
	d.buf = append(d.buf, chunk...)

	var frames []Frame
	pos := 0
	for pos < len(d.buf) {
		if d.skipLF {
			d.skipLF = false
			if d.buf[pos] == '\n' {
				pos++
				continue
			}
		}

		i := bytes.IndexAny(d.buf[pos:], "\r\n")
		if i < 0 {
			break
		}
		line := d.buf[pos : pos+i]
		if d.buf[pos+i] == '\r' {
			// A trailing CR may be the first half of CRLF; the LF is
			// skipped whenever it arrives.
			d.skipLF = true
		}
		pos += i + 1

		if f, ok := d.processLine(line); ok {
			frames = append(frames, f)
		}
	}

	d.compact(pos)
	return frames
}

// Flush treats the end of the stream as the end of the current line and
// frame, returning a final frame when one was pending.
func (d *Decoder) Flush() []Frame {
	var frames []Frame
	if len(d.buf) > 0 {
		if f, ok := d.processLine(d.buf); ok {
			frames = append(frames, f)
		}
		d.buf = d.buf[:0]
	}
	if f, ok := d.dispatch(); ok {
		frames = append(frames, f)
	}
	d.skipLF = false
	return frames
}

// LastEventID returns the most recent event id seen on the stream.
func (d *Decoder) LastEventID() string {
	return d.lastEventID
}

// Buffered returns the number of bytes waiting for a line terminator.
func (d *Decoder) Buffered() int {
	return len(d.buf)
}

// Reset discards all buffered input and pending frame state.
func (d *Decoder) Reset() {
	*d = Decoder{buf: d.buf[:0]}
}

func (d *Decoder) compact(pos int) {
	if pos == 0 {
		return
	}
	n := copy(d.buf, d.buf[pos:])
	d.buf = d.buf[:n]
}

func (d *Decoder) processLine(raw []byte) (Frame, bool) {
	if !d.started {
		d.started = true
		raw = bytes.TrimPrefix(raw, []byte("\xef\xbb\xbf"))
	}

	if len(raw) == 0 {
		return d.dispatch()
	}

	// Lines are complete here, so no multi-byte sequence can be split.
	line := strings.ToValidUTF8(string(raw), "\uFFFD")
	if line[0] == ':' {
		return Frame{}, false
	}

	field, value, found := strings.Cut(line, ":")
	if found {
		value = strings.TrimPrefix(value, " ")
	}

	switch field {
	case "event":
		d.event = value
	case "data":
		if d.hasData {
			d.data.WriteByte('\n')
		}
		d.data.WriteString(value)
		d.hasData = true
	case "id":
		if !strings.ContainsRune(value, 0) {
			d.id = value
			d.lastEventID = value
		}
	}
	return Frame{}, false
}

func (d *Decoder) dispatch() (Frame, bool) {
	defer func() {
		d.event = ""
		d.id = ""
		d.data.Reset()
		d.hasData = false
	}()

	if !d.hasData {
		return Frame{}, false
	}
	return Frame{
		Event: strings.TrimSpace(d.event),
		Data:  d.data.String(),
		ID:    d.id,
	}, true
}
