package sse

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleStream = "event:dialogue-start\ndata:{\"dialogue_id\":7}\n\n" +
	"event: character-start\ndata: {\"character_config\":{\"character_id\":1,\"llm_id\":2},\"id\":\"a\"}\nid: a\n\n" +
	": keep-alive\n\n" +
	"event:token\ndata:{\"character_id\":1,\"token\":\"Zażółć \"}\n\n" +
	"data: {\"type\":\"token\",\"character_id\":1,\"token\":\"gęślą\"}\n\n" +
	"event:character-complete\ndata:{\"character_id\":1,\"token_count\":2}\n\n"

func feedAll(d *Decoder, chunks [][]byte) []Frame {
	var out []Frame
	for _, c := range chunks {
		out = append(out, d.Feed(c)...)
	}
	return append(out, d.Flush()...)
}

func TestDecoderWholeStream(t *testing.T) {
	frames := feedAll(NewDecoder(), [][]byte{[]byte(sampleStream)})

	require.Len(t, frames, 5)
	assert.Equal(t, Frame{Event: "dialogue-start", Data: `{"dialogue_id":7}`}, frames[0])
	assert.Equal(t, "character-start", frames[1].Event)
	assert.Equal(t, "a", frames[1].ID)
	assert.Equal(t, `{"character_id":1,"token":"Zażółć "}`, frames[2].Data)
	assert.Equal(t, "", frames[3].Event)
	assert.Equal(t, `{"type":"token","character_id":1,"token":"gęślą"}`, frames[3].Data)
	assert.Equal(t, "character-complete", frames[4].Event)
}

func TestDecoderChunkBoundaryIndependence(t *testing.T) {
	want := feedAll(NewDecoder(), [][]byte{[]byte(sampleStream)})
	raw := []byte(sampleStream)

	rng := rand.New(rand.NewSource(42))
	for trial := 0; trial < 200; trial++ {
		var chunks [][]byte
		for rest := raw; len(rest) > 0; {
			n := 1 + rng.Intn(12)
			if n > len(rest) {
				n = len(rest)
			}
			chunks = append(chunks, rest[:n])
			rest = rest[n:]
		}
		assert.Equal(t, want, feedAll(NewDecoder(), chunks), "trial %d", trial)
	}
}

func TestDecoderByteAtATime(t *testing.T) {
	want := feedAll(NewDecoder(), [][]byte{[]byte(sampleStream)})

	d := NewDecoder()
	var got []Frame
	for _, b := range []byte(sampleStream) {
		got = append(got, d.Feed([]byte{b})...)
	}
	got = append(got, d.Flush()...)
	assert.Equal(t, want, got)
}

func TestDecoderSplitMultiByteRune(t *testing.T) {
	d := NewDecoder()
	raw := []byte("data:ż\n\n")

	// "ż" is two bytes; split between them.
	assert.Empty(t, d.Feed(raw[:6]))
	frames := d.Feed(raw[6:])

	require.Len(t, frames, 1)
	assert.Equal(t, "ż", frames[0].Data)
}

func TestDecoderLineEndings(t *testing.T) {
	tests := []struct {
		name  string
		input string
	}{
		{"lf", "event:token\ndata:{}\n\n"},
		{"crlf", "event:token\r\ndata:{}\r\n\r\n"},
		{"cr", "event:token\rdata:{}\r\r"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			frames := NewDecoder().Feed([]byte(tt.input))
			require.Len(t, frames, 1)
			assert.Equal(t, Frame{Event: "token", Data: "{}"}, frames[0])
		})
	}
}

func TestDecoderCRLFSplitAcrossChunks(t *testing.T) {
	d := NewDecoder()
	assert.Empty(t, d.Feed([]byte("data:one\r")))
	assert.Empty(t, d.Feed([]byte("\n")))
	frames := d.Feed([]byte("\r\ndata:two\r\n\r\n"))

	require.Len(t, frames, 2)
	assert.Equal(t, "one", frames[0].Data)
	assert.Equal(t, "two", frames[1].Data)
}

func TestDecoderMultipleDataLines(t *testing.T) {
	frames := NewDecoder().Feed([]byte("data:{\"a\":\ndata: 1}\n\n"))

	require.Len(t, frames, 1)
	assert.Equal(t, "{\"a\":\n1}", frames[0].Data)
}

func TestDecoderRetainsOnlyUnconsumedTail(t *testing.T) {
	d := NewDecoder()
	frames := d.Feed([]byte("data:1\n\ndata:2\n\nda"))

	require.Len(t, frames, 2)
	assert.Equal(t, 2, d.Buffered())

	frames = d.Feed([]byte("ta:3\n\n"))
	require.Len(t, frames, 1)
	assert.Equal(t, "3", frames[0].Data)
	assert.Zero(t, d.Buffered())
}

func TestDecoderSkipsFramesWithoutData(t *testing.T) {
	frames := NewDecoder().Feed([]byte("event:ping\n\n:comment\n\nretry:100\n\n"))
	assert.Empty(t, frames)
}

func TestDecoderFlushDispatchesUnterminatedFrame(t *testing.T) {
	d := NewDecoder()
	assert.Empty(t, d.Feed([]byte("event:dialogue-complete\ndata:{\"turn_count\":2}")))

	frames := d.Flush()
	require.Len(t, frames, 1)
	assert.Equal(t, "dialogue-complete", frames[0].Event)
	assert.Empty(t, d.Flush())
}

func TestDecoderLastEventID(t *testing.T) {
	d := NewDecoder()
	d.Feed([]byte("id:1\ndata:x\n\nid:2\ndata:y\n\ndata:z\n\n"))
	assert.Equal(t, "2", d.LastEventID())
}

func TestDecoderStripsByteOrderMark(t *testing.T) {
	frames := NewDecoder().Feed([]byte("\xef\xbb\xbfevent:token\ndata:{}\n\n"))
	require.Len(t, frames, 1)
	assert.Equal(t, "token", frames[0].Event)
}

func TestDecoderReplacesInvalidUTF8(t *testing.T) {
	frames := NewDecoder().Feed([]byte("data:a\xffb\n\n"))
	require.Len(t, frames, 1)
	assert.Equal(t, "a\uFFFDb", frames[0].Data)
}
