package provider

import (
	"errors"
	"strings"
)

const (
	openLiteral  = "<additional_data key="
	closeLiteral = "</additional_data>"
)

// ErrReservedAdditionalDataKey is returned when a caller requests one of
// the reserved reasoning keys in additionalRequestedData.
var ErrReservedAdditionalDataKey = errors.New("provider: reserved additional_data key requested")

// ValidateRequestedKeys fails if names contains a reserved key (§4.2).
func ValidateRequestedKeys(names map[string]string) error {
	if _, ok := names[ReservedKeyInternalReasoning]; ok {
		return ErrReservedAdditionalDataKey
	}
	if _, ok := names[ReservedKeyInternalReasoningSummary]; ok {
		return ErrReservedAdditionalDataKey
	}
	return nil
}

type parserState int

const (
	stateOutside parserState = iota // plain text, scanning for an open tag
	stateHeader                     // flushing the open tag's "key=NAME>" header into a key
	stateInside                     // inside a tag body, scanning for the close tag
)

// TagParser incrementally parses `<additional_data key=NAME>VALUE</additional_data>`
// segments out of a stream of text deltas (§4.2). It never emits a chunk
// containing a partial occurrence of either tag literal: on each Feed call
// it finds the rightmost cut in the buffered text that cannot become the
// start of a literal, emits everything before that cut, and holds the
// remainder for the next delta.
type TagParser struct {
	state   parserState
	pending string
	header  string
	key     string
	data    map[string]string
}

// NewTagParser creates a parser ready to consume the first delta.
func NewTagParser() *TagParser {
	return &TagParser{state: stateOutside, data: make(map[string]string)}
}

// Feed processes one delta and returns the chunks it can now safely emit.
func (p *TagParser) Feed(delta string) []Chunk {
	var out []Chunk
	buf := p.pending + delta
	p.pending = ""

	for {
		switch p.state {
		case stateOutside:
			m := findLiteral(buf, openLiteral)
			if m.found {
				if m.pos > 0 {
					out = append(out, Chunk{Content: buf[:m.pos]})
				}
				buf = buf[m.pos+len(openLiteral):]
				p.state = stateHeader
				p.header = ""
				continue
			}
			if m.partial > 0 {
				if cut := len(buf) - m.partial; cut > 0 {
					out = append(out, Chunk{Content: buf[:cut]})
				}
				p.pending = buf[len(buf)-m.partial:]
			} else if len(buf) > 0 {
				out = append(out, Chunk{Content: buf})
			}
			return out

		case stateHeader:
			gt := strings.IndexByte(buf, '>')
			if gt < 0 {
				p.header += buf
				return out
			}
			p.header += buf[:gt]
			buf = buf[gt+1:]
			p.key = p.header
			p.header = ""
			p.data[p.key] = ""
			p.state = stateInside
			continue

		case stateInside:
			m := findLiteral(buf, closeLiteral)
			if m.found {
				if m.pos > 0 {
					content := buf[:m.pos]
					out = append(out, Chunk{Content: content, Key: p.key})
					p.data[p.key] += content
				}
				buf = buf[m.pos+len(closeLiteral):]
				p.state = stateOutside
				continue
			}
			if m.partial > 0 {
				if cut := len(buf) - m.partial; cut > 0 {
					content := buf[:cut]
					out = append(out, Chunk{Content: content, Key: p.key})
					p.data[p.key] += content
				}
				p.pending = buf[len(buf)-m.partial:]
			} else if len(buf) > 0 {
				out = append(out, Chunk{Content: buf, Key: p.key})
				p.data[p.key] += buf
			}
			return out
		}
	}
}

// Close flushes any text still buffered when the stream ends. Well-formed
// input never leaves anything buffered in stateHeader (an open tag that
// never closes); this only returns content for stateOutside/stateInside.
func (p *TagParser) Close() []Chunk {
	if p.pending == "" {
		return nil
	}
	defer func() { p.pending = "" }()
	switch p.state {
	case stateInside:
		p.data[p.key] += p.pending
		return []Chunk{{Content: p.pending, Key: p.key}}
	default:
		return []Chunk{{Content: p.pending}}
	}
}

// Data returns the additional-data map accumulated so far.
func (p *TagParser) Data() map[string]string {
	return p.data
}

type literalMatch struct {
	found   bool
	pos     int
	partial int
}

// findLiteral looks for a full occurrence of literal in buf. If none
// exists, it reports the length of the longest suffix of buf that is a
// proper prefix of literal — the part that must be held back because more
// data could still complete the match.
func findLiteral(buf, literal string) literalMatch {
	if idx := strings.Index(buf, literal); idx >= 0 {
		return literalMatch{found: true, pos: idx}
	}
	max := len(literal) - 1
	if max > len(buf) {
		max = len(buf)
	}
	for l := max; l > 0; l-- {
		if strings.HasPrefix(literal, buf[len(buf)-l:]) {
			return literalMatch{partial: l}
		}
	}
	return literalMatch{}
}

// ParseComplete runs the full non-streaming parse described in §4.2:
// strip every additional_data segment from text and collect them into a
// map, last write wins per key across separate segments.
func ParseComplete(text string) (cleaned string, data map[string]string) {
	p := NewTagParser()
	var sb strings.Builder
	for _, c := range p.Feed(text) {
		if c.Key == "" {
			sb.WriteString(c.Content)
		}
	}
	for _, c := range p.Close() {
		if c.Key == "" {
			sb.WriteString(c.Content)
		}
	}
	return sb.String(), p.Data()
}
