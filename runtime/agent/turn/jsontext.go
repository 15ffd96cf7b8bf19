package turn

import (
	"strconv"
	"strings"
	"unicode/utf16"
	"unicode/utf8"
)

// fieldStream extracts a top-level string field from a JSON object that
// arrives in chunks, releasing the field text as soon as it is decoded.
type fieldStream struct {
	name string
	doc  strings.Builder
	text string
}

func newFieldStream(name string) *fieldStream {
	return &fieldStream{name: name}
}

// Feed appends chunk to the document and returns the field text that became
// available.
func (f *fieldStream) Feed(chunk string) string {
	f.doc.WriteString(chunk)
	v, ok := partialStringField(f.doc.String(), f.name)
	if !ok {
		return ""
	}
	v = trimPartialRune(v)
	if len(v) <= len(f.text) || !strings.HasPrefix(v, f.text) {
		return ""
	}
	delta := v[len(f.text):]
	f.text = v
	return delta
}

// Text returns the field text released so far.
func (f *fieldStream) Text() string { return f.text }

// Document returns the raw document received so far.
func (f *fieldStream) Document() string { return f.doc.String() }

// partialStringField returns the value of the top-level string field name of
// the possibly truncated JSON object doc. The value may itself be truncated.
// ok is false until the value has started.
func partialStringField(doc, name string) (string, bool) {
	p := &partialJSON{s: doc}
	p.space()
	if !p.consume('{') {
		return "", false
	}
	for {
		p.space()
		if p.eof() {
			return "", false
		}
		switch p.peek() {
		case '}':
			return "", false
		case ',':
			p.i++
			continue
		case '"':
		default:
			return "", false
		}
		key, complete := p.str()
		if !complete {
			return "", false
		}
		p.space()
		if !p.consume(':') {
			return "", false
		}
		p.space()
		if p.eof() {
			return "", false
		}
		if key == name {
			if p.peek() != '"' {
				return "", false
			}
			v, _ := p.str()
			return v, true
		}
		if !p.skip() {
			return "", false
		}
	}
}

type partialJSON struct {
	s string
	i int
}

func (p *partialJSON) eof() bool  { return p.i >= len(p.s) }
func (p *partialJSON) peek() byte { return p.s[p.i] }

func (p *partialJSON) space() {
	for !p.eof() {
		switch p.s[p.i] {
		case ' ', '\t', '\n', '\r':
			p.i++
		default:
			return
		}
	}
}

func (p *partialJSON) consume(c byte) bool {
	if p.eof() || p.s[p.i] != c {
		return false
	}
	p.i++
	return true
}

// str decodes the string starting at the current quote. It returns the text
// decoded so far and whether the closing quote was reached. Truncated
// escape sequences are left out.
func (p *partialJSON) str() (string, bool) {
	var b strings.Builder
	p.i++
	for !p.eof() {
		c := p.s[p.i]
		switch {
		case c == '"':
			p.i++
			return b.String(), true
		case c != '\\':
			b.WriteByte(c)
			p.i++
			continue
		}
		if p.i+1 >= len(p.s) {
			return b.String(), false
		}
		switch e := p.s[p.i+1]; e {
		case '"', '\\', '/':
			b.WriteByte(e)
		case 'b':
			b.WriteByte('\b')
		case 'f':
			b.WriteByte('\f')
		case 'n':
			b.WriteByte('\n')
		case 'r':
			b.WriteByte('\r')
		case 't':
			b.WriteByte('\t')
		case 'u':
			r, n, ok := p.unicode()
			if !ok {
				return b.String(), false
			}
			b.WriteRune(r)
			p.i += n
			continue
		default:
			b.WriteByte(e)
		}
		p.i += 2
	}
	return b.String(), false
}

// unicode decodes a \uXXXX escape, combining surrogate pairs. n is the
// number of bytes consumed.
func (p *partialJSON) unicode() (rune, int, bool) {
	r, ok := hex4(p.s, p.i+2)
	if !ok {
		return 0, 0, false
	}
	if !utf16.IsSurrogate(r) {
		return r, 6, true
	}
	if p.i+12 > len(p.s) {
		return 0, 0, false
	}
	if p.s[p.i+6] != '\\' || p.s[p.i+7] != 'u' {
		return utf8.RuneError, 6, true
	}
	r2, ok := hex4(p.s, p.i+8)
	if !ok {
		return 0, 0, false
	}
	return utf16.DecodeRune(r, r2), 12, true
}

func hex4(s string, at int) (rune, bool) {
	if at+4 > len(s) {
		return 0, false
	}
	v, err := strconv.ParseUint(s[at:at+4], 16, 32)
	if err != nil {
		return 0, false
	}
	return rune(v), true
}

// skip moves past one value and reports whether it was complete.
func (p *partialJSON) skip() bool {
	switch p.peek() {
	case '"':
		_, ok := p.str()
		return ok
	case '{', '[':
		depth := 0
		for !p.eof() {
			switch p.s[p.i] {
			case '"':
				if _, ok := p.str(); !ok {
					return false
				}
				continue
			case '{', '[':
				depth++
			case '}', ']':
				depth--
				if depth == 0 {
					p.i++
					return true
				}
			}
			p.i++
		}
		return false
	default:
		for !p.eof() {
			switch p.s[p.i] {
			case ',', '}', ']', ' ', '\t', '\n', '\r':
				return true
			}
			p.i++
		}
		return false
	}
}

// trimPartialRune drops a trailing incomplete UTF-8 sequence.
func trimPartialRune(s string) string {
	for i := 0; i < utf8.UTFMax-1 && s != ""; i++ {
		r, size := utf8.DecodeLastRuneInString(s)
		if r != utf8.RuneError || size != 1 {
			return s
		}
		s = s[:len(s)-1]
	}
	return s
}
