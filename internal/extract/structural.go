package extract

import (
	"bytes"
	"strconv"
	"strings"
	"unicode/utf16"
	"unicode/utf8"
)

// kerningSpace is the TJ adjustment (thousandths of text space) wide enough to read as a word gap.
const kerningSpace = -200

// StructuralResult is the outcome of a structural pass.
type StructuralResult struct {
	Text       string
	CharCount  int
	Threshold  int
	Sufficient bool
}

func newStructuralResult(text string, threshold int) StructuralResult {
	text = strings.TrimSpace(text)
	n := utf8.RuneCountInString(text)
	return StructuralResult{Text: text, CharCount: n, Threshold: threshold, Sufficient: n > threshold}
}

// ScanStructural extracts text from uncompressed text-drawing operators. Anything at or
// below threshold characters is reported as insufficient, with the partial text kept.
func ScanStructural(data []byte, threshold int) StructuralResult {
	return newStructuralResult(ScanLiteralText(data), threshold)
}

type operandKind int

const (
	opString operandKind = iota
	opNumber
	opName
	opArray
	opMark
)

type operand struct {
	kind operandKind
	str  string
	num  float64
	arr  []operand
}

type scanner struct {
	data  []byte
	pos   int
	stack []operand
	out   strings.Builder
}

// ScanLiteralText walks the raw bytes and returns the string operands of Tj, ', " and TJ in
// document order. Td, TD, T*, ', " and ET start a new line. Binary (compressed) streams are
// skipped.
func ScanLiteralText(data []byte) string {
	s := &scanner{data: data}
	s.run()
	return strings.TrimSpace(s.out.String())
}

func (s *scanner) run() {
	for s.pos < len(s.data) {
		c := s.data[s.pos]
		switch {
		case isSpace(c):
			s.pos++
		case c == '%':
			s.skipComment()
		case c == '(':
			s.pos++
			s.push(operand{kind: opString, str: decodeText(s.readLiteral())})
		case c == '<':
			if s.peek(1) == '<' {
				s.pos += 2
				s.stack = s.stack[:0]
				continue
			}
			s.pos++
			raw, printable := s.readHex()
			if !printable {
				raw = nil
			}
			s.push(operand{kind: opString, str: decodeText(raw)})
		case c == '>':
			s.pos++
			if s.peek(0) == '>' {
				s.pos++
			}
		case c == '[':
			s.pos++
			s.push(operand{kind: opMark})
		case c == ']':
			s.pos++
			s.closeArray()
		case c == '{' || c == '}' || c == ')':
			s.pos++
		case c == '/':
			s.pos++
			s.push(operand{kind: opName, str: string(s.readRegular())})
		default:
			tok := s.readRegular()
			if len(tok) == 0 {
				s.pos++
				continue
			}
			if n, err := strconv.ParseFloat(string(tok), 64); err == nil {
				s.push(operand{kind: opNumber, num: n})
				continue
			}
			s.operator(string(tok))
		}
	}
}

func (s *scanner) operator(op string) {
	switch op {
	case "Tj":
		s.emitTop()
	case "'", "\"":
		s.newline()
		s.emitTop()
	case "TJ":
		if top, ok := s.top(); ok && top.kind == opArray {
			for _, it := range top.arr {
				switch it.kind {
				case opString:
					s.out.WriteString(it.str)
				case opNumber:
					if it.num < kerningSpace {
						s.space()
					}
				}
			}
		}
	case "Td", "TD", "T*", "ET":
		s.newline()
	case "stream":
		s.skipBinaryStream()
	}
	s.stack = s.stack[:0]
}

func (s *scanner) emitTop() {
	if top, ok := s.top(); ok && top.kind == opString {
		s.out.WriteString(top.str)
	}
}

func (s *scanner) newline() {
	str := s.out.String()
	if len(str) > 0 && str[len(str)-1] != '\n' {
		s.out.WriteByte('\n')
	}
}

func (s *scanner) space() {
	str := s.out.String()
	if len(str) > 0 && str[len(str)-1] != ' ' && str[len(str)-1] != '\n' {
		s.out.WriteByte(' ')
	}
}

func (s *scanner) push(o operand) {
	s.stack = append(s.stack, o)
}

func (s *scanner) top() (operand, bool) {
	if len(s.stack) == 0 {
		return operand{}, false
	}
	return s.stack[len(s.stack)-1], true
}

func (s *scanner) closeArray() {
	for i := len(s.stack) - 1; i >= 0; i-- {
		if s.stack[i].kind == opMark {
			items := append([]operand(nil), s.stack[i+1:]...)
			s.stack = append(s.stack[:i], operand{kind: opArray, arr: items})
			return
		}
	}
}

func (s *scanner) peek(off int) byte {
	if s.pos+off < len(s.data) {
		return s.data[s.pos+off]
	}
	return 0
}

func (s *scanner) skipComment() {
	for s.pos < len(s.data) && s.data[s.pos] != '\n' && s.data[s.pos] != '\r' {
		s.pos++
	}
}

func (s *scanner) readRegular() []byte {
	start := s.pos
	for s.pos < len(s.data) && !isSpace(s.data[s.pos]) && !isDelim(s.data[s.pos]) {
		s.pos++
	}
	return s.data[start:s.pos]
}

// readLiteral reads a ( ... ) string body; the opening paren is already consumed.
func (s *scanner) readLiteral() []byte {
	var out []byte
	depth := 1
	for s.pos < len(s.data) {
		c := s.data[s.pos]
		s.pos++
		switch c {
		case '(':
			depth++
			out = append(out, c)
		case ')':
			depth--
			if depth == 0 {
				return out
			}
			out = append(out, c)
		case '\\':
			out = s.readEscape(out)
		default:
			out = append(out, c)
		}
	}
	return out
}

func (s *scanner) readEscape(out []byte) []byte {
	if s.pos >= len(s.data) {
		return out
	}
	c := s.data[s.pos]
	s.pos++
	switch c {
	case 'n':
		return append(out, '\n')
	case 'r':
		return append(out, '\r')
	case 't':
		return append(out, '\t')
	case 'b':
		return append(out, '\b')
	case 'f':
		return append(out, '\f')
	case '(', ')', '\\':
		return append(out, c)
	case '\r':
		// line continuation
		if s.peek(0) == '\n' {
			s.pos++
		}
		return out
	case '\n':
		return out
	}
	if c >= '0' && c <= '7' {
		v := int(c - '0')
		for i := 0; i < 2 && s.pos < len(s.data); i++ {
			d := s.data[s.pos]
			if d < '0' || d > '7' {
				break
			}
			v = v*8 + int(d-'0')
			s.pos++
		}
		return append(out, byte(v&0xff))
	}
	return append(out, c)
}

// readHex reads a < ... > string body and reports whether it decodes to printable text.
func (s *scanner) readHex() ([]byte, bool) {
	var digits []byte
	for s.pos < len(s.data) && s.data[s.pos] != '>' {
		c := s.data[s.pos]
		s.pos++
		if isHexDigit(c) {
			digits = append(digits, c)
		} else if !isSpace(c) {
			return nil, false
		}
	}
	s.pos++
	if len(digits)%2 == 1 {
		digits = append(digits, '0')
	}
	out := make([]byte, 0, len(digits)/2)
	for i := 0; i < len(digits); i += 2 {
		out = append(out, hexVal(digits[i])<<4|hexVal(digits[i+1]))
	}
	text := decodeText(out)
	for _, r := range text {
		if r == utf8.RuneError || (r < 0x20 && r != '\n' && r != '\t' && r != '\r') {
			return nil, false
		}
	}
	return out, true
}

// skipBinaryStream jumps over stream data that is not readable text.
func (s *scanner) skipBinaryStream() {
	end := bytes.Index(s.data[s.pos:], []byte("endstream"))
	if end < 0 {
		end = len(s.data) - s.pos
	}
	if isBinary(s.data[s.pos : s.pos+end]) {
		s.pos += end
	}
}

// decodeText turns string operand bytes into text: UTF-16BE with a BOM, UTF-8, or Latin-1.
func decodeText(b []byte) string {
	if len(b) >= 2 && b[0] == 0xfe && b[1] == 0xff {
		u := make([]uint16, 0, (len(b)-2)/2)
		for i := 2; i+1 < len(b); i += 2 {
			u = append(u, uint16(b[i])<<8|uint16(b[i+1]))
		}
		return string(utf16.Decode(u))
	}
	if utf8.Valid(b) {
		return string(b)
	}
	r := make([]rune, len(b))
	for i, c := range b {
		r[i] = rune(c)
	}
	return string(r)
}

func isBinary(b []byte) bool {
	if len(b) > 256 {
		b = b[:256]
	}
	if len(b) == 0 {
		return false
	}
	bad := 0
	for _, c := range b {
		if (c < 0x20 && !isSpace(c)) || c > 0x7e {
			bad++
		}
	}
	return bad*10 > len(b)
}

func isSpace(c byte) bool {
	switch c {
	case ' ', '\t', '\n', '\r', '\f', 0:
		return true
	}
	return false
}

func isDelim(c byte) bool {
	switch c {
	case '(', ')', '<', '>', '[', ']', '{', '}', '/', '%':
		return true
	}
	return false
}

func isHexDigit(c byte) bool {
	return (c >= '0' && c <= '9') || (c >= 'a' && c <= 'f') || (c >= 'A' && c <= 'F')
}

func hexVal(c byte) byte {
	switch {
	case c >= '0' && c <= '9':
		return c - '0'
	case c >= 'a' && c <= 'f':
		return c - 'a' + 10
	default:
		return c - 'A' + 10
	}
}
