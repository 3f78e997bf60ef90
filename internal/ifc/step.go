// Package ifc reads IFC models in the ISO-10303-21 (STEP physical file)
// encoding and extracts the element view used by clash detection.
package ifc

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"unicode/utf16"
)

type Kind uint8

const (
	KindNull Kind = iota
	KindDerived
	KindString
	KindInteger
	KindReal
	KindEnum
	KindRef
	KindList
	KindTyped
	KindBinary
)

// Value is one STEP attribute value. Typed values (IFCLABEL('x')) keep the
// type name in Str and the wrapped value in List[0].
type Value struct {
	Kind Kind
	Str  string
	Int  int64
	Real float64
	Ref  int
	List []Value
}

func (v Value) IsNull() bool { return v.Kind == KindNull || v.Kind == KindDerived }

func (v Value) inner() (Value, bool) {
	if v.Kind == KindTyped && len(v.List) == 1 {
		return v.List[0], true
	}
	return Value{}, false
}

func (v Value) AsString() (string, bool) {
	switch v.Kind {
	case KindString:
		return v.Str, true
	case KindTyped:
		if in, ok := v.inner(); ok {
			return in.AsString()
		}
	}
	return "", false
}

func (v Value) AsFloat() (float64, bool) {
	switch v.Kind {
	case KindReal:
		return v.Real, true
	case KindInteger:
		return float64(v.Int), true
	case KindTyped:
		if in, ok := v.inner(); ok {
			return in.AsFloat()
		}
	}
	return 0, false
}

func (v Value) AsRef() (int, bool) {
	if v.Kind == KindRef {
		return v.Ref, true
	}
	return 0, false
}

func (v Value) AsList() ([]Value, bool) {
	if v.Kind == KindList {
		return v.List, true
	}
	return nil, false
}

func (v Value) AsEnum() (string, bool) {
	if v.Kind == KindEnum {
		return v.Str, true
	}
	return "", false
}

// Scalar converts a property value to a plain Go value: string, int64,
// float64, bool, []any or nil.
func (v Value) Scalar() any {
	switch v.Kind {
	case KindString, KindBinary:
		return v.Str
	case KindInteger:
		return v.Int
	case KindReal:
		return v.Real
	case KindEnum:
		switch v.Str {
		case "T":
			return true
		case "F":
			return false
		}
		return v.Str
	case KindRef:
		return "#" + strconv.Itoa(v.Ref)
	case KindTyped:
		if in, ok := v.inner(); ok {
			return in.Scalar()
		}
		return nil
	case KindList:
		out := make([]any, 0, len(v.List))
		for _, x := range v.List {
			out = append(out, x.Scalar())
		}
		return out
	default:
		return nil
	}
}

type Entity struct {
	ID   int
	Type string
	Args []Value
}

// Arg returns attribute i, or a null value when out of range.
func (e *Entity) Arg(i int) Value {
	if e == nil || i < 0 || i >= len(e.Args) {
		return Value{Kind: KindNull}
	}
	return e.Args[i]
}

func (e *Entity) StringArg(i int) string {
	s, _ := e.Arg(i).AsString()
	return s
}

// File is a parsed STEP data section.
type File struct {
	Schema   string
	entities map[int]*Entity
	byType   map[string][]*Entity
	order    []*Entity
}

func (f *File) Entity(id int) (*Entity, bool) {
	e, ok := f.entities[id]
	return e, ok
}

// Deref follows a reference value.
func (f *File) Deref(v Value) (*Entity, bool) {
	id, ok := v.AsRef()
	if !ok {
		return nil, false
	}
	return f.Entity(id)
}

// All returns entities in file order.
func (f *File) All() []*Entity { return f.order }

func (f *File) OfType(types ...string) []*Entity {
	if len(types) == 1 {
		return f.byType[types[0]]
	}
	var out []*Entity
	for _, e := range f.order {
		for _, t := range types {
			if e.Type == t {
				out = append(out, e)
				break
			}
		}
	}
	return out
}

func (f *File) Len() int { return len(f.order) }

var ErrNotSTEP = errors.New("not an ISO-10303-21 file")

type SyntaxError struct {
	Line int
	Msg  string
}

func (e *SyntaxError) Error() string {
	return fmt.Sprintf("step syntax error near line %d: %s", e.Line, e.Msg)
}

// SupportedSchema reports whether schema is one the extractor understands.
func SupportedSchema(schema string) bool {
	s := strings.ToUpper(strings.TrimSpace(schema))
	return strings.HasPrefix(s, "IFC2X3") || strings.HasPrefix(s, "IFC4")
}

// Parse reads a whole STEP file. The reader is consumed statement by
// statement; the context is checked periodically.
func Parse(ctx context.Context, r io.Reader) (*File, error) {
	sr := &statementReader{r: bufio.NewReaderSize(r, 64*1024), line: 1}
	f := &File{entities: map[int]*Entity{}, byType: map[string][]*Entity{}}

	first, _, err := sr.next()
	if err != nil {
		if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
			return nil, ErrNotSTEP
		}
		return nil, err
	}
	if strings.ToUpper(first) != "ISO-10303-21" {
		return nil, ErrNotSTEP
	}

	const (
		sectionNone = iota
		sectionHeader
		sectionData
	)
	section := sectionNone
	ended := false
	for n := 0; ; n++ {
		if n%4096 == 0 {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
		}
		stmt, line, err := sr.next()
		if errors.Is(err, io.EOF) {
			break
		}
		if errors.Is(err, io.ErrUnexpectedEOF) {
			return nil, &SyntaxError{Line: line, Msg: "unterminated statement"}
		}
		if err != nil {
			return nil, err
		}
		if stmt == "" {
			continue
		}
		upper := strings.ToUpper(stmt)
		switch {
		case upper == "END-ISO-10303-21":
			ended = true
		case upper == "HEADER":
			section = sectionHeader
		case upper == "ENDSEC":
			section = sectionNone
		case upper == "DATA" || strings.HasPrefix(upper, "DATA("):
			section = sectionData
		case section == sectionHeader:
			if strings.HasPrefix(upper, "FILE_SCHEMA") {
				schema, perr := parseSchema(stmt)
				if perr != nil {
					return nil, &SyntaxError{Line: line, Msg: perr.Error()}
				}
				f.Schema = schema
			}
		case section == sectionData:
			e, perr := parseEntity(stmt)
			if perr != nil {
				return nil, &SyntaxError{Line: line, Msg: perr.Error()}
			}
			if _, dup := f.entities[e.ID]; dup {
				return nil, &SyntaxError{Line: line, Msg: fmt.Sprintf("duplicate entity #%d", e.ID)}
			}
			f.entities[e.ID] = e
			f.byType[e.Type] = append(f.byType[e.Type], e)
			f.order = append(f.order, e)
		default:
			return nil, &SyntaxError{Line: line, Msg: "statement outside of a section"}
		}
		if ended {
			break
		}
	}
	if !ended {
		return nil, &SyntaxError{Line: sr.line, Msg: "missing END-ISO-10303-21"}
	}
	return f, nil
}

// statementReader splits the byte stream on ';' outside string literals and
// strips /* */ comments.
type statementReader struct {
	r    *bufio.Reader
	line int
	buf  strings.Builder
}

func (s *statementReader) next() (string, int, error) {
	s.buf.Reset()
	inString := false
	start := s.line
	for {
		c, err := s.r.ReadByte()
		if err != nil {
			if errors.Is(err, io.EOF) {
				if strings.TrimSpace(s.buf.String()) != "" {
					return "", start, io.ErrUnexpectedEOF
				}
				return "", start, io.EOF
			}
			return "", start, err
		}
		if c == '\n' {
			s.line++
		}
		if inString {
			s.buf.WriteByte(c)
			if c == '\'' {
				inString = false
			}
			continue
		}
		switch c {
		case '\'':
			inString = true
			s.buf.WriteByte(c)
		case ';':
			return strings.TrimSpace(s.buf.String()), start, nil
		case '/':
			nb, err := s.r.Peek(1)
			if err == nil && nb[0] == '*' {
				_, _ = s.r.ReadByte()
				if err := s.skipComment(); err != nil {
					return "", start, err
				}
				continue
			}
			s.buf.WriteByte(c)
		case '\r', '\n', '\t', ' ':
			if s.buf.Len() == 0 {
				start = s.line
				continue
			}
			s.buf.WriteByte(' ')
		default:
			s.buf.WriteByte(c)
		}
	}
}

func (s *statementReader) skipComment() error {
	var prev byte
	for {
		c, err := s.r.ReadByte()
		if err != nil {
			if errors.Is(err, io.EOF) {
				return io.ErrUnexpectedEOF
			}
			return err
		}
		if c == '\n' {
			s.line++
		}
		if prev == '*' && c == '/' {
			return nil
		}
		prev = c
	}
}

func parseSchema(stmt string) (string, error) {
	l := &lexer{s: stmt}
	name := l.ident()
	if name == "" {
		return "", fmt.Errorf("malformed FILE_SCHEMA")
	}
	args, err := l.list()
	if err != nil {
		return "", err
	}
	if len(args) == 0 {
		return "", fmt.Errorf("empty FILE_SCHEMA")
	}
	schemas, ok := args[0].AsList()
	if !ok || len(schemas) == 0 {
		return "", fmt.Errorf("empty FILE_SCHEMA")
	}
	s, _ := schemas[0].AsString()
	return strings.TrimSpace(s), nil
}

func parseEntity(stmt string) (*Entity, error) {
	l := &lexer{s: stmt}
	l.skipWS()
	if !l.consume('#') {
		return nil, fmt.Errorf("expected entity id")
	}
	id, ok := l.integer()
	if !ok || id <= 0 {
		return nil, fmt.Errorf("bad entity id")
	}
	l.skipWS()
	if !l.consume('=') {
		return nil, fmt.Errorf("expected '=' after #%d", id)
	}
	l.skipWS()
	if l.peek() == '(' {
		// complex instance: keep the id resolvable, ignore the parts
		return &Entity{ID: int(id), Type: "COMPLEX"}, nil
	}
	name := strings.ToUpper(l.ident())
	if name == "" {
		return nil, fmt.Errorf("expected entity name for #%d", id)
	}
	args, err := l.list()
	if err != nil {
		return nil, fmt.Errorf("#%d %s: %w", id, name, err)
	}
	l.skipWS()
	if !l.eof() {
		return nil, fmt.Errorf("#%d %s: trailing input", id, name)
	}
	return &Entity{ID: int(id), Type: name, Args: args}, nil
}

type lexer struct {
	s   string
	pos int
}

func (l *lexer) eof() bool { return l.pos >= len(l.s) }

func (l *lexer) peek() byte {
	if l.eof() {
		return 0
	}
	return l.s[l.pos]
}

func (l *lexer) consume(c byte) bool {
	if l.peek() == c && !l.eof() {
		l.pos++
		return true
	}
	return false
}

func (l *lexer) skipWS() {
	for !l.eof() && (l.s[l.pos] == ' ' || l.s[l.pos] == '\t') {
		l.pos++
	}
}

func (l *lexer) ident() string {
	l.skipWS()
	start := l.pos
	for !l.eof() {
		c := l.s[l.pos]
		if c == '_' || c == '-' || (c >= 'A' && c <= 'Z') || (c >= 'a' && c <= 'z') || (c >= '0' && c <= '9' && l.pos > start) {
			l.pos++
			continue
		}
		break
	}
	return l.s[start:l.pos]
}

func (l *lexer) integer() (int64, bool) {
	start := l.pos
	for !l.eof() && l.s[l.pos] >= '0' && l.s[l.pos] <= '9' {
		l.pos++
	}
	if start == l.pos {
		return 0, false
	}
	n, err := strconv.ParseInt(l.s[start:l.pos], 10, 64)
	return n, err == nil
}

func (l *lexer) list() ([]Value, error) {
	l.skipWS()
	if !l.consume('(') {
		return nil, fmt.Errorf("expected '('")
	}
	out := []Value{}
	l.skipWS()
	if l.consume(')') {
		return out, nil
	}
	for {
		v, err := l.value()
		if err != nil {
			return nil, err
		}
		out = append(out, v)
		l.skipWS()
		if l.consume(',') {
			continue
		}
		if l.consume(')') {
			return out, nil
		}
		return nil, fmt.Errorf("expected ',' or ')' at offset %d", l.pos)
	}
}

func (l *lexer) value() (Value, error) {
	l.skipWS()
	if l.eof() {
		return Value{}, fmt.Errorf("unexpected end of statement")
	}
	c := l.s[l.pos]
	switch {
	case c == '$':
		l.pos++
		return Value{Kind: KindNull}, nil
	case c == '*':
		l.pos++
		return Value{Kind: KindDerived}, nil
	case c == '\'':
		s, err := l.quoted()
		if err != nil {
			return Value{}, err
		}
		return Value{Kind: KindString, Str: s}, nil
	case c == '"':
		end := strings.IndexByte(l.s[l.pos+1:], '"')
		if end < 0 {
			return Value{}, fmt.Errorf("unterminated binary literal")
		}
		v := Value{Kind: KindBinary, Str: l.s[l.pos+1 : l.pos+1+end]}
		l.pos += end + 2
		return v, nil
	case c == '#':
		l.pos++
		id, ok := l.integer()
		if !ok {
			return Value{}, fmt.Errorf("bad reference at offset %d", l.pos)
		}
		return Value{Kind: KindRef, Ref: int(id)}, nil
	case c == '.':
		end := strings.IndexByte(l.s[l.pos+1:], '.')
		if end < 0 {
			return Value{}, fmt.Errorf("unterminated enumeration")
		}
		v := Value{Kind: KindEnum, Str: strings.ToUpper(l.s[l.pos+1 : l.pos+1+end])}
		l.pos += end + 2
		return v, nil
	case c == '(':
		items, err := l.list()
		if err != nil {
			return Value{}, err
		}
		return Value{Kind: KindList, List: items}, nil
	case c == '-' || c == '+' || (c >= '0' && c <= '9'):
		return l.number()
	case (c >= 'A' && c <= 'Z') || (c >= 'a' && c <= 'z'):
		name := strings.ToUpper(l.ident())
		inner, err := l.list()
		if err != nil {
			return Value{}, fmt.Errorf("typed value %s: %w", name, err)
		}
		return Value{Kind: KindTyped, Str: name, List: inner}, nil
	default:
		return Value{}, fmt.Errorf("unexpected %q at offset %d", c, l.pos)
	}
}

func (l *lexer) number() (Value, error) {
	start := l.pos
	l.pos++
	isReal := false
	for !l.eof() {
		c := l.s[l.pos]
		if c >= '0' && c <= '9' {
			l.pos++
			continue
		}
		if c == '.' || c == 'E' || c == 'e' {
			isReal = true
			l.pos++
			continue
		}
		if (c == '-' || c == '+') && (l.s[l.pos-1] == 'E' || l.s[l.pos-1] == 'e') {
			l.pos++
			continue
		}
		break
	}
	tok := l.s[start:l.pos]
	if !isReal {
		if n, err := strconv.ParseInt(tok, 10, 64); err == nil {
			return Value{Kind: KindInteger, Int: n}, nil
		}
	}
	f, err := strconv.ParseFloat(tok, 64)
	if err != nil {
		return Value{}, fmt.Errorf("bad number %q", tok)
	}
	return Value{Kind: KindReal, Real: f}, nil
}

func (l *lexer) quoted() (string, error) {
	l.pos++
	var sb strings.Builder
	for !l.eof() {
		c := l.s[l.pos]
		if c == '\'' {
			if l.pos+1 < len(l.s) && l.s[l.pos+1] == '\'' {
				sb.WriteByte('\'')
				l.pos += 2
				continue
			}
			l.pos++
			return decodeString(sb.String()), nil
		}
		sb.WriteByte(c)
		l.pos++
	}
	return "", fmt.Errorf("unterminated string")
}

// decodeString expands the STEP control directives \X2\..\X0\ (UTF-16 hex),
// \X\hh (ISO 8859-1), \S\c (high half) and \\.
func decodeString(raw string) string {
	if !strings.Contains(raw, `\`) {
		return raw
	}
	var sb strings.Builder
	for i := 0; i < len(raw); {
		switch {
		case strings.HasPrefix(raw[i:], `\X2\`):
			end := strings.Index(raw[i+4:], `\X0\`)
			if end < 0 {
				sb.WriteString(raw[i:])
				return sb.String()
			}
			hex := raw[i+4 : i+4+end]
			units := make([]uint16, 0, len(hex)/4)
			for j := 0; j+4 <= len(hex); j += 4 {
				n, err := strconv.ParseUint(hex[j:j+4], 16, 16)
				if err != nil {
					break
				}
				units = append(units, uint16(n))
			}
			sb.WriteString(string(utf16.Decode(units)))
			i += 4 + end + 4
		case strings.HasPrefix(raw[i:], `\X\`) && i+5 <= len(raw):
			n, err := strconv.ParseUint(raw[i+3:i+5], 16, 8)
			if err != nil {
				sb.WriteByte(raw[i])
				i++
				continue
			}
			sb.WriteRune(rune(n))
			i += 5
		case strings.HasPrefix(raw[i:], `\S\`) && i+4 <= len(raw):
			sb.WriteRune(rune(raw[i+3]) + 128)
			i += 4
		case strings.HasPrefix(raw[i:], `\\`):
			sb.WriteByte('\\')
			i += 2
		default:
			sb.WriteByte(raw[i])
			i++
		}
	}
	return sb.String()
}
