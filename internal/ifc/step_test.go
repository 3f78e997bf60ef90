package ifc

import (
	"context"
	"errors"
	"strings"
	"testing"
)

const minimalHeader = "ISO-10303-21;\nHEADER;\nFILE_SCHEMA(('IFC2X3'));\nENDSEC;\nDATA;\n"

func parseString(t *testing.T, data string) *File {
	t.Helper()
	f, err := Parse(context.Background(), strings.NewReader(minimalHeader+data+"ENDSEC;\nEND-ISO-10303-21;\n"))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	return f
}

func TestParseValues(t *testing.T) {
	f := parseString(t, strings.Join([]string{
		`#1=IFCWALL('a;b','it''s',$,*,.T.,#2,(1,2.5,-3.E-1),IFCLABEL('x'),"0FF");`,
		`#2=IFCCARTESIANPOINT((0.,1.,2.));`,
		"",
	}, "\n"))

	if f.Schema != "IFC2X3" {
		t.Fatalf("schema: want=%q got=%q", "IFC2X3", f.Schema)
	}
	e, ok := f.Entity(1)
	if !ok || e.Type != "IFCWALL" {
		t.Fatalf("entity #1 not parsed: %+v", e)
	}
	if got := e.StringArg(0); got != "a;b" {
		t.Fatalf("semicolon in string: want=%q got=%q", "a;b", got)
	}
	if got := e.StringArg(1); got != "it's" {
		t.Fatalf("escaped quote: want=%q got=%q", "it's", got)
	}
	if !e.Arg(2).IsNull() || !e.Arg(3).IsNull() {
		t.Fatalf("$ and * must read as null")
	}
	if got := e.Arg(4).Scalar(); got != true {
		t.Fatalf(".T.: want=true got=%v", got)
	}
	if ref, _ := e.Arg(5).AsRef(); ref != 2 {
		t.Fatalf("ref: want=2 got=%d", ref)
	}
	list, _ := e.Arg(6).AsList()
	if len(list) != 3 || list[0].Kind != KindInteger || list[1].Kind != KindReal {
		t.Fatalf("list kinds: %+v", list)
	}
	if v, _ := list[2].AsFloat(); v != -0.3 {
		t.Fatalf("exponent: want=-0.3 got=%v", v)
	}
	if got := e.Arg(7).Scalar(); got != "x" {
		t.Fatalf("typed value: want=%q got=%v", "x", got)
	}
	if e.Arg(8).Kind != KindBinary {
		t.Fatalf("binary literal kind: got=%v", e.Arg(8).Kind)
	}
	if !e.Arg(42).IsNull() {
		t.Fatalf("out-of-range arg must be null")
	}
	if _, ok := f.Deref(e.Arg(5)); !ok {
		t.Fatalf("deref #2 failed")
	}
}

func TestParseSkipsComments(t *testing.T) {
	f := parseString(t, "/* leading; comment */\n#1=IFCBEAM('g',$,'B /* not a comment */');\n")
	e, _ := f.Entity(1)
	if got := e.StringArg(2); got != "B /* not a comment */" {
		t.Fatalf("comment inside string: got=%q", got)
	}
	if f.Len() != 1 {
		t.Fatalf("want 1 entity, got %d", f.Len())
	}
}

func TestDecodeString(t *testing.T) {
	cases := []struct{ in, want string }{
		{`plain`, "plain"},
		{`\X2\00E9\X0\t\X2\00E9\X0\`, "été"},
		{`\X\E9`, "é"},
		{`\S\i`, "é"},
		{`a\\b`, `a\b`},
	}
	for _, tc := range cases {
		if got := decodeString(tc.in); got != tc.want {
			t.Errorf("decodeString(%q): want=%q got=%q", tc.in, tc.want, got)
		}
	}
}

func TestParseErrors(t *testing.T) {
	ctx := context.Background()

	if _, err := Parse(ctx, strings.NewReader("PK\x03\x04 zip archive")); !errors.Is(err, ErrNotSTEP) {
		t.Fatalf("zip input: want ErrNotSTEP got %v", err)
	}
	if _, err := Parse(ctx, strings.NewReader("")); !errors.Is(err, ErrNotSTEP) {
		t.Fatalf("empty input: want ErrNotSTEP got %v", err)
	}

	var se *SyntaxError
	dup := minimalHeader + "#1=IFCWALL($);\n#1=IFCBEAM($);\nENDSEC;\nEND-ISO-10303-21;\n"
	if _, err := Parse(ctx, strings.NewReader(dup)); !errors.As(err, &se) {
		t.Fatalf("duplicate id: want SyntaxError got %v", err)
	}
	truncated := minimalHeader + "#1=IFCWALL($);\n#2=IFCBEAM('unterminated"
	if _, err := Parse(ctx, strings.NewReader(truncated)); !errors.As(err, &se) {
		t.Fatalf("truncated: want SyntaxError got %v", err)
	}
	noEnd := minimalHeader + "#1=IFCWALL($);\nENDSEC;\n"
	if _, err := Parse(ctx, strings.NewReader(noEnd)); !errors.As(err, &se) {
		t.Fatalf("missing end marker: want SyntaxError got %v", err)
	}
}

func TestParseHonoursCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := Parse(ctx, strings.NewReader(minimalHeader+"#1=IFCWALL($);\nENDSEC;\nEND-ISO-10303-21;\n"))
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("want context.Canceled, got %v", err)
	}
}

func TestSupportedSchema(t *testing.T) {
	for _, s := range []string{"IFC2X3", "IFC4", "IFC4X3_ADD2", "ifc4"} {
		if !SupportedSchema(s) {
			t.Errorf("%s should be supported", s)
		}
	}
	for _, s := range []string{"", "IFC2X2_FINAL", "AP214"} {
		if SupportedSchema(s) {
			t.Errorf("%s should not be supported", s)
		}
	}
}
