package inspect

import (
	"strings"
	"testing"
)

func TestFormatValueTable(t *testing.T) {
	cases := []struct {
		name string
		raw  RawValue
		want string
	}{
		{"null", RawValue{Kind: KindNull}, "null"},
		{"int", RawValue{Kind: KindInteger, IntVal: -7}, "-7"},
		{"float", RawValue{Kind: KindFloat, FloatVal: 3.5}, "3.5"},
		{"bool", RawValue{Kind: KindBool, BoolVal: true}, "true"},
		{"char", RawValue{Kind: KindChar, CharVal: 'x'}, "'x'"},
		{"enum", RawValue{Kind: KindEnum, EnumName: "Red", EnumOrdinal: 2}, "Red (2)"},
		{"date", RawValue{Kind: KindDateLike, ISO8601: "2026-07-30T00:00:00Z"}, "2026-07-30T00:00:00Z"},
		{"array", RawValue{Kind: KindArray, ElementType: "int", Length: 3}, "int[3]"},
		{"collection", RawValue{Kind: KindCollection, TypeName: "List<int>", Length: 2}, "List<int> (Count=2)"},
		{"object", RawValue{Kind: KindObject, TypeName: "Widget"}, "{Widget}"},
	}
	for _, tc := range cases {
		if got := FormatValue(tc.raw); got != tc.want {
			t.Errorf("%s: got %q, want %q", tc.name, got, tc.want)
		}
	}
}

func TestFormatStringEscapesAndTruncates(t *testing.T) {
	got := FormatValue(RawValue{Kind: KindString, StringVal: "a\"b\\c\nd"})
	want := `"a\"b\\c\nd"`
	if got != want {
		t.Fatalf("got %q, want %q", got, want)
	}

	long := strings.Repeat("x", stringDisplayTruncateAt+10)
	got = FormatValue(RawValue{Kind: KindString, StringVal: long})
	if !strings.HasSuffix(got, `x"...`) {
		t.Fatalf("expected a truncated string to end with an ellipsis marker, got suffix %q", got[len(got)-10:])
	}
	if strings.Count(got, "x") != stringDisplayTruncateAt {
		t.Fatalf("expected exactly %d literal x's, got %d", stringDisplayTruncateAt, strings.Count(got, "x"))
	}
}
