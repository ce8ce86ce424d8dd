package inspect

import (
	"fmt"
	"strconv"
	"strings"
)

const stringDisplayTruncateAt = 1000

// FormatKind classifies a value's native Go representation so
// FormatValue can apply the §4.8 value-formatting table.
type FormatKind int

const (
	KindNull FormatKind = iota
	KindString
	KindInteger
	KindFloat
	KindBool
	KindChar
	KindEnum
	KindDateLike
	KindArray
	KindCollection
	KindObject
)

// RawValue is the adapter-reported shape of one observed value, prior
// to display formatting.
type RawValue struct {
	Kind        FormatKind
	StringVal   string
	IntVal      int64
	FloatVal    float64
	BoolVal     bool
	CharVal     rune
	EnumName    string
	EnumOrdinal int64
	ISO8601     string
	ElementType string
	Length      int
	TypeName    string
}

// FormatValue renders raw per the §4.8 value-display table.
func FormatValue(raw RawValue) string {
	switch raw.Kind {
	case KindNull:
		return "null"
	case KindString:
		return formatString(raw.StringVal)
	case KindInteger:
		return strconv.FormatInt(raw.IntVal, 10)
	case KindFloat:
		return strconv.FormatFloat(raw.FloatVal, 'g', -1, 64)
	case KindBool:
		return strconv.FormatBool(raw.BoolVal)
	case KindChar:
		return "'" + string(raw.CharVal) + "'"
	case KindEnum:
		return fmt.Sprintf("%s (%d)", raw.EnumName, raw.EnumOrdinal)
	case KindDateLike:
		return raw.ISO8601
	case KindArray:
		return fmt.Sprintf("%s[%d]", raw.ElementType, raw.Length)
	case KindCollection:
		return fmt.Sprintf("%s (Count=%d)", raw.TypeName, raw.Length)
	case KindObject:
		return fmt.Sprintf("{%s}", raw.TypeName)
	default:
		return fmt.Sprintf("{%s}", raw.TypeName)
	}
}

func formatString(s string) string {
	truncated := false
	if len(s) > stringDisplayTruncateAt {
		s = s[:stringDisplayTruncateAt]
		truncated = true
	}
	var b strings.Builder
	b.WriteByte('"')
	for _, r := range s {
		switch r {
		case '"':
			b.WriteString(`\"`)
		case '\\':
			b.WriteString(`\\`)
		case '\n':
			b.WriteString(`\n`)
		case '\r':
			b.WriteString(`\r`)
		case '\t':
			b.WriteString(`\t`)
		default:
			b.WriteRune(r)
		}
	}
	b.WriteByte('"')
	if truncated {
		b.WriteString("...")
	}
	return b.String()
}
