package inspect

import "strings"

// RenderLogTemplate substitutes every {expr} placeholder in template
// with eval(expr) — the logpoint message format (§4.6 expansion).
// Unmatched braces are passed through literally.
func RenderLogTemplate(template string, eval func(expr string) string) string {
	var b strings.Builder
	for i := 0; i < len(template); {
		open := strings.IndexByte(template[i:], '{')
		if open < 0 {
			b.WriteString(template[i:])
			break
		}
		close := strings.IndexByte(template[i+open:], '}')
		if close < 0 {
			b.WriteString(template[i:])
			break
		}
		b.WriteString(template[i : i+open])
		expr := template[i+open+1 : i+open+close]
		b.WriteString(eval(expr))
		i = i + open + close + 1
	}
	return b.String()
}
