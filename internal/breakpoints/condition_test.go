package breakpoints

import "testing"

func TestParseConditionAlwaysTrue(t *testing.T) {
	c, err := ParseCondition("")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !c.Evaluate(ConditionContext{HitCount: 0}) {
		t.Fatal("empty condition should always evaluate true")
	}
}

func TestParseConditionBoolLiteral(t *testing.T) {
	c, err := ParseCondition("false")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if c.Evaluate(ConditionContext{}) {
		t.Fatal("literal false should never evaluate true")
	}
}

func TestParseConditionHitCountCompare(t *testing.T) {
	cases := []struct {
		expr    string
		counts  []int
		want    []bool
	}{
		{"hitCount == 3", []int{2, 3, 4}, []bool{false, true, false}},
		{"hitCount >= 3", []int{2, 3, 4}, []bool{false, true, true}},
		{"hitCount < 3", []int{2, 3, 4}, []bool{true, false, false}},
	}
	for _, tc := range cases {
		c, err := ParseCondition(tc.expr)
		if err != nil {
			t.Fatalf("%s: unexpected error: %v", tc.expr, err)
		}
		for i, hc := range tc.counts {
			got := c.Evaluate(ConditionContext{HitCount: hc})
			if got != tc.want[i] {
				t.Errorf("%s at hitCount=%d: got %v, want %v", tc.expr, hc, got, tc.want[i])
			}
		}
	}
}

func TestParseConditionHitCountModulo(t *testing.T) {
	c, err := ParseCondition("hitCount % 3 == 0")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	for hc := 0; hc <= 6; hc++ {
		want := hc%3 == 0
		if got := c.Evaluate(ConditionContext{HitCount: hc}); got != want {
			t.Errorf("hitCount=%d: got %v, want %v", hc, got, want)
		}
	}
}

func TestParseConditionRejectsGarbage(t *testing.T) {
	cases := []string{
		"hitCount ===",
		"hitCount >= ",
		"(hitCount == 1",
		"hitCount == 1)",
		"nonsense",
		"hitCount == 1 == 2",
	}
	for _, expr := range cases {
		if _, err := ParseCondition(expr); err == nil {
			t.Errorf("expected a parse error for %q", expr)
		}
	}
}
