package interpret

import "testing"

func TestClassify(t *testing.T) {
	triggers := NewKeywordSet([]string{"HIT"})
	heals := NewKeywordSet([]string{"HEAL"})

	tests := []struct {
		name    string
		message string
		want    Effect
	}{
		{"single damage keyword", "HIT", Damage},
		{"case insensitive", "hit hard", Damage},
		{"two damage keywords still caps at one", "HIT HIT HIT", Damage},
		{"single heal keyword", "HEAL", Heal},
		{"ambiguous message ignored", "HIT and HEAL", Ignore},
		{"neither keyword", "hello world", Ignore},
		{"substring match counts", "whitehat", Damage},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got := Classify(tc.message, triggers, heals)
			if got != tc.want {
				t.Errorf("Classify(%q) = %v, want %v", tc.message, got, tc.want)
			}
		})
	}
}

func TestKeywordSetEmptyNeverMatches(t *testing.T) {
	empty := NewKeywordSet(nil)
	if empty.Matches("hit heal anything") {
		t.Error("empty keyword set should never match")
	}
}

func TestEscapeRegExp(t *testing.T) {
	in := `a.b*c+d?e^f$g{h}i(j)k|l[m]n\o`
	out := EscapeRegExp(in)
	want := `a\.b\*c\+d\?e\^f\$g\{h\}i\(j\)k\|l\[m\]n\\o`
	if out != want {
		t.Errorf("EscapeRegExp(%q) = %q, want %q", in, out, want)
	}
}
