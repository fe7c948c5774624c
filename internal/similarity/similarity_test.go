package similarity

import "testing"

func TestNormalize(t *testing.T) {
	t.Parallel()

	cases := []struct {
		in   string
		want string
	}{
		{in: "Breaking: City Council Votes on Budget", want: "city council votes on budget"},
		{in: "  OPINION :  Why   it matters!! ", want: "why it matters"},
		{in: "Photos: Rally at the capitol", want: "rally at the capitol"},
		{in: "Photo:Rally", want: "rally"},
		{in: "Report says: anti-Semitic graffiti found", want: "report says antisemitic graffiti found"},
		{in: "Breaking: Opinion: nested labels", want: "opinion nested labels"},
		{in: "", want: ""},
		{in: "!!! ...", want: ""},
		{in: "Café owner's statement", want: "café owners statement"},
	}

	for _, tc := range cases {
		if got := Normalize(tc.in); got != tc.want {
			t.Fatalf("unexpected normalization of %q: got %q want %q", tc.in, got, tc.want)
		}
	}
}

func TestNormalize_IsFixedPoint(t *testing.T) {
	t.Parallel()

	inputs := []string{
		"Breaking: City Council Votes on Budget",
		"Breaking: Opinion: nested labels",
		"VIDEO :  Crowd gathers -- outside synagogue",
		"  spaced\tout\nheadline ",
		"exclusive:",
		"under_score and numbers 2026",
	}
	for _, in := range inputs {
		once := Normalize(in)
		if twice := Normalize(once); twice != once {
			t.Fatalf("normalize is not a fixed point for %q: %q then %q", in, once, twice)
		}
	}
}

func TestSimilarity_IsSymmetric(t *testing.T) {
	t.Parallel()

	pairs := [][2]string{
		{"Acme launches orbital drone", "Acme launches drone platform"},
		{"", "non empty title here"},
		{"a b c d", "d c b a a"},
		{"Breaking: City Council Votes on Budget", "City council votes"},
	}
	for _, pair := range pairs {
		if ab, ba := Similarity(pair[0], pair[1]), Similarity(pair[1], pair[0]); ab != ba {
			t.Fatalf("similarity not symmetric for %q/%q: %f vs %f", pair[0], pair[1], ab, ba)
		}
	}
}

func TestSimilarity_PrefixStrippedTitlesMatch(t *testing.T) {
	t.Parallel()

	score := Similarity("Breaking: City Council Votes on Budget", "City Council Votes on Budget")
	if score <= DuplicateThreshold {
		t.Fatalf("expected score above %f, got %f", DuplicateThreshold, score)
	}
}

func TestSimilarity_EmptySetsScoreZero(t *testing.T) {
	t.Parallel()

	if got := Similarity("", "?!"); got != 0 {
		t.Fatalf("unexpected score for empty titles: got %f want 0", got)
	}
}

func TestSimilarity_IgnoresOrderAndRepeats(t *testing.T) {
	t.Parallel()

	if got := Similarity("rabbi speaks at rally rally", "rally at speaks rabbi"); got != 1 {
		t.Fatalf("unexpected score: got %f want 1", got)
	}
	if got := Similarity("one two three four", "one two five six"); got != 2.0/6.0 {
		t.Fatalf("unexpected partial score: got %f want %f", got, 2.0/6.0)
	}
}

func TestIsCandidate(t *testing.T) {
	t.Parallel()

	if IsCandidate("Breaking: Two words") {
		t.Fatalf("two-token headline should not be a candidate")
	}
	if !IsCandidate("three token headline") {
		t.Fatalf("three-token headline should be a candidate")
	}
	if IsDuplicate("Two words", "Two words") {
		t.Fatalf("short headline must never be a duplicate")
	}
}
