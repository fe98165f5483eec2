package crisis

import "testing"

func TestDetectLevels(t *testing.T) {
	cases := []struct {
		text string
		want Level
	}{
		{"I had a good week at work", None},
		{"Honestly, what's the point of trying", Low},
		{"I feel completely HOPELESS", Medium},
		{"sometimes I want to hurt myself", High},
		{"I have pills and I want to die", Critical},
		{"I can’t go on like this", Critical},
	}
	for _, tc := range cases {
		if got := Detect(tc.text).Level; got != tc.want {
			t.Fatalf("Detect(%q) = %s, want %s", tc.text, got, tc.want)
		}
	}
}

func TestDetectHighestWins(t *testing.T) {
	res := Detect("I feel worthless and I want to end my life")
	if res.Level != Critical {
		t.Fatalf("expected critical, got %s", res.Level)
	}
	if len(res.Indicators) != 1 || res.Indicators[0] != "end my life" {
		t.Fatalf("indicators should come from the winning level: %v", res.Indicators)
	}
}

func TestProtectiveFactorsLowerButNotCritical(t *testing.T) {
	if got := Detect("I think about self harm but therapy helps").Level; got != Medium {
		t.Fatalf("high with protective -> %s, want medium", got)
	}
	if got := Detect("I feel hopeless but my family is here").Level; got != Low {
		t.Fatalf("medium with protective -> %s, want low", got)
	}
	if got := Detect("I want to die, even with my family around").Level; got != Critical {
		t.Fatalf("critical with protective -> %s, want critical", got)
	}
}

func TestLevelOrdering(t *testing.T) {
	if !High.AtLeast(Medium) || Low.AtLeast(Medium) {
		t.Fatalf("AtLeast ordering broken")
	}
	if Max(Low, Critical) != Critical || Max(High, None) != High {
		t.Fatalf("Max ordering broken")
	}
	if l, ok := ParseLevel(" HIGH "); !ok || l != High {
		t.Fatalf("ParseLevel failed: %s %v", l, ok)
	}
	if _, ok := ParseLevel("severe"); ok {
		t.Fatalf("unknown level accepted")
	}
}

func TestResourcesOnlyForMediumAndAbove(t *testing.T) {
	if Resources(Low) != "" || Resources(None) != "" {
		t.Fatalf("low levels should carry no resources")
	}
	for _, l := range []Level{Medium, High, Critical} {
		if Resources(l) == "" {
			t.Fatalf("missing resources for %s", l)
		}
	}
}

func TestCanTransition(t *testing.T) {
	cases := []struct {
		from, to string
		ok       bool
	}{
		{StateDetected, StateQueued, true},
		{StateQueued, StateAcknowledged, true},
		{StateAcknowledged, StateResolved, true},
		{StateQueued, StateResolved, true},
		{StateResolved, StateQueued, false},
		{StateQueued, StateQueued, false},
		{StateDetected, "closed", false},
	}
	for _, tc := range cases {
		err := CanTransition(tc.from, tc.to)
		if (err == nil) != tc.ok {
			t.Fatalf("CanTransition(%s, %s) err=%v, want ok=%v", tc.from, tc.to, err, tc.ok)
		}
	}
}

func TestProtectiveMatchesWholeWords(t *testing.T) {
	if Detect("everything feels hopeless").Protective {
		t.Fatalf("hope inside hopeless must not count as protective")
	}
	if !Detect("there is still hope").Protective {
		t.Fatalf("standalone hope should count")
	}
}
