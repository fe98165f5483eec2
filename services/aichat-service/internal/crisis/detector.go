// Package crisis classifies user messages for self-harm risk and defines the
// escalation lifecycle of the alerts raised for them.
package crisis

import (
	"strings"
)

type Level string

const (
	None     Level = "none"
	Low      Level = "low"
	Medium   Level = "medium"
	High     Level = "high"
	Critical Level = "critical"
)

var rank = map[Level]int{None: 0, Low: 1, Medium: 2, High: 3, Critical: 4}

// ParseLevel accepts any casing and reports false for unknown values.
func ParseLevel(s string) (Level, bool) {
	l := Level(strings.ToLower(strings.TrimSpace(s)))
	_, ok := rank[l]
	return l, ok
}

func (l Level) AtLeast(other Level) bool {
	return rank[l] >= rank[other]
}

func Max(a, b Level) Level {
	if rank[b] > rank[a] {
		return b
	}
	return a
}

// Indicator phrases per level, checked highest first.
var indicators = []struct {
	level   Level
	phrases []string
}{
	{Critical, []string{
		"going to kill myself",
		"want to die",
		"end my life",
		"suicide plan",
		"have a gun",
		"have pills",
		"tonight is the night",
		"goodbye forever",
		"won't be here tomorrow",
		"better off dead",
		"can't go on",
		"no reason to live",
	}},
	{High, []string{
		"kill myself",
		"end it all",
		"don't want to live",
		"wish i was dead",
		"thinking about suicide",
		"hurt myself",
		"self harm",
		"cut myself",
		"overdose",
		"jump off",
		"everyone would be better without me",
	}},
	{Medium, []string{
		"life isn't worth living",
		"nothing matters anymore",
		"hopeless",
		"no way out",
		"can't take it anymore",
		"give up",
		"worthless",
		"burden to everyone",
		"tired of living",
		"sleep forever",
	}},
	{Low, []string{
		"don't care anymore",
		"what's the point",
		"nobody cares",
		"alone in this",
		"can't do this",
		"too much pain",
		"unbearable",
		"trapped",
	}},
}

var protective = []string{
	"but i won't",
	"but i have",
	"talking helps",
	"getting help",
	"therapy",
	"support",
	"family",
	"friends",
	"reasons to live",
	"hope",
	"future",
	"goals",
}

type Result struct {
	Level      Level
	Indicators []string
	Protective bool
}

// Detect matches text against the indicator lists. The highest matching
// level wins; a protective phrase (whole words only) lowers high and medium
// by one step but never lowers critical.
func Detect(text string) Result {
	lower := normalize(text)
	res := Result{Level: None}
	for _, group := range indicators {
		for _, p := range group.phrases {
			if strings.Contains(lower, p) {
				res.Indicators = append(res.Indicators, p)
			}
		}
		if len(res.Indicators) > 0 {
			res.Level = group.level
			break
		}
	}
	for _, p := range protective {
		if containsWord(lower, p) {
			res.Protective = true
			break
		}
	}
	if res.Protective {
		switch res.Level {
		case High:
			res.Level = Medium
		case Medium:
			res.Level = Low
		}
	}
	return res
}

// containsWord matches p only at word boundaries, so "hope" does not match
// inside "hopeless".
func containsWord(s, p string) bool {
	for i := 0; ; {
		j := strings.Index(s[i:], p)
		if j < 0 {
			return false
		}
		start, end := i+j, i+j+len(p)
		if (start == 0 || !isLetter(s[start-1])) && (end == len(s) || !isLetter(s[end])) {
			return true
		}
		i = start + 1
	}
}

func isLetter(b byte) bool {
	return b >= 'a' && b <= 'z'
}

// normalize lowercases and folds typographic apostrophes so "can’t" matches.
func normalize(text string) string {
	return strings.ReplaceAll(strings.ToLower(text), "’", "'")
}

// Resources is the support text shown ahead of the reply for level, or "".
func Resources(level Level) string {
	switch level {
	case Critical:
		return "I'm very concerned about your safety right now. Please call 988 (Suicide & Crisis Lifeline) immediately, or text HELLO to 741741 (Crisis Text Line). If you're in immediate danger, please call 911. You don't have to face this alone, help is available 24/7."
	case High:
		return "I hear that you're going through an incredibly difficult time. Your safety is the top priority. Please reach out to the 988 Suicide & Crisis Lifeline (call or text 988) or the Crisis Text Line (text HELLO to 741741). These services are free, confidential and available 24/7."
	case Medium:
		return "It sounds like you're carrying a heavy burden right now. The 988 Suicide & Crisis Lifeline (call or text 988) provides free, confidential support 24/7."
	default:
		return ""
	}
}
