package agent

import (
	"strings"
	"unicode"
)

// Delta is the structural difference between an AI draft and its human
// edit, at sentence/step granularity.
type Delta struct {
	Added   []string `json:"added"`
	Removed []string `json:"removed"`
}

func (d Delta) Empty() bool {
	return len(d.Added) == 0 && len(d.Removed) == 0
}

// StructuralDiff compares two drafts unit by unit instead of character by
// character: units present only in the human edit are additions, units
// present only in the AI draft are removals. Comparison ignores case and
// surrounding whitespace.
func StructuralDiff(aiDraft, humanEdited string) Delta {
	aiUnits := splitUnits(aiDraft)
	humanUnits := splitUnits(humanEdited)

	aiSet := unitSet(aiUnits)
	humanSet := unitSet(humanUnits)

	var delta Delta
	for _, u := range humanUnits {
		if _, ok := aiSet[normalizeUnit(u)]; !ok {
			delta.Added = append(delta.Added, u)
		}
	}
	for _, u := range aiUnits {
		if _, ok := humanSet[normalizeUnit(u)]; !ok {
			delta.Removed = append(delta.Removed, u)
		}
	}
	return delta
}

// splitUnits breaks a draft into sentences and list steps. Newlines and
// sentence-ending punctuation (latin and CJK) are unit boundaries.
func splitUnits(text string) []string {
	parts := strings.FieldsFunc(text, func(r rune) bool {
		switch r {
		case '.', '!', '?', ';', '\n', '。', '！', '？', '；':
			return true
		}
		return false
	})

	units := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimFunc(p, func(r rune) bool {
			return unicode.IsSpace(r) || r == '-' || r == '*' || r == '•'
		})
		if p != "" {
			units = append(units, p)
		}
	}
	return units
}

func unitSet(units []string) map[string]struct{} {
	set := make(map[string]struct{}, len(units))
	for _, u := range units {
		set[normalizeUnit(u)] = struct{}{}
	}
	return set
}

func normalizeUnit(u string) string {
	return strings.ToLower(strings.Join(strings.Fields(u), " "))
}

// EditDistance is the rune-level Levenshtein distance between two drafts,
// used only for the minimum-edit guard before evolution runs.
func EditDistance(a, b string) int {
	ra, rb := []rune(a), []rune(b)
	if len(ra) == 0 {
		return len(rb)
	}
	if len(rb) == 0 {
		return len(ra)
	}

	prev := make([]int, len(rb)+1)
	curr := make([]int, len(rb)+1)
	for j := range prev {
		prev[j] = j
	}

	for i := 1; i <= len(ra); i++ {
		curr[0] = i
		for j := 1; j <= len(rb); j++ {
			cost := 1
			if ra[i-1] == rb[j-1] {
				cost = 0
			}
			curr[j] = min3(prev[j]+1, curr[j-1]+1, prev[j-1]+cost)
		}
		prev, curr = curr, prev
	}
	return prev[len(rb)]
}

func min3(a, b, c int) int {
	if b < a {
		a = b
	}
	if c < a {
		a = c
	}
	return a
}
