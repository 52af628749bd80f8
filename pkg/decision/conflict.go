package decision

import (
	"regexp"
	"strings"
)

// ConflictThreshold is the cosine similarity above which two items are close
// enough for rule-based conflict classification. Below it the detector
// reports no conflict and callers fall through to the judge.
const ConflictThreshold = 0.8

// ConflictType classifies how two near-identical items relate.
type ConflictType string

const (
	// ConflictNone means the pair is not close enough to classify.
	ConflictNone ConflictType = "none"

	// ConflictDuplicate means the texts are the same statement.
	ConflictDuplicate ConflictType = "duplicate"

	// ConflictContradiction means one text negates the other.
	ConflictContradiction ConflictType = "contradiction"

	// ConflictPartialUpdate means both texts describe the same life topic
	// and the newer one likely revises the older.
	ConflictPartialUpdate ConflictType = "partial_update"
)

// Strategy is the resolution the detector recommends. The detector never
// mutates the store itself; a Resolver executes the strategy.
type Strategy string

const (
	// StrategyKeepNew retires the existing item in favor of the candidate.
	StrategyKeepNew Strategy = "keep_new"

	// StrategyKeepOld discards the candidate.
	StrategyKeepOld Strategy = "keep_old"

	// StrategyMerge combines both texts into one record.
	StrategyMerge Strategy = "merge"

	// StrategyAskUser defers the decision to the user.
	StrategyAskUser Strategy = "ask_user"

	// StrategyNone means no action is warranted.
	StrategyNone Strategy = "none"
)

// Conflict is a detector verdict for one existing/candidate pair.
type Conflict struct {
	Type       ConflictType
	Strategy   Strategy
	Confidence float64

	// Similarity is the cosine similarity the detector was given, carried
	// through for the resolver's link bookkeeping.
	Similarity float64
}

// negationPattern matches negative markers in English and Chinese. A
// contradiction is suspected when exactly one side of a high-similarity pair
// carries a marker, e.g. "likes dogs" vs "doesn't like dogs", or
// "对花生过敏" vs "不再对花生过敏".
var negationPattern = regexp.MustCompile(
	`(?i)\b(not|no longer|never|don't|doesn't|didn't|isn't|aren't|wasn't|can't|cannot|won't|stopped|quit|anymore)\b` +
		`|不再|不喜欢|不是|没有|不会|别|不`)

// topicVocabulary groups words that mark statements about the same mutable
// life attribute. Two texts sharing a group likely describe successive
// states of that attribute.
var topicVocabulary = map[string][]string{
	"career":       {"job", "work", "works", "working", "career", "company", "employer", "promoted", "hired", "profession", "工作", "公司", "职业"},
	"location":     {"lives", "living", "moved", "moving", "city", "hometown", "relocated", "address", "住", "搬", "城市"},
	"age":          {"age", "aged", "birthday", "born", "years old", "岁", "生日"},
	"relationship": {"married", "single", "dating", "engaged", "divorced", "girlfriend", "boyfriend", "wife", "husband", "partner", "结婚", "离婚", "单身", "女朋友", "男朋友"},
}

// Detector classifies conflicts between near-identical texts using pattern
// matching only. It is cheap enough to run before the LLM judge and is the
// sole mechanism when no model is configured.
type Detector struct{}

// NewDetector creates a rule-based conflict detector.
func NewDetector() *Detector {
	return &Detector{}
}

// Detect classifies the relation between an existing text and a candidate
// that scored the given cosine similarity against it.
func (d *Detector) Detect(existing, candidate string, similarity float64) *Conflict {
	if similarity < ConflictThreshold {
		return &Conflict{Type: ConflictNone, Strategy: StrategyNone, Confidence: 1 - similarity, Similarity: similarity}
	}

	existingWords := tokenize(existing)
	candidateWords := tokenize(candidate)

	if jaccard(existingWords, candidateWords) > 0.9 {
		return &Conflict{Type: ConflictDuplicate, Strategy: StrategyKeepOld, Confidence: 0.95, Similarity: similarity}
	}

	existingNegated := negationPattern.MatchString(existing)
	candidateNegated := negationPattern.MatchString(candidate)
	if existingNegated != candidateNegated {
		return &Conflict{Type: ConflictContradiction, Strategy: StrategyKeepNew, Confidence: 0.9, Similarity: similarity}
	}

	if sharedTopic(existing, candidate) != "" {
		return &Conflict{Type: ConflictPartialUpdate, Strategy: StrategyMerge, Confidence: 0.75, Similarity: similarity}
	}

	// Close but unclassifiable; not worth guessing.
	return &Conflict{Type: ConflictNone, Strategy: StrategyAskUser, Confidence: 0.4, Similarity: similarity}
}

// sharedTopic returns the first topic group both texts mention, or "".
func sharedTopic(a, b string) string {
	lowerA := strings.ToLower(a)
	lowerB := strings.ToLower(b)
	for topic, terms := range topicVocabulary {
		if containsAny(lowerA, terms) && containsAny(lowerB, terms) {
			return topic
		}
	}
	return ""
}

func containsAny(text string, terms []string) bool {
	for _, term := range terms {
		if strings.Contains(text, term) {
			return true
		}
	}
	return false
}

// tokenize lowercases and splits on non-letter/digit runes. CJK text has no
// word boundaries, so each CJK rune becomes its own token; Jaccard still
// behaves reasonably on character overlap.
func tokenize(text string) map[string]struct{} {
	words := make(map[string]struct{})
	var current strings.Builder

	flush := func() {
		if current.Len() > 0 {
			words[current.String()] = struct{}{}
			current.Reset()
		}
	}

	for _, r := range strings.ToLower(text) {
		switch {
		case r >= 0x4E00 && r <= 0x9FFF:
			flush()
			words[string(r)] = struct{}{}
		case r == ' ' || r == '\t' || r == '\n' || r == ',' || r == '.' || r == '!' || r == '?' ||
			r == ';' || r == ':' || r == '(' || r == ')' || r == '"' || r == '\'' ||
			r == '，' || r == '。' || r == '！' || r == '？':
			flush()
		default:
			current.WriteRune(r)
		}
	}
	flush()

	return words
}

// jaccard computes |A ∩ B| / |A ∪ B| over word sets.
func jaccard(a, b map[string]struct{}) float64 {
	if len(a) == 0 && len(b) == 0 {
		return 1
	}
	intersection := 0
	for word := range a {
		if _, ok := b[word]; ok {
			intersection++
		}
	}
	union := len(a) + len(b) - intersection
	if union == 0 {
		return 0
	}
	return float64(intersection) / float64(union)
}
