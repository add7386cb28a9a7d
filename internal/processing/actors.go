package processing

import (
	"crypto/sha256"
	"encoding/hex"
	"regexp"
	"slices"
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"

	"github.com/DeafMist/claim-radar/backend/internal/models"
)

// ActorMatchThreshold is the name similarity from which two speakers are
// treated as the same actor.
const ActorMatchThreshold = 0.85

var (
	honorifics   = regexp.MustCompile(`\b(dr|dra|ing|lic|prof|sr|sra|presidente|presidenta|ministro|ministra|diputado|diputada)\b\.?`)
	nonNameChars = regexp.MustCompile(`[^a-z0-9\s]`)
)

// NormalizeActorName folds a speaker name for comparison: lower case, no
// accents, no honorifics, letters, digits and single spaces only.
func NormalizeActorName(name string) string {
	folded := foldAccents(strings.ToLower(name))
	folded = honorifics.ReplaceAllString(folded, " ")
	folded = nonNameChars.ReplaceAllString(folded, " ")
	return CollapseWhitespace(folded)
}

// ActorID derives a stable actor id from a speaker name. Spelling variants
// that normalize the same, such as "Ministro Juan Pérez" and "juan perez",
// share an id.
func ActorID(name string) string {
	key := NormalizeActorName(name)
	if key == "" {
		key = strings.ToLower(CollapseWhitespace(name))
	}
	s := sha256.Sum256([]byte(key))
	return "act_" + hex.EncodeToString(s[:])[:24]
}

// NameSimilarity compares two normalized names by edit distance, from 0 for
// nothing in common to 1 for equal.
func NameSimilarity(a, b string) float64 {
	ra, rb := []rune(a), []rune(b)
	longer := len(ra)
	if len(rb) > longer {
		longer = len(rb)
	}
	if longer == 0 {
		return 1
	}
	return float64(longer-levenshtein(ra, rb)) / float64(longer)
}

func levenshtein(a, b []rune) int {
	prev := make([]int, len(b)+1)
	cur := make([]int, len(b)+1)
	for j := range prev {
		prev[j] = j
	}
	for i := 1; i <= len(a); i++ {
		cur[0] = i
		for j := 1; j <= len(b); j++ {
			cost := 1
			if a[i-1] == b[j-1] {
				cost = 0
			}
			cur[j] = min(prev[j]+1, cur[j-1]+1, prev[j-1]+cost)
		}
		prev, cur = cur, prev
	}
	return prev[len(b)]
}

var (
	mediaMarkers        = []string{"prensa", "periodico", "diario", "radio", "television", "tvn", "telemetro", "noticias"}
	officialMarkers     = []string{"ministerio", "gobierno", "presidencia", "asamblea", "tribunal", "corte", "alcaldia", "contraloria"}
	organizationMarkers = []string{"partido", "coalicion", "movimiento", "frente", "sindicato", "asociacion", "camara", "fundacion"}
)

// DetectActorKind guesses the kind of an actor from its name. Names without
// an institutional marker are taken to be people.
func DetectActorKind(name string) models.ActorKind {
	words := strings.Fields(nonNameChars.ReplaceAllString(foldAccents(strings.ToLower(name)), " "))
	switch {
	case len(words) == 0:
		return models.ActorAnonymous
	case containsAny(words, mediaMarkers):
		return models.ActorMediaOutlet
	case containsAny(words, officialMarkers):
		return models.ActorOfficial
	case containsAny(words, organizationMarkers):
		return models.ActorOrganization
	default:
		return models.ActorPerson
	}
}

func foldAccents(s string) string {
	out, _, err := transform.String(transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC), s)
	if err != nil {
		return s
	}
	return out
}

func containsAny(words, markers []string) bool {
	for _, w := range words {
		if slices.Contains(markers, w) {
			return true
		}
	}
	return false
}
