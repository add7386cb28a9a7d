package processing

import (
	"crypto/sha256"
	"encoding/hex"
	"html"
	"net/url"
	"regexp"
	"sort"
	"strings"
	"time"
	"unicode"

	"github.com/DeafMist/claim-radar/backend/internal/models"
)

var urlRegex = regexp.MustCompile(`https?://[^\s]+`)

var (
	whitespace  = regexp.MustCompile(`\s+`)
	punctuation = regexp.MustCompile(`[^\p{L}\p{N}\s]+`)
)

var stopwords = map[string]struct{}{
	"a": {}, "an": {}, "the": {}, "to": {}, "in": {}, "for": {}, "and": {}, "with": {},
	"que": {}, "para": {}, "por": {}, "con": {}, "los": {}, "las": {}, "del": {}, "una": {},
	"como": {}, "este": {}, "esta": {}, "sobre": {}, "entre": {}, "pero": {}, "fue": {},
}

const (
	// IDLength is the number of hex chars of the content hash kept as document id.
	IDLength = 32
	// MaxTitleWords bounds titles generated from content.
	MaxTitleWords = 12
)

// ExtractURLs extracts all HTTP(S) URLs from the input text.
func ExtractURLs(input string) []string {
	if input == "" {
		return nil
	}
	matches := urlRegex.FindAllString(input, -1)
	if len(matches) == 0 {
		return nil
	}
	seen := make(map[string]struct{})
	var urls []string
	for _, u := range matches {
		u = strings.TrimRight(u, ".,;:!?)")
		if _, ok := seen[u]; !ok {
			seen[u] = struct{}{}
			urls = append(urls, u)
		}
	}
	return urls
}

// RemoveURLs removes all URLs from the input text.
func RemoveURLs(input string) string {
	return urlRegex.ReplaceAllString(input, " ")
}

// CollapseWhitespace squeezes runs of whitespace into one space and trims.
func CollapseWhitespace(input string) string {
	return strings.TrimSpace(whitespace.ReplaceAllString(input, " "))
}

// CleanText strips HTML entities, punctuation, squeezes whitespace, and removes URLs.
func CleanText(input string) string {
	if input == "" {
		return ""
	}
	decoded := html.UnescapeString(input)
	decoded = RemoveURLs(decoded)
	decoded = punctuation.ReplaceAllString(decoded, " ")
	return CollapseWhitespace(decoded)
}

// CanonicalURL lower-cases the url and drops fragments and trailing slashes.
func CanonicalURL(raw string) string {
	raw = strings.ToLower(strings.TrimSpace(raw))
	if raw == "" {
		return ""
	}
	u, err := url.Parse(raw)
	if err != nil {
		return raw
	}
	u.Fragment = ""
	u.RawFragment = ""
	u.Path = strings.TrimRight(u.Path, "/")
	return u.String()
}

// ExtractKeywords returns the most frequent words that are not stop-words.
func ExtractKeywords(text string, limit, minLen int) []string {
	clean := strings.ToLower(CleanText(text))
	if clean == "" {
		return nil
	}

	freq := make(map[string]int)
	for _, token := range strings.Fields(clean) {
		token = strings.TrimFunc(token, func(r rune) bool {
			return !unicode.IsLetter(r) && !unicode.IsNumber(r)
		})
		if len([]rune(token)) < minLen {
			continue
		}
		if _, skip := stopwords[token]; skip {
			continue
		}
		freq[token]++
	}

	if len(freq) == 0 {
		return nil
	}

	type kv struct {
		word  string
		count int
	}

	pairs := make([]kv, 0, len(freq))
	for word, count := range freq {
		pairs = append(pairs, kv{word: word, count: count})
	}

	sort.Slice(pairs, func(i, j int) bool {
		if pairs[i].count == pairs[j].count {
			return pairs[i].word < pairs[j].word
		}
		return pairs[i].count > pairs[j].count
	})

	max := limit
	if max <= 0 || max > len(pairs) {
		max = len(pairs)
	}

	keywords := make([]string, 0, max)
	for i := 0; i < max; i++ {
		keywords = append(keywords, pairs[i].word)
	}

	return keywords
}

// ContentHash hashes the normalized url, title and body of a document.
// Identical content always produces the same hash regardless of spacing.
func ContentHash(rawURL, title, content string) string {
	s := sha256.Sum256([]byte(CanonicalURL(rawURL) + "\n" + CollapseWhitespace(title) + "\n" + CollapseWhitespace(content)))
	return hex.EncodeToString(s[:])
}

// DocumentID derives the stable document id from its content hash.
func DocumentID(hash string) string {
	if len(hash) <= IDLength {
		return hash
	}
	return hash[:IDLength]
}

// ClaimID derives a claim id from its origin document and normalized text, so
// re-extracting the same assertion never creates a second claim.
func ClaimID(documentID, claimText string) string {
	s := sha256.Sum256([]byte(documentID + "|" + strings.ToLower(CollapseWhitespace(claimText))))
	return "clm_" + hex.EncodeToString(s[:])[:24]
}

// GenerateTitleFromText creates a title from the first sentence or first N words of text.
// Returns empty string if text is empty.
func GenerateTitleFromText(text string, maxWords int) string {
	if text == "" {
		return ""
	}

	textWithoutURLs := RemoveURLs(text)

	sentenceEnd := strings.IndexAny(textWithoutURLs, ".!?")
	var firstSentence string
	if sentenceEnd > 0 {
		firstSentence = strings.TrimSpace(textWithoutURLs[:sentenceEnd])
	} else {
		firstSentence = textWithoutURLs
	}

	words := strings.Fields(firstSentence)
	if len(words) == 0 {
		return ""
	}

	if maxWords > 0 && len(words) > maxWords {
		words = words[:maxWords]
		return strings.Join(words, " ") + "..."
	}

	return strings.Join(words, " ")
}

// ParseTimestamp accepts RFC3339, a plain datetime, a date or unix milliseconds.
func ParseTimestamp(raw string) time.Time {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return time.Time{}
	}

	formats := []string{
		time.RFC3339Nano,
		time.RFC3339,
		time.RFC1123Z,
		time.RFC1123,
		"2006-01-02 15:04:05",
		"2006-01-02",
	}

	for _, f := range formats {
		if ts, err := time.Parse(f, raw); err == nil {
			return ts.UTC()
		}
	}

	if ms, ok := parseMillis(raw); ok {
		return time.UnixMilli(ms).UTC()
	}

	return time.Time{}
}

func parseMillis(raw string) (int64, bool) {
	if len(raw) < 10 || len(raw) > 14 {
		return 0, false
	}
	var v int64
	for _, r := range raw {
		if r < '0' || r > '9' {
			return 0, false
		}
		v = v*10 + int64(r-'0')
	}
	return v, true
}

// Normalize turns a scraper tuple into a Document ready for dedup.
// Callers validate the tuple first with models.ValidateRaw.
func Normalize(raw models.RawDocument, keywordLimit, keywordMinLen int, now time.Time) models.Document {
	title := CollapseWhitespace(html.UnescapeString(raw.Title))
	content := strings.TrimSpace(raw.Content)
	if title == "" {
		title = GenerateTitleFromText(content, MaxTitleWords)
	}

	published := ParseTimestamp(raw.PublishedDate)
	if published.IsZero() {
		published = now.UTC()
	}

	sourceType := models.SourceType(strings.ToLower(strings.TrimSpace(raw.SourceType)))
	if sourceType == "" {
		sourceType = models.SourceMedia
	}

	hash := ContentHash(raw.URL, title, content)
	return models.Document{
		ID:          DocumentID(hash),
		ContentHash: hash,
		Source:      strings.TrimSpace(raw.Source),
		SourceType:  sourceType,
		URL:         CanonicalURL(raw.URL),
		Title:       title,
		Content:     content,
		Author:      strings.TrimSpace(raw.Author),
		Keywords:    ExtractKeywords(title+" "+CleanText(content), keywordLimit, keywordMinLen),
		URLs:        ExtractURLs(content),
		PublishedAt: published,
		IngestedAt:  now.UTC(),
		DocumentState: models.DocumentState{
			DedupStatus: models.DedupUnchecked,
			Stage:       models.StageStored,
		},
	}
}
