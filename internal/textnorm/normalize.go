// Package textnorm turns post text, link cards and web pages into the
// canonical token string that gets embedded and keyword-matched.
package textnorm

import (
	_ "embed"
	"fmt"
	"log/slog"
	"regexp"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/aaaton/golem/v4"
	"github.com/aaaton/golem/v4/dicts/en"
	"github.com/jdkato/prose/v2"
	"github.com/microcosm-cc/bluemonday"
	"golang.org/x/net/html"
	"golang.org/x/text/encoding/charmap"
	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

//go:embed stopwords.txt
var stopwordList string

var (
	urlPattern         = regexp.MustCompile(`https?://\S+|www\.\S+`)
	nonWordChars       = regexp.MustCompile(`[^\pL\pN_\s]+`)
	whitespace         = regexp.MustCompile(`\s+`)
	nonSpaceRun        = regexp.MustCompile(`\S+`)
	contractionPattern = regexp.MustCompile(`(?i)\b[a-z]+'[a-z]+\b`)

	// mojibakeMarkers are what common UTF-8 sequences look like after being
	// decoded as Windows-1252.
	mojibakeMarkers = []string{"Ã", "Â", "â€", "â„", "ðŸ"}

	typographic = strings.NewReplacer(
		"‘", "'", "’", "'", "‚", "'", "‛", "'", "′", "'",
		"“", `"`, "”", `"`, "„", `"`, "«", `"`, "»", `"`,
		"–", "-", "—", "-", "−", "-",
		"…", "...",
		"\u00a0", " ", "\u2009", " ", "\u200b", "",
		"ß", "ss", "æ", "ae", "Æ", "AE", "œ", "oe", "Œ", "OE",
		"ø", "o", "Ø", "O", "ł", "l", "Ł", "L",
	)
)

// Normalizer implements domain.TextProcessor.
type Normalizer struct {
	fetcher    *PageFetcher
	lemmatizer *golem.Lemmatizer
	sanitizer  *bluemonday.Policy
	stopwords  map[string]struct{}
	logger     *slog.Logger
}

// New creates a Normalizer. fetcher may be nil, in which case link card pages
// are never fetched.
func New(fetcher *PageFetcher, logger *slog.Logger) (*Normalizer, error) {
	lemmatizer, err := golem.New(en.New())
	if err != nil {
		return nil, fmt.Errorf("load lemmatizer: %w", err)
	}

	stopwords := make(map[string]struct{})
	for _, w := range strings.Fields(stopwordList) {
		stopwords[w] = struct{}{}
	}

	return &Normalizer{
		fetcher:    fetcher,
		lemmatizer: lemmatizer,
		sanitizer:  bluemonday.StrictPolicy(),
		stopwords:  stopwords,
		logger:     logger,
	}, nil
}

// Normalize returns the cleaned primary text followed by the cleaned extras.
func (n *Normalizer) Normalize(rawText, extras string) string {
	parts := make([]string, 0, 2)
	for _, s := range []string{n.Clean(rawText), n.Clean(extras)} {
		if s != "" {
			parts = append(parts, s)
		}
	}
	return strings.Join(parts, " ")
}

// Clean reduces text to deduplicated, lowercase lemmas of its content words.
func (n *Normalizer) Clean(text string) string {
	if strings.TrimSpace(text) == "" {
		return ""
	}

	text = stripMarkup(text)
	text = repairMojibake(text)
	text = html.UnescapeString(text)
	text = n.transliterate(text)
	text = expandContractions(text)
	text = urlPattern.ReplaceAllString(text, " ")
	text = nonWordChars.ReplaceAllString(text, "")
	text = strings.ToLower(strings.TrimSpace(whitespace.ReplaceAllString(text, " ")))
	text = n.sanitizer.Sanitize(text)

	return strings.Join(dedupe(n.contentLemmas(text)), " ")
}

func (n *Normalizer) transliterate(text string) string {
	text = typographic.Replace(text)
	t := transform.Chain(norm.NFKD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	out, _, err := transform.String(t, text)
	if err != nil {
		n.logger.Warn("unicode normalization error", "error", err)
		return text
	}
	return out
}

// contentLemmas keeps alphabetic, non-stopword nouns, verbs, adjectives and
// adverbs and returns their lemmas.
func (n *Normalizer) contentLemmas(text string) []string {
	if text == "" {
		return nil
	}
	doc, err := prose.NewDocument(text, prose.WithExtraction(false), prose.WithSegmentation(false))
	if err != nil {
		n.logger.Warn("pos tagging failed", "error", err)
		return nil
	}

	var out []string
	for _, tok := range doc.Tokens() {
		word := strings.ToLower(tok.Text)
		if !isAlpha(word) || !isContentTag(tok.Tag) {
			continue
		}
		if _, stop := n.stopwords[word]; stop {
			continue
		}
		lemma := strings.ToLower(n.lemmatizer.Lemma(word))
		if _, stop := n.stopwords[lemma]; stop || lemma == "" {
			continue
		}
		out = append(out, lemma)
	}
	return out
}

// isContentTag reports whether a Penn Treebank tag is a noun, verb, adjective
// or adverb.
func isContentTag(tag string) bool {
	for _, prefix := range []string{"NN", "VB", "JJ", "RB"} {
		if strings.HasPrefix(tag, prefix) {
			return true
		}
	}
	return false
}

func isAlpha(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if !unicode.IsLetter(r) {
			return false
		}
	}
	return true
}

func dedupe(words []string) []string {
	seen := make(map[string]struct{}, len(words))
	out := words[:0]
	for _, w := range words {
		if _, ok := seen[w]; ok {
			continue
		}
		seen[w] = struct{}{}
		out = append(out, w)
	}
	return out
}

// repairMojibake undoes UTF-8 text that was decoded as Windows-1252. Each
// whitespace-separated token is repaired on its own, so correctly encoded
// words next to garbled ones survive. Tokens without the usual marker
// sequences, or that do not round-trip to valid UTF-8, are left unchanged.
func repairMojibake(text string) string {
	if !hasMojibakeMarker(text) {
		return text
	}
	return nonSpaceRun.ReplaceAllStringFunc(text, func(token string) string {
		if !hasMojibakeMarker(token) {
			return token
		}
		raw, err := charmap.Windows1252.NewEncoder().String(token)
		if err != nil || !utf8.ValidString(raw) {
			return token
		}
		return raw
	})
}

func hasMojibakeMarker(s string) bool {
	for _, m := range mojibakeMarkers {
		if strings.Contains(s, m) {
			return true
		}
	}
	return false
}

var irregularContractions = map[string]string{
	"can't":   "cannot",
	"won't":   "will not",
	"shan't":  "shall not",
	"ain't":   "is not",
	"let's":   "let us",
	"y'all":   "you all",
	"ma'am":   "madam",
	"o'clock": "of the clock",
	"it's":    "it is",
	"he's":    "he is",
	"she's":   "she is",
	"that's":  "that is",
	"there's": "there is",
	"here's":  "here is",
	"what's":  "what is",
	"who's":   "who is",
	"where's": "where is",
	"how's":   "how is",
}

var contractionSuffixes = []struct {
	suffix, expansion string
}{
	{"n't", " not"},
	{"'re", " are"},
	{"'ve", " have"},
	{"'ll", " will"},
	{"'d", " would"},
	{"'m", " am"},
}

func expandContractions(text string) string {
	return contractionPattern.ReplaceAllStringFunc(text, func(word string) string {
		lower := strings.ToLower(word)
		if exp, ok := irregularContractions[lower]; ok {
			return exp
		}
		for _, c := range contractionSuffixes {
			if strings.HasSuffix(lower, c.suffix) {
				return word[:len(word)-len(c.suffix)] + c.expansion
			}
		}
		return word
	})
}
