package domain

import (
	"fmt"
	"log/slog"
	"math"
	"regexp"
	"strings"
)

// Decision is the outcome of classifying a post for one viewer.
type Decision string

const (
	DecisionShow      Decision = "SHOW"
	DecisionHide      Decision = "HIDE"
	DecisionAmbiguous Decision = "AMBIGUOUS"
)

const (
	DefaultShowThreshold = 0.75
	DefaultHideThreshold = 0.75
	DefaultTemperature   = 1.0
	DefaultBiasWeight    = 0.05
)

// ClassifierConfig holds the scoring parameters. Build it with
// NewClassifierConfig so every value is in range.
type ClassifierConfig struct {
	ShowThreshold float64
	HideThreshold float64
	Temperature   float64
	BiasWeight    float64
}

// NewClassifierConfig clamps thresholds and bias into [0, 1] and replaces a
// non-positive temperature with DefaultTemperature.
func NewClassifierConfig(show, hide, temperature, bias float64, logger *slog.Logger) ClassifierConfig {
	if temperature <= 0 || math.IsNaN(temperature) {
		logger.Error("softmax temperature must be > 0, using default", "temperature", temperature, "default", DefaultTemperature)
		temperature = DefaultTemperature
	}
	return ClassifierConfig{
		ShowThreshold: clamp01(show),
		HideThreshold: clamp01(hide),
		Temperature:   temperature,
		BiasWeight:    clamp01(bias),
	}
}

// Score is the result of classifying a post against a profile.
type Score struct {
	ProbWhite float64  `json:"prob_white"`
	ProbBlack float64  `json:"prob_black"`
	RawWhite  float64  `json:"raw_white"`
	RawBlack  float64  `json:"raw_black"`
	Decision  Decision `json:"decision"`
}

// Classifier scores post embeddings against viewer profiles. It is safe for
// concurrent use.
type Classifier struct {
	cfg    ClassifierConfig
	logger *slog.Logger
}

// NewClassifier creates a Classifier with a fixed configuration.
func NewClassifier(cfg ClassifierConfig, logger *slog.Logger) *Classifier {
	return &Classifier{cfg: cfg, logger: logger}
}

// Config returns the classifier's configuration.
func (c *Classifier) Config() ClassifierConfig {
	return c.cfg
}

// Score classifies post against profile. postText is the normalized text used
// for keyword bias. On ErrDimensionMismatch the returned score is AMBIGUOUS.
func (c *Classifier) Score(post Vector, profile *Profile, postText string) (Score, error) {
	ambiguous := Score{Decision: DecisionAmbiguous}

	if post.Dim() == 0 {
		return ambiguous, fmt.Errorf("%w: empty post vector", ErrDimensionMismatch)
	}
	for _, list := range []ProfileList{profile.Whitelist, profile.Blacklist} {
		if list.Vector != nil && list.Vector.Dim() != post.Dim() {
			return ambiguous, fmt.Errorf("%w: post has %d dims, profile %s has %d", ErrDimensionMismatch, post.Dim(), profile.DID, list.Vector.Dim())
		}
	}

	s := Score{
		RawWhite: CosineSimilarity(post, profile.Whitelist.Vector),
		RawBlack: CosineSimilarity(post, profile.Blacklist.Vector),
	}
	s.ProbWhite, s.ProbBlack = softmax2(s.RawWhite/c.cfg.Temperature, s.RawBlack/c.cfg.Temperature)

	if postText != "" {
		c.applyKeywordBias(&s, profile, postText)
	}

	s.Decision = c.decide(s.ProbWhite, s.ProbBlack)
	return s, nil
}

func (c *Classifier) applyKeywordBias(s *Score, profile *Profile, postText string) {
	words := wordSet(postText)
	whiteBias := c.keywordBias(words, profile.Whitelist)
	blackBias := c.keywordBias(words, profile.Blacklist)

	switch {
	case whiteBias > 0 && blackBias > 0:
		s.ProbWhite = clamp01(s.ProbWhite + whiteBias - blackBias)
		s.ProbBlack = 1 - s.ProbWhite
		c.logger.Debug("net keyword bias applied", "profile", profile.DID, "bias", whiteBias-blackBias)
	case whiteBias > 0:
		s.ProbWhite = math.Min(s.ProbWhite+whiteBias, 1)
		s.ProbBlack = 1 - s.ProbWhite
		c.logger.Debug("whitelist keyword bias applied", "profile", profile.DID, "bias", whiteBias)
	case blackBias > 0:
		s.ProbBlack = math.Min(s.ProbBlack+blackBias, 1)
		s.ProbWhite = 1 - s.ProbBlack
		c.logger.Debug("blacklist keyword bias applied", "profile", profile.DID, "bias", blackBias)
	}
}

func (c *Classifier) keywordBias(words map[string]struct{}, list ProfileList) float64 {
	for kw := range list.Keywords() {
		if _, ok := words[kw]; ok {
			return c.cfg.BiasWeight
		}
	}
	return 0
}

func (c *Classifier) decide(probWhite, probBlack float64) Decision {
	if probWhite >= c.cfg.ShowThreshold {
		return DecisionShow
	}
	if probBlack >= c.cfg.HideThreshold {
		return DecisionHide
	}
	return DecisionAmbiguous
}

// softmax2 is a numerically stable softmax over two logits.
func softmax2(a, b float64) (float64, float64) {
	m := math.Max(a, b)
	ea, eb := math.Exp(a-m), math.Exp(b-m)
	sum := ea + eb
	return ea / sum, eb / sum
}

var wordPattern = regexp.MustCompile(`[\p{L}\p{N}_]+`)

func wordSet(text string) map[string]struct{} {
	words := wordPattern.FindAllString(strings.ToLower(text), -1)
	set := make(map[string]struct{}, len(words))
	for _, w := range words {
		set[w] = struct{}{}
	}
	return set
}

func clamp01(f float64) float64 {
	if math.IsNaN(f) {
		return 0
	}
	return math.Min(math.Max(f, 0), 1)
}
