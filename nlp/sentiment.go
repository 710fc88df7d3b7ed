package nlp

import (
	"strings"

	"github.com/jonreiter/govader"
)

// SentimentAnalyzer scores cleaned text with VADER. The stock lexicon is
// extended with crypto slang on the same [-4, 4] valence scale.
type SentimentAnalyzer struct {
	vader *govader.SentimentIntensityAnalyzer
}

func NewSentimentAnalyzer() *SentimentAnalyzer {
	vader := govader.NewSentimentIntensityAnalyzer()
	for term, v := range cryptoLexicon {
		vader.Lexicon[term] = v
	}
	return &SentimentAnalyzer{vader: vader}
}

// Score returns the VADER compound polarity in [-1, 1]. Text without any
// lexicon match scores 0.
func (a *SentimentAnalyzer) Score(text string) float64 {
	if strings.TrimSpace(text) == "" {
		return 0
	}
	return a.vader.PolarityScores(text).Compound
}

// ScoreAll scores each text.
func (a *SentimentAnalyzer) ScoreAll(texts []string) []float64 {
	out := make([]float64, len(texts))
	for i, t := range texts {
		out[i] = a.Score(t)
	}
	return out
}

var cryptoLexicon = map[string]float64{
	"bullish": 2.9, "bull": 1.9, "bulls": 1.9, "moon": 2.6, "mooning": 2.9,
	"moonshot": 2.5, "pump": 1.6, "pumping": 1.8, "rally": 2.4, "rallying": 2.4,
	"surge": 2.3, "surging": 2.4, "soar": 2.6, "soaring": 2.6, "breakout": 2.2,
	"ath": 2.5, "hodl": 1.7, "hodling": 1.7, "buy": 1.2, "buying": 1.2,
	"accumulate": 1.5, "accumulating": 1.5, "adoption": 2.0, "institutional": 1.0,
	"etf": 0.8, "halving": 1.3, "green": 1.4, "lambo": 2.2, "wagmi": 2.3,
	"undervalued": 1.6, "uptrend": 2.0, "bottomed": 1.1,
	"bearish": -2.9, "bear": -1.9, "bears": -1.9, "dump": -2.3, "dumping": -2.4,
	"crash": -3.0, "crashing": -3.1, "crashed": -3.0, "rekt": -2.8, "scam": -3.2,
	"hack": -2.8, "hacked": -3.0, "exploit": -2.5, "rugpull": -3.3, "rug": -2.4,
	"ponzi": -3.1, "bubble": -1.9, "selloff": -2.4, "sell": -1.1, "selling": -1.2,
	"liquidated": -2.6, "liquidation": -2.4, "liquidations": -2.4, "fud": -1.8,
	"capitulation": -2.5, "red": -1.2, "correction": -1.3, "overvalued": -1.6,
	"downtrend": -2.0, "ngmi": -2.3, "insolvent": -3.0, "bankruptcy": -3.1,
	"bankrupt": -3.1, "delisted": -2.4, "crackdown": -2.4,
}
