package observer

import "strings"

// sentimentLexicon scores individual words in [-1, 1]. This is a deliberately
// small keyword model: the live transcription is short and noisy, and the
// only decision is whether to escalate, so a handful of strong markers beats
// a heavier classifier here.
var sentimentLexicon = map[string]float64{
	"terrible":     -1.0,
	"horrible":     -1.0,
	"awful":        -1.0,
	"hate":         -1.0,
	"worst":        -1.0,
	"useless":      -0.9,
	"ridiculous":   -0.9,
	"unacceptable": -0.9,
	"angry":        -0.8,
	"furious":      -1.0,
	"frustrated":   -0.8,
	"frustrating":  -0.8,
	"annoying":     -0.6,
	"annoyed":      -0.6,
	"bad":          -0.5,
	"wrong":        -0.4,
	"broken":       -0.5,

	"great":     0.8,
	"wonderful": 0.9,
	"perfect":   0.9,
	"good":      0.6,
	"thanks":    0.7,
	"thank":     0.7,
	"love":      1.0,
	"awesome":   0.9,
	"excellent": 0.9,
}

// ScoreSentiment returns the mean lexicon score of the words in text, in
// [-1, 1]. Text with no scored words is neutral (0).
func ScoreSentiment(text string) float64 {
	var sum float64
	var n int
	for _, w := range strings.Fields(normalize(text)) {
		if score, ok := sentimentLexicon[w]; ok {
			sum += score
			n++
		}
	}
	if n == 0 {
		return 0
	}
	return sum / float64(n)
}
