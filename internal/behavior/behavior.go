// Package behavior generates human-like input timing and geometry: Bezier
// mouse paths, eased movement pacing, variable inter-key delays with
// occasional typos, and reading pauses. Linear movement and constant-rate
// typing are strong bot indicators.
package behavior

import (
	"math"
	"math/rand"
	"strings"
	"time"
)

// Point is a viewport coordinate.
type Point struct {
	X float64
	Y float64
}

// MousePath returns points along a cubic Bezier curve from start to end.
// Control points are offset perpendicular to the travel direction so the
// path arcs the way a hand does.
func MousePath(start, end Point, steps int, curvature float64) []Point {
	if steps < 1 {
		steps = 1
	}
	curvature *= 0.8 + rand.Float64()*0.4

	dx := end.X - start.X
	dy := end.Y - start.Y
	distance := math.Hypot(dx, dy)

	offset := distance * curvature
	if rand.Float64() > 0.5 {
		offset = -offset
	}

	perpX, perpY := 0.0, 1.0
	if distance > 0 {
		perpX = -dy / distance
		perpY = dx / distance
	}

	cp1 := Point{
		X: start.X + dx*0.33 + perpX*offset*uniform(0.5, 1.5),
		Y: start.Y + dy*0.33 + perpY*offset*uniform(0.5, 1.5),
	}
	cp2 := Point{
		X: start.X + dx*0.67 + perpX*offset*uniform(-0.5, 0.5),
		Y: start.Y + dy*0.67 + perpY*offset*uniform(-0.5, 0.5),
	}

	points := make([]Point, 0, steps+1)
	for i := 0; i <= steps; i++ {
		t := float64(i) / float64(steps)
		u := 1 - t
		points = append(points, Point{
			X: u*u*u*start.X + 3*u*u*t*cp1.X + 3*u*t*t*cp2.X + t*t*t*end.X,
			Y: u*u*u*start.Y + 3*u*u*t*cp1.Y + 3*u*t*t*cp2.Y + t*t*t*end.Y,
		})
	}
	return points
}

// MovementDelays returns per-step delays for a mouse path. Humans slow
// down at the start and end of a movement (ease-in-out).
func MovementDelays(steps int, baseDelay time.Duration) []time.Duration {
	if steps <= 0 {
		return nil
	}
	delays := make([]time.Duration, steps)
	for i := 0; i < steps; i++ {
		t := float64(i) / float64(steps)
		ease := t * t * (3 - 2*t)
		speed := 0.5 + math.Abs(0.5-ease)
		d := float64(baseDelay) * speed * (1 + (rand.Float64()-0.5)*0.5)
		if d < float64(time.Millisecond) {
			d = float64(time.Millisecond)
		}
		delays[i] = time.Duration(d)
	}
	return delays
}

// Typing model constants.
const (
	baseKeyDelay = 80 * time.Millisecond
	// TypoProbability is the per-character chance of an adjacent-key typo
	// when intensity is high enough.
	TypoProbability = 0.03
	typoIntensity   = 0.8
)

// fastDigraphs are common English letter pairs typed faster than average.
var fastDigraphs = map[string]bool{
	"th": true, "he": true, "in": true, "er": true, "an": true,
	"re": true, "on": true, "at": true, "en": true, "nd": true,
	"ti": true, "es": true, "or": true, "te": true, "of": true,
	"ed": true, "is": true, "it": true, "al": true, "ar": true,
	"st": true, "to": true, "nt": true, "ng": true, "se": true,
	"ha": true, "as": true, "ou": true, "io": true, "le": true,
	"ve": true, "co": true, "me": true, "de": true, "hi": true,
	"ri": true, "ro": true, "ic": true, "ne": true, "ea": true,
}

// adjacentKeys maps each letter to its QWERTY neighbors for typo simulation.
var adjacentKeys = map[rune]string{
	'a': "sqwz", 'b': "vghn", 'c': "xdfv", 'd': "sfec", 'e': "wrd",
	'f': "dgrc", 'g': "fhtv", 'h': "gjyn", 'i': "uok", 'j': "hkun",
	'k': "jlim", 'l': "kop", 'm': "njk", 'n': "bhmj", 'o': "iplk",
	'p': "ol", 'q': "wa", 'r': "eft", 's': "adwz", 't': "rgy",
	'u': "yij", 'v': "cfgb", 'w': "qase", 'x': "zsdc", 'y': "thu",
	'z': "xas",
}

// KeyDelay returns the pause before typing char, given the previous
// character. Spaces, capitals, punctuation, and digits are slower; common
// digraphs are faster; occasionally a long thinking pause is added.
func KeyDelay(char, prev rune, intensity float64) time.Duration {
	delay := float64(baseKeyDelay)

	switch {
	case char == ' ':
		delay *= 1.2
	case char >= 'A' && char <= 'Z':
		delay *= 1.3
	case strings.ContainsRune(".,!?;:", char):
		delay *= 1.5
	case char >= '0' && char <= '9':
		delay *= 1.1
	}

	digraph := strings.ToLower(string(prev) + string(char))
	if fastDigraphs[digraph] {
		delay *= 0.7
	}

	delay += rand.NormFloat64() * delay * 0.3
	if delay < float64(20*time.Millisecond) {
		delay = float64(20 * time.Millisecond)
	}

	if rand.Float64() < 0.01 {
		delay += uniform(200, 500) * float64(time.Millisecond)
	}

	return time.Duration(delay * intensity)
}

// Keystroke is one unit of simulated typing. Typos press a wrong adjacent
// key, pause, then backspace before the intended character.
type Keystroke struct {
	Char      rune
	Delay     time.Duration
	Typo      bool
	WrongChar rune
}

// Keystrokes plans the keystroke sequence for text. At intensity >= 0.8,
// letters occasionally get an adjacent-key typo.
func Keystrokes(text string, intensity float64) []Keystroke {
	var out []Keystroke
	prev := rune(0)
	for _, ch := range text {
		ks := Keystroke{Char: ch, Delay: KeyDelay(ch, prev, intensity)}
		lower := toLower(ch)
		if intensity >= typoIntensity {
			if neighbors, ok := adjacentKeys[lower]; ok && rand.Float64() < TypoProbability {
				ks.Typo = true
				ks.WrongChar = rune(neighbors[rand.Intn(len(neighbors))])
			}
		}
		out = append(out, ks)
		prev = ch
	}
	return out
}

// SettleDelay returns the pause after an action completes. Humanized
// clicks settle between 200ms and 500ms; the plain default is 300ms.
func SettleDelay(humanize bool, intensity float64) time.Duration {
	if !humanize {
		return 300 * time.Millisecond
	}
	return time.Duration(uniform(200, 500) * intensity * float64(time.Millisecond))
}

// ScrollSpeeds returns eased per-step fractions for a smooth scroll:
// start slow, speed up, then settle.
func ScrollSpeeds(steps int) []float64 {
	if steps <= 0 {
		return nil
	}
	out := make([]float64, steps)
	for i := 0; i < steps; i++ {
		t := float64(i) / float64(steps)
		ease := t * t * (3 - 2*t)
		out[i] = 0.3 + ease*0.7
	}
	return out
}

// ReadPause estimates how long a human would look at content of the given
// length before acting, at roughly 1250 characters per second of skimming.
func ReadPause(contentLength int, intensity float64) time.Duration {
	seconds := float64(contentLength) / 1250.0
	seconds += rand.NormFloat64() * 0.3
	if seconds < 0.5 {
		seconds = 0.5
	}
	return time.Duration(seconds * intensity * float64(time.Second))
}

// ClampIntensity bounds the humanization intensity to its working range.
func ClampIntensity(v float64) float64 {
	if v < 0.5 {
		return 0.5
	}
	if v > 2.0 {
		return 2.0
	}
	return v
}

func uniform(lo, hi float64) float64 {
	return lo + rand.Float64()*(hi-lo)
}

func toLower(ch rune) rune {
	if ch >= 'A' && ch <= 'Z' {
		return ch + ('a' - 'A')
	}
	return ch
}
