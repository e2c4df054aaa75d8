package feed

import "math"

// tailShuffleStart is the fraction of a diversified list kept in score
// order; only the remainder is shuffled.
const tailShuffleStart = 0.7

// RandomSource yields uniform values in [0, 1).
// *rand.Rand from math/rand satisfies it.
type RandomSource interface {
	Float64() float64
}

// PublisherCap returns the maximum number of entries one publisher may hold
// in a diversified list of size n.
func PublisherCap(n int) int {
	return (n + 2) / 3
}

// Diversify selects up to n entries from ranked, preferring publisher
// variety. ranked must be sorted best first. When ranked already fits in n
// it is returned unchanged.
//
// The first pass admits entries in order while their publisher is under
// PublisherCap(n). If that leaves the list short, a second pass fills it
// from the remaining entries ignoring the cap. Finally the bottom 30% of the
// result is shuffled with rng.
func Diversify(ranked []Entry, n int, rng RandomSource) []Entry {
	if len(ranked) <= n {
		return ranked
	}
	if n <= 0 {
		return []Entry{}
	}

	limit := PublisherCap(n)
	out := make([]Entry, 0, n)
	admitted := make(map[string]bool, n)
	perPublisher := make(map[string]int)

	for _, e := range ranked {
		if len(out) >= n {
			break
		}
		pub := e.Item.PublisherID
		if admitted[e.Item.ID] || perPublisher[pub] >= limit {
			continue
		}
		out = append(out, e)
		admitted[e.Item.ID] = true
		perPublisher[pub]++
	}

	if len(out) < n {
		for _, e := range ranked {
			if len(out) >= n {
				break
			}
			if admitted[e.Item.ID] {
				continue
			}
			out = append(out, e)
			admitted[e.Item.ID] = true
		}
	}

	top := int(math.Floor(float64(len(out)) * tailShuffleStart))
	shuffle(out[top:], rng)
	return out
}

// shuffle is an in-place Fisher-Yates shuffle driven by rng.
func shuffle(s []Entry, rng RandomSource) {
	if rng == nil {
		return
	}
	for i := len(s) - 1; i > 0; i-- {
		j := int(math.Floor(rng.Float64() * float64(i+1)))
		if j > i {
			j = i
		}
		s[i], s[j] = s[j], s[i]
	}
}
