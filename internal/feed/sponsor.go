package feed

import "time"

// sponsorInterval is the number of organic entries between sponsored slots.
const sponsorInterval = 5

// InjectSponsored interleaves active sponsored entries into a diversified
// list. Entries whose sponsorship has lapsed at now stay in the organic
// stream. Before every fifth organic entry the next unused sponsored entry
// is inserted and flagged as an ad. Output stops growing once it holds
// 2*limit entries; the extra room absorbs deduplication and page slicing.
//
// Active sponsored entries that do not find a slot are dropped.
func InjectSponsored(entries []Entry, limit int, now time.Time) []Entry {
	organic := make([]Entry, 0, len(entries))
	var sponsored []Entry
	for _, e := range entries {
		if e.Item.Sponsorship.ActiveAt(now) {
			sponsored = append(sponsored, e)
		} else {
			organic = append(organic, e)
		}
	}

	if len(sponsored) == 0 {
		return organic
	}

	out := make([]Entry, 0, len(organic)+len(organic)/sponsorInterval)
	used := make(map[string]bool, len(sponsored))
	next := 0

	for i := 0; i < len(organic) && len(out) < 2*limit; i++ {
		if i > 0 && i%sponsorInterval == 0 {
			for next < len(sponsored) && used[sponsored[next].Item.ID] {
				next++
			}
			if next < len(sponsored) {
				ad := sponsored[next]
				ad.IsAd = true
				out = append(out, ad)
				used[ad.Item.ID] = true
				next++
			}
		}
		out = append(out, organic[i])
	}

	return out
}
