package geo

import "strings"

// LogPrecision is the geohash length used when a location has to appear in
// logs. Five characters is roughly a 5 km cell, enough to debug proximity
// ranking without pinpointing a viewer.
const LogPrecision = 5

// base32 is the geohash base32 alphabet.
const base32 = "0123456789bcdefghjkmnpqrstuvwxyz"

// Encode encodes p into a geohash string of the given precision.
// A precision below 1 falls back to LogPrecision.
func Encode(p Point, precision int) string {
	if precision < 1 {
		precision = LogPrecision
	}

	latRange := [2]float64{-90.0, 90.0}
	lngRange := [2]float64{-180.0, 180.0}

	var geohash strings.Builder
	geohash.Grow(precision)

	bits := 0
	var ch uint

	even := true
	for geohash.Len() < precision {
		if even {
			mid := (lngRange[0] + lngRange[1]) / 2
			if p.Lng > mid {
				ch |= 1 << (4 - bits)
				lngRange[0] = mid
			} else {
				lngRange[1] = mid
			}
		} else {
			mid := (latRange[0] + latRange[1]) / 2
			if p.Lat > mid {
				ch |= 1 << (4 - bits)
				latRange[0] = mid
			} else {
				latRange[1] = mid
			}
		}

		even = !even
		bits++

		if bits == 5 {
			geohash.WriteByte(base32[ch])
			bits = 0
			ch = 0
		}
	}

	return geohash.String()
}

// Redact returns the coarse geohash for an optional point, or "none" when
// the point is absent. Intended for log attributes only.
func Redact(p *Point) string {
	if p == nil {
		return "none"
	}
	return Encode(*p, LogPrecision)
}
