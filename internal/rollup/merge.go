package rollup

import (
	"encoding/json"
	"fmt"
	"slices"
)

// Merge combines marshaled Summary parts into a single Summary. Parts must
// share identical bucket bounds; each part is validated before any of it is
// folded in. Zero parts yield an empty summary on the default bounds.
func Merge(parts [][]byte) ([]byte, error) {
	out := Summary{
		BoundsMS: append([]float64(nil), defaultBoundsMS...),
		Kinds:    map[string]KindStats{},
	}

	for i, p := range parts {
		var s Summary
		if err := json.Unmarshal(p, &s); err != nil {
			return nil, fmt.Errorf("part %d: parse json: %w", i, err)
		}
		if len(s.BoundsMS) == 0 {
			return nil, fmt.Errorf(`part %d: missing required member "bounds_ms"`, i)
		}
		if !slices.Equal(s.BoundsMS, out.BoundsMS) {
			return nil, fmt.Errorf("part %d: bucket bounds %v differ from %v", i, s.BoundsMS, out.BoundsMS)
		}
		for k, ks := range s.Kinds {
			if len(ks.Buckets) != len(s.BoundsMS)+1 {
				return nil, fmt.Errorf("part %d kind %q: %d buckets (want %d)", i, k, len(ks.Buckets), len(s.BoundsMS)+1)
			}
			if ks.Count < 0 {
				return nil, fmt.Errorf("part %d kind %q: negative count %d", i, k, ks.Count)
			}
		}

		out.Observed += s.Observed
		out.Failures += s.Failures
		if !s.Start.IsZero() && (out.Start.IsZero() || s.Start.Before(out.Start)) {
			out.Start = s.Start
		}
		if s.End.After(out.End) {
			out.End = s.End
		}
		for k, ks := range s.Kinds {
			out.Kinds[k] = foldKind(out.Kinds[k], ks)
		}
	}

	return json.Marshal(out)
}

func foldKind(dst, src KindStats) KindStats {
	if src.Count == 0 {
		return dst
	}
	if dst.Count == 0 {
		dst.MinMS = src.MinMS
	} else if src.MinMS < dst.MinMS {
		dst.MinMS = src.MinMS
	}
	if src.MaxMS > dst.MaxMS {
		dst.MaxMS = src.MaxMS
	}
	dst.Count += src.Count
	dst.TotalMS += src.TotalMS
	if dst.Buckets == nil {
		dst.Buckets = make([]int64, len(src.Buckets))
	}
	for i := range src.Buckets {
		dst.Buckets[i] += src.Buckets[i]
	}
	return dst
}

// Quantile estimates the q-quantile of task latency in milliseconds across
// every kind, interpolating linearly inside the matched bucket the way
// histogram_quantile does. Observations past the last bound report the last
// bound itself.
func (s Summary) Quantile(q float64) float64 {
	if len(s.BoundsMS) == 0 {
		return 0
	}
	totals := make([]int64, len(s.BoundsMS)+1)
	var total int64
	for _, ks := range s.Kinds {
		for i := 0; i < len(ks.Buckets) && i < len(totals); i++ {
			totals[i] += ks.Buckets[i]
			total += ks.Buckets[i]
		}
	}
	if total == 0 {
		return 0
	}
	q = min(max(q, 0), 1)

	rank := q * float64(total)
	var cum int64
	for i, n := range totals {
		cum += n
		if float64(cum) < rank {
			continue
		}
		if i == len(s.BoundsMS) {
			return s.BoundsMS[len(s.BoundsMS)-1]
		}
		lower := 0.0
		if i > 0 {
			lower = s.BoundsMS[i-1]
		}
		upper := s.BoundsMS[i]
		frac := 1.0
		if n > 0 {
			frac = (rank - float64(cum-n)) / float64(n)
		}
		return lower + (upper-lower)*frac
	}
	return s.BoundsMS[len(s.BoundsMS)-1]
}
