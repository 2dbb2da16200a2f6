package policy

import "math"

// Similar implements the ObservationInbox dedup predicate (spec.md §4.5,
// §9 Open Questions): two observations are similar when their language
// tokens and proprioceptive state match within epsilon and their image
// modalities' pixel-mean distance stays below threshold. Shape
// mismatches are never "similar" — a changed schema always forces a
// fresh inference.
func Similar(a, b Observation, languageEps, proprioEps, pixelMeanThreshold float64) bool {
	if a == nil || b == nil {
		return false
	}
	if len(a) != len(b) {
		return false
	}

	for name, ta := range a {
		tb, ok := b[name]
		if !ok {
			return false
		}
		if !sameShape(ta.Shape, tb.Shape) {
			return false
		}

		switch {
		case isImageName(name):
			if pixelMeanDistance(ta, tb) > pixelMeanThreshold {
				return false
			}
		case isLanguageName(name):
			if !withinEpsilon(ta, tb, languageEps) {
				return false
			}
		default:
			// proprioceptive / state tensors
			if !withinEpsilon(ta, tb, proprioEps) {
				return false
			}
		}
	}
	return true
}

func sameShape(a, b []int) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func withinEpsilon(a, b Tensor, eps float64) bool {
	if len(a.Data) != len(b.Data) {
		return false
	}
	for i := range a.Data {
		if math.Abs(float64(a.Data[i]-b.Data[i])) > eps {
			return false
		}
	}
	return true
}

func pixelMeanDistance(a, b Tensor) float64 {
	if len(a.Data) != len(b.Data) || len(a.Data) == 0 {
		return math.Inf(1)
	}
	var sumA, sumB float64
	for i := range a.Data {
		sumA += float64(a.Data[i])
		sumB += float64(b.Data[i])
	}
	meanA := sumA / float64(len(a.Data))
	meanB := sumB / float64(len(b.Data))
	return math.Abs(meanA - meanB)
}

func isImageName(name string) bool {
	return hasAnyPrefix(name, "observation.image", "observation.images", "image")
}

func isLanguageName(name string) bool {
	return hasAnyPrefix(name, "observation.language", "language")
}

func hasAnyPrefix(name string, prefixes ...string) bool {
	for _, p := range prefixes {
		if len(name) >= len(p) && name[:len(p)] == p {
			return true
		}
	}
	return false
}
