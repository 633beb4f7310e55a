package features

import "math"

// rotation vectors shorter than this are left as they are
const normalizeEpsilon = 1e-9

type FeatureVector struct {
	Mean         float64
	StdDeviation float64
	Min          float64
	Max          float64
}

// Extract summarizes one (x, y, z) sample.
// Equal inputs yield exactly zero deviation, and the mean never leaves [Min, Max] through rounding.
// Values are scaled by the largest magnitude first so finite inputs neither overflow nor underflow.
func Extract(x, y, z float64) FeatureVector {
	min := findMin(x, y, z)
	max := findMax(x, y, z)

	if x == y && y == z {
		return FeatureVector{Mean: x, StdDeviation: 0, Min: min, Max: max}
	}

	scale := math.Max(math.Abs(x), math.Max(math.Abs(y), math.Abs(z)))
	if scale == 0 || math.IsInf(scale, 0) || math.IsNaN(scale) {
		scale = 1
	}
	xs, ys, zs := x/scale, y/scale, z/scale

	meanScaled := (xs + ys + zs) / 3
	variance := (sq(xs-meanScaled) + sq(ys-meanScaled) + sq(zs-meanScaled)) / 3

	mean := meanScaled * scale
	if mean < min {
		mean = min
	} else if mean > max {
		mean = max
	}

	return FeatureVector{
		Mean:         mean,
		StdDeviation: math.Sqrt(variance) * scale,
		Min:          min,
		Max:          max,
	}
}

// Normalize scales a gyroscope rotation vector to unit length.
func Normalize(x, y, z float64) (float64, float64, float64) {
	magnitude := math.Sqrt(x*x + y*y + z*z)
	if magnitude > normalizeEpsilon {
		return x / magnitude, y / magnitude, z / magnitude
	}
	return x, y, z
}

func sq(v float64) float64 {
	return v * v
}

func findMax(x, y, z float64) float64 {
	max := y
	if x > y {
		max = x
	}
	if max < z {
		max = z
	}
	return max
}

func findMin(x, y, z float64) float64 {
	min := y
	if x < y {
		min = x
	}
	if min > z {
		min = z
	}
	return min
}
