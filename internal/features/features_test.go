package features

import (
	"math"
	"math/rand"
	"testing"
)

func referenceMin(x, y, z float64) float64 {
	if x <= y && x <= z {
		return x
	}
	if y <= x && y <= z {
		return y
	}
	return z
}

func referenceMax(x, y, z float64) float64 {
	if x >= y && x >= z {
		return x
	}
	if y >= x && y >= z {
		return y
	}
	return z
}

func TestExtractKnownValues(t *testing.T) {
	tests := []struct {
		name    string
		x, y, z float64
		want    FeatureVector
	}{
		{"equal", 1, 1, 1, FeatureVector{Mean: 1, StdDeviation: 0, Min: 1, Max: 1}},
		{"ascending", 1, 2, 3, FeatureVector{Mean: 2, StdDeviation: math.Sqrt(2.0 / 3.0), Min: 1, Max: 3}},
		{"descending", 3, 2, 1, FeatureVector{Mean: 2, StdDeviation: math.Sqrt(2.0 / 3.0), Min: 1, Max: 3}},
		{"tie on top", 5, 5, -1, FeatureVector{Mean: 3, StdDeviation: math.Sqrt(8), Min: -1, Max: 5}},
		{"tie on bottom", -2, 4, -2, FeatureVector{Mean: 0, StdDeviation: math.Sqrt(8), Min: -2, Max: 4}},
		{"max last", 0, -3, 9, FeatureVector{Mean: 2, StdDeviation: math.Sqrt(26), Min: -3, Max: 9}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Extract(tt.x, tt.y, tt.z)
			if math.Abs(got.Mean-tt.want.Mean) > 1e-12 ||
				math.Abs(got.StdDeviation-tt.want.StdDeviation) > 1e-12 ||
				got.Min != tt.want.Min || got.Max != tt.want.Max {
				t.Errorf("Extract(%v, %v, %v) = %+v, want %+v", tt.x, tt.y, tt.z, got, tt.want)
			}
		})
	}
}

func TestExtractMatchesReferenceForAllOrderings(t *testing.T) {
	values := []float64{-1, 0, 1}
	for _, x := range values {
		for _, y := range values {
			for _, z := range values {
				got := Extract(x, y, z)
				if got.Min != referenceMin(x, y, z) || got.Max != referenceMax(x, y, z) {
					t.Errorf("Extract(%v, %v, %v) min/max = %v/%v", x, y, z, got.Min, got.Max)
				}
			}
		}
	}
}

func TestExtractBoundsOnRandomInput(t *testing.T) {
	rng := rand.New(rand.NewSource(42))
	for i := 0; i < 10000; i++ {
		x := (rng.Float64() - 0.5) * 40
		y := (rng.Float64() - 0.5) * 40
		z := (rng.Float64() - 0.5) * 40
		if i%7 == 0 {
			y = x
		}

		got := Extract(x, y, z)
		if got.Min != referenceMin(x, y, z) || got.Max != referenceMax(x, y, z) {
			t.Fatalf("min/max mismatch for (%v, %v, %v): %+v", x, y, z, got)
		}
		if got.Mean < got.Min || got.Mean > got.Max {
			t.Fatalf("mean out of range for (%v, %v, %v): %+v", x, y, z, got)
		}
		if got.StdDeviation < 0 {
			t.Fatalf("negative std deviation for (%v, %v, %v): %+v", x, y, z, got)
		}
	}
}

func TestExtractStdDeviationZeroOnlyForEqualInputs(t *testing.T) {
	if got := Extract(2.5, 2.5, 2.5).StdDeviation; got != 0 {
		t.Errorf("std deviation of equal inputs = %v", got)
	}
	if got := Extract(0.1, 0.1, 0.1); got.StdDeviation != 0 || got.Mean != 0.1 {
		t.Errorf("Extract(0.1, 0.1, 0.1) = %+v", got)
	}
	if got := Extract(2.5, 2.5, 2.6).StdDeviation; got <= 0 {
		t.Errorf("std deviation of unequal inputs = %v", got)
	}
}

func TestExtractNaN(t *testing.T) {
	if got := Extract(math.NaN(), 1, 2); !math.IsNaN(got.StdDeviation) {
		t.Errorf("expected NaN std deviation, got %v", got.StdDeviation)
	}
}

func TestNormalize(t *testing.T) {
	x, y, z := Normalize(3, 0, 4)
	if math.Abs(x-0.6) > 1e-12 || y != 0 || math.Abs(z-0.8) > 1e-12 {
		t.Errorf("Normalize(3, 0, 4) = %v, %v, %v", x, y, z)
	}

	x, y, z = Normalize(1e-12, 0, 0)
	if x != 1e-12 || y != 0 || z != 0 {
		t.Errorf("tiny vector should be unchanged, got %v, %v, %v", x, y, z)
	}
}

func TestExtractExtremeMagnitudes(t *testing.T) {
	tests := []struct {
		name     string
		x, y, z  float64
		wantMean float64
		wantStd  float64
	}{
		{"tiny", 0, 0, 1e-200, 1e-200 / 3, math.Sqrt(2.0/9.0) * 1e-200},
		{"huge opposite", 1e308, -1e308, 0, 0, math.Sqrt(2.0/3.0) * 1e308},
		{"huge sum", 1e308, 1e308, -1e308, 1e308 / 3, math.Sqrt(8.0/9.0) * 1e308},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Extract(tt.x, tt.y, tt.z)
			if math.IsInf(got.Mean, 0) || math.IsInf(got.StdDeviation, 0) {
				t.Fatalf("Extract(%v, %v, %v) overflowed: %+v", tt.x, tt.y, tt.z, got)
			}
			if got.StdDeviation <= 0 {
				t.Errorf("Extract(%v, %v, %v) std deviation = %v, want > 0", tt.x, tt.y, tt.z, got.StdDeviation)
			}
			if math.Abs(got.Mean-tt.wantMean) > 1e-12*math.Abs(tt.wantMean) {
				t.Errorf("mean = %v, want %v", got.Mean, tt.wantMean)
			}
			if math.Abs(got.StdDeviation-tt.wantStd) > 1e-12*tt.wantStd {
				t.Errorf("std deviation = %v, want %v", got.StdDeviation, tt.wantStd)
			}
			if got.Mean < got.Min || got.Mean > got.Max {
				t.Errorf("mean %v outside [%v, %v]", got.Mean, got.Min, got.Max)
			}
		})
	}
}
