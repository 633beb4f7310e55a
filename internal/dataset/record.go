package dataset

import (
	"math"
	"strconv"
	"strings"

	"sleepywoodpecker/arff-collector/internal/features"
)

// FormatRecord renders one data row: mean,stdDeviation,min,max,label,sensor.
// Label and sensor are written as given; newlines inside them are replaced by spaces
// so a record always stays on one line.
func FormatRecord(v features.FeatureVector, label Label, sensor SensorTag) string {
	fields := []string{
		formatFloat(v.Mean),
		formatFloat(v.StdDeviation),
		formatFloat(v.Min),
		formatFloat(v.Max),
		oneLine(string(label)),
		oneLine(string(sensor)),
	}
	return strings.Join(fields, ",")
}

func formatFloat(f float64) string {
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return "?"
	}
	s := strconv.FormatFloat(f, 'f', -1, 64)
	if !strings.ContainsRune(s, '.') {
		s += ".0"
	}
	return s
}

var lineBreaks = strings.NewReplacer("\r\n", " ", "\n", " ", "\r", " ")

func oneLine(s string) string {
	return lineBreaks.Replace(s)
}
