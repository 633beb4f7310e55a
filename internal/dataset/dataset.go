package dataset

import (
	"strings"
)

const FileSuffix = ".arff"

const Relation = "detectSportType"

type Label string

const (
	Walking Label = "walking"
	Jogging Label = "jogging"
	Sport   Label = "sport"
)

var Labels = []Label{Walking, Jogging, Sport}

type SensorTag string

const (
	Accelerometer SensorTag = "accelerometer"
	Gyroscope     SensorTag = "gyroscope"
)

// SensorSet is the set of sensors a dataset records, in header order.
type SensorSet []SensorTag

var AllSensors = SensorSet{Accelerometer, Gyroscope}

func (s SensorSet) Contains(tag SensorTag) bool {
	for _, t := range s {
		if t == tag {
			return true
		}
	}
	return false
}

// ParseSensorSet keeps the known sensor names in canonical order; unknown names are ignored.
func ParseSensorSet(names []string) SensorSet {
	var set SensorSet
	for _, tag := range AllSensors {
		for _, name := range names {
			if SensorTag(strings.TrimSpace(name)) == tag {
				set = append(set, tag)
				break
			}
		}
	}
	return set
}

// Header renders the fixed dataset schema for the given sensor set.
func Header(sensors SensorSet) string {
	labels := make([]string, len(Labels))
	for i, l := range Labels {
		labels[i] = string(l)
	}
	tags := make([]string, len(sensors))
	for i, s := range sensors {
		tags[i] = string(s)
	}

	var b strings.Builder
	b.WriteString("@relation " + Relation + "\n")
	b.WriteString("\n")
	b.WriteString("@attribute mean numeric\n")
	b.WriteString("@attribute stdDeviation numeric\n")
	b.WriteString("@attribute min numeric\n")
	b.WriteString("@attribute max numeric\n")
	b.WriteString("@attribute movementType {" + strings.Join(labels, ",") + "}\n")
	b.WriteString("@attribute sensor {" + strings.Join(tags, ",") + "}\n")
	b.WriteString("\n")
	b.WriteString("@data")
	return b.String()
}

// DefaultHeader is the schema with every sensor enabled.
var DefaultHeader = Header(AllSensors)

// Dataset is one named dataset file and the content last read from or written to it.
type Dataset struct {
	Name    string
	Content string
	Sensors SensorSet
	// Size is the byte count of Content when it was produced.
	Size int64
}

func New(name, content string, sensors SensorSet) Dataset {
	return Dataset{
		Name:    name,
		Content: content,
		Sensors: sensors,
		Size:    int64(len(content)),
	}
}

// ClearName returns the name without the file suffix.
func (d Dataset) ClearName() string {
	return strings.TrimSuffix(d.Name, FileSuffix)
}

// Header returns the schema part of the content, up to and including the "@data" line.
func (d Dataset) Header() string {
	idx := strings.Index(d.Content, "@data")
	if idx < 0 {
		return d.Content
	}
	return d.Content[:idx+len("@data")]
}

// WithSuffix returns the name ending in exactly one file suffix.
func WithSuffix(name string) string {
	for strings.HasSuffix(name, FileSuffix) {
		name = strings.TrimSuffix(name, FileSuffix)
	}
	return name + FileSuffix
}

// SensorsFromHeader reads the sensor set declared by a dataset's "@attribute sensor" line.
func SensorsFromHeader(content string) SensorSet {
	const prefix = "@attribute sensor {"
	for _, line := range strings.Split(content, "\n") {
		if line == "@data" {
			break
		}
		if strings.HasPrefix(line, prefix) && strings.HasSuffix(line, "}") {
			return ParseSensorSet(strings.Split(line[len(prefix):len(line)-1], ","))
		}
	}
	return nil
}
