package importer

import (
	"regexp"
	"strconv"
	"strings"

	"github.com/patric-chuzhbe/geoplaces/internal/models"
)

var fieldSeparator = regexp.MustCompile(`[,|\t]`)

// Row is a successfully parsed line.
type Row struct {
	Name string
	Lat  float64
	Lng  float64
}

// ParseResult holds the rows in file order and the number of rejected lines.
// A detected header line is counted in neither.
type ParseResult struct {
	Rows    []Row
	Invalid int
}

// Total is the number of lines considered: valid plus invalid.
func (r ParseResult) Total() int {
	return len(r.Rows) + r.Invalid
}

func splitFields(line string) []string {
	fields := fieldSeparator.Split(line, -1)
	for i := range fields {
		fields[i] = strings.TrimSpace(fields[i])
	}

	return fields
}

func nonEmptyLines(content string) []string {
	var lines []string
	for _, line := range strings.Split(content, "\n") {
		line = strings.TrimSpace(line)
		if line != "" {
			lines = append(lines, line)
		}
	}

	return lines
}

func isHeader(line string) bool {
	fields := splitFields(line)
	if len(fields) < 3 {
		return false
	}

	name := strings.ToLower(fields[0])
	lat := strings.ToLower(fields[1])
	lng := strings.ToLower(fields[2])

	return name == "name" &&
		(lat == "latitude" || strings.HasPrefix(lat, "lat")) &&
		(lng == "longitude" || strings.HasPrefix(lng, "lng") || strings.HasPrefix(lng, "lon"))
}

func parseRow(line string) (Row, bool) {
	fields := splitFields(line)
	if len(fields) < 3 {
		return Row{}, false
	}

	name := fields[0]
	if name == "" {
		return Row{}, false
	}

	lat, err := strconv.ParseFloat(fields[1], 64)
	if err != nil {
		return Row{}, false
	}

	lng, err := strconv.ParseFloat(fields[2], 64)
	if err != nil {
		return Row{}, false
	}

	if !models.ValidCoordinates(lat, lng) {
		return Row{}, false
	}

	return Row{Name: name, Lat: lat, Lng: lng}, true
}

// ParseRows converts decoded text into rows. Lines with fewer than three
// fields, an empty name, or coordinates that are not finite numbers within
// range are counted as invalid.
func ParseRows(content string) ParseResult {
	lines := nonEmptyLines(content)
	if len(lines) > 0 && isHeader(lines[0]) {
		lines = lines[1:]
	}

	result := ParseResult{}
	for _, line := range lines {
		row, ok := parseRow(line)
		if !ok {
			result.Invalid++
			continue
		}
		result.Rows = append(result.Rows, row)
	}

	return result
}
