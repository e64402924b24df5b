package recording

import (
	"encoding/csv"
	"fmt"
	"os"
)

var csvHeader = []string{"tag", "rate", "power", "state"}

// CSVRecorder writes one CSV row per decision entry. The column layout is
// stable: tag, rate, power, state index.
type CSVRecorder struct {
	file      *os.File
	csvWriter *csv.Writer
}

// NewCSVRecorder creates a recorder appending to the file at path. The
// header row is written when the file starts empty.
func NewCSVRecorder(path string) (*CSVRecorder, error) {
	file, err := os.OpenFile(path,
		os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return nil, err
	}

	info, err := file.Stat()
	if err != nil {
		file.Close()
		return nil, err
	}

	r := &CSVRecorder{
		file:      file,
		csvWriter: csv.NewWriter(file),
	}

	if info.Size() == 0 {
		err = r.csvWriter.Write(csvHeader)
		if err != nil {
			file.Close()
			return nil, err
		}
	}

	return r, nil
}

// Record appends one entry as a CSV row.
func (r *CSVRecorder) Record(entry Entry) {
	err := r.csvWriter.Write([]string{
		fmt.Sprintf("%d", entry.Tag),
		fmt.Sprintf("%.10f", entry.Rate),
		fmt.Sprintf("%.10f", entry.Power),
		fmt.Sprintf("%d", entry.StateIndex),
	})
	if err != nil {
		panic(err)
	}
}

// Flush flushes the CSV writer.
func (r *CSVRecorder) Flush() {
	r.csvWriter.Flush()
}

// Close flushes and closes the underlying file.
func (r *CSVRecorder) Close() {
	r.csvWriter.Flush()
	r.file.Close()
}
