package pipeline

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/aluiziolira/go-scrape-catalogue/models"
)

// namedWriter tags a sink with the label used in error messages.
type namedWriter struct {
	name string
	OutputWriter
}

// FanOutWriter sends the catalogue to several sinks. A failed Write stops
// at the first sink that errors; Close and Validate visit every sink.
type FanOutWriter struct {
	sinks []namedWriter
}

// NewDualWriter writes CSV next to the JSON catalogue. Both files share the
// base name of filename.
func NewDualWriter(filename string) (*FanOutWriter, error) {
	base := strings.TrimSuffix(filename, filepath.Ext(filename))

	csvWriter, err := NewCSVWriter(base + ".csv")
	if err != nil {
		return nil, err
	}
	jsonWriter, err := NewJSONWriter(base + ".json")
	if err != nil {
		csvWriter.Abort()
		return nil, err
	}

	return &FanOutWriter{sinks: []namedWriter{
		{name: "csv", OutputWriter: csvWriter},
		{name: "json", OutputWriter: jsonWriter},
	}}, nil
}

func (fw *FanOutWriter) Write(records []*models.ProductRecord) error {
	for _, sink := range fw.sinks {
		if err := sink.Write(records); err != nil {
			return fmt.Errorf("%s sink: %w", sink.name, err)
		}
	}
	return nil
}

func (fw *FanOutWriter) Close() error {
	return fw.each(OutputWriter.Close)
}

func (fw *FanOutWriter) Abort() error {
	return fw.each(OutputWriter.Abort)
}

func (fw *FanOutWriter) Validate() error {
	return fw.each(OutputWriter.Validate)
}

func (fw *FanOutWriter) each(op func(OutputWriter) error) error {
	var errs []error
	for _, sink := range fw.sinks {
		if err := op(sink.OutputWriter); err != nil {
			errs = append(errs, fmt.Errorf("%s sink: %w", sink.name, err))
		}
	}
	return errors.Join(errs...)
}
