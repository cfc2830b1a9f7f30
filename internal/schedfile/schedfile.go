// Package schedfile reads and writes schedule documents, the YAML
// representation of a time-partitioning window table.
//
// A document looks like:
//
//	cpu: 0
//	windows:
//	  - offset: 0ms
//	    duration: 10ms
//	    partition: 0
//	  - offset: 10ms
//	    duration: 5ms
//	    partition: idle
//	  - offset: 15ms
//	    duration: 10ms
//	    partition: 1
//
// Windows must tile the frame: each offset equals the sum of the
// preceding durations. The partition field takes a partition index or
// the keyword "idle" for a window during which the CPU is left idle.
package schedfile

import (
	"fmt"
	"log/slog"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/me/gotp/pkg/model"
)

// idleKeyword names the idle partition in schedule documents.
const idleKeyword = "idle"

// Partition is a partition index that renders as "idle" for the idle
// sentinel.
type Partition int

// UnmarshalYAML accepts an integer partition index or the idle keyword.
func (p *Partition) UnmarshalYAML(value *yaml.Node) error {
	var n int
	if err := value.Decode(&n); err == nil {
		*p = Partition(n)
		return nil
	}
	var s string
	if err := value.Decode(&s); err == nil && s == idleKeyword {
		*p = Partition(model.PartitionIdle)
		return nil
	}
	return fmt.Errorf("line %d: partition must be an integer or %q", value.Line, idleKeyword)
}

// MarshalYAML renders the idle sentinel as the keyword.
func (p Partition) MarshalYAML() (any, error) {
	if int(p) == model.PartitionIdle {
		return idleKeyword, nil
	}
	return int(p), nil
}

// Window is one schedule window as it appears in a document.
type Window struct {
	Offset    model.Duration `yaml:"offset"`
	Duration  model.Duration `yaml:"duration"`
	Partition Partition      `yaml:"partition"`
}

// Document is a parsed schedule file.
type Document struct {
	CPU     int      `yaml:"cpu"`
	Windows []Window `yaml:"windows"`
}

// ToWindows converts the document windows to their model form.
func (d *Document) ToWindows() []model.Window {
	out := make([]model.Window, 0, len(d.Windows))
	for _, w := range d.Windows {
		out = append(out, model.Window{
			Offset:    w.Offset,
			Duration:  w.Duration,
			Partition: int(w.Partition),
		})
	}
	return out
}

// FromWindows builds a document from model windows, for writing a
// fetched schedule back out as a file.
func FromWindows(cpu int, windows []model.Window) *Document {
	doc := &Document{CPU: cpu, Windows: make([]Window, 0, len(windows))}
	for _, w := range windows {
		doc.Windows = append(doc.Windows, Window{
			Offset:    w.Offset,
			Duration:  w.Duration,
			Partition: Partition(w.Partition),
		})
	}
	return doc
}

// Marshal renders a document as YAML.
func Marshal(doc *Document) ([]byte, error) {
	data, err := yaml.Marshal(doc)
	if err != nil {
		return nil, fmt.Errorf("marshal schedule document: %w", err)
	}
	return data, nil
}

// Parser converts raw YAML into schedule documents.
type Parser struct {
	logger *slog.Logger
}

// New creates a Parser with the given logger.
func New(logger *slog.Logger) *Parser {
	return &Parser{logger: logger.With("component", "schedfile")}
}

// Parse decodes a schedule document. Syntax only; run the Validator for
// semantic checks.
func (p *Parser) Parse(data []byte) (*Document, error) {
	var doc Document
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("YAML parse error: %w", err)
	}
	return &doc, nil
}

// ParseFile reads and decodes a schedule document from disk.
func (p *Parser) ParseFile(path string) (*Document, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read schedule file: %w", err)
	}
	doc, err := p.Parse(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	p.logger.Debug("schedule file parsed", "path", path, "windows", len(doc.Windows))
	return doc, nil
}
