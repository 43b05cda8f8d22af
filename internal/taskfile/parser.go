// Package taskfile reads task coordination descriptors from YAML files.
// It is the structured replacement for scraping metadata out of task
// documents: the core only ever sees the parsed TaskDescriptor.
package taskfile

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/renwick/coordinator/internal/coord"
)

// document is the on-disk YAML shape of a task descriptor.
type document struct {
	TaskID             string   `yaml:"task_id"`
	Mode               string   `yaml:"mode"`
	Priority           string   `yaml:"priority"`
	ParallelSafety     string   `yaml:"parallel_safety"`
	EstimatedMinutes   int      `yaml:"estimated_duration_minutes"`
	ConflictsWith      []string `yaml:"conflicts_with"`
	DependsOn          []string `yaml:"depends_on"`
	ModifiesFiles      []string `yaml:"modifies_files"`
	ReadsFiles         []string `yaml:"reads_files"`
	LockedResources    []string `yaml:"locked_resources"`
	ParallelCompatible bool     `yaml:"parallel_compatible"`
}

// Parser loads TaskDescriptors from YAML task files. It implements
// coord.DescriptorSource.
type Parser struct{}

// NewParser creates a Parser.
func NewParser() *Parser {
	return &Parser{}
}

// Parse reads and validates the descriptor at taskPath. Missing or
// malformed files return an error; the Coordinator surfaces that as a
// rejection, not a crash.
func (p *Parser) Parse(taskPath string) (*coord.TaskDescriptor, error) {
	data, err := os.ReadFile(taskPath)
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", taskPath, err)
	}

	var doc document
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parsing %s: %w", taskPath, err)
	}

	d := doc.toDescriptor(taskPath)
	d.Normalize()
	return d, nil
}

// ParseDir loads every *.yaml and *.yml descriptor in dir. Files that fail
// to parse are skipped with their error collected; callers planning a batch
// usually want the parseable remainder.
func (p *Parser) ParseDir(dir string) ([]*coord.TaskDescriptor, []error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, []error{fmt.Errorf("reading %s: %w", dir, err)}
	}

	var descriptors []*coord.TaskDescriptor
	var errs []error
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		ext := filepath.Ext(entry.Name())
		if ext != ".yaml" && ext != ".yml" {
			continue
		}
		d, err := p.Parse(filepath.Join(dir, entry.Name()))
		if err != nil {
			errs = append(errs, err)
			continue
		}
		descriptors = append(descriptors, d)
	}
	return descriptors, errs
}

func (doc *document) toDescriptor(taskPath string) *coord.TaskDescriptor {
	taskID := doc.TaskID
	if taskID == "" {
		base := filepath.Base(taskPath)
		taskID = strings.TrimSuffix(base, filepath.Ext(base))
	}
	mode := doc.Mode
	if mode == "" {
		mode = "unknown"
	}
	priority := doc.Priority
	if priority == "" {
		priority = "medium"
	}
	safety := doc.ParallelSafety
	if safety == "" {
		safety = "CONDITIONAL"
	}
	minutes := doc.EstimatedMinutes
	if minutes <= 0 {
		minutes = 60
	}

	return &coord.TaskDescriptor{
		TaskID:             taskID,
		Mode:               mode,
		Priority:           priority,
		ParallelSafety:     safety,
		EstimatedDuration:  time.Duration(minutes) * time.Minute,
		ConflictsWith:      doc.ConflictsWith,
		DependsOn:          doc.DependsOn,
		ModifiesFiles:      doc.ModifiesFiles,
		ReadsFiles:         doc.ReadsFiles,
		LockedResources:    doc.LockedResources,
		ParallelCompatible: doc.ParallelCompatible,
	}
}
