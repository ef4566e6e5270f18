package migrator

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"gopkg.in/yaml.v3"
)

// Batch is a list of corrections read from YAML:
//
//	continue_on_error: true
//	corrections:
//	  - operation: make-minor
//	    edition: edition-123
//	  - operation: change-note
//	    edition: edition-456
//	    note: Fixed a broken link
type Batch struct {
	ContinueOnError bool         `yaml:"continue_on_error"`
	Corrections     []Correction `yaml:"corrections"`
}

type Correction struct {
	Operation string `yaml:"operation"`
	EditionID string `yaml:"edition"`
	Note      string `yaml:"note,omitempty"`
	Version   int    `yaml:"version,omitempty"`
}

type Result struct {
	Correction Correction
	Version    int
	UpdateType string
	Err        error
}

func LoadBatch(path string) (Batch, error) {
	f, err := os.Open(path)
	if err != nil {
		return Batch{}, fmt.Errorf("open batch file: %w", err)
	}
	defer f.Close()
	return DecodeBatch(f)
}

func DecodeBatch(r io.Reader) (Batch, error) {
	var batch Batch
	decoder := yaml.NewDecoder(r)
	decoder.KnownFields(true)
	if err := decoder.Decode(&batch); err != nil {
		if errors.Is(err, io.EOF) {
			return Batch{}, nil
		}
		return Batch{}, fmt.Errorf("decode batch: %w", err)
	}
	for i, c := range batch.Corrections {
		if c.EditionID == "" {
			return Batch{}, fmt.Errorf("correction %d: edition is required", i+1)
		}
		if c.Operation == "" {
			return Batch{}, fmt.Errorf("correction %d: operation is required", i+1)
		}
	}
	return batch, nil
}

// Apply runs the corrections in order. It stops at the first failure unless
// the batch sets continue_on_error, and returns one result per attempted
// correction along with the first error seen.
func (m *Migrator) Apply(ctx context.Context, batch Batch) ([]Result, error) {
	results := make([]Result, 0, len(batch.Corrections))
	var firstErr error
	for i, c := range batch.Corrections {
		if err := ctx.Err(); err != nil {
			return results, err
		}
		updated, err := m.Run(ctx, c)
		results = append(results, Result{Correction: c, Version: updated.Version, UpdateType: updated.UpdateType, Err: err})
		if err == nil {
			continue
		}
		if firstErr == nil {
			firstErr = fmt.Errorf("correction %d (%s %s): %w", i+1, c.Operation, c.EditionID, err)
		}
		if !batch.ContinueOnError {
			break
		}
	}
	return results, firstErr
}
