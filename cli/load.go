// Package cli implements the vineflow subcommands.
package cli

import (
	"errors"
	"os"

	vineflow "github.com/petal-labs/vineflow"
	"github.com/petal-labs/vineflow/catalog"
	"github.com/petal-labs/vineflow/schema"
)

// loadGraph reads a workflow file and assembles it against the default
// catalog.
func loadGraph(filePath string) (*vineflow.Graph, error) {
	doc, err := schema.Load(filePath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, exitError(exitFileNotFound, "file not found: %s", filePath)
		}
		return nil, exitError(exitValidation, "%v", err)
	}

	g, err := doc.ToGraph(catalog.Default())
	if err != nil {
		return nil, exitError(exitValidation, "assembling workflow: %v", err)
	}
	return g, nil
}
