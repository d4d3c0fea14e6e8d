package storage

import (
	"context"

	"acs-pipeline/models"
)

// ResultWriter is the interface any export backend must satisfy.
type ResultWriter interface {
	Write(ctx context.Context, table *models.ResultTable) error
	Close() error
}
