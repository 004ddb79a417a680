// Package datastore provides error handling helpers for database operations
package datastore

import (
	"github.com/shipwatch/shipwatch/internal/errors"
)

// ErrProductExists is matched with errors.Is when an ingestion hits an
// already stored product.
var ErrProductExists = errors.NewStd("product already exists in database")

// dbError creates a properly categorized database error with context
func dbError(err error, operation, priority string, context ...any) error {
	builder := errors.New(err).
		Component("datastore").
		Category(errors.CategoryDatabase).
		Context("operation", operation)

	if priority != "" {
		builder = builder.Priority(priority)
	}

	// Add context pairs
	for i := 0; i < len(context)-1; i += 2 {
		if key, ok := context[i].(string); ok {
			builder = builder.Context(key, context[i+1])
		}
	}

	return builder.Build()
}

// DuplicateProductError reports that a tile with the dataset is already stored.
func DuplicateProductError(dataset string) error {
	return errors.New(ErrProductExists).
		Component("datastore").
		Category(errors.CategoryConflict).
		Context("dataset", dataset).
		Build()
}

// validationError creates a validation error for bad arguments
func validationError(message, field string, value any) error {
	return errors.Newf("%s", message).
		Component("datastore").
		Category(errors.CategoryValidation).
		Context("field", field).
		Context("value", value).
		Build()
}
