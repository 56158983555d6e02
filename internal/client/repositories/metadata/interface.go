// Package metadata keeps small named values in the CLI's local database,
// such as the operator token saved by the token command.
package metadata

import "context"

// Well-known keys.
const (
	KeyToken    = "operator_token"
	KeyOperator = "operator_name"
)

type Repository interface {
	// Get returns common.ErrorNotFound when key is unset.
	Get(ctx context.Context, key string) (string, error)
	Set(ctx context.Context, key, value string) error
	Delete(ctx context.Context, key string) error
}
