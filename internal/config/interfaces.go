package config

import "context"

// SecretProvider resolves secret parameter paths to their values.
// Missing keys are omitted from the result rather than reported as errors.
type SecretProvider interface {
	GetParametersBatch(ctx context.Context, keys []string) (map[string]string, error)
}
