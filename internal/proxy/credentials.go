package proxy

import (
	"context"
	"os"
)

// CredentialResolver maps a secret name to its value.
type CredentialResolver interface {
	Resolve(ctx context.Context, name string) (string, bool)
}

// EnvCredentialResolver resolves secrets from process environment
// variables.
type EnvCredentialResolver struct{}

func (EnvCredentialResolver) Resolve(_ context.Context, name string) (string, bool) {
	v, ok := os.LookupEnv(name)
	return v, ok
}

// NoCredentialResolver never resolves anything; used in tests and for
// decisions that never inject credentials.
type NoCredentialResolver struct{}

func (NoCredentialResolver) Resolve(_ context.Context, _ string) (string, bool) {
	return "", false
}
