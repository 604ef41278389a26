package persist

import (
	"context"
	"fmt"
	"os"
)

// LockResolver supplies the password sealing a container file.
type LockResolver interface {
	ContainerPassword(ctx context.Context, path string) ([]byte, error)
}

// LockFunc adapts a function to LockResolver.
type LockFunc func(ctx context.Context, path string) ([]byte, error)

// ContainerPassword calls f.
func (f LockFunc) ContainerPassword(ctx context.Context, path string) ([]byte, error) {
	return f(ctx, path)
}

// StaticLock always returns the same password.
type StaticLock []byte

// ContainerPassword returns a copy of the password.
func (s StaticLock) ContainerPassword(context.Context, string) ([]byte, error) {
	return append([]byte(nil), s...), nil
}

// EnvLock reads the password from an environment variable.
type EnvLock string

// ContainerPassword returns the value of the variable.
func (e EnvLock) ContainerPassword(context.Context, string) ([]byte, error) {
	v, ok := os.LookupEnv(string(e))
	if !ok || v == "" {
		return nil, fmt.Errorf("environment variable %s is not set", string(e))
	}
	return []byte(v), nil
}
