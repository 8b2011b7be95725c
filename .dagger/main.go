// Relay CI/CD
//
// Package main provides reproducible builds and tests locally and in GitHub actions.
package main

import (
	"context"

	"dagger/relay/internal/dagger"
)

// Relay is the main module for the relay CI/CD pipeline
type Relay struct {
	// Project source directory
	//
	// +private
	Source *dagger.Directory
}

// New creates a new Relay CI/CD module instance
func New(
	// Project source directory.
	//
	// +defaultPath="/"
	// +ignore=[".git", ".direnv", ".relay", "build", "tmp", "web/node_modules"]
	source *dagger.Directory,
) *Relay {
	return &Relay{
		Source: source,
	}
}

// goContainer returns a Go container with the project source mounted and
// the module and build caches attached. The relay is pure Go, so CGO is off.
func (r *Relay) goContainer() *dagger.Container {
	return dag.Container().
		From("golang:1.25-alpine").
		WithEnvVariable("CGO_ENABLED", "0").
		WithEnvVariable("PATH", "/go/bin:$PATH", dagger.ContainerWithEnvVariableOpts{Expand: true}).
		WithMountedCache("/go/pkg/mod", dag.CacheVolume("go-mod")).
		WithMountedCache("/root/.cache/go-build", dag.CacheVolume("go-build")).
		WithWorkdir("/src").
		WithDirectory("/src", r.Source)
}

// Test runs the relay unit tests via "go test"
func (r *Relay) Test(ctx context.Context) (string, error) {
	return r.goContainer().
		WithExec([]string{"go", "test", "-v", "./..."}).
		Stdout(ctx)
}

// Vet runs "go vet" over every package
//
// +check
func (r *Relay) Vet(ctx context.Context) (string, error) {
	return r.goContainer().
		WithExec([]string{"go", "vet", "./..."}).
		Stdout(ctx)
}
