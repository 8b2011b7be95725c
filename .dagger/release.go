package main

import (
	"context"
	"fmt"
	"path"
	"time"

	"dagger/relay/internal/dagger"
)

// artifactRoot is the bucket directory every relay artifact lives under.
const artifactRoot = "relay"

// bucket holds the credentials of the S3-compatible artifact bucket.
type bucket struct {
	endpoint        *dagger.Secret
	name            *dagger.Secret
	accessKeyID     *dagger.Secret
	secretAccessKey *dagger.Secret
}

// withChecksums adds a SHA256SUMS file covering every relay binary in the
// build matrix.
func (r *Relay) withChecksums(artifacts *dagger.Directory) *dagger.Directory {
	sums := dag.Container().
		From("alpine:3").
		WithDirectory("/artifacts", artifacts).
		WithWorkdir("/artifacts").
		WithExec([]string{"sh", "-c", "sha256sum */*/relay > SHA256SUMS"}).
		File("/artifacts/SHA256SUMS")

	return artifacts.WithFile("SHA256SUMS", sums)
}

// publish syncs artifacts to <bucket>/relay/<channel>.
func (r *Relay) publish(ctx context.Context, b bucket, artifacts *dagger.Directory, channel string) error {
	name, err := b.name.Plaintext(ctx)
	if err != nil {
		return fmt.Errorf("reading bucket name: %w", err)
	}

	endpoint, err := b.endpoint.Plaintext(ctx)
	if err != nil {
		return fmt.Errorf("reading bucket endpoint: %w", err)
	}

	destination := "s3://" + path.Join(name, artifactRoot, channel)

	_, err = dag.Container().
		From("amazon/aws-cli:latest").
		WithSecretVariable("AWS_ACCESS_KEY_ID", b.accessKeyID).
		WithSecretVariable("AWS_SECRET_ACCESS_KEY", b.secretAccessKey).
		WithEnvVariable("AWS_DEFAULT_REGION", "auto").
		WithDirectory("/artifacts", artifacts).
		WithWorkdir("/artifacts").
		WithExec([]string{
			"aws", "s3", "sync", ".", destination,
			"--endpoint-url", endpoint,
			"--delete",
		}).
		Sync(ctx)
	if err != nil {
		return fmt.Errorf("syncing relay artifacts to %s: %w", channel, err)
	}

	return nil
}

// Release builds versioned relay binaries and publishes them under both
// relay/<version> and relay/latest
func (r *Relay) Release(
	ctx context.Context,

	// Version string (e.g., "v1.0.0")
	version string,

	// Git commit SHA
	commit string,

	// Bucket endpoint URL
	endpoint *dagger.Secret,

	// Bucket name
	bucketName *dagger.Secret,

	// Bucket access key ID
	accessKeyID *dagger.Secret,

	// Bucket secret access key
	secretAccessKey *dagger.Secret,
) (*dagger.Directory, error) {
	b := bucket{endpoint: endpoint, name: bucketName, accessKeyID: accessKeyID, secretAccessKey: secretAccessKey}
	artifacts := r.withChecksums(r.BuildRelease(ctx, version, commit))

	for _, channel := range []string{version, "latest"} {
		if err := r.publish(ctx, b, artifacts, channel); err != nil {
			return artifacts, err
		}
	}

	return artifacts, nil
}

// Nightly builds the relay from commit and publishes it under
// relay/nightly/<date> and relay/nightly/latest
func (r *Relay) Nightly(
	ctx context.Context,

	// Git commit SHA
	commit string,

	// Bucket endpoint URL
	endpoint *dagger.Secret,

	// Bucket name
	bucketName *dagger.Secret,

	// Bucket access key ID
	accessKeyID *dagger.Secret,

	// Bucket secret access key
	secretAccessKey *dagger.Secret,
) (*dagger.Directory, error) {
	b := bucket{endpoint: endpoint, name: bucketName, accessKeyID: accessKeyID, secretAccessKey: secretAccessKey}
	date := time.Now().UTC().Format("2006-01-02")
	artifacts := r.withChecksums(r.BuildRelease(ctx, "nightly-"+date, commit))

	for _, channel := range []string{path.Join("nightly", date), path.Join("nightly", "latest")} {
		if err := r.publish(ctx, b, artifacts, channel); err != nil {
			return artifacts, err
		}
	}

	return artifacts, nil
}
