// Package artifacts resolves firmware artifact references to local files.
//
// A reference is either a filesystem path, a file:// URL or an
// s3://bucket/key URL served by any S3-compatible object store.
package artifacts

import (
	"context"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"github.com/rs/zerolog"

	"github.com/openfroyo/biosctl/pkg/engine"
)

var (
	_ engine.ArtifactResolver = (*LocalResolver)(nil)
	_ engine.ArtifactResolver = (*S3Resolver)(nil)
	_ engine.ArtifactResolver = (*Resolver)(nil)
)

func noop() {}

// LocalResolver resolves paths on the local filesystem. Relative paths are
// taken from BaseDir.
type LocalResolver struct {
	BaseDir string
}

// Resolve checks the artifact exists and is a regular file.
func (r *LocalResolver) Resolve(_ context.Context, ref string) (string, func(), error) {
	p := strings.TrimPrefix(ref, "file://")
	if !filepath.IsAbs(p) && r.BaseDir != "" {
		p = filepath.Join(r.BaseDir, p)
	}
	info, err := os.Stat(p)
	if err != nil {
		return "", noop, fmt.Errorf("artifact %s: %w", ref, err)
	}
	if !info.Mode().IsRegular() {
		return "", noop, fmt.Errorf("artifact %s is not a regular file", ref)
	}
	return p, noop, nil
}

// S3Config configures access to an S3-compatible store.
type S3Config struct {
	Endpoint        string `yaml:"endpoint" json:"endpoint" validate:"required"`
	Region          string `yaml:"region,omitempty" json:"region,omitempty"`
	AccessKeyID     string `yaml:"access_key_id,omitempty" json:"access_key_id,omitempty"`
	SecretAccessKey string `yaml:"secret_access_key,omitempty" json:"secret_access_key,omitempty"`
	UseSSL          bool   `yaml:"use_ssl" json:"use_ssl"`

	// CacheDir holds downloaded artifacts. Defaults to the system temp dir.
	CacheDir string `yaml:"cache_dir,omitempty" json:"cache_dir,omitempty"`
}

// ObjectGetter downloads an object to a file. *minio.Client implements it.
type ObjectGetter interface {
	FGetObject(ctx context.Context, bucketName, objectName, filePath string, opts minio.GetObjectOptions) error
}

// S3Resolver downloads s3:// artifacts into a temporary file that is removed
// by the returned cleanup function.
type S3Resolver struct {
	client   ObjectGetter
	cacheDir string
	logger   zerolog.Logger
}

// NewS3Resolver creates a resolver backed by a minio client. Without static
// keys, credentials come from the AWS_* or MINIO_* environment.
func NewS3Resolver(cfg S3Config, logger zerolog.Logger) (*S3Resolver, error) {
	if cfg.Endpoint == "" {
		return nil, fmt.Errorf("s3 endpoint is required")
	}

	creds := credentials.NewChainCredentials([]credentials.Provider{
		&credentials.EnvAWS{},
		&credentials.EnvMinio{},
	})
	if cfg.AccessKeyID != "" {
		creds = credentials.NewStaticV4(cfg.AccessKeyID, cfg.SecretAccessKey, "")
	}

	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  creds,
		Secure: cfg.UseSSL,
		Region: cfg.Region,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create minio client: %w", err)
	}
	return NewS3ResolverWithClient(client, cfg.CacheDir, logger), nil
}

// NewS3ResolverWithClient creates a resolver over an existing client.
func NewS3ResolverWithClient(client ObjectGetter, cacheDir string, logger zerolog.Logger) *S3Resolver {
	return &S3Resolver{
		client:   client,
		cacheDir: cacheDir,
		logger:   logger.With().Str("component", "s3-resolver").Logger(),
	}
}

// Resolve downloads the object named by ref.
func (r *S3Resolver) Resolve(ctx context.Context, ref string) (string, func(), error) {
	bucket, key, err := ParseS3URL(ref)
	if err != nil {
		return "", noop, err
	}

	dir, err := os.MkdirTemp(r.cacheDir, "artifact-*")
	if err != nil {
		return "", noop, fmt.Errorf("failed to create download dir: %w", err)
	}
	cleanup := func() { _ = os.RemoveAll(dir) }

	local := filepath.Join(dir, filepath.Base(key))
	if err := r.client.FGetObject(ctx, bucket, key, local, minio.GetObjectOptions{}); err != nil {
		cleanup()
		return "", noop, fmt.Errorf("failed to download %s: %w", ref, err)
	}

	r.logger.Debug().Str("bucket", bucket).Str("key", key).Str("path", local).Msg("Artifact downloaded")
	return local, cleanup, nil
}

// ParseS3URL splits s3://bucket/key.
func ParseS3URL(ref string) (bucket, key string, err error) {
	u, err := url.Parse(ref)
	if err != nil {
		return "", "", fmt.Errorf("invalid artifact url %q: %w", ref, err)
	}
	if u.Scheme != "s3" {
		return "", "", fmt.Errorf("invalid artifact url %q: scheme must be s3", ref)
	}
	key = strings.TrimPrefix(u.Path, "/")
	if u.Host == "" || key == "" {
		return "", "", fmt.Errorf("invalid artifact url %q: want s3://bucket/key", ref)
	}
	return u.Host, key, nil
}

// Resolver dispatches on the reference scheme. S3 may be nil when no object
// store is configured.
type Resolver struct {
	Local *LocalResolver
	S3    *S3Resolver
}

// Resolve resolves ref with the resolver for its scheme.
func (r *Resolver) Resolve(ctx context.Context, ref string) (string, func(), error) {
	if strings.HasPrefix(ref, "s3://") {
		if r.S3 == nil {
			return "", noop, fmt.Errorf("artifact %s: no object store configured", ref)
		}
		return r.S3.Resolve(ctx, ref)
	}
	local := r.Local
	if local == nil {
		local = &LocalResolver{}
	}
	return local.Resolve(ctx, ref)
}
