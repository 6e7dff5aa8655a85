package artifacts

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/minio/minio-go/v7"
	"github.com/rs/zerolog"
)

type fakeGetter struct {
	objects map[string][]byte
	calls   int
}

func (f *fakeGetter) FGetObject(_ context.Context, bucket, key, path string, _ minio.GetObjectOptions) error {
	f.calls++
	data, ok := f.objects[bucket+"/"+key]
	if !ok {
		return errors.New("NoSuchKey")
	}
	return os.WriteFile(path, data, 0o600)
}

func TestParseS3URL(t *testing.T) {
	tests := []struct {
		ref        string
		wantBucket string
		wantKey    string
		wantErr    bool
	}{
		{ref: "s3://firmware/dell/r650/bios-1.2.bin", wantBucket: "firmware", wantKey: "dell/r650/bios-1.2.bin"},
		{ref: "s3://firmware/bmc.bin", wantBucket: "firmware", wantKey: "bmc.bin"},
		{ref: "s3://firmware/", wantErr: true},
		{ref: "s3:///bmc.bin", wantErr: true},
		{ref: "https://firmware/bmc.bin", wantErr: true},
		{ref: "/var/cache/bmc.bin", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.ref, func(t *testing.T) {
			bucket, key, err := ParseS3URL(tt.ref)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ParseS3URL() error = %v, wantErr %v", err, tt.wantErr)
			}
			if bucket != tt.wantBucket || key != tt.wantKey {
				t.Errorf("ParseS3URL() = %s, %s", bucket, key)
			}
		})
	}
}

func TestLocalResolver(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "bios.bin"), []byte("bios"), 0o644); err != nil {
		t.Fatal(err)
	}
	r := &LocalResolver{BaseDir: dir}
	ctx := context.Background()

	for _, ref := range []string{"bios.bin", filepath.Join(dir, "bios.bin"), "file://" + filepath.Join(dir, "bios.bin")} {
		p, cleanup, err := r.Resolve(ctx, ref)
		if err != nil {
			t.Errorf("Resolve(%s) error = %v", ref, err)
			continue
		}
		cleanup()
		if p != filepath.Join(dir, "bios.bin") {
			t.Errorf("Resolve(%s) = %s", ref, p)
		}
	}

	if _, _, err := r.Resolve(ctx, "missing.bin"); err == nil {
		t.Error("expected error for missing artifact")
	}
	if _, _, err := r.Resolve(ctx, dir); err == nil {
		t.Error("expected error for directory")
	}
}

func TestS3Resolver(t *testing.T) {
	getter := &fakeGetter{objects: map[string][]byte{"firmware/dell/bmc.bin": []byte("bmc-image")}}
	r := NewS3ResolverWithClient(getter, t.TempDir(), zerolog.Nop())
	ctx := context.Background()

	p, cleanup, err := r.Resolve(ctx, "s3://firmware/dell/bmc.bin")
	if err != nil {
		t.Fatalf("Resolve() error = %v", err)
	}
	data, err := os.ReadFile(p)
	if err != nil || string(data) != "bmc-image" {
		t.Fatalf("downloaded content = %q, %v", data, err)
	}
	if filepath.Base(p) != "bmc.bin" {
		t.Errorf("path = %s", p)
	}

	cleanup()
	if _, err := os.Stat(p); !os.IsNotExist(err) {
		t.Errorf("cleanup left %s behind", p)
	}

	if _, _, err := r.Resolve(ctx, "s3://firmware/missing.bin"); err == nil {
		t.Error("expected error for missing object")
	}
}

func TestResolverDispatch(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "nic.bin"), []byte("nic"), 0o644); err != nil {
		t.Fatal(err)
	}
	getter := &fakeGetter{objects: map[string][]byte{"fw/nic.bin": []byte("nic")}}
	ctx := context.Background()

	r := &Resolver{Local: &LocalResolver{BaseDir: dir}, S3: NewS3ResolverWithClient(getter, t.TempDir(), zerolog.Nop())}
	if _, cleanup, err := r.Resolve(ctx, "nic.bin"); err != nil {
		t.Errorf("local Resolve() error = %v", err)
	} else {
		cleanup()
	}
	_, cleanup, err := r.Resolve(ctx, "s3://fw/nic.bin")
	if err != nil {
		t.Errorf("s3 Resolve() error = %v", err)
	} else {
		cleanup()
	}
	if getter.calls != 1 {
		t.Errorf("s3 calls = %d, want 1", getter.calls)
	}

	bare := &Resolver{}
	if _, _, err := bare.Resolve(ctx, "s3://fw/nic.bin"); err == nil {
		t.Error("expected error without an object store")
	}
}

func TestNewS3Resolver(t *testing.T) {
	if _, err := NewS3Resolver(S3Config{}, zerolog.Nop()); err == nil {
		t.Error("expected error without endpoint")
	}
	r, err := NewS3Resolver(S3Config{Endpoint: "localhost:9000", AccessKeyID: "k", SecretAccessKey: "s"}, zerolog.Nop())
	if err != nil || r == nil {
		t.Errorf("NewS3Resolver() = %v, %v", r, err)
	}
}
