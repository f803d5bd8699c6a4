package hoststate

import (
	"bytes"
	"context"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"errors"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

const minimalDoc = "bundles:\n  - {id: 1, symbolic_name: a, state: 32}\n"

// fakeS3 serves objects from memory with the sha256 of the body as ETag.
type fakeS3 struct {
	objects map[string][]byte
	headErr error
	heads   int
	gets    int
}

func newFakeS3() *fakeS3 { return &fakeS3{objects: map[string][]byte{}} }

func (f *fakeS3) HeadObject(_ context.Context, in *s3.HeadObjectInput, _ ...func(*s3.Options)) (*s3.HeadObjectOutput, error) {
	f.heads++
	if f.headErr != nil {
		return nil, f.headErr
	}
	data, ok := f.objects[aws.ToString(in.Key)]
	if !ok {
		return nil, errors.New("NotFound")
	}
	return &s3.HeadObjectOutput{ETag: aws.String(`"` + sha256Hex(data)[:16] + `"`)}, nil
}

func (f *fakeS3) GetObject(_ context.Context, in *s3.GetObjectInput, _ ...func(*s3.Options)) (*s3.GetObjectOutput, error) {
	f.gets++
	data, ok := f.objects[aws.ToString(in.Key)]
	if !ok {
		return nil, errors.New("NoSuchKey")
	}
	return &s3.GetObjectOutput{
		Body: io.NopCloser(bytes.NewReader(data)),
		ETag: aws.String(`"` + sha256Hex(data)[:16] + `"`),
	}, nil
}

func TestFileSource_LoadAndVersion(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.yaml")
	if err := os.WriteFile(path, []byte(minimalDoc), 0o600); err != nil {
		t.Fatal(err)
	}
	src := &FileSource{Path: path}

	v1, err := src.Version(context.Background())
	if err != nil {
		t.Fatalf("Version: %v", err)
	}
	snap, err := src.Load(context.Background())
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if snap.Meta.Version != v1 || snap.Meta.Source != SourceFile || snap.Meta.Location != path {
		t.Fatalf("meta = %+v", snap.Meta)
	}

	if err := os.WriteFile(path, []byte(minimalDoc+"agents: []\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	v2, _ := src.Version(context.Background())
	if v1 == v2 {
		t.Fatal("version should change with content")
	}
}

func TestFileSource_Missing(t *testing.T) {
	src := &FileSource{Path: filepath.Join(t.TempDir(), "nope.yaml")}
	if _, err := src.Version(context.Background()); err == nil {
		t.Fatal("expected error for missing file")
	}
}

func TestFileSource_Signature(t *testing.T) {
	key, _ := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	dir := t.TempDir()
	path := filepath.Join(dir, "state.yaml")
	os.WriteFile(path, []byte(minimalDoc), 0o600)

	v := NewKMSVerifier(newFakeKMS(t, &key.PublicKey), "k")
	src := &FileSource{Path: path, Verifier: v}

	if _, err := src.Load(context.Background()); err == nil {
		t.Fatal("missing signature file should fail")
	}

	os.WriteFile(path+".sig", signECDSA(t, key, []byte(minimalDoc)), 0o600)
	snap, err := src.Load(context.Background())
	if err != nil {
		t.Fatalf("signed load: %v", err)
	}
	if !snap.Meta.Verified {
		t.Fatal("Verified should be set")
	}

	os.WriteFile(path, []byte(minimalDoc+"agents: []\n"), 0o600)
	if _, err := src.Load(context.Background()); !errors.Is(err, ErrBadSignature) {
		t.Fatalf("tampered file err = %v", err)
	}
}

func TestNewS3Source_Validation(t *testing.T) {
	tests := []struct {
		name string
		opts S3Options
	}{
		{"no client", S3Options{Bucket: "b", Key: "k"}},
		{"no bucket", S3Options{Client: newFakeS3(), Key: "k"}},
		{"no key", S3Options{Client: newFakeS3(), Bucket: "b"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := NewS3Source(tt.opts); err == nil {
				t.Fatal("expected error")
			}
		})
	}
}

func TestS3Source_LoadAndVersion(t *testing.T) {
	fs := newFakeS3()
	fs.objects["aem/state.yaml"] = []byte(minimalDoc)
	src, err := NewS3Source(S3Options{Client: fs, Bucket: "hc", Key: "aem/state.yaml"})
	if err != nil {
		t.Fatal(err)
	}

	version, err := src.Version(context.Background())
	if err != nil {
		t.Fatalf("Version: %v", err)
	}
	if version == "" || version[0] == '"' {
		t.Fatalf("version = %q, want unquoted ETag", version)
	}

	snap, err := src.Load(context.Background())
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if snap.Meta.Version != version || snap.Meta.Location != "s3://hc/aem/state.yaml" {
		t.Fatalf("meta = %+v", snap.Meta)
	}
	if snap.Meta.Verified {
		t.Fatal("unsigned load must not be marked verified")
	}
}

func TestS3Source_Signature(t *testing.T) {
	key, _ := ecdsa.GenerateKey(elliptic.P384(), rand.Reader)
	fs := newFakeS3()
	fs.objects["state.json"] = []byte(minimalDoc)
	fs.objects["state.json.sig"] = signECDSA(t, key, []byte(minimalDoc))

	src, _ := NewS3Source(S3Options{
		Client:   fs,
		Bucket:   "hc",
		Key:      "state.json",
		Verifier: NewKMSVerifier(newFakeKMS(t, &key.PublicKey), "k"),
	})
	snap, err := src.Load(context.Background())
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if !snap.Meta.Verified {
		t.Fatal("expected verified snapshot")
	}

	fs.objects["state.json.sig"] = []byte("garbage")
	if _, err := src.Load(context.Background()); !errors.Is(err, ErrBadSignature) {
		t.Fatalf("bad signature err = %v", err)
	}
}
