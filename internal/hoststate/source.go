package hoststate

import (
	"context"
	"os"

	"github.com/keithlinneman/aem-healthcheck/internal/xerrors"
)

// Source produces snapshots. Version must be cheap relative to Load; the
// watcher calls it every poll and only loads when it changes.
type Source interface {
	Kind() SourceKind
	Version(ctx context.Context) (string, error)
	Load(ctx context.Context) (*Snapshot, error)
}

// FileSource reads a snapshot document from the local filesystem. When
// Verifier is set, a detached signature is read from SignaturePath, which
// defaults to Path+".sig".
type FileSource struct {
	Path          string
	SignaturePath string
	Verifier      Verifier
}

func (f *FileSource) Kind() SourceKind { return SourceFile }

// Version is the SHA-256 of the file contents.
func (f *FileSource) Version(context.Context) (string, error) {
	data, err := f.read()
	if err != nil {
		return "", err
	}
	return sha256Hex(data), nil
}

func (f *FileSource) Load(ctx context.Context) (*Snapshot, error) {
	data, err := f.read()
	if err != nil {
		return nil, err
	}

	verified := false
	if f.Verifier != nil {
		sigPath := f.SignaturePath
		if sigPath == "" {
			sigPath = f.Path + ".sig"
		}
		sig, err := os.ReadFile(sigPath)
		if err != nil {
			return nil, xerrors.Wrapf(err, "read signature %s", sigPath)
		}
		if err := f.Verifier.VerifySignature(ctx, data, sig); err != nil {
			return nil, xerrors.Wrapf(err, "verify %s", f.Path)
		}
		verified = true
	}

	snap, err := Decode(data)
	if err != nil {
		return nil, xerrors.Wrapf(err, "load %s", f.Path)
	}
	sum := sha256Hex(data)
	snap.Meta = Meta{
		Source:   SourceFile,
		Location: f.Path,
		Version:  sum,
		SHA256:   sum,
		Verified: verified,
	}
	return snap, nil
}

func (f *FileSource) read() ([]byte, error) {
	fh, err := os.Open(f.Path)
	if err != nil {
		return nil, xerrors.Wrapf(err, "open snapshot %s", f.Path)
	}
	defer fh.Close()
	data, err := readLimited(fh)
	if err != nil {
		return nil, xerrors.Wrapf(err, "read snapshot %s", f.Path)
	}
	return data, nil
}
