package hoststate

import (
	"bytes"
	"errors"
	"io"

	"gopkg.in/yaml.v3"

	"github.com/keithlinneman/aem-healthcheck/internal/xerrors"
)

// maxDocumentBytes bounds a snapshot document read from any source.
const maxDocumentBytes = 32 << 20

// Decode parses a YAML or JSON snapshot document and validates it. Unknown
// fields are rejected so exporter typos surface instead of reading as zero.
func Decode(data []byte) (*Snapshot, error) {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)

	var snap Snapshot
	if err := dec.Decode(&snap); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, xerrors.Wrap(ErrInvalidSnapshot, "empty document")
		}
		return nil, xerrors.Wrap(err, "decode snapshot")
	}
	if err := Validate(&snap); err != nil {
		return nil, err
	}
	return &snap, nil
}

// readLimited reads r fully, failing if it exceeds maxDocumentBytes.
func readLimited(r io.Reader) ([]byte, error) {
	data, err := io.ReadAll(io.LimitReader(r, maxDocumentBytes+1))
	if err != nil {
		return nil, xerrors.EnsureTrace(err)
	}
	if len(data) > maxDocumentBytes {
		return nil, xerrors.Newf("document exceeds %d bytes", maxDocumentBytes)
	}
	return data, nil
}
