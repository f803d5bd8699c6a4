package hoststate

import (
	"context"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/keithlinneman/aem-healthcheck/internal/log"
	"github.com/keithlinneman/aem-healthcheck/internal/xerrors"
)

// S3API is the subset of the S3 client S3Source uses.
type S3API interface {
	HeadObject(ctx context.Context, params *s3.HeadObjectInput, optFns ...func(*s3.Options)) (*s3.HeadObjectOutput, error)
	GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
}

type S3Options struct {
	Logger log.Logger
	Client S3API

	Bucket string
	Key    string

	// SignatureKey defaults to Key+".sig". Only read when Verifier is set.
	SignatureKey string
	Verifier     Verifier
}

// S3Source loads a snapshot document from an S3 object. The object ETag is
// the version, so polling costs one HeadObject.
type S3Source struct {
	opts   S3Options
	logger log.Logger
}

func NewS3Source(opts S3Options) (*S3Source, error) {
	if opts.Client == nil {
		return nil, xerrors.New("s3 client is required")
	}
	if opts.Bucket == "" {
		return nil, xerrors.New("s3 bucket is required")
	}
	if opts.Key == "" {
		return nil, xerrors.New("s3 key is required")
	}
	if opts.SignatureKey == "" {
		opts.SignatureKey = opts.Key + ".sig"
	}
	if opts.Logger == nil {
		opts.Logger = log.Nop()
	}
	return &S3Source{opts: opts, logger: opts.Logger}, nil
}

func (s *S3Source) Kind() SourceKind { return SourceS3 }

func (s *S3Source) location() string {
	return "s3://" + s.opts.Bucket + "/" + s.opts.Key
}

func (s *S3Source) Version(ctx context.Context) (string, error) {
	out, err := s.opts.Client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(s.opts.Bucket),
		Key:    aws.String(s.opts.Key),
	})
	if err != nil {
		return "", xerrors.Wrapf(err, "head %s", s.location())
	}
	etag := normalizeETag(aws.ToString(out.ETag))
	if etag == "" {
		return "", xerrors.Newf("%s has no ETag", s.location())
	}
	return etag, nil
}

func (s *S3Source) Load(ctx context.Context) (*Snapshot, error) {
	data, etag, err := s.get(ctx, s.opts.Key)
	if err != nil {
		return nil, err
	}

	verified := false
	if s.opts.Verifier != nil {
		sig, _, err := s.get(ctx, s.opts.SignatureKey)
		if err != nil {
			return nil, xerrors.Wrap(err, "fetch signature")
		}
		if err := s.opts.Verifier.VerifySignature(ctx, data, sig); err != nil {
			return nil, xerrors.Wrapf(err, "verify %s", s.location())
		}
		verified = true
	}

	snap, err := Decode(data)
	if err != nil {
		return nil, xerrors.Wrapf(err, "load %s", s.location())
	}
	snap.Meta = Meta{
		Source:   SourceS3,
		Location: s.location(),
		Version:  etag,
		SHA256:   sha256Hex(data),
		Verified: verified,
	}

	s.logger.Info(ctx, "loaded host state snapshot",
		"location", snap.Meta.Location,
		"etag", etag,
		"bytes", len(data),
		"verified", verified,
		"bundles", len(snap.Bundles),
		"agents", len(snap.Agents),
	)
	return snap, nil
}

func (s *S3Source) get(ctx context.Context, key string) ([]byte, string, error) {
	out, err := s.opts.Client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.opts.Bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return nil, "", xerrors.Wrapf(err, "get s3://%s/%s", s.opts.Bucket, key)
	}
	defer out.Body.Close()

	data, err := readLimited(out.Body)
	if err != nil {
		return nil, "", xerrors.Wrapf(err, "read s3://%s/%s", s.opts.Bucket, key)
	}
	return data, normalizeETag(aws.ToString(out.ETag)), nil
}

func normalizeETag(etag string) string {
	return strings.Trim(strings.TrimSpace(etag), `"`)
}
