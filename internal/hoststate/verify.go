package hoststate

import (
	"context"
	"crypto"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rsa"
	"crypto/sha256"
	"crypto/sha512"
	"crypto/x509"
	"encoding/hex"
	"sync"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/kms"
	kmstypes "github.com/aws/aws-sdk-go-v2/service/kms/types"

	"github.com/keithlinneman/aem-healthcheck/internal/xerrors"
)

// Verifier checks a detached signature over a snapshot document.
type Verifier interface {
	VerifySignature(ctx context.Context, message, signature []byte) error
}

// KMSPublicKeyAPI is the subset of the KMS client the verifier needs.
type KMSPublicKeyAPI interface {
	GetPublicKey(ctx context.Context, params *kms.GetPublicKeyInput, optFns ...func(*kms.Options)) (*kms.GetPublicKeyOutput, error)
}

// KMSVerifier verifies signatures made with an asymmetric KMS signing key.
// The public key is fetched once and verification happens locally, so a
// poll costs no KMS calls after the first.
type KMSVerifier struct {
	client KMSPublicKeyAPI
	keyID  string

	mu  sync.Mutex
	pub crypto.PublicKey
}

func NewKMSVerifier(client KMSPublicKeyAPI, keyID string) *KMSVerifier {
	return &KMSVerifier{client: client, keyID: keyID}
}

func (v *KMSVerifier) publicKey(ctx context.Context) (crypto.PublicKey, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.pub != nil {
		return v.pub, nil
	}
	if v.client == nil {
		return nil, xerrors.New("kms client is not configured")
	}

	out, err := v.client.GetPublicKey(ctx, &kms.GetPublicKeyInput{KeyId: aws.String(v.keyID)})
	if err != nil {
		return nil, xerrors.Wrapf(err, "kms get public key %s", v.keyID)
	}
	if out.KeyUsage != kmstypes.KeyUsageTypeSignVerify {
		return nil, xerrors.Newf("kms key %s has KeyUsage=%s, expected SIGN_VERIFY", v.keyID, out.KeyUsage)
	}
	pub, err := x509.ParsePKIXPublicKey(out.PublicKey)
	if err != nil {
		return nil, xerrors.Wrap(err, "parse kms public key")
	}
	v.pub = pub
	return pub, nil
}

// VerifySignature checks an ECDSA (P-256 with SHA-256, P-384 with SHA-384)
// or RSA-PSS (SHA-256) signature over message.
func (v *KMSVerifier) VerifySignature(ctx context.Context, message, signature []byte) error {
	pub, err := v.publicKey(ctx)
	if err != nil {
		return err
	}
	return verifyWith(pub, message, signature)
}

func verifyWith(pub crypto.PublicKey, message, signature []byte) error {
	switch key := pub.(type) {
	case *ecdsa.PublicKey:
		var digest []byte
		switch key.Curve {
		case elliptic.P256():
			d := sha256.Sum256(message)
			digest = d[:]
		case elliptic.P384():
			d := sha512.Sum384(message)
			digest = d[:]
		default:
			return xerrors.Newf("unsupported ECDSA curve %s", key.Curve.Params().Name)
		}
		if !ecdsa.VerifyASN1(key, digest, signature) {
			return xerrors.Wrapf(ErrBadSignature, "ECDSA %s", key.Curve.Params().Name)
		}
		return nil
	case *rsa.PublicKey:
		d := sha256.Sum256(message)
		if err := rsa.VerifyPSS(key, crypto.SHA256, d[:], signature, nil); err != nil {
			return xerrors.Wrapf(ErrBadSignature, "RSA-PSS: %v", err)
		}
		return nil
	default:
		return xerrors.Newf("unsupported public key type %T", pub)
	}
}

func sha256Hex(data []byte) string {
	d := sha256.Sum256(data)
	return hex.EncodeToString(d[:])
}
