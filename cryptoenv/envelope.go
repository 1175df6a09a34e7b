// Package cryptoenv implements the wire envelope used when the daemon
// runs in encrypted mode: "<keyname>;<ciphertext>". This authenticates the
// sender (only a holder of the matching private key can produce
// ciphertext the server can verify) — it is not confidentiality.
//
// The scheme is textbook RSA used in the signature direction: the client
// "private-encrypts" (modular-exponentiates with its private exponent d)
// and the server "public-decrypts" (modular-exponentiates with the
// matching public exponent e), the mirror image of crypto/rsa's
// EncryptPKCS1v15/DecryptPKCS1v15 (which go the other way, for
// confidentiality). The standard library does not expose this raw
// direction directly, so both operations are done with math/big against
// the same N this key pair shares, staying close to crypto/rsa's own key
// types rather than introducing a third-party crypto library. No PKCS#1
// padding is applied or checked: Encrypt right-pads the plaintext with
// zero bytes and Decrypt strips trailing zero bytes.
package cryptoenv

import (
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"fmt"
	"math/big"
	"os"
	"path/filepath"
	"strings"

	"github.com/ccqpein/supervisor-rs/kinderr"
)

const delimiter = ';'

// Split parses "<keyname>;<ciphertext>" on the first delimiter. Both
// halves must be non-empty.
func Split(envelope []byte) (keyname string, ciphertext []byte, err error) {
	idx := strings.IndexByte(string(envelope), delimiter)
	if idx < 0 {
		return "", nil, fmt.Errorf("%w: no %q delimiter", kinderr.ErrMalformedEnvelope, string(delimiter))
	}
	name := string(envelope[:idx])
	cipher := envelope[idx+1:]
	if name == "" || len(cipher) == 0 {
		return "", nil, fmt.Errorf("%w: empty keyname or ciphertext", kinderr.ErrMalformedEnvelope)
	}
	return name, cipher, nil
}

// FindPublicKey scans keysPaths in order for "<keyname>.pem" and returns
// the first match; later directories with a same-named file are never
// consulted.
func FindPublicKey(keysPaths []string, keyname string) (*rsa.PublicKey, error) {
	for _, dir := range keysPaths {
		path := filepath.Join(dir, keyname+".pem")
		data, err := os.ReadFile(path)
		if err != nil {
			continue
		}
		return parsePublicKey(data)
	}
	return nil, fmt.Errorf("%w: Cannot found '%s' file in keys path", kinderr.ErrUnknownKey, keyname)
}

func parsePublicKey(data []byte) (*rsa.PublicKey, error) {
	block, _ := pem.Decode(data)
	if block == nil {
		return nil, fmt.Errorf("%w: not a PEM block", kinderr.ErrUnknownKey)
	}
	if pub, err := x509.ParsePKCS1PublicKey(block.Bytes); err == nil {
		return pub, nil
	}
	any, err := x509.ParsePKIXPublicKey(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", kinderr.ErrUnknownKey, err)
	}
	pub, ok := any.(*rsa.PublicKey)
	if !ok {
		return nil, fmt.Errorf("%w: not an RSA public key", kinderr.ErrUnknownKey)
	}
	return pub, nil
}

// LoadPrivateKey parses a PKCS#1 or PKCS#8 private key PEM, used by the
// client to sign (private-encrypt) its command.
func LoadPrivateKey(path string) (*rsa.PrivateKey, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	block, _ := pem.Decode(data)
	if block == nil {
		return nil, fmt.Errorf("not a PEM block: %s", path)
	}
	if key, err := x509.ParsePKCS1PrivateKey(block.Bytes); err == nil {
		return key, nil
	}
	any, err := x509.ParsePKCS8PrivateKey(block.Bytes)
	if err != nil {
		return nil, err
	}
	key, ok := any.(*rsa.PrivateKey)
	if !ok {
		return nil, fmt.Errorf("not an RSA private key: %s", path)
	}
	return key, nil
}

// Decrypt recovers the plaintext command text from ciphertext under pub,
// by modular-exponentiating with the public exponent and stripping
// trailing zero padding.
func Decrypt(pub *rsa.PublicKey, ciphertext []byte) (string, error) {
	size := pub.Size()
	if len(ciphertext) != size {
		return "", fmt.Errorf("%w: ciphertext length %d != key size %d", kinderr.ErrDecryptFailed, len(ciphertext), size)
	}

	c := new(big.Int).SetBytes(ciphertext)
	e := big.NewInt(int64(pub.E))
	m := new(big.Int).Exp(c, e, pub.N)

	block := m.FillBytes(make([]byte, size))
	plain := strings.TrimRight(string(block), "\x00")
	if plain == "" {
		return "", fmt.Errorf("%w: empty plaintext after decrypt", kinderr.ErrDecryptFailed)
	}
	return plain, nil
}

// Encrypt "private-encrypts" plaintext under priv: right-pads to the key's
// byte size, then modular-exponentiates with the private exponent. The
// client uses this, prepending "<keyname>;" to the result, before sending.
func Encrypt(priv *rsa.PrivateKey, plaintext string) ([]byte, error) {
	size := priv.Size()
	if len(plaintext) >= size {
		return nil, fmt.Errorf("plaintext too long for key size %d", size)
	}

	block := make([]byte, size)
	copy(block, plaintext)

	m := new(big.Int).SetBytes(block)
	if m.Cmp(priv.N) >= 0 {
		return nil, fmt.Errorf("plaintext block exceeds modulus")
	}
	c := new(big.Int).Exp(m, priv.D, priv.N)
	return c.FillBytes(make([]byte, size)), nil
}

// Envelope builds the wire-format "<keyname>;<ciphertext>" frame.
func Envelope(keyname string, ciphertext []byte) []byte {
	out := make([]byte, 0, len(keyname)+1+len(ciphertext))
	out = append(out, keyname...)
	out = append(out, delimiter)
	out = append(out, ciphertext...)
	return out
}
