/*
Package keys loads and holds the hub identity: an Ed25519 key pair named by
a key id, plus an optional pre-published next pair for rotation. Key
material is kept behind an immutable snapshot; rotation (or a SIGHUP
reload) publishes a new snapshot and signers pick it up on the next sign.
*/
package keys

import (
	"crypto/ed25519"
	"crypto/sha256"
	"crypto/x509"
	"encoding/hex"
	"encoding/json"
	"encoding/pem"
	"errors"
	"fmt"
	"os"
)

// KeyPair is one named Ed25519 key pair. Private is nil for pairs the file
// publishes without private material (the usual case for next).
type KeyPair struct {
	Kid          string
	PublicKeyPEM string
	Public       ed25519.PublicKey
	Private      ed25519.PrivateKey
}

// Fingerprint returns the hex SHA-256 of the public key PEM exactly as it
// appears in the keys file.
func (k KeyPair) Fingerprint() string {
	sum := sha256.Sum256([]byte(k.PublicKeyPEM))
	return hex.EncodeToString(sum[:])
}

// HubKeys is one immutable snapshot of the hub key material.
type HubKeys struct {
	HubID   string
	Current KeyPair
	Next    *KeyPair
}

// PublicKey is the public view of one key pair as served by the API.
type PublicKey struct {
	Kid          string `json:"kid"`
	PublicKeyPem string `json:"publicKeyPem"`
	Fingerprint  string `json:"fingerprint"`
}

// PublicView is the API representation of the hub keys: no private
// material, fingerprints included.
type PublicView struct {
	HubID   string     `json:"hubId"`
	Current PublicKey  `json:"current"`
	Next    *PublicKey `json:"next,omitempty"`
}

// PublicView strips private material from the snapshot.
func (h *HubKeys) PublicView() PublicView {
	v := PublicView{
		HubID: h.HubID,
		Current: PublicKey{
			Kid:          h.Current.Kid,
			PublicKeyPem: h.Current.PublicKeyPEM,
			Fingerprint:  h.Current.Fingerprint(),
		},
	}
	if h.Next != nil {
		v.Next = &PublicKey{
			Kid:          h.Next.Kid,
			PublicKeyPem: h.Next.PublicKeyPEM,
			Fingerprint:  h.Next.Fingerprint(),
		}
	}
	return v
}

type filePair struct {
	Kid           string `json:"kid"`
	PublicKeyPem  string `json:"publicKeyPem"`
	PrivateKeyPem string `json:"privateKeyPem,omitempty"`
}

type fileFormat struct {
	HubID   string    `json:"hubId"`
	Current filePair  `json:"current"`
	Next    *filePair `json:"next,omitempty"`
}

// Load reads and parses a hub keys file.
func Load(path string) (*HubKeys, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read keys file: %w", err)
	}
	return Parse(data)
}

// Parse decodes the hub keys file format: JSON with PKIX public and PKCS#8
// private Ed25519 keys in PEM. The current pair must carry a matching
// private key; next may omit it.
func Parse(data []byte) (*HubKeys, error) {
	var ff fileFormat
	if err := json.Unmarshal(data, &ff); err != nil {
		return nil, fmt.Errorf("invalid keys file: %w", err)
	}
	if ff.HubID == "" {
		return nil, errors.New("invalid keys file: empty hubId")
	}
	cur, err := parsePair(ff.Current, true)
	if err != nil {
		return nil, fmt.Errorf("current key: %w", err)
	}
	hk := &HubKeys{HubID: ff.HubID, Current: cur}
	if ff.Next != nil {
		next, err := parsePair(*ff.Next, false)
		if err != nil {
			return nil, fmt.Errorf("next key: %w", err)
		}
		if next.Kid == cur.Kid {
			return nil, fmt.Errorf("next key id %q duplicates the current one", next.Kid)
		}
		hk.Next = &next
	}
	return hk, nil
}

func parsePair(fp filePair, requirePrivate bool) (KeyPair, error) {
	if fp.Kid == "" {
		return KeyPair{}, errors.New("empty kid")
	}
	pub, err := parsePublicPEM(fp.PublicKeyPem)
	if err != nil {
		return KeyPair{}, err
	}
	kp := KeyPair{Kid: fp.Kid, PublicKeyPEM: fp.PublicKeyPem, Public: pub}
	if fp.PrivateKeyPem == "" {
		if requirePrivate {
			return KeyPair{}, errors.New("missing private key")
		}
		return kp, nil
	}
	priv, err := parsePrivatePEM(fp.PrivateKeyPem)
	if err != nil {
		return KeyPair{}, err
	}
	if !pub.Equal(priv.Public().(ed25519.PublicKey)) {
		return KeyPair{}, errors.New("private key does not match the public key")
	}
	kp.Private = priv
	return kp, nil
}

func parsePublicPEM(s string) (ed25519.PublicKey, error) {
	block, _ := pem.Decode([]byte(s))
	if block == nil || block.Type != "PUBLIC KEY" {
		return nil, errors.New("not a PEM public key")
	}
	key, err := x509.ParsePKIXPublicKey(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("failed to parse public key: %w", err)
	}
	pub, ok := key.(ed25519.PublicKey)
	if !ok {
		return nil, fmt.Errorf("unexpected public key type %T, want Ed25519", key)
	}
	return pub, nil
}

func parsePrivatePEM(s string) (ed25519.PrivateKey, error) {
	block, _ := pem.Decode([]byte(s))
	if block == nil || block.Type != "PRIVATE KEY" {
		return nil, errors.New("not a PEM private key")
	}
	key, err := x509.ParsePKCS8PrivateKey(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("failed to parse private key: %w", err)
	}
	priv, ok := key.(ed25519.PrivateKey)
	if !ok {
		return nil, fmt.Errorf("unexpected private key type %T, want Ed25519", key)
	}
	return priv, nil
}

// Generate creates a fresh Ed25519 hub keys file body with the given hub
// and key ids. It is used by the keys bootstrap command.
func Generate(hubID, kid string) ([]byte, error) {
	if hubID == "" || kid == "" {
		return nil, errors.New("hub id and key id must not be empty")
	}
	pub, priv, err := ed25519.GenerateKey(nil)
	if err != nil {
		return nil, err
	}
	pubPEM, err := EncodePublicPEM(pub)
	if err != nil {
		return nil, err
	}
	privDER, err := x509.MarshalPKCS8PrivateKey(priv)
	if err != nil {
		return nil, fmt.Errorf("failed to encode private key: %w", err)
	}
	privPEM := string(pem.EncodeToMemory(&pem.Block{Type: "PRIVATE KEY", Bytes: privDER}))
	return json.MarshalIndent(fileFormat{
		HubID: hubID,
		Current: filePair{
			Kid:           kid,
			PublicKeyPem:  pubPEM,
			PrivateKeyPem: privPEM,
		},
	}, "", "  ")
}

// EncodePublicPEM renders an Ed25519 public key as a PKIX PEM block.
func EncodePublicPEM(pub ed25519.PublicKey) (string, error) {
	der, err := x509.MarshalPKIXPublicKey(pub)
	if err != nil {
		return "", fmt.Errorf("failed to encode public key: %w", err)
	}
	return string(pem.EncodeToMemory(&pem.Block{Type: "PUBLIC KEY", Bytes: der})), nil
}
