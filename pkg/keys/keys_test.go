package keys

import (
	"crypto/ed25519"
	"crypto/sha256"
	"crypto/x509"
	"encoding/hex"
	"encoding/json"
	"encoding/pem"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func TestGenerateParseRoundtrip(t *testing.T) {
	data, err := Generate("hub-1", "2024-01")
	require.NoError(t, err)

	hk, err := Parse(data)
	require.NoError(t, err)
	require.Equal(t, "hub-1", hk.HubID)
	require.Equal(t, "2024-01", hk.Current.Kid)
	require.Nil(t, hk.Next)
	require.NotNil(t, hk.Current.Private)

	msg := []byte("sign me")
	sig := ed25519.Sign(hk.Current.Private, msg)
	require.True(t, ed25519.Verify(hk.Current.Public, msg, sig))

	_, err = Generate("", "kid")
	require.Error(t, err)
	_, err = Generate("hub", "")
	require.Error(t, err)
}

func TestParseValidation(t *testing.T) {
	pub, _, err := ed25519.GenerateKey(nil)
	require.NoError(t, err)
	pubPEM, err := EncodePublicPEM(pub)
	require.NoError(t, err)

	otherPub, otherPriv, err := ed25519.GenerateKey(nil)
	require.NoError(t, err)
	otherDER, err := x509.MarshalPKCS8PrivateKey(otherPriv)
	require.NoError(t, err)
	otherPrivPEM := string(pem.EncodeToMemory(&pem.Block{Type: "PRIVATE KEY", Bytes: otherDER}))
	otherPubPEM, err := EncodePublicPEM(otherPub)
	require.NoError(t, err)

	mk := func(f fileFormat) []byte {
		data, err := json.Marshal(f)
		require.NoError(t, err)
		return data
	}

	t.Run("bad JSON", func(t *testing.T) {
		_, err := Parse([]byte("{"))
		require.Error(t, err)
	})
	t.Run("empty hub id", func(t *testing.T) {
		_, err := Parse(mk(fileFormat{Current: filePair{Kid: "k", PublicKeyPem: pubPEM}}))
		require.ErrorContains(t, err, "hubId")
	})
	t.Run("missing private key", func(t *testing.T) {
		_, err := Parse(mk(fileFormat{HubID: "h", Current: filePair{Kid: "k", PublicKeyPem: pubPEM}}))
		require.ErrorContains(t, err, "missing private key")
	})
	t.Run("mismatched private key", func(t *testing.T) {
		_, err := Parse(mk(fileFormat{HubID: "h", Current: filePair{
			Kid:           "k",
			PublicKeyPem:  pubPEM,
			PrivateKeyPem: otherPrivPEM,
		}}))
		require.ErrorContains(t, err, "does not match")
	})
	t.Run("empty kid", func(t *testing.T) {
		_, err := Parse(mk(fileFormat{HubID: "h", Current: filePair{PublicKeyPem: pubPEM, PrivateKeyPem: otherPrivPEM}}))
		require.ErrorContains(t, err, "kid")
	})
	t.Run("not a public key PEM", func(t *testing.T) {
		_, err := Parse(mk(fileFormat{HubID: "h", Current: filePair{Kid: "k", PublicKeyPem: otherPrivPEM, PrivateKeyPem: otherPrivPEM}}))
		require.Error(t, err)
	})
	t.Run("next without private key", func(t *testing.T) {
		hk, err := Parse(mk(fileFormat{
			HubID:   "h",
			Current: filePair{Kid: "a", PublicKeyPem: otherPubPEM, PrivateKeyPem: otherPrivPEM},
			Next:    &filePair{Kid: "b", PublicKeyPem: pubPEM},
		}))
		require.NoError(t, err)
		require.NotNil(t, hk.Next)
		require.Equal(t, "b", hk.Next.Kid)
		require.Nil(t, hk.Next.Private)
	})
	t.Run("next duplicates current kid", func(t *testing.T) {
		_, err := Parse(mk(fileFormat{
			HubID:   "h",
			Current: filePair{Kid: "a", PublicKeyPem: otherPubPEM, PrivateKeyPem: otherPrivPEM},
			Next:    &filePair{Kid: "a", PublicKeyPem: pubPEM},
		}))
		require.ErrorContains(t, err, "duplicates")
	})
}

func TestFingerprintAndPublicView(t *testing.T) {
	data, err := Generate("hub-x", "kid-1")
	require.NoError(t, err)
	hk, err := Parse(data)
	require.NoError(t, err)

	sum := sha256.Sum256([]byte(hk.Current.PublicKeyPEM))
	require.Equal(t, hex.EncodeToString(sum[:]), hk.Current.Fingerprint())

	v := hk.PublicView()
	require.Equal(t, "hub-x", v.HubID)
	require.Equal(t, "kid-1", v.Current.Kid)
	require.Equal(t, hk.Current.PublicKeyPEM, v.Current.PublicKeyPem)
	require.Equal(t, hk.Current.Fingerprint(), v.Current.Fingerprint)
	require.Nil(t, v.Next)

	out, err := json.Marshal(v)
	require.NoError(t, err)
	require.NotContains(t, string(out), "PRIVATE")
	require.NotContains(t, string(out), "next")
}

func TestStoreReload(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "hub.keys.json")

	first, err := Generate("hub-1", "kid-1")
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(path, first, 0o600))

	st, err := NewStore(path, zaptest.NewLogger(t))
	require.NoError(t, err)
	require.Equal(t, "kid-1", st.Current().Current.Kid)
	require.Equal(t, path, st.Path())

	// Broken file keeps the previous snapshot active.
	require.NoError(t, os.WriteFile(path, []byte("nope"), 0o600))
	require.Error(t, st.Reload())
	require.Equal(t, "kid-1", st.Current().Current.Kid)

	second, err := Generate("hub-1", "kid-2")
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(path, second, 0o600))
	require.NoError(t, st.Reload())
	require.Equal(t, "kid-2", st.Current().Current.Kid)

	_, err = NewStore(filepath.Join(dir, "missing.json"), zaptest.NewLogger(t))
	require.Error(t, err)
}
