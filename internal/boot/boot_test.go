package boot

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"spectverify/internal/logging"
	"spectverify/internal/ops"
	"spectverify/internal/protocol"
	"spectverify/internal/refcrypto"
	"spectverify/internal/seed"
	"spectverify/internal/sim"
)

func newGate(t *testing.T) *Gate {
	t.Helper()
	dev, err := sim.New(sim.Options{Logger: logging.Discard().Logger})
	require.NoError(t, err)
	t.Cleanup(func() { _ = dev.Close() })
	g := NewGate(protocol.NewSession(dev, ops.MustDefault(), logging.Discard().Logger), DefaultConstants())
	g.Logger = logging.Discard().Logger
	return g
}

type signedImage struct {
	image, sig, pub []byte
}

func sign(t *testing.T, image []byte) signedImage {
	t.Helper()
	sig, pub, err := refcrypto.Ed25519SignStandard(bytes.Repeat([]byte{0x0B}, 32), refcrypto.SHA512(image))
	require.NoError(t, err)
	return signedImage{image, sig, pub}
}

func TestDigestMatchesOneShot(t *testing.T) {
	g := newGate(t)
	rng := seed.NewStream(make([]byte, seed.Size), "digest")
	for _, n := range []int{0, 1, 111, 112, 127, 128, 255, 1024} {
		image := rng.Bytes(n)
		d, err := g.Digest(context.Background(), image)
		require.NoError(t, err, "len %d", n)
		assert.Equal(t, refcrypto.SHA512(image), d)
	}
}

func TestCheckAccepts(t *testing.T) {
	g := newGate(t)
	s := sign(t, seed.NewStream(make([]byte, seed.Size), "valid").Bytes(700))
	d, err := g.Check(context.Background(), s.image, s.sig, s.pub)
	require.NoError(t, err)
	assert.Equal(t, Accept, d)
}

func TestCheckRejectsMutations(t *testing.T) {
	g := newGate(t)
	s := sign(t, seed.NewStream(make([]byte, seed.Size), "mutate").Bytes(300))

	appended := append(append([]byte(nil), s.image...), 0xAA)
	d, err := g.Check(context.Background(), appended, s.sig, s.pub)
	require.NoError(t, err)
	assert.Equal(t, Reject, d)

	for _, i := range []int{0, 150, 299} {
		flipped := append([]byte(nil), s.image...)
		flipped[i] ^= 0x01
		d, err := g.Check(context.Background(), flipped, s.sig, s.pub)
		require.NoError(t, err)
		assert.Equal(t, Reject, d, "flip at %d", i)
	}
}

func TestWrongConstantsReject(t *testing.T) {
	g := newGate(t)
	s := sign(t, []byte("image"))
	g.Constants = append(Constants(nil), DefaultConstants()...)
	g.Constants[3] ^= 1
	d, err := g.Check(context.Background(), s.image, s.sig, s.pub)
	require.NoError(t, err)
	assert.Equal(t, Reject, d)
}

func TestLoadConstants(t *testing.T) {
	c, err := LoadConstants("")
	require.NoError(t, err)
	assert.Equal(t, DefaultConstants(), c)

	dir := t.TempDir()
	path := filepath.Join(dir, "consts.hex")
	require.NoError(t, os.WriteFile(path, []byte("# table\n0xFFFFFFED\n\n7fffffff\n"), 0o600))
	c, err = LoadConstants(path)
	require.NoError(t, err)
	assert.Equal(t, Constants{0xFFFFFFED, 0x7FFFFFFF}, c)

	require.NoError(t, os.WriteFile(path, []byte("nothex\n"), 0o600))
	_, err = LoadConstants(path)
	assert.ErrorIs(t, err, ErrConstants)

	require.NoError(t, os.WriteFile(path, []byte("# only comments\n"), 0o600))
	_, err = LoadConstants(path)
	assert.ErrorIs(t, err, ErrConstants)

	_, err = LoadConstants(filepath.Join(dir, "missing"))
	assert.Error(t, err)
}
