package imagedata

import (
	"bytes"
	"encoding/base64"
	"image"
	"image/color"
	"image/png"
	"testing"

	"github.com/stretchr/testify/require"
)

func tinyPNG(t *testing.T) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, 2, 2))
	img.Set(0, 0, color.RGBA{R: 255, A: 255})
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

func TestDecode_BareAndDataURI(t *testing.T) {
	raw := []byte("hello")
	b64 := base64.StdEncoding.EncodeToString(raw)

	got, err := Decode(b64)
	require.NoError(t, err)
	require.Equal(t, raw, got)

	got, err = Decode("data:image/png;base64," + b64)
	require.NoError(t, err)
	require.Equal(t, raw, got)

	_, err = Decode("data:image/png," + b64)
	require.Error(t, err)

	_, err = Decode("   ")
	require.Error(t, err)

	_, err = Decode("%%%")
	require.Error(t, err)
}

func TestDataURI_RoundTripAndMIME(t *testing.T) {
	raw := tinyPNG(t)
	uri := DataURI(raw)
	require.True(t, IsDataURI(uri))
	require.Contains(t, uri, "data:image/png;base64,")

	back, err := Decode(uri)
	require.NoError(t, err)
	require.Equal(t, raw, back)

	require.Equal(t, DefaultMIME, MIME([]byte("garbage")))
	require.False(t, IsDataURI("https://storage.googleapis.com/b/k.png"))
}

func TestValidate(t *testing.T) {
	mime, err := Validate(tinyPNG(t))
	require.NoError(t, err)
	require.Equal(t, "image/png", mime)

	_, err = Validate(nil)
	require.ErrorIs(t, err, ErrNotImage)

	_, err = Validate([]byte("not an image"))
	require.ErrorIs(t, err, ErrNotImage)
}

func TestExtension(t *testing.T) {
	require.Equal(t, ".jpg", Extension("image/jpeg"))
	require.Equal(t, ".webp", Extension("IMAGE/WEBP"))
	require.Equal(t, ".gif", Extension("image/gif"))
	require.Equal(t, ".png", Extension(""))
}
