package shell

import (
	"bytes"
	"context"
	"errors"
	"image/color"
	"io"
	"strings"
	"testing"

	"github.com/disintegration/imaging"
	fcolor "github.com/fatih/color"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/imagevault/service/internal/gallery"
	"github.com/imagevault/service/internal/logging"
	"github.com/imagevault/service/internal/staging"
)

func init() {
	fcolor.NoColor = true
}

type fakeAPI struct {
	uploaded []string
	listed   []string
	bodies   map[string]string
	reject   map[string]bool
}

func (f *fakeAPI) Upload(_ context.Context, name string, body io.Reader) (string, error) {
	if f.reject[name] {
		return "", errors.New("api: status 415: Unsupported image format")
	}
	_, _ = io.ReadAll(body)
	f.uploaded = append(f.uploaded, name)
	return "https://cdn.test/my-images/" + name, nil
}

func (f *fakeAPI) ListImages(context.Context) ([]string, error) { return f.listed, nil }

func (f *fakeAPI) Fetch(_ context.Context, u string) (io.ReadCloser, error) {
	b, ok := f.bodies[u]
	if !ok {
		return nil, errors.New("api: status 404")
	}
	return io.NopCloser(strings.NewReader(b)), nil
}

type memClipboard struct{ text string }

func (c *memClipboard) WriteAll(text string) error {
	c.text = text
	return nil
}

type fixture struct {
	session *Session
	manager *staging.Manager
	gallery *gallery.Gallery
	api     *fakeAPI
	fs      afero.Fs
	clip    *memClipboard
	out     *bytes.Buffer
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	fs := afero.NewMemMapFs()
	img := imaging.New(40, 30, color.NRGBA{G: 255, A: 255})
	var buf bytes.Buffer
	require.NoError(t, imaging.Encode(&buf, img, imaging.PNG))
	require.NoError(t, afero.WriteFile(fs, "/pics/photo.png", buf.Bytes(), 0o644))
	require.NoError(t, afero.WriteFile(fs, "/pics/cat.png", buf.Bytes(), 0o644))
	require.NoError(t, afero.WriteFile(fs, "/pics/notes.txt", []byte("hello"), 0o644))

	api := &fakeAPI{bodies: map[string]string{}}
	clip := &memClipboard{}
	log := logging.Discard()
	g := gallery.New(api, gallery.WithFs(fs), gallery.WithClipboard(clip), gallery.WithLogger(log))
	m := staging.NewManager(api, g, staging.WithLogger(log))
	out := &bytes.Buffer{}

	return &fixture{
		session: NewSession(m, g, out, WithFs(fs), WithDownloadDir("/downloads")),
		manager: m,
		gallery: g,
		api:     api,
		fs:      fs,
		clip:    clip,
		out:     out,
	}
}

func (f *fixture) exec(t *testing.T, line string) error {
	t.Helper()
	_, err := f.session.Exec(context.Background(), line)
	return err
}

func TestSession_AddRenameCommit(t *testing.T) {
	f := newFixture(t)

	require.NoError(t, f.exec(t, "add /pics/photo.png /pics/cat.png"))
	require.NoError(t, f.exec(t, "rename 1 vacation"))
	require.NoError(t, f.exec(t, "ls"))
	assert.Contains(t, f.out.String(), "vacation.png")
	assert.Contains(t, f.out.String(), "preview")

	require.NoError(t, f.exec(t, "commit"))
	assert.Equal(t, []string{"vacation.png", "cat.png"}, f.api.uploaded)
	assert.Contains(t, f.out.String(), "2 uploaded")
	assert.Zero(t, f.manager.Len())

	images := f.gallery.Images()
	require.Len(t, images, 2)
	assert.Equal(t, "vacation.png", images[0].Name)
	assert.Equal(t, "cat.png", images[1].Name)
}

func TestSession_AddGlobAndInvalid(t *testing.T) {
	f := newFixture(t)

	err := f.exec(t, "add /pics/*")
	require.ErrorIs(t, err, staging.ErrInvalidFile, "notes.txt has no preview")
	assert.Equal(t, 3, f.manager.Len())
	assert.Contains(t, f.out.String(), "error: ")

	err = f.exec(t, "add /pics/missing.png")
	assert.ErrorIs(t, err, staging.ErrInvalidFile)
	assert.Equal(t, 3, f.manager.Len())
}

func TestSession_CommitFailureKeepsStaged(t *testing.T) {
	f := newFixture(t)
	f.api.reject = map[string]bool{"photo.png": true}

	require.NoError(t, f.exec(t, "add /pics/photo.png /pics/cat.png"))
	err := f.exec(t, "commit")
	require.Error(t, err)

	assert.Contains(t, f.out.String(), "Unsupported image format")
	assert.Contains(t, f.out.String(), "still staged")
	assert.Equal(t, 2, f.manager.Len())
	assert.Zero(t, f.gallery.Len())
}

func TestSession_RemoveAndClear(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.exec(t, "add /pics/photo.png /pics/cat.png"))

	require.NoError(t, f.exec(t, "rm 1"))
	files := f.manager.Files()
	require.Len(t, files, 1)
	assert.Equal(t, "cat", files[0].DisplayName)

	assert.ErrorIs(t, f.exec(t, "rm 5"), staging.ErrIndexOutOfRange)
	require.NoError(t, f.exec(t, "clear"))
	assert.Zero(t, f.manager.Len())

	assert.ErrorIs(t, f.exec(t, "commit"), staging.ErrNothingStaged)
}

func TestSession_GalleryActions(t *testing.T) {
	f := newFixture(t)
	f.api.listed = []string{"https://cdn.test/my-images/old.png"}
	f.api.bodies["https://cdn.test/my-images/old.png"] = "old-bytes"

	require.NoError(t, f.exec(t, "refresh"))
	assert.Contains(t, f.out.String(), "old.png")

	require.NoError(t, f.exec(t, "copy 1"))
	assert.Equal(t, "https://cdn.test/my-images/old.png", f.clip.text)
	assert.Contains(t, f.out.String(), "Copied!")

	require.NoError(t, f.exec(t, "download 1"))
	got, err := afero.ReadFile(f.fs, "/downloads/old.png")
	require.NoError(t, err)
	assert.Equal(t, "old-bytes", string(got))

	require.NoError(t, f.exec(t, "download 1 /elsewhere"))
	exists, _ := afero.Exists(f.fs, "/elsewhere/old.png")
	assert.True(t, exists)

	assert.ErrorIs(t, f.exec(t, "copy 2"), gallery.ErrIndexOutOfRange)
}

func TestSession_DownloadFailureShown(t *testing.T) {
	f := newFixture(t)
	f.gallery.Prepend("https://cdn.test/my-images/gone.png")

	err := f.exec(t, "download 1")
	require.Error(t, err)
	assert.Contains(t, f.out.String(), "error: ")
	assert.Contains(t, f.out.String(), "gone.png")
}

func TestSession_Usage(t *testing.T) {
	f := newFixture(t)

	assert.ErrorIs(t, f.exec(t, "rename 1"), ErrUsage)
	assert.ErrorIs(t, f.exec(t, "rm x"), ErrUsage)
	assert.ErrorIs(t, f.exec(t, "add"), ErrUsage)
	assert.ErrorIs(t, f.exec(t, "download"), ErrUsage)
	assert.Error(t, f.exec(t, "frobnicate"))
	assert.NoError(t, f.exec(t, ""))

	require.NoError(t, f.exec(t, "help"))
	assert.Contains(t, f.out.String(), "rename N NAME")

	quit, err := f.session.Exec(context.Background(), "exit")
	require.NoError(t, err)
	assert.True(t, quit)
}

func TestSession_EmptyListings(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.exec(t, "ls"))
	require.NoError(t, f.exec(t, "images"))
	assert.Contains(t, f.out.String(), "nothing staged")
	assert.Contains(t, f.out.String(), "gallery is empty")
}

func TestCompleter(t *testing.T) {
	assert.Len(t, Completer().GetChildren(), 12)
}
