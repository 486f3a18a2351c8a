package staging

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/imagevault/service/internal/logging"
)

// countingAllocator hands out previews and counts their releases.
type countingAllocator struct {
	allocated atomic.Int32
	released  atomic.Int32
	fail      map[string]bool
	previews  []*Preview
	mu        sync.Mutex
}

func (a *countingAllocator) Allocate(src Source) (*Preview, error) {
	if a.fail[src.Name()] {
		return nil, errors.New("not an image")
	}
	a.allocated.Add(1)
	p := NewPreview([]byte("thumb:"+src.Name()), func() { a.released.Add(1) })
	a.mu.Lock()
	a.previews = append(a.previews, p)
	a.mu.Unlock()
	return p, nil
}

// fakeUploader returns a URL per name; names in fail are rejected.
type fakeUploader struct {
	mu      sync.Mutex
	calls   []string
	fail    map[string]error
	gate    chan struct{}
	entered chan struct{}
}

func (u *fakeUploader) Upload(ctx context.Context, name string, body io.Reader) (string, error) {
	if u.entered != nil {
		u.entered <- struct{}{}
	}
	if u.gate != nil {
		select {
		case <-u.gate:
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}
	_, _ = io.ReadAll(body)
	u.mu.Lock()
	u.calls = append(u.calls, name)
	u.mu.Unlock()
	if err := u.fail[name]; err != nil {
		return "", err
	}
	return "https://cdn.test/my-images/" + name, nil
}

type fakeGallery struct {
	urls []string
}

func (g *fakeGallery) Prepend(urls ...string) {
	g.urls = append(append([]string{}, urls...), g.urls...)
}

func newTestManager(u Uploader, g Committer, opts ...Option) (*Manager, *countingAllocator) {
	alloc := &countingAllocator{}
	opts = append([]Option{WithPreviewAllocator(alloc), WithLogger(logging.Discard())}, opts...)
	return NewManager(u, g, opts...), alloc
}

func sources(names ...string) []Source {
	out := make([]Source, 0, len(names))
	for _, n := range names {
		out = append(out, BytesSource(n, []byte("data-"+n)))
	}
	return out
}

func collect(seq func(func(CommitResult) bool)) []CommitResult {
	var out []CommitResult
	for r := range seq {
		out = append(out, r)
	}
	return out
}

func TestSplitName(t *testing.T) {
	tests := []struct {
		in, display, ext string
	}{
		{"photo.png", "photo", "png"},
		{"archive.tar.gz", "archive.tar", "gz"},
		{"noext", "noext", ""},
		{"trailing.", "trailing.", ""},
		{".hidden", "", "hidden"},
		{"dir.v2/file", "dir.v2/file", ""},
	}
	for _, tt := range tests {
		d, e := SplitName(tt.in)
		assert.Equal(t, tt.display, d, tt.in)
		assert.Equal(t, tt.ext, e, tt.in)
	}
}

func TestManager_Select(t *testing.T) {
	m, alloc := newTestManager(&fakeUploader{}, &fakeGallery{})

	require.NoError(t, m.Select(sources("a.png", "b.jpg")...))
	require.NoError(t, m.Select(sources("c.gif")...))
	require.NoError(t, m.Select())

	files := m.Files()
	require.Len(t, files, 3)
	assert.Equal(t, "a", files[0].DisplayName)
	assert.Equal(t, "png", files[0].Extension)
	assert.Equal(t, "b", files[1].DisplayName)
	assert.Equal(t, "c", files[2].DisplayName)
	assert.NotEqual(t, files[0].ID, files[1].ID)
	assert.EqualValues(t, 3, alloc.allocated.Load())
}

func TestManager_Select_InvalidFile(t *testing.T) {
	m, alloc := newTestManager(&fakeUploader{}, &fakeGallery{})
	alloc.fail = map[string]bool{"broken.png": true}

	err := m.Select(sources("ok.png", "broken.png")...)
	require.ErrorIs(t, err, ErrInvalidFile)
	assert.Contains(t, err.Error(), "broken.png")

	files := m.Files()
	require.Len(t, files, 2, "unreadable selections are still staged")
	assert.NotNil(t, files[0].Preview)
	assert.Nil(t, files[1].Preview)
}

func TestManager_SelectThenClearAll_ReleasesExactlyOnce(t *testing.T) {
	for n := 0; n <= 5; n++ {
		t.Run(fmt.Sprintf("n=%d", n), func(t *testing.T) {
			m, alloc := newTestManager(&fakeUploader{}, &fakeGallery{})
			for i := 0; i < n; i++ {
				require.NoError(t, m.Select(sources(fmt.Sprintf("f%d.png", i))...))
			}

			require.NoError(t, m.ClearAll())
			require.NoError(t, m.ClearAll())
			require.NoError(t, m.Close())

			assert.Zero(t, m.Len())
			assert.EqualValues(t, n, alloc.released.Load())
			for _, p := range alloc.previews {
				assert.True(t, p.Released())
				assert.False(t, p.Release(), "second release must be a no-op")
			}
			assert.EqualValues(t, n, alloc.released.Load())
		})
	}
}

func TestManager_Rename(t *testing.T) {
	m, _ := newTestManager(&fakeUploader{}, &fakeGallery{})
	require.NoError(t, m.Select(sources("photo.png")...))

	require.NoError(t, m.Rename(0, "vacation"))
	assert.Equal(t, "vacation.png", m.Files()[0].DesiredName())

	require.NoError(t, m.Rename(0, ""), "no validation is applied")
	assert.ErrorIs(t, m.Rename(1, "x"), ErrIndexOutOfRange)
	assert.ErrorIs(t, m.Rename(-1, "x"), ErrIndexOutOfRange)
}

func TestManager_Remove_PreservesOrder(t *testing.T) {
	names := []string{"a.png", "b.png", "c.png", "d.png"}
	for i := range names {
		t.Run(names[i], func(t *testing.T) {
			m, alloc := newTestManager(&fakeUploader{}, &fakeGallery{})
			require.NoError(t, m.Select(sources(names...)...))

			require.NoError(t, m.Remove(i))

			var got []string
			for _, f := range m.Files() {
				got = append(got, f.Source.Name())
			}
			want := append(append([]string{}, names[:i]...), names[i+1:]...)
			assert.Equal(t, want, got)
			assert.EqualValues(t, 1, alloc.released.Load())
			assert.True(t, alloc.previews[i].Released())
		})
	}
}

func TestManager_Remove_OutOfRange(t *testing.T) {
	m, _ := newTestManager(&fakeUploader{}, &fakeGallery{})
	assert.ErrorIs(t, m.Remove(0), ErrIndexOutOfRange)
}

func TestManager_Commit_AllSucceed(t *testing.T) {
	up := &fakeUploader{}
	g := &fakeGallery{urls: []string{"https://cdn.test/my-images/old.png"}}
	m, alloc := newTestManager(up, g)
	require.NoError(t, m.Select(sources("a.png", "b.png", "c.png")...))
	require.NoError(t, m.Rename(1, "renamed"))

	results := collect(m.Commit(context.Background()))

	require.Len(t, results, 3)
	for i, r := range results {
		assert.NoError(t, r.Err)
		assert.Equal(t, i, r.Index)
	}
	assert.Equal(t, []string{"a.png", "renamed.png", "c.png"}, up.calls)
	assert.Equal(t, []string{
		"https://cdn.test/my-images/a.png",
		"https://cdn.test/my-images/renamed.png",
		"https://cdn.test/my-images/c.png",
		"https://cdn.test/my-images/old.png",
	}, g.urls)
	assert.Zero(t, m.Len())
	assert.EqualValues(t, 3, alloc.released.Load())
	assert.False(t, m.Committing())
}

func TestManager_Commit_IsLazy(t *testing.T) {
	up := &fakeUploader{}
	m, _ := newTestManager(up, &fakeGallery{})
	require.NoError(t, m.Select(sources("a.png")...))

	seq := m.Commit(context.Background())
	assert.Empty(t, up.calls)
	assert.Equal(t, 1, m.Len())

	collect(seq)
	assert.Equal(t, []string{"a.png"}, up.calls)
}

func TestManager_Commit_HaltOnError(t *testing.T) {
	up := &fakeUploader{fail: map[string]error{"b.bmp": errors.New("api: status 415: Unsupported image format")}}
	g := &fakeGallery{}
	m, alloc := newTestManager(up, g)
	require.NoError(t, m.Select(sources("a.png", "b.bmp", "c.png")...))

	results := collect(m.Commit(context.Background()))

	require.Len(t, results, 2)
	assert.NoError(t, results[0].Err)
	assert.Error(t, results[1].Err)
	assert.Equal(t, []string{"a.png", "b.bmp"}, up.calls, "items after the failure are not attempted")
	assert.Equal(t, []string{"https://cdn.test/my-images/a.png"}, g.urls, "no gallery entry for the rejected file")

	files := m.Files()
	require.Len(t, files, 2)
	assert.Equal(t, "b.bmp", files[0].Source.Name())
	assert.Equal(t, "c.png", files[1].Source.Name())
	assert.NotNil(t, files[0].Preview)
	assert.False(t, files[0].Preview.Released())
	assert.EqualValues(t, 1, alloc.released.Load())

	// Retry after fixing the failing item.
	require.NoError(t, m.Remove(0))
	results = collect(m.Commit(context.Background()))
	require.Len(t, results, 1)
	assert.NoError(t, results[0].Err)
	assert.Equal(t, []string{"https://cdn.test/my-images/c.png", "https://cdn.test/my-images/a.png"}, g.urls)
	assert.Zero(t, m.Len())
	assert.EqualValues(t, 3, alloc.released.Load())
}

func TestManager_Commit_ContinueOnError(t *testing.T) {
	up := &fakeUploader{fail: map[string]error{"b.bmp": errors.New("unsupported")}}
	g := &fakeGallery{}
	m, alloc := newTestManager(up, g, WithFailurePolicy(ContinueOnError))
	require.NoError(t, m.Select(sources("a.png", "b.bmp", "c.png")...))

	results := collect(m.Commit(context.Background()))

	require.Len(t, results, 3)
	assert.NoError(t, results[0].Err)
	assert.Error(t, results[1].Err)
	assert.NoError(t, results[2].Err)
	assert.Equal(t, []string{"https://cdn.test/my-images/a.png", "https://cdn.test/my-images/c.png"}, g.urls)
	assert.Zero(t, m.Len())
	assert.EqualValues(t, 3, alloc.released.Load())
}

func TestManager_Commit_StopRangingEarly(t *testing.T) {
	g := &fakeGallery{}
	m, alloc := newTestManager(&fakeUploader{}, g)
	require.NoError(t, m.Select(sources("a.png", "b.png", "c.png")...))

	for r := range m.Commit(context.Background()) {
		require.NoError(t, r.Err)
		break
	}

	assert.Equal(t, []string{"https://cdn.test/my-images/a.png"}, g.urls)
	assert.Equal(t, 2, m.Len())
	assert.EqualValues(t, 1, alloc.released.Load())
	assert.False(t, m.Committing())
}

func TestManager_Commit_Empty(t *testing.T) {
	m, _ := newTestManager(&fakeUploader{}, &fakeGallery{})
	results := collect(m.Commit(context.Background()))
	require.Len(t, results, 1)
	assert.Equal(t, -1, results[0].Index)
	assert.ErrorIs(t, results[0].Err, ErrNothingStaged)
}

func TestManager_Commit_Cancelled(t *testing.T) {
	up := &fakeUploader{}
	m, _ := newTestManager(up, &fakeGallery{})
	require.NoError(t, m.Select(sources("a.png", "b.png")...))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	results := collect(m.Commit(ctx))

	require.Len(t, results, 1)
	assert.ErrorIs(t, results[0].Err, context.Canceled)
	assert.Empty(t, up.calls)
	assert.Equal(t, 2, m.Len())
}

func TestManager_Commit_ReentrancyGuard(t *testing.T) {
	up := &fakeUploader{gate: make(chan struct{}), entered: make(chan struct{}, 1)}
	g := &fakeGallery{}
	m, _ := newTestManager(up, g)
	require.NoError(t, m.Select(sources("a.png")...))

	done := make(chan []CommitResult)
	go func() { done <- collect(m.Commit(context.Background())) }()
	<-up.entered

	assert.True(t, m.Committing())
	second := collect(m.Commit(context.Background()))
	require.Len(t, second, 1)
	assert.ErrorIs(t, second[0].Err, ErrCommitInProgress)

	assert.ErrorIs(t, m.Select(sources("z.png")...), ErrCommitInProgress)
	assert.ErrorIs(t, m.Rename(0, "x"), ErrCommitInProgress)
	assert.ErrorIs(t, m.Remove(0), ErrCommitInProgress)
	assert.ErrorIs(t, m.ClearAll(), ErrCommitInProgress)

	close(up.gate)
	first := <-done
	require.Len(t, first, 1)
	assert.NoError(t, first[0].Err)
	assert.Equal(t, []string{"https://cdn.test/my-images/a.png"}, g.urls)
	assert.Zero(t, m.Len())
}

type brokenSource struct{}

func (brokenSource) Name() string                 { return "gone.png" }
func (brokenSource) Size() int64                  { return 0 }
func (brokenSource) Open() (io.ReadCloser, error) { return nil, errors.New("file vanished") }

func TestManager_Commit_UnreadableSource(t *testing.T) {
	up := &fakeUploader{}
	m, _ := newTestManager(up, &fakeGallery{})
	require.NoError(t, m.Select(brokenSource{}))

	results := collect(m.Commit(context.Background()))
	require.Len(t, results, 1)
	assert.ErrorIs(t, results[0].Err, ErrInvalidFile)
	assert.Empty(t, up.calls)
	assert.Equal(t, 1, m.Len())
}

func TestManager_CloseReleasesAll(t *testing.T) {
	m, alloc := newTestManager(&fakeUploader{}, &fakeGallery{})
	require.NoError(t, m.Select(sources("a.png", "b.png")...))
	require.NoError(t, m.Remove(0))

	require.NoError(t, m.Close())
	assert.EqualValues(t, 2, alloc.released.Load())
	assert.Zero(t, m.Len())
}

func TestFailurePolicy_String(t *testing.T) {
	assert.Equal(t, "halt", HaltOnError.String())
	assert.Equal(t, "continue", ContinueOnError.String())
}

func TestManager_CloseDuringCommitStopsBatch(t *testing.T) {
	up := &fakeUploader{gate: make(chan struct{}), entered: make(chan struct{}, 1)}
	g := &fakeGallery{}
	m, alloc := newTestManager(up, g)
	require.NoError(t, m.Select(sources("a.png", "b.png", "c.png")...))

	done := make(chan []CommitResult)
	go func() { done <- collect(m.Commit(context.Background())) }()
	<-up.entered

	require.NoError(t, m.Close())
	close(up.gate)
	results := <-done

	require.Len(t, results, 2)
	assert.NoError(t, results[0].Err)
	assert.Equal(t, 1, results[1].Index)
	assert.ErrorIs(t, results[1].Err, ErrClosed)
	assert.Equal(t, []string{"a.png"}, up.calls)
	assert.Equal(t, []string{"https://cdn.test/my-images/a.png"}, g.urls)
	assert.EqualValues(t, 3, alloc.released.Load())
	assert.Zero(t, m.Len())
	assert.False(t, m.Committing())

	assert.ErrorIs(t, m.Select(sources("d.png")...), ErrClosed)
	assert.EqualValues(t, 4, alloc.released.Load())
}
