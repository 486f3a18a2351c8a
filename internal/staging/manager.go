// Package staging holds images the user picked but has not uploaded yet, and
// commits them one by one to the image API.
package staging

import (
	"context"
	"errors"
	"fmt"
	"io"
	"iter"
	"slices"
	"strings"
	"sync"

	"github.com/google/uuid"

	"github.com/imagevault/service/internal/logging"
)

var (
	ErrInvalidFile      = errors.New("invalid file")
	ErrIndexOutOfRange  = errors.New("index out of range")
	ErrCommitInProgress = errors.New("commit already in progress")
	ErrNothingStaged    = errors.New("nothing staged")
	ErrClosed           = errors.New("manager closed")
)

// FailurePolicy decides what a commit does after an item fails.
type FailurePolicy int

const (
	// HaltOnError stops the batch at the first failed item.
	HaltOnError FailurePolicy = iota
	// ContinueOnError uploads every item and reports each result.
	ContinueOnError
)

func (p FailurePolicy) String() string {
	if p == ContinueOnError {
		return "continue"
	}
	return "halt"
}

// Uploader sends one file to the Upload Endpoint and returns its URL.
type Uploader interface {
	Upload(ctx context.Context, name string, body io.Reader) (string, error)
}

// Committer receives the URLs of a commit, in staged order.
type Committer interface {
	Prepend(urls ...string)
}

// StagedFile is one picked, not yet uploaded image.
type StagedFile struct {
	ID          string
	Source      Source
	DisplayName string
	Extension   string
	// Preview is nil when the source could not be rendered.
	Preview *Preview
}

// DesiredName is the name sent with the upload: display name plus extension.
func (f StagedFile) DesiredName() string {
	if f.Extension == "" {
		return f.DisplayName
	}
	return f.DisplayName + "." + f.Extension
}

// CommitResult is the outcome of one commit item. Index is the item's position
// in the batch, or -1 when the whole commit was refused.
type CommitResult struct {
	Index int
	Name  string
	URL   string
	Err   error
}

// Manager owns the staged sequence and drives commits.
type Manager struct {
	mu         sync.Mutex
	files      []*StagedFile
	committing bool
	closed     bool

	uploader Uploader
	gallery  Committer
	previews PreviewAllocator
	policy   FailurePolicy
	log      *logging.Logger
}

// Option configures a Manager.
type Option func(*Manager)

// WithPreviewAllocator overrides the thumbnail renderer.
func WithPreviewAllocator(a PreviewAllocator) Option {
	return func(m *Manager) { m.previews = a }
}

// WithFailurePolicy sets the commit failure policy. Default is HaltOnError.
func WithFailurePolicy(p FailurePolicy) Option {
	return func(m *Manager) { m.policy = p }
}

// WithLogger sets the logger.
func WithLogger(l *logging.Logger) Option {
	return func(m *Manager) { m.log = l }
}

// NewManager builds a manager committing through uploader into gallery.
func NewManager(uploader Uploader, gallery Committer, opts ...Option) *Manager {
	m := &Manager{
		uploader: uploader,
		gallery:  gallery,
		previews: ThumbnailAllocator{},
		policy:   HaltOnError,
	}
	for _, opt := range opts {
		opt(m)
	}
	if m.log == nil {
		m.log = logging.Default()
	}
	return m
}

// SplitName separates a file name into display name and extension. Only the
// last dot-suffix counts as the extension.
func SplitName(name string) (display, ext string) {
	i := strings.LastIndex(name, ".")
	if i < 0 || i == len(name)-1 || strings.Contains(name[i+1:], "/") {
		return name, ""
	}
	return name[:i], name[i+1:]
}

// Select appends sources in order. A source whose preview cannot be rendered
// is still staged without one; the returned error joins those failures, each
// wrapping ErrInvalidFile.
func (m *Manager) Select(sources ...Source) error {
	staged := make([]*StagedFile, 0, len(sources))
	var errs []error
	for _, src := range sources {
		display, ext := SplitName(src.Name())
		f := &StagedFile{
			ID:          uuid.NewString(),
			Source:      src,
			DisplayName: display,
			Extension:   ext,
		}
		p, err := m.previews.Allocate(src)
		if err != nil {
			m.log.Warn("preview failed", "file", src.Name(), "err", err)
			errs = append(errs, fmt.Errorf("%w: %s: %v", ErrInvalidFile, src.Name(), err))
		} else {
			f.Preview = p
		}
		staged = append(staged, f)
	}

	m.mu.Lock()
	if m.committing || m.closed {
		err := ErrCommitInProgress
		if m.closed {
			err = ErrClosed
		}
		m.mu.Unlock()
		for _, f := range staged {
			release(f)
		}
		return err
	}
	m.files = append(m.files, staged...)
	m.mu.Unlock()

	return errors.Join(errs...)
}

// Rename replaces the display name at index. No validation is applied.
func (m *Manager) Rename(index int, name string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.committing {
		return ErrCommitInProgress
	}
	if index < 0 || index >= len(m.files) {
		return fmt.Errorf("%w: %d", ErrIndexOutOfRange, index)
	}
	m.files[index].DisplayName = name
	return nil
}

// Remove releases the preview at index and drops the entry.
func (m *Manager) Remove(index int) error {
	m.mu.Lock()
	if m.committing {
		m.mu.Unlock()
		return ErrCommitInProgress
	}
	if index < 0 || index >= len(m.files) {
		m.mu.Unlock()
		return fmt.Errorf("%w: %d", ErrIndexOutOfRange, index)
	}
	f := m.files[index]
	m.files = slices.Delete(m.files, index, index+1)
	m.mu.Unlock()

	release(f)
	return nil
}

// ClearAll releases every preview and empties the staged sequence.
func (m *Manager) ClearAll() error {
	m.mu.Lock()
	if m.committing {
		m.mu.Unlock()
		return ErrCommitInProgress
	}
	files := m.files
	m.files = nil
	m.mu.Unlock()

	for _, f := range files {
		release(f)
	}
	return nil
}

// Close releases every staged preview. The manager is empty afterwards; a
// running commit stops before its next item and further selections fail
// with ErrClosed.
func (m *Manager) Close() error {
	m.mu.Lock()
	m.closed = true
	files := m.files
	m.files = nil
	m.mu.Unlock()

	for _, f := range files {
		release(f)
	}
	return nil
}

// Files returns a snapshot of the staged sequence.
func (m *Manager) Files() []StagedFile {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]StagedFile, len(m.files))
	for i, f := range m.files {
		out[i] = *f
	}
	return out
}

// Len returns the number of staged files.
func (m *Manager) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.files)
}

// Committing reports whether a commit is running.
func (m *Manager) Committing() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.committing
}

// Commit uploads the staged files in order, one at a time, yielding a result
// per item. Nothing happens until the sequence is ranged over.
//
// Successful URLs are prepended to the gallery in staged order when the run
// ends. When every item was processed the staged sequence is cleared and all
// previews released. When the run halts or the caller stops ranging early,
// only the successful items leave staging; the rest stay for a retry.
func (m *Manager) Commit(ctx context.Context) iter.Seq[CommitResult] {
	return func(yield func(CommitResult) bool) {
		m.mu.Lock()
		if m.committing {
			m.mu.Unlock()
			yield(CommitResult{Index: -1, Err: ErrCommitInProgress})
			return
		}
		if len(m.files) == 0 {
			m.mu.Unlock()
			yield(CommitResult{Index: -1, Err: ErrNothingStaged})
			return
		}
		m.committing = true
		batch := slices.Clone(m.files)
		m.mu.Unlock()

		var (
			uploaded  []*StagedFile
			urls      []string
			processed int
		)
		defer func() {
			m.finish(batch, uploaded, urls, processed == len(batch))
		}()

		for i, f := range batch {
			res := CommitResult{Index: i, Name: f.DesiredName()}
			if m.isClosed() {
				res.Err = ErrClosed
				yield(res)
				return
			}
			if err := ctx.Err(); err != nil {
				res.Err = err
				yield(res)
				return
			}

			res.URL, res.Err = m.upload(ctx, f)
			processed++
			if res.Err == nil {
				uploaded = append(uploaded, f)
				urls = append(urls, res.URL)
				m.log.Debug("committed", "file", res.Name, "url", res.URL)
			} else {
				m.log.Warn("commit item failed", "file", res.Name, "policy", m.policy, "err", res.Err)
			}

			if !yield(res) {
				return
			}
			if res.Err != nil && m.policy == HaltOnError {
				return
			}
		}
	}
}

func (m *Manager) isClosed() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.closed
}

func (m *Manager) upload(ctx context.Context, f *StagedFile) (string, error) {
	rc, err := f.Source.Open()
	if err != nil {
		return "", fmt.Errorf("%w: %s: %v", ErrInvalidFile, f.Source.Name(), err)
	}
	defer rc.Close()
	return m.uploader.Upload(ctx, f.DesiredName(), rc)
}

func (m *Manager) finish(batch, uploaded []*StagedFile, urls []string, complete bool) {
	leaving := uploaded
	if complete {
		leaving = batch
	}

	m.mu.Lock()
	m.files = slices.DeleteFunc(m.files, func(f *StagedFile) bool {
		return slices.Contains(leaving, f)
	})
	m.committing = false
	m.mu.Unlock()

	for _, f := range leaving {
		release(f)
	}
	if len(urls) > 0 && m.gallery != nil {
		m.gallery.Prepend(urls...)
	}
}

func release(f *StagedFile) {
	if f.Preview != nil {
		f.Preview.Release()
	}
}
