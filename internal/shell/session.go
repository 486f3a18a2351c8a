// Package shell is the line-oriented front end over the staging manager and
// the gallery.
package shell

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/chzyer/readline"
	"github.com/dustin/go-humanize"
	"github.com/fatih/color"
	"github.com/spf13/afero"

	"github.com/imagevault/service/internal/gallery"
	"github.com/imagevault/service/internal/staging"
)

var (
	red    = color.New(color.FgRed, color.Bold).SprintFunc()
	green  = color.New(color.FgGreen).SprintFunc()
	yellow = color.New(color.FgYellow).SprintFunc()
	gray   = color.New(color.FgHiBlack).SprintFunc()
	bold   = color.New(color.Bold).SprintFunc()
)

// ErrUsage is returned for malformed commands.
var ErrUsage = errors.New("usage")

const helpText = `Commands:
  add PATH...          stage image files
  ls                   list staged files
  rename N NAME        rename staged file N (extension is kept)
  rm N                 remove staged file N
  clear                remove every staged file
  commit               upload staged files in order
  images               list the gallery
  refresh              reload the gallery from the server
  copy N               copy the link of gallery image N
  download N [DIR]     save gallery image N
  help                 show this help
  exit                 leave the shell`

// Session runs shell commands against one manager and gallery.
type Session struct {
	manager     *staging.Manager
	gallery     *gallery.Gallery
	fs          afero.Fs
	out         io.Writer
	downloadDir string
}

// Option configures a Session.
type Option func(*Session)

// WithFs sets the filesystem add reads from.
func WithFs(fs afero.Fs) Option {
	return func(s *Session) { s.fs = fs }
}

// WithDownloadDir sets the default download directory.
func WithDownloadDir(dir string) Option {
	return func(s *Session) { s.downloadDir = dir }
}

// NewSession writes its output to out.
func NewSession(m *staging.Manager, g *gallery.Gallery, out io.Writer, opts ...Option) *Session {
	s := &Session{
		manager:     m,
		gallery:     g,
		fs:          afero.NewOsFs(),
		out:         out,
		downloadDir: ".",
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Completer offers command names to readline.
func Completer() *readline.PrefixCompleter {
	return readline.NewPrefixCompleter(
		readline.PcItem("add"),
		readline.PcItem("ls"),
		readline.PcItem("rename"),
		readline.PcItem("rm"),
		readline.PcItem("clear"),
		readline.PcItem("commit"),
		readline.PcItem("images"),
		readline.PcItem("refresh"),
		readline.PcItem("copy"),
		readline.PcItem("download"),
		readline.PcItem("help"),
		readline.PcItem("exit"),
	)
}

// Exec runs one command line. Errors are printed as a banner and returned.
func (s *Session) Exec(ctx context.Context, line string) (quit bool, err error) {
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return false, nil
	}
	cmd, args := fields[0], fields[1:]

	switch cmd {
	case "exit", "quit":
		return true, nil
	case "help", "?":
		fmt.Fprintln(s.out, helpText)
	case "add":
		err = s.add(args)
	case "ls":
		s.PrintStaged()
	case "rename":
		err = s.rename(args)
	case "rm":
		err = s.remove(args)
	case "clear":
		if err = s.manager.ClearAll(); err == nil {
			fmt.Fprintln(s.out, gray("staging cleared"))
		}
	case "commit":
		err = s.Commit(ctx)
	case "images":
		s.PrintGallery()
	case "refresh":
		if err = s.gallery.Refresh(ctx); err == nil {
			s.PrintGallery()
		}
	case "copy":
		err = s.copyLink(args)
	case "download":
		err = s.download(ctx, args)
	default:
		err = fmt.Errorf("unknown command %q, try help", cmd)
	}

	if err != nil {
		s.Banner(err)
	}
	return false, err
}

// Banner prints err in red.
func (s *Session) Banner(err error) {
	fmt.Fprintln(s.out, red("error: ")+err.Error())
}

// PrintStaged lists the staged files, numbered from 1.
func (s *Session) PrintStaged() {
	files := s.manager.Files()
	if len(files) == 0 {
		fmt.Fprintln(s.out, gray("nothing staged"))
		return
	}
	for i, f := range files {
		preview := green("preview")
		if f.Preview == nil {
			preview = yellow("no preview")
		}
		fmt.Fprintf(s.out, "%2d. %s  %s  %s\n", i+1, bold(f.DesiredName()), humanize.Bytes(uint64(max(f.Source.Size(), 0))), preview)
	}
}

// PrintGallery lists the gallery, newest first, numbered from 1.
func (s *Session) PrintGallery() {
	images := s.gallery.Images()
	if len(images) == 0 {
		fmt.Fprintln(s.out, gray("gallery is empty"))
		return
	}
	for i, img := range images {
		fmt.Fprintf(s.out, "%2d. %-24s %s\n", i+1, img.Label(), gray(img.URL))
	}
}

// Commit uploads the staged files and prints one line per item.
func (s *Session) Commit(ctx context.Context) error {
	var failed, ok int
	for res := range s.manager.Commit(ctx) {
		if res.Index < 0 {
			return res.Err
		}
		if res.Err != nil {
			failed++
			fmt.Fprintf(s.out, "%s %s: %v\n", red("✗"), res.Name, res.Err)
			continue
		}
		ok++
		fmt.Fprintf(s.out, "%s %s → %s\n", green("✓"), res.Name, res.URL)
	}

	if left := s.manager.Len(); left > 0 {
		fmt.Fprintf(s.out, "%d uploaded, %d still staged\n", ok, left)
	} else {
		fmt.Fprintf(s.out, "%d uploaded\n", ok)
	}
	if failed > 0 {
		return fmt.Errorf("%d of %d uploads failed", failed, failed+ok)
	}
	return nil
}

func (s *Session) add(args []string) error {
	if len(args) == 0 {
		return fmt.Errorf("%w: add PATH...", ErrUsage)
	}
	var (
		sources []staging.Source
		errs    []error
	)
	for _, pattern := range args {
		matches, err := afero.Glob(s.fs, pattern)
		if err != nil || len(matches) == 0 {
			matches = []string{pattern}
		}
		for _, p := range matches {
			src, err := staging.FileSource(s.fs, p)
			if err != nil {
				errs = append(errs, fmt.Errorf("%w: %v", staging.ErrInvalidFile, err))
				continue
			}
			sources = append(sources, src)
		}
	}
	if len(sources) > 0 {
		errs = append(errs, s.manager.Select(sources...))
		fmt.Fprintf(s.out, "staged %d file(s), %d total\n", len(sources), s.manager.Len())
	}
	return errors.Join(errs...)
}

func (s *Session) rename(args []string) error {
	if len(args) < 2 {
		return fmt.Errorf("%w: rename N NAME", ErrUsage)
	}
	i, err := parseIndex(args[0])
	if err != nil {
		return err
	}
	return s.manager.Rename(i, strings.Join(args[1:], " "))
}

func (s *Session) remove(args []string) error {
	if len(args) != 1 {
		return fmt.Errorf("%w: rm N", ErrUsage)
	}
	i, err := parseIndex(args[0])
	if err != nil {
		return err
	}
	return s.manager.Remove(i)
}

func (s *Session) copyLink(args []string) error {
	if len(args) != 1 {
		return fmt.Errorf("%w: copy N", ErrUsage)
	}
	img, err := s.galleryImage(args[0])
	if err != nil {
		return err
	}
	ack, err := s.gallery.CopyLink(img.URL)
	if err != nil {
		return err
	}
	fmt.Fprintln(s.out, green(ack))
	return nil
}

func (s *Session) download(ctx context.Context, args []string) error {
	if len(args) < 1 || len(args) > 2 {
		return fmt.Errorf("%w: download N [DIR]", ErrUsage)
	}
	img, err := s.galleryImage(args[0])
	if err != nil {
		return err
	}
	dir := s.downloadDir
	if len(args) == 2 {
		dir = args[1]
	}
	dst, err := s.gallery.Download(ctx, img.URL, dir)
	if err != nil {
		return err
	}
	fmt.Fprintf(s.out, "saved %s\n", filepath.ToSlash(dst))
	return nil
}

func (s *Session) galleryImage(arg string) (gallery.CommittedImage, error) {
	i, err := parseIndex(arg)
	if err != nil {
		return gallery.CommittedImage{}, err
	}
	return s.gallery.Image(i)
}

// parseIndex turns a 1-based position into a 0-based index.
func parseIndex(arg string) (int, error) {
	n, err := strconv.Atoi(arg)
	if err != nil {
		return 0, fmt.Errorf("%w: %q is not a number", ErrUsage, arg)
	}
	return n - 1, nil
}
