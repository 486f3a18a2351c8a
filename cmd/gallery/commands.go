package main

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/chzyer/readline"
	"github.com/spf13/afero"
	"github.com/spf13/cobra"

	"github.com/imagevault/service/internal/client"
	"github.com/imagevault/service/internal/config"
	"github.com/imagevault/service/internal/gallery"
	"github.com/imagevault/service/internal/logging"
	"github.com/imagevault/service/internal/shell"
	"github.com/imagevault/service/internal/staging"
)

// app is everything a subcommand needs, built once per invocation.
type app struct {
	cfg     *config.ClientConfig
	fs      afero.Fs
	log     *logging.Logger
	client  *client.Client
	gallery *gallery.Gallery
}

type rootFlags struct {
	apiURL  string
	timeout time.Duration
}

func newRootCmd() *cobra.Command {
	flags := &rootFlags{}
	a := &app{fs: afero.NewOsFs()}

	root := &cobra.Command{
		Use:           "gallery",
		Short:         "Stage, upload and browse images on an Image Vault server",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return a.init(flags)
		},
	}
	root.PersistentFlags().StringVar(&flags.apiURL, "api", "", "API base URL (default $GALLERY_API_BASE_URL)")
	root.PersistentFlags().DurationVar(&flags.timeout, "timeout", 0, "per-request timeout (default $GALLERY_TIMEOUT)")

	root.AddCommand(
		newUploadCmd(a),
		newListCmd(a),
		newDownloadCmd(a),
		newCopyCmd(a),
		newShellCmd(a),
	)
	return root
}

func (a *app) init(flags *rootFlags) error {
	cfg, err := config.LoadClient()
	if err != nil {
		return err
	}
	if flags.apiURL != "" {
		cfg.APIBaseURL = strings.TrimRight(flags.apiURL, "/")
	}
	if flags.timeout > 0 {
		cfg.Timeout = flags.timeout
	}
	a.cfg = cfg

	logging.Setup("gallery", cfg.LogLevel)
	a.log = logging.Default()
	a.client = client.New(cfg.APIBaseURL, client.WithTimeout(cfg.Timeout))
	a.gallery = gallery.New(a.client, gallery.WithFs(a.fs), gallery.WithLogger(a.log))
	return nil
}

func (a *app) newManager(policy staging.FailurePolicy) *staging.Manager {
	return staging.NewManager(a.client, a.gallery,
		staging.WithPreviewAllocator(staging.ThumbnailAllocator{Size: a.cfg.ThumbnailSize}),
		staging.WithFailurePolicy(policy),
		staging.WithLogger(a.log),
	)
}

func (a *app) newSession(m *staging.Manager, out io.Writer) *shell.Session {
	return shell.NewSession(m, a.gallery, out,
		shell.WithFs(a.fs),
		shell.WithDownloadDir(a.cfg.DownloadDir),
	)
}

func newUploadCmd(a *app) *cobra.Command {
	var (
		renames         []string
		continueOnError bool
	)
	cmd := &cobra.Command{
		Use:   "upload FILE...",
		Short: "Upload images in order, one at a time",
		Example: `  gallery upload photo.png cat.gif
  gallery upload photo.png --rename 1=vacation`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			policy := staging.HaltOnError
			if continueOnError {
				policy = staging.ContinueOnError
			}
			m := a.newManager(policy)
			defer m.Close()

			sources := make([]staging.Source, 0, len(args))
			for _, p := range args {
				src, err := staging.FileSource(a.fs, p)
				if err != nil {
					return fmt.Errorf("%w: %v", staging.ErrInvalidFile, err)
				}
				sources = append(sources, src)
			}
			if err := m.Select(sources...); err != nil {
				a.log.Warn("some files have no preview", "err", err)
			}
			for _, r := range renames {
				i, name, err := parseRename(r)
				if err != nil {
					return err
				}
				if err := m.Rename(i, name); err != nil {
					return err
				}
			}

			return a.newSession(m, cmd.OutOrStdout()).Commit(cmd.Context())
		},
	}
	cmd.Flags().StringArrayVar(&renames, "rename", nil, "rename file N (1-based) before upload, as N=NAME")
	cmd.Flags().BoolVar(&continueOnError, "continue-on-error", false, "keep uploading after a failed file")
	return cmd
}

// parseRename splits "N=NAME" into a 0-based index and the new display name.
func parseRename(s string) (int, string, error) {
	idx, name, ok := strings.Cut(s, "=")
	if !ok {
		return 0, "", fmt.Errorf("invalid --rename %q, want N=NAME", s)
	}
	n, err := strconv.Atoi(strings.TrimSpace(idx))
	if err != nil {
		return 0, "", fmt.Errorf("invalid --rename %q: %w", s, err)
	}
	return n - 1, name, nil
}

func newListCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List uploaded images",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if err := a.gallery.Refresh(cmd.Context()); err != nil {
				return err
			}
			a.newSession(nil, cmd.OutOrStdout()).PrintGallery()
			return nil
		},
	}
}

func newDownloadCmd(a *app) *cobra.Command {
	var dir string
	cmd := &cobra.Command{
		Use:   "download URL",
		Short: "Save an image to disk under its own name",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if dir == "" {
				dir = a.cfg.DownloadDir
			}
			dst, err := a.gallery.Download(cmd.Context(), a.client.Resolve(args[0]), dir)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "saved %s\n", dst)
			return nil
		},
	}
	cmd.Flags().StringVarP(&dir, "dir", "d", "", "target directory (default $GALLERY_DOWNLOAD_DIR)")
	return cmd
}

func newCopyCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "copy URL",
		Short: "Copy an image link to the clipboard",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ack, err := a.gallery.CopyLink(a.client.Resolve(args[0]))
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), ack)
			return nil
		},
	}
}

func newShellCmd(a *app) *cobra.Command {
	var continueOnError bool
	cmd := &cobra.Command{
		Use:   "shell",
		Short: "Interactive staging shell",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			policy := staging.HaltOnError
			if continueOnError {
				policy = staging.ContinueOnError
			}
			m := a.newManager(policy)
			defer m.Close()
			return a.runShell(cmd, m)
		},
	}
	cmd.Flags().BoolVar(&continueOnError, "continue-on-error", false, "keep uploading after a failed file")
	return cmd
}

func (a *app) runShell(cmd *cobra.Command, m *staging.Manager) error {
	ctx := cmd.Context()
	out := cmd.OutOrStdout()

	homeDir, _ := os.UserHomeDir()
	rl, err := readline.NewEx(&readline.Config{
		Prompt:            "gallery> ",
		HistoryFile:       filepath.Join(homeDir, ".gallery-history"),
		InterruptPrompt:   "^C",
		EOFPrompt:         "exit",
		HistorySearchFold: true,
		AutoComplete:      shell.Completer(),
		Stdin:             readline.NewCancelableStdin(os.Stdin),
		Stdout:            out,
		Stderr:            cmd.ErrOrStderr(),
	})
	if err != nil {
		return fmt.Errorf("failed to initialize readline: %w", err)
	}
	defer rl.Close()

	session := a.newSession(m, rl.Stdout())
	fmt.Fprintf(rl.Stdout(), "Connected to %s. Type help for commands.\n", a.cfg.APIBaseURL)
	if _, err := session.Exec(ctx, "refresh"); err != nil {
		a.log.Warn("initial refresh failed", "err", err)
	}

	for {
		line, err := rl.Readline()
		if errors.Is(err, readline.ErrInterrupt) {
			if len(line) == 0 {
				return nil
			}
			continue
		}
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return err
		}
		if ctx.Err() != nil {
			return nil
		}

		quit, _ := session.Exec(ctx, line)
		if quit {
			return nil
		}
	}
}
