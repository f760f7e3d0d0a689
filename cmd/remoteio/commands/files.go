package commands

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/marmos91/remoteio/cmd/remoteio/cmdutil"
	"github.com/marmos91/remoteio/internal/cli/output"
	"github.com/marmos91/remoteio/internal/cli/prompt"
	"github.com/marmos91/remoteio/pkg/client"
)

// stdioPath selects stdin or stdout in place of a local file.
const stdioPath = "-"

// ErrRemoteNotFound is returned by get for a missing remote file.
var ErrRemoteNotFound = errors.New("remote file not found")

var getCmd = &cobra.Command{
	Use:   "get <remote> [local]",
	Short: "Download a file",
	Long: `Download a remote file. Without a local path the file is saved under
its base name in the current directory; "-" writes it to stdout.

Examples:
  remoteio get /srv/report.pdf
  remoteio get /srv/report.pdf ./report.pdf
  remoteio get /etc/motd - | less`,
	Args: cobra.RangeArgs(1, 2),
	RunE: runGet,
}

var putCmd = &cobra.Command{
	Use:   "put <local> <remote>",
	Short: "Upload a file",
	Long: `Upload a local file, replacing the remote file if it exists. The remote
parent directory must exist. "-" reads the contents from stdin.

Examples:
  remoteio put ./report.pdf /srv/report.pdf
  echo hello | remoteio put - /tmp/hello.txt`,
	Args: cobra.ExactArgs(2),
	RunE: runPut,
}

var rmCmd = &cobra.Command{
	Use:   "rm <path>",
	Short: "Delete a file",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return cmdutil.RunSession(cmd, func(ctx context.Context, s *client.Session) error {
			return s.DeleteFile(ctx, args[0])
		})
	},
}

var mkdirCmd = &cobra.Command{
	Use:   "mkdir <path>",
	Short: "Create a directory and any missing parents",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return cmdutil.RunSession(cmd, func(ctx context.Context, s *client.Session) error {
			return s.CreateDirectory(ctx, args[0])
		})
	},
}

var rmdirForce bool

var rmdirCmd = &cobra.Command{
	Use:   "rmdir <path>",
	Short: "Delete a directory and everything in it",
	Long: `Delete a remote directory recursively.

On a terminal you are asked for confirmation unless --force is given.`,
	Args: cobra.ExactArgs(1),
	RunE: runRmdir,
}

var existsCmd = &cobra.Command{
	Use:   "exists <path>",
	Short: "Report whether a path is a file, a directory, or missing",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return cmdutil.RunSession(cmd, func(ctx context.Context, s *client.Session) error {
			kind, err := pathKind(ctx, s, args[0])
			if err != nil {
				return err
			}
			_, _ = fmt.Fprintln(cmd.OutOrStdout(), kind)
			return nil
		})
	},
}

var sizeCmd = &cobra.Command{
	Use:   "size <path>",
	Short: "Print the size of a file in bytes",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return cmdutil.RunSession(cmd, func(ctx context.Context, s *client.Session) error {
			size, err := s.GetFileSize(ctx, args[0])
			if err != nil {
				return err
			}
			_, _ = fmt.Fprintln(cmd.OutOrStdout(), size)
			return nil
		})
	},
}

var (
	lsPattern   string
	lsRecursive bool
	lsLong      bool
	lsOutput    string
)

var lsCmd = &cobra.Command{
	Use:   "ls <path>",
	Short: "List the files in a directory",
	Long: `List the regular files under a remote directory, relative to it.
Directories themselves are not listed.

Examples:
  remoteio ls /srv
  remoteio ls /srv --recursive --pattern '*.log'
  remoteio ls /srv -l -o json`,
	Args: cobra.ExactArgs(1),
	RunE: runLs,
}

func init() {
	for _, cmd := range []*cobra.Command{getCmd, putCmd, rmCmd, mkdirCmd, rmdirCmd, existsCmd, sizeCmd, lsCmd} {
		cmdutil.AddConnectionFlags(cmd)
	}

	rmdirCmd.Flags().BoolVarP(&rmdirForce, "force", "f", false, "Skip confirmation prompt")

	lsCmd.Flags().StringVar(&lsPattern, "pattern", "", "Glob pattern matched against file names (default: all)")
	lsCmd.Flags().BoolVarP(&lsRecursive, "recursive", "r", false, "Include files in subdirectories")
	lsCmd.Flags().BoolVarP(&lsLong, "long", "l", false, "Also show file sizes")
	lsCmd.Flags().StringVarP(&lsOutput, "output", "o", "table", "Output format (table|json|yaml)")
}

func runGet(cmd *cobra.Command, args []string) error {
	remote := args[0]
	local := path.Base(remote)
	if len(args) == 2 {
		local = args[1]
	}

	return cmdutil.RunSession(cmd, func(ctx context.Context, s *client.Session) error {
		data, err := s.ReadFile(ctx, remote)
		if err != nil {
			return err
		}
		if data == nil {
			return fmt.Errorf("%w: %s", ErrRemoteNotFound, remote)
		}

		if local == stdioPath {
			_, err := cmd.OutOrStdout().Write(data)
			return err
		}
		if err := os.WriteFile(local, data, 0o644); err != nil {
			return fmt.Errorf("failed to write %s: %w", local, err)
		}
		return nil
	})
}

func runPut(cmd *cobra.Command, args []string) error {
	local, remote := args[0], args[1]

	var (
		data []byte
		err  error
	)
	if local == stdioPath {
		data, err = io.ReadAll(cmd.InOrStdin())
	} else {
		data, err = os.ReadFile(local)
	}
	if err != nil {
		return fmt.Errorf("failed to read %s: %w", local, err)
	}

	return cmdutil.RunSession(cmd, func(ctx context.Context, s *client.Session) error {
		return s.WriteFile(ctx, remote, data)
	})
}

func runRmdir(cmd *cobra.Command, args []string) error {
	dir := args[0]

	if !rmdirForce && prompt.IsInteractive() {
		ok, err := prompt.Confirm(fmt.Sprintf("Delete %s and everything in it", dir), false)
		if err != nil {
			return err
		}
		if !ok {
			_, _ = fmt.Fprintln(cmd.OutOrStdout(), "Aborted.")
			return nil
		}
	}

	return cmdutil.RunSession(cmd, func(ctx context.Context, s *client.Session) error {
		return s.DeleteDirectory(ctx, dir)
	})
}

func runLs(cmd *cobra.Command, args []string) error {
	format, err := output.ParseFormat(lsOutput)
	if err != nil {
		return err
	}

	return cmdutil.RunSession(cmd, func(ctx context.Context, s *client.Session) error {
		names, err := s.GetFiles(ctx, args[0], lsPattern, !lsRecursive)
		if err != nil {
			return err
		}

		list := listing{long: lsLong, Files: make([]listEntry, 0, len(names))}
		for _, name := range names {
			entry := listEntry{Name: name}
			if lsLong {
				size, err := s.GetFileSize(ctx, path.Join(args[0], name))
				if err != nil {
					return err
				}
				entry.Size = &size
			}
			list.Files = append(list.Files, entry)
		}

		if format == output.FormatTable {
			return output.PrintTable(cmd.OutOrStdout(), list)
		}
		return output.NewPrinter(cmd.OutOrStdout(), format, false).Print(list.Files)
	})
}

// pathKind probes path as a file, then as a directory.
func pathKind(ctx context.Context, s *client.Session, p string) (string, error) {
	isFile, err := s.FileExists(ctx, p)
	if err != nil {
		return "", err
	}
	if isFile {
		return "file", nil
	}

	isDir, err := s.DirectoryExists(ctx, p)
	if err != nil {
		return "", err
	}
	if isDir {
		return "directory", nil
	}
	return "none", nil
}

type listEntry struct {
	Name string `json:"name" yaml:"name"`
	Size *int64 `json:"size,omitempty" yaml:"size,omitempty"`
}

type listing struct {
	long  bool
	Files []listEntry
}

func (l listing) Headers() []string {
	if l.long {
		return []string{"Name", "Size"}
	}
	return []string{"Name"}
}

func (l listing) Rows() [][]string {
	rows := make([][]string, 0, len(l.Files))
	for _, f := range l.Files {
		if l.long && f.Size != nil {
			rows = append(rows, []string{f.Name, strconv.FormatInt(*f.Size, 10)})
			continue
		}
		rows = append(rows, []string{f.Name})
	}
	return rows
}
