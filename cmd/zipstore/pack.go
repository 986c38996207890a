package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/klauspost/compress/zip"
	"github.com/spf13/cobra"
)

func newPackCommand(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "pack SRC_DIR DEST.zip",
		Short: "Pack a directory into an archive readable by zipstore",
		Long: `pack writes every regular file under SRC_DIR as an uncompressed member
with no extra fields, in lexical path order. Directories are implied by
member names and get no entries of their own.`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			out, err := os.Create(args[1])
			if err != nil {
				return fmt.Errorf("create archive: %w", err)
			}
			n, err := packDir(cmd.Context(), args[0], out, args[1])
			if cerr := out.Close(); err == nil {
				err = cerr
			}
			if err != nil {
				_ = os.Remove(args[1])
				return err
			}
			a.logger.Debug("archive packed", "path", args[1], "files", n)
			fmt.Fprintf(cmd.OutOrStdout(), "packed %d files into %s\n", n, args[1])
			return nil
		},
	}
}

// packDir writes the regular files under dir to w as stored members and
// returns how many were written. The file at skip, the archive being
// written, is left out when it lies under dir.
func packDir(ctx context.Context, dir string, w io.Writer, skip string) (int, error) {
	skipAbs, err := filepath.Abs(skip)
	if err != nil {
		return 0, fmt.Errorf("resolve %s: %w", skip, err)
	}
	zw := zip.NewWriter(w)
	n := 0
	err = filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		if !d.Type().IsRegular() {
			return nil
		}
		if abs, err := filepath.Abs(path); err == nil && abs == skipAbs {
			return nil
		}
		rel, err := filepath.Rel(dir, path)
		if err != nil {
			return err
		}
		if err := addFile(zw, path, filepath.ToSlash(rel)); err != nil {
			return err
		}
		n++
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("pack %s: %w", dir, err)
	}
	if n == 0 {
		return 0, fmt.Errorf("pack %s: %w", dir, errNoFiles)
	}
	if err := zw.Close(); err != nil {
		return 0, fmt.Errorf("finish archive: %w", err)
	}
	return n, nil
}

var errNoFiles = errors.New("no regular files")

func addFile(zw *zip.Writer, path, name string) error {
	f, err := os.Open(path) //nolint:gosec // Walked path under the user's source dir
	if err != nil {
		return err
	}
	defer f.Close()

	// No Modified time, so no extended-timestamp extra field.
	fw, err := zw.CreateHeader(&zip.FileHeader{Name: name, Method: zip.Store})
	if err != nil {
		return fmt.Errorf("add %s: %w", name, err)
	}
	if _, err := io.Copy(fw, f); err != nil {
		return fmt.Errorf("add %s: %w", name, err)
	}
	return nil
}
