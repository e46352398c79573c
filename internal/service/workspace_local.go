package service

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"os/exec"
	"path/filepath"
	"syscall"

	"github.com/haatos/simple-dispatch/internal/types"
)

type LocalWorkspace struct {
	dir string
}

func NewLocalWorkspace(dir string) (*LocalWorkspace, error) {
	absDir, err := filepath.Abs(dir)
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(absDir, os.ModePerm); err != nil {
		return nil, fmt.Errorf("err creating workspace %s: %w", absDir, err)
	}
	return &LocalWorkspace{dir: absDir}, nil
}

func (w *LocalWorkspace) Dir() string {
	return w.dir
}

// RunStep runs command with sh -c in its own process group so that ending
// ctx kills the shell together with everything it started.
func (w *LocalWorkspace) RunStep(
	ctx context.Context,
	command string,
	env []types.EnvVar,
	out io.Writer,
) (int, error) {
	cmd := exec.CommandContext(ctx, "sh", "-c", command)
	cmd.Dir = w.dir
	cmd.Stdout = out
	cmd.Stderr = out
	cmd.Env = append(os.Environ(), envList(env)...)
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	cmd.Cancel = func() error {
		return syscall.Kill(-cmd.Process.Pid, syscall.SIGKILL)
	}

	err := cmd.Run()
	if err == nil {
		return 0, nil
	}
	if ctx.Err() != nil {
		return -1, ctx.Err()
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return exitErr.ExitCode(), nil
	}
	return -1, err
}

func (w *LocalWorkspace) Collect(pattern, destDir string) ([]string, error) {
	matches, err := filepath.Glob(filepath.Join(w.dir, pattern))
	if err != nil {
		return nil, err
	}
	var collected []string
	for _, match := range matches {
		err := filepath.WalkDir(match, func(path string, d fs.DirEntry, err error) error {
			if err != nil {
				return err
			}
			if d.IsDir() {
				return nil
			}
			rel, err := filepath.Rel(w.dir, path)
			if err != nil {
				return err
			}
			dest := filepath.Join(destDir, rel)
			if err := copyLocalFile(path, dest); err != nil {
				return err
			}
			collected = append(collected, dest)
			return nil
		})
		if err != nil {
			return collected, err
		}
	}
	return collected, nil
}

func (w *LocalWorkspace) LookupEnv(name string) (string, bool) {
	return os.LookupEnv(name)
}

func (w *LocalWorkspace) Close() error {
	return nil
}

func copyLocalFile(src, dest string) error {
	if err := os.MkdirAll(filepath.Dir(dest), os.ModePerm); err != nil {
		return err
	}
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.Create(dest)
	if err != nil {
		return err
	}
	defer out.Close()

	if _, err := io.Copy(out, in); err != nil {
		return err
	}
	return nil
}
