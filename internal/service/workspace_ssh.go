package service

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"path"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/haatos/simple-dispatch/internal/types"
	"github.com/pkg/sftp"
	"golang.org/x/crypto/ssh"
)

// SSHWorkspace runs steps on a remote runner. Each step gets its own SSH
// session; artifacts are pulled back over SFTP.
type SSHWorkspace struct {
	dir    string
	client *ssh.Client

	mu         sync.Mutex
	sftpClient *sftp.Client

	envOnce   sync.Once
	remoteEnv map[string]string
}

func NewSSHWorkspace(
	ctx context.Context,
	runner types.Runner,
	runID, jobDir string,
) (*SSHWorkspace, error) {
	client, err := connectSSH(ctx, runner.Username, runner.Hostname, runner.SSHPrivateKey)
	if err != nil {
		return nil, err
	}
	workspace := runner.Workspace
	if workspace == "" {
		workspace = "dispatch"
	}
	w := &SSHWorkspace{
		dir:    path.Join(workspace, runID, jobDir),
		client: client,
	}
	if _, err := w.run(ctx, "mkdir -p "+shellQuote(w.dir), nil, io.Discard); err != nil {
		client.Close()
		return nil, fmt.Errorf("err creating workspace on %s: %w", runner.Hostname, err)
	}
	return w, nil
}

func connectSSH(
	ctx context.Context,
	username, hostname string,
	privateKey []byte,
) (*ssh.Client, error) {
	signer, err := ssh.ParsePrivateKey(privateKey)
	if err != nil {
		return nil, fmt.Errorf("err parsing ssh private key: %w", err)
	}
	cc := &ssh.ClientConfig{
		User:            username,
		Auth:            []ssh.AuthMethod{ssh.PublicKeys(signer)},
		HostKeyCallback: ssh.InsecureIgnoreHostKey(),
		Timeout:         10 * time.Second,
	}

	if !strings.Contains(hostname, ":") {
		hostname += ":22"
	}

	type dialResult struct {
		client *ssh.Client
		err    error
	}
	doneCh := make(chan dialResult, 1)
	go func() {
		client, err := ssh.Dial("tcp", hostname, cc)
		doneCh <- dialResult{client, err}
	}()

	select {
	case <-ctx.Done():
		go func() {
			if r := <-doneCh; r.client != nil {
				r.client.Close()
			}
		}()
		return nil, ctx.Err()
	case r := <-doneCh:
		if r.err != nil {
			return nil, fmt.Errorf("err dialing ssh %s: %w", hostname, r.err)
		}
		return r.client, nil
	}
}

func (w *SSHWorkspace) Dir() string {
	return w.dir
}

func (w *SSHWorkspace) RunStep(
	ctx context.Context,
	command string,
	env []types.EnvVar,
	out io.Writer,
) (int, error) {
	var b strings.Builder
	fmt.Fprintf(&b, "cd %s", shellQuote(w.dir))
	for _, v := range env {
		fmt.Fprintf(&b, " && export %s=%s", v.Name, shellQuote(v.Value))
	}
	fmt.Fprintf(&b, " && %s", command)
	return w.run(ctx, b.String(), nil, out)
}

func (w *SSHWorkspace) run(
	ctx context.Context,
	command string,
	stdin io.Reader,
	out io.Writer,
) (int, error) {
	sess, err := w.client.NewSession()
	if err != nil {
		return -1, fmt.Errorf("err creating new session: %w", err)
	}
	defer sess.Close()
	sess.Stdin = stdin
	sess.Stdout = out
	sess.Stderr = out

	doneCh := make(chan error, 1)
	go func() {
		doneCh <- sess.Run(command)
	}()

	select {
	case <-ctx.Done():
		if err := sess.Signal(ssh.SIGKILL); err != nil {
			log.Println("err signalling remote step:", err)
		}
		return -1, ctx.Err()
	case err := <-doneCh:
		if err == nil {
			return 0, nil
		}
		var exitErr *ssh.ExitError
		if errors.As(err, &exitErr) {
			return exitErr.ExitStatus(), nil
		}
		return -1, err
	}
}

// LookupEnv answers from the login environment of the remote user, read
// once per workspace.
func (w *SSHWorkspace) LookupEnv(name string) (string, bool) {
	w.envOnce.Do(func() {
		w.remoteEnv = make(map[string]string)
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		var buf bytes.Buffer
		if _, err := w.run(ctx, "env", nil, &buf); err != nil {
			log.Println("err reading remote environment:", err)
			return
		}
		w.remoteEnv = parseEnvOutput(buf.String())
	})
	value, ok := w.remoteEnv[name]
	return value, ok
}

func parseEnvOutput(s string) map[string]string {
	env := make(map[string]string)
	for line := range strings.SplitSeq(s, "\n") {
		name, value, ok := strings.Cut(line, "=")
		if ok && types.ValidEnvName(name) {
			env[name] = value
		}
	}
	return env
}

func (w *SSHWorkspace) sftpConn() (*sftp.Client, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.sftpClient != nil {
		return w.sftpClient, nil
	}
	c, err := sftp.NewClient(w.client)
	if err != nil {
		return nil, err
	}
	w.sftpClient = c
	return c, nil
}

func (w *SSHWorkspace) Collect(pattern, destDir string) ([]string, error) {
	sftpClient, err := w.sftpConn()
	if err != nil {
		return nil, err
	}
	matches, err := sftpClient.Glob(path.Join(w.dir, pattern))
	if err != nil {
		return nil, err
	}
	var collected []string
	for _, match := range matches {
		info, err := sftpClient.Stat(match)
		if err != nil {
			return collected, err
		}
		rel := strings.TrimPrefix(strings.TrimPrefix(match, w.dir), "/")
		localPath := filepath.Join(destDir, filepath.FromSlash(rel))
		if info.IsDir() {
			files, err := recursiveDownload(sftpClient, match, localPath)
			collected = append(collected, files...)
			if err != nil {
				return collected, err
			}
			continue
		}
		if err := downloadFile(sftpClient, match, localPath); err != nil {
			return collected, err
		}
		collected = append(collected, localPath)
	}
	return collected, nil
}

func (w *SSHWorkspace) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	var errs []error
	if w.sftpClient != nil {
		errs = append(errs, w.sftpClient.Close())
		w.sftpClient = nil
	}
	errs = append(errs, w.client.Close())
	return errors.Join(errs...)
}

func recursiveDownload(sftpClient *sftp.Client, remotePath, localPath string) ([]string, error) {
	files, err := sftpClient.ReadDir(remotePath)
	if err != nil {
		return nil, err
	}

	if err := os.MkdirAll(localPath, os.ModePerm); err != nil {
		return nil, err
	}

	var downloaded []string
	for _, f := range files {
		remoteFilePath := path.Join(remotePath, f.Name())
		localFilePath := filepath.Join(localPath, f.Name())

		if f.IsDir() {
			nested, err := recursiveDownload(sftpClient, remoteFilePath, localFilePath)
			downloaded = append(downloaded, nested...)
			if err != nil {
				return downloaded, err
			}
		} else {
			if err := downloadFile(sftpClient, remoteFilePath, localFilePath); err != nil {
				return downloaded, err
			}
			downloaded = append(downloaded, localFilePath)
		}
	}

	return downloaded, nil
}

func downloadFile(sftpClient *sftp.Client, remotePath, localPath string) error {
	remoteFile, err := sftpClient.Open(remotePath)
	if err != nil {
		return err
	}
	defer remoteFile.Close()

	if err := os.MkdirAll(filepath.Dir(localPath), os.ModePerm); err != nil {
		return err
	}
	localFile, err := os.Create(localPath)
	if err != nil {
		return err
	}
	defer localFile.Close()

	if _, err := io.Copy(localFile, remoteFile); err != nil {
		return err
	}

	return nil
}
