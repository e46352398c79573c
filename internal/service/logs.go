package service

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/haatos/simple-dispatch/internal/util"
	"github.com/klauspost/compress/zstd"
)

const archivedLogExt = ".zst"

type LogStore interface {
	Create(runID, jobName string) (io.WriteCloser, string, error)
	Open(ref string) (io.ReadCloser, error)
}

// FileLogStore keeps one log file per job below <dir>/<runID>/.
type FileLogStore struct {
	dir string
}

func NewFileLogStore(dir string) *FileLogStore {
	return &FileLogStore{dir: dir}
}

func (s *FileLogStore) Create(runID, jobName string) (io.WriteCloser, string, error) {
	runDir := filepath.Join(s.dir, runID)
	if err := os.MkdirAll(runDir, os.ModePerm); err != nil {
		return nil, "", err
	}
	ref := filepath.Join(runDir, util.SanitizeName(jobName)+".log")
	f, err := os.Create(ref)
	if err != nil {
		return nil, "", err
	}
	return &lockedWriteCloser{wc: f}, ref, nil
}

// Open returns the log behind ref, transparently decompressing logs that
// were archived.
func (s *FileLogStore) Open(ref string) (io.ReadCloser, error) {
	f, err := os.Open(ref)
	if err == nil {
		return f, nil
	}
	if !errors.Is(err, fs.ErrNotExist) {
		return nil, err
	}
	zf, zerr := os.Open(ref + archivedLogExt)
	if zerr != nil {
		return nil, err
	}
	dec, zerr := zstd.NewReader(zf)
	if zerr != nil {
		zf.Close()
		return nil, zerr
	}
	return &zstdReadCloser{dec: dec, f: zf}, nil
}

// ArchiveRun compresses every plain log file of a run with zstd and removes
// the originals. It returns the number of files archived.
func (s *FileLogStore) ArchiveRun(runID string) (int, error) {
	runDir := filepath.Join(s.dir, runID)
	entries, err := os.ReadDir(runDir)
	if errors.Is(err, fs.ErrNotExist) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	archived := 0
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".log") {
			continue
		}
		p := filepath.Join(runDir, e.Name())
		if err := compressFile(p, p+archivedLogExt); err != nil {
			return archived, fmt.Errorf("err archiving %s: %w", p, err)
		}
		if err := os.Remove(p); err != nil {
			return archived, err
		}
		archived++
	}
	return archived, nil
}

func compressFile(src, dest string) error {
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

	enc, err := zstd.NewWriter(out, zstd.WithEncoderLevel(zstd.SpeedBetterCompression))
	if err != nil {
		return err
	}
	if _, err := io.Copy(enc, in); err != nil {
		enc.Close()
		return err
	}
	return enc.Close()
}

type zstdReadCloser struct {
	dec *zstd.Decoder
	f   *os.File
}

func (z *zstdReadCloser) Read(p []byte) (int, error) {
	return z.dec.Read(p)
}

func (z *zstdReadCloser) Close() error {
	z.dec.Close()
	return z.f.Close()
}

// lockedWriteCloser serializes writes coming from a step's stdout and stderr.
type lockedWriteCloser struct {
	mu sync.Mutex
	wc io.WriteCloser
}

func (l *lockedWriteCloser) Write(p []byte) (int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.wc.Write(p)
}

func (l *lockedWriteCloser) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.wc.Close()
}
