package link

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"os"
	"os/exec"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"

	"spectverify/internal/config"
	"spectverify/internal/dut"
)

const (
	commandPrefix = "cmd_"
	resultPrefix  = "res_"
	frameSuffix   = ".bin"
	lockName      = ".lock"
)

// FileExchange reaches an external simulator through files: each call
// writes cmd_NNNN.bin and reads res_NNNN.bin from the exchange
// directory. With a Command configured the simulator is run once per
// call with both paths appended; otherwise a resident simulator is
// expected to answer (see ServeDir).
type FileExchange struct {
	dir     string
	command []string
	timeout time.Duration
	keep    bool
	logger  *slog.Logger

	lock    *os.File
	seq     int
	pending []*big.Int
	closed  bool
}

var _ dut.Device = (*FileExchange)(nil)

// OpenFileExchange creates the exchange directory and locks it for the
// lifetime of the device.
func OpenFileExchange(cfg config.FileConfig, logger *slog.Logger) (*FileExchange, error) {
	if err := os.MkdirAll(cfg.ExchangeDir, 0o700); err != nil {
		return nil, fmt.Errorf("link: create exchange dir: %w", err)
	}
	lock, err := os.OpenFile(filepath.Join(cfg.ExchangeDir, lockName), os.O_CREATE|os.O_RDWR, 0o600)
	if err != nil {
		return nil, err
	}
	if err := lockFile(lock); err != nil {
		lock.Close()
		return nil, fmt.Errorf("link: %s: %w", cfg.ExchangeDir, err)
	}
	if err := clearFrames(cfg.ExchangeDir); err != nil {
		unlockFile(lock)
		lock.Close()
		return nil, err
	}
	return &FileExchange{
		dir:     cfg.ExchangeDir,
		command: cfg.Command,
		timeout: time.Duration(cfg.TimeoutMs) * time.Millisecond,
		keep:    cfg.KeepArtifacts,
		logger:  logger,
		lock:    lock,
	}, nil
}

// SeedRandom queues values for the next command file.
func (f *FileExchange) SeedRandom(values []*big.Int) error {
	if f.closed {
		return dut.ErrClosed
	}
	f.pending = values
	return nil
}

// Invoke writes the command frame and waits for the result frame.
func (f *FileExchange) Invoke(ctx context.Context, cmd *dut.Command, call dut.Call) (*dut.Result, error) {
	if f.closed {
		return nil, dut.ErrClosed
	}
	f.seq++
	cmdPath := filepath.Join(f.dir, fmt.Sprintf("%s%04d%s", commandPrefix, f.seq, frameSuffix))
	resPath := filepath.Join(f.dir, fmt.Sprintf("%s%04d%s", resultPrefix, f.seq, frameSuffix))

	if f.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, f.timeout)
		defer cancel()
	}

	// The watch goes in before the command so a fast answer is not missed.
	var w *fsnotify.Watcher
	if len(f.command) == 0 {
		var err error
		if w, err = fsnotify.NewWatcher(); err != nil {
			return nil, err
		}
		defer w.Close()
		if err := w.Add(f.dir); err != nil {
			return nil, err
		}
	}

	req := dut.NewRequest(cmd, call, f.pending)
	f.pending = nil
	if err := writeAtomic(cmdPath, dut.EncodeRequest(req)); err != nil {
		return nil, err
	}
	if !f.keep {
		defer os.Remove(cmdPath)
		defer os.Remove(resPath)
	}

	if w != nil {
		if err := waitFor(ctx, w, resPath); err != nil {
			return nil, err
		}
	} else if err := f.run(ctx, cmdPath, resPath); err != nil {
		return nil, err
	}

	data, err := os.ReadFile(resPath)
	if err != nil {
		return nil, fmt.Errorf("link: read result: %w", err)
	}
	f.logger.Debug("exchange complete", "seq", f.seq, "call", call.String())
	return dut.DecodeResponse(data)
}

func (f *FileExchange) run(ctx context.Context, cmdPath, resPath string) error {
	args := append(append([]string(nil), f.command[1:]...), cmdPath, resPath)
	out, err := exec.CommandContext(ctx, f.command[0], args...).CombinedOutput()
	if ctx.Err() != nil {
		return fmt.Errorf("%w: %s", ErrTimeout, f.command[0])
	}
	if err != nil {
		return fmt.Errorf("link: %s: %w: %s", f.command[0], err, strings.TrimSpace(string(out)))
	}
	return nil
}

// Close unlocks the exchange directory.
func (f *FileExchange) Close() error {
	if f.closed {
		return nil
	}
	f.closed = true
	unlockFile(f.lock)
	return f.lock.Close()
}

func waitFor(ctx context.Context, w *fsnotify.Watcher, path string) error {
	if _, err := os.Stat(path); err == nil {
		return nil
	}
	for {
		select {
		case <-ctx.Done():
			if errors.Is(ctx.Err(), context.DeadlineExceeded) {
				return fmt.Errorf("%w: %s", ErrTimeout, filepath.Base(path))
			}
			return ctx.Err()
		case ev, ok := <-w.Events:
			if !ok {
				return errors.New("link: watcher closed")
			}
			if filepath.Clean(ev.Name) == path && ev.Op&(fsnotify.Create|fsnotify.Write) != 0 {
				return nil
			}
		case err, ok := <-w.Errors:
			if ok {
				return fmt.Errorf("link: watch: %w", err)
			}
		}
	}
}

// writeAtomic writes data under a temporary name and renames it into
// place, so a watcher never sees a partial frame.
func writeAtomic(path string, data []byte) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), ".tmp-*")
	if err != nil {
		return err
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return err
	}
	return os.Rename(tmp.Name(), path)
}

func isFrame(name, prefix string) bool {
	return strings.HasPrefix(name, prefix) && strings.HasSuffix(name, frameSuffix)
}

// clearFrames removes frames left by an earlier run.
func clearFrames(dir string) error {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return err
	}
	for _, e := range entries {
		if isFrame(e.Name(), commandPrefix) || isFrame(e.Name(), resultPrefix) {
			if err := os.Remove(filepath.Join(dir, e.Name())); err != nil {
				return err
			}
		}
	}
	return nil
}

// ServeDir answers command files appearing in dir with dev until ctx
// ends. It is the resident side of a FileExchange.
func ServeDir(ctx context.Context, dir string, dev dut.Device, logger *slog.Logger) error {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer w.Close()
	if err := w.Add(dir); err != nil {
		return err
	}

	done := make(map[string]bool)
	answer := func(name string) error {
		base := filepath.Base(name)
		if done[base] || !isFrame(base, commandPrefix) {
			return nil
		}
		done[base] = true
		data, err := os.ReadFile(filepath.Join(dir, base))
		if err != nil {
			return err
		}
		resp, err := Handle(ctx, dev, data)
		if err != nil {
			return err
		}
		res := resultPrefix + strings.TrimPrefix(base, commandPrefix)
		logger.Debug("answered command", "file", base)
		return writeAtomic(filepath.Join(dir, res), resp)
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		return err
	}
	var pending []string
	for _, e := range entries {
		pending = append(pending, e.Name())
	}
	sort.Strings(pending)
	for _, name := range pending {
		if err := answer(name); err != nil {
			return err
		}
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-w.Events:
			if !ok {
				return nil
			}
			if ev.Op&(fsnotify.Remove|fsnotify.Rename) != 0 {
				delete(done, filepath.Base(ev.Name))
				continue
			}
			if ev.Op&fsnotify.Create == 0 {
				continue
			}
			if err := answer(ev.Name); err != nil {
				return err
			}
		case err, ok := <-w.Errors:
			if ok {
				return err
			}
		}
	}
}
