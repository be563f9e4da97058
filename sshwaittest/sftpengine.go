package sshwaittest

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path"
	"sync"

	"github.com/ruffel/sshwait"
)

// sftpEngine serves the parent engine's in-memory file store.
type sftpEngine struct {
	engine *Engine

	mu     sync.Mutex
	closed bool
}

var _ sshwait.SFTPEngine = (*sftpEngine)(nil)

func (s *sftpEngine) BlockDirections() sshwait.Direction {
	return s.engine.BlockDirections()
}

func (s *sftpEngine) check() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return errors.New("sftp session closed")
	}

	return nil
}

func (s *sftpEngine) OpenFile(p string, flags int, mode fs.FileMode) (sshwait.SFTPFileEngine, error) {
	if err := s.engine.step("sftp-open"); err != nil {
		return nil, err
	}

	if err := s.check(); err != nil {
		return nil, err
	}

	writable := flags&(os.O_WRONLY|os.O_RDWR) != 0

	s.engine.mu.Lock()
	data, exists := s.engine.files[p]
	existingMode := s.engine.modes[p]
	s.engine.mu.Unlock()

	if !exists && (!writable || flags&os.O_CREATE == 0) {
		return nil, s.engine.protocolErr(fmt.Errorf("sftp-open %s: %w", p, ErrNoSuchFile))
	}

	f := &sftpFileEngine{engine: s.engine, path: p, writable: writable, mode: mode}

	if exists {
		if !writable || flags&os.O_TRUNC == 0 {
			f.rdata = append([]byte(nil), data...)
		}

		if mode == 0 {
			f.mode = existingMode
		}
	}

	if writable && flags&os.O_APPEND != 0 {
		f.wdata = append([]byte(nil), data...)
	}

	return f, nil
}

func (s *sftpEngine) Stat(p string) (sshwait.FileStat, error) {
	if err := s.engine.step("sftp-stat"); err != nil {
		return sshwait.FileStat{}, err
	}

	if err := s.check(); err != nil {
		return sshwait.FileStat{}, err
	}

	s.engine.mu.Lock()
	defer s.engine.mu.Unlock()

	if data, ok := s.engine.files[p]; ok {
		return sshwait.FileStat{Size: int64(len(data)), Mode: s.engine.modes[p]}, nil
	}

	if mode, ok := s.engine.dirs[p]; ok {
		return sshwait.FileStat{Mode: mode | fs.ModeDir}, nil
	}

	s.engine.lastErr = ErrNoSuchFile

	return sshwait.FileStat{}, fmt.Errorf("sftp-stat %s: %w", p, ErrNoSuchFile)
}

func (s *sftpEngine) ReadDir(dir string) ([]sshwait.DirEntry, error) {
	if err := s.engine.step("sftp-readdir"); err != nil {
		return nil, err
	}

	if err := s.check(); err != nil {
		return nil, err
	}

	s.engine.mu.Lock()
	defer s.engine.mu.Unlock()

	var entries []sshwait.DirEntry

	for p, data := range s.engine.files {
		if path.Dir(p) != dir {
			continue
		}

		entries = append(entries, sshwait.DirEntry{
			Name: path.Base(p),
			Stat: sshwait.FileStat{Size: int64(len(data)), Mode: s.engine.modes[p]},
		})
	}

	for p, mode := range s.engine.dirs {
		if path.Dir(p) != dir {
			continue
		}

		entries = append(entries, sshwait.DirEntry{
			Name: path.Base(p),
			Stat: sshwait.FileStat{Mode: mode | fs.ModeDir},
		})
	}

	return entries, nil
}

func (s *sftpEngine) Mkdir(p string, mode fs.FileMode) error {
	if err := s.engine.step("sftp-mkdir"); err != nil {
		return err
	}

	if err := s.check(); err != nil {
		return err
	}

	s.engine.mu.Lock()
	defer s.engine.mu.Unlock()

	s.engine.dirs[p] = mode

	return nil
}

func (s *sftpEngine) Remove(p string) error {
	if err := s.engine.step("sftp-remove"); err != nil {
		return err
	}

	if err := s.check(); err != nil {
		return err
	}

	s.engine.mu.Lock()
	defer s.engine.mu.Unlock()

	if _, ok := s.engine.files[p]; ok {
		delete(s.engine.files, p)
		delete(s.engine.modes, p)

		return nil
	}

	if _, ok := s.engine.dirs[p]; ok {
		delete(s.engine.dirs, p)

		return nil
	}

	s.engine.lastErr = ErrNoSuchFile

	return fmt.Errorf("sftp-remove %s: %w", p, ErrNoSuchFile)
}

func (s *sftpEngine) Rename(oldpath, newpath string) error {
	if err := s.engine.step("sftp-rename"); err != nil {
		return err
	}

	if err := s.check(); err != nil {
		return err
	}

	s.engine.mu.Lock()
	defer s.engine.mu.Unlock()

	data, ok := s.engine.files[oldpath]
	if !ok {
		s.engine.lastErr = ErrNoSuchFile

		return fmt.Errorf("sftp-rename %s: %w", oldpath, ErrNoSuchFile)
	}

	s.engine.files[newpath] = data
	s.engine.modes[newpath] = s.engine.modes[oldpath]
	delete(s.engine.files, oldpath)
	delete(s.engine.modes, oldpath)

	return nil
}

func (s *sftpEngine) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.closed = true

	return nil
}

// sftpFileEngine is one open file; writes commit on Close.
type sftpFileEngine struct {
	engine *Engine
	path   string

	mu       sync.Mutex
	writable bool
	mode     fs.FileMode
	rdata    []byte
	wdata    []byte
	closed   bool
}

var _ sshwait.SFTPFileEngine = (*sftpFileEngine)(nil)

func (f *sftpFileEngine) BlockDirections() sshwait.Direction {
	return f.engine.BlockDirections()
}

func (f *sftpFileEngine) Read(p []byte) (int, error) {
	if err := f.engine.step("sftp-read"); err != nil {
		return 0, err
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	if f.closed {
		return 0, errors.New("read on closed file")
	}

	if len(f.rdata) == 0 {
		return 0, io.EOF
	}

	n := copy(p, f.rdata)
	f.rdata = f.rdata[n:]

	return n, nil
}

func (f *sftpFileEngine) Write(p []byte) (int, error) {
	if err := f.engine.step("sftp-write"); err != nil {
		return 0, err
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	if f.closed {
		return 0, errors.New("write on closed file")
	}

	if !f.writable {
		return 0, errors.New("file not open for writing")
	}

	f.wdata = append(f.wdata, p...)

	return len(p), nil
}

func (f *sftpFileEngine) Fstat() (sshwait.FileStat, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	size := int64(len(f.rdata))
	if f.writable {
		size = int64(len(f.wdata))
	}

	return sshwait.FileStat{Size: size, Mode: f.mode}, nil
}

func (f *sftpFileEngine) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.closed {
		return nil
	}

	f.closed = true

	if f.writable {
		f.engine.mu.Lock()
		f.engine.files[f.path] = append([]byte(nil), f.wdata...)
		f.engine.modes[f.path] = f.mode
		f.engine.mu.Unlock()
	}

	return nil
}
