package sshwait

import (
	"context"
	"io/fs"
	"os"
)

// SFTP is a retry-adapted SFTP sub-session, obtained via Session.SFTP. It
// shares the parent Session's Stream and may outlive the Session.
type SFTP struct {
	engine SFTPEngine
	stream Stream
}

func newSFTP(engine SFTPEngine, stream Stream) *SFTP {
	return &SFTP{engine: engine, stream: stream}
}

// Stream returns the readiness source shared with the parent Session.
func (s *SFTP) Stream() Stream {
	return s.stream
}

// OpenFile opens a remote file with explicit flags (os.O_* values).
func (s *SFTP) OpenFile(ctx context.Context, path string, flags int, mode fs.FileMode) (*File, error) {
	engine, err := Do(ctx, s.stream, s.engine, func() (SFTPFileEngine, error) {
		return s.engine.OpenFile(path, flags, mode)
	})
	if err != nil {
		return nil, err
	}

	return &File{engine: engine, stream: s.stream}, nil
}

// Open opens a remote file for reading.
func (s *SFTP) Open(ctx context.Context, path string) (*File, error) {
	return s.OpenFile(ctx, path, os.O_RDONLY, 0)
}

// Create opens a remote file for writing, creating or truncating it.
func (s *SFTP) Create(ctx context.Context, path string, mode fs.FileMode) (*File, error) {
	return s.OpenFile(ctx, path, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, mode)
}

// Stat returns file information for a remote path.
func (s *SFTP) Stat(ctx context.Context, path string) (FileStat, error) {
	return Do(ctx, s.stream, s.engine, func() (FileStat, error) {
		return s.engine.Stat(path)
	})
}

// ReadDir lists a remote directory.
func (s *SFTP) ReadDir(ctx context.Context, path string) ([]DirEntry, error) {
	return Do(ctx, s.stream, s.engine, func() ([]DirEntry, error) {
		return s.engine.ReadDir(path)
	})
}

// Mkdir creates a remote directory.
func (s *SFTP) Mkdir(ctx context.Context, path string, mode fs.FileMode) error {
	return doErr(ctx, s.stream, s.engine, func() error {
		return s.engine.Mkdir(path, mode)
	})
}

// Remove deletes a remote file or empty directory.
func (s *SFTP) Remove(ctx context.Context, path string) error {
	return doErr(ctx, s.stream, s.engine, func() error {
		return s.engine.Remove(path)
	})
}

// Rename moves a remote file.
func (s *SFTP) Rename(ctx context.Context, oldpath, newpath string) error {
	return doErr(ctx, s.stream, s.engine, func() error {
		return s.engine.Rename(oldpath, newpath)
	})
}

// Close shuts down the SFTP sub-session. Channels and the parent Session
// are unaffected.
func (s *SFTP) Close(ctx context.Context) error {
	return doErr(ctx, s.stream, s.engine, s.engine.Close)
}

// File is one open remote file within an SFTP sub-session.
type File struct {
	engine SFTPFileEngine
	stream Stream
}

// Read reads from the remote file; io.EOF at end of file.
func (f *File) Read(ctx context.Context, p []byte) (int, error) {
	return Do(ctx, f.stream, f.engine, func() (int, error) {
		return f.engine.Read(p)
	})
}

// Write writes to the remote file.
func (f *File) Write(ctx context.Context, p []byte) (int, error) {
	return Do(ctx, f.stream, f.engine, func() (int, error) {
		return f.engine.Write(p)
	})
}

// Fstat returns information about the open file.
func (f *File) Fstat(ctx context.Context) (FileStat, error) {
	return Do(ctx, f.stream, f.engine, f.engine.Fstat)
}

// Close closes the remote file handle.
func (f *File) Close(ctx context.Context) error {
	return doErr(ctx, f.stream, f.engine, f.engine.Close)
}
