package gossh

import (
	"io/fs"
	"time"

	"github.com/pkg/sftp"
	"github.com/ruffel/sshwait"
)

func (e *Engine) SFTP() (sshwait.SFTPEngine, error) {
	sshClient, err := e.requireClient()
	if err != nil {
		return nil, err
	}

	client, err := sftp.NewClient(sshClient)
	if err != nil {
		return nil, e.fail(err)
	}

	return &sftpEngine{client: client}, nil
}

type sftpEngine struct {
	client *sftp.Client
}

var _ sshwait.SFTPEngine = (*sftpEngine)(nil)

func (s *sftpEngine) BlockDirections() sshwait.Direction { return sshwait.DirNone }

func (s *sftpEngine) OpenFile(path string, flags int, mode fs.FileMode) (sshwait.SFTPFileEngine, error) {
	f, err := s.client.OpenFile(path, flags)
	if err != nil {
		return nil, err
	}

	if mode != 0 {
		if err := s.client.Chmod(path, mode); err != nil {
			_ = f.Close()

			return nil, err
		}
	}

	return &sftpFileEngine{file: f}, nil
}

func (s *sftpEngine) Stat(path string) (sshwait.FileStat, error) {
	fi, err := s.client.Stat(path)
	if err != nil {
		return sshwait.FileStat{}, err
	}

	return fileStat(fi), nil
}

func (s *sftpEngine) ReadDir(path string) ([]sshwait.DirEntry, error) {
	infos, err := s.client.ReadDir(path)
	if err != nil {
		return nil, err
	}

	entries := make([]sshwait.DirEntry, 0, len(infos))
	for _, fi := range infos {
		entries = append(entries, sshwait.DirEntry{
			Name: fi.Name(),
			Stat: fileStat(fi),
		})
	}

	return entries, nil
}

func (s *sftpEngine) Mkdir(path string, mode fs.FileMode) error {
	if err := s.client.Mkdir(path); err != nil {
		return err
	}

	if mode != 0 {
		return s.client.Chmod(path, mode)
	}

	return nil
}

func (s *sftpEngine) Remove(path string) error {
	return s.client.Remove(path)
}

func (s *sftpEngine) Rename(oldpath, newpath string) error {
	return s.client.Rename(oldpath, newpath)
}

func (s *sftpEngine) Close() error {
	return s.client.Close()
}

type sftpFileEngine struct {
	file *sftp.File
}

var _ sshwait.SFTPFileEngine = (*sftpFileEngine)(nil)

func (f *sftpFileEngine) BlockDirections() sshwait.Direction { return sshwait.DirNone }

func (f *sftpFileEngine) Read(p []byte) (int, error)  { return f.file.Read(p) }
func (f *sftpFileEngine) Write(p []byte) (int, error) { return f.file.Write(p) }

func (f *sftpFileEngine) Fstat() (sshwait.FileStat, error) {
	fi, err := f.file.Stat()
	if err != nil {
		return sshwait.FileStat{}, err
	}

	return fileStat(fi), nil
}

func (f *sftpFileEngine) Close() error { return f.file.Close() }

// fileStat flattens an os.FileInfo from the sftp client, recovering the
// access time from the underlying wire attributes when present.
func fileStat(fi fs.FileInfo) sshwait.FileStat {
	stat := sshwait.FileStat{
		Size:  fi.Size(),
		Mode:  fi.Mode(),
		Mtime: fi.ModTime(),
	}

	if attrs, ok := fi.Sys().(*sftp.FileStat); ok {
		stat.Atime = time.Unix(int64(attrs.Atime), 0)
	}

	return stat
}
