package gossh

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"path"
	"strconv"
	"strings"

	"github.com/ruffel/sshwait"
)

// SCP rides an exec channel running the remote scp program in sink ("-t")
// or source ("-f") mode. Records and single-byte acks follow the classic
// protocol: 0 = ok, 1 = warning, 2 = fatal, the latter two trailed by a
// message line.

func (e *Engine) ScpSend(remotePath string, mode fs.FileMode, size int64, times *sshwait.FileTimes) (sshwait.ChannelEngine, error) {
	ch, err := e.ChannelSession()
	if err != nil {
		return nil, err
	}

	sess := ch.(*sessionChannel)

	cmd := "scp -t"
	if times != nil {
		cmd = "scp -p -t"
	}

	if err := sess.Exec(cmd + " " + shellQuote(remotePath)); err != nil {
		_ = sess.Close()

		return nil, e.fail(err)
	}

	if err := readAck(sess); err != nil {
		_ = sess.Close()

		return nil, e.fail(err)
	}

	if times != nil {
		record := fmt.Sprintf("T%d 0 %d 0\n", times.Mtime.Unix(), times.Atime.Unix())
		if err := writeFull(sess, []byte(record)); err != nil {
			_ = sess.Close()

			return nil, e.fail(err)
		}

		if err := readAck(sess); err != nil {
			_ = sess.Close()

			return nil, e.fail(err)
		}
	}

	record := fmt.Sprintf("C%04o %d %s\n", mode.Perm(), size, path.Base(remotePath))
	if err := writeFull(sess, []byte(record)); err != nil {
		_ = sess.Close()

		return nil, e.fail(err)
	}

	if err := readAck(sess); err != nil {
		_ = sess.Close()

		return nil, e.fail(err)
	}

	return &scpSendChannel{sessionChannel: sess, remaining: size}, nil
}

func (e *Engine) ScpRecv(remotePath string) (sshwait.ChannelEngine, sshwait.FileStat, error) {
	ch, err := e.ChannelSession()
	if err != nil {
		return nil, sshwait.FileStat{}, err
	}

	sess := ch.(*sessionChannel)

	if err := sess.Exec("scp -f " + shellQuote(remotePath)); err != nil {
		_ = sess.Close()

		return nil, sshwait.FileStat{}, e.fail(err)
	}

	// Kick the source side, then expect a C record.
	if err := writeFull(sess, []byte{0}); err != nil {
		_ = sess.Close()

		return nil, sshwait.FileStat{}, e.fail(err)
	}

	stat, err := readFileRecord(sess)
	if err != nil {
		_ = sess.Close()

		return nil, sshwait.FileStat{}, e.fail(err)
	}

	// Accept the record; file content follows.
	if err := writeFull(sess, []byte{0}); err != nil {
		_ = sess.Close()

		return nil, sshwait.FileStat{}, e.fail(err)
	}

	return &scpRecvChannel{sessionChannel: sess, remaining: stat.Size}, stat, nil
}

// scpSendChannel is the writable half of an upload. Close finishes the
// protocol: trailing ack exchange and channel teardown.
type scpSendChannel struct {
	*sessionChannel

	remaining int64
	finished  bool
}

func (c *scpSendChannel) Write(p []byte) (int, error) {
	if len(p) == 0 {
		return 0, nil
	}

	if int64(len(p)) > c.remaining {
		p = p[:c.remaining]
	}

	if len(p) == 0 {
		return 0, errors.New("scp: write past declared size")
	}

	n, err := c.sessionChannel.Write(p)
	c.remaining -= int64(n)

	return n, err
}

func (c *scpSendChannel) Close() error {
	if c.finished {
		return c.sessionChannel.Close()
	}

	c.finished = true

	if c.remaining > 0 {
		_ = c.sessionChannel.Close()

		return fmt.Errorf("scp: closed with %d bytes unsent", c.remaining)
	}

	if err := writeFull(c.sessionChannel, []byte{0}); err != nil {
		_ = c.sessionChannel.Close()

		return err
	}

	if err := readAck(c.sessionChannel); err != nil {
		_ = c.sessionChannel.Close()

		return err
	}

	_ = c.sessionChannel.SendEOF()

	return c.sessionChannel.Close()
}

// scpRecvChannel is the readable half of a download, bounded by the size
// announced in the C record.
type scpRecvChannel struct {
	*sessionChannel

	remaining int64
	finished  bool
}

func (c *scpRecvChannel) Read(p []byte) (int, error) {
	if c.remaining == 0 {
		if !c.finished {
			c.finished = true

			// Trailing ack from the source, then our own.
			_ = readAck(c.sessionChannel)
			_ = writeFull(c.sessionChannel, []byte{0})
		}

		return 0, io.EOF
	}

	if int64(len(p)) > c.remaining {
		p = p[:c.remaining]
	}

	n, err := c.sessionChannel.Read(p)
	c.remaining -= int64(n)

	if errors.Is(err, io.EOF) && c.remaining > 0 {
		return n, fmt.Errorf("scp: source ended %d bytes early", c.remaining)
	}

	if c.remaining == 0 && err == nil {
		return n, nil
	}

	return n, err
}

// readAck consumes one protocol ack byte; warnings and errors carry a
// message line.
func readAck(r io.Reader) error {
	var code [1]byte

	if _, err := io.ReadFull(r, code[:]); err != nil {
		return fmt.Errorf("scp: read ack: %w", err)
	}

	switch code[0] {
	case 0:
		return nil
	case 1, 2:
		msg, err := readLine(r)
		if err != nil {
			return fmt.Errorf("scp: remote error (unreadable message: %v)", err)
		}

		return fmt.Errorf("scp: remote error: %s", msg)
	default:
		return fmt.Errorf("scp: bad ack byte %#x", code[0])
	}
}

// readFileRecord parses a "Cmmmm size name" record.
func readFileRecord(r io.Reader) (sshwait.FileStat, error) {
	line, err := readLine(r)
	if err != nil {
		return sshwait.FileStat{}, fmt.Errorf("scp: read file record: %w", err)
	}

	if len(line) == 0 || line[0] != 'C' {
		return sshwait.FileStat{}, fmt.Errorf("scp: unexpected record %q", line)
	}

	fields := strings.Fields(line[1:])
	if len(fields) < 3 {
		return sshwait.FileStat{}, fmt.Errorf("scp: malformed record %q", line)
	}

	mode, err := strconv.ParseUint(fields[0], 8, 32)
	if err != nil {
		return sshwait.FileStat{}, fmt.Errorf("scp: bad mode in %q: %w", line, err)
	}

	size, err := strconv.ParseInt(fields[1], 10, 64)
	if err != nil {
		return sshwait.FileStat{}, fmt.Errorf("scp: bad size in %q: %w", line, err)
	}

	return sshwait.FileStat{Size: size, Mode: fs.FileMode(mode)}, nil
}

// readLine reads bytes up to a newline, which is consumed and stripped.
func readLine(r io.Reader) (string, error) {
	var (
		line []byte
		b    [1]byte
	)

	for {
		if _, err := io.ReadFull(r, b[:]); err != nil {
			return "", err
		}

		if b[0] == '\n' {
			return string(line), nil
		}

		line = append(line, b[0])

		if len(line) > 4096 {
			return "", errors.New("line too long")
		}
	}
}

func writeFull(w io.Writer, p []byte) error {
	for len(p) > 0 {
		n, err := w.Write(p)
		if err != nil {
			return err
		}

		p = p[n:]
	}

	return nil
}

// shellQuote wraps s in single quotes for the remote shell.
func shellQuote(s string) string {
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}
