package gossh

import (
	"bytes"
	"io/fs"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReadAck(t *testing.T) {
	t.Parallel()

	require.NoError(t, readAck(bytes.NewReader([]byte{0})))

	err := readAck(bytes.NewReader(append([]byte{1}, "scp: /tmp/x: Permission denied\n"...)))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "Permission denied")

	err = readAck(bytes.NewReader(append([]byte{2}, "fatal\n"...)))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "fatal")

	err = readAck(bytes.NewReader([]byte{7}))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "bad ack byte")

	err = readAck(bytes.NewReader(nil))
	require.Error(t, err)
}

func TestReadFileRecord(t *testing.T) {
	t.Parallel()

	stat, err := readFileRecord(strings.NewReader("C0644 10 bar.txt\n"))
	require.NoError(t, err)
	assert.Equal(t, int64(10), stat.Size)
	assert.Equal(t, fs.FileMode(0o644), stat.Mode)
}

func TestReadFileRecord_Malformed(t *testing.T) {
	t.Parallel()

	_, err := readFileRecord(strings.NewReader("D0755 0 dir\n"))
	require.Error(t, err)

	_, err = readFileRecord(strings.NewReader("C0644 10\n"))
	require.Error(t, err)

	_, err = readFileRecord(strings.NewReader("C9999 10 x\n"))
	require.Error(t, err)

	_, err = readFileRecord(strings.NewReader("C0644 many x\n"))
	require.Error(t, err)
}

func TestReadLine(t *testing.T) {
	t.Parallel()

	line, err := readLine(strings.NewReader("hello\nrest"))
	require.NoError(t, err)
	assert.Equal(t, "hello", line)

	_, err = readLine(strings.NewReader("no newline"))
	require.Error(t, err)

	_, err = readLine(strings.NewReader(strings.Repeat("x", 5000)))
	require.Error(t, err)
}

func TestShellQuote(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "'/tmp/bar.txt'", shellQuote("/tmp/bar.txt"))
	assert.Equal(t, `'it'\''s here'`, shellQuote("it's here"))
}
