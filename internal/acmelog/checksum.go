package acmelog

import (
	"bytes"
	"encoding/base64"
	"encoding/binary"
	"hash/crc32"
	"io"
)

// checksumWriter prepends a CRC32 of each log line before passing it through
// to an inner io.Writer, so a corrupted log file can be detected. slog
// guarantees one Write call per handled record.
type checksumWriter struct {
	inner io.Writer
}

// NewChecksumWriter returns a checksumWriter which wraps the given io.Writer.
func NewChecksumWriter(inner io.Writer) *checksumWriter {
	return &checksumWriter{inner: inner}
}

func (w *checksumWriter) Write(in []byte) (int, error) {
	out := bytes.Buffer{}
	out.WriteString(LogLineChecksum(string(in)))
	out.WriteString(" ")
	out.Write(in)
	size, err := out.WriteTo(w.inner)
	return int(size), err
}

var _ io.Writer = (*checksumWriter)(nil)

// LogLineChecksum computes a CRC32 over the log line.
func LogLineChecksum(line string) string {
	crc := crc32.ChecksumIEEE([]byte(line))
	buf := make([]byte, crc32.Size)
	_, _ = binary.Encode(buf, binary.LittleEndian, crc)
	return base64.RawURLEncoding.EncodeToString(buf)
}
