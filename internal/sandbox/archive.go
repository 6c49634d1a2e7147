package sandbox

import (
	"archive/tar"
	"bytes"
	"io"
	"path"
	"time"

	"github.com/mini-maxit/coderunner/pkg/constants"
)

const sandboxUID = 65534

// packageFiles builds the tar stream copied to the container root: the
// sandbox directory holding the program and its stdin.
func packageFiles(programFile, program, stdin string) (io.Reader, error) {
	var buf bytes.Buffer
	tw := tar.NewWriter(&buf)
	now := time.Now()

	dir := &tar.Header{
		Typeflag: tar.TypeDir,
		Name:     constants.SandboxDir + "/",
		Mode:     0o777,
		Uid:      sandboxUID,
		Gid:      sandboxUID,
		ModTime:  now,
	}
	if err := tw.WriteHeader(dir); err != nil {
		return nil, err
	}

	files := []struct {
		name string
		body string
	}{
		{programFile, program},
		{constants.SandboxStdinFile, stdin},
	}
	for _, f := range files {
		hdr := &tar.Header{
			Typeflag: tar.TypeReg,
			Name:     path.Join(constants.SandboxDir, f.name),
			Mode:     0o644,
			Size:     int64(len(f.body)),
			Uid:      sandboxUID,
			Gid:      sandboxUID,
			ModTime:  now,
		}
		if err := tw.WriteHeader(hdr); err != nil {
			return nil, err
		}
		if _, err := tw.Write([]byte(f.body)); err != nil {
			return nil, err
		}
	}

	if err := tw.Close(); err != nil {
		return nil, err
	}
	return &buf, nil
}

// cappedBuffer keeps the first limit bytes written to it and silently drops
// the rest.
type cappedBuffer struct {
	buf   bytes.Buffer
	limit int
}

func newCappedBuffer(limit int) *cappedBuffer {
	return &cappedBuffer{limit: limit}
}

func (c *cappedBuffer) Write(p []byte) (int, error) {
	if room := c.limit - c.buf.Len(); room > 0 {
		if len(p) > room {
			c.buf.Write(p[:room])
		} else {
			c.buf.Write(p)
		}
	}
	return len(p), nil
}

func (c *cappedBuffer) Bytes() []byte {
	return c.buf.Bytes()
}
