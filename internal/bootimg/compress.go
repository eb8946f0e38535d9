package bootimg

import (
	"compress/bzip2"
	"compress/gzip"
	"fmt"
	"io"

	"github.com/pierrec/lz4/v4"
	"github.com/ulikunitz/xz"

	"github.com/cheezecake/brillo-bootctl/internal/bootctrl"
)

// newDecompressReader wraps raw in the decompressor for fmt, on top of
// the raw zImage/bzImage hand-off this loader otherwise stages
// unmodified.
func newDecompressReader(fmt format_t, raw io.Reader) (io.Reader, error) {
	switch fmt {
	case gzipFmt:
		return gzip.NewReader(raw)
	case xzFmt:
		return xz.NewReader(raw)
	case bzip2Fmt:
		return bzip2.NewReader(raw), nil
	case lz4Fmt, lz4LegacyFmt:
		return lz4.NewReader(raw), nil
	default:
		return nil, fmt2Err(fmt)
	}
}

func fmt2Err(f format_t) error {
	return fmt.Errorf("%w: unsupported kernel compression format %d", bootctrl.ErrInvalid, f)
}

// inflateKernel decompresses a compressed kernel payload, re-measuring
// the inflated size so callers can re-check it against the total image
// size ceiling.
func inflateKernel(f format_t, raw []byte) ([]byte, error) {
	r, err := newDecompressReader(f, &byteReader{raw})
	if err != nil {
		return nil, err
	}
	out, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("%w: kernel decompression failed: %v", bootctrl.ErrInvalid, err)
	}
	return out, nil
}

// byteReader is the minimal io.Reader a []byte needs without pulling
// in bytes.Reader's Seek/ReadAt surface this package never uses.
type byteReader struct{ b []byte }

func (r *byteReader) Read(p []byte) (int, error) {
	if len(r.b) == 0 {
		return 0, io.EOF
	}
	n := copy(p, r.b)
	r.b = r.b[n:]
	return n, nil
}
