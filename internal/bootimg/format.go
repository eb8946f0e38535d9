package bootimg

import "bytes"

// format_t identifies a kernel payload's compression. Android boot
// images from this board family carry either a raw zImage or one of a
// handful of compressed kernel formats.
type format_t int

const (
	unknownFmt format_t = iota
	gzipFmt
	xzFmt
	bzip2Fmt
	lz4Fmt
	lz4LegacyFmt
	zimageFmt
)

const (
	bootMagic   = "ANDROID!"
	gzip1Magic  = "\x1f\x8b"
	gzip2Magic  = "\x1f\x9e"
	xzMagic     = "\xfd7zXZ"
	bzipMagic   = "BZh"
	lz4LegMagic = "\x02\x21\x4c\x18"
	lz41Magic   = "\x03\x21\x4c\x18"
	lz42Magic   = "\x04\x22\x4d\x18"
	zimageMagic = "\x18\x28\x6f\x01"
)

// checkFmt identifies the compression format of a kernel payload by
// its leading magic bytes, covering the formats this loader needs to
// inflate.
func checkFmt(buf []byte) format_t {
	checkedMatch := func(p string) bool {
		return len(buf) >= len(p) && bytes.Equal([]byte(p), buf[:len(p)])
	}

	switch {
	case checkedMatch(gzip1Magic), checkedMatch(gzip2Magic):
		return gzipFmt
	case checkedMatch(xzMagic):
		return xzFmt
	case checkedMatch(bzipMagic):
		return bzip2Fmt
	case checkedMatch(lz41Magic), checkedMatch(lz42Magic):
		return lz4Fmt
	case checkedMatch(lz4LegMagic):
		return lz4LegacyFmt
	case len(buf) >= 0x28 && bytes.Equal(buf[0x24:0x24+len(zimageMagic)], []byte(zimageMagic)):
		return zimageFmt
	default:
		return unknownFmt
	}
}

// compressed reports whether fmt names an inflatable kernel payload
// rather than a raw self-decompressing zImage or unrecognised data.
func compressed(fmt format_t) bool {
	switch fmt {
	case gzipFmt, xzFmt, bzip2Fmt, lz4Fmt, lz4LegacyFmt:
		return true
	default:
		return false
	}
}
