package dat

import (
	"bytes"
	"errors"
	"fmt"
	"io"

	"github.com/cespare/xxhash/v2"
)

// ReconstructOptions carries what the container kept alongside the fields.
type ReconstructOptions struct {
	// StoredHeader, when set, must match the freshly encoded header.
	StoredHeader []byte
	// ExpectedSize is the recorded original byte count. A longer
	// reconstruction means the original was truncated and is cut to size.
	ExpectedSize int64
}

// Reconstruct encodes h and joins it with the channel planes and footer.
func (c *Codec) Reconstruct(h *Header, channels []Value, footer []byte, opts ReconstructOptions) ([]byte, error) {
	hb, err := c.EncodeHeader(h)
	if err != nil {
		return nil, err
	}
	if opts.StoredHeader != nil {
		if err := checkStoredHeader(opts.StoredHeader, hb); err != nil {
			return nil, err
		}
	}
	out, err := c.Join(hb, channels, footer)
	if err != nil {
		return nil, err
	}
	if opts.ExpectedSize > 0 && int64(len(out)) > opts.ExpectedSize {
		out = out[:opts.ExpectedSize]
	}
	return out, nil
}

// checkStoredHeader compares checksums. A stored header shorter than the
// encoded one came from a file that ended inside its header, so only the
// prefix is compared.
func checkStoredHeader(stored, encoded []byte) error {
	if len(stored) > len(encoded) {
		return fmt.Errorf("%w: stored header is %d bytes, encoded is %d", ErrHeaderMismatch, len(stored), len(encoded))
	}
	got, want := xxhash.Sum64(encoded[:len(stored)]), xxhash.Sum64(stored)
	if got != want {
		return fmt.Errorf("%w: checksum %016x, stored %016x", ErrHeaderMismatch, got, want)
	}
	return nil
}

// Mismatch reasons reported by Verification.
const (
	ReasonLength  = "lengths differ"
	ReasonContent = "content differs"
)

// Verification is the outcome of comparing an original file with its
// reconstruction.
type Verification struct {
	Match             bool
	Reason            string
	OriginalSize      int64
	ReconstructedSize int64
	OriginalSum       uint64
	ReconstructedSum  uint64
	// FirstDiff is the offset of the first differing byte, or -1. Only a
	// full comparison sets it.
	FirstDiff int64
}

func (v Verification) String() string {
	if v.Match {
		return fmt.Sprintf("match (%d bytes, xxhash %016x)", v.OriginalSize, v.OriginalSum)
	}
	switch v.Reason {
	case ReasonLength:
		return fmt.Sprintf("%s: original %d bytes, reconstructed %d bytes", v.Reason, v.OriginalSize, v.ReconstructedSize)
	default:
		s := fmt.Sprintf("%s: xxhash %016x vs %016x", v.Reason, v.OriginalSum, v.ReconstructedSum)
		if v.FirstDiff >= 0 {
			s += fmt.Sprintf(", first difference at byte %d", v.FirstDiff)
		}
		return s
	}
}

type VerifyOptions struct {
	// Full compares every byte instead of checksums only.
	Full bool
	// OriginalSize, when positive, bounds the comparison of a longer
	// reconstruction (see ReconstructOptions.ExpectedSize).
	OriginalSize int64
}

// VerifyBytes compares an original buffer with a reconstruction.
func VerifyBytes(original, reconstructed []byte, opts VerifyOptions) Verification {
	if opts.OriginalSize > 0 && int64(len(reconstructed)) > opts.OriginalSize {
		reconstructed = reconstructed[:opts.OriginalSize]
	}
	v := Verification{
		OriginalSize:      int64(len(original)),
		ReconstructedSize: int64(len(reconstructed)),
		FirstDiff:         -1,
	}
	if v.OriginalSize != v.ReconstructedSize {
		v.Reason = ReasonLength
		return v
	}
	v.OriginalSum = xxhash.Sum64(original)
	v.ReconstructedSum = xxhash.Sum64(reconstructed)
	v.Match = v.OriginalSum == v.ReconstructedSum
	if opts.Full {
		v.FirstDiff = firstDiff(original, reconstructed, 0)
		v.Match = v.FirstDiff < 0
	}
	if !v.Match {
		v.Reason = ReasonContent
	}
	return v
}

// VerifyReader streams the original from r instead of holding it in memory.
func VerifyReader(r io.Reader, reconstructed []byte, opts VerifyOptions) (Verification, error) {
	if opts.OriginalSize > 0 && int64(len(reconstructed)) > opts.OriginalSize {
		reconstructed = reconstructed[:opts.OriginalSize]
	}
	v := Verification{ReconstructedSize: int64(len(reconstructed)), FirstDiff: -1}
	d := xxhash.New()
	buf := make([]byte, 1<<20)
	var off int64
	for {
		n, err := r.Read(buf)
		if n > 0 {
			_, _ = d.Write(buf[:n])
			if opts.Full && v.FirstDiff < 0 && off < v.ReconstructedSize {
				end := min(off+int64(n), v.ReconstructedSize)
				v.FirstDiff = firstDiff(buf[:end-off], reconstructed[off:end], off)
			}
			off += int64(n)
		}
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return Verification{}, err
		}
	}
	v.OriginalSize = off
	if v.OriginalSize != v.ReconstructedSize {
		v.Reason = ReasonLength
		v.FirstDiff = -1
		return v, nil
	}
	v.OriginalSum = d.Sum64()
	v.ReconstructedSum = xxhash.Sum64(reconstructed)
	v.Match = v.OriginalSum == v.ReconstructedSum
	if opts.Full {
		v.Match = v.FirstDiff < 0
	}
	if !v.Match {
		v.Reason = ReasonContent
	}
	return v, nil
}

func firstDiff(a, b []byte, base int64) int64 {
	if bytes.Equal(a, b) {
		return -1
	}
	for i := range a {
		if a[i] != b[i] {
			return base + int64(i)
		}
	}
	return base + int64(len(a))
}
