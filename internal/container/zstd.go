package container

import (
	"sync"

	"github.com/klauspost/compress/zstd"
)

// zstdLevel is the numeric zstd level chunks are written with.
const zstdLevel = 3

// zstdChunks pools single-threaded encoders and decoders for chunk data.
// Pools start empty and are filled on first use.
type zstdChunks struct {
	level int
	enc   sync.Pool
	dec   sync.Pool
}

var chunkCodec = &zstdChunks{level: zstdLevel}

// compress encodes one chunk and returns the compressor metadata that
// describes it.
func (z *zstdChunks) compress(data []byte) ([]byte, *compressorMeta, error) {
	enc, ok := z.enc.Get().(*zstd.Encoder)
	if !ok {
		var err error
		enc, err = zstd.NewWriter(nil,
			zstd.WithEncoderConcurrency(1),
			zstd.WithEncoderLevel(zstd.EncoderLevelFromZstd(z.level)),
			zstd.WithLowerEncoderMem(true),
		)
		if err != nil {
			return nil, nil, err
		}
	}
	defer z.enc.Put(enc)
	return enc.EncodeAll(data, nil), &compressorMeta{ID: "zstd", Level: z.level}, nil
}

func (z *zstdChunks) decompress(data []byte) ([]byte, error) {
	dec, ok := z.dec.Get().(*zstd.Decoder)
	if !ok {
		var err error
		dec, err = zstd.NewReader(nil, zstd.WithDecoderConcurrency(1), zstd.WithDecoderLowmem(true))
		if err != nil {
			return nil, err
		}
	}
	defer z.dec.Put(dec)
	return dec.DecodeAll(data, nil)
}
