package storage

import (
	"fmt"
	"sync"

	"github.com/klauspost/compress/zstd"
)

// Every page's bytes are individually zstd-compressed before being
// appended to a .dat file: pages are read back independently (by offset
// and size alone, per a single .hdr record), so each page must decompress
// on its own rather than depending on a shared streaming window.

var (
	encOnce sync.Once
	enc     *zstd.Encoder
	decOnce sync.Once
	dec     *zstd.Decoder
)

func encoder() *zstd.Encoder {
	encOnce.Do(func() {
		enc, _ = zstd.NewWriter(nil)
	})
	return enc
}

func decoder() *zstd.Decoder {
	decOnce.Do(func() {
		dec, _ = zstd.NewReader(nil)
	})
	return dec
}

func compressPage(b []byte) []byte {
	return encoder().EncodeAll(b, nil)
}

func decompressPage(b []byte) ([]byte, error) {
	out, err := decoder().DecodeAll(b, nil)
	if err != nil {
		return nil, fmt.Errorf("storage: decompress page: %w", err)
	}
	return out, nil
}
