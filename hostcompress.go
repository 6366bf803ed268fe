package blockfs

import (
	"bytes"
	"io"

	"github.com/klauspost/compress/zstd"
	"github.com/ulikunitz/xz"
)

// Codec is an optional host-side transform applied by Export/ImportCodec
// to the single buffer moved between guest and host file. It never
// touches on-disk block layout (spec §3/§4 invariants are unaffected);
// it only changes what bytes land in the host file. Grounded on the
// teacher's compression handlers (KarpelesLab/squashfs comp_zstd.go,
// comp_xz.go), which register a Decompress/Compress pair per algorithm
// the same way CodecZstd/CodecXZ do here.
type Codec interface {
	Encode(data []byte) ([]byte, error)
	Decode(data []byte) ([]byte, error)
}

type passthroughCodec struct{}

func (passthroughCodec) Encode(data []byte) ([]byte, error) { return data, nil }
func (passthroughCodec) Decode(data []byte) ([]byte, error) { return data, nil }

// CodecNone moves bytes verbatim, the default for Export/Import.
var CodecNone Codec = passthroughCodec{}

type zstdCodec struct{}

// CodecZstd compresses on export and decompresses on import using
// klauspost/compress/zstd, the same library the teacher's comp_zstd.go
// registers as a squashfs fragment/data decompressor.
var CodecZstd Codec = zstdCodec{}

func (zstdCodec) Encode(data []byte) ([]byte, error) {
	enc, err := zstd.NewWriter(nil)
	if err != nil {
		return nil, ErrIO
	}
	defer enc.Close()
	return enc.EncodeAll(data, nil), nil
}

func (zstdCodec) Decode(data []byte) ([]byte, error) {
	dec, err := zstd.NewReader(nil)
	if err != nil {
		return nil, ErrIO
	}
	defer dec.Close()
	out, err := dec.DecodeAll(data, nil)
	if err != nil {
		return nil, ErrInvalid
	}
	return out, nil
}

type xzCodec struct{}

// CodecXZ compresses on export and decompresses on import using
// ulikunitz/xz, the same library the teacher's comp_xz.go wraps for XZ
// squashfs fragments.
var CodecXZ Codec = xzCodec{}

func (xzCodec) Encode(data []byte) ([]byte, error) {
	var out bytes.Buffer
	w, err := xz.NewWriter(&out)
	if err != nil {
		return nil, ErrIO
	}
	if _, err := w.Write(data); err != nil {
		w.Close()
		return nil, ErrIO
	}
	if err := w.Close(); err != nil {
		return nil, ErrIO
	}
	return out.Bytes(), nil
}

func (xzCodec) Decode(data []byte) ([]byte, error) {
	r, err := xz.NewReader(bytes.NewReader(data))
	if err != nil {
		return nil, ErrInvalid
	}
	out, err := io.ReadAll(r)
	if err != nil {
		return nil, ErrInvalid
	}
	return out, nil
}
