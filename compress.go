package eventflow

import (
	"bytes"
	"io"

	"github.com/klauspost/compress/gzip"
)

// CompressThreshold is the wire size above which publishers compress
// envelopes. Below it the codec overhead outweighs the savings.
const CompressThreshold = 1024

// Compress encodes the envelope to its wire form and gzips it, recording
// the achieved ratio in telemetry. The result is a complete transport
// payload; pair it with a content-encoding header so receivers know to
// call Decompress.
func (e *Envelope) Compress() ([]byte, error) {
	raw, err := e.ToWire()
	if err != nil {
		return nil, err
	}
	var buf bytes.Buffer
	zw := gzip.NewWriter(&buf)
	if _, err := zw.Write(raw); err != nil {
		return nil, &SerializationError{Op: "compress", Err: err}
	}
	if err := zw.Close(); err != nil {
		return nil, &SerializationError{Op: "compress", Err: err}
	}
	if e.Telemetry != nil && len(raw) > 0 {
		e.Telemetry.recordCompression(float64(buf.Len()) / float64(len(raw)))
	}
	return buf.Bytes(), nil
}

// Decompress gunzips a compressed wire payload and decodes the envelope.
// Options are passed through to FromWire for schema validation.
func Decompress(compressed []byte, opts ...Option) (*Envelope, error) {
	zr, err := gzip.NewReader(bytes.NewReader(compressed))
	if err != nil {
		return nil, &SerializationError{Op: "decompress", Err: err}
	}
	defer zr.Close()
	raw, err := io.ReadAll(zr)
	if err != nil {
		return nil, &SerializationError{Op: "decompress", Err: err}
	}
	env, err := FromWire(raw, opts...)
	if err != nil {
		return nil, err
	}
	if env.Telemetry != nil && len(raw) > 0 {
		env.Telemetry.recordCompression(float64(len(compressed)) / float64(len(raw)))
	}
	return env, nil
}
