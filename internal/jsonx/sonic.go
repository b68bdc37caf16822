// Package jsonx provides JSON serialization for API payloads and model
// output parsing, backed by Sonic for 2-5x better throughput than
// encoding/json on analysis-sized documents.
package jsonx

import (
	"bytes"
	"io"

	"github.com/bytedance/sonic"
)

// strictAPI rejects unknown fields; used when decoding model output into the
// fixed analysis schema so junk keys surface as a parse failure.
var strictAPI = sonic.Config{
	EscapeHTML:            false,
	UseInt64:              true,
	DisallowUnknownFields: true,
}.Froze()

// Marshal returns the JSON encoding of v.
func Marshal(v interface{}) ([]byte, error) {
	return sonic.Marshal(v)
}

// Unmarshal parses the JSON-encoded data and stores the result in the value
// pointed to by v.
func Unmarshal(data []byte, v interface{}) error {
	return sonic.Unmarshal(data, v)
}

// MarshalToString is like Marshal but returns the JSON as a string,
// avoiding the []byte-to-string copy.
func MarshalToString(v interface{}) (string, error) {
	return sonic.MarshalString(v)
}

// UnmarshalFromString parses the JSON string and stores the result in v.
func UnmarshalFromString(data string, v interface{}) error {
	return sonic.UnmarshalString(data, v)
}

// UnmarshalStrict parses data into v and fails on unknown fields.
// Model responses go through this path so a shape drift is detected as a
// malformed response instead of a silently half-filled result.
func UnmarshalStrict(data []byte, v interface{}) error {
	return strictAPI.Unmarshal(data, v)
}

// Valid reports whether data is a valid JSON encoding.
func Valid(data []byte) bool {
	return sonic.Valid(data)
}

// NewDecoder returns a new decoder that reads from r.
func NewDecoder(r io.Reader) *Decoder {
	return &Decoder{reader: r}
}

// NewEncoder returns a new encoder that writes to w.
func NewEncoder(w io.Writer) *Encoder {
	return &Encoder{writer: w}
}

// Decoder wraps Sonic's decoding behind the encoding/json stream surface.
type Decoder struct {
	reader io.Reader
	buf    *bytes.Buffer
}

// Decode reads the next JSON-encoded value from its input and stores it in
// the value pointed to by v.
func (d *Decoder) Decode(v interface{}) error {
	if d.buf == nil {
		d.buf = &bytes.Buffer{}
	}
	if _, err := io.Copy(d.buf, d.reader); err != nil {
		return err
	}
	return sonic.Unmarshal(d.buf.Bytes(), v)
}

// Buffered returns a reader of the data remaining in the Decoder's buffer.
// The reader is valid until the next call to Decode.
func (d *Decoder) Buffered() io.Reader {
	if d.buf == nil {
		return bytes.NewReader([]byte{})
	}
	return bytes.NewReader(d.buf.Bytes())
}

// Close clears the decoder's buffer.
func (d *Decoder) Close() error {
	d.buf = nil
	return nil
}

// Encoder wraps Sonic's encoding behind the encoding/json stream surface.
type Encoder struct {
	writer io.Writer
	buf    *bytes.Buffer
}

// Encode writes the JSON encoding of v to the stream, followed by a newline.
func (e *Encoder) Encode(v interface{}) error {
	if e.buf == nil {
		e.buf = &bytes.Buffer{}
	}
	e.buf.Reset()

	data, err := sonic.Marshal(v)
	if err != nil {
		return err
	}
	if _, err := e.buf.Write(data); err != nil {
		return err
	}
	if _, err := e.buf.WriteRune('\n'); err != nil {
		return err
	}

	_, err = e.writer.Write(e.buf.Bytes())
	return err
}

// SetEscapeHTML is a no-op; HTML escaping is disabled at config level.
func (e *Encoder) SetEscapeHTML(on bool) {}
