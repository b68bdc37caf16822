// Package media validates and decodes the multimodal payloads attached to
// analysis requests: base64 images and audio blobs arriving over the message
// contract. Content is sniffed by magic number, never trusted by declared
// MIME type alone.
package media

import (
	"bytes"
	"encoding/base64"
	"fmt"

	"go.uber.org/zap"
)

// Image is a decoded image part, ordered as received.
type Image struct {
	Data     []byte
	MIMEType string
	Name     string
}

// Audio is a decoded audio part. Audio is accepted and validated but has no
// processing path in either provider; it is carried for counting only.
type Audio struct {
	Data     []byte
	MIMEType string
	Name     string
}

// EncodedPart is the wire shape of an attachment: base64 content plus the
// sender's declared MIME type and an optional display name.
type EncodedPart struct {
	Data     string `json:"data"`
	MIMEType string `json:"mimeType,omitempty"`
	Name     string `json:"name,omitempty"`
}

// ErrorKind classifies why a part was rejected.
type ErrorKind string

const (
	ErrInvalidBase64     ErrorKind = "invalid base64 encoding"
	ErrTooLarge          ErrorKind = "part exceeds size limit"
	ErrEmpty             ErrorKind = "part is empty"
	ErrTooManyParts      ErrorKind = "too many parts"
	ErrUnsupportedFormat ErrorKind = "unsupported media format"
)

// ValidationError reports a rejected part with enough context to name it in
// an API error string.
type ValidationError struct {
	Kind   ErrorKind
	Part   string
	Detail string
}

func (e *ValidationError) Error() string {
	if e.Detail == "" {
		return fmt.Sprintf("%s: %s", e.Part, e.Kind)
	}
	return fmt.Sprintf("%s: %s: %s", e.Part, e.Kind, e.Detail)
}

// Limits bounds attachment sizes and counts.
type Limits struct {
	MaxImageBytes int
	MaxAudioBytes int
	MaxImages     int
	MaxAudios     int
}

// DefaultLimits matches what the cloud API accepts inline without resumable
// upload.
func DefaultLimits() Limits {
	return Limits{
		MaxImageBytes: 8 * 1024 * 1024,
		MaxAudioBytes: 16 * 1024 * 1024,
		MaxImages:     8,
		MaxAudios:     4,
	}
}

// Validator decodes and checks encoded parts.
type Validator struct {
	limits Limits
	logger *zap.Logger
}

// NewValidator creates a validator. A nil logger is replaced with a no-op.
func NewValidator(limits Limits, logger *zap.Logger) *Validator {
	if logger == nil {
		logger = zap.NewNop()
	}
	if limits.MaxImageBytes <= 0 {
		limits = DefaultLimits()
	}
	return &Validator{limits: limits, logger: logger.Named("media")}
}

// DecodeImages decodes an ordered sequence of encoded image parts,
// preserving input order. The first invalid part fails the whole batch.
func (v *Validator) DecodeImages(parts []EncodedPart) ([]Image, error) {
	if len(parts) == 0 {
		return nil, nil
	}
	if len(parts) > v.limits.MaxImages {
		return nil, &ValidationError{Kind: ErrTooManyParts, Part: "images",
			Detail: fmt.Sprintf("%d parts, limit %d", len(parts), v.limits.MaxImages)}
	}

	images := make([]Image, 0, len(parts))
	for i, p := range parts {
		name := partName("image", i, p.Name)
		data, err := v.decode(p.Data, name, v.limits.MaxImageBytes)
		if err != nil {
			return nil, err
		}

		detected := DetectImageMIME(data)
		if detected == "" {
			return nil, &ValidationError{Kind: ErrUnsupportedFormat, Part: name,
				Detail: "content is not a recognized image format"}
		}
		if p.MIMEType != "" && p.MIMEType != detected {
			// The sniffed type wins; the cloud API rejects mislabeled parts.
			v.logger.Debug("declared MIME type overridden",
				zap.String("part", name),
				zap.String("declared", p.MIMEType),
				zap.String("detected", detected))
		}

		images = append(images, Image{Data: data, MIMEType: detected, Name: name})
	}
	return images, nil
}

// DecodeAudios decodes audio parts. They are validated for shape and size so
// callers get early feedback, even though no provider consumes them yet.
func (v *Validator) DecodeAudios(parts []EncodedPart) ([]Audio, error) {
	if len(parts) == 0 {
		return nil, nil
	}
	if len(parts) > v.limits.MaxAudios {
		return nil, &ValidationError{Kind: ErrTooManyParts, Part: "audios",
			Detail: fmt.Sprintf("%d parts, limit %d", len(parts), v.limits.MaxAudios)}
	}

	audios := make([]Audio, 0, len(parts))
	for i, p := range parts {
		name := partName("audio", i, p.Name)
		data, err := v.decode(p.Data, name, v.limits.MaxAudioBytes)
		if err != nil {
			return nil, err
		}

		detected := DetectAudioMIME(data)
		if detected == "" {
			return nil, &ValidationError{Kind: ErrUnsupportedFormat, Part: name,
				Detail: "content is not a recognized audio format"}
		}

		audios = append(audios, Audio{Data: data, MIMEType: detected, Name: name})
	}
	return audios, nil
}

// decode rejects oversized payloads before base64-decoding them, so a
// hostile request cannot force a large allocation.
func (v *Validator) decode(b64, part string, maxBytes int) ([]byte, error) {
	if len(b64) == 0 {
		return nil, &ValidationError{Kind: ErrEmpty, Part: part}
	}

	maxEncoded := (maxBytes*4)/3 + 100
	if len(b64) > maxEncoded {
		return nil, &ValidationError{Kind: ErrTooLarge, Part: part,
			Detail: fmt.Sprintf("encoded length %d, limit %d", len(b64), maxEncoded)}
	}

	data, err := base64.StdEncoding.DecodeString(b64)
	if err != nil {
		return nil, &ValidationError{Kind: ErrInvalidBase64, Part: part, Detail: err.Error()}
	}
	if len(data) == 0 {
		return nil, &ValidationError{Kind: ErrEmpty, Part: part}
	}
	if len(data) > maxBytes {
		return nil, &ValidationError{Kind: ErrTooLarge, Part: part,
			Detail: fmt.Sprintf("%d bytes, limit %d", len(data), maxBytes)}
	}
	return data, nil
}

func partName(kind string, idx int, name string) string {
	if name != "" {
		return name
	}
	return fmt.Sprintf("%s[%d]", kind, idx)
}

var imageMagic = []struct {
	mime   string
	prefix []byte
}{
	{"image/png", []byte{0x89, 'P', 'N', 'G', 0x0D, 0x0A, 0x1A, 0x0A}},
	{"image/jpeg", []byte{0xFF, 0xD8, 0xFF}},
	{"image/gif", []byte("GIF87a")},
	{"image/gif", []byte("GIF89a")},
	{"image/bmp", []byte("BM")},
}

// DetectImageMIME sniffs the image format from leading bytes. Returns ""
// when the content matches no supported format.
func DetectImageMIME(data []byte) string {
	for _, m := range imageMagic {
		if bytes.HasPrefix(data, m.prefix) {
			return m.mime
		}
	}
	// WEBP is a RIFF container: "RIFF" <size> "WEBP".
	if len(data) >= 12 && bytes.HasPrefix(data, []byte("RIFF")) && bytes.Equal(data[8:12], []byte("WEBP")) {
		return "image/webp"
	}
	return ""
}

// DetectAudioMIME sniffs the audio format from leading bytes.
func DetectAudioMIME(data []byte) string {
	switch {
	case len(data) >= 12 && bytes.HasPrefix(data, []byte("RIFF")) && bytes.Equal(data[8:12], []byte("WAVE")):
		return "audio/wav"
	case bytes.HasPrefix(data, []byte("ID3")):
		return "audio/mpeg"
	case len(data) >= 2 && data[0] == 0xFF && data[1]&0xE0 == 0xE0:
		// Raw MPEG frame sync without an ID3 tag.
		return "audio/mpeg"
	case bytes.HasPrefix(data, []byte("OggS")):
		return "audio/ogg"
	case bytes.HasPrefix(data, []byte("fLaC")):
		return "audio/flac"
	default:
		return ""
	}
}
