package normalizer

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"strings"
)

const (
	// ImageFieldName is the multipart part carrying the scan image.
	ImageFieldName = "image"

	// DefaultMaxImageBytes bounds the image accumulated from a multipart stream.
	DefaultMaxImageBytes int64 = 20 << 20

	maxTextFieldBytes = 1 << 20
	maxRawBodyEcho    = 4 << 10
)

// ErrImageTooLarge is returned when a multipart image part exceeds the configured bound.
var ErrImageTooLarge = errors.New("image part exceeds maximum size")

// RawPayload is a submission as received, before any field is interpreted.
type RawPayload struct {
	// Fields holds decoded JSON members or multipart text fields.
	Fields map[string]any
	// Image holds binary image bytes taken from the transport itself
	// (a multipart part or a raw base64 body). Base64 image fields inside
	// JSON stay in Fields and are decoded by Normalize.
	Image            []byte
	ImageFilename    string
	ImageContentType string
}

// ReadJSON decodes a JSON request body. It never fails: a body that is not a
// JSON object is retained under the "body" field, and a body that is a bare
// base64 image is treated like ReadBase64.
func ReadJSON(body []byte) *RawPayload {
	decoder := json.NewDecoder(bytes.NewReader(body))
	decoder.UseNumber()

	var decoded any
	if err := decoder.Decode(&decoded); err != nil {
		slog.Debug("normalizer: request body is not valid JSON", "error", err, "size_bytes", len(body))
		return ReadBase64(body)
	}

	switch v := decoded.(type) {
	case map[string]any:
		return &RawPayload{Fields: v}
	case string:
		return ReadBase64([]byte(v))
	default:
		return &RawPayload{Fields: map[string]any{"body": v}}
	}
}

// ReadBase64 treats the body as a base64 encoded image, optionally wrapped in
// a data URI. Bodies that do not decode are kept as text for auditing.
func ReadBase64(body []byte) *RawPayload {
	payload := &RawPayload{Fields: map[string]any{}}
	image, contentType, err := decodeBase64Image(string(body))
	if err != nil {
		if len(bytes.TrimSpace(body)) > 0 {
			payload.Fields["body"] = truncate(string(body), maxRawBodyEcho)
		}
		return payload
	}
	payload.Image = image
	payload.ImageContentType = contentType
	return payload
}

// ReadMultipart streams every part of a multipart body. The part named
// ImageFieldName is accumulated into one contiguous buffer of at most
// maxImageBytes; other file parts are discarded and text parts become fields.
// When a field name repeats, the first value is kept.
func ReadMultipart(reader *multipart.Reader, maxImageBytes int64) (*RawPayload, error) {
	if maxImageBytes <= 0 {
		maxImageBytes = DefaultMaxImageBytes
	}
	payload := &RawPayload{Fields: map[string]any{}}

	for {
		part, err := reader.NextPart()
		// only a bare EOF marks the closing boundary; a wrapped one is a cut stream
		if err == io.EOF {
			return payload, nil
		}
		if err != nil {
			return nil, fmt.Errorf("failed to read multipart body: %w", err)
		}

		if err := readPart(payload, part, maxImageBytes); err != nil {
			_ = part.Close()
			return nil, err
		}
		if err := part.Close(); err != nil {
			return nil, fmt.Errorf("failed to close multipart part %q: %w", part.FormName(), err)
		}
	}
}

func readPart(payload *RawPayload, part *multipart.Part, maxImageBytes int64) error {
	name := part.FormName()

	switch {
	case name == ImageFieldName && payload.Image == nil:
		var buf bytes.Buffer
		n, err := io.Copy(&buf, io.LimitReader(part, maxImageBytes+1))
		if err != nil {
			return fmt.Errorf("failed to read image part: %w", err)
		}
		if n > maxImageBytes {
			return ErrImageTooLarge
		}
		payload.Image = buf.Bytes()
		payload.ImageFilename = part.FileName()
		payload.ImageContentType = part.Header.Get("Content-Type")
		return nil
	case part.FileName() != "":
		// unrelated file parts are drained so the stream can advance
		_, err := io.Copy(io.Discard, part)
		return err
	default:
		value, err := io.ReadAll(io.LimitReader(part, maxTextFieldBytes))
		if err != nil {
			return fmt.Errorf("failed to read multipart field %q: %w", name, err)
		}
		if _, exists := payload.Fields[name]; !exists {
			payload.Fields[name] = string(value)
		}
		return nil
	}
}

// decodeBase64Image accepts plain base64 (standard or URL alphabet, padded or
// not) and data URIs such as "data:image/jpeg;base64,...".
func decodeBase64Image(value string) ([]byte, string, error) {
	data := strings.TrimSpace(value)
	contentType := ""
	if strings.HasPrefix(data, "data:") {
		comma := strings.IndexByte(data, ',')
		if comma < 0 {
			return nil, "", errors.New("data URI without payload")
		}
		meta := data[len("data:"):comma]
		if !strings.HasSuffix(meta, ";base64") {
			return nil, "", errors.New("data URI is not base64 encoded")
		}
		contentType = strings.TrimSuffix(meta, ";base64")
		data = data[comma+1:]
	}
	data = strings.Map(func(r rune) rune {
		if r == '\n' || r == '\r' || r == ' ' || r == '\t' {
			return -1
		}
		return r
	}, data)
	if data == "" {
		return nil, "", errors.New("empty base64 payload")
	}

	for _, encoding := range []*base64.Encoding{
		base64.StdEncoding,
		base64.RawStdEncoding,
		base64.URLEncoding,
		base64.RawURLEncoding,
	} {
		if decoded, err := encoding.DecodeString(data); err == nil && len(decoded) > 0 {
			return decoded, contentType, nil
		}
	}
	return nil, "", errors.New("payload is not valid base64")
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max]
}
