package wire

import (
	"encoding/json"
	"fmt"
	"mime"

	"github.com/vmihailenco/msgpack/v5"
)

// Codec turns envelopes into bytes and back. Both codecs keep query key
// order.
type Codec interface {
	Name() string
	ContentType() string
	Marshal(v interface{}) ([]byte, error)
	Unmarshal(data []byte, v interface{}) error
}

var (
	JSON    Codec = jsonCodec{}
	Msgpack Codec = msgpackCodec{}
)

type jsonCodec struct{}

func (jsonCodec) Name() string        { return "json" }
func (jsonCodec) ContentType() string { return "application/json" }

func (jsonCodec) Marshal(v interface{}) ([]byte, error) {
	return json.Marshal(v)
}

func (jsonCodec) Unmarshal(data []byte, v interface{}) error {
	return json.Unmarshal(data, v)
}

type msgpackCodec struct{}

func (msgpackCodec) Name() string        { return "msgpack" }
func (msgpackCodec) ContentType() string { return "application/msgpack" }

func (msgpackCodec) Marshal(v interface{}) ([]byte, error) {
	return msgpack.Marshal(v)
}

func (msgpackCodec) Unmarshal(data []byte, v interface{}) error {
	return msgpack.Unmarshal(data, v)
}

// CodecNamed returns the codec called name ("json" or "msgpack"). An empty
// name selects JSON.
func CodecNamed(name string) (Codec, error) {
	switch name {
	case "", "json":
		return JSON, nil
	case "msgpack", "messagepack":
		return Msgpack, nil
	}
	return nil, fmt.Errorf("wire: unknown codec %q", name)
}

// CodecFor returns the codec for a Content-Type header value. An empty
// value selects JSON.
func CodecFor(contentType string) (Codec, error) {
	if contentType == "" {
		return JSON, nil
	}
	media, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		return nil, fmt.Errorf("wire: content type %q: %w", contentType, err)
	}
	switch media {
	case JSON.ContentType():
		return JSON, nil
	case Msgpack.ContentType(), "application/x-msgpack", "application/vnd.msgpack":
		return Msgpack, nil
	}
	return nil, fmt.Errorf("wire: unsupported content type %q", media)
}
