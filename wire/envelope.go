package wire

import (
	"encoding/json"
	"fmt"

	"github.com/vmihailenco/msgpack/v5"
)

// Request is the transport-agnostic request envelope.
type Request struct {
	Query *Map `json:"query" msgpack:"query"`
	// Components are class references ({"__Component": name}) the client
	// used while building the query. They are type hints only.
	Components []interface{} `json:"components,omitempty" msgpack:"components,omitempty"`
	Version    *int          `json:"version,omitempty" msgpack:"version,omitempty"`
}

// NewRequest returns a request for query, stamped with version when it is
// non-nil.
func NewRequest(query *Map, version *int) *Request {
	return &Request{Query: query, Version: version}
}

// Response carries either a serialized result or an error, never both.
type Response struct {
	Result interface{}
	Error  *Error
}

// Success returns a response for a serialized result.
func Success(result interface{}) *Response {
	return &Response{Result: result}
}

// Fail returns a response for err.
func Fail(err error) *Response {
	return &Response{Error: FromError(err)}
}

// Err returns the response error as an error value, or nil.
func (r *Response) Err() error {
	if r.Error == nil {
		return nil
	}
	return r.Error
}

func (r *Response) toMap() map[string]interface{} {
	if r.Error != nil {
		return map[string]interface{}{"error": r.Error.Map()}
	}
	return map[string]interface{}{"result": r.Result}
}

func (r *Response) fromMap(m map[string]interface{}) error {
	*r = Response{}
	if raw, ok := m["error"]; ok && raw != nil {
		em, ok := Plain(raw).(map[string]interface{})
		if !ok {
			return fmt.Errorf("wire: malformed error payload %T", raw)
		}
		r.Error = ErrorFromMap(em)
		return nil
	}
	r.Result = m["result"]
	return nil
}

func (r *Response) MarshalJSON() ([]byte, error) {
	return json.Marshal(r.toMap())
}

func (r *Response) UnmarshalJSON(data []byte) error {
	var m map[string]interface{}
	if err := json.Unmarshal(data, &m); err != nil {
		return err
	}
	return r.fromMap(m)
}

func (r *Response) EncodeMsgpack(enc *msgpack.Encoder) error {
	return enc.Encode(r.toMap())
}

func (r *Response) DecodeMsgpack(dec *msgpack.Decoder) error {
	var m map[string]interface{}
	if err := dec.Decode(&m); err != nil {
		return err
	}
	return r.fromMap(m)
}

// Version returns a pointer to v, for Request.Version and server options.
func Version(v int) *int {
	return &v
}
