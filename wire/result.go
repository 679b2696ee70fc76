package wire

import (
	"bytes"
	"encoding/json"
)

// Enumeration of response statuses.
const (
	StatusOK    = "OK"
	StatusError = "ERROR"
)

// A Result is the outcome of handling one Request. Exactly one of Payload and
// Err is meaningful: when Err is nil, the Result is a success and Payload is
// written alongside status "OK" (a nil Payload writes only the status).
type Result struct {
	Payload interface{}
	Err     *Error
}

// Ok returns a successful Result.
func Ok(payload interface{}) Result {
	return Result{Payload: payload}
}

// Err returns a failed Result.
func Err(err *Error) Result {
	return Result{Err: err}
}

// IsOk returns true if the Result is a success.
func (result Result) IsOk() bool {
	return result.Err == nil
}

// Status returns the wire status of the Result.
func (result Result) Status() string {
	if result.IsOk() {
		return StatusOK
	}
	return StatusError
}

// RegisterResponse is the payload of a successful REGISTER. IP and Port are
// the values stored by the server, not the values claimed by the client.
type RegisterResponse struct {
	TTL  int    `json:"ttl"`
	IP   string `json:"ip"`
	Port int    `json:"port"`
}

// DiscoverResponse is the payload of a successful DISCOVER. Peers is never
// nil on the wire.
type DiscoverResponse struct {
	Peers []PeerInfo `json:"peers"`
}

// PeerInfo summarises one live registration.
type PeerInfo struct {
	IP        string `json:"ip"`
	Port      int    `json:"port"`
	Name      string `json:"name"`
	Namespace string `json:"namespace"`
	TTL       int    `json:"ttl"`
	ExpiresIn int    `json:"expires_in"`
}

// Encode a Result into one line of JSON, without the line terminator. The
// status field is always written first.
func Encode(result Result) []byte {
	var body interface{} = result.Payload
	if !result.IsOk() {
		body = result.Err
	}

	status, _ := json.Marshal(result.Status())
	buf := bytes.NewBuffer(make([]byte, 0, 64))
	buf.WriteString(`{"status":`)
	buf.Write(status)

	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			// Payloads are plain structs, so this only happens if a caller
			// passes something that cannot be marshaled.
			return Encode(Err(NewErrorMessage("encoding response: " + err.Error())))
		}
		// Splice the members of the object into the envelope.
		if len(data) > 2 && data[0] == '{' {
			buf.WriteByte(',')
			buf.Write(data[1 : len(data)-1])
		}
	}
	buf.WriteByte('}')
	return buf.Bytes()
}

// A Response is the client-side view of any response line.
type Response struct {
	Status  string     `json:"status"`
	TTL     int        `json:"ttl,omitempty"`
	IP      string     `json:"ip,omitempty"`
	Port    int        `json:"port,omitempty"`
	Peers   []PeerInfo `json:"peers,omitempty"`
	Error   string     `json:"error,omitempty"`
	Message string     `json:"message,omitempty"`
	Limit   int        `json:"limit,omitempty"`
}

// DecodeResponse decodes one response line.
func DecodeResponse(line []byte) (Response, error) {
	resp := Response{}
	if err := json.Unmarshal(line, &resp); err != nil {
		return Response{}, err
	}
	return resp, nil
}

// Err returns the failure carried by the Response, or nil if the status is
// "OK".
func (resp Response) Err() error {
	if resp.Status == StatusOK {
		return nil
	}
	return &Error{Code: resp.Error, Message: resp.Message, Limit: resp.Limit}
}
