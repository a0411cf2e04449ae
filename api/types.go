// Package api holds the wire types shared between the runtime host and
// sandboxed guests. Every trigger payload crossing the sandbox boundary is
// one of these types, encoded with CBOR.
package api

// HTTPRequest is the inbound half of an HTTP trigger, handed to the guest's
// http handler export.
type HTTPRequest struct {
	Method  string              `cbor:"method"`
	Path    string              `cbor:"path"`
	Query   string              `cbor:"query,omitempty"`
	Headers map[string][]string `cbor:"headers,omitempty"`
	Body    []byte              `cbor:"body,omitempty"`
}

// HTTPResponse is the guest's structured reply, serialized back onto the
// HTTP connection by the dispatcher.
type HTTPResponse struct {
	Status  int                 `cbor:"status"`
	Headers map[string][]string `cbor:"headers,omitempty"`
	Body    []byte              `cbor:"body,omitempty"`
}

// Message is a single delivery from a messaging backend.
type Message struct {
	Topic    string            `cbor:"topic"`
	Payload  []byte            `cbor:"payload"`
	Metadata map[string]string `cbor:"metadata,omitempty"`
}

// Socket event kinds, mirrored by guest SDKs.
const (
	SocketOpen    = "open"
	SocketMessage = "message"
	SocketClose   = "close"
)

// SocketEvent is one event on a websocket connection: the open handshake,
// an inbound frame, or the close notification. ConnID is stable for the
// lifetime of the connection.
type SocketEvent struct {
	Kind   string `cbor:"kind"`
	ConnID string `cbor:"conn_id"`
	Text   bool   `cbor:"text,omitempty"`
	Data   []byte `cbor:"data,omitempty"`
}

// SocketReply is the guest's optional response to a socket event. An empty
// reply (no data, no close) means nothing is written back.
type SocketReply struct {
	Text  bool   `cbor:"text,omitempty"`
	Data  []byte `cbor:"data,omitempty"`
	Close bool   `cbor:"close,omitempty"`
}

// Row is a single SQL result row keyed by column name, CBOR-encoded when
// returned through the sqldb capability cursor.
type Row map[string]any
