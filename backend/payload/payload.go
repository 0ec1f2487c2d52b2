package payload

// Payload is a serialized message body. The store treats it as opaque bytes.
type Payload []byte
