package protocol

import (
	"fmt"

	"github.com/snowmerak/modhost/lib/mod"
)

// Hello returns the envelope that opens a connection.
func Hello(secret string) *Envelope {
	return &Envelope{Version: Version, Kind: KindHello, Secret: secret}
}

// Request returns a request envelope. id is ignored for KindListLoaded.
func Request(kind Kind, key uint32, id string) *Envelope {
	e := &Envelope{Version: Version, Kind: kind, Key: key}
	if kind != KindListLoaded {
		e.ID = id
	}
	return e
}

// Ack acknowledges the request with the given key.
func Ack(key uint32) *Envelope {
	return &Envelope{Version: Version, Kind: KindAck, Key: key}
}

// ModList answers ListLoaded.
func ModList(key uint32, entries []mod.Info) *Envelope {
	return &Envelope{Version: Version, Kind: KindModList, Key: key, Entries: entries}
}

// FaultEnvelope carries f.
func FaultEnvelope(f Fault) *Envelope {
	return &Envelope{
		Version: Version,
		Kind:    KindFault,
		Key:     f.Key,
		Code:    f.Code,
		Message: f.Message,
		Detail:  f.Detail,
	}
}

// Fault extracts the fault carried by a KindFault envelope.
func (e *Envelope) Fault() Fault {
	return Fault{Key: e.Key, Code: e.Code, Message: e.Message, Detail: e.Detail}
}

// Decode unmarshals data and checks the protocol version.
func Decode(data []byte) (*Envelope, error) {
	var e Envelope
	if err := e.UnmarshalBinary(data); err != nil {
		return &e, fmt.Errorf("%w: %v", ErrTransport, err)
	}
	if e.Version != Version {
		return &e, fmt.Errorf("%w: unsupported protocol version %d", ErrTransport, e.Version)
	}
	return &e, nil
}
