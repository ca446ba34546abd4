package protocol

import (
	"fmt"
	"math"

	"google.golang.org/protobuf/encoding/protowire"

	"github.com/snowmerak/modhost/lib/mod"
)

// Envelope field numbers.
const (
	fieldVersion protowire.Number = 1
	fieldKind    protowire.Number = 2
	fieldKey     protowire.Number = 3
	fieldID      protowire.Number = 4
	fieldEntry   protowire.Number = 5
	fieldMessage protowire.Number = 6
	fieldDetail  protowire.Number = 7
	fieldCode    protowire.Number = 8
	fieldSecret  protowire.Number = 9
)

// Entry field numbers.
const (
	entryID         protowire.Number = 1
	entryState      protowire.Number = 2
	entryCanSuspend protowire.Number = 3
	entryCanUnload  protowire.Number = 4
)

// Envelope is the single wire message. Which fields are meaningful depends
// on Kind; unused fields are left at their zero value and not encoded.
type Envelope struct {
	Version uint32
	Kind    Kind
	Key     uint32
	ID      string
	Entries []mod.Info
	Message string
	Detail  string
	Code    Code
	Secret  string
}

// MarshalBinary encodes the envelope in protobuf wire format.
func (e *Envelope) MarshalBinary() ([]byte, error) {
	var b []byte
	b = appendVarint(b, fieldVersion, uint64(e.Version))
	b = appendVarint(b, fieldKind, uint64(e.Kind))
	b = appendVarint(b, fieldKey, uint64(e.Key))
	b = appendString(b, fieldID, e.ID)
	for _, info := range e.Entries {
		b = protowire.AppendTag(b, fieldEntry, protowire.BytesType)
		b = protowire.AppendBytes(b, marshalEntry(info))
	}
	b = appendString(b, fieldMessage, e.Message)
	b = appendString(b, fieldDetail, e.Detail)
	b = appendVarint(b, fieldCode, uint64(e.Code))
	b = appendString(b, fieldSecret, e.Secret)
	return b, nil
}

// UnmarshalBinary decodes an envelope. Unknown fields are skipped.
func (e *Envelope) UnmarshalBinary(data []byte) error {
	*e = Envelope{}

	for len(data) > 0 {
		num, typ, n := protowire.ConsumeTag(data)
		if n < 0 {
			return fmt.Errorf("failed to read tag: %w", protowire.ParseError(n))
		}
		data = data[n:]

		switch {
		case typ == protowire.VarintType && isVarintField(num):
			v, n := protowire.ConsumeVarint(data)
			if n < 0 {
				return fmt.Errorf("failed to read field %d: %w", num, protowire.ParseError(n))
			}
			data = data[n:]
			if err := e.setVarint(num, v); err != nil {
				return err
			}

		case typ == protowire.BytesType && num == fieldEntry:
			v, n := protowire.ConsumeBytes(data)
			if n < 0 {
				return fmt.Errorf("failed to read entry: %w", protowire.ParseError(n))
			}
			data = data[n:]
			info, err := unmarshalEntry(v)
			if err != nil {
				return err
			}
			e.Entries = append(e.Entries, info)

		case typ == protowire.BytesType && isStringField(num):
			v, n := protowire.ConsumeString(data)
			if n < 0 {
				return fmt.Errorf("failed to read field %d: %w", num, protowire.ParseError(n))
			}
			data = data[n:]
			e.setString(num, v)

		default:
			n := protowire.ConsumeFieldValue(num, typ, data)
			if n < 0 {
				return fmt.Errorf("failed to skip field %d: %w", num, protowire.ParseError(n))
			}
			data = data[n:]
		}
	}
	return nil
}

func isVarintField(num protowire.Number) bool {
	return num == fieldVersion || num == fieldKind || num == fieldKey || num == fieldCode
}

func isStringField(num protowire.Number) bool {
	return num == fieldID || num == fieldMessage || num == fieldDetail || num == fieldSecret
}

func (e *Envelope) setVarint(num protowire.Number, v uint64) error {
	limit := uint64(math.MaxUint32)
	if num == fieldKind {
		limit = math.MaxUint8
	}
	if v > limit {
		return fmt.Errorf("field %d: value %d overflows", num, v)
	}

	switch num {
	case fieldVersion:
		e.Version = uint32(v)
	case fieldKind:
		e.Kind = Kind(v)
	case fieldKey:
		e.Key = uint32(v)
	case fieldCode:
		e.Code = Code(v)
	}
	return nil
}

func (e *Envelope) setString(num protowire.Number, v string) {
	switch num {
	case fieldID:
		e.ID = v
	case fieldMessage:
		e.Message = v
	case fieldDetail:
		e.Detail = v
	case fieldSecret:
		e.Secret = v
	}
}

func marshalEntry(info mod.Info) []byte {
	var b []byte
	b = appendString(b, entryID, info.ID)
	b = appendVarint(b, entryState, uint64(info.State))
	b = appendBool(b, entryCanSuspend, info.CanSuspend)
	b = appendBool(b, entryCanUnload, info.CanUnload)
	return b
}

func unmarshalEntry(data []byte) (mod.Info, error) {
	var info mod.Info
	for len(data) > 0 {
		num, typ, n := protowire.ConsumeTag(data)
		if n < 0 {
			return info, fmt.Errorf("failed to read entry tag: %w", protowire.ParseError(n))
		}
		data = data[n:]

		switch {
		case num == entryID && typ == protowire.BytesType:
			v, n := protowire.ConsumeString(data)
			if n < 0 {
				return info, fmt.Errorf("failed to read entry id: %w", protowire.ParseError(n))
			}
			data = data[n:]
			info.ID = v

		case typ == protowire.VarintType && (num == entryState || num == entryCanSuspend || num == entryCanUnload):
			v, n := protowire.ConsumeVarint(data)
			if n < 0 {
				return info, fmt.Errorf("failed to read entry field %d: %w", num, protowire.ParseError(n))
			}
			data = data[n:]
			switch num {
			case entryState:
				if v > math.MaxUint8 {
					return info, fmt.Errorf("entry state %d overflows", v)
				}
				info.State = mod.State(v)
			case entryCanSuspend:
				info.CanSuspend = protowire.DecodeBool(v)
			case entryCanUnload:
				info.CanUnload = protowire.DecodeBool(v)
			}

		default:
			n := protowire.ConsumeFieldValue(num, typ, data)
			if n < 0 {
				return info, fmt.Errorf("failed to skip entry field %d: %w", num, protowire.ParseError(n))
			}
			data = data[n:]
		}
	}

	if !info.State.Valid() {
		return info, fmt.Errorf("entry %q has invalid state %d", info.ID, info.State)
	}
	return info, nil
}

func appendVarint(b []byte, num protowire.Number, v uint64) []byte {
	if v == 0 {
		return b
	}
	b = protowire.AppendTag(b, num, protowire.VarintType)
	return protowire.AppendVarint(b, v)
}

func appendBool(b []byte, num protowire.Number, v bool) []byte {
	return appendVarint(b, num, protowire.EncodeBool(v))
}

func appendString(b []byte, num protowire.Number, s string) []byte {
	if s == "" {
		return b
	}
	b = protowire.AppendTag(b, num, protowire.BytesType)
	return protowire.AppendString(b, s)
}
