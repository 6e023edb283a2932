package bond

import (
	"errors"
	"fmt"
	"time"

	"google.golang.org/protobuf/encoding/protowire"
)

// Record is one bonded peer.
type Record struct {
	Address string
	Name    string
	KeySize int
	MITM    bool
	LTK     []byte // empty when the stack keeps the key itself
	Created time.Time
}

// Field numbers of the record message. The file body is a sequence of
// field 1 (bytes) entries, one per record.
//
//	message Record {
//	  string address    = 1;
//	  string name       = 2;
//	  uint32 key_size   = 3;
//	  bool   mitm       = 4;
//	  bytes  ltk        = 5;
//	  int64  created_ns = 6;
//	}
const (
	fieldRecords protowire.Number = 1

	fieldAddress protowire.Number = 1
	fieldName    protowire.Number = 2
	fieldKeySize protowire.Number = 3
	fieldMITM    protowire.Number = 4
	fieldLTK     protowire.Number = 5
	fieldCreated protowire.Number = 6
)

func appendRecord(b []byte, r Record) []byte {
	b = protowire.AppendTag(b, fieldAddress, protowire.BytesType)
	b = protowire.AppendString(b, r.Address)
	if r.Name != "" {
		b = protowire.AppendTag(b, fieldName, protowire.BytesType)
		b = protowire.AppendString(b, r.Name)
	}
	b = protowire.AppendTag(b, fieldKeySize, protowire.VarintType)
	b = protowire.AppendVarint(b, uint64(r.KeySize))
	if r.MITM {
		b = protowire.AppendTag(b, fieldMITM, protowire.VarintType)
		b = protowire.AppendVarint(b, protowire.EncodeBool(true))
	}
	if len(r.LTK) > 0 {
		b = protowire.AppendTag(b, fieldLTK, protowire.BytesType)
		b = protowire.AppendBytes(b, r.LTK)
	}
	if !r.Created.IsZero() {
		b = protowire.AppendTag(b, fieldCreated, protowire.VarintType)
		b = protowire.AppendVarint(b, uint64(r.Created.UnixNano()))
	}
	return b
}

func parseRecord(b []byte) (Record, error) {
	var r Record
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return Record{}, protowire.ParseError(n)
		}
		b = b[n:]

		switch {
		case num == fieldAddress && typ == protowire.BytesType:
			r.Address, n = protowire.ConsumeString(b)
		case num == fieldName && typ == protowire.BytesType:
			r.Name, n = protowire.ConsumeString(b)
		case num == fieldKeySize && typ == protowire.VarintType:
			var v uint64
			v, n = protowire.ConsumeVarint(b)
			r.KeySize = int(v)
		case num == fieldMITM && typ == protowire.VarintType:
			var v uint64
			v, n = protowire.ConsumeVarint(b)
			r.MITM = protowire.DecodeBool(v)
		case num == fieldLTK && typ == protowire.BytesType:
			var v []byte
			v, n = protowire.ConsumeBytes(b)
			r.LTK = append([]byte(nil), v...)
		case num == fieldCreated && typ == protowire.VarintType:
			var v uint64
			v, n = protowire.ConsumeVarint(b)
			r.Created = time.Unix(0, int64(v))
		default:
			n = protowire.ConsumeFieldValue(num, typ, b)
		}
		if n < 0 {
			return Record{}, protowire.ParseError(n)
		}
		b = b[n:]
	}
	if r.Address == "" {
		return Record{}, errors.New("record without address")
	}
	return r, nil
}

func marshalRecords(records []Record) []byte {
	var b []byte
	for _, r := range records {
		b = protowire.AppendTag(b, fieldRecords, protowire.BytesType)
		b = protowire.AppendBytes(b, appendRecord(nil, r))
	}
	return b
}

func unmarshalRecords(b []byte) ([]Record, error) {
	var records []Record
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return nil, fmt.Errorf("bond: decode: %w", protowire.ParseError(n))
		}
		b = b[n:]
		if num != fieldRecords || typ != protowire.BytesType {
			n = protowire.ConsumeFieldValue(num, typ, b)
			if n < 0 {
				return nil, fmt.Errorf("bond: decode: %w", protowire.ParseError(n))
			}
			b = b[n:]
			continue
		}
		msg, n := protowire.ConsumeBytes(b)
		if n < 0 {
			return nil, fmt.Errorf("bond: decode: %w", protowire.ParseError(n))
		}
		b = b[n:]
		r, err := parseRecord(msg)
		if err != nil {
			return nil, fmt.Errorf("bond: decode record %d: %w", len(records), err)
		}
		records = append(records, r)
	}
	return records, nil
}
