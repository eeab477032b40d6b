package scylla

import (
	"encoding/binary"
	"fmt"
	"math/big"

	"github.com/datastax/go-cassandra-native-protocol/message"
	"github.com/datastax/go-cassandra-native-protocol/primitive"
	"gopkg.in/inf.v0"
)

// QueryParams carries the per-call options alongside `values`: consistency
// level, paging and timestamp overrides. A zero Consistency is sent as ANY;
// every other zero field leaves its option unset, so the server's own
// default applies.
type QueryParams struct {
	Consistency       primitive.ConsistencyLevel
	PageSize          int32
	PagingState       []byte
	SerialConsistency *primitive.ConsistencyLevel
	Timestamp         *int64
	SkipMetadata      bool
}

// DefaultQueryParams defaults Consistency to ONE, the common client
// default; QUORUM would be equally defensible.
func DefaultQueryParams() QueryParams {
	return QueryParams{Consistency: primitive.ConsistencyLevelOne}
}

func (p QueryParams) toOptions(values []*primitive.Value) *message.QueryOptions {
	return &message.QueryOptions{
		Consistency:       p.Consistency,
		PositionalValues:  values,
		SkipMetadata:      p.SkipMetadata,
		PageSize:          p.PageSize,
		PagingState:       p.PagingState,
		SerialConsistency: p.SerialConsistency,
		DefaultTimestamp:  p.Timestamp,
	}
}

// Decimal is the CQL `decimal` bound-parameter type, backed by
// gopkg.in/inf.v0 the same way gocql represents arbitrary-precision decimal
// values: an unscaled big.Int plus a base-10 scale.
type Decimal struct {
	Unscaled *big.Int
	Scale    int32
}

// NewDecimal builds a Decimal from an inf.Dec, the type callers already
// holding one of gocql's decimal values would have on hand.
func NewDecimal(d *inf.Dec) Decimal {
	return Decimal{Unscaled: d.UnscaledBig(), Scale: d.Scale()}
}

func (d Decimal) encode() []byte {
	unscaled := d.Unscaled.Bytes()
	if d.Unscaled.Sign() < 0 {
		// big.Int.Bytes() drops the sign; CQL decimal wants a two's
		// complement unscaled value, matching gocql's own encoding.
		unscaled = twosComplement(d.Unscaled)
	} else if len(unscaled) == 0 || unscaled[0]&0x80 != 0 {
		// Zero, or a positive value whose top bit is set, needs a leading
		// 0x00 so it reads back as a non-negative two's complement value.
		unscaled = append([]byte{0}, unscaled...)
	}
	buf := make([]byte, 4+len(unscaled))
	binary.BigEndian.PutUint32(buf, uint32(d.Scale))
	copy(buf[4:], unscaled)
	return buf
}

func twosComplement(n *big.Int) []byte {
	bitLen := n.BitLen() + 1
	byteLen := (bitLen + 7) / 8
	b := make([]byte, byteLen)
	m := new(big.Int).Lsh(big.NewInt(1), uint(byteLen*8))
	m.Add(m, n)
	m.FillBytes(b)
	return b
}

// encodeValue converts a bound Go parameter into the wire Value the codec
// expects. Only the scalar types a session core needs to exercise are
// supported here; richer marshaling (collections, UDTs) belongs to a
// higher-level statement/result layer this module does not implement.
func encodeValue(v interface{}) (*primitive.Value, error) {
	switch x := v.(type) {
	case nil:
		return primitive.NilValue, nil
	case []byte:
		return primitive.NewValue(x), nil
	case string:
		return primitive.NewValue([]byte(x)), nil
	case bool:
		if x {
			return primitive.NewValue([]byte{1}), nil
		}
		return primitive.NewValue([]byte{0}), nil
	case int:
		return encodeValue(int64(x))
	case int32:
		buf := make([]byte, 4)
		binary.BigEndian.PutUint32(buf, uint32(x))
		return primitive.NewValue(buf), nil
	case int64:
		buf := make([]byte, 8)
		binary.BigEndian.PutUint64(buf, uint64(x))
		return primitive.NewValue(buf), nil
	case Decimal:
		return primitive.NewValue(x.encode()), nil
	case *inf.Dec:
		return primitive.NewValue(NewDecimal(x).encode()), nil
	default:
		return nil, fmt.Errorf("unsupported bound value type %T", v)
	}
}

func encodeValues(values []interface{}) ([]*primitive.Value, error) {
	out := make([]*primitive.Value, len(values))
	for i, v := range values {
		enc, err := encodeValue(v)
		if err != nil {
			return nil, fmt.Errorf("value %d: %w", i, err)
		}
		out[i] = enc
	}
	return out, nil
}
