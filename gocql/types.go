package gocql

import "github.com/datastax/go-cassandra-native-protocol/primitive"

// Consistency mirrors upstream gocql's Consistency type and numeric
// values, which happen to already match primitive.ConsistencyLevel's wire
// encoding one for one, so the conversion below is a plain cast.
type Consistency uint16

const (
	Any         Consistency = 0x00
	One         Consistency = 0x01
	Two         Consistency = 0x02
	Three       Consistency = 0x03
	Quorum      Consistency = 0x04
	All         Consistency = 0x05
	LocalQuorum Consistency = 0x06
	EachQuorum  Consistency = 0x07
	Serial      Consistency = 0x08
	LocalSerial Consistency = 0x09
	LocalOne    Consistency = 0x0A
)

func (c Consistency) toPrimitive() primitive.ConsistencyLevel {
	return primitive.ConsistencyLevel(c)
}
