package fetch

import (
	"rcsync/internal/storage"
	"rcsync/internal/types"
)

// Kind tags one detected delta. The numeric values are part of the consumer
// contract.
type Kind uint8

const (
	Add    Kind = 1
	Update Kind = 2
	Remove Kind = 3
)

var kindNames = map[Kind]string{
	Add:    "add",
	Update: "update",
	Remove: "remove",
}

func (k Kind) String() string {
	if s, ok := kindNames[k]; ok {
		return s
	}
	return "unknown"
}

// Change is one delta between the previous cycle's state and the current
// response. File is the live storage handle for Add and Update; a consumer
// that keeps it beyond the callback must Retain it. Remove carries only the
// path and the last version the file had.
type Change struct {
	Kind        Kind
	Path        types.Path
	File        *storage.Handle
	Version     uint64
	PrevVersion uint64 // set for Update only
}
