package common

import (
	"errors"
	"fmt"
)

// StoreErrType ...
type StoreErrType uint32

const (
	// KeyNotFound ...
	KeyNotFound StoreErrType = iota
	// DuplicateHash is returned when a fact is re-appended with obsoletion
	// edges that differ from the stored ones.
	DuplicateHash
	// UnknownReference is returned when a record obsoletes a hash that is not
	// in the store yet.
	UnknownReference
	// HashCollision is returned when two different facts produce the same
	// content hash.
	HashCollision
	// SelfReference is returned when a record lists its own hash among the
	// facts it obsoletes.
	SelfReference
	// Empty ...
	Empty
)

// StoreErr ...
type StoreErr struct {
	DataType string
	ErrType  StoreErrType
	Key      string
}

// NewStoreErr ...
func NewStoreErr(dataType string, errType StoreErrType, key string) StoreErr {
	return StoreErr{
		DataType: dataType,
		ErrType:  errType,
		Key:      key,
	}
}

// Error ...
func (e StoreErr) Error() string {
	m := ""
	switch e.ErrType {
	case KeyNotFound:
		m = "Not Found"
	case DuplicateHash:
		m = "Duplicate Hash"
	case UnknownReference:
		m = "Unknown Reference"
	case HashCollision:
		m = "Hash Collision"
	case SelfReference:
		m = "Self Reference"
	case Empty:
		m = "Empty"
	}

	return fmt.Sprintf("%s, %s, %s", e.DataType, e.Key, m)
}

// IsStore checks that an error is, or wraps, a StoreErr and that its code
// matches the provided StoreErr code.
func IsStore(err error, t StoreErrType) bool {
	var storeErr StoreErr
	return errors.As(err, &storeErr) && storeErr.ErrType == t
}
