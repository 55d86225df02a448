package models

import (
	"strings"

	"github.com/pkg/errors"
)

// ErrUnknownOperation is returned for operation tags outside of the closed set.
var ErrUnknownOperation = errors.New("unknown operation")

// Operation is the kind of row mutation a ChangeEvent describes.
type Operation string

const (
	OpInsert Operation = "INSERT"
	OpUpdate Operation = "UPDATE"
	OpDelete Operation = "DELETE"
)

// Operations lists every known operation.
var Operations = []Operation{OpInsert, OpUpdate, OpDelete}

// ParseOperation maps a TG_OP style tag (case-insensitive) to an Operation.
func ParseOperation(s string) (Operation, error) {
	switch Operation(strings.ToUpper(strings.TrimSpace(s))) {
	case OpInsert:
		return OpInsert, nil
	case OpUpdate:
		return OpUpdate, nil
	case OpDelete:
		return OpDelete, nil
	default:
		return "", errors.Wrapf(ErrUnknownOperation, "operation=%q", s)
	}
}

func (o Operation) String() string {
	return string(o)
}
