package model

import (
	"errors"
	"fmt"
)

var (
	// ErrUnknownEventKind marks a log whose topic0 matches none of the six
	// known event signatures.
	ErrUnknownEventKind = errors.New("unknown event kind")
	// ErrMalformedLog marks a log whose topics or data do not match the
	// declared schema of its event.
	ErrMalformedLog = errors.New("malformed log")
)

// DecodeError records a decode failure for a single log. It never covers
// block lookups: a timestamp fetch failure is a connectivity problem and is
// reported as such by the caller.
type DecodeError struct {
	BlockNumber uint64
	TxHash      string
	LogIndex    uint64
	Topic0      string
	Err         error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("decode log %s:%d (block %d, topic0 %s): %v",
		e.TxHash, e.LogIndex, e.BlockNumber, e.Topic0, e.Err)
}

func (e *DecodeError) Unwrap() error {
	return e.Err
}
