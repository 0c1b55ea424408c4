package pipeline

import "fmt"

// TransferError is a failure while fetching, writing or finalizing the
// payload. It always ends the transfer as failed.
type TransferError struct {
	Op  string // open, copy, close, rename, stat
	Err error
}

func (e *TransferError) Error() string {
	return fmt.Sprintf("pipeline: transfer %s: %v", e.Op, e.Err)
}

func (e *TransferError) Unwrap() error { return e.Err }

// NotificationError is a failure to send or edit a status message. It is
// logged and never aborts the transfer.
type NotificationError struct {
	Op  string // reply, edit
	Err error
}

func (e *NotificationError) Error() string {
	return fmt.Sprintf("pipeline: notify %s: %v", e.Op, e.Err)
}

func (e *NotificationError) Unwrap() error { return e.Err }
