package errors

import "fmt"

var (
	ErrUnknownCommand = fmt.Errorf("unknown command")
	ErrNoSuchGroup    = fmt.Errorf("no such group")
	ErrGroupFull      = fmt.Errorf("group full")
	ErrClientLimit    = fmt.Errorf("client group limit reached")
	ErrNotInGroup     = fmt.Errorf("not in a group")
	ErrWorkerPanic    = fmt.Errorf("worker panic")
)
