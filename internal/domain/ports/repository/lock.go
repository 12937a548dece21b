package repository

import "context"

// RunLocker serializes writers of a single run. Unlock must be called exactly once.
type RunLocker interface {
	Lock(ctx context.Context, key string) (unlock func(), err error)
}
