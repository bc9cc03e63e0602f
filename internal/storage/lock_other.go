//go:build !unix

package storage

// ownerLock is a no-op where flock is unavailable.
type ownerLock struct{}

func acquireOwner(string) (*ownerLock, error) { return &ownerLock{}, nil }

func (l *ownerLock) release() error { return nil }
