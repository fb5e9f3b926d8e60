//go:build !unix

package state

import (
	"context"
	"errors"
	"time"
)

func acquireLock(ctx context.Context, path, document string, timeout time.Duration) (func(), error) {
	return nil, NewStorageError("file", "lock", document, errors.New("file locking requires a unix platform"))
}
