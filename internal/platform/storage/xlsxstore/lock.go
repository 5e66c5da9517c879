package xlsxstore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/gofrs/flock"

	"github.com/occhealth/occhealth/internal/platform/storage"
)

const lockRetryInterval = 25 * time.Millisecond

var errLockTimeout = errors.New("workbook lock not acquired")

// lockPath is the advisory lock file shared by every process using the
// workbook. The file itself carries no state and is never removed.
func (s *Store) lockPath() string {
	return s.path + ".lock"
}

// acquire takes the in-process semaphore and then the advisory lock next to
// the workbook. The OS drops the lock when its holder exits. The returned
// release must be called on every exit path.
func (s *Store) acquire(ctx context.Context) (func(), error) {
	if err := ctx.Err(); err != nil {
		return nil, storage.Unavailable("lock workbook", err)
	}
	ctx, cancel := context.WithTimeout(ctx, s.lockTimeout)
	defer cancel()

	select {
	case s.sem <- struct{}{}:
	case <-ctx.Done():
		return nil, storage.Unavailable("lock workbook", fmt.Errorf("%w: %w", errLockTimeout, ctx.Err()))
	}

	fl := flock.New(s.lockPath())
	locked, err := fl.TryLockContext(ctx, lockRetryInterval)
	switch {
	case err != nil && ctx.Err() != nil:
		<-s.sem
		return nil, storage.Unavailable("lock workbook", fmt.Errorf("%w: %w", errLockTimeout, ctx.Err()))
	case err != nil:
		<-s.sem
		return nil, storage.Unavailable("lock workbook", err)
	case !locked:
		<-s.sem
		return nil, storage.Unavailable("lock workbook", errLockTimeout)
	}

	return func() {
		if err := fl.Unlock(); err != nil {
			s.logger.Error().Err(err).Str("lock", s.lockPath()).Msg("workbook unlock failed")
		}
		<-s.sem
	}, nil
}
