package errs

import "errors"

var (
	ErrTransientProvider    = errors.New("transient provider error")
	ErrWindowSizeExceeded   = errors.New("window size exceeded")
	ErrCheckpointIO         = errors.New("checkpoint io failure")
	ErrRetrievalUnavailable = errors.New("retrieval unavailable")
	ErrCacheBackend         = errors.New("cache backend failure")
	ErrWindowFailed         = errors.New("window failed")
	ErrInvalid              = errors.New("invalid")
	ErrNotFound             = errors.New("not found")
)

func IsWindowSizeExceeded(err error) bool {
	return errors.Is(err, ErrWindowSizeExceeded)
}

func IsCheckpointIO(err error) bool {
	return errors.Is(err, ErrCheckpointIO)
}

func IsCacheBackend(err error) bool {
	return errors.Is(err, ErrCacheBackend)
}
