package assets

import "errors"

// Failure taxonomy for the public loading surface. Every error returned by the
// manager and its drivers wraps exactly one of these sentinels so callers can
// branch with errors.Is instead of string matching. No condition here is fatal
// to the owning process.
var (
	// ErrNotFound means the path did not resolve to an existing file.
	ErrNotFound = errors.New("assets: not found")
	// ErrUnsupportedType means the asset type token is not one of image,
	// sound or font.
	ErrUnsupportedType = errors.New("assets: unsupported asset type")
	// ErrDecodeFailure means the file exists but its bytes could not be
	// parsed as the requested type.
	ErrDecodeFailure = errors.New("assets: decode failure")
	// ErrValidation means a pipeline validator rejected the request.
	ErrValidation = errors.New("assets: validation failure")
	// ErrNetwork means a remote fetch could not complete after retries.
	ErrNetwork = errors.New("assets: network failure")
)
