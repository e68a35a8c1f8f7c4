package profile

import (
	"context"
	"encoding/json"
	"errors"
	"net"
)

// Error taxonomy shared by every adapter.
var (
	ErrNetwork             = errors.New("network error")
	ErrTimeout             = errors.New("timeout")
	ErrParse               = errors.New("unexpected response structure")
	ErrExtractionExhausted = errors.New("extraction exhausted")
	ErrUnsupportedPlatform = errors.New("unsupported platform")
	ErrProfileNotFound     = errors.New("profile not found")
	ErrBlocked             = errors.New("blocked by bot protection")
)

// FetchError is the settled failure of one platform fetch.
type FetchError struct {
	Err      error    `json:"-"`
	Platform Platform `json:"platform"`
	Username string   `json:"username"`
	Cause    string   `json:"cause"`
}

// NewFetchError builds a FetchError whose Cause is derived from err.
func NewFetchError(platform Platform, username string, err error) *FetchError {
	fe := &FetchError{Platform: platform, Username: username, Err: Classify(err)}
	if errors.Is(fe.Err, ErrTimeout) {
		fe.Cause = "timeout"
	} else if err != nil {
		fe.Cause = err.Error()
	}
	return fe
}

func (e *FetchError) Error() string {
	return string(e.Platform) + ": " + e.Cause
}

func (e *FetchError) Unwrap() error { return e.Err }

// Profile returns a profile carrying only the platform, username and error.
func (e *FetchError) Profile() *PlatformProfile {
	p := New(e.Platform, e.Username)
	p.Error = e.Cause
	return p
}

// Classify maps arbitrary adapter errors onto the taxonomy. Errors already
// wrapping a taxonomy sentinel are returned unchanged.
func Classify(err error) error {
	if err == nil {
		return nil
	}
	for _, known := range []error{
		ErrNetwork, ErrTimeout, ErrParse, ErrExtractionExhausted,
		ErrUnsupportedPlatform, ErrProfileNotFound, ErrBlocked,
	} {
		if errors.Is(err, known) {
			return err
		}
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return &classified{kind: ErrTimeout, err: err}
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return &classified{kind: ErrTimeout, err: err}
	}

	var syntaxErr *json.SyntaxError
	var typeErr *json.UnmarshalTypeError
	if errors.As(err, &syntaxErr) || errors.As(err, &typeErr) {
		return &classified{kind: ErrParse, err: err}
	}

	return &classified{kind: ErrNetwork, err: err}
}

type classified struct {
	kind error
	err  error
}

func (c *classified) Error() string { return c.err.Error() }

func (c *classified) Unwrap() []error { return []error{c.kind, c.err} }
