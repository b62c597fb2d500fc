package libvirt

import (
	"fmt"

	golibvirt "github.com/digitalocean/go-libvirt"
	"gitlab.com/tozd/go/errors"

	"github.com/jbweber/virtmirror/api/v1alpha1"
)

var (
	// ErrTimeout is returned when a remote call exceeds its timeout.
	ErrTimeout = errors.New("remote call timed out")

	// ErrNotFound is returned when the addressed object does not exist.
	ErrNotFound = errors.New("object not found")

	// ErrUnknownScope is returned for scopes other than system and session.
	ErrUnknownScope = errors.New("unknown connection scope")

	// ErrClosed is returned for calls issued after Close.
	ErrClosed = errors.New("transport closed")
)

// RemoteCallError describes a failed remote call: a protocol fault, a
// timeout or a missing object.
type RemoteCallError struct {
	Scope  v1alpha1.Scope
	Path   string
	Method string
	Err    error
}

func (e *RemoteCallError) Error() string {
	if e.Path == "" {
		return fmt.Sprintf("%s on %s: %v", e.Method, e.Scope, e.Err)
	}
	return fmt.Sprintf("%s %s on %s: %v", e.Method, e.Path, e.Scope, e.Err)
}

func (e *RemoteCallError) Unwrap() error {
	return e.Err
}

// Is makes libvirt "no such object" errors match ErrNotFound.
func (e *RemoteCallError) Is(target error) bool {
	return target == ErrNotFound && isNotFound(e.Err)
}

func isNotFound(err error) bool {
	return errors.Is(err, ErrNotFound) || golibvirt.IsNotFound(err)
}

func newRemoteCallError(scope v1alpha1.Scope, path, method string, err error) error {
	return errors.WithDetails(&RemoteCallError{Scope: scope, Path: path, Method: method, Err: err},
		"scope", string(scope), "path", path, "method", method)
}
