package publish

import "fmt"

// ConfigurationError indicates invalid input, detected before any provider
// call is made.
type ConfigurationError struct {
	Reason string
}

func (e *ConfigurationError) Error() string {
	return "configuration error: " + e.Reason
}

// UploadError indicates the home-region snapshot upload failed. It is fatal
// to the whole operation.
type UploadError struct {
	Region string
	Err    error
}

func (e *UploadError) Error() string {
	return fmt.Sprintf("snapshot upload to %s failed: %v", e.Region, e.Err)
}

func (e *UploadError) Unwrap() error {
	return e.Err
}

// RegistrationError indicates an image registration did not reach the
// available state. Timeout distinguishes "gave up waiting, the image may
// still appear" from a provider rejection, which will not recover.
type RegistrationError struct {
	Region  string
	Timeout bool
	Err     error
}

func (e *RegistrationError) Error() string {
	if e.Timeout {
		return fmt.Sprintf("timed out waiting for image registration in %s: %v", e.Region, e.Err)
	}
	return fmt.Sprintf("image registration in %s failed: %v", e.Region, e.Err)
}

func (e *RegistrationError) Unwrap() error {
	return e.Err
}

// CopyError indicates a cross-region snapshot copy did not complete, with
// the same timeout distinction as RegistrationError.
type CopyError struct {
	Region  string
	Timeout bool
	Err     error
}

func (e *CopyError) Error() string {
	if e.Timeout {
		return fmt.Sprintf("timed out waiting for snapshot copy to %s: %v", e.Region, e.Err)
	}
	return fmt.Sprintf("snapshot copy to %s failed: %v", e.Region, e.Err)
}

func (e *CopyError) Unwrap() error {
	return e.Err
}

// CleanupError indicates a best-effort deletion of a dangling resource
// failed. It is logged and never escalated over the error that triggered
// the cleanup.
type CleanupError struct {
	Resource string
	Err      error
}

func (e *CleanupError) Error() string {
	return fmt.Sprintf("cleanup of %s failed: %v", e.Resource, e.Err)
}

func (e *CleanupError) Unwrap() error {
	return e.Err
}
