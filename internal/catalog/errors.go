package catalog

import (
	"errors"
	"fmt"
)

// Sentinel errors of the pipeline's failure taxonomy.
var (
	ErrFetch              = errors.New("fetch failed")
	ErrExtraction         = errors.New("extraction failed")
	ErrResolutionConflict = errors.New("reference resolution conflict")
	ErrImport             = errors.New("import failed")
	ErrArtifactMissing    = errors.New("artifact missing")
	ErrStoreUnavailable   = errors.New("store unavailable")
)

// FetchError reports a URL that could not be retrieved after retries.
type FetchError struct {
	URL      string
	Status   int
	Attempts int
	Err      error
}

func (e *FetchError) Error() string {
	if e.Status > 0 {
		return fmt.Sprintf("fetch %s: status %d after %d attempt(s): %v", e.URL, e.Status, e.Attempts, e.Err)
	}
	return fmt.Sprintf("fetch %s after %d attempt(s): %v", e.URL, e.Attempts, e.Err)
}

func (e *FetchError) Unwrap() error { return e.Err }

// Is matches ErrFetch.
func (e *FetchError) Is(target error) bool { return target == ErrFetch }

// ExtractionError describes a page whose structure did not match expectations.
type ExtractionError struct {
	URL    string
	Reason string
}

func (e *ExtractionError) Error() string {
	return fmt.Sprintf("extract %s: %s", e.URL, e.Reason)
}

// Is matches ErrExtraction.
func (e *ExtractionError) Is(target error) bool { return target == ErrExtraction }

// ImportError reports a record that was rolled back.
type ImportError struct {
	DetailURL string
	Err       error
}

func (e *ImportError) Error() string {
	return fmt.Sprintf("import %s: %v", e.DetailURL, e.Err)
}

func (e *ImportError) Unwrap() error { return e.Err }

// Is matches ErrImport.
func (e *ImportError) Is(target error) bool { return target == ErrImport }
