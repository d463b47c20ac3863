package bills

// WriteStatus is the outcome of a write.
type WriteStatus string

const (
	WriteSuccess WriteStatus = "success"
	WriteFailed  WriteStatus = "error"
)

// WriteResult is returned for every write of a Draft. Callers never observe
// errors of the remote mirror: a write whose local insert committed is a
// success, regardless of what happens afterwards.
type WriteResult struct {
	Status          WriteStatus
	ID              int64
	DuplicateStatus DuplicateStatus
	DerivedFilename string
	// Message holds the failure reason of an errored write.
	Message string
}

// OK is true if the write succeeded.
func (r WriteResult) OK() bool { return r.Status == WriteSuccess }

// Failed builds a WriteResult for an error.
func Failed(err error) WriteResult {
	return WriteResult{Status: WriteFailed, Message: err.Error()}
}
