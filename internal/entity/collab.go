package entity

// SpecContext is what a generator sees about the job besides the item.
type SpecContext struct {
	JobID        string
	Title        string
	Summary      string
	SpecMarkdown string
	Repo         RepoRef
	Branch       string
}

// Generation is the output of one content-generation call.
type Generation struct {
	Content   string
	TokensIn  int64
	TokensOut int64
}

// WriteResult is returned by every write collaborator call. Failures are
// data, not panics or thrown errors; the caller decides their severity.
type WriteResult struct {
	OK    bool   `json:"ok"`
	Error string `json:"error,omitempty"`
	// URL is set by OpenResult (pull request URL).
	URL string `json:"url,omitempty"`
}

func WriteOK() WriteResult { return WriteResult{OK: true} }

func WriteFailed(err error) WriteResult { return WriteResult{OK: false, Error: err.Error()} }
