package repository

import "errors"

var (
	// ErrDestinationExists is returned when a checkout path is occupied by
	// something other than the requested repository.
	ErrDestinationExists = errors.New("destination already exists")

	// ErrInvalidSource is returned for an empty or unusable source.
	ErrInvalidSource = errors.New("invalid repository source")

	// ErrUnsafeArchive is returned for an archive with entries outside the
	// destination or beyond the extraction limits.
	ErrUnsafeArchive = errors.New("unsafe archive")
)

// Checkout is a repository working tree on local disk.
type Checkout struct {
	// RepoID is the identifier the checkout is stored under.
	RepoID string `json:"repo_id"`

	// Root is the absolute working tree path.
	Root string `json:"root"`

	// Revision is the HEAD commit hash. Empty for non-git directories.
	Revision string `json:"revision,omitempty"`

	// Branch is the checked-out branch, empty on a detached HEAD.
	Branch string `json:"branch,omitempty"`

	// Remote is the origin URL when one is configured.
	Remote string `json:"remote,omitempty"`
}
