package blob

import (
	"campaigncore/internal/infra/blob/fs"
)

// NewFilesystem constructs a Store rooted at root.
func NewFilesystem(root string) (Store, error) {
	return fs.New(root)
}
