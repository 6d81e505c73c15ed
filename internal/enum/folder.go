package enum

type FolderType string

const (
	FolderInbox   FolderType = "inbox"
	FolderSent    FolderType = "sent"
	FolderDrafts  FolderType = "drafts"
	FolderTrash   FolderType = "trash"
	FolderSpam    FolderType = "spam"
	FolderArchive FolderType = "archive"
)

func (t FolderType) String() string {
	return string(t)
}

// PriorityFolders are synced by the seed phase and the forward crawler.
// Archive and Spam are picked up by the full-sync walker only.
func PriorityFolders() []FolderType {
	return []FolderType{FolderInbox, FolderSent, FolderDrafts, FolderTrash}
}

// AllFolders returns the folder walk order used by the full-sync walker.
func AllFolders() []FolderType {
	return []FolderType{FolderInbox, FolderSent, FolderDrafts, FolderTrash, FolderArchive, FolderSpam}
}
