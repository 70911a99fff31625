package episode

// Episode is a downloadable unit: a podcast episode or a standalone user file.
// User files have an empty PodcastID and must be uploaded before they can be
// fetched.
type Episode struct {
	ID          string
	PodcastID   string
	Title       string
	DownloadURL string

	// SizeBytes is a best-effort expected size reported by the feed.
	// Zero means unknown.
	SizeBytes int64

	// IsUploaded only applies to user files (empty PodcastID).
	IsUploaded bool

	// ExcludeFromAutoDownload marks episodes the user opted out of
	// automatic downloads for. User-triggered downloads ignore it.
	ExcludeFromAutoDownload bool

	Status       DownloadStatus
	ErrorMessage string
	FilePath     string
}

// IsUserFile reports whether the episode is a standalone user upload
// rather than a podcast episode.
func (e *Episode) IsUserFile() bool {
	return e.PodcastID == ""
}

// IsDownloaded reports whether a playable local file already exists.
func (e *Episode) IsDownloaded() bool {
	return e.Status == StatusDownloaded
}

// DownloadType determines which constraint profile applies to a request.
type DownloadType int

const (
	// UserTriggered downloads never wait on network type or power.
	UserTriggered DownloadType = iota
	// Automatic downloads honor the user's unmetered-only and
	// charging-only settings.
	Automatic
)

func (t DownloadType) String() string {
	switch t {
	case UserTriggered:
		return "user_triggered"
	case Automatic:
		return "automatic"
	default:
		return "unknown"
	}
}

// DownloadStatus is the persisted, human-meaningful download state of an
// episode. Exactly one value holds at a time.
type DownloadStatus int

const (
	StatusNotQueued DownloadStatus = iota
	StatusQueued
	StatusWaitingForNetwork
	StatusWaitingForPower
	StatusWaitingForStorage
	StatusInProgress
	StatusDownloaded
	StatusFailed
)

var statusNames = map[DownloadStatus]string{
	StatusNotQueued:         "not_queued",
	StatusQueued:            "queued",
	StatusWaitingForNetwork: "waiting_for_network",
	StatusWaitingForPower:   "waiting_for_power",
	StatusWaitingForStorage: "waiting_for_storage",
	StatusInProgress:        "in_progress",
	StatusDownloaded:        "downloaded",
	StatusFailed:            "failed",
}

func (s DownloadStatus) String() string {
	if name, ok := statusNames[s]; ok {
		return name
	}

	return "unknown"
}

// ParseStatus maps a persisted status name back to its DownloadStatus.
func ParseStatus(name string) (DownloadStatus, bool) {
	for status, n := range statusNames {
		if n == name {
			return status, true
		}
	}

	return StatusNotQueued, false
}

// IsPending reports whether the status belongs to the pending group: states
// that imply a live work record should exist for the episode. An episode in
// a pending status with no matching work record is stale and gets reset to
// StatusNotQueued by the next reconciliation pass.
func (s DownloadStatus) IsPending() bool {
	switch s {
	case StatusQueued, StatusWaitingForNetwork, StatusWaitingForPower, StatusWaitingForStorage, StatusInProgress:
		return true
	default:
		return false
	}
}

// IsTerminal reports whether the status ends the current download cycle.
func (s DownloadStatus) IsTerminal() bool {
	return s == StatusDownloaded || s == StatusFailed
}

// PendingStatuses returns the members of the pending group.
func PendingStatuses() []DownloadStatus {
	return []DownloadStatus{
		StatusQueued,
		StatusWaitingForNetwork,
		StatusWaitingForPower,
		StatusWaitingForStorage,
		StatusInProgress,
	}
}

// StatusUpdate is one entry of an atomic batch status write.
type StatusUpdate struct {
	Status       DownloadStatus
	ErrorMessage string
	FilePath     string
}

// Idle resets an episode to the not-queued state, clearing any error.
func Idle() StatusUpdate {
	return StatusUpdate{Status: StatusNotQueued}
}

// Failure marks an episode failed with a human-readable reason.
func Failure(message string) StatusUpdate {
	return StatusUpdate{Status: StatusFailed, ErrorMessage: message}
}

// Success marks an episode downloaded with the final file path.
func Success(filePath string) StatusUpdate {
	return StatusUpdate{Status: StatusDownloaded, FilePath: filePath}
}
