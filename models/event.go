package models

// Stage names a step of the batch state machine
type Stage string

const (
	StageDiscovering  Stage = "discovering"
	StageFetching     Stage = "fetching"
	StageExtracting   Stage = "extracting"
	StageTransferring Stage = "transferring"
	StagePersisting   Stage = "persisting"
	StageDone         Stage = "done"
	StageSkipped      Stage = "skipped"
	StageFailed       Stage = "failed"
	StageCompleted    Stage = "completed"
)

// Terminal reports whether a listing has finished in this stage
func (s Stage) Terminal() bool {
	return s == StageDone || s == StageSkipped || s == StageFailed
}

// ProgressEvent is emitted by the orchestrator while a batch runs
type ProgressEvent struct {
	Stage        Stage  `json:"stage"`
	Current      int    `json:"current"`
	Total        int    `json:"total"`
	ListingTitle string `json:"listing_title,omitempty"`
	Category     string `json:"category,omitempty"`
	Message      string `json:"message,omitempty"`
}
