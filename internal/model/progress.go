package model

// ProgressEvent reports translation progress to the caller. When Streaming
// is true, StreamSequence increases monotonically within a run; consumers
// must discard out-of-order sequences.
type ProgressEvent struct {
	TotalEntries     int    `json:"totalEntries"`
	CompletedEntries int    `json:"completedEntries"`
	CurrentBatch     int    `json:"currentBatch"`
	TotalBatches     int    `json:"totalBatches"`
	PartialDocument  string `json:"partialDocument,omitempty"`
	Streaming        bool   `json:"streaming"`
	StreamSequence   int64  `json:"streamSequence,omitempty"`
}
