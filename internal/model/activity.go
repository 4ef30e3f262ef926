package model

// StreamActivityEntry is the most recently playing stream recorded for a
// configuration. ExternalHash is stored and forwarded opaquely.
type StreamActivityEntry struct {
	VideoID      string `json:"videoId"`
	Filename     string `json:"filename,omitempty"`
	VideoHash    string `json:"videoHash,omitempty"`
	ExternalHash string `json:"externalHash,omitempty"`
	UpdatedAt    int64  `json:"updatedAt"`
}

// ActivityRecord is the inbound payload for recording stream activity.
type ActivityRecord struct {
	ConfigHash   string `json:"configHash"`
	VideoID      string `json:"videoId"`
	Filename     string `json:"filename,omitempty"`
	VideoHash    string `json:"videoHash,omitempty"`
	ExternalHash string `json:"externalHash,omitempty"`
}
