package model

// Session is a token-addressable configuration blob. The config map is
// opaque to the store; the translation boundary decodes it into typed
// options.
type Session struct {
	Token          string         `json:"-"`
	Config         map[string]any `json:"config"`
	CreatedAt      int64          `json:"createdAt"`
	LastAccessedAt int64          `json:"lastAccessedAt"`
}

// SessionSnapshot is the on-disk shape of the session store.
type SessionSnapshot struct {
	Version  string              `json:"version"`
	SavedAt  int64               `json:"savedAt"`
	Sessions map[string]*Session `json:"sessions"`
}

// SnapshotVersion is the current session blob format version.
const SnapshotVersion = "1.0"
