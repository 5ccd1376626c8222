package store

import "time"

// Direction is the planner's output for a FileRecord.
type Direction string

const (
	DirectionUpload   Direction = "upload"
	DirectionDownload Direction = "download"
	DirectionNone     Direction = "none"
)

// SyncStatus is the string-serialized form of FileRecord.sync_status:
// a bare kind for Synced/Pending/Syncing/Ignored, kind plus a detail
// column for Conflict/Error.
type SyncStatus string

const (
	StatusSynced   SyncStatus = "synced"
	StatusPending  SyncStatus = "pending"
	StatusSyncing  SyncStatus = "syncing"
	StatusConflict SyncStatus = "conflict"
	StatusError    SyncStatus = "error"
	StatusIgnored  SyncStatus = "ignored"
)

// EncryptionStatus is FileRecord.encryption_status.
type EncryptionStatus string

const (
	EncUnencrypted EncryptionStatus = "unencrypted"
	EncEncrypting  EncryptionStatus = "encrypting"
	EncEncrypted   EncryptionStatus = "encrypted"
	EncDecrypting  EncryptionStatus = "decrypting"
	EncError       EncryptionStatus = "error"
)

// ConflictType is the detail payload of a Conflict status.
type ConflictType string

const (
	ConflictBothModified   ConflictType = "both_modified"
	ConflictDeletedLocally ConflictType = "deleted_locally"
	ConflictDeletedRemote  ConflictType = "deleted_remotely"
	ConflictTypeMismatch   ConflictType = "type_mismatch"
)

// FileRecord is the durable record of one path's sync state.
type FileRecord struct {
	ID                 string
	Path               string
	Name               string
	IsDirectory        bool
	Size               int64
	MimeType           string
	ContentHash        string
	LocalModified      *time.Time
	RemoteModified     *time.Time
	ETag               string
	Direction          Direction
	SyncStatus         SyncStatus
	SyncStatusDetail   string // conflict type, or error message
	EncryptionStatus   EncryptionStatus
	EncryptionIV       string
	EncryptionMetadata string
	CreatedAt          time.Time
	UpdatedAt          time.Time
}

// EventType is the tagged variant of SyncEvent.event_type.
type EventType string

const (
	EventSyncRequested   EventType = "sync_requested"
	EventFileChanged     EventType = "file_changed"
	EventConflictResolved EventType = "conflict_resolved"
	EventStateChanged    EventType = "state_changed"
	EventError           EventType = "error"
)

// SyncEvent is one row of the append-only event log.
type SyncEvent struct {
	ID        string
	Timestamp time.Time
	EventType EventType
	FileID    string
	Message   string
}

// ConflictRecord is a surfaced conflict.
type ConflictRecord struct {
	ID           string
	FileID       string
	Path         string
	ConflictType ConflictType
	DetectedAt   time.Time
	LocalHash    string
	RemoteHash   string
	Resolution   string
	ResolvedAt   *time.Time
	ResolvedBy   string
}

// AuthSession is the singleton auth row.
type AuthSession struct {
	UserID       string
	Username     string
	AccessToken  string
	RefreshToken string
	ExpiresAt    *time.Time
	ServerInfo   string
	CreatedAt    time.Time
}

// WrappedMasterKey is the singleton-per-key-id wrapped master key row.
type WrappedMasterKey struct {
	KeyID        string
	WrappedBytes string // base64
	KDFSalt      string // base64
}

// EncryptionSettings is the singleton encryption-settings relation.
type EncryptionSettings struct {
	Enabled          bool
	Algorithm        string
	KeyStorage       string
	KeyStorageDetail string // e.g. key file path
	EncryptFilenames bool
	EncryptMetadata  bool
	KDFSalt          string
	KeyID            string
}
