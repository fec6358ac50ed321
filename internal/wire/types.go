package wire

import "encoding/json"

// CalendarFilter narrows which calendar entries a query covers.
type CalendarFilter struct {
	// Type is "threads" or "not_deleted".
	Type string `json:"type"`
	// ThreadIDs is set iff Type == "threads".
	ThreadIDs []string `json:"threadIDs,omitempty"`
}

const (
	CalendarFilterThreads    = "threads"
	CalendarFilterNotDeleted = "not_deleted"
)

// CalendarQuery describes the window of calendar entries a client is
// watching. Dates are "YYYY-MM-DD" strings, inclusive on both ends.
type CalendarQuery struct {
	StartDate string           `json:"startDate"`
	EndDate   string           `json:"endDate"`
	Filters   []CalendarFilter `json:"filters"`
}

// SessionState is the client's declaration of where its local store stands.
// It is never trusted without validation against server session truth.
type SessionState struct {
	CalendarQuery       CalendarQuery `json:"calendarQuery"`
	MessagesCurrentAsOf int64         `json:"messagesCurrentAsOf"`
	UpdatesCurrentAsOf  int64         `json:"updatesCurrentAsOf"`
	WatchedIDs          []string      `json:"watchedIDs"`
}

// SessionIdentification carries the client's credential and session id.
type SessionIdentification struct {
	Cookie    string `json:"cookie,omitempty"`
	SessionID string `json:"sessionID,omitempty"`
}

// ThreadInfo is the server-side representation of a chat thread sent over
// the socket.
type ThreadInfo struct {
	ID          string   `json:"id"`
	Type        int      `json:"type"`
	Name        string   `json:"name"`
	Description string   `json:"description,omitempty"`
	Color       string   `json:"color"`
	CreatorID   string   `json:"creatorID"`
	CreationTime int64   `json:"creationTime"`
	ParentThreadID string `json:"parentThreadID,omitempty"`
	MemberIDs   []string `json:"memberIDs"`
}

// EntryInfo is a calendar entry sent over the socket.
type EntryInfo struct {
	ID           string `json:"id"`
	ThreadID     string `json:"threadID"`
	Text         string `json:"text"`
	Year         int    `json:"year"`
	Month        int    `json:"month"`
	Day          int    `json:"day"`
	CreationTime int64  `json:"creationTime"`
	CreatorID    string `json:"creatorID"`
	Deleted      bool   `json:"deleted"`
}

// UserInfo is a known user record. Old clients only receive id and username.
type UserInfo struct {
	ID       string `json:"id"`
	Username string `json:"username"`
}

// CurrentUserInfo describes the authenticated principal.
type CurrentUserInfo struct {
	ID        string `json:"id"`
	Username  string `json:"username,omitempty"`
	Anonymous bool   `json:"anonymous,omitempty"`
}

// MessageInfo is a chat message sent over the socket.
type MessageInfo struct {
	ID       string `json:"id"`
	ThreadID string `json:"threadID"`
	UserID   string `json:"creatorID"`
	Type     int    `json:"type"`
	Text     string `json:"text"`
	Time     int64  `json:"time"`
}

// MessagesResult carries messages plus the watermark they advance to.
type MessagesResult struct {
	RawMessageInfos    []MessageInfo   `json:"rawMessageInfos"`
	TruncationStatuses map[string]string `json:"truncationStatuses"`
	CurrentAsOf        int64           `json:"currentAsOf"`
}

// UpdateInfo is a single delta produced by a mutation elsewhere.
type UpdateInfo struct {
	ID      string          `json:"id"`
	Type    string          `json:"type"`
	Time    int64           `json:"time"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// UpdatesResult carries updates plus the watermark they advance to.
type UpdatesResult struct {
	NewUpdates  []UpdateInfo `json:"newUpdates"`
	CurrentAsOf int64        `json:"currentAsOf"`
}

// ActivityUpdate reports a thread gaining or losing the client's focus.
type ActivityUpdate struct {
	Focus    bool   `json:"focus"`
	ThreadID string `json:"threadID"`
}

// UpdateActivityResult reports which activity updates were applied.
type UpdateActivityResult struct {
	UnfocusedToUnread []string `json:"unfocusedToUnread"`
}

// SignedIdentityKeysBlob is an opaque signed identity-key payload. The
// server verifies the signature but does not interpret the payload beyond
// extracting the signing key.
type SignedIdentityKeysBlob struct {
	Payload   string `json:"payload"`
	Signature string `json:"signature"`
}

// PlatformDetails identifies the client build.
type PlatformDetails struct {
	Platform     string `json:"platform"`
	CodeVersion  int    `json:"codeVersion,omitempty"`
	StateVersion int    `json:"stateVersion,omitempty"`
}

// SessionChange carries a replacement anonymous credential issued when the
// previous one was invalidated.
type SessionChange struct {
	Cookie          string          `json:"cookie"`
	CurrentUserInfo CurrentUserInfo `json:"currentUserInfo"`
}

// Hash is the server-computed content hash for one item or collection.
type Hash = uint64

// HashesToCheck maps a state key (a collection name like "threadInfos", or
// a composite "threadInfo|<id>") to its server-side hash.
type HashesToCheck = map[string]Hash

// StateChanges is the repair payload resolved by a consistency-check round.
type StateChanges struct {
	RawThreadInfos    []ThreadInfo     `json:"rawThreadInfos,omitempty"`
	DeleteThreadIDs   []string         `json:"deleteThreadIDs,omitempty"`
	RawEntryInfos     []EntryInfo      `json:"rawEntryInfos,omitempty"`
	DeleteEntryIDs    []string         `json:"deleteEntryIDs,omitempty"`
	UserInfos         []UserInfo       `json:"userInfos,omitempty"`
	DeleteUserInfoIDs []string         `json:"deleteUserInfoIDs,omitempty"`
	CurrentUserInfo   *CurrentUserInfo `json:"currentUserInfo,omitempty"`
}

// IsEmpty reports whether the repair payload carries nothing.
func (s StateChanges) IsEmpty() bool {
	return len(s.RawThreadInfos) == 0 && len(s.DeleteThreadIDs) == 0 &&
		len(s.RawEntryInfos) == 0 && len(s.DeleteEntryIDs) == 0 &&
		len(s.UserInfos) == 0 && len(s.DeleteUserInfoIDs) == 0 &&
		s.CurrentUserInfo == nil
}
