package core

import (
	"sync"
	"time"

	"verdictbot/core/verdict"
)

// Judgement is one completed judging request.
type Judgement struct {
	Model  string                   `json:"model"`
	Mode   string                   `json:"mode"`
	Image  string                   `json:"image"`
	Time   time.Time                `json:"time"`
	Tokens int                      `json:"tokens"`
	Result verdict.ExtractionResult `json:"result"`
}

// SessionManager remembers the most recent judgements per chat and user so
// they can be recalled or saved as favorites.
type SessionManager struct {
	mu         sync.Mutex
	sessions   map[string][]Judgement
	maxHistory int
}

func NewSessionManager(maxHistory int) *SessionManager {
	if maxHistory <= 0 {
		maxHistory = 1
	}
	return &SessionManager{
		sessions:   make(map[string][]Judgement),
		maxHistory: maxHistory,
	}
}

func (sm *SessionManager) key(chatID, userID string) string {
	return chatID + "|" + userID
}

func (sm *SessionManager) Add(chatID, userID string, j Judgement) {
	sm.mu.Lock()
	defer sm.mu.Unlock()

	k := sm.key(chatID, userID)
	h := append(sm.sessions[k], j)
	if len(h) > sm.maxHistory {
		h = h[len(h)-sm.maxHistory:]
	}
	sm.sessions[k] = h
}

// Last returns the newest judgement.
func (sm *SessionManager) Last(chatID, userID string) (Judgement, bool) {
	sm.mu.Lock()
	defer sm.mu.Unlock()

	h := sm.sessions[sm.key(chatID, userID)]
	if len(h) == 0 {
		return Judgement{}, false
	}
	return h[len(h)-1], true
}

// History returns a copy of the judgements, oldest first.
func (sm *SessionManager) History(chatID, userID string) []Judgement {
	sm.mu.Lock()
	defer sm.mu.Unlock()

	h := sm.sessions[sm.key(chatID, userID)]
	out := make([]Judgement, len(h))
	copy(out, h)
	return out
}

func (sm *SessionManager) Clear(chatID, userID string) {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	delete(sm.sessions, sm.key(chatID, userID))
}
