package models

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

// Cleanup queue item status values
const (
	CleanupStatusPending    = "pending"
	CleanupStatusProcessing = "processing"
	CleanupStatusDone       = "done"
	CleanupStatusFailed     = "failed"
)

// Well-known enqueue reasons
const (
	CleanupReasonUserDelete    = "user_delete"
	CleanupReasonConflictFix   = "conflict_fix"
	CleanupReasonMirrorRemoved = "mirror_removed"
)

// CleanupItem is a pending obligation to delete one object from the asset
// store. Items are created whenever a mirror row is removed by any path other
// than a confirmed store-side deletion.
type CleanupItem struct {
	ID            string     `json:"id"`
	PublicID      string     `json:"publicId"`
	Reason        string     `json:"reason"`
	Attempts      int        `json:"attempts"`
	Status        string     `json:"status"`
	LastError     *string    `json:"lastError,omitempty"`
	CreatedAt     time.Time  `json:"createdAt"`
	NextAttemptAt time.Time  `json:"nextAttemptAt"`
	CompletedAt   *time.Time `json:"completedAt,omitempty"`
}

// NewCleanupItem creates a pending cleanup item due immediately.
func NewCleanupItem(publicID, reason string) (*CleanupItem, error) {
	if strings.TrimSpace(publicID) == "" {
		return nil, ErrEmptyPublicID
	}

	now := time.Now().UTC()
	return &CleanupItem{
		ID:            uuid.New().String(),
		PublicID:      publicID,
		Reason:        reason,
		Status:        CleanupStatusPending,
		CreatedAt:     now,
		NextAttemptAt: now,
	}, nil
}

// MarkDone records a confirmed store-side deletion (or confirmed absence).
func (c *CleanupItem) MarkDone(now time.Time) {
	c.Status = CleanupStatusDone
	c.CompletedAt = &now
}

// RecordFailure increments the attempt count and either schedules a retry
// with exponential backoff or dead-letters the item once maxAttempts is
// reached. Returns true if the item was dead-lettered.
func (c *CleanupItem) RecordFailure(errMsg string, maxAttempts int, backoffBase, backoffCap time.Duration, now time.Time) bool {
	c.Attempts++
	c.LastError = &errMsg

	if c.Attempts >= maxAttempts {
		c.Status = CleanupStatusFailed
		c.CompletedAt = &now
		return true
	}

	c.Status = CleanupStatusPending
	c.NextAttemptAt = now.Add(backoffDelay(c.Attempts, backoffBase, backoffCap))
	return false
}

// backoffDelay doubles the base delay per prior attempt, capped.
func backoffDelay(attempts int, base, cap time.Duration) time.Duration {
	delay := base
	for i := 1; i < attempts; i++ {
		delay *= 2
		if delay >= cap {
			return cap
		}
	}
	if delay > cap {
		return cap
	}
	return delay
}

// CleanupStats summarizes the queue for the admin surface.
type CleanupStats struct {
	PendingCount    int            `json:"pendingCount"`
	ProcessingCount int            `json:"processingCount"`
	DoneCount       int            `json:"doneCount"`
	FailedCount     int            `json:"failedCount"`
	DueNowCount     int            `json:"dueNowCount"`
	OldestPendingAt *time.Time     `json:"oldestPendingAt,omitempty"`
	DeadLetters     []*CleanupItem `json:"deadLetters,omitempty"`
}

// CleanupSummary is the result of one queue drain pass.
type CleanupSummary struct {
	Processed int                `json:"processed"`
	Succeeded int                `json:"succeeded"`
	Failed    int                `json:"failed"`
	Remaining int                `json:"remaining"`
	Errors    []CleanupItemError `json:"errors,omitempty"`
}

// CleanupItemError reports one failed deletion with its reason.
type CleanupItemError struct {
	PublicID string `json:"publicId"`
	Error    string `json:"error"`
}
