// Package queue implements the relational store of tasks, proxies, parsed
// cards, validation results, and processed-article history,
// plus the atomic leasing primitives built on top of it.
package queue

import (
	"encoding/json"
	"time"
)

// TaskStatus is the lifecycle state of a Task.
type TaskStatus string

const (
	TaskStatusNew        TaskStatus = "NEW"
	TaskStatusInProgress TaskStatus = "IN_PROGRESS"
	TaskStatusDone       TaskStatus = "DONE"
	TaskStatusError      TaskStatus = "ERROR"
)

// ProxyStatus is the lifecycle state of a Proxy.
type ProxyStatus string

const (
	ProxyStatusFree    ProxyStatus = "FREE"
	ProxyStatusInUse   ProxyStatus = "IN_USE"
	ProxyStatusBlocked ProxyStatus = "BLOCKED"
)

// ValidationType identifies which validation stage produced a ValidationResult.
type ValidationType string

const (
	ValidationTypeMechanical ValidationType = "MECHANICAL"
	ValidationTypeAI         ValidationType = "AI"
)

// ProcessingStatus is the terminal outcome recorded in ProcessedArticle.
type ProcessingStatus string

const (
	ProcessingStatusSuccess   ProcessingStatus = "SUCCESS"
	ProcessingStatusError     ProcessingStatus = "ERROR"
	ProcessingStatusNoResults ProcessingStatus = "NO_RESULTS"
)

// Task is a unit of work keyed by a unique article string.
type Task struct {
	ID            int64
	Article       string
	Status        TaskStatus
	WorkerID      *string
	TakenAt       *time.Time
	LastHeartbeat *time.Time
	CompletedAt   *time.Time
	RetryCount    int
	ErrorMessage  *string
	CreatedAt     time.Time
}

// Proxy is an upstream proxy endpoint.
type Proxy struct {
	ID            int64
	Address       string // "host:port:user:pass"
	Status        ProxyStatus
	WorkerID      *string
	TakenAt       *time.Time
	BlockedAt     *time.Time
	BlockedReason *string
}

// ParsedCard is one listing, uniquely identified by AvitoItemID.
type ParsedCard struct {
	AvitoItemID     int64
	Article         string
	Title           string
	Description     string
	Price           float64
	SellerName      string
	ParsedData      json.RawMessage
	PublishedAt     *time.Time
	Location        *string
	ViewsCount      *int
	Characteristics json.RawMessage
	ParsedAt        time.Time
}

// ValidationResult is one validation decision per (card, stage).
type ValidationResult struct {
	AvitoItemID       int64
	ValidationType    ValidationType
	Passed            bool
	RejectionReason   *string
	ValidationDetails json.RawMessage
	CreatedAt         time.Time
}

// ProcessedArticle is the historical log of article outcomes.
type ProcessedArticle struct {
	Article          string
	ProcessedAt      time.Time
	ProcessingStatus ProcessingStatus
	ItemsFound       int
	ItemsPassed      int
	StartedAt        time.Time
	WorkerID         string
}

// DeletedSentinelLocation is written to ParsedCard.Location when a detail
// page reports the listing as deleted.
const DeletedSentinelLocation = "DELETED"

// DeletedSentinelPublishedAt is the sentinel publish timestamp for deleted listings.
var DeletedSentinelPublishedAt = time.Date(1970, time.January, 1, 0, 0, 0, 0, time.UTC)
