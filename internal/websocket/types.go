package websocket

import (
	"time"
)

// EventType represents the type of event being broadcast
type EventType string

const (
	EventTypeEncodeCompleted EventType = "encode_completed"
	EventTypeSystemStatus    EventType = "system_status"
	EventTypeConnection      EventType = "connection"
	EventTypePong            EventType = "pong"
)

// Event represents a WebSocket event
type Event struct {
	Type      EventType   `json:"type"`
	Timestamp time.Time   `json:"timestamp"`
	Data      interface{} `json:"data"`
	RequestID string      `json:"request_id,omitempty"`
}

// EncodeCompletedEvent describes a finished encode request
type EncodeCompletedEvent struct {
	Sentences  int     `json:"sentences"`
	Dimension  int     `json:"dimension"`
	Batches    int     `json:"batches"`
	CacheHits  int64   `json:"cache_hits"`
	DurationMs float64 `json:"duration_ms"`
	Model      string  `json:"model"`
	Error      string  `json:"error,omitempty"`
}

// ConnectionEvent represents client connection/disconnection events
type ConnectionEvent struct {
	Action    string `json:"action"` // connected, disconnected
	ClientID  string `json:"client_id"`
	ClientIP  string `json:"client_ip"`
	UserAgent string `json:"user_agent"`
	Message   string `json:"message"`
}

// SystemStatusEvent carries a snapshot of the encoder service
type SystemStatusEvent struct {
	Status            string  `json:"status"`
	Model             string  `json:"model"`
	Dimension         int     `json:"dimension"`
	ActiveConnections int64   `json:"active_connections"`
	TotalEncodes      int64   `json:"total_encodes"`
	TotalSentences    int64   `json:"total_sentences"`
	AvgEncodeMs       float64 `json:"avg_encode_ms"`
	ErrorRate         float64 `json:"error_rate"`
	Uptime            string  `json:"uptime"`
}

// ClientMessage represents messages sent from client to server
type ClientMessage struct {
	Type string      `json:"type"` // subscribe, ping
	Data interface{} `json:"data,omitempty"`
}

// SubscriptionRequest lists the event types a client wants to receive
type SubscriptionRequest struct {
	Events []EventType `json:"events"`
}

// Client represents a WebSocket client connection
type Client struct {
	ID           string
	Conn         interface{} // *websocket.Conn
	Send         chan Event
	Subscription *SubscriptionRequest
	ConnectedAt  time.Time
	LastPing     time.Time
	IP           string
	UserAgent    string
}
