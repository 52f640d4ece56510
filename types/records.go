package types

import "time"

// LiveInstance is the payload of a presence record and of the leadership record.
type LiveInstance struct {
	InstanceName string    `json:"instanceName"`
	SessionID    string    `json:"sessionId"`
	Version      string    `json:"version"`
	Hostname     string    `json:"hostname,omitempty"`
	PID          int       `json:"pid,omitempty"`
	StartedAt    time.Time `json:"startedAt"`
}

// CurrentState is the per-session, per-resource record of entity states a
// participant reports.
type CurrentState struct {
	Resource        string            `json:"resource"`
	StateModel      string            `json:"stateModel"`
	SessionID       string            `json:"sessionId"`
	PartitionStates map[string]string `json:"partitionStates"`
	UpdatedAt       time.Time         `json:"updatedAt"`
}

// InstanceConfig is the participant configuration created on auto-join.
type InstanceConfig struct {
	InstanceName string    `json:"instanceName"`
	Enabled      bool      `json:"enabled"`
	JoinedAt     time.Time `json:"joinedAt"`
}

// HealthReport is the payload written by the participant health task.
type HealthReport struct {
	InstanceName string            `json:"instanceName"`
	SessionID    string            `json:"sessionId"`
	Timestamp    time.Time         `json:"timestamp"`
	Stats        map[string]string `json:"stats,omitempty"`
}
