package models

// ConnectorState is the connection state of the knowledge connector.
type ConnectorState string

const (
	ConnectorDisconnected ConnectorState = "disconnected"
	ConnectorConnecting   ConnectorState = "connecting"
	ConnectorConnected    ConnectorState = "connected"
	ConnectorError        ConnectorState = "error"
)

// ConnectorStatus is a point-in-time snapshot of the connector. Fallback
// mode is tracked separately from the state because a latched connector
// still answers queries from the offline corpus.
type ConnectorStatus struct {
	State               ConnectorState `json:"state"`
	FallbackModeActive  bool           `json:"fallback_mode_active"`
	ConsecutiveFailures int            `json:"consecutive_failures"`
}
