package messaging

// HealthStatus is the health of a broker connection.
type HealthStatus struct {
	Enabled   bool   `json:"enabled"`
	Connected bool   `json:"connected"`
	Error     string `json:"error,omitempty"`
}

// Healthy reports whether the connection is usable or intentionally disabled.
func (s HealthStatus) Healthy() bool {
	return !s.Enabled || s.Connected
}

// CheckClientHealth inspects client. A nil client means messaging is disabled.
func CheckClientHealth(client Client) HealthStatus {
	if client == nil {
		return HealthStatus{}
	}

	status := HealthStatus{Enabled: true, Connected: client.IsConnected()}
	if !status.Connected {
		status.Error = "not connected to message broker"
	}
	return status
}
