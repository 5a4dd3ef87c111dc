package models

type Status struct {
	Connected         bool     `json:"connected"`
	Provider          string   `json:"provider"`
	Subscriptions     []string `json:"subscriptions"`
	CacheSize         int      `json:"cacheSize"`
	ConnectionState   string   `json:"connectionState,omitempty"`
	ReconnectAttempts int      `json:"reconnectAttempts"`
}

type OptionsStatus struct {
	Monitoring     bool     `json:"monitoring"`
	Symbols        []string `json:"symbols"`
	CacheSize      int      `json:"cacheSize"`
	UpdateInterval string   `json:"updateInterval"`
}
