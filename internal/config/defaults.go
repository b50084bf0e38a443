package config

import "chatsync/internal/throttle"

// Defaults returns the configuration used when the file and environment
// leave a field unset. The typing budget is deliberately tighter than the
// message budgets: typing indicators are the chattiest event and purely
// cosmetic.
func Defaults() *Config {
	return &Config{
		General: GeneralConfig{
			LogLevel: "info",
		},
		Server: ServerConfig{
			WebSocketURL: "ws://localhost:8080/ws",
			APIURL:       "http://localhost:8080",
		},
		Reconnect: ReconnectConfig{
			MaxAttempts:  5,
			DelaySeconds: 1,
		},
		Throttle: ThrottleConfig{
			PerSecond: 20,
			Burst:     8,
			PerEvent: map[string]throttle.Limits{
				"typing":             {PerSecond: 5, Burst: 3},
				"conversation-event": {PerSecond: 10, Burst: 5},
			},
		},
		Store: StoreConfig{
			MaxMessagesPerConversation: 500,
		},
		Metrics: MetricsConfig{
			Enabled: false,
			Addr:    "127.0.0.1:9105",
		},
	}
}
