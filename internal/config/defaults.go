package config

func Defaults() *Config {
	return &Config{
		General: GeneralConfig{
			LogLevel:              "info",
			LogFormat:             "text",
			MaxConcurrentMessages: 5,
			BusBufferSize:         100,
		},
		Server: ServerConfig{
			Host:              "0.0.0.0",
			Port:              3000,
			PublicDir:         "public",
			SendRatePerMinute: 60,
			SendBurst:         10,
		},
		Backend: BackendConfig{
			WebhookURL:            "http://localhost:5000/receive_webhook",
			WebhookTimeoutSeconds: 80,
			StatsTimeoutSeconds:   10,
		},
		Attachments: AttachmentsConfig{
			UploadsDir:   "./uploads",
			MaxFileSize:  10 * 1024 * 1024,
			IndexEnabled: false,
			IndexPath:    "~/.chatrelay/attachments.db",
		},
		Messenger: MessengerConfig{
			Driver: DriverConsole,
			WhatsApp: WhatsAppConfig{
				WebhookPath: "/webhook/whatsapp",
				APIBase:     "https://graph.facebook.com/v21.0",
			},
		},
		Metrics: MetricsConfig{
			Enabled:  false,
			Endpoint: "/metrics",
		},
	}
}
