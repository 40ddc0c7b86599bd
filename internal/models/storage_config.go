package models

// StorageConfig configures the S3-compatible object store that holds
// generated assets.
type StorageConfig struct {
	Endpoint      string `json:"endpoint,omitzero" yaml:"endpoint"`
	Region        string `json:"region" yaml:"region"`
	AccessKey     string `json:"access_key" yaml:"access_key"`
	SecretKey     string `json:"secret_key" yaml:"secret_key"`
	Bucket        string `json:"bucket" yaml:"bucket"`
	PublicBaseURL string `json:"public_base_url" yaml:"public_base_url"`
	UsePathStyle  bool   `json:"use_path_style,omitzero" yaml:"use_path_style"`
	Prefix        string `json:"prefix,omitzero" yaml:"prefix"`
}

// NotifyConfig configures the fire-and-forget notification sinks. Either may
// be absent; notification failure never affects a ledger mutation.
type NotifyConfig struct {
	AMQP     *AMQPConfig     `json:"amqp,omitempty" yaml:"amqp,omitempty"`
	Telegram *TelegramConfig `json:"telegram,omitempty" yaml:"telegram,omitempty"`
}

type AMQPConfig struct {
	URL      string `json:"url" yaml:"url"`
	Exchange string `json:"exchange,omitzero" yaml:"exchange"`
}

type TelegramConfig struct {
	BotToken string `json:"bot_token" yaml:"bot_token"`
	ChatID   int64  `json:"chat_id" yaml:"chat_id"`
}
