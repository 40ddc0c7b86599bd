package models

type AuthConfig struct {
	ClerkConfig *ClerkAuthConfig `json:"clerk,omitempty" yaml:"clerk,omitempty"`
}

type ClerkAuthConfig struct {
	SecretKey     string `json:"secret_key" yaml:"secret_key"`
	WebhookSecret string `json:"webhook_secret" yaml:"webhook_secret"`
}
