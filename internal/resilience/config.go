package resilience

// FromConnectAttempts builds the retry policy for opening a database
// connection. attempts <= 0 keeps the default.
func FromConnectAttempts(attempts int, resource string) RetryConfig {
	cfg := DefaultRetryConfig()
	if attempts > 0 {
		cfg.MaxAttempts = attempts
	}
	cfg.OnRetry = RetryLogger(resource, "connect")
	return cfg
}
