package engine

// ConfigurationError means no model credential is configured and mock
// mode was not requested. It is fatal and never retried.
type ConfigurationError struct {
	Reason string
}

func (e *ConfigurationError) Error() string {
	return "engine configuration: " + e.Reason
}

// ProviderError wraps a transient failure from the model collaborator
// (network, timeout, rate limit). The engine retries these with backoff
// up to the attempt cap before surfacing the last one.
type ProviderError struct {
	Err error
}

func (e *ProviderError) Error() string {
	return "model provider: " + e.Err.Error()
}

func (e *ProviderError) Unwrap() error { return e.Err }
