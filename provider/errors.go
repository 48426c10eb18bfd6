package provider

import "fmt"

// ErrLLM reports a failure originating in the adapter's transport layer
// (malformed request, non-HTTP transport error). Distinct from ErrHTTP,
// which carries a response status code from the upstream.
type ErrLLM struct {
	Provider string
	Message  string
}

func (e *ErrLLM) Error() string {
	return fmt.Sprintf("%s: %s", e.Provider, e.Message)
}

// ErrHTTP reports a non-2xx response from an upstream LLM provider.
type ErrHTTP struct {
	Status int
	Body   string
}

func (e *ErrHTTP) Error() string {
	return fmt.Sprintf("http %d: %s", e.Status, e.Body)
}
