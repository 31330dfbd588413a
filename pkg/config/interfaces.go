package config

// Validator is implemented by configurations that can check themselves
// and fill in defaults after loading.
type Validator interface {
	Validate() error
}
