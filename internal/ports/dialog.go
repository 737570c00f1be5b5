package ports

// EndpointFormData holds the result of an endpoint configuration form.
type EndpointFormData struct {
	Name          string
	URL           string
	Username      string
	PasswordEnv   string
	UseKeyring    bool
	AutoLogin     bool
	TLSSkipVerify bool
	Confirmed     bool
}

// DialogProvider abstracts interactive user dialogs.
// Implementations may use TUI forms, native OS dialogs, or test fakes.
type DialogProvider interface {
	// EndpointConfigForm shows a form to confirm/edit an endpoint entry.
	// Pre-filled values come from the input data; the user can modify them.
	// Returns the final form data with Confirmed=true if the user accepted.
	EndpointConfigForm(prefill EndpointFormData) (EndpointFormData, error)
}
