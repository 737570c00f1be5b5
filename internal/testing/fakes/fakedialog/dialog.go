// Package fakedialog provides a test fake for ports.DialogProvider.
package fakedialog

import "github.com/acolita/synology-mcp/internal/ports"

// Provider is a controllable fake DialogProvider for testing.
type Provider struct {
	// Result is the form data returned by EndpointConfigForm.
	Result ports.EndpointFormData
	// Err is the error returned by EndpointConfigForm.
	Err error
	// Called tracks whether EndpointConfigForm was invoked.
	Called bool
	// ReceivedPrefill captures the prefill data passed to EndpointConfigForm.
	ReceivedPrefill ports.EndpointFormData
}

// New returns a new fake dialog provider.
func New() *Provider {
	return &Provider{}
}

// EndpointConfigForm returns the pre-configured Result and Err.
func (p *Provider) EndpointConfigForm(prefill ports.EndpointFormData) (ports.EndpointFormData, error) {
	p.Called = true
	p.ReceivedPrefill = prefill
	if p.Err != nil {
		return prefill, p.Err
	}
	return p.Result, nil
}

// Ensure Provider implements ports.DialogProvider.
var _ ports.DialogProvider = (*Provider)(nil)
