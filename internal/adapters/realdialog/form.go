package realdialog

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/charmbracelet/huh"

	"github.com/acolita/synology-mcp/internal/ports"
	"github.com/acolita/synology-mcp/internal/security"
	"github.com/acolita/synology-mcp/internal/synoapi"
)

// PasswordStore keeps a password typed into the form.
type PasswordStore interface {
	StoreEndpointPassword(endpoint, user string, password []byte) error
}

// formResult is what the huh form edits.
type formResult struct {
	data      ports.EndpointFormData
	password  string
	confirmed bool
}

// RunFormHelper is the entry point of the `form` subcommand. It runs in its
// own terminal window, reads the encrypted prefill, shows the form, writes
// the encrypted result back and drops a done marker.
func RunFormHelper() error {
	return runHelper(os.Getenv(envFormFile), os.Getenv(envFormKey), runForm, security.NewKeyringStore())
}

func runHelper(formFile, formKey string, show func(ports.EndpointFormData) (formResult, error), store PasswordStore) (err error) {
	if formFile == "" || formKey == "" {
		return fmt.Errorf("missing %s or %s", envFormFile, envFormKey)
	}

	donePath := formFile + ".done"
	defer func() {
		// The server waits on the marker, so failures must land there too.
		msg := doneOK
		if err != nil {
			msg = err.Error()
		}
		if werr := os.WriteFile(donePath, []byte(msg), 0600); werr != nil && err == nil {
			err = fmt.Errorf("write done marker: %w", werr)
		}
	}()

	encData, err := os.ReadFile(formFile)
	if err != nil {
		return fmt.Errorf("read form file: %w", err)
	}
	decData, err := open(encData, formKey)
	if err != nil {
		return fmt.Errorf("decrypt form data: %w", err)
	}
	var prefill ports.EndpointFormData
	err = json.Unmarshal(decData, &prefill)
	security.WipeBytes(decData)
	if err != nil {
		return fmt.Errorf("unmarshal form data: %w", err)
	}

	res, err := show(prefill)
	if err != nil {
		return fmt.Errorf("form: %w", err)
	}
	res.data.Confirmed = res.confirmed

	if res.confirmed && res.password != "" {
		if err := storePassword(store, res); err != nil {
			return err
		}
		res.data.UseKeyring = true
	}

	resultJSON, err := json.Marshal(res.data)
	if err != nil {
		return fmt.Errorf("marshal result: %w", err)
	}
	encResult, err := seal(resultJSON, formKey)
	security.WipeBytes(resultJSON)
	if err != nil {
		return fmt.Errorf("encrypt result: %w", err)
	}
	if err := os.WriteFile(formFile, encResult, 0600); err != nil {
		return fmt.Errorf("write result: %w", err)
	}
	return nil
}

func storePassword(store PasswordStore, res formResult) error {
	endpoint, err := synoapi.CanonicalEndpoint(res.data.URL)
	if err != nil {
		return err
	}
	pw := []byte(res.password)
	defer security.WipeBytes(pw)
	if err := store.StoreEndpointPassword(endpoint, res.data.Username, pw); err != nil {
		return fmt.Errorf("store password in keyring: %w", err)
	}
	return nil
}

func validateURL(s string) error {
	_, err := synoapi.CanonicalEndpoint(s)
	return err
}

func required(field string) func(string) error {
	return func(s string) error {
		if strings.TrimSpace(s) == "" {
			return fmt.Errorf("%s is required", field)
		}
		return nil
	}
}

func runForm(prefill ports.EndpointFormData) (formResult, error) {
	res := formResult{data: prefill}
	if res.data.URL == "" {
		res.data.URL = "https://"
	}

	fmt.Print("\033[2J\033[H")
	fmt.Println("\n  synology-mcp: Add NAS Endpoint")

	form := huh.NewForm(
		huh.NewGroup(
			huh.NewInput().
				Title("Endpoint Name").
				Description("Short name for this NAS (e.g., 'home', 'office')").
				Validate(required("name")).
				Value(&res.data.Name),

			huh.NewInput().
				Title("Base URL").
				Description("DSM address, e.g. https://192.168.1.100:5001").
				Validate(validateURL).
				Value(&res.data.URL),

			huh.NewInput().
				Title("Username").
				Description("DSM account used by the bridge").
				Validate(required("username")).
				Value(&res.data.Username),
		),
		huh.NewGroup(
			huh.NewInput().
				Title("Password").
				Description("Stored in the OS keyring; leave empty to use an environment variable").
				EchoMode(huh.EchoModePassword).
				Value(&res.password),

			huh.NewInput().
				Title("Password Env Var").
				Description("Environment variable holding the password (optional)").
				Value(&res.data.PasswordEnv),

			huh.NewConfirm().
				Title("Log in automatically at startup?").
				Value(&res.data.AutoLogin),

			huh.NewConfirm().
				Title("Accept self-signed certificates?").
				Value(&res.data.TLSSkipVerify),
		),
		huh.NewGroup(
			huh.NewConfirm().
				Title("Save this endpoint?").
				Value(&res.confirmed),
		),
	)

	if err := form.Run(); err != nil {
		return formResult{data: prefill}, err
	}
	return res, nil
}
