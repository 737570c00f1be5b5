package security

const (
	errKeyringNotAvailable = "keyring not available"
	keyEndpointFmt         = "endpoint:%s@%s"
)
