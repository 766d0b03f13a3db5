package model

// ServiceIdentity is the shared-secret credential one backend service uses
// to prove itself to another. Provisioned through configuration.
type ServiceIdentity struct {
	ServiceID string
	Token     string
	Secret    []byte
}
