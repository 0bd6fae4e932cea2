package types

import (
	"crypto/tls"
	"net"
	"time"
)

// TLSManager owns the server certificate, static or obtained through ACME.
type TLSManager interface {
	LifecycleManager
	Serve(addr string) (net.Listener, error)
	GetTLSConfig() *tls.Config
	CertificateStatus() CertificateStatus
	HealthChecker() HealthChecker
}

// CertificateStatus values: valid, expiring_soon, expired, error.
type CertificateStatus struct {
	Domain          string    `json:"domain"`
	Status          string    `json:"status"`
	Issuer          string    `json:"issuer,omitempty"`
	Subject         string    `json:"subject,omitempty"`
	NotBefore       time.Time `json:"not_before,omitempty"`
	NotAfter        time.Time `json:"not_after,omitempty"`
	DaysUntilExpiry int       `json:"days_until_expiry"`
	Error           string    `json:"error,omitempty"`
}
