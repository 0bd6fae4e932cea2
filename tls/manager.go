package tls

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"net"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"golang.org/x/crypto/acme"
	"golang.org/x/crypto/acme/autocert"

	"github.com/saiset-co/sai-resources/types"
)

type State int32

const (
	StateStopped State = iota
	StateStarting
	StateRunning
	StateStopping
)

const expiringSoon = 30 * 24 * time.Hour

var cipherSuites = []uint16{
	tls.TLS_ECDHE_ECDSA_WITH_AES_256_GCM_SHA384,
	tls.TLS_ECDHE_RSA_WITH_AES_256_GCM_SHA384,
	tls.TLS_ECDHE_ECDSA_WITH_CHACHA20_POLY1305,
	tls.TLS_ECDHE_RSA_WITH_CHACHA20_POLY1305,
	tls.TLS_ECDHE_ECDSA_WITH_AES_128_GCM_SHA256,
	tls.TLS_ECDHE_RSA_WITH_AES_128_GCM_SHA256,
}

// CertManager provides the listener for the resource server, either from a
// static key pair or from ACME certificates kept in a directory cache.
type CertManager struct {
	ctx         context.Context
	cancel      context.CancelFunc
	logger      types.Logger
	config      *types.TLSConfig
	autocertMgr *autocert.Manager
	certificate *tls.Certificate
	mu          sync.RWMutex
	state       atomic.Value
}

func NewCertManager(ctx context.Context, logger types.Logger, config *types.TLSConfig) (*CertManager, error) {
	if config == nil {
		return nil, types.Errorf(types.ErrTLSConfigInvalid, "tls config is nil")
	}

	managerCtx, cancel := context.WithCancel(ctx)

	cm := &CertManager{
		ctx:    managerCtx,
		cancel: cancel,
		logger: logger,
		config: config,
	}

	cm.state.Store(StateStopped)

	if config.AutoCert {
		if err := cm.initializeAutocert(); err != nil {
			cancel()
			return nil, types.WrapError(err, "failed to initialize autocert manager")
		}
	} else if config.CertFile == "" || config.KeyFile == "" {
		cancel()
		return nil, types.Errorf(types.ErrTLSConfigInvalid, "cert_file and key_file are required without auto_cert")
	}

	return cm, nil
}

func (cm *CertManager) Start() error {
	if !cm.transitionState(StateStopped, StateStarting) {
		return types.ErrServerAlreadyRunning
	}

	if !cm.config.AutoCert {
		cert, err := tls.LoadX509KeyPair(cm.config.CertFile, cm.config.KeyFile)
		if err != nil {
			cm.setState(StateStopped)
			return types.Errorf(types.ErrTLSConfigInvalid, "failed to load key pair: %v", err)
		}

		if err := validateCertificate(cert, time.Now()); err != nil {
			cm.setState(StateStopped)
			return err
		}

		cm.mu.Lock()
		cm.certificate = &cert
		cm.mu.Unlock()
	}

	cm.setState(StateRunning)

	cm.logger.Info("TLS certificate manager started",
		zap.Bool("auto_cert", cm.config.AutoCert),
		zap.Strings("domains", cm.config.Domains))

	return nil
}

func (cm *CertManager) Stop() error {
	if !cm.transitionState(StateRunning, StateStopping) {
		return types.ErrServerNotRunning
	}

	cm.cancel()
	cm.setState(StateStopped)

	cm.logger.Info("TLS certificate manager stopped")
	return nil
}

func (cm *CertManager) IsRunning() bool {
	return cm.getState() == StateRunning
}

func (cm *CertManager) Serve(addr string) (net.Listener, error) {
	if !cm.IsRunning() {
		return nil, types.ErrServerNotRunning
	}

	ln, err := tls.Listen("tcp", addr, cm.GetTLSConfig())
	if err != nil {
		return nil, types.WrapError(err, "failed to create TLS listener")
	}
	return ln, nil
}

func (cm *CertManager) GetTLSConfig() *tls.Config {
	config := &tls.Config{
		MinVersion:   tls.VersionTLS12,
		CipherSuites: cipherSuites,
	}

	if cm.autocertMgr != nil {
		config.GetCertificate = cm.logCertificate(cm.autocertMgr.GetCertificate)
		config.NextProtos = []string{"http/1.1", acme.ALPNProto}
		return config
	}

	cm.mu.RLock()
	if cm.certificate != nil {
		config.Certificates = []tls.Certificate{*cm.certificate}
	}
	cm.mu.RUnlock()

	return config
}

// HealthChecker reports the static certificate as degraded close to its
// expiry and unhealthy once it has expired. ACME certificates are renewed by autocert itself.
func (cm *CertManager) HealthChecker() types.HealthChecker {
	return func(context.Context) types.HealthCheck {
		check := types.HealthCheck{
			Name:      "tls",
			Status:    types.StatusHealthy,
			LastCheck: time.Now(),
		}

		if cm.autocertMgr != nil {
			check.Details = map[string]interface{}{"auto_cert": true}
			return check
		}

		status := cm.CertificateStatus()
		check.Details = map[string]interface{}{
			"status":            status.Status,
			"not_after":         status.NotAfter,
			"days_until_expiry": status.DaysUntilExpiry,
		}

		switch status.Status {
		case "valid":
		case "expiring_soon":
			check.Status = types.StatusDegraded
			check.Message = "certificate expiring_soon"
		default:
			check.Status = types.StatusUnhealthy
			check.Message = status.Error
			if check.Message == "" {
				check.Message = "certificate " + status.Status
			}
		}
		return check
	}
}

func (cm *CertManager) CertificateStatus() types.CertificateStatus {
	cm.mu.RLock()
	cert := cm.certificate
	cm.mu.RUnlock()

	if cert == nil || len(cert.Certificate) == 0 {
		return types.CertificateStatus{Status: "error", Error: "no certificate loaded"}
	}

	x509Cert, err := x509.ParseCertificate(cert.Certificate[0])
	if err != nil {
		return types.CertificateStatus{Status: "error", Error: err.Error()}
	}

	until := time.Until(x509Cert.NotAfter)
	status := "valid"
	if until <= 0 {
		status = "expired"
	} else if until <= expiringSoon {
		status = "expiring_soon"
	}

	domain := x509Cert.Subject.CommonName
	if len(x509Cert.DNSNames) > 0 {
		domain = x509Cert.DNSNames[0]
	}

	return types.CertificateStatus{
		Domain:          domain,
		Status:          status,
		Issuer:          x509Cert.Issuer.String(),
		Subject:         x509Cert.Subject.String(),
		NotBefore:       x509Cert.NotBefore,
		NotAfter:        x509Cert.NotAfter,
		DaysUntilExpiry: int(until.Hours() / 24),
	}
}

func (cm *CertManager) getState() State {
	return cm.state.Load().(State)
}

func (cm *CertManager) setState(newState State) {
	cm.state.Store(newState)
}

func (cm *CertManager) transitionState(from, to State) bool {
	return cm.state.CompareAndSwap(from, to)
}

func validateCertificate(cert tls.Certificate, now time.Time) error {
	x509Cert, err := x509.ParseCertificate(cert.Certificate[0])
	if err != nil {
		return types.Errorf(types.ErrTLSConfigInvalid, "failed to parse certificate: %v", err)
	}

	if now.Before(x509Cert.NotBefore) {
		return types.Errorf(types.ErrTLSConfigInvalid, "certificate not yet valid")
	}
	if now.After(x509Cert.NotAfter) {
		return types.Errorf(types.ErrTLSConfigInvalid, "certificate expired")
	}

	return nil
}

func (cm *CertManager) initializeAutocert() error {
	if len(cm.config.Domains) == 0 {
		return types.Errorf(types.ErrTLSConfigInvalid, "no domains specified for TLS certificate")
	}

	cacheDir := cm.config.CacheDir
	if cacheDir == "" {
		cacheDir = "./certs"
	}

	if err := os.MkdirAll(cacheDir, 0700); err != nil {
		return types.WrapError(err, "failed to create certificate cache directory")
	}

	cm.autocertMgr = &autocert.Manager{
		Cache:      autocert.DirCache(cacheDir),
		Prompt:     autocert.AcceptTOS,
		HostPolicy: autocert.HostWhitelist(cm.config.Domains...),
		Email:      cm.config.Email,
	}

	if cm.config.ACMEDirectory != "" {
		cm.autocertMgr.Client = &acme.Client{
			DirectoryURL: cm.config.ACMEDirectory,
		}
	}

	return nil
}

func (cm *CertManager) logCertificate(getCert func(*tls.ClientHelloInfo) (*tls.Certificate, error)) func(*tls.ClientHelloInfo) (*tls.Certificate, error) {
	return func(hello *tls.ClientHelloInfo) (*tls.Certificate, error) {
		cert, err := getCert(hello)
		if err != nil {
			cm.logger.Error("Failed to get certificate",
				zap.String("server_name", hello.ServerName),
				zap.Error(err))
			return nil, err
		}
		return cert, nil
	}
}

var _ types.TLSManager = (*CertManager)(nil)
