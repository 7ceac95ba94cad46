package acme

import (
	"context"
	"crypto"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/json"
	"encoding/pem"
	"errors"
	"fmt"
	"io/fs"
	"math/big"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-acme/lego/v4/certificate"
	"github.com/go-acme/lego/v4/lego"
	"github.com/go-acme/lego/v4/providers/http/webroot"
	"github.com/go-acme/lego/v4/registration"
)

const (
	DirectoryProduction = lego.LEDirectoryProduction
	DirectoryStaging    = lego.LEDirectoryStaging
)

// Certificate is a PEM certificate chain with its private key.
type Certificate struct {
	CertPEM  []byte
	KeyPEM   []byte
	NotAfter time.Time
}

// CA issues certificates for a set of hostnames.
type CA interface {
	Obtain(ctx context.Context, domains []string, email string) (*Certificate, error)
}

// LegoCA obtains certificates from an ACME directory with the HTTP-01
// challenge. Tokens are written under Webroot, which the HTTP vhost serves
// at /.well-known/acme-challenge/.
type LegoCA struct {
	Webroot      string
	DirectoryURL string
	// AccountDir holds one key and registration per account email.
	AccountDir string
}

type account struct {
	Email        string
	Registration *registration.Resource
	key          crypto.PrivateKey
}

func (a *account) GetEmail() string                        { return a.Email }
func (a *account) GetRegistration() *registration.Resource { return a.Registration }
func (a *account) GetPrivateKey() crypto.PrivateKey        { return a.key }

func (c *LegoCA) Obtain(ctx context.Context, domains []string, email string) (*Certificate, error) {
	if len(domains) == 0 {
		return nil, errors.New("acme: no domains")
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	acct, err := c.loadAccount(email)
	if err != nil {
		return nil, fmt.Errorf("acme account: %w", err)
	}

	config := lego.NewConfig(acct)
	config.CADirURL = c.DirectoryURL
	if config.CADirURL == "" {
		config.CADirURL = DirectoryProduction
	}

	client, err := lego.NewClient(config)
	if err != nil {
		return nil, fmt.Errorf("acme client: %w", err)
	}

	provider, err := webroot.NewHTTPProvider(c.Webroot)
	if err != nil {
		return nil, fmt.Errorf("acme webroot: %w", err)
	}
	if err := client.Challenge.SetHTTP01Provider(provider); err != nil {
		return nil, fmt.Errorf("acme http-01: %w", err)
	}

	if acct.Registration == nil {
		reg, err := client.Registration.Register(registration.RegisterOptions{TermsOfServiceAgreed: true})
		if err != nil {
			return nil, fmt.Errorf("acme register: %w", err)
		}
		acct.Registration = reg
		if err := c.saveRegistration(acct); err != nil {
			return nil, fmt.Errorf("acme account: %w", err)
		}
	}

	res, err := client.Certificate.Obtain(certificate.ObtainRequest{
		Domains: domains,
		Bundle:  true,
	})
	if err != nil {
		return nil, fmt.Errorf("acme obtain: %w", err)
	}

	notAfter, err := NotAfter(res.Certificate)
	if err != nil {
		return nil, err
	}
	return &Certificate{CertPEM: res.Certificate, KeyPEM: res.PrivateKey, NotAfter: notAfter}, nil
}

func (c *LegoCA) accountPath(email, ext string) string {
	name := strings.NewReplacer("/", "_", "\\", "_").Replace(email)
	return filepath.Join(c.AccountDir, name+ext)
}

// loadAccount reads the account key and registration for email, creating a
// key on first use.
func (c *LegoCA) loadAccount(email string) (*account, error) {
	if err := os.MkdirAll(c.AccountDir, 0700); err != nil {
		return nil, err
	}
	key, err := loadOrCreateKey(c.accountPath(email, ".key"))
	if err != nil {
		return nil, err
	}
	acct := &account{Email: email, key: key}

	data, err := os.ReadFile(c.accountPath(email, ".json"))
	switch {
	case errors.Is(err, fs.ErrNotExist):
		return acct, nil
	case err != nil:
		return nil, err
	}
	var reg registration.Resource
	if err := json.Unmarshal(data, &reg); err != nil {
		return nil, fmt.Errorf("registration %s: %w", c.accountPath(email, ".json"), err)
	}
	acct.Registration = &reg
	return acct, nil
}

func (c *LegoCA) saveRegistration(acct *account) error {
	data, err := json.MarshalIndent(acct.Registration, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(c.accountPath(acct.Email, ".json"), data, 0600)
}

func loadOrCreateKey(path string) (crypto.PrivateKey, error) {
	data, err := os.ReadFile(path)
	if err == nil {
		block, _ := pem.Decode(data)
		if block == nil {
			return nil, fmt.Errorf("%s: no PEM block", path)
		}
		return x509.ParseECPrivateKey(block.Bytes)
	}
	if !errors.Is(err, fs.ErrNotExist) {
		return nil, err
	}

	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		return nil, err
	}
	der, err := x509.MarshalECPrivateKey(key)
	if err != nil {
		return nil, err
	}
	if err := os.WriteFile(path, pem.EncodeToMemory(&pem.Block{Type: "EC PRIVATE KEY", Bytes: der}), 0600); err != nil {
		return nil, err
	}
	return key, nil
}

// SelfSignedCA issues certificates signed by their own key.
type SelfSignedCA struct {
	ValidFor time.Duration
}

func (c SelfSignedCA) Obtain(_ context.Context, domains []string, _ string) (*Certificate, error) {
	validFor := c.ValidFor
	if validFor == 0 {
		validFor = 365 * 24 * time.Hour
	}
	return SelfSigned(domains, time.Now(), validFor)
}

func SelfSigned(domains []string, now time.Time, validFor time.Duration) (*Certificate, error) {
	if len(domains) == 0 {
		return nil, errors.New("self-signed: no domains")
	}
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		return nil, err
	}
	serial, err := rand.Int(rand.Reader, new(big.Int).Lsh(big.NewInt(1), 128))
	if err != nil {
		return nil, err
	}

	tmpl := &x509.Certificate{
		SerialNumber:          serial,
		Subject:               pkix.Name{CommonName: domains[0]},
		DNSNames:              domains,
		NotBefore:             now.Add(-time.Hour),
		NotAfter:              now.Add(validFor),
		KeyUsage:              x509.KeyUsageDigitalSignature,
		ExtKeyUsage:           []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth},
		BasicConstraintsValid: true,
	}
	der, err := x509.CreateCertificate(rand.Reader, tmpl, tmpl, &key.PublicKey, key)
	if err != nil {
		return nil, err
	}
	keyDER, err := x509.MarshalECPrivateKey(key)
	if err != nil {
		return nil, err
	}
	return &Certificate{
		CertPEM:  pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: der}),
		KeyPEM:   pem.EncodeToMemory(&pem.Block{Type: "EC PRIVATE KEY", Bytes: keyDER}),
		NotAfter: tmpl.NotAfter,
	}, nil
}

// Store writes the chain world-readable and the key private to root.
func Store(certPath, keyPath string, cert *Certificate) error {
	for _, dir := range []string{filepath.Dir(certPath), filepath.Dir(keyPath)} {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return err
		}
	}
	if err := os.WriteFile(certPath, cert.CertPEM, 0644); err != nil {
		return err
	}
	if err := os.WriteFile(keyPath, cert.KeyPEM, 0600); err != nil {
		return err
	}
	return os.Chmod(keyPath, 0600)
}

// NotAfter returns the expiry of the first certificate in a PEM chain.
func NotAfter(chain []byte) (time.Time, error) {
	block, _ := pem.Decode(chain)
	if block == nil {
		return time.Time{}, errors.New("no PEM certificate")
	}
	cert, err := x509.ParseCertificate(block.Bytes)
	if err != nil {
		return time.Time{}, err
	}
	return cert.NotAfter, nil
}

// NeedsRenewal reports whether the certificate at path expires within the
// window, or is missing.
func NeedsRenewal(path string, within time.Duration, now time.Time) (bool, time.Time, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return true, time.Time{}, nil
	}
	if err != nil {
		return false, time.Time{}, err
	}
	notAfter, err := NotAfter(data)
	if err != nil {
		return false, time.Time{}, fmt.Errorf("%s: %w", path, err)
	}
	return notAfter.Sub(now) < within, notAfter, nil
}
