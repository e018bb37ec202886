// Package httpserver runs the API listeners: a plain HTTP server and, when a
// TLS address is configured, a second listener with a self-signed certificate
// for deployments without a terminating proxy in front.
package httpserver

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"crypto/tls"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/pem"
	"math/big"
	"net/http"
	"time"

	"github.com/sdko-org/libproxy/internal/config"
	"github.com/sirupsen/logrus"
)

type Server struct {
	http  *http.Server
	https *http.Server
	log   *logrus.Entry
}

func New(logger *logrus.Logger, cfg *config.Config, handler http.Handler) *Server {
	s := &Server{
		http: &http.Server{
			Addr:         cfg.ListenAddr,
			Handler:      handler,
			ReadTimeout:  30 * time.Second,
			WriteTimeout: 30 * time.Second,
		},
		log: logger.WithField("component", "http_server"),
	}
	if cfg.TLSAddr != "" {
		s.https = &http.Server{
			Addr:         cfg.TLSAddr,
			Handler:      handler,
			ReadTimeout:  30 * time.Second,
			WriteTimeout: 30 * time.Second,
		}
	}
	return s
}

// Start launches the listeners and blocks until the HTTP one exits.
func (s *Server) Start() error {
	if s.https != nil {
		go func() {
			cert, err := generateSelfSignedCert()
			if err != nil {
				s.log.WithError(err).Fatal("Failed to generate self-signed certificate")
			}
			s.https.TLSConfig = &tls.Config{Certificates: []tls.Certificate{cert}}

			s.log.WithField("addr", s.https.Addr).Info("Starting HTTPS server")
			if err := s.https.ListenAndServeTLS("", ""); err != nil && err != http.ErrServerClosed {
				s.log.WithError(err).Fatal("HTTPS server failed")
			}
		}()
	}

	s.log.WithField("addr", s.http.Addr).Info("Starting HTTP server")
	if err := s.http.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

func (s *Server) Shutdown(ctx context.Context) error {
	if s.https != nil {
		if err := s.https.Shutdown(ctx); err != nil {
			s.log.WithError(err).Warn("HTTPS server shutdown error")
		}
	}
	return s.http.Shutdown(ctx)
}

func generateSelfSignedCert() (tls.Certificate, error) {
	priv, err := rsa.GenerateKey(rand.Reader, 4096)
	if err != nil {
		return tls.Certificate{}, err
	}

	template := x509.Certificate{
		SerialNumber: big.NewInt(1),
		Subject: pkix.Name{
			Organization: []string{"LibProxy"},
		},
		NotBefore: time.Now(),
		NotAfter:  time.Now().Add(365 * 24 * time.Hour),
		KeyUsage:  x509.KeyUsageKeyEncipherment | x509.KeyUsageDigitalSignature,
		ExtKeyUsage: []x509.ExtKeyUsage{
			x509.ExtKeyUsageServerAuth,
		},
		BasicConstraintsValid: true,
	}

	derBytes, err := x509.CreateCertificate(rand.Reader, &template, &template, &priv.PublicKey, priv)
	if err != nil {
		return tls.Certificate{}, err
	}

	certPEM := pem.EncodeToMemory(&pem.Block{
		Type:  "CERTIFICATE",
		Bytes: derBytes,
	})
	keyPEM := pem.EncodeToMemory(&pem.Block{
		Type:  "RSA PRIVATE KEY",
		Bytes: x509.MarshalPKCS1PrivateKey(priv),
	})

	return tls.X509KeyPair(certPEM, keyPEM)
}
