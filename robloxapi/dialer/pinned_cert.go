package dialer

import (
	"bytes"
	"context"
	"crypto/sha256"
	"crypto/tls"
	"crypto/x509"
	"net"

	"golang.org/x/xerrors"
)

// TLSDialer is a function for creating TLS connections for non-proxied
// requests that can be assigned to a http.Transport's DialTLSContext field.
type TLSDialer func(ctx context.Context, network, addr string) (net.Conn, error)

// WithPinnedCertVerification returns a TLS dialer function which checks that
// the remote server provides a certificate whose public key SHA256
// fingerprint matches the provided value.
func WithPinnedCertVerification(pkFingerprint []byte, tlsConfig *tls.Config) TLSDialer {
	return func(ctx context.Context, network, addr string) (net.Conn, error) {
		// Establish a TLS connection to the remote server and verify
		// all presented TLS certificates.
		d := &tls.Dialer{Config: tlsConfig}
		conn, err := d.DialContext(ctx, network, addr)
		if err != nil {
			return nil, err
		}
		tlsConn := conn.(*tls.Conn)
		if err := verifyPinnedCert(pkFingerprint, tlsConn.ConnectionState().PeerCertificates); err != nil {
			_ = conn.Close()
			return nil, err
		}
		return conn, nil
	}
}

// Fingerprint returns the SHA256 fingerprint of a certificate's public key
// in the form expected by WithPinnedCertVerification.
func Fingerprint(cert *x509.Certificate) ([]byte, error) {
	certDER, err := x509.MarshalPKIXPublicKey(cert.PublicKey)
	if err != nil {
		return nil, xerrors.Errorf("unable to serialize certificate public key: %w", err)
	}
	fingerprint := sha256.Sum256(certDER)
	return fingerprint[:], nil
}

func verifyPinnedCert(pkFingerprint []byte, certificates []*x509.Certificate) error {
	for _, cert := range certificates {
		fingerprint, err := Fingerprint(cert)
		if err != nil {
			return err
		}
		if bytes.Equal(fingerprint, pkFingerprint) {
			return nil
		}
	}
	return xerrors.Errorf("remote server presented a certificate which does not match the provided fingerprint")
}
