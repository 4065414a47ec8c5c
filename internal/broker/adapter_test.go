package broker

import "testing"

func TestLoadTLSConfigRequiresBothCertAndKey(t *testing.T) {
	cases := []struct {
		name     string
		cert     string
		key      string
	}{
		{"neither set", "", ""},
		{"cert only", "cert.pem", ""},
		{"key only", "", "key.pem"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := loadTLSConfig(tc.cert, tc.key); err == nil {
				t.Fatalf("expected error when client_cert/client_key is incomplete")
			}
		})
	}
}

func TestLoadTLSConfigRejectsMissingFiles(t *testing.T) {
	if _, err := loadTLSConfig("/nonexistent/cert.pem", "/nonexistent/key.pem"); err == nil {
		t.Fatalf("expected error loading a nonexistent keypair")
	}
}
