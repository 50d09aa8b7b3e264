package source

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCertificateExpiry(t *testing.T) {
	srv := httptest.NewTLSServer(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {}))
	defer srv.Close()
	notAfter := srv.Certificate().NotAfter

	tests := []struct {
		name  string
		now   time.Time
		klass string
	}{
		{"valid", notAfter.AddDate(0, 0, -90), ""},
		{"expiring", notAfter.AddDate(0, 0, -10), "CertificateExpiring"},
		{"expired", notAfter.Add(time.Hour), "CertificateExpired"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := NewCertificateExpiry([]string{srv.URL}, 30, time.Hour, nil)
			c.SetClock(func() time.Time { return tt.now })

			got, err := c.Check(context.Background())
			require.NoError(t, err)
			if tt.klass == "" {
				assert.Empty(t, got)
				return
			}
			require.Len(t, got, 1)
			assert.Equal(t, tt.klass, got[0].Klass)
			assert.Equal(t, srv.URL, got[0].Key)
			assert.Equal(t, srv.URL, got[0].Args["endpoint"])
			assert.Equal(t, notAfter.UTC().Format(time.RFC3339), got[0].Args["not_after"])
		})
	}
}

func TestCertificateExpiry_SkipsUnreachable(t *testing.T) {
	c := NewCertificateExpiry([]string{"http://plain.example", "https://127.0.0.1:1", "::bad"}, 0, 0, nil)
	got, err := c.Check(context.Background())
	require.NoError(t, err)
	assert.Empty(t, got)
}
