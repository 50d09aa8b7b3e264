package source

import "time"

// SetClock replaces the certificate source clock in tests.
func (c *CertificateExpiry) SetClock(now func() time.Time) { c.now = now }
