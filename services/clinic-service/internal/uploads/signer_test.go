package uploads

import (
	"net/url"
	"strings"
	"testing"
	"time"
)

func fixedSigner(secret string, ttl time.Duration, now time.Time) *Signer {
	s := NewSigner(secret, ttl)
	s.now = func() time.Time { return now }
	return s
}

func TestSignProducesScopedKey(t *testing.T) {
	now := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	s := fixedSigner("secret", time.Hour, now)

	signed := s.Sign("user-1", "lab report.pdf")
	wantKey := "user-1/1772359200-lab_report.pdf"
	if signed.Key != wantKey {
		t.Fatalf("key = %q, want %q", signed.Key, wantKey)
	}
	if !signed.ExpiresAt.Equal(now.Add(time.Hour)) {
		t.Fatalf("expires = %v, want %v", signed.ExpiresAt, now.Add(time.Hour))
	}
	if !strings.HasPrefix(signed.URL, "/uploads/"+wantKey+"?") {
		t.Fatalf("url = %q", signed.URL)
	}
}

func TestVerifyRoundTrip(t *testing.T) {
	now := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	s := fixedSigner("secret", time.Hour, now)

	signed := s.Sign("user-1", "scan.png")
	u, err := url.Parse(signed.URL)
	if err != nil {
		t.Fatal(err)
	}
	q := u.Query()

	if err := s.Verify(signed.Key, q.Get("expires"), q.Get("signature")); err != nil {
		t.Fatalf("verify: %v", err)
	}
}

func TestVerifyRejectsTamperedKey(t *testing.T) {
	now := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	s := fixedSigner("secret", time.Hour, now)

	signed := s.Sign("user-1", "scan.png")
	u, _ := url.Parse(signed.URL)
	q := u.Query()

	err := s.Verify("user-2/other.png", q.Get("expires"), q.Get("signature"))
	if err != ErrInvalidSignature {
		t.Fatalf("err = %v, want ErrInvalidSignature", err)
	}
}

func TestVerifyRejectsExpired(t *testing.T) {
	now := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	s := fixedSigner("secret", time.Hour, now)

	signed := s.Sign("user-1", "scan.png")
	u, _ := url.Parse(signed.URL)
	q := u.Query()

	s.now = func() time.Time { return now.Add(2 * time.Hour) }
	err := s.Verify(signed.Key, q.Get("expires"), q.Get("signature"))
	if err != ErrExpired {
		t.Fatalf("err = %v, want ErrExpired", err)
	}
}

func TestSanitizeFilename(t *testing.T) {
	cases := []struct {
		in   string
		want string
	}{
		{"report.pdf", "report.pdf"},
		{"my scan (1).png", "my_scan_1_.png"},
		{"../../etc/passwd", "passwd"},
		{"", "upload"},
		{"..", "upload"},
	}
	for _, tc := range cases {
		if got := sanitizeFilename(tc.in); got != tc.want {
			t.Errorf("sanitizeFilename(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
}
