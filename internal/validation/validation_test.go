package validation

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
)

func TestIsValidEthAddress(t *testing.T) {
	tests := []struct {
		addr  string
		valid bool
	}{
		{"0x1234567890123456789012345678901234567890", true},
		{"0xabcdefABCDEF1234567890123456789012345678", true},
		{"1234567890123456789012345678901234567890", false},   // no 0x
		{"0x12345678901234567890123456789012345678", false},   // short
		{"0xGGGGGGGGGGGGGGGGGGGGGGGGGGGGGGGGGGGGGGGG", false}, // bad chars
		{"", false},
	}

	for _, tc := range tests {
		if got := IsValidEthAddress(tc.addr); got != tc.valid {
			t.Errorf("IsValidEthAddress(%q) = %v, want %v", tc.addr, got, tc.valid)
		}
	}
}

func TestIsValidCalldata(t *testing.T) {
	tests := []struct {
		data  string
		valid bool
	}{
		{"0x", true},
		{"0x095ea7b3", true},
		{"0xABcd", true},
		{"0x095", false},
		{"095ea7b3", false},
		{"0xzz", false},
	}
	for _, tc := range tests {
		if got := IsValidCalldata(tc.data); got != tc.valid {
			t.Errorf("IsValidCalldata(%q) = %v, want %v", tc.data, got, tc.valid)
		}
	}
}

func TestSanitize(t *testing.T) {
	if got := SanitizeAddress("  0xABCDEF1234567890123456789012345678901234 "); got != "0xabcdef1234567890123456789012345678901234" {
		t.Errorf("SanitizeAddress = %q", got)
	}
	if got := SanitizeAddress("1234567890123456789012345678901234567890"); got != "0x1234567890123456789012345678901234567890" {
		t.Errorf("SanitizeAddress without prefix = %q", got)
	}
	if got := SanitizeString("  hello\x00world  ", 20); got != "helloworld" {
		t.Errorf("SanitizeString = %q", got)
	}
	if got := SanitizeString("hello world", 5); got != "hello" {
		t.Errorf("SanitizeString truncation = %q", got)
	}
}

func TestValidate(t *testing.T) {
	errs := Validate(
		Required("wallet", "0x1234567890123456789012345678901234567890"),
		ValidAddress("wallet", "0x1234567890123456789012345678901234567890"),
		OneOf("outcome", "proceed", "PROCEED", "REJECT"),
		MaxLength("reason", "ok", MaxReasonLength),
	)
	if len(errs) != 0 {
		t.Fatalf("expected no errors, got %v", errs)
	}

	errs = Validate(
		Required("wallet", ""),
		ValidAddress("contract", "nope"),
		OneOf("outcome", "approve", "PROCEED", "REJECT"),
		ValidCalldata("data", "0x1"),
	)
	if len(errs) != 4 {
		t.Fatalf("expected 4 errors, got %d: %v", len(errs), errs)
	}
	if errs.Error() != "wallet: is required" {
		t.Errorf("Error() = %q", errs.Error())
	}
}

func TestCorrelationParamMiddleware(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.GET("/w/:id", CorrelationParamMiddleware(), func(c *gin.Context) { c.Status(http.StatusOK) })

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest("GET", "/w/tx_0123456789abcdef0123456789abcdef", nil))
	if w.Code != http.StatusOK {
		t.Errorf("valid id: got %d", w.Code)
	}

	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest("GET", "/w/bogus", nil))
	if w.Code != http.StatusBadRequest {
		t.Errorf("invalid id: got %d", w.Code)
	}
}
