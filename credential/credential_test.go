package credential

import (
	"strings"
	"testing"
	"time"

	"github.com/kamiyo/x402/types"
)

func TestIssueAndValidateRoundTrip(t *testing.T) {
	issuer, err := GenerateIssuer(time.Hour)
	if err != nil {
		t.Fatal(err)
	}

	cred, token, err := issuer.Issue("0xpayer", types.ChainBase, "0xtx", 2000, []string{"/api/v1/exploits"})
	if err != nil {
		t.Fatal(err)
	}
	if cred.ID == "" {
		t.Error("credential ID is empty")
	}
	if cred.DiscountBps != 2000 {
		t.Errorf("DiscountBps = %d, want 2000", cred.DiscountBps)
	}

	got, err := issuer.Validator().Validate(token, "/api/v1/exploits")
	if err != nil {
		t.Fatalf("Validate: %v", err)
	}
	if got.ID != cred.ID || got.Principal != "0xpayer" || got.Chain != types.ChainBase || got.TxID != "0xtx" {
		t.Errorf("validated claims %+v do not match issued %+v", got, cred)
	}
}

func TestIssueDefaultsToWildcardScope(t *testing.T) {
	issuer, err := GenerateIssuer(time.Hour)
	if err != nil {
		t.Fatal(err)
	}
	_, token, err := issuer.Issue("payer", types.ChainSolana, "sig", 0, nil)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := issuer.Validator().Validate(token, "/anything/at/all"); err != nil {
		t.Errorf("wildcard scope rejected resource: %v", err)
	}
}

func TestValidateScopeMismatch(t *testing.T) {
	issuer, err := GenerateIssuer(time.Hour)
	if err != nil {
		t.Fatal(err)
	}
	_, token, err := issuer.Issue("payer", types.ChainBase, "0xtx", 0, []string{"/api/v1/exploits"})
	if err != nil {
		t.Fatal(err)
	}
	_, err = issuer.Validator().Validate(token, "/api/v2/other")
	if !types.IsCode(err, types.ErrCredentialInvalid) {
		t.Errorf("error = %v, want %s", err, types.ErrCredentialInvalid)
	}
}

func TestValidateExpired(t *testing.T) {
	start := time.Unix(1_700_000_000, 0)
	issuer, err := GenerateIssuer(time.Hour)
	if err != nil {
		t.Fatal(err)
	}
	issuer.WithClock(func() time.Time { return start })
	_, token, err := issuer.Issue("payer", types.ChainBase, "0xtx", 0, nil)
	if err != nil {
		t.Fatal(err)
	}

	validator := issuer.Validator().WithClock(func() time.Time { return start.Add(2 * time.Hour) })
	_, err = validator.Validate(token, "/r")
	if !types.IsCode(err, types.ErrCredentialExpired) {
		t.Errorf("error = %v, want %s", err, types.ErrCredentialExpired)
	}

	fresh := issuer.Validator().WithClock(func() time.Time { return start.Add(30 * time.Minute) })
	if _, err := fresh.Validate(token, "/r"); err != nil {
		t.Errorf("unexpired credential rejected: %v", err)
	}
}

func TestValidateRejectsTampering(t *testing.T) {
	issuer, err := GenerateIssuer(time.Hour)
	if err != nil {
		t.Fatal(err)
	}
	_, token, err := issuer.Issue("payer", types.ChainBase, "0xtx", 0, nil)
	if err != nil {
		t.Fatal(err)
	}

	claimsPart, sigPart, _ := strings.Cut(token, ".")

	otherIssuer, err := GenerateIssuer(time.Hour)
	if err != nil {
		t.Fatal(err)
	}
	_, otherToken, err := otherIssuer.Issue("mallory", types.ChainBase, "0xother", 3000, nil)
	if err != nil {
		t.Fatal(err)
	}
	otherClaims, _, _ := strings.Cut(otherToken, ".")

	tests := []struct {
		name  string
		token string
	}{
		{"no separator", claimsPart},
		{"empty signature", claimsPart + "."},
		{"claims swapped", otherClaims + "." + sigPart},
		{"signature from other key", otherToken},
		{"garbage", "!!not-base64!!.!!also-not!!"},
	}
	validator := issuer.Validator()
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := validator.Validate(tt.token, "/r"); err == nil {
				t.Error("tampered token accepted")
			}
		})
	}
}
