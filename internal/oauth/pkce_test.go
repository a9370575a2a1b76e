package oauth

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestChallengeS256(t *testing.T) {
	// RFC 7636 appendix B
	assert.Equal(t,
		"E9Melhoa2OwvFrEMTJguCHaoeK1t8URWbuGJSstw-cM",
		ChallengeS256("dBjftJeZ4CVP-mB92K27uhbUJU1p1r_wW1gFWFOEjXk"))
}

func TestVerifyPKCE(t *testing.T) {
	verifier := "dBjftJeZ4CVP-mB92K27uhbUJU1p1r_wW1gFWFOEjXk"
	challenge := ChallengeS256(verifier)

	assert.True(t, VerifyPKCE(verifier, challenge))
	assert.False(t, VerifyPKCE(verifier+"x", challenge))
	assert.False(t, VerifyPKCE("", challenge))
	assert.False(t, VerifyPKCE(verifier, verifier), "plain method must not verify")
}
