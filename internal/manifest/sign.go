package manifest

import (
	"github.com/golang-jwt/jwt/v4"

	"github.com/NVIDIA/emsqrt/internal/cmn"
)

// auditClaims is the signed payload over a manifest's hashes and outputs
// digest, giving replay tooling a tamper-evidence check before trusting a
// persisted manifest (spec.md §1's "supporting replay and audit").
type auditClaims struct {
	PlanHash      string `json:"plan_hash"`
	TeHash        string `json:"te_hash"`
	OutputsDigest string `json:"outputs_digest"`
	jwt.RegisteredClaims
}

// Sign produces a compact HS256 JWT over m's hashes, using key as the
// engine-local signing secret.
func Sign(m RunManifest, key []byte) (string, error) {
	claims := auditClaims{
		PlanHash:      hex(m.PlanHash[:]),
		TeHash:        hex(m.TeHash[:]),
		OutputsDigest: m.OutputsDigest,
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(key)
	if err != nil {
		return "", cmn.Errf(cmn.KindInvariant, err, "sign manifest %q", m.ID)
	}
	return signed, nil
}

// Verify checks token was signed with key and that its claims match m,
// returning an error if either check fails (tamper detected).
func Verify(token string, m RunManifest, key []byte) error {
	parsed, err := jwt.ParseWithClaims(token, &auditClaims{}, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, cmn.Errf(cmn.KindInvariant, nil, "unexpected signing method %v", t.Header["alg"])
		}
		return key, nil
	})
	if err != nil || !parsed.Valid {
		return cmn.Errf(cmn.KindInvariant, err, "manifest signature invalid")
	}
	claims, ok := parsed.Claims.(*auditClaims)
	if !ok {
		return cmn.Errf(cmn.KindInvariant, nil, "manifest signature: unexpected claims type")
	}
	if claims.PlanHash != hex(m.PlanHash[:]) || claims.TeHash != hex(m.TeHash[:]) || claims.OutputsDigest != m.OutputsDigest {
		return cmn.Errf(cmn.KindInvariant, nil, "manifest signature does not match manifest contents")
	}
	return nil
}
