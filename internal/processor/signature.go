// AngelaMos | 2026
// signature.go

package processor

import (
	"crypto/hmac"
	"encoding/hex"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/stripe/stripe-go/v82/webhook"
)

const DefaultSignatureTolerance = 300 * time.Second

var (
	ErrMissingSignature = errors.New("missing webhook signature")
	ErrMalformedHeader  = errors.New("malformed webhook signature header")
	ErrStaleTimestamp   = errors.New("webhook timestamp outside tolerance")
	ErrSignatureInvalid = errors.New("no webhook signature matched")
)

// SignatureVerifier checks the processor's webhook signature header of the
// form t=<unix>,v1=<hex>[,v1=<hex>...]. Multiple v1 values appear while the
// signing secret is being rotated; any match is accepted.
type SignatureVerifier struct {
	secret    string
	tolerance time.Duration
	now       func() time.Time
}

func NewSignatureVerifier(secret string, tolerance time.Duration) *SignatureVerifier {
	if tolerance <= 0 {
		tolerance = DefaultSignatureTolerance
	}
	return &SignatureVerifier{
		secret:    secret,
		tolerance: tolerance,
		now:       time.Now,
	}
}

// WithClock replaces the verifier's time source.
func (v *SignatureVerifier) WithClock(now func() time.Time) *SignatureVerifier {
	v.now = now
	return v
}

func (v *SignatureVerifier) Verify(payload []byte, header string) error {
	if strings.TrimSpace(header) == "" {
		return ErrMissingSignature
	}

	timestamp, signatures, err := parseSignatureHeader(header)
	if err != nil {
		return err
	}

	skew := v.now().Sub(timestamp)
	if skew < 0 {
		skew = -skew
	}
	if skew > v.tolerance {
		return fmt.Errorf("%w: skew %s", ErrStaleTimestamp, skew.Truncate(time.Second))
	}

	expected := webhook.ComputeSignature(timestamp, payload, v.secret)
	for _, sig := range signatures {
		if hmac.Equal(expected, sig) {
			return nil
		}
	}
	return ErrSignatureInvalid
}

func parseSignatureHeader(header string) (time.Time, [][]byte, error) {
	var (
		timestamp  time.Time
		haveTime   bool
		signatures [][]byte
	)

	for _, part := range strings.Split(header, ",") {
		key, value, ok := strings.Cut(strings.TrimSpace(part), "=")
		if !ok {
			continue
		}

		switch key {
		case "t":
			secs, err := strconv.ParseInt(value, 10, 64)
			if err != nil {
				return time.Time{}, nil, fmt.Errorf("%w: bad timestamp", ErrMalformedHeader)
			}
			timestamp = time.Unix(secs, 0)
			haveTime = true
		case "v1":
			sig, err := hex.DecodeString(value)
			if err != nil {
				continue
			}
			signatures = append(signatures, sig)
		}
	}

	if !haveTime {
		return time.Time{}, nil, fmt.Errorf("%w: no timestamp", ErrMalformedHeader)
	}
	if len(signatures) == 0 {
		return time.Time{}, nil, fmt.Errorf("%w: no v1 signature", ErrMalformedHeader)
	}
	return timestamp, signatures, nil
}

// SignatureHeader builds a header value for payload signed at ts. Used by
// tooling that replays events against a local endpoint.
func SignatureHeader(payload []byte, secret string, ts time.Time) string {
	sig := webhook.ComputeSignature(ts, payload, secret)
	return fmt.Sprintf("t=%d,v1=%s", ts.Unix(), hex.EncodeToString(sig))
}
