package eventflow

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
)

// Sign computes an HMAC-SHA256 over the canonical wire form and stores it
// out-of-band on the envelope. The signature is not an attribute and never
// travels inside the wire envelope; transports carry it separately.
func (e *Envelope) Sign(key []byte) error {
	raw, err := e.ToWire()
	if err != nil {
		return err
	}
	mac := hmac.New(sha256.New, key)
	mac.Write(raw)
	e.signature = mac.Sum(nil)
	return nil
}

// Verify recomputes the MAC over the canonical wire form and compares it
// to the stored signature.
func (e *Envelope) Verify(key []byte) error {
	if len(e.signature) == 0 {
		return &SignatureError{Reason: "envelope is not signed"}
	}
	raw, err := e.ToWire()
	if err != nil {
		return err
	}
	mac := hmac.New(sha256.New, key)
	mac.Write(raw)
	if !hmac.Equal(mac.Sum(nil), e.signature) {
		return &SignatureError{Reason: "MAC mismatch"}
	}
	return nil
}

// Signature returns the stored MAC, hex-encoded, empty when unsigned.
// Transports that forward signatures put this in a header.
func (e *Envelope) Signature() string {
	if len(e.signature) == 0 {
		return ""
	}
	return hex.EncodeToString(e.signature)
}

// SetSignature restores a hex-encoded MAC received out-of-band, so Verify
// can check an inbound envelope.
func (e *Envelope) SetSignature(hexMAC string) error {
	raw, err := hex.DecodeString(hexMAC)
	if err != nil {
		return &SignatureError{Reason: "malformed hex signature"}
	}
	e.signature = raw
	return nil
}
