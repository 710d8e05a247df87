package transport

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/jcmturner/gofork/encoding/asn1"
	"github.com/jcmturner/gokrb5/v8/asn1tools"
	"github.com/jcmturner/gokrb5/v8/crypto"
	"github.com/jcmturner/gokrb5/v8/gssapi"
	"github.com/jcmturner/gokrb5/v8/iana/chksumtype"
	"github.com/jcmturner/gokrb5/v8/iana/flags"
	"github.com/jcmturner/gokrb5/v8/iana/keyusage"
	"github.com/jcmturner/gokrb5/v8/messages"
	"github.com/jcmturner/gokrb5/v8/types"

	"github.com/marmos91/alluxio-auth/pkg/auth/kerberos"
)

// RFC 1964 token identifiers.
const (
	tokenIDAPReq uint16 = 0x0100
	tokenIDAPRep uint16 = 0x0200
)

// krb5OID is the DER encoding of 1.2.840.113554.1.2.2.
var krb5OID = []byte{0x06, 0x09, 0x2a, 0x86, 0x48, 0x86, 0xf7, 0x12, 0x01, 0x02, 0x02}

// SASL GSSAPI security layer negotiation (RFC 4752 section 3.1). Only the
// "no security layer" option is offered.
const (
	securityLayerNone = 0x01
	acceptorFlag      = 0x01
)

// noSecurityLayer is the 4 byte layer/max-buffer message both sides send.
var noSecurityLayer = []byte{securityLayerNone, 0, 0, 0}

// buildAPReq builds the initial context token for tkt, requesting mutual
// authentication. It returns the token and the authenticator so the
// AP-REP can be checked against it.
func buildAPReq(cred kerberos.Credential, tkt messages.Ticket, sessionKey types.EncryptionKey) ([]byte, types.Authenticator, error) {
	authn, err := types.NewAuthenticator(cred.Realm(), cred.CName())
	if err != nil {
		return nil, authn, fmt.Errorf("new authenticator: %w", err)
	}
	authn.Cksum = types.Checksum{
		CksumType: chksumtype.GSSAPI,
		Checksum:  authenticatorChecksum(gssapi.ContextFlagMutual, gssapi.ContextFlagInteg),
	}

	apReq, err := messages.NewAPReq(tkt, sessionKey, authn)
	if err != nil {
		return nil, authn, fmt.Errorf("new AP-REQ: %w", err)
	}
	types.SetFlag(&apReq.APOptions, flags.APOptionMutualRequired)

	b, err := apReq.Marshal()
	if err != nil {
		return nil, authn, fmt.Errorf("marshal AP-REQ: %w", err)
	}
	return wrapGSSToken(b, tokenIDAPReq), authn, nil
}

// authenticatorChecksum builds the RFC 4121 section 4.1.1 checksum: a
// 16 byte zero channel binding followed by the context flags.
func authenticatorChecksum(contextFlags ...int) []byte {
	b := make([]byte, 24)
	binary.LittleEndian.PutUint32(b[0:4], 16)
	var f uint32
	for _, flag := range contextFlags {
		f |= uint32(flag)
	}
	binary.LittleEndian.PutUint32(b[20:24], f)
	return b
}

// buildAPRep answers a verified AP-REQ. The EncAPRepPart echoes the
// authenticator's ctime/cusec, proving the acceptor decrypted the ticket.
func buildAPRep(apReq messages.APReq, sessionKey types.EncryptionKey) ([]byte, error) {
	encPart := messages.EncAPRepPart{
		CTime: apReq.Authenticator.CTime,
		Cusec: apReq.Authenticator.Cusec,
	}
	if hasSubkey(apReq) {
		encPart.Subkey = apReq.Authenticator.SubKey
	}

	inner, err := asn1.Marshal(encPart)
	if err != nil {
		return nil, fmt.Errorf("marshal EncAPRepPart: %w", err)
	}
	encBytes := asn1tools.AddASNAppTag(inner, 27)

	ed, err := crypto.GetEncryptedData(encBytes, sessionKey, keyusage.AP_REP_ENCPART, 0)
	if err != nil {
		return nil, fmt.Errorf("encrypt EncAPRepPart: %w", err)
	}

	apRep := messages.APRep{
		PVNO:    5,
		MsgType: 15,
		EncPart: ed,
	}
	repInner, err := asn1.Marshal(apRep)
	if err != nil {
		return nil, fmt.Errorf("marshal AP-REP: %w", err)
	}
	return wrapGSSToken(asn1tools.AddASNAppTag(repInner, 15), tokenIDAPRep), nil
}

// verifyAPRep checks the acceptor's AP-REP against the authenticator sent.
func verifyAPRep(token []byte, sessionKey types.EncryptionKey, sent types.Authenticator) error {
	inner, err := unwrapGSSToken(token, tokenIDAPRep)
	if err != nil {
		return err
	}

	var apRep messages.APRep
	if err := apRep.Unmarshal(inner); err != nil {
		return fmt.Errorf("unmarshal AP-REP: %w", err)
	}
	plain, err := crypto.DecryptEncPart(apRep.EncPart, sessionKey, keyusage.AP_REP_ENCPART)
	if err != nil {
		return fmt.Errorf("decrypt AP-REP: %w", err)
	}
	var encPart messages.EncAPRepPart
	if err := encPart.Unmarshal(plain); err != nil {
		return fmt.Errorf("unmarshal EncAPRepPart: %w", err)
	}

	// GeneralizedTime carries whole seconds; cusec carries the rest.
	if encPart.CTime.Unix() != sent.CTime.Unix() || encPart.Cusec != sent.Cusec {
		return fmt.Errorf("AP-REP does not match authenticator")
	}
	return nil
}

// acceptorWrap builds a wrap token sent by the acceptor.
func acceptorWrap(payload []byte, key types.EncryptionKey) ([]byte, error) {
	et, err := crypto.GetEtype(key.KeyType)
	if err != nil {
		return nil, err
	}
	wt := gssapi.WrapToken{
		Flags:   acceptorFlag,
		EC:      uint16(et.GetHMACBitLength() / 8),
		Payload: payload,
	}
	if err := wt.SetCheckSum(key, keyusage.GSSAPI_ACCEPTOR_SEAL); err != nil {
		return nil, err
	}
	return wt.Marshal()
}

// initiatorWrap builds a wrap token sent by the initiator.
func initiatorWrap(payload []byte, key types.EncryptionKey) ([]byte, error) {
	wt, err := gssapi.NewInitiatorWrapToken(payload, key)
	if err != nil {
		return nil, err
	}
	return wt.Marshal()
}

// unwrap verifies a wrap token and returns its payload.
func unwrap(b []byte, key types.EncryptionKey, fromAcceptor bool) ([]byte, error) {
	var wt gssapi.WrapToken
	if err := wt.Unmarshal(b, fromAcceptor); err != nil {
		return nil, fmt.Errorf("unmarshal wrap token: %w", err)
	}
	usage := uint32(keyusage.GSSAPI_INITIATOR_SEAL)
	if fromAcceptor {
		usage = keyusage.GSSAPI_ACCEPTOR_SEAL
	}
	ok, err := wt.Verify(key, usage)
	if err != nil {
		return nil, fmt.Errorf("verify wrap token: %w", err)
	}
	if !ok {
		return nil, errors.New("verify wrap token: checksum mismatch")
	}
	return wt.Payload, nil
}

// checkSecurityLayer validates the 4 byte layer message at the start of
// payload and returns what follows it.
func checkSecurityLayer(payload []byte) ([]byte, error) {
	if len(payload) < len(noSecurityLayer) {
		return nil, fmt.Errorf("security layer message too short: %d bytes", len(payload))
	}
	if payload[0]&securityLayerNone == 0 {
		return nil, fmt.Errorf("peer does not accept the no-security layer (0x%02x)", payload[0])
	}
	return payload[len(noSecurityLayer):], nil
}

func hasSubkey(apReq messages.APReq) bool {
	return apReq.Authenticator.SubKey.KeyType != 0 && len(apReq.Authenticator.SubKey.KeyValue) > 0
}

// contextKey is the key protecting wrap tokens: the authenticator subkey
// when the initiator sent one, otherwise the ticket session key.
func contextKey(apReq messages.APReq) types.EncryptionKey {
	if hasSubkey(apReq) {
		return apReq.Authenticator.SubKey
	}
	return apReq.Ticket.DecryptedEncPart.Key
}

// ============================================================================
// GSS-API framing (RFC 2743 section 3.1)
// ============================================================================

// wrapGSSToken frames inner as 0x60 [len] OID tokenID inner.
func wrapGSSToken(inner []byte, tokenID uint16) []byte {
	content := make([]byte, 0, len(krb5OID)+2+len(inner))
	content = append(content, krb5OID...)
	content = append(content, byte(tokenID>>8), byte(tokenID))
	content = append(content, inner...)

	length := encodeASN1Length(len(content))
	out := make([]byte, 0, 1+len(length)+len(content))
	out = append(out, 0x60)
	out = append(out, length...)
	return append(out, content...)
}

// unwrapGSSToken strips the framing, checking the mechanism OID and that
// the token id is want.
func unwrapGSSToken(token []byte, want uint16) ([]byte, error) {
	if len(token) < 2 || token[0] != 0x60 {
		return nil, fmt.Errorf("not a GSS-API initial context token")
	}

	length, n, err := parseASN1Length(token[1:])
	if err != nil {
		return nil, fmt.Errorf("parse GSS token length: %w", err)
	}
	body := token[1+n:]
	if length != len(body) {
		return nil, fmt.Errorf("GSS token length %d, have %d bytes", length, len(body))
	}

	if !bytes.HasPrefix(body, krb5OID) {
		return nil, fmt.Errorf("GSS token is not for the krb5 mechanism")
	}
	body = body[len(krb5OID):]

	if len(body) < 2 {
		return nil, fmt.Errorf("truncated token ID")
	}
	if id := binary.BigEndian.Uint16(body[0:2]); id != want {
		return nil, fmt.Errorf("unexpected krb5 token ID 0x%04x, want 0x%04x", id, want)
	}
	return body[2:], nil
}

// encodeASN1Length encodes a DER length.
func encodeASN1Length(length int) []byte {
	if length < 128 {
		return []byte{byte(length)}
	}

	var b []byte
	for length > 0 {
		b = append([]byte{byte(length & 0xFF)}, b...)
		length >>= 8
	}
	return append([]byte{byte(0x80 | len(b))}, b...)
}

// parseASN1Length decodes a DER length, returning the value and the bytes
// consumed.
func parseASN1Length(data []byte) (int, int, error) {
	if len(data) == 0 {
		return 0, 0, fmt.Errorf("empty length field")
	}

	first := data[0]
	if first < 0x80 {
		return int(first), 1, nil
	}

	numBytes := int(first & 0x7f)
	if numBytes == 0 || numBytes > 4 {
		return 0, 0, fmt.Errorf("invalid ASN.1 length: %d bytes", numBytes)
	}
	if 1+numBytes > len(data) {
		return 0, 0, fmt.Errorf("truncated ASN.1 length")
	}

	length := 0
	for i := 1; i <= numBytes; i++ {
		length = (length << 8) | int(data[i])
	}
	return length, 1 + numBytes, nil
}
