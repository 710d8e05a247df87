// Package transport authenticates stream connections with SASL GSSAPI
// (RFC 4752) over Kerberos.
//
// Every handshake message is one record marked XDR frame carrying a status
// and an opaque payload:
//
//	client                                server
//	START  "GSSAPI"                 ->
//	OK     GSS AP-REQ               ->
//	                                <-    OK     GSS AP-REP
//	OK     (empty)                  ->
//	                                <-    OK     wrap(layers)
//	OK     wrap(layers + authzid)   ->
//	                                <-    COMPLETE authzid | BAD reason
//
// Only the "no security layer" option is negotiated; after COMPLETE the
// connection carries plaintext application traffic. The server admits a
// peer only when the authenticated principal equals the requested
// authorization id (see Authorize).
package transport
