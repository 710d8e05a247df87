// Package kerberos is the gokrb5 backed credential layer.
//
// It provides:
//   - Source: acquires client credentials from a keytab or a ticket cache
//     for the KRB5 login module
//   - Provider: the server keytab, hot reloaded when the file is rotated
//
// The SASL GSSAPI exchange itself lives in pkg/auth/transport.
//
// References:
//   - RFC 4120: The Kerberos Network Authentication Service (V5)
//   - RFC 4121: The Kerberos Version 5 GSS-API Mechanism
package kerberos
