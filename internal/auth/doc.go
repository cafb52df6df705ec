// POSSync - POS Sync Reliability and Tenant Resolution
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/possync

/*
Package auth identifies API callers.

Callers present an HS256 bearer token whose subject is the user ID and whose
role claim is one of admin, operator or viewer. Authenticate validates the
token and stores a *Subject in the request context; SubjectFromContext reads
it back for handlers and for the authz package.

Browsers cannot set headers on websocket upgrades, so the token is also
accepted from the access_token query parameter.

Login flows are out of scope. Tokens are minted by an external identity
service or, for development, by possyncctl token.
*/
package auth
