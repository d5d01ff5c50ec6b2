// Package access mints and checks the time-boxed contractor tokens carried
// in QR codes.
//
// A token is an HS256 JWT holding exactly four integer claims: facility_id,
// customer_id, start_time and exp. The Codec signs and verifies tokens. The
// Gate authorizes a request's bearer token against the live facility record:
// the token's window must lie inside the facility's current effective
// window, so editing a facility's window invalidates tokens minted under
// the old one without any revocation storage.
package access
