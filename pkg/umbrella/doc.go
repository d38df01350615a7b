// Package umbrella is a client for the Umbrella cost management API.
//
// It exchanges a login key for an OAuth2 bearer token, lists cloud
// accounts, pages through resource exports with dynamic tag columns,
// uploads virtual tag assignments as CSV and polls import status.
// Transient and throttled failures are retried with exponential
// backoff; 4xx responses other than 429 are permanent, though a 401 on
// an authenticated call triggers one token refresh and a replay first.
package umbrella
