// Package backend is the HTTP client for the FilaMan inventory service.
//
// Every call is a single POST with a JSON body. Authenticated calls carry
// the device token as "Authorization: Device <token>"; registration
// carries the one-time code in the X-Device-Code header instead.
//
// The client performs no retries and keeps no state. The dispatcher owns
// the credential and decides what a failure means.
package backend
