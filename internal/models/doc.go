// Package models defines the domain entities shared by the token lifecycle and bulk dispatch layers.
//
// The package contains three categories of types:
//
// 1. Credentials: the single durable token record and its decoded claims
//   - [TokenRecord] : access/refresh token pair with expiry and subject user id
//   - [Claims] : unverified JWT payload fields read for scheduling
//
// 2. Campaigns: the server-persisted bulk dispatch state machine
//   - [Campaign] : recipients, template, pacing and progress counters
//   - [Recipient] : target user id with display name for template expansion
//   - [Snapshot] : the progress view returned by every campaign operation
//
// 3. Platform DTOs: lightweight structs decoded from the chat platform's REST API
//   - [User], [Profile], [Contact]
package models
