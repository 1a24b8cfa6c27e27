// Package repositories implements SQLite persistence for the token record and bulk dispatch campaigns.
//
// [TokenRepository] keeps the single durable token row. Writes carry a version column and retry on conflict.
//
// [CampaignRepository] keeps one campaign per session key. A send is recorded by bumping sent_count
// only when it still holds the value the caller read, so two drivers can never both count the same slot.
//
// Campaigns are numbered by [NextSequence] for log lines like "campaign #15".
package repositories
