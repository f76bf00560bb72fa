// Package storage keeps the bot's durable records in SQLite: chat
// preferences, games with their announcement state, per-broadcast reach
// reports and the operator audit log.
//
// In-flight broadcast queues do not live here; see package announce.
package storage
