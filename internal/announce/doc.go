// Package announce fans a published deal out to every subscribed chat.
//
// A broadcast lives in a QueueStore (Redis in production): a pending set of
// chat ids, a failed set, a retry counter, an active marker and reach
// counters. The Coordinator seeds that state once per broadcast, runs a fixed
// pool of workers that pop ids, check the chat's preferences, take a slot from
// the broadcast's RateLimiter and deliver. Failed chats are retried a bounded
// number of times before the broadcast is finalized.
//
// Workers never hold state outside the store, so a broadcast interrupted by a
// shutdown resumes from where it stopped on the next discovery pass.
//
// Chat id migrations (group upgraded to supergroup) are applied to every
// active broadcast by RelocateSubscriberID while workers keep running.
package announce
