/*
Package session correlates asynchronous requests with their replies.

A Registry hands out prefixed keys and a Future per outstanding call. The
matching reply settles the future and removes the key exactly once; replies
for keys that are unknown or already settled report false and change
nothing. Replies may arrive in any order.

A Table retains values between calls, with optional expiry.
*/
package session
