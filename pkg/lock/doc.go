/*
Package lock implements the calendar-day start lock.

A lock for application A on UTC day D lives under the key

	<prefix><A>:<YYYY-MM-DD>

(prefix "start-lock:" by default) and expires at the next UTC midnight after
it was written, with a floor of one hour. Presence of the key is the only
signal: a successful start writes it, and later triggers on the same day see
it and skip.

The lock is not a mutex. Two overlapping triggers can both see "unlocked" and
both start the application; the platform tolerates redundant starts, and the
lock exists to suppress repeated polling after the first success.

Store failures never propagate. IsLocked reads as false when the store is
down, so an outage degrades to "always attempt"; Acquire and Release return
false instead of an error.
*/
package lock
