/*
Package types defines the data model shared by every keepwarm package.

AppConfig is the static description of one managed application: where its
control plane lives, how to authenticate, and how to find it (either a
pre-resolved GUID or org/space/app names). Outcome is the terminal result of
one reconciliation run, classified by Reason. AppStatus, StopResult and
LockStatus are the read models returned to control surfaces.

None of these types are persisted. The only durable state in the system is
the daily lock entry kept by package lock.
*/
package types
