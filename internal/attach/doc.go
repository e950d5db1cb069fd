// Package attach turns a selection of projects or an account manager into
// authenticated attachments.
//
// A project target moves Uninitialized → Ready or ConfigFailed once its
// configuration is downloaded, then InProgress while credentials are looked
// up or registered and the attach request runs, and finally to Success or a
// conflict outcome. Conflicts are resolved one target at a time with
// Resolve; AttachBatch only ever processes Ready targets.
package attach
