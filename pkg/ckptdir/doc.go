/*
Package ckptdir creates and commits checkpoint directories written by
several cooperating processes, so that a reader only ever sees a
checkpoint that is either absent or complete.

# Overview

A save targets one or more final paths. Each final path gets a
TemporaryPath, a working location derived by a Strategy:

  - Rename writes into a sibling named
    <final>.orbax-checkpoint-tmp-<counter> and renames it onto the final
    path at commit. Use it where rename is atomic.
  - Sentinel writes into the final path itself and marks it complete by
    writing a commit_success file. Use it on object stores.

SelectStrategy picks one from the storage capabilities.

# Protocol

Every process calls CreateAll with the same paths. All processes meet at
a barrier, the coordinator removes stale leftovers and creates the working
locations, and all processes meet again. Each process then writes its
payload. Once every process has finished writing, the coordinator calls
Finalize (or OnCommit) on each path.

Saver wires the steps together and runs the commit on an Executor:

	group := barrier.NewGroup(2)
	st := storage.NewLocal()

	saver := ckptdir.NewSaver(st, group.Member(process), ckptdir.NewRole(process, 0),
	    ckptdir.WithMetadataStore(metadata.NewFileStore(st)),
	    ckptdir.WithLogger(logger),
	)
	defer saver.Close()

	task, err := saver.Save(ctx, []string{"/ckpt/step_10"}, func(ctx context.Context, locs []string) error {
	    return writeShard(ctx, locs[0], process)
	})
	if err != nil {
	    return err
	}
	return task.Wait(ctx)

# Roles

Role names the calling process and the coordinator. Only the coordinator
touches storage during creation and commit. AllPrimaryRole makes every
process its own coordinator for process-local storage.

# Errors

Errors are classified by package errors: a PreconditionError when a
working location exists and is not an unfinished save, a
BarrierTimeoutError when a participant did not arrive, and a StorageError
for I/O failures. Nothing is retried inside the protocol; callers restart
the whole save with a fresh counter value.
*/
package ckptdir
