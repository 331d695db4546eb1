package main

const (
	rootHelpShort = "treesync synchronizes files and directories between two trees."

	rootHelpLong = `treesync synchronizes files and directories between two trees.

It scans both sides into content-hashed inventories, computes the minimal set
of copy, update and delete operations to converge them, and applies those
operations atomically (files are written next to their target and renamed
into place, so readers never observe partial contents). It supports these
commands:

  sync - synchronize a source tree into (or with) a destination tree
  diff - print the operations a sync would perform, without applying them
  list - produce a content-hashed listing of all the paths in a tree

All commands print their primary results (such as planned operations or
listing lines) to standard output (stdout). Any encountered errors and
operational messages are printed to standard error (stderr).

Exit Codes:
  0 - Success (including a user-interrupted continuous sync)
  1 - Differences found (only for 'diff')
  2 - General failure (invalid input, I/O errors, etc.)

For detailed help on a specific command, run:
  treesync help <command>`

	syncHelpShort = "Synchronize a source tree into (or with) a destination tree"

	syncHelpLong = `Synchronize a source tree into (or with) a destination tree.

In one-way mode the destination converges toward the source: new and changed
paths are copied over and, with --delete-orphans, paths no longer present in
the source are removed. In bi-directional mode both sides converge toward
each other: one-sided paths are created on the missing side and content
mismatches resolve in favor of the newer modification time. A mismatch with
identical timestamps on both sides is a conflict; it is reported and left
untouched rather than overwritten. Deletions are a one-way concept and
cannot be combined with bi-directional mode.

Change detection hashes file contents (SHA-256), so metadata-only changes
never cause copies. With --continuous the synchronization repeats at the
configured interval until stopped by an interrupt (Ctrl-C) or a lone 'q'
line on standard input; --watch additionally triggers a cycle whenever the
watched trees change. --backup <dir> preserves any overwritten or deleted
destination content as a timestamped .tar.gz before each cycle.

The mode argument accepts 'one-way' or 'bi-directional' (shorthand: 'one',
'bi'). The command returns with an exit code 0 on success or clean interrupt;
an exit code 2 for any errors.`

	syncExample = `
# One-way synchronization, removing orphaned destination paths:
treesync sync /data/source /data/mirror one-way --delete-orphans

# Continuous bi-directional synchronization every 30 seconds:
treesync sync /data/a /data/b bi-directional --continuous --interval=30s

# Watch-triggered continuous sync with backups of replaced content:
treesync sync /data/source /data/mirror one-way --continuous --watch --backup=/data/backups

# Preview only (nothing is applied):
treesync sync /data/source /data/mirror one-way --dry-run`

	diffHelpShort = "Print the operations a sync would perform, without applying them"

	diffHelpLong = `Print the operations a sync would perform, without applying them.

The command scans both trees and writes the pending plan to standard output:
lines prefixed +++ for creations, ~~~ for updates, --- for deletions and
!!! for bi-directional conflicts. Operations that would flow into the source
side (bi-directional mode) are marked accordingly.

The command returns with an exit code 0 if the trees are already converged;
an exit code 1 if any differences or conflicts were found; an exit code 2
for any errors.`

	diffExample = `
# Show what a one-way sync with orphan deletion would do:
treesync diff /data/source /data/mirror one-way --delete-orphans

# Show pending bi-directional operations and conflicts:
treesync diff /data/a /data/b bi-directional`

	listHelpShort = "Produce a content-hashed listing of all the paths in a tree"

	listHelpLong = `Produce a content-hashed listing of all the paths in a tree.

Each output line contains the relative path, the size in bytes and the
SHA-256 content digest, separated by tabs; directories carry a trailing
slash and a '-' digest. By default the lines are sorted lexically using a
streamed external sort, so even trees with millions of files list in
constant memory and two listings compare directly with standard diff tools.
--sort=false preserves the original walk order instead.

All listing lines are printed to standard output (stdout), while any
operational output and encountered errors will be written to standard error
(stderr) respectively. The command returns with an exit code 0 upon
success; an exit code 2 for any encountered errors.`

	listExample = `
# List the current directory with content digests:
treesync list .

# Compare two trees using standard tooling:
diff <(treesync list /data/a) <(treesync list /data/b)

# Use a specific on-disk temporary directory for very large trees:
treesync list /mnt/user --tmpdir=/mnt/largedisk`
)
