/*
Package rockybind provides a safe binding facade over an embedded LSM-tree
key/value engine.

The engine (goleveldb, wrapped by internal/engine) does the storage work:
memtables, tables, the write-ahead log and compaction. This package owns the
part a host program actually touches: opening and closing a database, point
reads and writes, atomic write batches, iterators, and column families. It
enforces the ownership rules between them.

# Lifecycle

A DB owns the engine, the column family handles and every live iterator.
Close tears them down in that order (iterators, then handles, then the
engine) and is idempotent. After Close, every operation returns ErrClosed,
including operations on iterators and handles obtained earlier. Iterators
keep only a weak reference to their DB, so a forgotten iterator never keeps
a database alive, and a database reclaimed by the garbage collector without
Close is closed for you.

# Errors

Absence is not an error: Get reports a missing key with found=false, and an
exhausted iterator is simply not Valid. Failures use sentinel errors
(ErrClosed, ErrReadOnly, ErrInvalidHandle, ErrColumnFamilyExists,
ErrCannotDropDefaultCF) or the *OpenError and *StorageError types, which carry
the path, the column family and the engine diagnostic.

# Usage

For runnable examples, see the repository's examples directory and the
Example functions in this package.

# Concurrency

A DB instance is safe for concurrent use by multiple goroutines. Individual
Iterator instances are not safe for concurrent use; each goroutine should
use its own iterator. WriteBatch is not safe for concurrent mutation.
*/
package rockybind
