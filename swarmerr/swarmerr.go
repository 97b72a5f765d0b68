// Package swarmerr defines the sentinel error values shared by the
// datastore, sync-message, and persistence packages. Callers should
// compare with errors.Is rather than pointer identity, since errors
// returned up the stack are frequently wrapped with %w for context.
package swarmerr

import "errors"

var (
	// ErrIndexing indicates an index is out of range for the current
	// structure (a ContentTree, Datastore, or Content data-leaf index).
	ErrIndexing = errors.New("swarmerr: index out of range")

	// ErrHashMismatch indicates bytes offered to tighten an Empty
	// placeholder do not hash to the placeholder's recorded hash.
	ErrHashMismatch = errors.New("swarmerr: hash does not match placeholder")

	// ErrContentEmpty indicates an operation required at least one leaf
	// but the ContentTree held none.
	ErrContentEmpty = errors.New("swarmerr: content tree is empty")

	// ErrContentFull indicates a ContentTree already holds 65535 leaves.
	ErrContentFull = errors.New("swarmerr: content tree is full")

	// ErrDatastoreFull indicates a Datastore already holds 65535 Contents.
	ErrDatastoreFull = errors.New("swarmerr: datastore is full")

	// ErrDatatypeMismatch indicates an attempt to change the dataType of
	// a Content slot that is already Data-valued with a different type.
	ErrDatatypeMismatch = errors.New("swarmerr: content datatype mismatch")

	// ErrLinkNonTransformative indicates a promotion operation (hash
	// frame, data frame) was attempted on a Link with no TransformInfo.
	ErrLinkNonTransformative = errors.New("swarmerr: link has no transform in progress")

	// ErrTransformInProgress indicates an attempt to overwrite a Link
	// that still carries an in-flight TransformInfo; the caller must
	// finish or abandon the promotion first.
	ErrTransformInProgress = errors.New("swarmerr: link has a transform in progress")

	// ErrAppDataNotSynced indicates an operation requires the
	// ApplicationData to be in a convergent state and it is not.
	ErrAppDataNotSynced = errors.New("swarmerr: application data not synced")

	// ErrGuardMismatch indicates a SyncRequirements pre- or post-guard
	// entry did not match the Datastore's actual state.
	ErrGuardMismatch = errors.New("swarmerr: guard hash mismatch")

	// ErrNotData indicates a tree-shaped operation (push/pop/insert/
	// remove/read beyond index 0) was attempted against a Link, which
	// has no leaf index space of its own.
	ErrNotData = errors.New("swarmerr: content is a link, not data")

	// ErrFrameTooLarge indicates a single sync-message frame would
	// exceed the 1024-byte wire limit.
	ErrFrameTooLarge = errors.New("swarmerr: sync-message frame exceeds 1024 bytes")

	// ErrTooManyParts indicates a message's payload cannot be split
	// into a number of continuation frames representable in a single
	// byte (more than 255 parts).
	ErrTooManyParts = errors.New("swarmerr: sync-message requires too many frames")

	// ErrUnknownFrame indicates a frame's discriminant byte does not
	// name a recognised SyncMessageType.
	ErrUnknownFrame = errors.New("swarmerr: unrecognised sync-message type")

	// ErrReassemblyMismatch indicates a continuation frame's hash did
	// not match any outstanding slot recorded by the message's header
	// frame.
	ErrReassemblyMismatch = errors.New("swarmerr: continuation frame matches no outstanding slot")

	// ErrReassemblyIncomplete indicates Finish was called before every
	// continuation slot had been filled.
	ErrReassemblyIncomplete = errors.New("swarmerr: sync-message reassembly incomplete")

	// ErrShortFrame indicates a frame is too short to contain the header
	// fields its type-prefix or discriminant promises.
	ErrShortFrame = errors.New("swarmerr: frame too short")

	// ErrNoHandler indicates no handler (or send function) is registered
	// for the requested operation.
	ErrNoHandler = errors.New("swarmerr: no handler registered")

	// ErrTooManyRequests indicates a peer has exceeded the concurrent
	// request cap for a given method.
	ErrTooManyRequests = errors.New("swarmerr: too many concurrent requests")

	// ErrRequestTimeout indicates a request was not answered within its
	// configured timeout.
	ErrRequestTimeout = errors.New("swarmerr: request timed out")

	// ErrTaskRunnerRunning indicates Start was called on a Runner that is
	// already serving its inbound queue.
	ErrTaskRunnerRunning = errors.New("swarmerr: task runner already running")

	// ErrTaskRunnerStopped indicates Submit or Terminate was called on a
	// Runner that is not currently serving its inbound queue.
	ErrTaskRunnerStopped = errors.New("swarmerr: task runner not running")

	// ErrTaskQueueFull indicates a Runner's bounded inbound queue had no
	// free slot for the submitted item.
	ErrTaskQueueFull = errors.New("swarmerr: task queue full")
)
