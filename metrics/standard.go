package metrics

// Pre-defined metrics for the swarm datastore. All metrics live in
// DefaultRegistry so they are globally accessible without passing a
// registry around.

var (
	// ---- ApplicationData metrics ----

	// MessagesProcessed counts SyncMessages applied to a Datastore.
	MessagesProcessed = DefaultRegistry.Counter("appdata.messages_processed")
	// MessagesDiscarded counts SyncMessages dropped on a failed pre-guard.
	MessagesDiscarded = DefaultRegistry.Counter("appdata.messages_discarded")
	// MessagesRolledBack counts mutations reverted on a failed post-guard.
	MessagesRolledBack = DefaultRegistry.Counter("appdata.messages_rolled_back")
	// ReassemblySlotsOpen tracks in-flight multi-part reassembly buffers.
	ReassemblySlotsOpen = DefaultRegistry.Gauge("appdata.reassembly_slots_open")

	// ---- Datastore metrics ----

	// ContentCount tracks the number of Contents currently held.
	ContentCount = DefaultRegistry.Gauge("datastore.content_count")
	// PromotionsActive tracks in-flight Link to Data promotions.
	PromotionsActive = DefaultRegistry.Gauge("datastore.promotions_active")
	// PromotionsCompleted counts promotions that finished successfully.
	PromotionsCompleted = DefaultRegistry.Counter("datastore.promotions_completed")

	// ---- Persistence metrics ----

	// FlushDuration records time spent in a flush call, in milliseconds.
	FlushDuration = DefaultRegistry.Histogram("storage.flush_ms")
	// BytesWritten counts bytes appended to .hdr/.dat files.
	BytesWritten = DefaultRegistry.Counter("storage.bytes_written")
	// CompactionsRun counts compaction passes performed.
	CompactionsRun = DefaultRegistry.Counter("storage.compactions_run")

	// ---- Broadcast metrics ----

	// FramesSent counts broadcast frames emitted by a transformative
	// promotion (hash pass + data pass).
	FramesSent = DefaultRegistry.Counter("broadcast.frames_sent")
	// ActiveCasts tracks the number of concurrently running broadcasts.
	ActiveCasts = DefaultRegistry.Gauge("broadcast.active_casts")

	// ---- Sync protocol metrics ----

	// RequestsServed counts sync request/response exchanges handled, across
	// all request kinds.
	RequestsServed = DefaultRegistry.Counter("protocol.requests_served")
)
