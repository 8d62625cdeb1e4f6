package metrics

// Chain and program meters.
var (
	TxProcessed       = LazyLoadCounterVec("tx_processed_total", []string{"type", "result"})
	BlocksProduced    = LazyLoadCounter("blocks_produced_total")
	BlockHeight       = LazyLoadGauge("block_height")
	MempoolSize       = LazyLoadGauge("mempool_size")
	Stakes            = LazyLoadCounterVec("stake_events_total", []string{"op"})
	RewardsMinted     = LazyLoadCounter("rewards_minted_total")
	LootboxesOpened   = LazyLoadCounter("lootboxes_opened_total")
	LootboxesResolved = LazyLoadCounter("lootboxes_resolved_total")
	LootboxesClaimed  = LazyLoadCounterVec("lootboxes_claimed_total", []string{"source"})
	OracleLatency     = LazyLoadHistogram("oracle_fulfil_latency_seconds", BucketSeconds)
	OracleSubmissions = LazyLoadCounterVec("oracle_submissions_total", []string{"result"})
	RPCRequests       = LazyLoadCounterVec("rpc_requests_total", []string{"method", "result"})
	RPCDurationMillis = LazyLoadHistogram("rpc_duration_ms", BucketMillis)
)
