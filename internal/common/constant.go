package common

// Size units used by the chunking policy and the transfer engines.
const (
	KiB int64 = 1 << 10
	MiB int64 = 1 << 20
	GiB int64 = 1 << 30
)

// RestoreRetentionDays is how long a restored copy of an archived object is
// kept readable before it falls back to the archive tier.
const RestoreRetentionDays = 7
