// Package domain holds the shared data model entities from the system's
// specification: providers, segments, NZB files, virtual items, file
// parts, queue items, and the usage-context value threaded through
// every pool acquisition.
package domain

import "time"

// UsageType classifies why a connection is being acquired, controlling
// reservation behaviour in the connection pool and membership in the
// global streaming limiter.
type UsageType int

const (
	UsageUnknown UsageType = iota
	UsageStreaming
	UsageQueue
	UsageHealthCheck
	UsageRepair
	UsageAnalysis
)

func (u UsageType) String() string {
	switch u {
	case UsageStreaming:
		return "streaming"
	case UsageQueue:
		return "queue"
	case UsageHealthCheck:
		return "health-check"
	case UsageRepair:
		return "repair"
	case UsageAnalysis:
		return "analysis"
	default:
		return "unknown"
	}
}

// IsBackground reports whether this usage type is a background class
// that must pass a non-zero reservation so streaming always has slack.
func (u UsageType) IsBackground() bool {
	switch u {
	case UsageQueue, UsageHealthCheck, UsageRepair:
		return true
	default:
		return false
	}
}

// OperationContext is the explicit usage-context value threaded through
// C1/C3/C5's public APIs alongside the cancellation handle. It is never
// carried via goroutine-local/ambient state; callers pass it down and
// propagate it onto derived, linked cancellation scopes explicitly.
type OperationContext struct {
	Usage       UsageType
	JobName     string
	AffinityKey string
	ItemID      string
}

// Reserved reports the reservation size this context should pass to
// Pool.Acquire, per spec: background classes reserve ceil(max/6) slots
// for streaming; streaming itself reserves nothing.
func (oc OperationContext) Reserved(max int) int {
	if !oc.Usage.IsBackground() {
		return 0
	}
	return (max + 5) / 6
}

// ProviderPriority distinguishes primary providers (tried first) from
// backup providers (tried only once all primaries are exhausted).
type ProviderPriority int

const (
	PriorityPrimary ProviderPriority = iota
	PriorityBackup
)

// Provider is immutable after config load; mutated only on reconfigure.
type Provider struct {
	ID             string
	Host           string
	Port           int
	TLS            bool
	InsecureTLS    bool
	Username       string
	Password       string
	MaxConnections int
	Priority       ProviderPriority
}

// Segment is one NNTP article as referenced from an NzbFile. Segments
// are content-addressed: identical message-ids are identical bytes
// regardless of which provider served them. MessageID is stored in
// canonical form (no angle brackets); callers wrap on wire emission only.
type Segment struct {
	MessageID     string
	Ordinal       int
	Size          int64 // 0 == unknown, must be discovered via C4
	ProviderHint  string
}

// NzbFile is an ordered sequence of segments with declared display
// metadata. Produced by parsing an NZB; consumed during ingestion only.
type NzbFile struct {
	Subject  string
	Poster   string
	PostedAt time.Time
	Groups   []string
	Segments []Segment
}

// TotalSize sums the declared/discovered segment sizes.
func (f NzbFile) TotalSize() int64 {
	var total int64
	for _, s := range f.Segments {
		total += s.Size
	}
	return total
}

// ItemType enumerates the kinds of node in the virtual filesystem tree.
type ItemType int

const (
	ItemDirectory ItemType = iota
	ItemNzbFile
	ItemRarFile
	ItemMultipartFile
	ItemSymlink
)

func (t ItemType) String() string {
	switch t {
	case ItemDirectory:
		return "directory"
	case ItemNzbFile:
		return "nzb-file"
	case ItemRarFile:
		return "rar-file"
	case ItemMultipartFile:
		return "multipart-file"
	case ItemSymlink:
		return "symlink"
	default:
		return "unknown"
	}
}

// Item is a node in the virtual filesystem tree rooted at a synthetic
// root. Path uniqueness (name within ParentID) is enforced by the store.
type Item struct {
	ID              string
	ParentID        string
	Type            ItemType
	Name            string
	Size            int64
	CreatedAt       time.Time
	ReleaseDate     time.Time
	IsCorrupted     bool
	LastHealthCheck *time.Time
	NextHealthCheck *time.Time
}

// IdPrefix returns the first two hex digits of the item id, used to
// shard directory enumeration over backing storage.
func IdPrefix(id string) string {
	if len(id) < 2 {
		return id
	}
	return id[:2]
}

// ByteRange is an inclusive-exclusive [Start, End) span.
type ByteRange struct {
	Start, End int64
}

func (r ByteRange) Len() int64 { return r.End - r.Start }

// FilePart is one contiguous byte span within a logical file, backed by
// a range inside a specific NzbFile's bytes.
type FilePart struct {
	SegmentIDs []string
	// SegmentSizes is parallel to SegmentIDs; packed as 64-bit sizes.
	SegmentSizes []int64
	Range        ByteRange // byte-range-within-part
	PartSize     int64
}

// AesParams carries the (key, iv, block-size) parameters for the C7
// AES-CTR decoding wrapper.
type AesParams struct {
	Key       []byte
	IV        []byte
	BlockSize int
}

// MultipartFile is a logical file whose bytes span several underlying
// NzbFiles, each contributing one or more FileParts.
type MultipartFile struct {
	Parts          []FilePart
	Aes            *AesParams
	ObfuscationKey []byte // RAR-XOR deobfuscation key, nil if not obfuscated
}

// QueuePriority orders pending ingestion jobs; higher values run first.
type QueuePriority int

// QueueItem is a pending ingestion job awaiting processing by C8.
type QueueItem struct {
	ID         string
	JobName    string
	Filename   string
	Category   string
	Priority   QueuePriority
	CreatedAt  time.Time
	PauseUntil *time.Time
}

// Ready reports whether the queue item may be selected for processing
// now (not paused into the future).
func (q QueueItem) Ready(now time.Time) bool {
	return q.PauseUntil == nil || !q.PauseUntil.After(now)
}
