package accel

import (
	"strings"

	"github.com/launchdarkly/go-jsonstream/v3/jwriter"
	"github.com/vkngwrapper/rtas/memutils"
	"github.com/vkngwrapper/rtas/suballoc"
	"golang.org/x/text/language"
	"golang.org/x/text/message"
)

var telemetryPrinter = message.NewPrinter(language.English)

// PoolStatistics summarizes one of the Manager's suballocation pools
type PoolStatistics struct {
	Name                string
	Usage               suballoc.UsageClass
	BlockSize           int
	BlockCount          int
	AllocationCount     int
	SizeBytes           int
	FreeBytes           int
	AlignmentWasteBytes int
}

// Statistics is a snapshot of the Manager's counters, queues and pools
type Statistics struct {
	FrameIndex uint64
	Records    int

	CompactionPending int
	BuildComplete     int
	ReleasePending    int

	UncompactedBytes         int
	CompactedBytes           int
	TransientCompactionBytes int
	CompactionBudget         int

	Pools []PoolStatistics
	Total memutils.Statistics
}

func (m *Manager) Statistics() Statistics {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	return m.statistics()
}

func (m *Manager) statistics() Statistics {
	stats := Statistics{
		FrameIndex:               m.frameIndex,
		Records:                  m.records.Len(),
		CompactionPending:        m.compactionPending.Len(),
		BuildComplete:            m.buildComplete.Len(),
		ReleasePending:           m.releasePending.Len(),
		UncompactedBytes:         m.uncompactedBytes,
		CompactedBytes:           m.compactedBytes,
		TransientCompactionBytes: m.transientCompactionBytes,
		CompactionBudget:         m.compactionBudget,
	}

	for _, pool := range m.pools {
		if pool == nil {
			continue
		}

		stats.Pools = append(stats.Pools, PoolStatistics{
			Name:                pool.Name(),
			Usage:               pool.Usage(),
			BlockSize:           pool.BlockSize(),
			BlockCount:          pool.BlockCount(),
			AllocationCount:     pool.AllocationCount(),
			SizeBytes:           pool.PoolSizeBytes(),
			FreeBytes:           pool.FreeBytes(),
			AlignmentWasteBytes: pool.AlignmentWasteBytes(),
		})
		pool.AddStatistics(&stats.Total)
	}

	return stats
}

// Telemetry returns a human-readable summary of the Manager's memory, rebuilt by every NextFrame
func (m *Manager) Telemetry() string {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	return m.telemetry
}

func (m *Manager) rebuildTelemetry() {
	stats := m.statistics()

	var sb strings.Builder
	sb.WriteString(telemetryPrinter.Sprintf("Frame %d: %d structures (%d compacting, %d completing, %d releasing)\n",
		stats.FrameIndex, stats.Records, stats.CompactionPending, stats.BuildComplete, stats.ReleasePending))
	sb.WriteString(telemetryPrinter.Sprintf("Uncompacted: %d B  Compacted: %d B  Transient: %d B / %d B\n",
		stats.UncompactedBytes, stats.CompactedBytes, stats.TransientCompactionBytes, stats.CompactionBudget))

	for _, pool := range stats.Pools {
		sb.WriteString(telemetryPrinter.Sprintf("%-24s blocks %d  size %d B  free %d B  waste %d B\n",
			pool.Name, pool.BlockCount, pool.SizeBytes, pool.FreeBytes, pool.AlignmentWasteBytes))
	}

	m.telemetry = sb.String()
}

func writeStatistics(json *jwriter.ObjectState, stats *memutils.DetailedStatistics) {
	json.Name("BlockCount").Int(stats.BlockCount)
	json.Name("BlockBytes").Int(stats.BlockBytes)
	json.Name("AllocationCount").Int(stats.AllocationCount)
	json.Name("AllocationBytes").Int(stats.AllocationBytes)
	json.Name("WastedBytes").Int(stats.WastedBytes)
	json.Name("UnusedRangeCount").Int(stats.UnusedRangeCount)

	if stats.AllocationCount > 0 {
		json.Name("AllocationSizeMin").Int(stats.AllocationSizeMin)
		json.Name("AllocationSizeMax").Int(stats.AllocationSizeMax)
	}
	if stats.UnusedRangeCount > 0 {
		json.Name("UnusedRangeSizeMin").Int(stats.UnusedRangeSizeMin)
		json.Name("UnusedRangeSizeMax").Int(stats.UnusedRangeSizeMax)
	}
}

// BuildStatsString returns a json document describing the Manager's counters and pools. When
// detailed is true, it also includes a map of every pool block and every structure.
func (m *Manager) BuildStatsString(detailed bool) string {
	m.logger.Debug("Manager::BuildStatsString")

	m.mutex.Lock()
	defer m.mutex.Unlock()

	writer := jwriter.NewWriter()
	rootObj := writer.Object()

	rootObj.Name("FrameIndex").Int(int(m.frameIndex))

	countersObj := rootObj.Name("Counters").Object()
	countersObj.Name("UncompactedBytes").Int(m.uncompactedBytes)
	countersObj.Name("CompactedBytes").Int(m.compactedBytes)
	countersObj.Name("TransientCompactionBytes").Int(m.transientCompactionBytes)
	countersObj.Name("CompactionBudget").Int(m.compactionBudget)
	countersObj.End()

	queuesObj := rootObj.Name("Queues").Object()
	queuesObj.Name("CompactionPending").Int(m.compactionPending.Len())
	queuesObj.Name("BuildComplete").Int(m.buildComplete.Len())
	queuesObj.Name("ReleasePending").Int(m.releasePending.Len())
	queuesObj.End()

	var total memutils.DetailedStatistics
	total.Clear()

	poolsObj := rootObj.Name("Pools").Object()
	for _, pool := range m.pools {
		if pool == nil {
			continue
		}

		var stats memutils.DetailedStatistics
		stats.Clear()
		pool.AddDetailedStatistics(&stats)
		total.AddDetailedStatistics(&stats)

		poolObj := poolsObj.Name(pool.Name()).Object()
		poolObj.Name("Usage").String(pool.Usage().String())
		poolObj.Name("Memory").String(pool.Memory().String())

		statsObj := poolObj.Name("Stats").Object()
		writeStatistics(&statsObj, &stats)
		statsObj.End()

		if detailed {
			pool.PrintDetailedMap(poolObj.Name("Blocks"))
		}
		poolObj.End()
	}
	poolsObj.End()

	totalObj := rootObj.Name("Total").Object()
	writeStatistics(&totalObj, &total)
	totalObj.End()

	if detailed {
		recordsArr := rootObj.Name("Records").Array()
		m.records.Visit(func(id RecordID, record *Record) bool {
			recordObj := recordsArr.Object()
			recordObj.Name("ID").String(id.String())
			recordObj.Name("Name").String(record.name)
			recordObj.Name("State").String(record.state.String())
			recordObj.Name("FrameIndexRequest").Int(int(record.frameIndexRequest))
			recordObj.Name("ResultSize").Int(record.resultSize)
			recordObj.Name("RequestedCompaction").Bool(record.requestedCompaction)
			recordObj.Name("IsCompacted").Bool(record.isCompacted)
			if record.isCompacted {
				recordObj.Name("CompactedSize").Int(record.compactedSize)
			}
			recordObj.Name("RemoveRequested").Bool(record.removeRequested)
			recordObj.End()
			return true
		})
		recordsArr.End()
	}

	rootObj.End()

	return string(writer.Bytes())
}
