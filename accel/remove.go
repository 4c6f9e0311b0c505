package accel

// Remove schedules structures for release. Nothing is freed immediately: a resident structure
// is released once the commands of the current frame have retired, and a structure that is
// still being built or compacted is released after it finishes its current phase. A removed
// structure that has not been compacted yet will not be compacted.
//
// Ids that were already removed, or that are no longer owned by the Manager, are ignored.
func (m *Manager) Remove(ids ...RecordID) {
	m.logger.Debug("Manager::Remove")

	m.mutex.Lock()
	defer m.mutex.Unlock()

	if m.destroyed {
		return
	}

	for _, id := range ids {
		record := m.records.Get(id)
		if record == nil || record.removeRequested {
			continue
		}

		record.removeRequested = true

		switch record.state {
		case RecordResident:
			m.enqueueRelease(id, record)
		case RecordCompactionPending:
			record.requestedCompaction = false
		}
	}
}
