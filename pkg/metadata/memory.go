package metadata

import (
	"context"
	"sort"
	"sync"
)

// Memory is the in-process registry used by tests and single-node runs
// that do not need durability.
type Memory struct {
	mu            sync.RWMutex
	datasets      map[string]DatasetRow
	reports       map[string][]ReportRow
	subscriptions map[string]SubscriptionRow
}

func NewMemory() *Memory {
	return &Memory{
		datasets:      make(map[string]DatasetRow),
		reports:       make(map[string][]ReportRow),
		subscriptions: make(map[string]SubscriptionRow),
	}
}

var _ Store = (*Memory)(nil)

func (m *Memory) UpsertDataset(_ context.Context, row DatasetRow) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.datasets[row.Name] = row
	return nil
}

func (m *Memory) GetDataset(_ context.Context, name string) (*DatasetRow, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	row, ok := m.datasets[name]
	if !ok {
		return nil, nil
	}
	return &row, nil
}

func (m *Memory) ListDatasets(_ context.Context) ([]DatasetRow, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]DatasetRow, 0, len(m.datasets))
	for _, row := range m.datasets {
		out = append(out, row)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (m *Memory) RecordReport(_ context.Context, row ReportRow) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.reports[row.Dataset] = append(m.reports[row.Dataset], row)
	return nil
}

func (m *Memory) ListReports(_ context.Context, dataset string, limit int) ([]ReportRow, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	all := m.reports[dataset]
	out := make([]ReportRow, 0, len(all))
	for i := len(all) - 1; i >= 0; i-- { // newest first
		out = append(out, all[i])
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out, nil
}

func (m *Memory) UpsertSubscription(_ context.Context, row SubscriptionRow) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.subscriptions[row.Dataset+"\x00"+row.Consumer] = row
	return nil
}

func (m *Memory) GetSubscription(_ context.Context, dataset, consumer string) (*SubscriptionRow, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	row, ok := m.subscriptions[dataset+"\x00"+consumer]
	if !ok {
		return nil, nil
	}
	return &row, nil
}

func (m *Memory) Close() error { return nil }
