package core

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
)

// Manager starts and stops the hosts of all configured workers together.
type Manager struct {
	hosts map[string]*Host
	mu    sync.RWMutex
}

func NewManager() *Manager {
	return &Manager{
		hosts: make(map[string]*Host),
	}
}

func (m *Manager) Register(host *Host) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.hosts[host.Name()]; exists {
		return fmt.Errorf("worker %s already registered", host.Name())
	}

	m.hosts[host.Name()] = host
	return nil
}

func (m *Manager) Unregister(name string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.hosts, name)
}

func (m *Manager) Get(name string) (*Host, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	host, exists := m.hosts[name]
	return host, exists
}

func (m *Manager) snapshot() []*Host {
	m.mu.RLock()
	defer m.mu.RUnlock()
	hosts := make([]*Host, 0, len(m.hosts))
	for _, host := range m.hosts {
		hosts = append(hosts, host)
	}
	return hosts
}

// StartAll runs every host and blocks until all of them returned. Errors of
// individual hosts are joined.
func (m *Manager) StartAll(ctx context.Context) error {
	hosts := m.snapshot()

	var wg sync.WaitGroup
	errChan := make(chan error, len(hosts))

	for _, host := range hosts {
		wg.Add(1)
		go func(h *Host) {
			defer wg.Done()
			if err := h.Start(ctx); err != nil && !errors.Is(err, context.Canceled) {
				errChan <- fmt.Errorf("worker %s failed: %w", h.Name(), err)
			}
		}(host)
	}

	wg.Wait()
	close(errChan)

	var errs []error
	for err := range errChan {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

func (m *Manager) StopAll(ctx context.Context) error {
	hosts := m.snapshot()

	var wg sync.WaitGroup
	errChan := make(chan error, len(hosts))

	for _, host := range hosts {
		wg.Add(1)
		go func(h *Host) {
			defer wg.Done()
			if err := h.Stop(ctx); err != nil {
				errChan <- err
			}
		}(host)
	}

	wg.Wait()
	close(errChan)

	var errs []error
	for err := range errChan {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

func (m *Manager) List() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()

	names := make([]string, 0, len(m.hosts))
	for name := range m.hosts {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
