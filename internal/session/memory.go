// ABOUTME: In-memory session backend for tests and ephemeral embedders
// ABOUTME: Record lives only as long as the process

package session

import "context"

type memoryBlob struct {
	data []byte
}

// NewMemoryStore returns a Store that keeps the record in process memory.
// Nothing survives a restart; useful for tests and kiosk-style embedders
// that should never persist anything.
func NewMemoryStore() Store {
	return newBlobStore(&memoryBlob{}, "session")
}

func (m *memoryBlob) load(ctx context.Context) ([]byte, error) {
	if m.data == nil {
		return nil, nil
	}
	out := make([]byte, len(m.data))
	copy(out, m.data)
	return out, nil
}

func (m *memoryBlob) store(ctx context.Context, data []byte) error {
	m.data = make([]byte, len(data))
	copy(m.data, data)
	return nil
}

func (m *memoryBlob) close() error {
	return nil
}
