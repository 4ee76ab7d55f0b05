package monitor

// Store is the persistence abstraction for channel tracking state.
// Implementations can be in-memory, file-based, or remote.
// The Tracker uses Store for all reads and writes; callers of Tracker
// do not need to know which Store is used.
type Store interface {
	GetChannel(name ChannelName) (*ChannelState, bool)
	SetChannel(st *ChannelState)
	ListChannels() []ChannelName
}

// InMemoryStore is an in-memory implementation of Store.
type InMemoryStore struct {
	channels map[ChannelName]*ChannelState
}

// NewInMemoryStore returns a new empty in-memory store.
func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{
		channels: make(map[ChannelName]*ChannelState),
	}
}

// GetChannel implements Store.GetChannel.
func (s *InMemoryStore) GetChannel(name ChannelName) (*ChannelState, bool) {
	st, ok := s.channels[name]
	return st, ok
}

// SetChannel implements Store.SetChannel.
func (s *InMemoryStore) SetChannel(st *ChannelState) {
	s.channels[st.Name] = st
}

// ListChannels implements Store.ListChannels.
func (s *InMemoryStore) ListChannels() []ChannelName {
	names := make([]ChannelName, 0, len(s.channels))
	for name := range s.channels {
		names = append(names, name)
	}
	return names
}
