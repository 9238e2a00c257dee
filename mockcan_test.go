package canopen

// mockCAN is a CANDriver that never touches real hardware: Send appends to
// a history slice, Read drains a preloaded queue. Used throughout the
// package's tests to drive Node/sdoServer/sdoClient without SocketCAN.
type mockCAN struct {
	sent []Frame
	rx   []Frame
}

func (m *mockCAN) Init() error                 { return nil }
func (m *mockCAN) Enable(uint32) error          { return nil }
func (m *mockCAN) Reset() error                 { return nil }
func (m *mockCAN) Close() error                 { return nil }
func (m *mockCAN) Send(f Frame) error           { m.sent = append(m.sent, f); return nil }

func (m *mockCAN) Read() (Frame, bool, error) {
	if len(m.rx) == 0 {
		return Frame{}, false, nil
	}
	f := m.rx[0]
	m.rx = m.rx[1:]
	return f, true, nil
}

func (m *mockCAN) queue(f Frame) { m.rx = append(m.rx, f) }

func (m *mockCAN) lastSent() Frame { return m.sent[len(m.sent)-1] }

func newTestNode(od *ObjectDictionary, limits Limits) (*Node, *mockCAN) {
	can := &mockCAN{}
	n, err := NewNode(0x20, od, can, nil, nil, limits)
	if err != nil {
		panic(err)
	}
	return n, can
}

// fakeNVM is an in-memory NVMDriver for tests that exercise parameter
// group save/restore without pulling in the nvmdrv package (which imports
// this one).
type fakeNVM struct {
	data [256]byte
}

func (f *fakeNVM) Init() error { return nil }

func (f *fakeNVM) Read(offset uint32, buffer []byte) (int, error) {
	return copy(buffer, f.data[offset:]), nil
}

func (f *fakeNVM) Write(offset uint32, buffer []byte) (int, error) {
	return copy(f.data[offset:], buffer), nil
}

func newTestNodeWithNVM(od *ObjectDictionary, limits Limits) (*Node, *mockCAN, *fakeNVM) {
	can := &mockCAN{}
	nvm := &fakeNVM{}
	n, err := NewNode(0x20, od, can, nil, nvm, limits)
	if err != nil {
		panic(err)
	}
	return n, can, nvm
}
