package router

// History is the browser session history.
type History interface {
	Push(state State, title, url string)
	Replace(state State, title, url string)
}

// Window is the part of the browser window the router drives.
type Window interface {
	ScrollY() int
	ScrollTo(y int)
	SetTitle(title string)
	Online() bool
}

// SearchBox is the site search input.
type SearchBox interface {
	Clear()
}

// HistoryEntry is one entry of MemoryHistory.
type HistoryEntry struct {
	State State
	Title string
	URL   string
}

// MemoryHistory is a History kept in memory, with back and forward.
type MemoryHistory struct {
	Entries []HistoryEntry
	index   int
}

// NewMemoryHistory returns an empty history.
func NewMemoryHistory() *MemoryHistory {
	return &MemoryHistory{index: -1}
}

// Push implements History. Forward entries are discarded.
func (h *MemoryHistory) Push(state State, title, url string) {
	h.Entries = append(h.Entries[:h.index+1], HistoryEntry{State: state.clone(), Title: title, URL: url})
	h.index++
}

// Replace implements History.
func (h *MemoryHistory) Replace(state State, title, url string) {
	if h.index < 0 {
		h.Push(state, title, url)
		return
	}
	h.Entries[h.index] = HistoryEntry{State: state.clone(), Title: title, URL: url}
}

// Current returns the active entry.
func (h *MemoryHistory) Current() (HistoryEntry, bool) {
	if h.index < 0 {
		return HistoryEntry{}, false
	}
	return h.Entries[h.index], true
}

// Back moves to the previous entry and returns its state.
func (h *MemoryHistory) Back() (State, bool) {
	if h.index <= 0 {
		return State{}, false
	}
	h.index--
	return h.Entries[h.index].State.clone(), true
}

// Forward moves to the next entry and returns its state.
func (h *MemoryHistory) Forward() (State, bool) {
	if h.index+1 >= len(h.Entries) {
		return State{}, false
	}
	h.index++
	return h.Entries[h.index].State.clone(), true
}

// MemoryWindow is a Window kept in memory.
type MemoryWindow struct {
	Y       int
	Title   string
	Offline bool
	// Scrolls records every ScrollTo call.
	Scrolls []int
}

func (w *MemoryWindow) ScrollY() int { return w.Y }

func (w *MemoryWindow) ScrollTo(y int) {
	w.Y = y
	w.Scrolls = append(w.Scrolls, y)
}

func (w *MemoryWindow) SetTitle(title string) { w.Title = title }

func (w *MemoryWindow) Online() bool { return !w.Offline }

// MemorySearchBox is a SearchBox kept in memory.
type MemorySearchBox struct {
	Value string
}

func (s *MemorySearchBox) Clear() { s.Value = "" }
