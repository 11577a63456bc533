package txn

// Status is a transaction's lifecycle state while it remains registered in
// the Manager's txns map (§3).
type Status int

const (
	Live Status = iota
	WillAbort
)

func (s Status) String() string {
	if s == WillAbort {
		return "WILL_ABORT"
	}
	return "LIVE"
}

// Transaction is an in-flight begin/beginRO. It is removed from the
// registry once end() processes it (§4.3).
type Transaction struct {
	ID       string
	StartTS  int64
	ReadOnly bool
	Status   Status
}
