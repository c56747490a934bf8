package fsm

// ProvisionRequest is the FSM input. It is persisted by the FSM store, so it
// carries no secrets; the provisioning record is held by the Machine.
type ProvisionRequest struct {
	RunID       string
	Flavor      string
	Arch        string
	Hostname    string
	WaitForBoot bool
}

// ProvisionResponse is the FSM output (accumulated across transitions)
type ProvisionResponse struct {
	// From Resolve
	ImageFilename string
	ImageURL      string
	LiveCatalog   bool

	// From Fetch
	ImagePath string
	CacheHit  bool

	// From Confirm
	Device   string
	Capacity int64
	Boot     string
	Root     string

	// From Write
	BytesWritten int64

	// From Configure
	ConfigFile string
	OSName     string

	// From AwaitBoot
	Address     string
	BootTimeout bool

	// From Complete/Failed
	Status       string
	ErrorMessage string
}

// State names
const (
	StatePreflight = "preflight"
	StateResolve   = "resolve"
	StateFetch     = "fetch"
	StateConfirm   = "confirm"
	StateWrite     = "write"
	StateConfigure = "configure"
	StateAwaitBoot = "await_boot"
	StateComplete  = "complete"
	StateFailed    = "failed"
)
