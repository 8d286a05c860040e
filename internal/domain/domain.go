package domain

// Request statuses. A request only ever moves forward through this
// vocabulary; Transitions below is the single source of truth consumed by
// the engine, the API, the admin view, and the CLI.
const (
	StatusPaid        = "PAID"
	StatusApproved    = "APPROVED"
	StatusRunStarted  = "RUN_STARTED"
	StatusReportReady = "REPORT_READY"
	StatusDelivered   = "DELIVERED"
	StatusArchived    = "ARCHIVED"
)

type Request struct {
	ID           string  `json:"id"`
	ClientName   string  `json:"client_name"`
	ClientEmail  string  `json:"client_email"`
	GrantName    string  `json:"grant_name"`
	Applicant    string  `json:"applicant,omitempty"`
	Purpose      string  `json:"purpose,omitempty"`
	UseOfFunds   string  `json:"use_of_funds,omitempty"`
	Deadline     string  `json:"deadline,omitempty"`
	Jurisdiction string  `json:"jurisdiction,omitempty"`
	Status       string  `json:"status" enum:"PAID,APPROVED,RUN_STARTED,REPORT_READY,DELIVERED,ARCHIVED"`
	ArtifactPath *string `json:"artifact_path,omitempty"`
	CreatedAt    string  `json:"created_at" format:"date-time"`
	ReportAt     *string `json:"report_at,omitempty" format:"date-time"`
	DeliveredAt  *string `json:"delivered_at,omitempty" format:"date-time"`
	ArchivedAt   *string `json:"archived_at,omitempty" format:"date-time"`
}

// Transitions maps each status to the statuses it may advance to. No
// transition ever regresses; delete is allowed from any state and is not a
// transition.
var Transitions = map[string][]string{
	StatusPaid:        {StatusRunStarted},
	StatusApproved:    {StatusRunStarted},
	StatusRunStarted:  {StatusReportReady},
	StatusReportReady: {StatusDelivered, StatusArchived},
	StatusDelivered:   {StatusArchived},
	StatusArchived:    {},
}

// ValidStatus reports whether s is part of the lifecycle vocabulary.
func ValidStatus(s string) bool {
	_, ok := Transitions[s]
	return ok
}

// CanTransition reports whether a request may move from one status to
// another in a single step.
func CanTransition(from, to string) bool {
	for _, next := range Transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// Runnable reports whether the run operation is valid for the status.
func Runnable(status string) bool {
	return status == StatusPaid || status == StatusApproved
}

// Actions are the operator actions valid for a request in its current state.
type Actions struct {
	Run      bool `json:"run"`
	Deliver  bool `json:"deliver"`
	Archive  bool `json:"archive"`
	Download bool `json:"download"`
	Delete   bool `json:"delete"`
}

// ActionsFor derives the valid operator actions for a request. Both the
// mutation endpoints and the admin table render from this so the guards
// cannot drift.
func ActionsFor(r Request) Actions {
	return Actions{
		Run:      Runnable(r.Status),
		Deliver:  r.Status == StatusReportReady,
		Archive:  r.Status == StatusReportReady || r.Status == StatusDelivered,
		Download: r.ArtifactPath != nil && *r.ArtifactPath != "",
		Delete:   true,
	}
}

// Grant is one catalog entry discovery matches profiles against.
type Grant struct {
	ID               string   `json:"id"`
	Name             string   `json:"name"`
	Organization     string   `json:"organization"`
	MinAmount        int      `json:"min_amount"`
	MaxAmount        int      `json:"max_amount"`
	Locations        []string `json:"eligible_locations"`
	ApplicantTypes   []string `json:"eligible_applicant_types"`
	Sectors          []string `json:"sectors"`
	RequiredSections []string `json:"required_sections"`
	Deadline         string   `json:"deadline"`
	SourceURL        string   `json:"source_url,omitempty"`
	LastVerifiedAt   string   `json:"last_verified_at,omitempty"`
}

// Profile is the applicant-supplied discovery input.
type Profile struct {
	Location      string `json:"location,omitempty"`
	ApplicantType string `json:"applicant_type,omitempty"`
	Sector        string `json:"sector,omitempty"`
	AmountNeeded  int    `json:"amount_needed,omitempty"`
}

// Match is one scored discovery result.
type Match struct {
	Grant Grant  `json:"grant"`
	Score int    `json:"score"`
	Band  string `json:"band" enum:"Likely Match,Possible Match,Low Match"`
}

type Event struct {
	ID        int64  `json:"id"`
	TS        string `json:"ts" format:"date-time"`
	Type      string `json:"type"`
	RequestID string `json:"request_id,omitempty"`
	ActorID   string `json:"actor_id"`
	Payload   string `json:"payload_json"`
}
