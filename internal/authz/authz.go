// Package authz holds the single authorization policy of the service.
// Handlers and services never compare role strings themselves; they build an
// Actor and ask Evaluate.
package authz

// Role codes as issued by the account collaborator.
const (
	RoleOwner         = "OWNER"
	RoleAdministrator = "ADMINISTRATOR"
	RoleAccountant    = "ACCOUNTANT"
	RoleHeadAttendant = "HEAD_ATTENDANT"
	RoleAttendant     = "ATTENDANT"
	RoleRestricted    = "RESTRICTED"
)

// Roles lists every known role code.
var Roles = []string{
	RoleOwner, RoleAdministrator, RoleAccountant,
	RoleHeadAttendant, RoleAttendant, RoleRestricted,
}

type Action string

const (
	ActionViewSession    Action = "session:view"
	ActionOpenSession    Action = "session:open"
	ActionCloseSession   Action = "session:close"
	ActionRecordLoad     Action = "session:load"
	ActionRecordCash     Action = "session:cash"
	ActionSettleCredit   Action = "credit:settle"
	ActionViewReport     Action = "session:report"
	ActionManageTopology Action = "topology:manage"
	ActionViewTopology   Action = "topology:view"
)

type Decision int

const (
	Deny Decision = iota
	Allow
)

func (d Decision) String() string {
	if d == Allow {
		return "allow"
	}
	return "deny"
}

// Actor is the authenticated caller. BranchScope lists the branches the actor
// may act on; owners are not restricted by it.
type Actor struct {
	ProfileID   uint
	Role        string
	BranchScope []uint
}

// InScope reports whether branchID is in the actor's branch scope.
func (a Actor) InScope(branchID uint) bool {
	for _, b := range a.BranchScope {
		if b == branchID {
			return true
		}
	}
	return false
}

// grants maps each action to the roles allowed to perform it.
var grants = map[Action]map[string]bool{
	ActionViewSession: {
		RoleOwner: true, RoleAdministrator: true, RoleAccountant: true,
		RoleHeadAttendant: true, RoleAttendant: true,
	},
	ActionOpenSession: {
		RoleOwner: true, RoleAdministrator: true, RoleHeadAttendant: true,
	},
	ActionCloseSession: {
		RoleOwner: true, RoleAdministrator: true, RoleHeadAttendant: true,
	},
	ActionRecordLoad: {
		RoleOwner: true, RoleAdministrator: true, RoleHeadAttendant: true, RoleAttendant: true,
	},
	ActionRecordCash: {
		RoleOwner: true, RoleAdministrator: true, RoleHeadAttendant: true,
	},
	ActionSettleCredit: {
		RoleOwner: true, RoleAdministrator: true,
	},
	ActionViewReport: {
		RoleOwner: true, RoleAdministrator: true, RoleAccountant: true, RoleHeadAttendant: true,
	},
	ActionManageTopology: {
		RoleOwner: true, RoleAdministrator: true,
	},
	ActionViewTopology: {
		RoleOwner: true, RoleAdministrator: true, RoleAccountant: true,
		RoleHeadAttendant: true, RoleAttendant: true,
	},
}

// Evaluate decides whether actor may perform action on targetBranch.
// Unknown roles and unknown actions are denied. Owners act on any branch;
// every other role needs targetBranch in its scope.
func Evaluate(actor Actor, action Action, targetBranch uint) Decision {
	roles, ok := grants[action]
	if !ok || !roles[actor.Role] {
		return Deny
	}
	if actor.Role == RoleOwner {
		return Allow
	}
	if !actor.InScope(targetBranch) {
		return Deny
	}
	return Allow
}

// Allowed is shorthand for Evaluate(...) == Allow.
func Allowed(actor Actor, action Action, targetBranch uint) bool {
	return Evaluate(actor, action, targetBranch) == Allow
}
