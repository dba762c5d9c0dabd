package state

// a bitmap representing a set of capabilities
type Permission uint64

const (
	PermCollaborate     Permission = 1 << iota // join the task topic and mutate own tasks
	PermObservePresence                        // 2
	PermReceiveReports                         // 4
)

type Role string

const (
	RoleRegular Role = "regular"
	RoleAdmin   Role = "admin"
)

var rolePerms = map[Role]Permission{
	RoleRegular: PermCollaborate,
	RoleAdmin:   PermCollaborate | PermObservePresence | PermReceiveReports,
}

// Permissions returns the capability bitmap granted to the role. Unknown roles get nothing.
func (r Role) Permissions() Permission {
	return rolePerms[r]
}

func (p Permission) Has(flag Permission) bool {
	return p&flag == flag
}
