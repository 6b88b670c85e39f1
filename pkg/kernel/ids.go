package kernel

// WorkspaceID is the tenant isolation boundary. Every job operation is
// scoped to exactly one workspace.
type WorkspaceID string

func NewWorkspaceID(id string) WorkspaceID { return WorkspaceID(id) }
func (w WorkspaceID) String() string       { return string(w) }
func (w WorkspaceID) IsEmpty() bool        { return string(w) == "" }

type UserID string

func NewUserID(id string) UserID { return UserID(id) }
func (u UserID) String() string  { return string(u) }
func (u UserID) IsEmpty() bool   { return string(u) == "" }
