package store

// Command is the closed set of messages accepted by Store.Dispatch.
type Command interface {
	command()
}

// Load replaces the confirmed table and clears all pending state.
type Load struct {
	Items []Group
}

// Add folds items into the confirmed table.
type Add struct {
	Items []Group
}

// Remove deletes a group from the confirmed table.
type Remove struct {
	ID string
}

// AssignStart records an optimistic assignee change for one group.
type AssignStart struct {
	ChangeID string
	ID       string
	Patch    Patch
}

// AssignSuccess folds the server's copy of the group into the table.
type AssignSuccess struct {
	ChangeID string
	ID       string
	Response Group
}

// AssignError rolls back the optimistic assignee change. Silent suppresses
// the user notification.
type AssignError struct {
	ChangeID string
	ID       string
	Err      error
	Silent   bool
}

// UpdateStart records an optimistic patch for each id. A nil IDs means every
// group known at dispatch time.
type UpdateStart struct {
	ChangeID string
	IDs      []string
	Patch    Patch
}

// UpdateSuccess folds the authoritative response into each id.
type UpdateSuccess struct {
	ChangeID string
	IDs      []string
	Response Patch
}

// UpdateError rolls back the patch. Silent suppresses the user notification.
type UpdateError struct {
	ChangeID string
	IDs      []string
	Err      error
	Silent   bool
}

// DeleteStart marks ids as being deleted.
type DeleteStart struct {
	ChangeID string
	IDs      []string
}

// DeleteSuccess removes ids from the confirmed table.
type DeleteSuccess struct {
	ChangeID string
	IDs      []string
}

// DeleteError clears the delete status. Silent suppresses the user
// notification.
type DeleteError struct {
	ChangeID string
	IDs      []string
	Err      error
	Silent   bool
}

// MergeStart marks ids as being merged.
type MergeStart struct {
	ChangeID string
	IDs      []string
}

// MergeSuccess collapses ids into Parent. Every merged id other than Parent
// leaves the confirmed table.
type MergeSuccess struct {
	ChangeID string
	IDs      []string
	Parent   string
}

// MergeError clears the merge status. Silent suppresses the user
// notification.
type MergeError struct {
	ChangeID string
	IDs      []string
	Err      error
	Silent   bool
}

func (Load) command()          {}
func (Add) command()           {}
func (Remove) command()        {}
func (AssignStart) command()   {}
func (AssignSuccess) command() {}
func (AssignError) command()   {}
func (UpdateStart) command()   {}
func (UpdateSuccess) command() {}
func (UpdateError) command()   {}
func (DeleteStart) command()   {}
func (DeleteSuccess) command() {}
func (DeleteError) command()   {}
func (MergeStart) command()    {}
func (MergeSuccess) command()  {}
func (MergeError) command()    {}
