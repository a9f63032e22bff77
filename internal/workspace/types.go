package workspace

// Info holds information about a created workspace
type Info struct {
	Path    string // Absolute path to the workspace directory
	Module  string // Module the workspace was created for
	RunID   string // Pipeline run that owns the workspace
	Attempt int    // Attempt number within the run
}

// ManagerConfig configures the workspace manager
type ManagerConfig struct {
	Root     string // Directory under which workspaces are created (default os.TempDir()/pipelined)
	KeepDirs bool   // Keep directories after cleanup (debugging aid)
}
