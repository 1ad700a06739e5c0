package sdd

// Request asks the Runner to run one command for one task.
// Paths are absolute; TaskID is passed through to the script verbatim.
type Request struct {
	Command     Command `json:"command"`
	TaskID      string  `json:"task_id"`
	SpecPath    string  `json:"spec_path"`
	ProjectPath string  `json:"project_path"`
}

// NewRequest builds a Request from wire values, rejecting unknown command names
// before anything else is looked at.
func NewRequest(command, taskID, specPath, projectPath string) (Request, error) {
	c, err := ParseCommand(command)
	if err != nil {
		return Request{}, err
	}
	return Request{
		Command:     c,
		TaskID:      taskID,
		SpecPath:    specPath,
		ProjectPath: projectPath,
	}, nil
}
